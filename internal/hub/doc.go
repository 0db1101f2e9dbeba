// Package hub implements the relay hub: a registry of connected endpoints that
// announces each arrival to everyone and forwards envelopes between exactly
// two endpoints by id.
//
// All registry state is owned by the goroutine running Hub.Run.
package hub
