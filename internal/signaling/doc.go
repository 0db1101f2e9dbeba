// Package signaling defines the relay wire protocol and the transport-neutral
// envelope exchanged by negotiating peers.
//
// The relay never interprets an envelope's payload; only the destination id
// drives routing. Delivery is at-most-once with no ordering guarantee across
// distinct handler ids.
package signaling
