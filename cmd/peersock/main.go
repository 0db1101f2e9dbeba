// Command peersock opens WebRTC data channels to other peers, using a relay
// hub or an MQTT broker for signaling.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(os.Stdin, os.Stdout, os.Stderr, os.LookupEnv)
	root, err := newRootCmd(a)
	if err != nil {
		a.con.failure.Println(err)
		os.Exit(2)
	}
	if err := root.ExecuteContext(ctx); err != nil {
		a.con.failure.Println(err)
		os.Exit(1)
	}
}
