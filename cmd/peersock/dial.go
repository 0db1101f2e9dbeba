package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/peersock/internal/negotiation"
)

var errChannelClosed = errors.New("channel closed by peer")

func newDialCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dial <peer> <channel>",
		Short: "open a channel to a peer and send stdin lines",
		Long: `dial negotiates a data channel with the given peer id and sends each
line read from stdin as a text message. Messages from the peer are printed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			remoteID, name := args[0], args[1]

			ctx := cmd.Context()
			p, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			opened := make(chan *negotiation.Channel, 1)
			closed := make(chan struct{})
			var closeOnce sync.Once
			_, err = p.mgr.Initiate(ctx, remoteID, name, negotiation.ChannelHandlers{
				OnOpen:    func(ch *negotiation.Channel) { opened <- ch },
				OnMessage: a.con.received,
				OnClose:   func(*negotiation.Channel) { closeOnce.Do(func() { close(closed) }) },
			})
			if err != nil {
				return err
			}
			a.con.info.Printfln("dialing %s on %q as %s", remoteID, name, p.localID)

			// Backstop for the session's own negotiation deadline.
			wait := time.NewTimer(a.cfg.NegotiationTimeout + time.Second)
			defer wait.Stop()

			var ch *negotiation.Channel
			for ch == nil {
				select {
				case ch = <-opened:
				case nerr := <-p.failures:
					if nerr.SessionID == remoteID {
						return nerr
					}
				case <-wait.C:
					return fmt.Errorf("channel %q to %s did not open", name, remoteID)
				case <-p.done:
					return errSignalingClosed
				case <-ctx.Done():
					return nil
				}
			}
			a.con.success.Printfln("channel %q to %s open, type to send", name, remoteID)

			err = pumpLines(ctx, a.in, ch, closed)
			_ = ch.Close()
			return err
		},
	}
}

type textSender interface {
	SendText(text string) error
}

// pumpLines sends every non-empty line from r until r is exhausted, ctx ends
// or closed is closed.
func pumpLines(ctx context.Context, r io.Reader, s textSender, closed <-chan struct{}) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case line := <-lines:
			line = strings.TrimRight(line, "\r")
			if line == "" {
				continue
			}
			if err := s.SendText(line); err != nil {
				return err
			}
		case err := <-readErr:
			return err
		case <-closed:
			return errChannelClosed
		case <-ctx.Done():
			return nil
		}
	}
}
