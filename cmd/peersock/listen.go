package main

import (
	petname "github.com/dustinkirkland/golang-petname"
	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/peersock/internal/negotiation"
)

func newListenCmd(a *app) *cobra.Command {
	var echo bool
	cmd := &cobra.Command{
		Use:   "listen [channel]",
		Short: "accept channels from any peer",
		Long: `listen waits for peers to open the named channel and prints every
message they send. Without a channel name a random one is chosen.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := petname.Generate(2, "-")
			if len(args) == 1 {
				name = args[0]
			}

			ctx := cmd.Context()
			p, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			err = p.mgr.Listen(name, negotiation.ChannelHandlers{
				OnOpen: func(ch *negotiation.Channel) {
					a.con.success.Printfln("peer %s opened %q", ch.RemoteID(), ch.Name())
				},
				OnMessage: func(msg negotiation.Message) {
					a.con.received(msg)
					if echo {
						if err := msg.Channel.Send(msg.Data); err != nil {
							a.con.warning.Printfln("echo to %s: %v", msg.Channel.RemoteID(), err)
						}
					}
				},
				OnClose: func(ch *negotiation.Channel) {
					a.con.info.Printfln("peer %s closed %q", ch.RemoteID(), ch.Name())
				},
			})
			if err != nil {
				return err
			}
			a.con.success.Printfln("listening as %s on channel %q", p.localID, name)

			select {
			case <-ctx.Done():
				return nil
			case <-p.done:
				return errSignalingClosed
			}
		},
	}
	cmd.Flags().BoolVar(&echo, "echo", false, "Send every received message back to its sender")
	return cmd
}
