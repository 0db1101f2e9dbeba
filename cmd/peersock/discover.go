package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/peersock/internal/discovery"
)

func newDiscoverCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "list relay hubs advertised on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), a.browseTimeout)
			defer cancel()

			a.con.info.Printfln("browsing for %s relays for %s", discovery.ServiceType, a.browseTimeout)
			relays, err := discovery.Browse(ctx)
			if err != nil {
				return err
			}
			if len(relays) == 0 {
				a.con.warning.Println("no relay hubs found")
				return nil
			}
			return a.con.relays(relays)
		},
	}
}
