package main

import (
	"io"
	"log/slog"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/peersock/internal/config"
)

const defaultBrowseTimeout = 3 * time.Second

// app carries the state shared by every subcommand. cfg and log are filled
// in once flags have been parsed.
type app struct {
	in     io.Reader
	errOut io.Writer
	lookup func(string) (string, bool)
	con    *console

	flags         *config.Flags
	cfg           config.Config
	log           *slog.Logger
	peerID        string
	relayMDNS     bool
	browseTimeout time.Duration
}

func newApp(in io.Reader, out, errOut io.Writer, lookup func(string) (string, bool)) *app {
	return &app{
		in:     in,
		errOut: errOut,
		lookup: lookup,
		con:    newConsole(out),
	}
}

func newRootCmd(a *app) (*cobra.Command, error) {
	root := &cobra.Command{
		Use:   "peersock",
		Short: "open WebRTC data channels between peers",
		Long: `peersock connects to other peers over WebRTC data channels. Offers,
answers and ICE candidates are exchanged through a peersock relay hub
(--relay-url) or an MQTT broker (--mqtt-broker).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.configure()
		},
	}

	flags, err := config.BindFlags(root.PersistentFlags(), a.lookup)
	if err != nil {
		return nil, err
	}
	a.flags = flags
	root.PersistentFlags().StringVar(&a.peerID, "peer-id", "", "Local peer id when signaling over MQTT (default: a random name)")
	root.PersistentFlags().BoolVar(&a.relayMDNS, "relay-mdns", false, "Find the relay hub on the local network instead of using --relay-url")
	root.PersistentFlags().DurationVar(&a.browseTimeout, "browse-timeout", defaultBrowseTimeout, "How long to search for relay hubs over mDNS")

	root.AddCommand(newListenCmd(a), newDialCmd(a), newDiscoverCmd(a))
	return root, nil
}

func (a *app) configure() error {
	cfg, err := a.flags.Config()
	if err != nil {
		return err
	}
	logger, err := config.NewLoggerTo(a.errOut, cfg)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger
	if a.peerID == "" {
		a.peerID = petname.Generate(2, "-")
	}
	return nil
}
