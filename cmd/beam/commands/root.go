// Package commands wires the beam CLI: a root command carrying the
// global rendezvous/verbosity flags plus the send and receive roles.
package commands

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/halcyonix/beam/internal/config"
	"github.com/halcyonix/beam/internal/util"
)

var cfg = config.Default()

func Execute() error {
	root := &cobra.Command{
		Use:           "beam",
		Short:         "P2P encrypted file transfer over WebRTC",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if cfg.Verbose {
				util.EnableDebug()
			}
		},
	}

	root.PersistentFlags().StringVar(&cfg.ServerHost, "server", cfg.ServerHost, "rendezvous server host")
	root.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(sendCmd(), receiveCmd())

	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		return err
	}
	return nil
}
