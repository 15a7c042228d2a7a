package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/halcyonix/beam/internal/config"
	"github.com/halcyonix/beam/internal/peerid"
	"github.com/halcyonix/beam/internal/rtc"
	"github.com/halcyonix/beam/internal/session"
	"github.com/halcyonix/beam/internal/signaling"
	"github.com/halcyonix/beam/internal/transfer"
	"github.com/halcyonix/beam/internal/util"
)

// receive <peer-id>: prompt for the out-of-band transfer key, offer a
// session to the sender, then run the receiving side of the transfer.
func receiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receive <peer-id>",
		Short: "Receive a file from a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Role = config.RoleReceive
			remoteID := args[0]

			if !peerid.Valid(remoteID) {
				return fmt.Errorf("invalid peer id format: %q", remoteID)
			}

			keyB64, _ := pterm.DefaultInteractiveTextInput.
				WithDefaultText("Encryption key (from the sender)").
				Show()
			key, err := transfer.KeyFromBase64(keyB64)
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			sig, err := signaling.Connect(ctx, peerid.Generate(), cfg.ServerHost)
			if err != nil {
				return err
			}
			defer sig.Close()
			if err := sig.WaitForOpen(ctx); err != nil {
				return err
			}

			pterm.Printfln("Connecting to peer %s...", remoteID)

			peer, err := rtc.NewPeer()
			if err != nil {
				return err
			}
			defer peer.Close()

			ch, err := session.Offer(ctx, sig, peer, remoteID)
			if err != nil {
				return err
			}
			util.LogInfo("connected to %s", remoteID)

			outputPath, err := transfer.NewReceiver(cfg.OutputDir, ch, ch.Inbox(), key).Run(ctx)
			if err != nil {
				return err
			}

			pterm.Println()
			pterm.Printfln("File saved to: %s", outputPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&cfg.OutputDir, "output", "o", cfg.OutputDir, "output directory")
	return cmd
}
