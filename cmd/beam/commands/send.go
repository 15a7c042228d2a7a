package commands

import (
	"fmt"
	"os"

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

// send <file>: register at the rendezvous server, print the peer id and
// transfer key for out-of-band exchange, wait for the receiver's offer,
// then run the sending side of the transfer.
func sendCmd() *cobra.Command {
	var peerID string

	cmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Send a file to a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Role = config.RoleSend
			path := args[0]

			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("file not found: %s", path)
			}

			id := peerID
			if id == "" {
				id = peerid.Generate()
			} else if !peerid.Valid(id) {
				return fmt.Errorf("invalid peer id format: %q", id)
			}

			key, err := transfer.GenerateKey()
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			sig, err := signaling.Connect(ctx, id, cfg.ServerHost)
			if err != nil {
				return err
			}
			defer sig.Close()
			if err := sig.WaitForOpen(ctx); err != nil {
				return err
			}

			// The key never touches signaling or the data channel; the
			// operator conveys it over an independent trusted channel.
			pterm.Println()
			pterm.Printfln("Your peer ID:   %s", id)
			pterm.Printfln("Encryption key: %s", transfer.KeyToBase64(key))
			pterm.Println()
			pterm.Println("Share BOTH with the receiver. Waiting for connection...")
			pterm.Println()

			peer, err := rtc.NewPeer()
			if err != nil {
				return err
			}
			defer peer.Close()

			// The receiver initiates; the sender answers its offer.
			ch, err := session.Answer(ctx, sig, peer)
			if err != nil {
				return err
			}
			util.LogInfo("receiver connected")

			return transfer.NewSender(path, ch, ch.Inbox(), key).Run(ctx)
		},
	}

	cmd.Flags().StringVar(&peerID, "peer-id", "", "peer id to register (generated if omitted)")
	return cmd
}
