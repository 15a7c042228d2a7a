// Package transfer implements the secure chunked file transfer protocol
// run over an opened data channel: binary wire framing, per-chunk
// authenticated encryption, and the stop-and-wait sender/receiver engines.
package transfer

import (
	"context"
	"errors"

	"github.com/halcyonix/beam/internal/util"
)

// ErrChannelClosed reports that the inbound message queue drained and
// closed, meaning the data channel (or the task feeding it) collapsed.
var ErrChannelClosed = errors.New("data channel closed")

// ErrCleartextMetadata reports a protocol downgrade: the peer announced
// the file with unencrypted metadata. The transfer is refused rather than
// proceeding in cleartext.
var ErrCleartextMetadata = errors.New("peer sent unencrypted file metadata, refusing cleartext transfer")

// Channel is the minimal outbound surface the engines need. Inbound
// messages arrive on a separate receive-only queue so the engines own the
// only read path once the orchestrator hands the channel over.
type Channel interface {
	Send(data []byte) error
}

// nextFrame blocks for the next parseable frame. Malformed frames during
// steady state are logged and skipped, never fatal.
func nextFrame(ctx context.Context, inbox <-chan []byte) (Frame, error) {
	for {
		select {
		case data, ok := <-inbox:
			if !ok {
				return Frame{}, ErrChannelClosed
			}
			frame, err := ParseFrame(data)
			if err != nil {
				util.LogWarning("dropping inbound frame: %v", err)
				continue
			}
			return frame, nil
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}
}
