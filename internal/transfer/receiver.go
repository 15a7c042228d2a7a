package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/halcyonix/beam/internal/util"
)

// Receiver runs the sink role of a transfer: wait for encrypted metadata,
// create the destination file, then decrypt and append chunks while
// acknowledging each one.
type Receiver struct {
	outputDir string
	ch        Channel
	inbox     <-chan []byte
	key       Key
}

// NewReceiver builds a receiver saving into outputDir. The channel and
// inbox are exclusively owned by the receiver from this point on.
func NewReceiver(outputDir string, ch Channel, inbox <-chan []byte, key Key) *Receiver {
	return &Receiver{outputDir: outputDir, ch: ch, inbox: inbox, key: key}
}

// Run performs the whole transfer and returns the path of the saved file.
func (r *Receiver) Run(ctx context.Context) (string, error) {
	info, err := r.awaitFileInfo(ctx)
	if err != nil {
		return "", err
	}
	util.LogInfo("receiving %s (%d bytes, %d chunks)", info.Filename, info.Size, info.TotalChunks)

	// The filename comes from the peer; keep only its base name so it
	// cannot escape the output directory.
	outputPath := filepath.Join(r.outputDir, filepath.Base(info.Filename))
	file, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("create output file: %w", err)
	}
	defer file.Close()

	if err := r.ch.Send(EncodeControl(Control{Type: ControlReady})); err != nil {
		return "", fmt.Errorf("send ready: %w", err)
	}
	util.LogInfo("ready to receive")

	bar := util.NewTransferBar("Receiving "+info.Filename, int64(info.Size))

	var received uint64
	expected := uint64(0)

loop:
	for {
		frame, err := nextFrame(ctx, r.inbox)
		if err != nil {
			return "", err
		}

		switch {
		case frame.Encrypted != nil:
			chunk := frame.Encrypted
			if chunk.Index != expected {
				// The data channel is ordered, so a mismatch points at a
				// misbehaving sender. Logged, then processed anyway.
				util.LogWarning("out-of-order chunk: expected %d, got %d", expected, chunk.Index)
			}
			plaintext, err := DecryptChunk(r.key, *chunk)
			if err != nil {
				return "", err
			}
			if _, err := file.Write(plaintext); err != nil {
				return "", fmt.Errorf("write chunk %d: %w", chunk.Index, err)
			}
			received += uint64(len(plaintext))
			bar.Add(len(plaintext))
			util.LogDebug("received chunk %d (%d bytes)", chunk.Index, len(plaintext))

			expected = chunk.Index + 1
			if err := r.ch.Send(EncodeControl(Control{Type: ControlAck, Index: chunk.Index})); err != nil {
				return "", fmt.Errorf("send ack: %w", err)
			}

		case frame.Legacy != nil:
			util.LogWarning("dropping cleartext chunk %d: transfer is encrypted", frame.Legacy.Index)

		case frame.Control != nil:
			switch frame.Control.Type {
			case ControlDone:
				util.LogInfo("transfer complete signal received")
				break loop
			case ControlError:
				return "", fmt.Errorf("sender error: %s", frame.Control.Message)
			default:
				util.LogDebug("ignoring control message %s", frame.Control.Type)
			}
		}
	}

	if err := file.Sync(); err != nil {
		return "", fmt.Errorf("flush output file: %w", err)
	}

	bar.Finish()
	util.LogInfo("file received: %s (%d bytes)", outputPath, received)
	return outputPath, nil
}

// awaitFileInfo blocks until the encrypted metadata envelope arrives.
// A cleartext file_info announcement is a downgrade and fails the
// transfer outright.
func (r *Receiver) awaitFileInfo(ctx context.Context) (FileInfo, error) {
	for {
		frame, err := nextFrame(ctx, r.inbox)
		if err != nil {
			return FileInfo{}, err
		}
		if frame.Control == nil {
			continue
		}
		switch frame.Control.Type {
		case ControlEncryptedFileInfo:
			return DecryptMetadata(r.key, frame.Control.Nonce, frame.Control.Ciphertext)
		case ControlFileInfo:
			return FileInfo{}, ErrCleartextMetadata
		default:
			util.LogDebug("ignoring %s while waiting for file info", frame.Control.Type)
		}
	}
}
