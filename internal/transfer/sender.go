package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/halcyonix/beam/internal/util"
)

// Sender runs the source role of a transfer: announce encrypted metadata,
// wait for the receiver, then stream chunks stop-and-wait — at most one
// chunk is ever awaiting acknowledgment.
type Sender struct {
	path  string
	ch    Channel
	inbox <-chan []byte
	key   Key
}

// NewSender builds a sender for the file at path. The channel and inbox
// are exclusively owned by the sender from this point on.
func NewSender(path string, ch Channel, inbox <-chan []byte, key Key) *Sender {
	return &Sender{path: path, ch: ch, inbox: inbox, key: key}
}

// Run performs the whole transfer. It returns once the receiver has
// acknowledged every chunk and Done has been sent, or with the first
// fatal error. There is no timeout during the transfer phase: a stalled
// peer stalls the transfer.
func (s *Sender) Run(ctx context.Context) error {
	file, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}

	size := uint64(stat.Size())
	filename := filepath.Base(s.path)
	totalChunks := TotalChunks(size)

	salt, err := GenerateSalt()
	if err != nil {
		return err
	}

	util.LogInfo("sending %s (%d bytes, %d chunks)", filename, size, totalChunks)

	meta, err := EncryptMetadata(s.key, FileInfo{
		Filename:    filename,
		Size:        size,
		ChunkSize:   ChunkSize,
		TotalChunks: totalChunks,
	})
	if err != nil {
		return err
	}
	if err := s.ch.Send(EncodeControl(meta)); err != nil {
		return fmt.Errorf("send file info: %w", err)
	}

	if err := s.awaitReady(ctx); err != nil {
		return err
	}
	util.LogInfo("receiver is ready")

	bar := util.NewTransferBar("Sending "+filename, stat.Size())

	buf := make([]byte, ChunkSize)
	for index := uint64(0); index < totalChunks; index++ {
		chunk := buf
		if remaining := size - index*ChunkSize; remaining < ChunkSize {
			chunk = buf[:remaining]
		}
		if _, err := io.ReadFull(file, chunk); err != nil {
			return fmt.Errorf("read chunk %d: %w", index, err)
		}

		sealed, err := EncryptChunk(s.key, index, salt, chunk)
		if err != nil {
			return err
		}
		if err := s.ch.Send(EncodeEncryptedChunk(sealed)); err != nil {
			return fmt.Errorf("send chunk %d: %w", index, err)
		}
		util.LogDebug("sent chunk %d (%d bytes)", index, len(chunk))

		if err := s.awaitAck(ctx, index); err != nil {
			return err
		}
		bar.Add(len(chunk))
	}

	if err := s.ch.Send(EncodeControl(Control{Type: ControlDone})); err != nil {
		return fmt.Errorf("send done: %w", err)
	}

	bar.Finish()
	util.LogInfo("file transfer complete: %d bytes sent", size)
	return nil
}

// awaitReady blocks until the receiver announces it is ready. Everything
// else is ignored, except an error control message which aborts.
func (s *Sender) awaitReady(ctx context.Context) error {
	for {
		frame, err := nextFrame(ctx, s.inbox)
		if err != nil {
			return err
		}
		if frame.Control == nil {
			continue
		}
		switch frame.Control.Type {
		case ControlReady:
			return nil
		case ControlError:
			return fmt.Errorf("receiver error: %s", frame.Control.Message)
		default:
			util.LogDebug("ignoring %s while waiting for ready", frame.Control.Type)
		}
	}
}

// awaitAck blocks until the acknowledgment for exactly the given index
// arrives. Acknowledgments for any other index are ignored, not errors.
func (s *Sender) awaitAck(ctx context.Context, index uint64) error {
	for {
		frame, err := nextFrame(ctx, s.inbox)
		if err != nil {
			return err
		}
		if frame.Control == nil {
			continue
		}
		switch frame.Control.Type {
		case ControlAck:
			if frame.Control.Index == index {
				return nil
			}
			util.LogDebug("ignoring ack for chunk %d while awaiting %d", frame.Control.Index, index)
		case ControlError:
			return fmt.Errorf("receiver error: %s", frame.Control.Message)
		}
	}
}
