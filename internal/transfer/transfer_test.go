package transfer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// Compile-time interface checks.
var (
	_ Channel = (*pipeChannel)(nil)
	_ Channel = (*recordingChannel)(nil)
)

// pipeChannel is one end of an in-process bidirectional link. Sends are
// delivered in order into the peer's inbox, mimicking the ordered,
// reliable data channel the engines run over.
type pipeChannel struct {
	peer  *pipeChannel
	inbox chan []byte
	once  sync.Once
}

// newChannelPair creates two linked pipe channels.
func newChannelPair() (a, b *pipeChannel) {
	a = &pipeChannel{inbox: make(chan []byte, 256)}
	b = &pipeChannel{inbox: make(chan []byte, 256)}
	a.peer = b
	b.peer = a
	return a, b
}

func (p *pipeChannel) Send(data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	p.peer.inbox <- buf
	return nil
}

// closeInbox simulates the data channel collapsing under this endpoint.
func (p *pipeChannel) closeInbox() {
	p.once.Do(func() { close(p.inbox) })
}

// recordingChannel wraps a Channel and keeps a parsed log of everything
// sent through it.
type recordingChannel struct {
	inner Channel

	mu          sync.Mutex
	acks        []uint64
	chunksSent  []uint64
	lastControl ControlType
	outstanding *outstandingCounter
}

// outstandingCounter tracks how many chunk indices are awaiting
// acknowledgment at any instant, shared between the two directions.
type outstandingCounter struct {
	mu      sync.Mutex
	current int
	max     int
}

func (o *outstandingCounter) chunkSent() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.current++
	if o.current > o.max {
		o.max = o.current
	}
}

func (o *outstandingCounter) acked() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.current--
}

func (r *recordingChannel) Send(data []byte) error {
	frame, err := ParseFrame(data)
	if err == nil {
		r.mu.Lock()
		switch {
		case frame.Encrypted != nil:
			r.chunksSent = append(r.chunksSent, frame.Encrypted.Index)
			if r.outstanding != nil {
				r.outstanding.chunkSent()
			}
		case frame.Control != nil:
			r.lastControl = frame.Control.Type
			if frame.Control.Type == ControlAck {
				r.acks = append(r.acks, frame.Control.Index)
				if r.outstanding != nil {
					r.outstanding.acked()
				}
			}
		}
		r.mu.Unlock()
	}
	return r.inner.Send(data)
}

// makeTestData generates deterministic test data of the given size.
func makeTestData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// TestEndToEndTransfer exercises the full sender/receiver pair over a
// linked channel: a 50000-byte file crosses byte-identical, every chunk
// is acknowledged exactly once, the final control message is Done, and
// at most one chunk is ever awaiting acknowledgment.
func TestEndToEndTransfer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const fileSize = 50000
	data := makeTestData(fileSize)

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "blob.bin")
	if err := os.WriteFile(srcPath, data, 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}
	outDir := t.TempDir()

	key := testKey(t)
	senderEnd, receiverEnd := newChannelPair()

	counter := &outstandingCounter{}
	senderOut := &recordingChannel{inner: senderEnd, outstanding: counter}
	receiverOut := &recordingChannel{inner: receiverEnd, outstanding: counter}

	type result struct {
		path string
		err  error
	}
	recvDone := make(chan result, 1)
	go func() {
		path, err := NewReceiver(outDir, receiverOut, receiverEnd.inbox, key).Run(ctx)
		recvDone <- result{path, err}
	}()

	if err := NewSender(srcPath, senderOut, senderEnd.inbox, key).Run(ctx); err != nil {
		t.Fatalf("sender: %v", err)
	}

	res := <-recvDone
	if res.err != nil {
		t.Fatalf("receiver: %v", res.err)
	}

	got, err := os.ReadFile(res.path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("output mismatch: got %d bytes, want %d bytes", len(got), len(data))
	}
	if filepath.Base(res.path) != "blob.bin" {
		t.Errorf("output filename = %s, want blob.bin", filepath.Base(res.path))
	}

	wantChunks := TotalChunks(fileSize) // ceil(50000/16384) = 4
	if wantChunks != 4 {
		t.Fatalf("unexpected chunk math: %d", wantChunks)
	}
	if len(receiverOut.acks) != int(wantChunks) {
		t.Errorf("ack count = %d, want %d", len(receiverOut.acks), wantChunks)
	}
	for i, idx := range receiverOut.acks {
		if idx != uint64(i) {
			t.Errorf("ack %d has index %d", i, idx)
		}
	}
	if senderOut.lastControl != ControlDone {
		t.Errorf("final control message = %s, want %s", senderOut.lastControl, ControlDone)
	}
	if counter.max > 1 {
		t.Errorf("stop-and-wait violated: %d chunks outstanding at once", counter.max)
	}
}

// TestEmptyFileTransfer moves a zero-byte file: no chunks, no acks, just
// metadata and Done.
func TestEmptyFileTransfer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srcPath := filepath.Join(t.TempDir(), "empty.bin")
	if err := os.WriteFile(srcPath, nil, 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}
	outDir := t.TempDir()

	key := testKey(t)
	senderEnd, receiverEnd := newChannelPair()
	receiverOut := &recordingChannel{inner: receiverEnd}

	recvErr := make(chan error, 1)
	var outputPath string
	go func() {
		path, err := NewReceiver(outDir, receiverOut, receiverEnd.inbox, key).Run(ctx)
		outputPath = path
		recvErr <- err
	}()

	if err := NewSender(srcPath, senderEnd, senderEnd.inbox, key).Run(ctx); err != nil {
		t.Fatalf("sender: %v", err)
	}
	if err := <-recvErr; err != nil {
		t.Fatalf("receiver: %v", err)
	}

	stat, err := os.Stat(outputPath)
	if err != nil {
		t.Fatalf("stat output: %v", err)
	}
	if stat.Size() != 0 {
		t.Errorf("output size = %d, want 0", stat.Size())
	}
	if len(receiverOut.acks) != 0 {
		t.Errorf("ack count = %d, want 0", len(receiverOut.acks))
	}
}

// TestReceiverRejectsCleartextMetadata verifies the downgrade path: an
// unencrypted file_info before any encrypted metadata fails the transfer
// instead of proceeding in cleartext.
func TestReceiverRejectsCleartextMetadata(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	senderEnd, receiverEnd := newChannelPair()
	if err := senderEnd.Send(EncodeControl(Control{
		Type: ControlFileInfo, Filename: "a.bin", Size: 10, ChunkSize: ChunkSize, TotalChunks: 1,
	})); err != nil {
		t.Fatalf("send: %v", err)
	}

	_, err := NewReceiver(t.TempDir(), receiverEnd, receiverEnd.inbox, testKey(t)).Run(ctx)
	if err == nil {
		t.Fatal("cleartext metadata accepted")
	}
	if err != ErrCleartextMetadata {
		t.Fatalf("err = %v, want %v", err, ErrCleartextMetadata)
	}
}

// TestSenderIgnoresOutOfRangeAcks feeds stray acknowledgments ahead of
// the real one; the transfer must still complete.
func TestSenderIgnoresOutOfRangeAcks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srcPath := filepath.Join(t.TempDir(), "one-chunk.bin")
	if err := os.WriteFile(srcPath, makeTestData(100), 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	key := testKey(t)
	senderEnd, receiverEnd := newChannelPair()

	// Scripted far side: ready, stray acks, then the real ack after the
	// chunk arrives.
	go func() {
		receiverEnd.Send(EncodeControl(Control{Type: ControlReady}))
		receiverEnd.Send(EncodeControl(Control{Type: ControlAck, Index: 5}))
		receiverEnd.Send(EncodeControl(Control{Type: ControlAck, Index: 99}))
		for data := range receiverEnd.inbox {
			frame, err := ParseFrame(data)
			if err != nil || frame.Encrypted == nil {
				continue
			}
			receiverEnd.Send(EncodeControl(Control{Type: ControlAck, Index: frame.Encrypted.Index}))
			return
		}
	}()

	if err := NewSender(srcPath, senderEnd, senderEnd.inbox, key).Run(ctx); err != nil {
		t.Fatalf("sender: %v", err)
	}
}

// TestSenderFailsOnClosedInbox verifies a collapsed channel surfaces as
// ErrChannelClosed rather than a hang.
func TestSenderFailsOnClosedInbox(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srcPath := filepath.Join(t.TempDir(), "blob.bin")
	if err := os.WriteFile(srcPath, makeTestData(10), 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	senderEnd, _ := newChannelPair()
	senderEnd.closeInbox()

	err := NewSender(srcPath, senderEnd, senderEnd.inbox, testKey(t)).Run(ctx)
	if err != ErrChannelClosed {
		t.Fatalf("err = %v, want %v", err, ErrChannelClosed)
	}
}

// TestSenderMissingFile verifies a missing source file fails before any
// protocol activity.
func TestSenderMissingFile(t *testing.T) {
	senderEnd, _ := newChannelPair()
	err := NewSender(filepath.Join(t.TempDir(), "nope.bin"), senderEnd, senderEnd.inbox, testKey(t)).
		Run(context.Background())
	if err == nil {
		t.Fatal("missing file accepted")
	}
}
