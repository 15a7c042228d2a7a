package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/halcyonix/beam/internal/util"
)

// inboxSize bounds buffered inbound messages. Stop-and-wait keeps at most
// a couple of frames in flight, so this never fills in practice; if it
// does, the message handler blocks rather than dropping data.
const inboxSize = 128

// DataChannel is the engine-facing surface of a logical channel. Once the
// orchestrator hands one to the transfer engine, the engine is its sole
// owner.
type DataChannel interface {
	// Ready is closed when the channel is open on both sides.
	Ready() <-chan struct{}
	// Inbox delivers inbound messages in channel order; it closes when
	// the channel closes.
	Inbox() <-chan []byte
	// Send transmits one message.
	Send(data []byte) error
	// Close tears the channel down.
	Close() error
}

// channel adapts a pion data channel to the DataChannel surface.
type channel struct {
	dc *webrtc.DataChannel

	inbox  chan []byte
	ready  chan struct{}
	closed chan struct{}

	readyOnce sync.Once
	closeOnce sync.Once
}

func newChannel(dc *webrtc.DataChannel) *channel {
	ch := &channel{
		dc:     dc,
		inbox:  make(chan []byte, inboxSize),
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}

	dc.OnOpen(func() {
		util.LogDebug("data channel %s open", dc.Label())
		ch.readyOnce.Do(func() { close(ch.ready) })
	})
	// An adopted channel may already be open before handlers attach.
	if dc.ReadyState() == webrtc.DataChannelStateOpen {
		ch.readyOnce.Do(func() { close(ch.ready) })
	}

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		data := make([]byte, len(msg.Data))
		copy(data, msg.Data)
		select {
		case ch.inbox <- data:
		case <-ch.closed:
		}
	})

	dc.OnError(func(err error) {
		util.LogWarning("data channel %s error: %v", dc.Label(), err)
	})

	// pion dispatches OnMessage and OnClose from the same read loop, so
	// closing the inbox here cannot race a pending send above.
	dc.OnClose(func() {
		util.LogDebug("data channel %s closed", dc.Label())
		ch.closeOnce.Do(func() {
			close(ch.closed)
			close(ch.inbox)
		})
	})

	return ch
}

func (ch *channel) Ready() <-chan struct{} {
	return ch.ready
}

func (ch *channel) Inbox() <-chan []byte {
	return ch.inbox
}

func (ch *channel) Send(data []byte) error {
	return ch.dc.Send(data)
}

func (ch *channel) Close() error {
	return ch.dc.Close()
}
