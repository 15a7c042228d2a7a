package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/halcyonix/beam/internal/util"
)

const (
	rendezvousPath = "/peerjs"
	rendezvousKey  = "peerjs"
)

var (
	// ErrPeerIDTaken reports that the chosen peer id is already registered
	// at the rendezvous server.
	ErrPeerIDTaken = errors.New("peer id already taken")

	// ErrInvalidKey reports that the server rejected the API key.
	ErrInvalidKey = errors.New("invalid rendezvous API key")

	// ErrChannelClosed reports that the background receive loop exited and
	// no further events will arrive.
	ErrChannelClosed = errors.New("signaling channel closed")
)

// Client maintains a persistent connection to the rendezvous server. A
// background loop parses inbound frames into typed events; outbound
// messages are serialized through a mutex-guarded writer.
type Client struct {
	id     string
	conn   *websocket.Conn
	events chan Event

	writeMu sync.Mutex
}

// Connect dials the rendezvous server and registers under id. The connect
// URL encodes the fixed API key, the peer id, and a random per-connection
// token. serverHost is a bare host (dialed as wss://host/peerjs) or a full
// ws:// / wss:// base URL.
func Connect(ctx context.Context, id, serverHost string) (*Client, error) {
	wsURL := fmt.Sprintf("wss://%s%s", serverHost, rendezvousPath)
	if strings.Contains(serverHost, "://") {
		wsURL = serverHost
	}
	wsURL = fmt.Sprintf("%s?key=%s&id=%s&token=%s", wsURL, rendezvousKey, id, uuid.NewString())

	util.LogDebug("connecting to rendezvous server: %s", wsURL)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to rendezvous server: %w", err)
	}

	c := &Client{
		id:     id,
		conn:   conn,
		events: make(chan Event, 64),
	}
	go c.readLoop()
	return c, nil
}

// ID returns the local peer identifier this client registered under.
func (c *Client) ID() string {
	return c.id
}

// readLoop parses inbound frames into typed events until the connection
// drops. Unparseable frames are logged and dropped, never fatal. Closing
// the event channel on exit is what surfaces ErrChannelClosed to readers.
func (c *Client) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			util.LogDebug("rendezvous connection closed: %v", err)
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			util.LogWarning("dropping malformed signaling frame: %v", err)
			continue
		}

		ev, ok := parseEvent(msg)
		if !ok {
			util.LogWarning("dropping unrecognized signaling message type %q", msg.Type)
			continue
		}
		c.events <- ev
	}
}

// WaitForOpen blocks until the server confirms registration. A negative
// reply maps onto the corresponding failure; a dropped connection maps
// onto ErrChannelClosed.
func (c *Client) WaitForOpen(ctx context.Context) error {
	for {
		ev, err := c.Recv(ctx)
		if err != nil {
			return err
		}
		switch ev.Kind {
		case EventOpen:
			util.LogInfo("registered at rendezvous server as %s", c.id)
			return nil
		case EventIDTaken:
			return ErrPeerIDTaken
		case EventInvalidKey:
			return ErrInvalidKey
		case EventError:
			return fmt.Errorf("signaling error: %s", ev.Message)
		default:
			util.LogDebug("ignoring %s while waiting for open", ev.Kind)
		}
	}
}

// Recv returns the next inbound event, or ErrChannelClosed once the
// receive loop has exited.
func (c *Client) Recv(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-c.events:
		if !ok {
			return Event{}, ErrChannelClosed
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Events exposes the inbound event queue for multiplexed waits. The
// channel closes when the connection drops.
func (c *Client) Events() <-chan Event {
	return c.events
}

// SendOffer relays a local offer descriptor to dst.
func (c *Client) SendOffer(dst string, sdp string, connectionID string) error {
	reliable := true
	return c.send(msgTypeOffer, dst, sdpPayload{
		SDP:           SessionDescription{Type: "offer", SDP: sdp},
		Type:          "data",
		ConnectionID:  connectionID,
		Browser:       "beam",
		Label:         connectionID,
		Reliable:      &reliable,
		Serialization: "binary",
	})
}

// SendAnswer relays a local answer descriptor to dst.
func (c *Client) SendAnswer(dst string, sdp string, connectionID string) error {
	return c.send(msgTypeAnswer, dst, sdpPayload{
		SDP:          SessionDescription{Type: "answer", SDP: sdp},
		Type:         "data",
		ConnectionID: connectionID,
		Browser:      "beam",
	})
}

// SendCandidate relays a local connectivity candidate to dst.
func (c *Client) SendCandidate(dst string, candidate Candidate, connectionID string) error {
	return c.send(msgTypeCandidate, dst, candidatePayload{
		Candidate:    candidate,
		Type:         "data",
		ConnectionID: connectionID,
	})
}

// SendHeartbeat answers a server heartbeat, keeping the registration
// alive. Every observed heartbeat event must produce exactly one of
// these; the relaying is done explicitly by the caller's event loop.
func (c *Client) SendHeartbeat() error {
	return c.writeJSON(message{Type: msgTypeHeartbeat})
}

func (c *Client) send(msgType, dst string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return c.writeJSON(message{Type: msgType, Src: c.id, Dst: dst, Payload: raw})
}

// writeJSON serializes one outbound message, guarded by a mutex.
func (c *Client) writeJSON(msg message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

// Close drops the connection; the receive loop exits and the event
// channel closes.
func (c *Client) Close() error {
	return c.conn.Close()
}
