package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{}

// startServer runs an in-process rendezvous endpoint. The handler gets
// the upgraded connection plus the HTTP request so tests can inspect
// the connect URL. Returns a ws:// base URL suitable for Connect.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func sendRaw(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Errorf("server write: %v", err)
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestConnectRegisters(t *testing.T) {
	ctx := testContext(t)

	params := make(chan map[string]string, 1)
	url := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		q := r.URL.Query()
		params <- map[string]string{
			"key":   q.Get("key"),
			"id":    q.Get("id"),
			"token": q.Get("token"),
		}
		sendRaw(t, conn, message{Type: msgTypeOpen})
		// Hold the connection open until the client is done.
		conn.ReadMessage()
	})

	client, err := Connect(ctx, "brave-otter-fox", url)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	if err := client.WaitForOpen(ctx); err != nil {
		t.Fatalf("WaitForOpen: %v", err)
	}
	if client.ID() != "brave-otter-fox" {
		t.Errorf("ID() = %q", client.ID())
	}

	got := <-params
	if got["key"] != rendezvousKey {
		t.Errorf("key = %q, want %q", got["key"], rendezvousKey)
	}
	if got["id"] != "brave-otter-fox" {
		t.Errorf("id = %q", got["id"])
	}
	if got["token"] == "" {
		t.Error("token missing from connect URL")
	}
}

func TestWaitForOpenFailures(t *testing.T) {
	tests := []struct {
		name    string
		reply   message
		wantErr error
	}{
		{"id taken", message{Type: msgTypeIDTaken}, ErrPeerIDTaken},
		{"invalid key", message{Type: msgTypeInvalidKey}, ErrInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testContext(t)
			url := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
				sendRaw(t, conn, tt.reply)
				conn.ReadMessage()
			})

			client, err := Connect(ctx, "some-peer-id", url)
			if err != nil {
				t.Fatalf("Connect: %v", err)
			}
			defer client.Close()

			if err := client.WaitForOpen(ctx); !errors.Is(err, tt.wantErr) {
				t.Fatalf("WaitForOpen = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestWaitForOpenServerError(t *testing.T) {
	ctx := testContext(t)
	url := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		payload, _ := json.Marshal(errorPayload{Message: "server on fire"})
		sendRaw(t, conn, message{Type: msgTypeError, Payload: payload})
		conn.ReadMessage()
	})

	client, err := Connect(ctx, "some-peer-id", url)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	err = client.WaitForOpen(ctx)
	if err == nil || !strings.Contains(err.Error(), "server on fire") {
		t.Fatalf("WaitForOpen = %v, want server error text", err)
	}
}

// TestMalformedFramesDropped verifies garbage on the wire is skipped, not
// fatal: the open confirmation after it still gets through.
func TestMalformedFramesDropped(t *testing.T) {
	ctx := testContext(t)
	url := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"NO-SUCH-TYPE"}`))
		sendRaw(t, conn, message{Type: msgTypeOpen})
		conn.ReadMessage()
	})

	client, err := Connect(ctx, "some-peer-id", url)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	if err := client.WaitForOpen(ctx); err != nil {
		t.Fatalf("WaitForOpen: %v", err)
	}
}

// TestRecvAfterDisconnect verifies a dropped connection surfaces as
// ErrChannelClosed, both from Recv and as a closed Events channel.
func TestRecvAfterDisconnect(t *testing.T) {
	ctx := testContext(t)
	url := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		sendRaw(t, conn, message{Type: msgTypeOpen})
		conn.Close()
	})

	client, err := Connect(ctx, "some-peer-id", url)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	if err := client.WaitForOpen(ctx); err != nil {
		t.Fatalf("WaitForOpen: %v", err)
	}
	if _, err := client.Recv(ctx); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("Recv = %v, want %v", err, ErrChannelClosed)
	}

	select {
	case _, ok := <-client.Events():
		if ok {
			t.Fatal("Events yielded an event after disconnect")
		}
	case <-ctx.Done():
		t.Fatal("Events channel not closed after disconnect")
	}
}

func TestSendOfferWireFormat(t *testing.T) {
	ctx := testContext(t)

	frames := make(chan message, 1)
	url := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		sendRaw(t, conn, message{Type: msgTypeOpen})
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Errorf("server read: %v", err)
			return
		}
		frames <- msg
	})

	client, err := Connect(ctx, "local-peer", url)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()
	if err := client.WaitForOpen(ctx); err != nil {
		t.Fatalf("WaitForOpen: %v", err)
	}

	if err := client.SendOffer("remote-peer", "v=0 fake sdp", "conn-123"); err != nil {
		t.Fatalf("SendOffer: %v", err)
	}

	msg := <-frames
	if msg.Type != msgTypeOffer {
		t.Errorf("type = %q, want %q", msg.Type, msgTypeOffer)
	}
	if msg.Src != "local-peer" || msg.Dst != "remote-peer" {
		t.Errorf("src/dst = %q/%q", msg.Src, msg.Dst)
	}

	var p sdpPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.SDP.Type != "offer" || p.SDP.SDP != "v=0 fake sdp" {
		t.Errorf("sdp = %+v", p.SDP)
	}
	if p.ConnectionID != "conn-123" || p.Label != "conn-123" {
		t.Errorf("connectionId/label = %q/%q", p.ConnectionID, p.Label)
	}
	if p.Type != "data" {
		t.Errorf("payload type = %q, want data", p.Type)
	}
	if p.Reliable == nil || !*p.Reliable {
		t.Error("offer not marked reliable")
	}
	if p.Serialization != "binary" {
		t.Errorf("serialization = %q, want binary", p.Serialization)
	}
}

func TestSendHeartbeatWireFormat(t *testing.T) {
	ctx := testContext(t)

	frames := make(chan message, 1)
	url := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		sendRaw(t, conn, message{Type: msgTypeOpen})
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Errorf("server read: %v", err)
			return
		}
		frames <- msg
	})

	client, err := Connect(ctx, "local-peer", url)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()
	if err := client.WaitForOpen(ctx); err != nil {
		t.Fatalf("WaitForOpen: %v", err)
	}

	if err := client.SendHeartbeat(); err != nil {
		t.Fatalf("SendHeartbeat: %v", err)
	}

	msg := <-frames
	if msg.Type != msgTypeHeartbeat {
		t.Errorf("type = %q, want %q", msg.Type, msgTypeHeartbeat)
	}
	if msg.Src != "" || msg.Dst != "" || len(msg.Payload) != 0 {
		t.Errorf("heartbeat carries extra fields: %+v", msg)
	}
}
