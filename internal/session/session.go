// Package session drives session negotiation: it turns a pair of peer
// identities plus a role into an open bidirectional data channel, or a
// definitive failure. Descriptors and candidates travel through the
// rendezvous client; the channel itself comes from the peer transport.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonix/beam/internal/rtc"
	"github.com/halcyonix/beam/internal/signaling"
	"github.com/halcyonix/beam/internal/util"
)

const channelLabel = "file-transfer"

// Variables so tests can shorten them.
var (
	// negotiationTimeout bounds the candidate/descriptor exchange. Expiry
	// is terminal; the caller discards the peer transport and starts over.
	negotiationTimeout = 30 * time.Second

	// stabilizeDelay gives the freshly opened channel a moment to settle
	// before the transfer engine takes over.
	stabilizeDelay = 500 * time.Millisecond
)

// ErrTimeout reports that the negotiation deadline elapsed before the
// channel opened.
var ErrTimeout = errors.New("negotiation timed out")

// Signaler is the rendezvous-client surface the orchestrator drives.
// *signaling.Client satisfies it.
type Signaler interface {
	Events() <-chan signaling.Event
	SendOffer(dst, sdp, connectionID string) error
	SendAnswer(dst, sdp, connectionID string) error
	SendCandidate(dst string, c signaling.Candidate, connectionID string) error
	SendHeartbeat() error
}

// Transport is the capability surface required from the peer engine.
// *rtc.Peer satisfies it; negotiation logic never assumes a concrete
// implementation.
type Transport interface {
	CreateDataChannel(label string) (rtc.DataChannel, error)
	CreateOffer() (string, error)
	CreateAnswer() (string, error)
	SetLocalDescription(sdpType, sdp string) error
	SetRemoteDescription(sdpType, sdp string) error
	AddCandidate(c signaling.Candidate) error
	Candidates() <-chan signaling.Candidate
	Incoming() <-chan rtc.DataChannel
}

// Offer establishes a session as the offerer: create the data channel,
// send the offer to remoteID, then exchange candidates until the channel
// opens or the deadline elapses.
func Offer(ctx context.Context, sig Signaler, tr Transport, remoteID string) (rtc.DataChannel, error) {
	connectionID := uuid.NewString()

	ch, err := tr.CreateDataChannel(channelLabel)
	if err != nil {
		return nil, fmt.Errorf("connection setup: %w", err)
	}

	offer, err := tr.CreateOffer()
	if err != nil {
		return nil, fmt.Errorf("connection setup: %w", err)
	}
	if err := tr.SetLocalDescription("offer", offer); err != nil {
		return nil, fmt.Errorf("connection setup: %w", err)
	}
	if err := sig.SendOffer(remoteID, offer, connectionID); err != nil {
		return nil, err
	}
	util.LogInfo("sent offer to %s", remoteID)

	st := &negotiation{
		sig:          sig,
		tr:           tr,
		remoteID:     remoteID,
		connectionID: connectionID,
		ready:        ch.Ready(),
		expectAnswer: true,
	}
	if err := st.run(ctx); err != nil {
		return nil, err
	}
	return ch, nil
}

// Answer establishes a session as the answerer: wait (without deadline)
// for a remote offer, answer it, then exchange candidates while racing on
// the incoming data channel. The first channel received is adopted; its
// open gate completes the negotiation.
func Answer(ctx context.Context, sig Signaler, tr Transport) (rtc.DataChannel, error) {
	remoteID, connectionID, err := awaitOffer(ctx, sig, tr)
	if err != nil {
		return nil, err
	}
	util.LogInfo("received offer from %s", remoteID)

	answer, err := tr.CreateAnswer()
	if err != nil {
		return nil, fmt.Errorf("connection setup: %w", err)
	}
	if err := tr.SetLocalDescription("answer", answer); err != nil {
		return nil, fmt.Errorf("connection setup: %w", err)
	}
	if err := sig.SendAnswer(remoteID, answer, connectionID); err != nil {
		return nil, err
	}

	st := &negotiation{
		sig:          sig,
		tr:           tr,
		remoteID:     remoteID,
		connectionID: connectionID,
		incoming:     tr.Incoming(),
	}
	if err := st.run(ctx); err != nil {
		return nil, err
	}
	return st.adopted, nil
}

// awaitOffer blocks until a remote offer arrives and applies it as the
// remote descriptor. Heartbeats are relayed meanwhile; there is no
// deadline here since the remote operator may take arbitrarily long to
// start their side.
func awaitOffer(ctx context.Context, sig Signaler, tr Transport) (remoteID, connectionID string, err error) {
	for {
		select {
		case ev, ok := <-sig.Events():
			if !ok {
				return "", "", signaling.ErrChannelClosed
			}
			switch ev.Kind {
			case signaling.EventOffer:
				if err := tr.SetRemoteDescription("offer", ev.SDP.SDP); err != nil {
					return "", "", fmt.Errorf("connection setup: %w", err)
				}
				return ev.Src, ev.ConnectionID, nil
			case signaling.EventHeartbeat:
				if err := sig.SendHeartbeat(); err != nil {
					return "", "", err
				}
			case signaling.EventError:
				return "", "", fmt.Errorf("signaling error: %s", ev.Message)
			default:
				util.LogDebug("ignoring %s while waiting for offer", ev.Kind)
			}
		case <-ctx.Done():
			return "", "", ctx.Err()
		}
	}
}

// negotiation is the shared candidate-exchange event loop. It multiplexes
// over pending local candidates, inbound signaling events, the incoming
// data channel (answerer only), and the deadline — first-ready wins,
// never polling.
type negotiation struct {
	sig          Signaler
	tr           Transport
	remoteID     string
	connectionID string

	ready        <-chan struct{}          // open gate; nil until a channel exists
	incoming     <-chan rtc.DataChannel   // nil for the offerer
	adopted      rtc.DataChannel
	expectAnswer bool
}

func (n *negotiation) run(ctx context.Context) error {
	deadline := time.NewTimer(negotiationTimeout)
	defer deadline.Stop()

	candidates := n.tr.Candidates()

	for {
		select {
		case <-n.ready:
			util.LogInfo("data channel open")
			// Give DTLS/SCTP a moment to settle before shoving data in.
			select {
			case <-time.After(stabilizeDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil

		case c, ok := <-candidates:
			if !ok {
				candidates = nil
				continue
			}
			// Candidate delivery is best-effort: the exchange can succeed
			// on the candidates that did get through.
			if err := n.sig.SendCandidate(n.remoteID, c, n.connectionID); err != nil {
				util.LogWarning("failed to send candidate: %v", err)
			}

		case dc, ok := <-n.incoming:
			if !ok {
				n.incoming = nil
				continue
			}
			if n.adopted != nil {
				util.LogWarning("ignoring extra incoming data channel")
				continue
			}
			n.adopted = dc
			n.ready = dc.Ready()

		case ev, ok := <-n.sig.Events():
			if !ok {
				return signaling.ErrChannelClosed
			}
			if err := n.handleEvent(ev); err != nil {
				return err
			}

		case <-deadline.C:
			return ErrTimeout

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (n *negotiation) handleEvent(ev signaling.Event) error {
	switch ev.Kind {
	case signaling.EventAnswer:
		if !n.expectAnswer {
			return fmt.Errorf("connection violation: unexpected answer from %s", ev.Src)
		}
		// The transport enforces the single-remote-descriptor invariant;
		// a second answer surfaces as rtc.ErrDescriptorSet here.
		if err := n.tr.SetRemoteDescription("answer", ev.SDP.SDP); err != nil {
			return fmt.Errorf("connection setup: %w", err)
		}
		util.LogInfo("received answer from %s", ev.Src)

	case signaling.EventCandidate:
		if err := n.tr.AddCandidate(ev.Candidate); err != nil {
			util.LogWarning("failed to add remote candidate: %v", err)
		}

	case signaling.EventHeartbeat:
		if err := n.sig.SendHeartbeat(); err != nil {
			return err
		}

	case signaling.EventExpire:
		return fmt.Errorf("connection failed: peer not found")

	case signaling.EventLeave:
		util.LogWarning("peer %s left the rendezvous server", ev.Src)

	case signaling.EventError:
		return fmt.Errorf("signaling error: %s", ev.Message)

	default:
		util.LogDebug("ignoring %s during negotiation", ev.Kind)
	}
	return nil
}
