// Package rtc wraps the pion WebRTC engine behind the small capability
// surface the negotiation orchestrator needs: descriptor handling,
// candidate exchange, and data-channel creation/adoption.
package rtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/halcyonix/beam/internal/signaling"
	"github.com/halcyonix/beam/internal/util"
)

// ErrDescriptorSet reports an attempt to set a second local or remote
// session descriptor. Exactly one of each is ever set per session.
var ErrDescriptorSet = errors.New("session descriptor already set")

// ICE servers used for candidate gathering. The TURN relays carry the
// public PeerJS credentials, matching the rendezvous service defaults.
var iceServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
	{
		URLs:       []string{"turn:eu-0.turn.peerjs.com:3478"},
		Username:   "peerjs",
		Credential: "peerjsp",
	},
	{
		URLs:       []string{"turn:us-0.turn.peerjs.com:3478"},
		Username:   "peerjs",
		Credential: "peerjsp",
	},
}

// Peer owns one PeerConnection for the lifetime of a session. Gathered
// local candidates and incoming data channels surface on channels so the
// orchestrator can multiplex over them.
type Peer struct {
	pc *webrtc.PeerConnection

	candidates chan signaling.Candidate
	incoming   chan DataChannel

	mu        sync.Mutex
	localSet  bool
	remoteSet bool
}

// NewPeer creates a Peer configured with the STUN/TURN set above.
func NewPeer() (*Peer, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Peer{
		pc:         pc,
		candidates: make(chan signaling.Candidate, 50),
		incoming:   make(chan DataChannel, 1),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // end of gathering
		}
		init := c.ToJSON()
		util.LogDebug("gathered local candidate: %s", init.Candidate)
		select {
		case p.candidates <- signaling.Candidate{
			Candidate:     init.Candidate,
			SDPMLineIndex: init.SDPMLineIndex,
			SDPMid:        init.SDPMid,
		}:
		default:
			util.LogWarning("local candidate queue full, dropping candidate")
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		util.LogInfo("incoming data channel: %s", dc.Label())
		select {
		case p.incoming <- newChannel(dc):
		default:
			util.LogWarning("discarding extra incoming data channel %s", dc.Label())
		}
	})

	// Informational only; channel state drives open/close decisions.
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogInfo("peer connection state: %s", state.String())
	})

	return p, nil
}

// CreateDataChannel creates an outgoing logical channel on the peer
// connection.
func (p *Peer) CreateDataChannel(label string) (DataChannel, error) {
	dc, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	return newChannel(dc), nil
}

// CreateOffer generates a local offer descriptor.
func (p *Peer) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	return offer.SDP, nil
}

// CreateAnswer generates a local answer descriptor.
func (p *Peer) CreateAnswer() (string, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	return answer.SDP, nil
}

// SetLocalDescription applies the local descriptor, exactly once.
func (p *Peer) SetLocalDescription(sdpType, sdp string) error {
	p.mu.Lock()
	if p.localSet {
		p.mu.Unlock()
		return fmt.Errorf("local: %w", ErrDescriptorSet)
	}
	p.localSet = true
	p.mu.Unlock()

	desc, err := description(sdpType, sdp)
	if err != nil {
		return err
	}
	if err := p.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return nil
}

// SetRemoteDescription applies the remote descriptor, exactly once.
func (p *Peer) SetRemoteDescription(sdpType, sdp string) error {
	p.mu.Lock()
	if p.remoteSet {
		p.mu.Unlock()
		return fmt.Errorf("remote: %w", ErrDescriptorSet)
	}
	p.remoteSet = true
	p.mu.Unlock()

	desc, err := description(sdpType, sdp)
	if err != nil {
		return err
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// AddCandidate feeds a remote connectivity candidate into the engine.
// Candidates are unordered and unbounded; late arrivals are harmless.
func (p *Peer) AddCandidate(c signaling.Candidate) error {
	init := webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMLineIndex: c.SDPMLineIndex,
		SDPMid:        c.SDPMid,
	}
	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

// Candidates returns the queue of gathered local candidates.
func (p *Peer) Candidates() <-chan signaling.Candidate {
	return p.candidates
}

// Incoming returns the queue of data channels created by the remote side.
func (p *Peer) Incoming() <-chan DataChannel {
	return p.incoming
}

// Close shuts down the peer connection and every channel on it.
func (p *Peer) Close() error {
	return p.pc.Close()
}

func description(sdpType, sdp string) (webrtc.SessionDescription, error) {
	switch sdpType {
	case "offer":
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}, nil
	case "answer":
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}, nil
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unknown descriptor type %q", sdpType)
	}
}
