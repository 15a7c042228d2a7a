// Package signaling implements the client side of the PeerJS-compatible
// rendezvous protocol: a persistent WebSocket to a public relay server
// over which peers exchange session descriptors and candidates.
package signaling

import "encoding/json"

// Wire message types used by the rendezvous server.
const (
	msgTypeOpen       = "OPEN"
	msgTypeIDTaken    = "ID-TAKEN"
	msgTypeInvalidKey = "INVALID-KEY"
	msgTypeError      = "ERROR"
	msgTypeOffer      = "OFFER"
	msgTypeAnswer     = "ANSWER"
	msgTypeCandidate  = "CANDIDATE"
	msgTypeLeave      = "LEAVE"
	msgTypeExpire     = "EXPIRE"
	msgTypeHeartbeat  = "HEARTBEAT"
)

// message is the JSON envelope exchanged with the rendezvous server in
// both directions.
type message struct {
	Type    string          `json:"type"`
	Src     string          `json:"src,omitempty"`
	Dst     string          `json:"dst,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SessionDescription is the opaque negotiated description relayed between
// peers.
type SessionDescription struct {
	Type string `json:"type"` // "offer" or "answer"
	SDP  string `json:"sdp"`
}

// sdpPayload carries an offer or answer plus the connection-scoped id
// correlating one exchange. The browser/label/reliable/serialization
// fields exist for compatibility with stock PeerJS servers.
type sdpPayload struct {
	SDP           SessionDescription `json:"sdp"`
	Type          string             `json:"type"` // always "data"
	ConnectionID  string             `json:"connectionId"`
	Browser       string             `json:"browser,omitempty"`
	Label         string             `json:"label,omitempty"`
	Reliable      *bool              `json:"reliable,omitempty"`
	Serialization string             `json:"serialization,omitempty"`
}

// Candidate is an incremental connectivity hint relayed between peers.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
}

type candidatePayload struct {
	Candidate    Candidate `json:"candidate"`
	Type         string    `json:"type"` // always "data"
	ConnectionID string    `json:"connectionId"`
}

type errorPayload struct {
	Message string `json:"msg"`
}

// EventKind identifies a typed inbound signaling event.
type EventKind string

const (
	EventOpen       EventKind = "open"
	EventIDTaken    EventKind = "id-taken"
	EventInvalidKey EventKind = "invalid-key"
	EventError      EventKind = "error"
	EventOffer      EventKind = "offer"
	EventAnswer     EventKind = "answer"
	EventCandidate  EventKind = "candidate"
	EventLeave      EventKind = "leave"
	EventExpire     EventKind = "expire"
	EventHeartbeat  EventKind = "heartbeat"
)

// Event is one typed inbound message from the rendezvous server. Only the
// fields relevant to Kind are populated.
type Event struct {
	Kind         EventKind
	Src          string
	Message      string             // error
	SDP          SessionDescription // offer / answer
	ConnectionID string             // offer / answer / candidate
	Candidate    Candidate          // candidate
}

// parseEvent converts a wire envelope to a typed event. ok is false when
// the envelope cannot be understood; callers log and drop those.
func parseEvent(msg message) (Event, bool) {
	switch msg.Type {
	case msgTypeOpen:
		return Event{Kind: EventOpen}, true
	case msgTypeIDTaken:
		return Event{Kind: EventIDTaken}, true
	case msgTypeInvalidKey:
		return Event{Kind: EventInvalidKey}, true
	case msgTypeLeave:
		return Event{Kind: EventLeave, Src: msg.Src}, true
	case msgTypeExpire:
		return Event{Kind: EventExpire}, true
	case msgTypeHeartbeat:
		return Event{Kind: EventHeartbeat}, true

	case msgTypeError:
		var p errorPayload
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				return Event{}, false
			}
		}
		if p.Message == "" {
			p.Message = "unknown error"
		}
		return Event{Kind: EventError, Message: p.Message}, true

	case msgTypeOffer, msgTypeAnswer:
		var p sdpPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return Event{}, false
		}
		kind := EventOffer
		if msg.Type == msgTypeAnswer {
			kind = EventAnswer
		}
		return Event{Kind: kind, Src: msg.Src, SDP: p.SDP, ConnectionID: p.ConnectionID}, true

	case msgTypeCandidate:
		var p candidatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return Event{}, false
		}
		return Event{Kind: EventCandidate, Src: msg.Src, Candidate: p.Candidate, ConnectionID: p.ConnectionID}, true

	default:
		return Event{}, false
	}
}
