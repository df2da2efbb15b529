// Package negotiation drives a peer connection through offer/answer/ICE
// exchange in response to relay commands.
//
// One Negotiator exists per remote peer. Glare (both sides offering at once)
// is resolved by the polite flag the relay assigns when it introduces the
// two peers: the polite side rolls back its own offer, the impolite side
// ignores the incoming one.
package negotiation

import (
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/jam-signaling/internal/protocol"
)

type SDPType int

const (
	SDPTypeOffer SDPType = iota + 1
	SDPTypeAnswer
)

func (t SDPType) String() string {
	switch t {
	case SDPTypeOffer:
		return "offer"
	case SDPTypeAnswer:
		return "answer"
	default:
		return "unknown"
	}
}

type SignalingState int

const (
	SignalingStateStable SignalingState = iota
	SignalingStateHaveLocalOffer
	SignalingStateHaveRemoteOffer
	SignalingStateClosed
)

func (s SignalingState) String() string {
	switch s {
	case SignalingStateStable:
		return "stable"
	case SignalingStateHaveLocalOffer:
		return "have-local-offer"
	case SignalingStateHaveRemoteOffer:
		return "have-remote-offer"
	case SignalingStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Track is remote media that arrived on a connection.
type Track struct {
	ID       string
	StreamID string
	Kind     string

	// Remote is set when the connection is backed by pion.
	Remote *webrtc.TrackRemote
}

// Connection is the peer connection a Negotiator drives. Callbacks may be
// invoked from any goroutine.
type Connection interface {
	// CreateOffer creates an offer and applies it as the local description.
	CreateOffer() (string, error)
	// CreateAnswer creates an answer to the applied remote offer and applies
	// it as the local description.
	CreateAnswer() (string, error)
	SetRemoteDescription(typ SDPType, sdp string) error
	// Rollback discards a pending local offer.
	Rollback() error
	AddICECandidate(c protocol.Candidate) error
	SignalingState() SignalingState

	OnICECandidate(func(protocol.Candidate))
	OnTrack(func(Track))
	OnNegotiationNeeded(func())

	Close() error
}

// ConnectionFactory creates one Connection per remote peer.
type ConnectionFactory interface {
	NewConnection() (Connection, error)
}
