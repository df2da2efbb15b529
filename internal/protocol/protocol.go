// Package protocol defines the messages exchanged between jam session clients
// and the signaling relay.
//
// Two disjoint families exist. ClientCommand values travel client→server and
// name the target peer; ServerCommand values travel server→client and name the
// origin peer. SDP and ICE payloads are opaque strings to the relay.
package protocol

import (
	"github.com/google/uuid"
)

// PeerID identifies one connected client for the lifetime of its socket.
type PeerID uuid.UUID

// NewPeerID returns a fresh random (v4) peer id.
func NewPeerID() PeerID {
	return PeerID(uuid.New())
}

// ParsePeerID parses the canonical UUID form of a peer id.
func ParsePeerID(s string) (PeerID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return PeerID{}, err
	}
	return PeerID(u), nil
}

func (id PeerID) String() string {
	return uuid.UUID(id).String()
}

func (id PeerID) IsZero() bool {
	return id == PeerID{}
}

func (id PeerID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *PeerID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

// ClientCommand is sent by a client to the relay.
type ClientCommand interface {
	// Target is the peer the command is addressed to.
	Target() PeerID
	clientCommand()
}

// Offer carries a local SDP offer for To.
type Offer struct {
	To  PeerID
	SDP string
}

// Answer carries a local SDP answer for To.
type Answer struct {
	To  PeerID
	SDP string
}

// IceCandidate carries a serialized local ICE candidate for To.
type IceCandidate struct {
	To        PeerID
	Candidate string
}

func (c Offer) Target() PeerID        { return c.To }
func (c Answer) Target() PeerID       { return c.To }
func (c IceCandidate) Target() PeerID { return c.To }

func (Offer) clientCommand()        {}
func (Answer) clientCommand()       {}
func (IceCandidate) clientCommand() {}

// ServerCommand is sent by the relay to a client.
type ServerCommand interface {
	// Origin is the remote peer the command concerns.
	Origin() PeerID
	serverCommand()
}

// CreateOffer asks the client to produce an offer for From.
type CreateOffer struct {
	From PeerID
}

// CreateAnswer delivers an offer from From that should be answered.
type CreateAnswer struct {
	From PeerID
	SDP  string
}

// GetAnswer delivers From's answer to an offer the client sent earlier.
type GetAnswer struct {
	From PeerID
	SDP  string
}

// AddIceCandidate delivers a remote ICE candidate produced by From.
type AddIceCandidate struct {
	From      PeerID
	Candidate string
}

// AddMember introduces From. Polite is this client's role toward From when
// both sides offer at once.
type AddMember struct {
	From   PeerID
	Polite bool
}

// DropMember reports that From left the session.
type DropMember struct {
	From PeerID
}

func (c CreateOffer) Origin() PeerID     { return c.From }
func (c CreateAnswer) Origin() PeerID    { return c.From }
func (c GetAnswer) Origin() PeerID       { return c.From }
func (c AddIceCandidate) Origin() PeerID { return c.From }
func (c AddMember) Origin() PeerID       { return c.From }
func (c DropMember) Origin() PeerID      { return c.From }

func (CreateOffer) serverCommand()     {}
func (CreateAnswer) serverCommand()    {}
func (GetAnswer) serverCommand()       {}
func (AddIceCandidate) serverCommand() {}
func (AddMember) serverCommand()       {}
func (DropMember) serverCommand()      {}
