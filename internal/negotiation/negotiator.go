package negotiation

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/jam-signaling/internal/protocol"
)

// SendFunc delivers a command to the relay. It must be safe for concurrent
// use since ICE candidates are sent from connection callbacks.
type SendFunc func(protocol.ClientCommand) error

// Negotiator is the state kept for one remote peer. Handle must only be
// called from a single goroutine.
type Negotiator struct {
	peer         protocol.PeerID
	polite       bool
	pendingOffer bool

	conn Connection
	send SendFunc
	log  *logrus.Entry
}

// NewNegotiator takes ownership of conn and starts forwarding its local ICE
// candidates to peer.
func NewNegotiator(peer protocol.PeerID, polite bool, conn Connection, send SendFunc) *Negotiator {
	n := &Negotiator{
		peer:   peer,
		polite: polite,
		conn:   conn,
		send:   send,
		log:    logrus.WithField("peer", peer),
	}
	conn.OnICECandidate(n.sendCandidate)
	return n
}

func (n *Negotiator) Peer() protocol.PeerID { return n.peer }
func (n *Negotiator) Polite() bool          { return n.polite }
func (n *Negotiator) PendingOffer() bool    { return n.pendingOffer }

// Handle applies one relay command addressed to this peer. A returned error
// concerns this peer only.
func (n *Negotiator) Handle(cmd protocol.ServerCommand) error {
	switch c := cmd.(type) {
	case protocol.CreateOffer:
		return n.createOffer()
	case protocol.CreateAnswer:
		return n.createAnswer(c.SDP)
	case protocol.GetAnswer:
		if err := n.conn.SetRemoteDescription(SDPTypeAnswer, c.SDP); err != nil {
			return errors.Wrap(err, "apply remote answer")
		}
		n.pendingOffer = false
		return nil
	case protocol.AddIceCandidate:
		return n.addCandidate(c.Candidate)
	case protocol.AddMember:
		n.polite = c.Polite
		return nil
	case protocol.DropMember:
		return n.Close()
	}
	return nil
}

func (n *Negotiator) createOffer() error {
	if state := n.conn.SignalingState(); state != SignalingStateStable {
		n.log.WithField("state", state).Debug("Negotiation in progress, offer skipped")
		return nil
	}
	sdp, err := n.conn.CreateOffer()
	if err != nil {
		return errors.Wrap(err, "create offer")
	}
	n.pendingOffer = true
	return n.send(protocol.Offer{To: n.peer, SDP: sdp})
}

func (n *Negotiator) createAnswer(offer string) error {
	if !n.polite && n.pendingOffer {
		n.log.Debug("Ignoring colliding offer, waiting for ours to be answered")
		return nil
	}

	if state := n.conn.SignalingState(); state != SignalingStateStable {
		if !n.polite {
			n.log.WithField("state", state).Debug("Ignoring offer while not stable")
			return nil
		}
		if err := n.conn.Rollback(); err != nil {
			return errors.Wrap(err, "rollback local offer")
		}
		n.pendingOffer = false
	}

	if err := n.conn.SetRemoteDescription(SDPTypeOffer, offer); err != nil {
		return errors.Wrap(err, "apply remote offer")
	}
	answer, err := n.conn.CreateAnswer()
	if err != nil {
		return errors.Wrap(err, "create answer")
	}
	return n.send(protocol.Answer{To: n.peer, SDP: answer})
}

func (n *Negotiator) addCandidate(payload string) error {
	candidate, err := protocol.ParseCandidate(payload)
	if err != nil {
		n.log.WithError(err).Warn("Discarding undecodable ICE candidate")
		return nil
	}
	if err := n.conn.AddICECandidate(candidate); err != nil {
		return errors.Wrap(err, "add ice candidate")
	}
	return nil
}

func (n *Negotiator) sendCandidate(c protocol.Candidate) {
	payload, err := c.Encode()
	if err != nil {
		n.log.WithError(err).Warn("Failed to encode local ICE candidate")
		return
	}
	if err := n.send(protocol.IceCandidate{To: n.peer, Candidate: payload}); err != nil {
		n.log.WithError(err).Warn("Failed to send local ICE candidate")
	}
}

// Close releases the connection.
func (n *Negotiator) Close() error {
	return n.conn.Close()
}
