// Package relay runs the server side of one signaling connection.
//
// A Peer introduces its client to everyone else in the session and relays
// offers, answers and ICE candidates between clients by peer id. Payloads are
// forwarded verbatim.
package relay

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/jam-signaling/internal/protocol"
	"github.com/mossy-p/jam-signaling/internal/session"
)

const (
	defaultWriteWait       = 10 * time.Second
	defaultPongWait        = 60 * time.Second
	defaultPingPeriod      = 54 * time.Second
	defaultMaxMessageBytes = 64 * 1024
	defaultDirectCapacity  = 64
)

var errNonTextFrame = errors.New("relay: expected text frame")

type Options struct {
	Session         string
	DirectCapacity  int
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	MaxMessageBytes int64
}

func (o Options) withDefaults() Options {
	if o.DirectCapacity <= 0 {
		o.DirectCapacity = defaultDirectCapacity
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = defaultMaxMessageBytes
	}
	return o
}

type State int

const (
	StateConnecting State = iota
	StateActive
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Peer is the handler for one client socket. All of its fields are owned by
// the goroutine executing Run.
type Peer struct {
	id       protocol.PeerID
	conn     *websocket.Conn
	registry *session.Registry
	opts     Options

	inbox        *session.Direct
	participants map[protocol.PeerID]*session.Direct
	// departed holds ids seen in a Goodbye. Ids are never reused, so a
	// Welcome that arrives after the Goodbye is stale.
	departed map[protocol.PeerID]struct{}

	state State
	log   *logrus.Entry
}

func NewPeer(conn *websocket.Conn, registry *session.Registry, opts Options) *Peer {
	opts = opts.withDefaults()
	id := protocol.NewPeerID()
	return &Peer{
		id:           id,
		conn:         conn,
		registry:     registry,
		opts:         opts,
		inbox:        session.NewDirect(opts.DirectCapacity),
		participants: make(map[protocol.PeerID]*session.Direct),
		departed:     make(map[protocol.PeerID]struct{}),
		state:        StateConnecting,
		log: logrus.WithFields(logrus.Fields{
			"peer":    id,
			"session": opts.Session,
			"remote":  conn.RemoteAddr().String(),
		}),
	}
}

func (p *Peer) ID() protocol.PeerID {
	return p.id
}

func (p *Peer) setState(s State) {
	p.log.WithField("state", s).Debug("Peer state changed")
	p.state = s
}

// Run joins the session and services the connection until the socket fails,
// the client sends something unparseable, or ctx is cancelled. Peers in the
// session are always told about the departure before Run returns.
func (p *Peer) Run(ctx context.Context) {
	p.setState(StateActive)
	sub := p.registry.Enter(p.opts.Session, p.id, p.inbox)
	p.log.Info("Peer joined session")

	defer func() {
		p.setState(StateClosing)
		p.registry.Leave(sub)
		p.inbox.Close()
		p.conn.Close()
		p.log.WithField("participants", len(p.participants)).Info("Peer left session")
	}()

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go p.readPump(frames, readErr, done)

	ticker := time.NewTicker(p.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.writeClose(websocket.CloseGoingAway, "server shutting down")
			return

		case err := <-readErr:
			switch {
			case errors.Is(err, errNonTextFrame):
				p.log.Warn("Client sent a non-text frame")
				p.writeClose(websocket.CloseUnsupportedData, "expected text message")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
				p.log.WithError(err).Warn("WebSocket error")
			}
			return

		case frame := <-frames:
			if err := p.handleFrame(frame); err != nil {
				p.log.WithError(err).Warn("Failed to parse client command")
				p.writeClose(websocket.CloseUnsupportedData, "invalid message")
				return
			}

		case <-sub.Ready():
			for _, ev := range sub.Drain() {
				if err := p.handleEvent(ev); err != nil {
					p.log.WithError(err).Warn("Failed to write to client")
					return
				}
			}

		case <-p.inbox.Ready():
			for _, cmd := range p.inbox.Drain() {
				if err := p.handleDirect(cmd); err != nil {
					p.log.WithError(err).Warn("Failed to write to client")
					return
				}
			}

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(p.opts.WriteWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (p *Peer) readPump(frames chan<- []byte, errs chan<- error, done <-chan struct{}) {
	p.conn.SetReadLimit(p.opts.MaxMessageBytes)
	p.conn.SetReadDeadline(time.Now().Add(p.opts.PongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(p.opts.PongWait))
	})

	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			errs <- err
			return
		}
		if msgType != websocket.TextMessage {
			errs <- errNonTextFrame
			return
		}
		select {
		case frames <- data:
		case <-done:
			return
		}
	}
}

// handleFrame routes one client command to its target's inbox. Only a parse
// failure is returned; an unknown target is logged and the frame dropped.
func (p *Peer) handleFrame(frame []byte) error {
	cmd, err := protocol.DecodeClient(frame)
	if err != nil {
		return err
	}

	target, ok := p.participants[cmd.Target()]
	if !ok {
		p.log.WithField("target", cmd.Target()).Warn("Missing participant, command dropped")
		return nil
	}

	var direct session.DirectCommand
	switch c := cmd.(type) {
	case protocol.Offer:
		direct = session.CreateAnswerFor{From: p.id, Offer: c.SDP}
	case protocol.Answer:
		direct = session.GetAnswerFrom{From: p.id, Answer: c.SDP}
	case protocol.IceCandidate:
		direct = session.GetIceFrom{From: p.id, Candidate: c.Candidate}
	}

	if !target.Push(direct) {
		p.log.WithField("target", cmd.Target()).Warn("Participant inbox full or closed, command dropped")
	}
	return nil
}

func (p *Peer) handleEvent(ev session.Event) error {
	switch e := ev.(type) {
	case session.Hello:
		// We were here first: we answer the Hello and are polite toward the
		// newcomer.
		if !e.Direct.Push(session.Welcome{From: p.id, Direct: p.inbox}) {
			p.log.WithField("target", e.From).Warn("Failed to welcome newcomer, inbox full or closed")
		}
		p.participants[e.From] = e.Direct
		if err := p.send(protocol.AddMember{From: e.From, Polite: true}); err != nil {
			return err
		}
		return p.send(protocol.CreateOffer{From: e.From})

	case session.Goodbye:
		p.departed[e.From] = struct{}{}
		if _, ok := p.participants[e.From]; !ok {
			return nil
		}
		delete(p.participants, e.From)
		return p.send(protocol.DropMember{From: e.From})
	}
	return nil
}

func (p *Peer) handleDirect(cmd session.DirectCommand) error {
	switch c := cmd.(type) {
	case session.Welcome:
		if _, gone := p.departed[c.From]; gone {
			p.log.WithField("origin", c.From).Debug("Ignoring welcome from departed peer")
			return nil
		}
		p.participants[c.From] = c.Direct
		return p.send(protocol.AddMember{From: c.From, Polite: false})
	case session.CreateOfferFor:
		return p.send(protocol.CreateOffer{From: c.From})
	case session.CreateAnswerFor:
		return p.send(protocol.CreateAnswer{From: c.From, SDP: c.Offer})
	case session.GetAnswerFrom:
		return p.send(protocol.GetAnswer{From: c.From, SDP: c.Answer})
	case session.GetIceFrom:
		return p.send(protocol.AddIceCandidate{From: c.From, Candidate: c.Candidate})
	}
	return nil
}

func (p *Peer) send(cmd protocol.ServerCommand) error {
	data, err := protocol.EncodeServer(cmd)
	if err != nil {
		return err
	}
	p.conn.SetWriteDeadline(time.Now().Add(p.opts.WriteWait))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *Peer) writeClose(code int, reason string) {
	_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(p.opts.WriteWait))
}
