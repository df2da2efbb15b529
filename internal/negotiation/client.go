package negotiation

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/jam-signaling/internal/protocol"
	"github.com/mossy-p/jam-signaling/internal/session"
)

const defaultPeerBacklog = 256

// Client is the local participant. It owns one Negotiator per remote peer,
// each serviced by its own goroutine.
type Client struct {
	transport Transport
	factory   ConnectionFactory

	// OnMember is called when the relay introduces (joined=true) or drops a
	// remote peer.
	OnMember func(peer protocol.PeerID, polite, joined bool)
	// OnTrack is called for remote media on any peer connection.
	OnTrack func(peer protocol.PeerID, track Track)
	// OnError receives failures that concern a single peer.
	OnError func(peer protocol.PeerID, err error)

	mu    sync.Mutex
	peers map[protocol.PeerID]*remotePeer
	wg    sync.WaitGroup
}

type remotePeer struct {
	negotiator *Negotiator
	inbox      *session.Queue[protocol.ServerCommand]
	quit       chan struct{}
}

func NewClient(transport Transport, factory ConnectionFactory) *Client {
	return &Client{
		transport: transport,
		factory:   factory,
		peers:     make(map[protocol.PeerID]*remotePeer),
	}
}

// Peers returns the ids of the remote peers currently known.
func (c *Client) Peers() []protocol.PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]protocol.PeerID, 0, len(c.peers))
	for id := range c.peers {
		ids = append(ids, id)
	}
	return ids
}

// Run dispatches relay commands until the transport fails or ctx is
// cancelled. Every peer connection is closed before Run returns.
func (c *Client) Run(ctx context.Context) error {
	defer c.shutdown()

	for {
		cmd, err := c.transport.ReadCommand(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.dispatch(ctx, cmd)
	}
}

func (c *Client) dispatch(ctx context.Context, cmd protocol.ServerCommand) {
	peer := cmd.Origin()

	switch cmd := cmd.(type) {
	case protocol.AddMember:
		if c.deliver(peer, cmd) {
			return
		}
		if err := c.addPeer(ctx, peer, cmd.Polite); err != nil {
			c.reportError(peer, err)
			return
		}
		if c.OnMember != nil {
			c.OnMember(peer, cmd.Polite, true)
		}

	case protocol.DropMember:
		if !c.dropPeer(peer) {
			logrus.WithField("peer", peer).Debug("Drop for unknown peer")
			return
		}
		if c.OnMember != nil {
			c.OnMember(peer, false, false)
		}

	default:
		if !c.deliver(peer, cmd) {
			logrus.WithField("peer", peer).Warn("Command for unknown peer dropped")
		}
	}
}

// deliver queues cmd for peer and reports whether the peer is known.
func (c *Client) deliver(peer protocol.PeerID, cmd protocol.ServerCommand) bool {
	c.mu.Lock()
	r, ok := c.peers[peer]
	c.mu.Unlock()
	if !ok {
		return false
	}
	if !r.inbox.Push(cmd) {
		logrus.WithField("peer", peer).Warn("Peer backlog full, command dropped")
	}
	return true
}

func (c *Client) addPeer(ctx context.Context, peer protocol.PeerID, polite bool) error {
	conn, err := c.factory.NewConnection()
	if err != nil {
		return errors.Wrap(err, "new peer connection")
	}

	r := &remotePeer{
		negotiator: NewNegotiator(peer, polite, conn, c.transport.WriteCommand),
		inbox:      session.NewQueue[protocol.ServerCommand](defaultPeerBacklog),
		quit:       make(chan struct{}),
	}
	conn.OnNegotiationNeeded(func() {
		r.inbox.Push(protocol.CreateOffer{From: peer})
	})
	conn.OnTrack(func(t Track) {
		if c.OnTrack != nil {
			c.OnTrack(peer, t)
		}
	})

	c.mu.Lock()
	c.peers[peer] = r
	c.mu.Unlock()

	c.wg.Add(1)
	go c.runPeer(ctx, r)
	return nil
}

func (c *Client) dropPeer(peer protocol.PeerID) bool {
	c.mu.Lock()
	r, ok := c.peers[peer]
	delete(c.peers, peer)
	c.mu.Unlock()
	if ok {
		close(r.quit)
	}
	return ok
}

func (c *Client) runPeer(ctx context.Context, r *remotePeer) {
	defer c.wg.Done()
	defer func() {
		r.inbox.Close()
		if err := r.negotiator.Close(); err != nil {
			logrus.WithField("peer", r.negotiator.Peer()).WithError(err).Warn("Failed to close peer connection")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.quit:
			return
		case <-r.inbox.Ready():
			for _, cmd := range r.inbox.Drain() {
				if err := r.negotiator.Handle(cmd); err != nil {
					c.reportError(r.negotiator.Peer(), err)
				}
			}
		}
	}
}

func (c *Client) reportError(peer protocol.PeerID, err error) {
	logrus.WithField("peer", peer).WithError(err).Warn("Negotiation failed")
	if c.OnError != nil {
		c.OnError(peer, err)
	}
}

func (c *Client) shutdown() {
	c.mu.Lock()
	peers := c.peers
	c.peers = make(map[protocol.PeerID]*remotePeer)
	c.mu.Unlock()

	for _, r := range peers {
		close(r.quit)
	}
	c.wg.Wait()
}
