package negotiation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mossy-p/jam-signaling/internal/protocol"
)

// chanTransport feeds scripted server commands and collects client commands.
type chanTransport struct {
	in  chan protocol.ServerCommand
	out chan protocol.ClientCommand
}

func newChanTransport() *chanTransport {
	return &chanTransport{
		in:  make(chan protocol.ServerCommand, 16),
		out: make(chan protocol.ClientCommand, 64),
	}
}

func (t *chanTransport) ReadCommand(ctx context.Context) (protocol.ServerCommand, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case cmd, ok := <-t.in:
		if !ok {
			return nil, errors.New("transport closed")
		}
		return cmd, nil
	}
}

func (t *chanTransport) WriteCommand(cmd protocol.ClientCommand) error {
	t.out <- cmd
	return nil
}

func (t *chanTransport) Close() error { return nil }

func (t *chanTransport) next(tb testing.TB) protocol.ClientCommand {
	tb.Helper()
	select {
	case cmd := <-t.out:
		return cmd
	case <-time.After(5 * time.Second):
		tb.Fatalf("client sent nothing")
		return nil
	}
}

type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
	fail  error
}

func (f *fakeFactory) NewConnection() (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	c := &fakeConn{}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeFactory) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}

func startClient(t *testing.T, factory ConnectionFactory) (*Client, *chanTransport, <-chan error) {
	t.Helper()
	transport := newChanTransport()
	client := NewClient(transport, factory)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return client, transport, done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestClient_IncumbentOffers(t *testing.T) {
	factory := &fakeFactory{}
	_, transport, _ := startClient(t, factory)
	peer := protocol.NewPeerID()

	transport.in <- protocol.AddMember{From: peer, Polite: true}
	transport.in <- protocol.CreateOffer{From: peer}

	if cmd := transport.next(t); cmd != (protocol.Offer{To: peer, SDP: "local-offer"}) {
		t.Fatalf("sent %#v, want Offer", cmd)
	}

	transport.in <- protocol.GetAnswer{From: peer, SDP: "their-answer"}
	waitFor(t, func() bool { return factory.conn(0).SignalingState() == SignalingStateStable })
}

func TestClient_NewcomerAnswers(t *testing.T) {
	factory := &fakeFactory{}
	_, transport, _ := startClient(t, factory)
	peer := protocol.NewPeerID()

	transport.in <- protocol.AddMember{From: peer, Polite: false}
	transport.in <- protocol.CreateAnswer{From: peer, SDP: "their-offer"}

	if cmd := transport.next(t); cmd != (protocol.Answer{To: peer, SDP: "local-answer"}) {
		t.Fatalf("sent %#v, want Answer", cmd)
	}
}

func TestClient_UnknownPeerIgnored(t *testing.T) {
	factory := &fakeFactory{}
	client, transport, _ := startClient(t, factory)

	transport.in <- protocol.CreateOffer{From: protocol.NewPeerID()}
	transport.in <- protocol.DropMember{From: protocol.NewPeerID()}

	known := protocol.NewPeerID()
	transport.in <- protocol.AddMember{From: known, Polite: true}
	transport.in <- protocol.CreateOffer{From: known}
	if cmd := transport.next(t); cmd.Target() != known {
		t.Fatalf("sent %#v, want offer to the known peer", cmd)
	}
	if peers := client.Peers(); len(peers) != 1 {
		t.Fatalf("peers=%v, want only the known one", peers)
	}
}

func TestClient_DropMemberClosesConnection(t *testing.T) {
	factory := &fakeFactory{}
	client, transport, _ := startClient(t, factory)

	var mu sync.Mutex
	var events []bool
	client.OnMember = func(_ protocol.PeerID, _, joined bool) {
		mu.Lock()
		events = append(events, joined)
		mu.Unlock()
	}

	peer := protocol.NewPeerID()
	transport.in <- protocol.AddMember{From: peer, Polite: true}
	transport.in <- protocol.DropMember{From: peer}

	waitFor(t, func() bool {
		factory.mu.Lock()
		defer factory.mu.Unlock()
		return len(factory.conns) == 1 && factory.conns[0].isClosed()
	})
	waitFor(t, func() bool { return len(client.Peers()) == 0 })

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || !events[0] || events[1] {
		t.Fatalf("member events=%v, want [join drop]", events)
	}
}

func TestClient_PeerErrorsAreIsolated(t *testing.T) {
	factory := &fakeFactory{}
	client, transport, _ := startClient(t, factory)

	errs := make(chan protocol.PeerID, 4)
	client.OnError = func(peer protocol.PeerID, _ error) { errs <- peer }

	bad, good := protocol.NewPeerID(), protocol.NewPeerID()
	transport.in <- protocol.AddMember{From: bad, Polite: true}
	transport.in <- protocol.AddMember{From: good, Polite: true}
	// An answer with no offer outstanding is rejected by the connection.
	transport.in <- protocol.GetAnswer{From: bad, SDP: "stray"}

	select {
	case peer := <-errs:
		if peer != bad {
			t.Fatalf("error reported for %s, want %s", peer, bad)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no error reported")
	}

	transport.in <- protocol.CreateOffer{From: good}
	if cmd := transport.next(t); cmd != (protocol.Offer{To: good, SDP: "local-offer"}) {
		t.Fatalf("sent %#v, healthy peer affected", cmd)
	}
}

func TestClient_FactoryFailureReported(t *testing.T) {
	factory := &fakeFactory{fail: errors.New("no media")}
	client, transport, _ := startClient(t, factory)

	errs := make(chan error, 1)
	client.OnError = func(_ protocol.PeerID, err error) { errs <- err }

	transport.in <- protocol.AddMember{From: protocol.NewPeerID(), Polite: false}
	select {
	case err := <-errs:
		if err == nil {
			t.Fatalf("nil error reported")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("factory failure not reported")
	}
	if len(client.Peers()) != 0 {
		t.Fatalf("peer registered without a connection")
	}
}

func TestClient_NegotiationNeededReoffers(t *testing.T) {
	factory := &fakeFactory{}
	client, transport, _ := startClient(t, factory)
	peer := protocol.NewPeerID()

	transport.in <- protocol.AddMember{From: peer, Polite: false}
	waitFor(t, func() bool { return len(client.Peers()) == 1 })

	factory.conn(0).onNegotiation()
	if cmd := transport.next(t); cmd != (protocol.Offer{To: peer, SDP: "local-offer"}) {
		t.Fatalf("sent %#v, want Offer after negotiation-needed", cmd)
	}

	// Not stable any more: a second notification is not acted on.
	factory.conn(0).onNegotiation()
	transport.in <- protocol.GetAnswer{From: peer, SDP: "a"}
	waitFor(t, func() bool { return factory.conn(0).SignalingState() == SignalingStateStable })
	if n := factory.conn(0).offerCount(); n != 1 {
		t.Fatalf("offers=%d, want 1", n)
	}
}

func TestClient_ShutdownClosesConnections(t *testing.T) {
	factory := &fakeFactory{}
	transport := newChanTransport()
	client := NewClient(transport, factory)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	transport.in <- protocol.AddMember{From: protocol.NewPeerID(), Polite: true}
	waitFor(t, func() bool { return len(client.Peers()) == 1 })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v on cancel", err)
	}
	if !factory.conn(0).isClosed() {
		t.Fatalf("connection left open after shutdown")
	}
}
