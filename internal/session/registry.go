// Package session holds the process-wide table of named jam sessions.
//
// Each session is a Broadcast that every connection handler in it subscribes
// to. Handlers then talk pairwise over Direct inboxes handed out in Hello and
// Welcome messages.
package session

import (
	"regexp"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/jam-signaling/internal/protocol"
)

// DefaultCapacity is the per-subscriber backlog of a session broadcast.
const DefaultCapacity = 10

var (
	ErrInvalidName = errors.New("session: invalid name")

	namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// ValidateName checks a client supplied session name.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return errors.Wrapf(ErrInvalidName, "%q", name)
	}
	return nil
}

type Options struct {
	// Capacity bounds each subscriber's pending events.
	Capacity int
	// ReapEmpty removes a session once its last subscriber leaves. When false
	// sessions live for the lifetime of the process.
	ReapEmpty bool
}

// Registry maps session names to broadcasts.
type Registry struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*Broadcast
}

// SessionInfo is a snapshot of one live session.
type SessionInfo struct {
	Name  string `json:"name"`
	Peers int    `json:"peers"`
}

func NewRegistry(opts Options) *Registry {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	return &Registry{
		opts:     opts,
		sessions: make(map[string]*Broadcast),
	}
}

// Join returns the broadcast for name, creating it on first use. Concurrent
// first joins all observe the same broadcast.
func (r *Registry) Join(name string) *Broadcast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joinLocked(name)
}

func (r *Registry) joinLocked(name string) *Broadcast {
	b, ok := r.sessions[name]
	if !ok {
		b = newBroadcast(name, r.opts.Capacity)
		r.sessions[name] = b
		logrus.WithField("session", name).Info("Created new session")
	}
	return b
}

// Enter joins name, subscribes id and announces it with a Hello carrying
// direct.
func (r *Registry) Enter(name string, id protocol.PeerID, direct *Direct) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joinLocked(name).enter(id, direct)
}

// Leave unsubscribes and publishes a Goodbye. Leaving twice is a no-op.
func (r *Registry) Leave(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := sub.broadcast
	remaining := b.leave(sub)
	if r.opts.ReapEmpty && remaining == 0 && r.sessions[b.name] == b {
		delete(r.sessions, b.name)
		logrus.WithField("session", b.name).Info("Removed empty session")
	}
}

// Lookup returns the broadcast for name without creating it.
func (r *Registry) Lookup(name string) (*Broadcast, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.sessions[name]
	return b, ok
}

// Sessions lists every known session sorted by name.
func (r *Registry) Sessions() []SessionInfo {
	r.mu.Lock()
	bs := make([]*Broadcast, 0, len(r.sessions))
	for _, b := range r.sessions {
		bs = append(bs, b)
	}
	r.mu.Unlock()

	infos := make([]SessionInfo, 0, len(bs))
	for _, b := range bs {
		infos = append(infos, SessionInfo{Name: b.name, Peers: b.Subscribers()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
