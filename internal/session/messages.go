package session

import "github.com/mossy-p/jam-signaling/internal/protocol"

// Direct is the inbox of one connection handler. Other handlers in the same
// session push DirectCommands into it.
type Direct = Queue[DirectCommand]

// NewDirect returns an inbox holding at most capacity pending commands.
func NewDirect(capacity int) *Direct {
	return NewQueue[DirectCommand](capacity)
}

// Event is published on a session broadcast.
type Event interface {
	Origin() protocol.PeerID
	event()
}

// Hello announces a peer that just entered the session together with the
// inbox that reaches it.
type Hello struct {
	From   protocol.PeerID
	Direct *Direct
}

// Goodbye announces that a peer left the session.
type Goodbye struct {
	From protocol.PeerID
}

func (e Hello) Origin() protocol.PeerID   { return e.From }
func (e Goodbye) Origin() protocol.PeerID { return e.From }

func (Hello) event()   {}
func (Goodbye) event() {}

// DirectCommand travels from one handler to another over a Direct inbox.
type DirectCommand interface {
	Origin() protocol.PeerID
	directCommand()
}

// Welcome answers a Hello. It hands the newcomer the incumbent's inbox.
type Welcome struct {
	From   protocol.PeerID
	Direct *Direct
}

type CreateOfferFor struct {
	From protocol.PeerID
}

type CreateAnswerFor struct {
	From  protocol.PeerID
	Offer string
}

type GetAnswerFrom struct {
	From   protocol.PeerID
	Answer string
}

type GetIceFrom struct {
	From      protocol.PeerID
	Candidate string
}

func (c Welcome) Origin() protocol.PeerID         { return c.From }
func (c CreateOfferFor) Origin() protocol.PeerID  { return c.From }
func (c CreateAnswerFor) Origin() protocol.PeerID { return c.From }
func (c GetAnswerFrom) Origin() protocol.PeerID   { return c.From }
func (c GetIceFrom) Origin() protocol.PeerID      { return c.From }

func (Welcome) directCommand()         {}
func (CreateOfferFor) directCommand()  {}
func (CreateAnswerFor) directCommand() {}
func (GetAnswerFrom) directCommand()   {}
func (GetIceFrom) directCommand()      {}
