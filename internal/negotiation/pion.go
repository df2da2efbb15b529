package negotiation

import (
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"

	"github.com/mossy-p/jam-signaling/internal/protocol"
)

// DefaultICEServers are the public STUN servers jam clients use when none
// are configured.
var DefaultICEServers = []string{
	"stun:stun.stunprotocol.org:3478",
	"stun:stun.l.google.com:19302",
}

type PionOptions struct {
	ICEServers    []string
	LoggerFactory logging.LoggerFactory
	// Tracks are added to every connection the factory creates.
	Tracks []webrtc.TrackLocal
}

// PionFactory creates pion peer connections sharing one API instance.
type PionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
	tracks []webrtc.TrackLocal
}

func NewPionFactory(opts PionOptions) (*PionFactory, error) {
	se := webrtc.SettingEngine{}
	if opts.LoggerFactory != nil {
		se.LoggerFactory = opts.LoggerFactory
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, errors.Wrap(err, "register codecs")
	}

	var config webrtc.Configuration
	if len(opts.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: opts.ICEServers}}
	}

	return &PionFactory{
		api: webrtc.NewAPI(
			webrtc.WithSettingEngine(se),
			webrtc.WithMediaEngine(mediaEngine),
		),
		config: config,
		tracks: opts.Tracks,
	}, nil
}

func (f *PionFactory) NewConnection() (Connection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, errors.Wrap(err, "new peer connection")
	}
	for _, track := range f.tracks {
		if _, err := pc.AddTrack(track); err != nil {
			_ = pc.Close()
			return nil, errors.Wrapf(err, "add track %s", track.ID())
		}
	}
	if len(f.tracks) == 0 {
		// Receive-only listeners still need an audio section to negotiate.
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			_ = pc.Close()
			return nil, errors.Wrap(err, "add audio transceiver")
		}
	}
	return &PionConnection{pc: pc}, nil
}

// PionConnection adapts a pion PeerConnection to Connection.
type PionConnection struct {
	pc *webrtc.PeerConnection
}

func (c *PionConnection) PeerConnection() *webrtc.PeerConnection {
	return c.pc
}

func (c *PionConnection) CreateOffer() (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (c *PionConnection) CreateAnswer() (string, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (c *PionConnection) SetRemoteDescription(typ SDPType, sdp string) error {
	var desc webrtc.SessionDescription
	switch typ {
	case SDPTypeOffer:
		desc.Type = webrtc.SDPTypeOffer
	case SDPTypeAnswer:
		desc.Type = webrtc.SDPTypeAnswer
	default:
		return errors.Errorf("unsupported description type %d", typ)
	}
	desc.SDP = sdp
	return c.pc.SetRemoteDescription(desc)
}

// Rollback needs the pending offer's SDP because pion parses the description
// even for a rollback.
func (c *PionConnection) Rollback() error {
	pending := c.pc.PendingLocalDescription()
	if pending == nil {
		return errors.New("no pending local description")
	}
	return c.pc.SetLocalDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeRollback,
		SDP:  pending.SDP,
	})
}

func (c *PionConnection) AddICECandidate(candidate protocol.Candidate) error {
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        candidate.Candidate,
		SDPMid:           candidate.SDPMid,
		SDPMLineIndex:    candidate.SDPMLineIndex,
		UsernameFragment: candidate.UsernameFragment,
	})
}

func (c *PionConnection) SignalingState() SignalingState {
	switch c.pc.SignalingState() {
	case webrtc.SignalingStateStable:
		return SignalingStateStable
	case webrtc.SignalingStateHaveLocalOffer, webrtc.SignalingStateHaveLocalPranswer:
		return SignalingStateHaveLocalOffer
	case webrtc.SignalingStateHaveRemoteOffer, webrtc.SignalingStateHaveRemotePranswer:
		return SignalingStateHaveRemoteOffer
	default:
		return SignalingStateClosed
	}
}

func (c *PionConnection) OnICECandidate(f func(protocol.Candidate)) {
	c.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		f(protocol.Candidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
}

func (c *PionConnection) OnTrack(f func(Track)) {
	c.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		f(Track{
			ID:       remote.ID(),
			StreamID: remote.StreamID(),
			Kind:     remote.Kind().String(),
			Remote:   remote,
		})
	})
}

func (c *PionConnection) OnNegotiationNeeded(f func()) {
	c.pc.OnNegotiationNeeded(f)
}

func (c *PionConnection) Close() error {
	return c.pc.Close()
}
