// Command jamclient is a headless jam participant. It joins a session on a
// relay, negotiates with every other participant and sends a silent opus
// track to each of them.
package main

import (
	"context"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/mossy-p/jam-signaling/internal/discovery"
	"github.com/mossy-p/jam-signaling/internal/logging"
	"github.com/mossy-p/jam-signaling/internal/negotiation"
	"github.com/mossy-p/jam-signaling/internal/protocol"
)

// opusSilence is a single 20ms opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const frameDuration = 20 * time.Millisecond

type options struct {
	server   string
	session  string
	stun     []string
	discover bool
	logLevel string
	dialWait time.Duration
}

func parseFlags() options {
	var o options
	pflag.StringVarP(&o.server, "server", "s", "ws://localhost:8080", "Relay base URL")
	pflag.StringVarP(&o.session, "session", "j", "", "Session to join (relay default when empty)")
	pflag.StringSliceVarP(&o.stun, "stun", "S", negotiation.DefaultICEServers, "List of used STUN servers")
	pflag.BoolVarP(&o.discover, "discover", "d", false, "Find the relay on the local network over mDNS")
	pflag.StringVarP(&o.logLevel, "log-level", "l", "info", "Log level")
	pflag.DurationVar(&o.dialWait, "dial-wait", time.Minute, "Give up connecting to the relay after this long")
	pflag.Parse()
	return o
}

func main() {
	opts := parseFlags()
	logging.Setup(opts.logLevel, "development")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		logrus.WithError(err).Error("jamclient stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	if opts.discover {
		findCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		relay, err := discovery.Find(findCtx)
		cancel()
		if err != nil {
			return errors.Wrap(err, "discovery")
		}
		opts.server = relay.BaseURL()
		if opts.session == "" {
			opts.session = relay.Session
		}
	}

	endpoint, err := signalingURL(opts.server, opts.session)
	if err != nil {
		return err
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "jam",
	)
	if err != nil {
		return errors.Wrap(err, "create local track")
	}
	go sendSilence(ctx, track)

	factory, err := negotiation.NewPionFactory(negotiation.PionOptions{
		ICEServers:    opts.stun,
		LoggerFactory: logging.NewPionFactory(),
		Tracks:        []webrtc.TrackLocal{track},
	})
	if err != nil {
		return errors.Wrap(err, "peer connection factory")
	}

	conn, err := dial(ctx, endpoint, opts.dialWait)
	if err != nil {
		return err
	}
	transport := negotiation.NewWebSocketTransport(conn)
	defer transport.Close()

	client := negotiation.NewClient(transport, factory)
	client.OnMember = func(peer protocol.PeerID, polite, joined bool) {
		entry := logrus.WithField("peer", peer)
		if joined {
			entry.WithField("polite", polite).Info("Participant joined")
		} else {
			entry.Info("Participant left")
		}
	}
	client.OnTrack = func(peer protocol.PeerID, t negotiation.Track) {
		logrus.WithFields(logrus.Fields{"peer": peer, "track": t.ID, "kind": t.Kind}).Info("Receiving remote track")
		if t.Remote != nil {
			go drain(peer, t.Remote)
		}
	}
	client.OnError = func(peer protocol.PeerID, err error) {
		logrus.WithField("peer", peer).WithError(err).Warn("Peer negotiation error")
	}

	logrus.WithField("url", endpoint).Info("Connected to relay")
	return client.Run(ctx)
}

func signalingURL(server, session string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", errors.Wrap(err, "parse server url")
	}
	if session == "" {
		u.Path = "/ws"
	} else {
		u.Path = "/ws/signal/" + url.PathEscape(session)
	}
	return u.String(), nil
}

// dial connects to the relay, retrying with exponential backoff.
func dial(ctx context.Context, endpoint string, maxWait time.Duration) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxWait

	var conn *websocket.Conn
	op := func() error {
		c, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			logrus.WithError(err).WithField("url", endpoint).Warn("Relay not reachable, retrying")
			return err
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, errors.Wrap(err, "dial relay")
	}
	return conn, nil
}

func sendSilence(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := track.WriteSample(media.Sample{Data: opusSilence, Duration: frameDuration}); err != nil {
				logrus.WithError(err).Debug("Failed to write sample")
			}
		}
	}
}

func drain(peer protocol.PeerID, remote *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	packets := 0
	for {
		if _, _, err := remote.Read(buf); err != nil {
			logrus.WithFields(logrus.Fields{"peer": peer, "packets": packets}).Debug("Remote track ended")
			return
		}
		packets++
	}
}
