// Package discovery advertises relays on the local network over mDNS and lets
// clients find them.
package discovery

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/grandcat/zeroconf"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	Service = "_jamsignal._tcp"
	Domain  = "local."
)

// Relay is a relay found on the network.
type Relay struct {
	Instance string
	Host     string
	Port     int
	Session  string
}

func (r Relay) BaseURL() string {
	return fmt.Sprintf("ws://%s:%d", r.Host, r.Port)
}

// URL returns the default-session signaling URL of the relay.
func (r Relay) URL() string {
	return r.BaseURL() + "/ws"
}

// Advertise registers the relay until the returned function is called.
func Advertise(port int, defaultSession string) (func(), error) {
	host, _ := os.Hostname()
	server, err := zeroconf.Register(
		fmt.Sprintf("jam-%s", host),
		Service,
		Domain,
		port,
		[]string{"txtv=0", "session=" + defaultSession},
		nil,
	)
	if err != nil {
		return nil, errors.Wrap(err, "register mDNS service")
	}
	logrus.WithFields(logrus.Fields{"service": Service, "port": port}).Info("mDNS service registered")
	return server.Shutdown, nil
}

// Find browses until the first relay answers or ctx ends.
func Find(ctx context.Context) (Relay, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return Relay{}, errors.Wrap(err, "initialize mDNS resolver")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return Relay{}, errors.Wrap(err, "browse for mDNS services")
	}

	for {
		select {
		case <-ctx.Done():
			return Relay{}, errors.Wrap(ctx.Err(), "no relay found")
		case entry, ok := <-entries:
			if !ok {
				return Relay{}, errors.New("no relay found")
			}
			if relay, ok := relayFromEntry(entry); ok {
				logrus.WithField("instance", relay.Instance).WithField("url", relay.URL()).Info("mDNS discovered relay")
				return relay, nil
			}
		}
	}
}

func relayFromEntry(entry *zeroconf.ServiceEntry) (Relay, bool) {
	relay := Relay{Instance: entry.Instance, Port: entry.Port}
	switch {
	case len(entry.AddrIPv4) > 0:
		relay.Host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		relay.Host = "[" + entry.AddrIPv6[0].String() + "]"
	default:
		return Relay{}, false
	}
	for _, txt := range entry.Text {
		if v, ok := strings.CutPrefix(txt, "session="); ok {
			relay.Session = v
		}
	}
	return relay, true
}
