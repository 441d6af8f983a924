package server

import (
	"context"
	"net"
	"net/netip"

	"github.com/itzg/srcds-router/a2s"
	"github.com/juju/ratelimit"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const listenerBufferSize = 65535

type ListenerConfig struct {
	Sessions  SessionConfig
	Discovery *DiscoveryCache
	Overrides *InfoOverrides
	Metrics   *RouterMetrics
	// ClientFilter is optional, nil allows every client
	ClientFilter *ClientFilter
}

// Listener serves one bound port. Packets of known clients are relayed,
// discovery queries are answered from the cache and anything else out-of-band
// starts a new session.
type Listener struct {
	conn      *net.UDPConn
	port      int
	sessions  *SessionTable
	discovery *DiscoveryCache
	overrides *InfoOverrides
	metrics   *RouterMetrics
	filter    *ClientFilter
	// throttles malformed packet warnings, never the packets themselves
	warnBucket *ratelimit.Bucket
}

// Listen binds the listener. Port 0 binds an OS assigned port.
func Listen(port int, config ListenerConfig) (*Listener, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, errors.Wrapf(err, "unable to listen on port %d", port)
	}

	l := &Listener{
		conn:       conn,
		port:       localPort(conn),
		discovery:  config.Discovery,
		overrides:  config.Overrides,
		metrics:    config.Metrics,
		filter:     config.ClientFilter,
		warnBucket: ratelimit.NewBucketWithRate(1, 5),
	}
	l.sessions = NewSessionTable(conn, config.Sessions)
	return l, nil
}

func (l *Listener) Port() int {
	return l.port
}

func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

func (l *Listener) Sessions() *SessionTable {
	return l.sessions
}

// Run receives until ctx is done, then closes the socket and every session
func (l *Listener) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = l.conn.Close()
	})
	defer stop()
	defer l.sessions.CloseAll()

	logrus.WithField("listenAddress", l.conn.LocalAddr()).Info("Listening for game clients")

	buf := make([]byte, listenerBufferSize)
	for {
		n, from, err := l.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if isClosed(err) {
				logrus.WithField("listenAddress", l.conn.LocalAddr()).Info("Stopped listening")
				return nil
			}
			if isTransient(err) {
				logrus.WithError(err).Debug("Transient error on listener socket")
				continue
			}
			logrus.WithError(err).WithField("listenAddress", l.conn.LocalAddr()).Error("Failed to receive")
			l.metrics.Errors.With("type", "listener_read").Add(1)
			continue
		}

		l.handlePacket(buf[:n], unmapAddrPort(from))
	}
}

func (l *Listener) handlePacket(packet []byte, from netip.AddrPort) {
	if s := l.sessions.Get(from); s != nil {
		l.relay(s, packet)
		return
	}

	if !l.filter.Allow(from) {
		l.metrics.DroppedPackets.With("reason", "denied").Add(1)
		logrus.WithField("client", from).Trace("Dropping packet from denied client")
		return
	}

	kind := a2s.Classify(packet)
	logrus.
		WithField("client", from).
		WithField("length", len(packet)).
		WithField("kind", kind).
		Trace("Got packet")

	switch kind {
	case a2s.PacketMalformed:
		l.metrics.DroppedPackets.With("reason", "malformed").Add(1)
		entry := logrus.WithField("client", from).WithField("length", len(packet))
		if l.warnBucket.TakeAvailable(1) > 0 {
			entry.Warn("Dropping packet without out-of-band marker")
		} else {
			entry.Trace("Dropping packet without out-of-band marker")
		}

	case a2s.PacketInfoQuery:
		l.replyInfo(from)

	case a2s.PacketPlayerQuery:
		l.replyPlayers(from)

	case a2s.PacketPing:
		l.reply(from, a2s.EncodePong(), "ping")

	default:
		s, _, err := l.sessions.GetOrCreate(from)
		if err != nil {
			logrus.WithError(err).WithField("client", from).Error("Could not create session")
			return
		}
		l.relay(s, packet)
	}
}

func (l *Listener) relay(s *Session, packet []byte) {
	if err := s.OnRecv(packet); err != nil {
		if isClosed(err) {
			return
		}
		entry := logrus.WithError(err).WithField("client", s.Client())
		if isTransient(err) {
			entry.Debug("Transient error relaying to backend")
			return
		}
		entry.Warn("Failed to relay to backend")
		l.metrics.Errors.With("type", "backend_write").Add(1)
	}
}

// replyInfo sends one reply per cached record, nothing before the first snapshot
func (l *Listener) replyInfo(client netip.AddrPort) {
	snapshot := l.discovery.Snapshot()
	if snapshot == nil {
		l.metrics.DroppedPackets.With("reason", "no_snapshot").Add(1)
		return
	}

	for _, info := range snapshot.Infos {
		packet, err := a2s.EncodeServerInfo(l.overrides.Apply(info, l.port))
		if err != nil {
			logrus.WithError(err).Warn("Could not encode cached server info")
			l.metrics.Errors.With("type", "encode").Add(1)
			continue
		}
		l.reply(client, packet, "info")
	}
}

func (l *Listener) replyPlayers(client netip.AddrPort) {
	snapshot := l.discovery.Snapshot()
	if snapshot == nil || snapshot.PlayersPacket() == nil {
		l.metrics.DroppedPackets.With("reason", "no_snapshot").Add(1)
		return
	}
	l.reply(client, snapshot.PlayersPacket(), "player")
}

func (l *Listener) reply(client netip.AddrPort, packet []byte, kind string) {
	if _, err := l.conn.WriteToUDPAddrPort(packet, client); err != nil {
		logrus.WithError(err).WithField("client", client).Debug("Could not send discovery reply")
		l.metrics.Errors.With("type", "reply").Add(1)
		return
	}
	l.metrics.DiscoveryReplies.With("kind", kind).Add(1)
}
