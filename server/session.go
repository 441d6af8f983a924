package server

import (
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/itzg/srcds-router/a2s"
	"github.com/pires/go-proxyproto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	sessionBufferSize = 65535
	// only packets this short get the reconnect directive appended
	redirectPacketLimit = 512
)

var (
	ErrRedirectDisabled = errors.New("legacy redirect is disabled")
	ErrNoAlternative    = errors.New("no other backend to redirect to")
)

// reconnectDirective is appended to the channel payload of a redirected session
var reconnectDirective = []byte("reconnect\n\x00")

// Session relays one client through a dedicated backend facing socket. It is
// ended only by closing that socket, which unblocks the forward loop.
type Session struct {
	ID string

	table     *SessionTable
	client    netip.AddrPort
	conn      *net.UDPConn
	createdAt time.Time

	lastActivity atomic.Int64
	backend      atomic.Pointer[netip.AddrPort]
	reconnect    atomic.Bool

	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(table *SessionTable, client netip.AddrPort) (*Session, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, errors.Wrapf(err, "could not bind session socket for %s", client)
	}

	s := &Session{
		ID:        uuid.NewString(),
		table:     table,
		client:    client,
		conn:      conn,
		createdAt: time.Now(),
		closed:    make(chan struct{}),
	}
	backend := table.config.Pool.Next()
	s.backend.Store(&backend)
	s.touch()
	return s, nil
}

func (s *Session) start() {
	go s.forward()
	go s.watchIdle()
}

func (s *Session) Client() netip.AddrPort {
	return s.client
}

func (s *Session) Backend() netip.AddrPort {
	return *s.backend.Load()
}

func (s *Session) LocalPort() int {
	return localPort(s.conn)
}

func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// Close closes the session socket. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}

// Done is closed once the session socket is closed
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

func (s *Session) destroy() {
	s.Close()
	s.table.removeSession(s)
}

// OnRecv relays a packet from the client to the backend
func (s *Session) OnRecv(packet []byte) error {
	s.touch()

	backend := s.Backend()
	if s.table.config.UseProxyProtocol {
		header, err := s.proxyHeader(backend)
		if err != nil {
			s.table.config.Metrics.Errors.With("type", "proxy_write").Add(1)
			return err
		}
		packet = append(header, packet...)
	}

	n, err := s.conn.WriteToUDPAddrPort(packet, backend)
	if err != nil {
		return errors.Wrapf(err, "could not relay to backend %s", backend)
	}
	s.table.config.Metrics.BytesTransmitted.With("direction", "to_backend").Add(float64(n))
	return nil
}

func (s *Session) proxyHeader(backend netip.AddrPort) ([]byte, error) {
	header := &proxyproto.Header{
		Version:           2,
		Command:           proxyproto.PROXY,
		TransportProtocol: proxyproto.UDPv4,
		SourceAddr:        net.UDPAddrFromAddrPort(s.client),
		DestinationAddr:   net.UDPAddrFromAddrPort(backend),
	}
	out, err := header.Format()
	if err != nil {
		return nil, errors.Wrap(err, "could not format PROXY header")
	}
	return out, nil
}

// Redirect moves the session to another backend. The next short in-band
// packet from the new backend carries a reconnect directive to the client.
// The previous backend is no longer an accepted sender.
func (s *Session) Redirect() (netip.AddrPort, error) {
	if !s.table.config.LegacyRedirect {
		return netip.AddrPort{}, ErrRedirectDisabled
	}

	previous := s.Backend()
	next := s.table.config.Pool.NextExcluding(previous)
	if next == previous {
		return previous, ErrNoAlternative
	}

	s.backend.Store(&next)
	s.reconnect.Store(true)

	logrus.
		WithField("client", s.client).
		WithField("from", previous).
		WithField("to", next).
		Info("Redirecting session")
	return next, nil
}


// forward relays backend packets to the client through the shared listener
// socket, so the client only ever sees the listener address
func (s *Session) forward() {
	buf := make([]byte, sessionBufferSize)
	for {
		n, from, err := s.conn.ReadFromUDPAddrPort(buf[:sessionBufferSize-len(reconnectDirective)])
		if err != nil {
			if isClosed(err) {
				return
			}
			if isTransient(err) {
				logrus.WithError(err).WithField("client", s.client).Debug("Transient error on session socket")
				continue
			}
			logrus.WithError(err).WithField("client", s.client).Error("Session socket failed")
			s.table.config.Metrics.Errors.With("type", "session_read").Add(1)
			s.destroy()
			return
		}

		if !a2s.SameAddrPort(from, s.Backend()) {
			logrus.
				WithField("client", s.client).
				WithField("from", from).
				Trace("Ignoring packet from unexpected sender")
			s.table.config.Metrics.DroppedPackets.With("reason", "unexpected_sender").Add(1)
			continue
		}

		packet := buf[:n]
		if n < redirectPacketLimit && s.reconnect.Load() {
			var injected bool
			packet, injected = injectReconnect(buf, n)
			if injected {
				s.reconnect.Store(false)
				logrus.WithField("client", s.client).Debug("Injected reconnect directive")
			}
		}

		written, err := s.table.listener.WriteToUDPAddrPort(packet, s.client)
		if err != nil {
			if isClosed(err) {
				return
			}
			logrus.WithError(err).WithField("client", s.client).Debug("Could not relay to client")
			s.table.config.Metrics.Errors.With("type", "client_write").Add(1)
			continue
		}
		s.table.config.Metrics.BytesTransmitted.With("direction", "to_client").Add(float64(written))
	}
}

// injectReconnect appends the reconnect directive to the channel payload of
// the packet in buf[:n]. buf must have room for the directive. Out-of-band
// packets and packets without a channel header are returned untouched.
func injectReconnect(buf []byte, n int) ([]byte, bool) {
	packet := buf[:n]
	if a2s.IsOutOfBand(packet) {
		return packet, false
	}
	header, err := a2s.ParseChannelHeader(packet)
	if err != nil {
		return packet, false
	}

	key := header.MungeKey()
	a2s.Unmunge(buf[a2s.ChannelHeaderSize:n], key)
	n += copy(buf[n:], reconnectDirective)
	a2s.Munge(buf[a2s.ChannelHeaderSize:n], key)
	return buf[:n], true
}

func (s *Session) watchIdle() {
	ticker := time.NewTicker(s.table.config.IdleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case now := <-ticker.C:
			if idle := now.Sub(s.LastActivity()); idle > s.table.config.IdleTimeout {
				logrus.
					WithField("client", s.client).
					WithField("idle", idle).
					Debug("Session idle")
				s.destroy()
				return
			}
		}
	}
}

type SessionInfo struct {
	ID          string  `json:"id"`
	Client      string  `json:"client"`
	Backend     string  `json:"backend"`
	LocalPort   int     `json:"localPort"`
	Listener    string  `json:"listener"`
	IdleSeconds float64 `json:"idleSeconds"`
	Redirecting bool    `json:"redirecting"`
}

func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:          s.ID,
		Client:      s.client.String(),
		Backend:     s.Backend().String(),
		LocalPort:   s.LocalPort(),
		Listener:    s.table.listener.LocalAddr().String(),
		IdleSeconds: time.Since(s.LastActivity()).Seconds(),
		Redirecting: s.reconnect.Load(),
	}
}
