package server

import (
	"context"
	"net"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type SessionConfig struct {
	Pool              *BackendPool
	IdleTimeout       time.Duration
	IdleCheckInterval time.Duration
	UseProxyProtocol  bool
	LegacyRedirect    bool
	Metrics           *RouterMetrics
	// Notifier is optional
	Notifier SessionNotifier
}

// SessionTable maps client addresses of one listener to their sessions.
// The lock guards only the map; each session guards its own state.
type SessionTable struct {
	sync.RWMutex
	sessions map[netip.AddrPort]*Session
	listener *net.UDPConn
	config   SessionConfig
}

func NewSessionTable(listener *net.UDPConn, config SessionConfig) *SessionTable {
	return &SessionTable{
		sessions: make(map[netip.AddrPort]*Session),
		listener: listener,
		config:   config,
	}
}

// Get returns the live session of client, or nil
func (t *SessionTable) Get(client netip.AddrPort) *Session {
	t.RLock()
	defer t.RUnlock()
	return t.sessions[client]
}

// GetOrCreate returns the session of client, creating and starting one when
// there is none. Concurrent callers for the same client share one session.
func (t *SessionTable) GetOrCreate(client netip.AddrPort) (*Session, bool, error) {
	if s := t.Get(client); s != nil {
		return s, false, nil
	}

	t.Lock()
	defer t.Unlock()

	if s, ok := t.sessions[client]; ok {
		return s, false, nil
	}

	s, err := newSession(t, client)
	if err != nil {
		t.config.Metrics.Errors.With("type", "session_bind").Add(1)
		return nil, false, err
	}
	t.sessions[client] = s
	t.config.Metrics.Sessions.Add(1)
	t.config.Metrics.ActiveSessions.Add(1)

	logrus.
		WithField("listener", t.listener.LocalAddr()).
		WithField("client", client).
		WithField("backend", s.Backend()).
		WithField("session", s.ID).
		WithField("total", len(t.sessions)).
		Info("Add new client")

	s.start()
	if t.config.Notifier != nil {
		if err := t.config.Notifier.NotifySessionOpened(context.Background(), s.Info()); err != nil {
			logrus.WithError(err).Warn("failed to notify session opened")
		}
	}
	return s, true, nil
}

// Remove unregisters the session of client and returns it, or nil when there
// is none. The session socket is left to the caller.
func (t *SessionTable) Remove(client netip.AddrPort) *Session {
	t.Lock()
	defer t.Unlock()

	s, ok := t.sessions[client]
	if !ok {
		return nil
	}
	t.deleteLocked(s)
	return s
}

// Evict removes the session of client and closes it
func (t *SessionTable) Evict(client netip.AddrPort) bool {
	s := t.Remove(client)
	if s == nil {
		return false
	}
	s.Close()
	return true
}

// removeSession unregisters s only if it is still the entry for its client,
// so a stale session never removes its successor
func (t *SessionTable) removeSession(s *Session) {
	t.Lock()
	defer t.Unlock()

	if current, ok := t.sessions[s.client]; ok && current == s {
		t.deleteLocked(s)
	}
}

func (t *SessionTable) deleteLocked(s *Session) {
	delete(t.sessions, s.client)
	t.config.Metrics.ActiveSessions.Add(-1)

	logrus.
		WithField("listener", t.listener.LocalAddr()).
		WithField("client", s.client).
		WithField("session", s.ID).
		WithField("total", len(t.sessions)).
		Info("Remove client")

	if t.config.Notifier != nil {
		if err := t.config.Notifier.NotifySessionClosed(context.Background(), s.Info()); err != nil {
			logrus.WithError(err).Warn("failed to notify session closed")
		}
	}
}

func (t *SessionTable) Len() int {
	t.RLock()
	defer t.RUnlock()
	return len(t.sessions)
}

// Sessions returns the live sessions ordered by client address
func (t *SessionTable) Sessions() []*Session {
	t.RLock()
	result := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		result = append(result, s)
	}
	t.RUnlock()

	slices.SortFunc(result, func(a, b *Session) int {
		return strings.Compare(a.client.String(), b.client.String())
	})
	return result
}

// CloseAll evicts every session, used on shutdown
func (t *SessionTable) CloseAll() {
	t.Lock()
	sessions := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
		t.deleteLocked(s)
	}
	t.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
