package server

import (
	"math/rand/v2"
	"net"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var ErrNoBackends = errors.New("no backends available")

type SelectionStrategy string

const (
	SelectRoundRobin SelectionStrategy = "round-robin"
	SelectRandom     SelectionStrategy = "random"
)

func ParseSelectionStrategy(s string) (SelectionStrategy, error) {
	switch SelectionStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case SelectRoundRobin, "":
		return SelectRoundRobin, nil
	case SelectRandom:
		return SelectRandom, nil
	default:
		return "", errors.Errorf("unknown backend selection %q", s)
	}
}

// BackendPool hands out backends for new sessions. The list is swapped as a
// whole, so Next never blocks and never sees a partially replaced list.
type BackendPool struct {
	strategy SelectionStrategy
	backends atomic.Pointer[[]netip.AddrPort]
	cursor   atomic.Uint64
}

func NewBackendPool(strategy SelectionStrategy, backends []netip.AddrPort) (*BackendPool, error) {
	p := &BackendPool{strategy: strategy}
	if err := p.Replace(backends); err != nil {
		return nil, err
	}
	return p, nil
}

// Next returns the backend for a new session
func (p *BackendPool) Next() netip.AddrPort {
	backends := *p.backends.Load()
	if p.strategy == SelectRandom {
		return backends[rand.IntN(len(backends))]
	}
	idx := p.cursor.Add(1) - 1
	return backends[idx%uint64(len(backends))]
}

// NextExcluding is Next, skipping current when there is any alternative
func (p *BackendPool) NextExcluding(current netip.AddrPort) netip.AddrPort {
	backends := *p.backends.Load()
	for range backends {
		if candidate := p.Next(); candidate != current {
			return candidate
		}
	}
	return current
}

func (p *BackendPool) Backends() []netip.AddrPort {
	return slices.Clone(*p.backends.Load())
}

// Replace swaps in a new backend list. An empty list is rejected and the
// current list is kept.
func (p *BackendPool) Replace(backends []netip.AddrPort) error {
	if len(backends) == 0 {
		return ErrNoBackends
	}
	list := slices.Clone(backends)
	p.backends.Store(&list)
	logrus.WithField("backends", list).Info("Using backends")
	return nil
}

// ResolveBackends resolves host:port entries to IPv4 addresses. Entries that
// fail to resolve are logged and skipped; duplicates are dropped.
func ResolveBackends(hostPorts []string) []netip.AddrPort {
	var result []netip.AddrPort
	for _, hostPort := range hostPorts {
		addr, err := net.ResolveUDPAddr("udp4", hostPort)
		if err != nil {
			logrus.WithError(err).WithField("backend", hostPort).Warn("Unable to resolve backend")
			continue
		}
		ap := addr.AddrPort()
		ap = netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
		if !slices.Contains(result, ap) {
			result = append(result, ap)
		}
	}
	return result
}

const (
	SourceStatic     = "static"
	SourceServerList = "server-list"
	SourceDocker     = "docker"
	SourceKubernetes = "kubernetes"
)

// BackendSources merges the backend lists reported by each discovery source,
// static flags, the server list file, Docker and Kubernetes, into a pool.
// Until Attach is called updates are only recorded.
type BackendSources struct {
	sync.Mutex
	order   []string
	sources map[string][]string
	pool    *BackendPool
}

func NewBackendSources() *BackendSources {
	return &BackendSources{sources: make(map[string][]string)}
}

// Set records the backends of one source and, when a pool is attached,
// applies the merged result to it. If the merged result is empty the update
// is rejected and the previous list of that source is restored.
func (s *BackendSources) Set(source string, hostPorts []string) error {
	s.Lock()
	defer s.Unlock()

	previous, known := s.sources[source]
	if !known {
		s.order = append(s.order, source)
	}
	s.sources[source] = slices.Clone(hostPorts)

	if s.pool == nil {
		return nil
	}
	if err := s.pool.Replace(ResolveBackends(s.merged())); err != nil {
		s.sources[source] = previous
		return errors.Wrapf(err, "rejected backends from %s", source)
	}
	return nil
}

// Attach builds the pool from everything recorded so far
func (s *BackendSources) Attach(strategy SelectionStrategy) (*BackendPool, error) {
	s.Lock()
	defer s.Unlock()

	pool, err := NewBackendPool(strategy, ResolveBackends(s.merged()))
	if err != nil {
		return nil, err
	}
	s.pool = pool
	return pool, nil
}

func (s *BackendSources) merged() []string {
	var all []string
	for _, source := range s.order {
		all = append(all, s.sources[source]...)
	}
	return all
}

// Source returns what one source last reported
func (s *BackendSources) Source(source string) []string {
	s.Lock()
	defer s.Unlock()
	return slices.Clone(s.sources[source])
}
