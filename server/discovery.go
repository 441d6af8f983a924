package server

import (
	"context"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itzg/srcds-router/a2s"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Snapshot is one complete discovery result. It is never modified after it
// has been published.
type Snapshot struct {
	Infos       []*a2s.ServerInfo `json:"infos"`
	Players     *a2s.PlayerList   `json:"players,omitempty"`
	GeneratedAt time.Time         `json:"generatedAt"`

	playersPacket []byte
}

func newSnapshot(infos []*a2s.ServerInfo, players *a2s.PlayerList) *Snapshot {
	s := &Snapshot{
		Infos:       infos,
		Players:     players,
		GeneratedAt: time.Now(),
	}
	if players != nil {
		packet, err := a2s.EncodePlayerList(players)
		if err != nil {
			logrus.WithError(err).Warn("Could not encode cached player list")
		} else {
			s.playersPacket = packet
		}
	}
	return s
}

// PlayersPacket is the cached 'D' reply, nil when no player list is known
func (s *Snapshot) PlayersPacket() []byte {
	return s.playersPacket
}

type Querier interface {
	QueryInfo(ctx context.Context, server netip.AddrPort) (*a2s.ServerInfo, error)
	QueryPlayers(ctx context.Context, server netip.AddrPort) (*a2s.PlayerList, error)
}

// DiscoveryCache polls the query backends and publishes the results for the
// listeners. A failed refresh keeps the previous snapshot.
type DiscoveryCache struct {
	querier  Querier
	backends []netip.AddrPort
	pool     *BackendPool
	interval time.Duration
	metrics  *RouterMetrics

	snapshot atomic.Pointer[Snapshot]
	failures atomic.Int64
}

func NewDiscoveryCache(querier Querier, backends []netip.AddrPort, interval time.Duration, metrics *RouterMetrics) *DiscoveryCache {
	return &DiscoveryCache{
		querier:  querier,
		backends: backends,
		interval: interval,
		metrics:  metrics,
	}
}

// FollowPool makes every refresh query the first backend currently in pool
// in place of a fixed backend list.
func (c *DiscoveryCache) FollowPool(pool *BackendPool) *DiscoveryCache {
	c.pool = pool
	return c
}

func (c *DiscoveryCache) queryBackends() []netip.AddrPort {
	if c.pool != nil {
		return c.pool.Backends()[:1]
	}
	return c.backends
}

// Snapshot returns the current snapshot, nil if no refresh has succeeded yet
func (c *DiscoveryCache) Snapshot() *Snapshot {
	return c.snapshot.Load()
}

func (c *DiscoveryCache) ConsecutiveFailures() int64 {
	return c.failures.Load()
}

// Run refreshes right away and then every interval until ctx is done
func (c *DiscoveryCache) Run(ctx context.Context) error {
	logrus.
		WithField("backends", c.queryBackends()).
		WithField("following_pool", c.pool != nil).
		WithField("interval", c.interval).
		Info("Starting discovery refresh")

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
				logrus.
					WithError(err).
					WithField("failures", c.failures.Load()).
					Warn("Discovery refresh failed, keeping previous snapshot")
			}
			timer.Reset(c.interval)
		}
	}
}

// Refresh queries every backend for its info, and the first backend for its
// players, then publishes the result. It fails when no backend answered.
func (c *DiscoveryCache) Refresh(ctx context.Context) error {
	backends := c.queryBackends()
	infos := make([]*a2s.ServerInfo, len(backends))
	var players *a2s.PlayerList

	var wg sync.WaitGroup
	for i, backend := range backends {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := c.querier.QueryInfo(ctx, backend)
			if err != nil {
				logrus.WithError(err).WithField("backend", backend).Debug("A2S_INFO query failed")
				return
			}
			infos[i] = info
		}()
	}
	if len(backends) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			list, err := c.querier.QueryPlayers(ctx, backends[0])
			if err != nil {
				logrus.WithError(err).WithField("backend", backends[0]).Debug("A2S_PLAYER query failed")
				return
			}
			players = list
		}()
	}
	wg.Wait()

	answered := make([]*a2s.ServerInfo, 0, len(infos))
	for _, info := range infos {
		if info != nil {
			answered = append(answered, info)
		}
	}

	if len(answered) == 0 {
		failures := c.failures.Add(1)
		c.metrics.DiscoveryRefreshes.With("result", "failure").Add(1)
		c.metrics.DiscoveryConsecutiveFailures.Set(float64(failures))
		return errors.Wrap(a2s.ErrNoReply, "no query backend answered")
	}

	previous := c.snapshot.Load()
	if players == nil && previous != nil {
		players = previous.Players
	}
	c.snapshot.Store(newSnapshot(answered, players))

	c.failures.Store(0)
	c.metrics.DiscoveryRefreshes.With("result", "success").Add(1)
	c.metrics.DiscoveryConsecutiveFailures.Set(0)

	logrus.
		WithField("servers", len(answered)).
		WithField("players", players != nil).
		Debug("Published discovery snapshot")
	return nil
}
