package server

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/itzg/srcds-router/a2s"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuerier struct {
	mu      sync.Mutex
	infos   map[netip.AddrPort]*a2s.ServerInfo
	players *a2s.PlayerList
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{infos: make(map[netip.AddrPort]*a2s.ServerInfo)}
}

func (q *fakeQuerier) setInfo(server netip.AddrPort, info *a2s.ServerInfo) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if info == nil {
		delete(q.infos, server)
	} else {
		q.infos[server] = info
	}
}

func (q *fakeQuerier) setPlayers(players *a2s.PlayerList) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.players = players
}

func (q *fakeQuerier) QueryInfo(_ context.Context, server netip.AddrPort) (*a2s.ServerInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if info, ok := q.infos[server]; ok {
		return info.Clone(), nil
	}
	return nil, a2s.ErrNoReply
}

func (q *fakeQuerier) QueryPlayers(_ context.Context, _ netip.AddrPort) (*a2s.PlayerList, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.players == nil {
		return nil, a2s.ErrNoReply
	}
	return q.players, nil
}

func sourceInfo(name string) *a2s.ServerInfo {
	return &a2s.ServerInfo{
		Header:      a2s.HeaderInfoSource,
		Protocol:    17,
		Name:        name,
		Map:         "de_dust2",
		Folder:      "csgo",
		Game:        "Counter-Strike",
		ID:          730,
		Players:     3,
		MaxPlayers:  16,
		ServerType:  a2s.ServerTypeDedicated,
		Environment: a2s.EnvironmentLinux,
		Version:     "1.0",
	}
}

var (
	queryBackendA = netip.MustParseAddrPort("127.0.0.1:27015")
	queryBackendB = netip.MustParseAddrPort("127.0.0.1:27016")
)

func TestDiscoveryCache_Refresh(t *testing.T) {
	querier := newFakeQuerier()
	querier.setInfo(queryBackendA, sourceInfo("a"))
	querier.setInfo(queryBackendB, sourceInfo("b"))
	querier.setPlayers(&a2s.PlayerList{Players: []a2s.Player{{Name: "gabe", Score: 3}}})

	cache := NewDiscoveryCache(querier, []netip.AddrPort{queryBackendA, queryBackendB}, time.Second, testMetrics())
	assert.Nil(t, cache.Snapshot())

	require.NoError(t, cache.Refresh(context.Background()))

	snapshot := cache.Snapshot()
	require.NotNil(t, snapshot)
	require.Len(t, snapshot.Infos, 2)
	assert.Equal(t, "a", snapshot.Infos[0].Name)
	assert.Equal(t, "b", snapshot.Infos[1].Name)
	require.NotNil(t, snapshot.Players)
	assert.Equal(t, "gabe", snapshot.Players.Players[0].Name)
	assert.NotEmpty(t, snapshot.PlayersPacket())
	assert.Equal(t, int64(0), cache.ConsecutiveFailures())
}

func TestDiscoveryCache_PartialAnswer(t *testing.T) {
	querier := newFakeQuerier()
	querier.setInfo(queryBackendB, sourceInfo("b"))

	cache := NewDiscoveryCache(querier, []netip.AddrPort{queryBackendA, queryBackendB}, time.Second, testMetrics())
	require.NoError(t, cache.Refresh(context.Background()))

	snapshot := cache.Snapshot()
	require.Len(t, snapshot.Infos, 1)
	assert.Equal(t, "b", snapshot.Infos[0].Name)
	assert.Nil(t, snapshot.Players)
	assert.Nil(t, snapshot.PlayersPacket())
}

func TestDiscoveryCache_FollowsPool(t *testing.T) {
	querier := newFakeQuerier()
	querier.setInfo(queryBackendA, sourceInfo("a"))
	querier.setInfo(queryBackendB, sourceInfo("b"))

	pool := newTestPool(t, queryBackendA, queryBackendB)
	cache := NewDiscoveryCache(querier, nil, time.Second, testMetrics()).FollowPool(pool)

	require.NoError(t, cache.Refresh(context.Background()))
	require.Len(t, cache.Snapshot().Infos, 1)
	assert.Equal(t, "a", cache.Snapshot().Infos[0].Name)

	require.NoError(t, pool.Replace([]netip.AddrPort{queryBackendB}))
	querier.setInfo(queryBackendA, nil)

	require.NoError(t, cache.Refresh(context.Background()))
	require.Len(t, cache.Snapshot().Infos, 1)
	assert.Equal(t, "b", cache.Snapshot().Infos[0].Name)
	assert.Equal(t, int64(0), cache.ConsecutiveFailures())
}

func TestDiscoveryCache_FailureKeepsSnapshot(t *testing.T) {
	querier := newFakeQuerier()
	querier.setInfo(queryBackendA, sourceInfo("a"))
	querier.setPlayers(&a2s.PlayerList{Players: []a2s.Player{{Name: "gabe"}}})

	cache := NewDiscoveryCache(querier, []netip.AddrPort{queryBackendA}, time.Second, testMetrics())

	querier.setInfo(queryBackendA, nil)
	err := cache.Refresh(context.Background())
	assert.ErrorIs(t, err, a2s.ErrNoReply)
	assert.Nil(t, cache.Snapshot(), "no snapshot until a refresh succeeds")
	assert.Equal(t, int64(1), cache.ConsecutiveFailures())

	querier.setInfo(queryBackendA, sourceInfo("a"))
	require.NoError(t, cache.Refresh(context.Background()))
	good := cache.Snapshot()
	require.NotNil(t, good)
	assert.Equal(t, int64(0), cache.ConsecutiveFailures())

	querier.setInfo(queryBackendA, nil)
	for range 3 {
		assert.Error(t, cache.Refresh(context.Background()))
	}
	assert.Same(t, good, cache.Snapshot())
	assert.Equal(t, int64(3), cache.ConsecutiveFailures())
}

func TestDiscoveryCache_CarriesPlayers(t *testing.T) {
	querier := newFakeQuerier()
	querier.setInfo(queryBackendA, sourceInfo("a"))
	querier.setPlayers(&a2s.PlayerList{Players: []a2s.Player{{Name: "gabe"}}})

	cache := NewDiscoveryCache(querier, []netip.AddrPort{queryBackendA}, time.Second, testMetrics())
	require.NoError(t, cache.Refresh(context.Background()))

	querier.setPlayers(nil)
	querier.setInfo(queryBackendA, sourceInfo("renamed"))
	require.NoError(t, cache.Refresh(context.Background()))

	snapshot := cache.Snapshot()
	assert.Equal(t, "renamed", snapshot.Infos[0].Name)
	require.NotNil(t, snapshot.Players)
	assert.Equal(t, "gabe", snapshot.Players.Players[0].Name)
	assert.NotEmpty(t, snapshot.PlayersPacket())
}

func TestDiscoveryCache_ConcurrentReaders(t *testing.T) {
	querier := newFakeQuerier()
	querier.setInfo(queryBackendA, sourceInfo("a"))
	querier.setInfo(queryBackendB, sourceInfo("b"))
	querier.setPlayers(&a2s.PlayerList{Players: []a2s.Player{{Name: "gabe"}}})

	cache := NewDiscoveryCache(querier, []netip.AddrPort{queryBackendA, queryBackendB}, time.Second, testMetrics())
	require.NoError(t, cache.Refresh(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				snapshot := cache.Snapshot()
				if !assert.NotNil(t, snapshot) {
					return
				}
				// a published snapshot is always complete
				assert.Len(t, snapshot.Infos, 2)
				assert.NotNil(t, snapshot.PlayersPacket())
			}
		}()
	}

	for range 50 {
		assert.NoError(t, cache.Refresh(context.Background()))
	}
	cancel()
	wg.Wait()
}

func TestDiscoveryCache_Run(t *testing.T) {
	querier := newFakeQuerier()
	querier.setInfo(queryBackendA, sourceInfo("a"))

	cache := NewDiscoveryCache(querier, []netip.AddrPort{queryBackendA}, 20*time.Millisecond, testMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- cache.Run(ctx)
	}()

	assert.Eventually(t, func() bool {
		return cache.Snapshot() != nil
	}, time.Second, 5*time.Millisecond)

	first := cache.Snapshot()
	assert.Eventually(t, func() bool {
		return cache.Snapshot() != first
	}, time.Second, 5*time.Millisecond, "refreshes repeat every interval")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
