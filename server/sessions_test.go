package server

import (
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMetrics() *RouterMetrics {
	return discardMetricsBuilder{}.BuildRouterMetrics()
}

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func loopbackAddrPort(conn *net.UDPConn) netip.AddrPort {
	return unmapAddrPort(conn.LocalAddr().(*net.UDPAddr).AddrPort())
}

// fakeBackend answers every datagram using reply and records what it received
type fakeBackend struct {
	conn *net.UDPConn

	mu       sync.Mutex
	received [][]byte
}

func startFakeBackend(t *testing.T, reply func(packet []byte) []byte) *fakeBackend {
	t.Helper()
	b := &fakeBackend{conn: listenLoopback(t)}
	go func() {
		buf := make([]byte, 65535)
		for {
			n, from, err := b.conn.ReadFromUDPAddrPort(buf)
			if err != nil {
				return
			}
			packet := append([]byte(nil), buf[:n]...)
			b.mu.Lock()
			b.received = append(b.received, packet)
			b.mu.Unlock()
			if reply != nil {
				if out := reply(packet); out != nil {
					_, _ = b.conn.WriteToUDPAddrPort(out, from)
				}
			}
		}
	}()
	return b
}

func (b *fakeBackend) AddrPort() netip.AddrPort {
	return loopbackAddrPort(b.conn)
}

func (b *fakeBackend) Received() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.received...)
}

func newTestPool(t *testing.T, backends ...netip.AddrPort) *BackendPool {
	t.Helper()
	pool, err := NewBackendPool(SelectRoundRobin, backends)
	require.NoError(t, err)
	return pool
}

func newTestTable(t *testing.T, config SessionConfig) *SessionTable {
	t.Helper()
	if config.Metrics == nil {
		config.Metrics = testMetrics()
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = time.Minute
	}
	if config.IdleCheckInterval == 0 {
		config.IdleCheckInterval = time.Second
	}
	table := NewSessionTable(listenLoopback(t), config)
	t.Cleanup(table.CloseAll)
	return table
}

func TestSessionTable_GetOrCreateConcurrent(t *testing.T) {
	table := newTestTable(t, SessionConfig{
		Pool: newTestPool(t, netip.MustParseAddrPort("127.0.0.1:27015")),
	})
	client := netip.MustParseAddrPort("127.0.0.1:40000")

	const callers = 50
	var created atomic.Int32
	results := make([]*Session, callers)

	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, isNew, err := table.GetOrCreate(client)
			if assert.NoError(t, err) && isNew {
				created.Add(1)
			}
			results[i] = s
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, 1, table.Len())
	for _, s := range results {
		assert.Same(t, results[0], s)
	}
}

func TestSessionTable_Get(t *testing.T) {
	table := newTestTable(t, SessionConfig{
		Pool: newTestPool(t, netip.MustParseAddrPort("127.0.0.1:27015")),
	})
	client := netip.MustParseAddrPort("127.0.0.1:40000")

	assert.Nil(t, table.Get(client))

	s, isNew, err := table.GetOrCreate(client)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Same(t, s, table.Get(client))
	assert.Equal(t, netip.MustParseAddrPort("127.0.0.1:27015"), s.Backend())
	assert.NotZero(t, s.LocalPort())
	assert.NotEmpty(t, s.ID)

	again, isNew, err := table.GetOrCreate(client)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Same(t, s, again)
}

func TestSessionTable_RemoveTwice(t *testing.T) {
	table := newTestTable(t, SessionConfig{
		Pool: newTestPool(t, netip.MustParseAddrPort("127.0.0.1:27015")),
	})
	client := netip.MustParseAddrPort("127.0.0.1:40000")

	s, _, err := table.GetOrCreate(client)
	require.NoError(t, err)
	defer s.Close()

	assert.Same(t, s, table.Remove(client))
	assert.Nil(t, table.Remove(client))
	assert.Equal(t, 0, table.Len())

	select {
	case <-s.Done():
		t.Fatal("Remove must not close the session")
	default:
	}
}

func TestSessionTable_Evict(t *testing.T) {
	table := newTestTable(t, SessionConfig{
		Pool: newTestPool(t, netip.MustParseAddrPort("127.0.0.1:27015")),
	})
	client := netip.MustParseAddrPort("127.0.0.1:40000")

	s, _, err := table.GetOrCreate(client)
	require.NoError(t, err)

	assert.True(t, table.Evict(client))
	assert.False(t, table.Evict(client))
	assert.Nil(t, table.Get(client))

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session was not closed")
	}
}

func TestSessionTable_StaleSessionKeepsSuccessor(t *testing.T) {
	table := newTestTable(t, SessionConfig{
		Pool: newTestPool(t, netip.MustParseAddrPort("127.0.0.1:27015")),
	})
	client := netip.MustParseAddrPort("127.0.0.1:40000")

	first, _, err := table.GetOrCreate(client)
	require.NoError(t, err)
	require.True(t, table.Evict(client))

	second, isNew, err := table.GetOrCreate(client)
	require.NoError(t, err)
	require.True(t, isNew)
	require.NotSame(t, first, second)

	first.destroy()
	assert.Same(t, second, table.Get(client))
}

func TestSessionTable_SessionsOrdered(t *testing.T) {
	table := newTestTable(t, SessionConfig{
		Pool: newTestPool(t, netip.MustParseAddrPort("127.0.0.1:27015")),
	})
	for _, client := range []string{"127.0.0.3:1", "127.0.0.1:1", "127.0.0.2:1"} {
		_, _, err := table.GetOrCreate(netip.MustParseAddrPort(client))
		require.NoError(t, err)
	}

	var clients []string
	for _, s := range table.Sessions() {
		clients = append(clients, s.Client().String())
	}
	assert.Equal(t, []string{"127.0.0.1:1", "127.0.0.2:1", "127.0.0.3:1"}, clients)

	table.CloseAll()
	assert.Equal(t, 0, table.Len())
}
