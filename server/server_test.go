package server

import (
	"bytes"
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/itzg/srcds-router/a2s"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(backends ...string) *Config {
	return &Config{
		EphemeralPorts:    2,
		Backends:          backends,
		BackendSelection:  "round-robin",
		IdleTimeout:       10 * time.Second,
		IdleCheckInterval: 5 * time.Second,
		QueryInterval:     50 * time.Millisecond,
		QueryTimeout:      200 * time.Millisecond,
		ForcePlayerCount:  -1,
		AdvertiseHost:     "127.0.0.1",
		MetricsBackend:    MetricsBackendDiscard,
	}
}

func TestNewServer_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(config *Config)
	}{
		{name: "check interval not below timeout", mutate: func(c *Config) { c.IdleCheckInterval = c.IdleTimeout }},
		{name: "zero idle timeout", mutate: func(c *Config) { c.IdleTimeout = 0 }},
		{name: "zero query interval", mutate: func(c *Config) { c.QueryInterval = 0 }},
		{name: "zero query timeout", mutate: func(c *Config) { c.QueryTimeout = 0 }},
		{name: "bad port", mutate: func(c *Config) { c.Ports = []string{"70000"} }},
		{name: "bad selection", mutate: func(c *Config) { c.BackendSelection = "fastest" }},
		{name: "bad charset", mutate: func(c *Config) { c.QueryCharset = "klingon" }},
		{name: "no backends", mutate: func(c *Config) { c.Backends = nil }},
		{name: "unresolvable backends", mutate: func(c *Config) { c.Backends = []string{"not a backend"} }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			config := testConfig("127.0.0.1:27015")
			test.mutate(config)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			_, err := NewServer(ctx, config)
			assert.Error(t, err)
		})
	}
}

func TestServer_Run(t *testing.T) {
	infoReply, err := a2s.EncodeServerInfo(sourceInfo("e2e"))
	require.NoError(t, err)
	backend := startFakeBackend(t, func(packet []byte) []byte {
		if bytes.Equal(packet, a2s.InfoRequest(nil)) {
			return infoReply
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := NewServer(ctx, testConfig(backend.AddrPort().String()))
	require.NoError(t, err)
	require.Len(t, s.Listeners(), 2)
	assert.Equal(t, []netip.AddrPort{backend.AddrPort()}, s.Pool().Backends())

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return s.Discovery().Snapshot() != nil
	}, 2*time.Second, 10*time.Millisecond)

	client := listenLoopback(t)
	for _, l := range s.Listeners() {
		listenerAddr := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), uint16(l.Port()))
		_, err := client.WriteToUDPAddrPort(a2s.InfoRequest(nil), listenerAddr)
		require.NoError(t, err)

		reply, from := readPacket(t, client, time.Second)
		assert.Equal(t, listenerAddr, from)
		info, err := a2s.DecodeServerInfo(reply)
		require.NoError(t, err)
		assert.Equal(t, "e2e", info.Name)
		require.NotNil(t, info.Port)
		assert.Equal(t, uint16(l.Port()), *info.Port)
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
