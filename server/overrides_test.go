package server

import (
	"testing"

	"github.com/itzg/srcds-router/a2s"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoOverrides_Apply(t *testing.T) {
	tests := []struct {
		name      string
		overrides *InfoOverrides
		info      *a2s.ServerInfo
		check     func(t *testing.T, out *a2s.ServerInfo)
	}{
		{
			name:      "source port stamped",
			overrides: NewInfoOverrides("127.0.0.1", nil, nil, -1, nil),
			info:      sourceInfo("a"),
			check: func(t *testing.T, out *a2s.ServerInfo) {
				require.NotNil(t, out.Port)
				assert.Equal(t, uint16(27020), *out.Port)
				assert.Equal(t, "a", out.Name)
				assert.Equal(t, byte(3), out.Players)
			},
		},
		{
			name:      "goldsrc address stamped",
			overrides: NewInfoOverrides("203.0.113.7", nil, nil, -1, nil),
			info:      &a2s.ServerInfo{Header: a2s.HeaderInfoGoldSrc, Address: "10.0.0.1:27015"},
			check: func(t *testing.T, out *a2s.ServerInfo) {
				assert.Equal(t, "203.0.113.7:27020", out.Address)
				assert.Nil(t, out.Port)
			},
		},
		{
			name:      "names and forced players",
			overrides: NewInfoOverrides("127.0.0.1", []string{"only"}, []string{"cs_office"}, 12, nil),
			info:      sourceInfo("a"),
			check: func(t *testing.T, out *a2s.ServerInfo) {
				assert.Equal(t, "only", out.Name)
				assert.Equal(t, "cs_office", out.Map)
				assert.Equal(t, byte(12), out.Players)
			},
		},
		{
			name:      "forced players clamped",
			overrides: NewInfoOverrides("127.0.0.1", nil, nil, 1000, nil),
			info:      sourceInfo("a"),
			check: func(t *testing.T, out *a2s.ServerInfo) {
				assert.Equal(t, byte(255), out.Players)
			},
		},
		{
			name:      "forced zero",
			overrides: NewInfoOverrides("127.0.0.1", nil, nil, 0, nil),
			info:      sourceInfo("a"),
			check: func(t *testing.T, out *a2s.ServerInfo) {
				assert.Equal(t, byte(0), out.Players)
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			original := test.info.Clone()
			out := test.overrides.Apply(test.info, 27020)
			test.check(t, out)
			assert.Equal(t, original, test.info, "the cached record is never modified")
		})
	}
}

func TestInfoOverrides_RandomNames(t *testing.T) {
	names := []string{"one", "two", "three"}
	overrides := NewInfoOverrides("127.0.0.1", names, nil, -1, nil)

	seen := make(map[string]bool)
	for range 200 {
		seen[overrides.Apply(sourceInfo("a"), 27015).Name] = true
	}
	for _, name := range names {
		assert.True(t, seen[name], name)
	}
	assert.Len(t, seen, len(names))
}

func TestInfoOverrides_Charset(t *testing.T) {
	charset, err := a2s.LookupCharset("windows-1251")
	require.NoError(t, err)

	overrides := NewInfoOverrides("127.0.0.1", []string{"Привет"}, nil, -1, charset)
	out := overrides.Apply(sourceInfo("a"), 27015)
	assert.Equal(t, "\xcf\xf0\xe8\xe2\xe5\xf2", out.Name)
}
