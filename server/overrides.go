package server

import (
	"math/rand/v2"
	"net"
	"strconv"

	"github.com/itzg/srcds-router/a2s"
)

const maxPlayerCount = 255

// InfoOverrides rewrites cached A2S_INFO records before a listener serves
// them. Apply always works on a copy.
type InfoOverrides struct {
	AdvertiseHost    string
	ServerNames      []string
	MapNames         []string
	ForcePlayerCount int
}

// NewInfoOverrides encodes the configured names into charset, which may be nil
func NewInfoOverrides(advertiseHost string, serverNames, mapNames []string, forcePlayerCount int, charset *a2s.Charset) *InfoOverrides {
	o := &InfoOverrides{
		AdvertiseHost:    advertiseHost,
		ForcePlayerCount: forcePlayerCount,
	}
	for _, name := range serverNames {
		o.ServerNames = append(o.ServerNames, charset.Encode(name))
	}
	for _, name := range mapNames {
		o.MapNames = append(o.MapNames, charset.Encode(name))
	}
	if o.ForcePlayerCount > maxPlayerCount {
		o.ForcePlayerCount = maxPlayerCount
	}
	return o
}

func (o *InfoOverrides) Apply(info *a2s.ServerInfo, listenerPort int) *a2s.ServerInfo {
	out := info.Clone()

	switch out.Header {
	case a2s.HeaderInfoGoldSrc:
		out.Address = net.JoinHostPort(o.AdvertiseHost, strconv.Itoa(listenerPort))
	case a2s.HeaderInfoSource:
		port := uint16(listenerPort)
		out.Port = &port
	}

	if len(o.ServerNames) > 0 {
		out.Name = o.ServerNames[rand.IntN(len(o.ServerNames))]
	}
	if len(o.MapNames) > 0 {
		out.Map = o.MapNames[rand.IntN(len(o.MapNames))]
	}
	if o.ForcePlayerCount >= 0 {
		out.Players = byte(o.ForcePlayerCount)
	}
	return out
}
