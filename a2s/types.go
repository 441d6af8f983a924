package a2s

import (
	"fmt"
	"time"
)

// OutOfBand is the marker that starts every connectionless packet.
const OutOfBand int32 = -1

const (
	HeaderInfoSource  byte = 'I'
	HeaderInfoGoldSrc byte = 'm'
	HeaderChallenge   byte = 'A'
	HeaderPlayers     byte = 'D'
	HeaderPing        byte = 'i'
	HeaderPong        byte = 'j'
)

// Extra data flag bits of a Source A2S_INFO reply
const (
	edfGameID   byte = 0x01
	edfSteamID  byte = 0x10
	edfKeywords byte = 0x20
	edfSourceTV byte = 0x40
	edfPort     byte = 0x80
)

type ServerType byte

const (
	ServerTypeDedicated        ServerType = 'd'
	ServerTypeDedicatedGoldSrc ServerType = 'D'
	ServerTypeListen           ServerType = 'l'
	ServerTypeListenGoldSrc    ServerType = 'L'
	ServerTypeRelay            ServerType = 'p'
	ServerTypeRelayGoldSrc     ServerType = 'P'
)

type Environment byte

const (
	EnvironmentLinux          Environment = 'l'
	EnvironmentLinuxGoldSrc   Environment = 'L'
	EnvironmentWindows        Environment = 'w'
	EnvironmentWindowsGoldSrc Environment = 'W'
	EnvironmentMac            Environment = 'm'
	EnvironmentMacOld         Environment = 'o'
)

func (e Environment) String() string {
	switch e {
	case EnvironmentLinux, EnvironmentLinuxGoldSrc:
		return "Linux"
	case EnvironmentWindows, EnvironmentWindowsGoldSrc:
		return "Windows"
	case EnvironmentMac, EnvironmentMacOld:
		return "macOS"
	default:
		return "Unknown"
	}
}

type Visibility byte

const (
	VisibilityPublic  Visibility = 0
	VisibilityPrivate Visibility = 1
)

type ModType byte

const (
	ModTypeSingleAndMultiplayer ModType = 0
	ModTypeMultiplayerOnly      ModType = 1
)

// ModInfo is the optional mod sub-record of a GoldSrc ('m') reply
type ModInfo struct {
	Link         string  `json:"link"`
	DownloadLink string  `json:"downloadLink"`
	Reserved     byte    `json:"-"`
	Version      int32   `json:"version"`
	Size         int32   `json:"size"`
	Type         ModType `json:"type"`
	DLL          bool    `json:"dll"`
}

type SourceTV struct {
	Port uint16 `json:"port"`
	Name string `json:"name"`
}

// ServerInfo is a decoded A2S_INFO reply. Header selects the layout:
// HeaderInfoSource uses ID, Version and the extra data fields, while
// HeaderInfoGoldSrc uses Address and Mod.
type ServerInfo struct {
	Header      byte        `json:"header"`
	Address     string      `json:"address,omitempty"`
	Protocol    byte        `json:"protocol"`
	Name        string      `json:"name"`
	Map         string      `json:"map"`
	Folder      string      `json:"folder"`
	Game        string      `json:"game"`
	ID          uint16      `json:"id"`
	Players     byte        `json:"players"`
	MaxPlayers  byte        `json:"maxPlayers"`
	Bots        byte        `json:"bots"`
	ServerType  ServerType  `json:"serverType"`
	Environment Environment `json:"environment"`
	Visibility  Visibility  `json:"visibility"`
	Mod         *ModInfo    `json:"mod,omitempty"`
	VAC         bool        `json:"vac"`
	Version     string      `json:"version,omitempty"`

	Port     *uint16   `json:"port,omitempty"`
	SteamID  *uint64   `json:"steamId,omitempty"`
	SourceTV *SourceTV `json:"sourceTv,omitempty"`
	Keywords *string   `json:"keywords,omitempty"`
	GameID   *uint64   `json:"gameId,omitempty"`

	// GeneratedAt is set by the query client, it is not part of the wire format
	GeneratedAt time.Time `json:"generatedAt"`
}

// Clone returns a deep copy so overrides never touch a shared record
func (s *ServerInfo) Clone() *ServerInfo {
	c := *s
	if s.Mod != nil {
		m := *s.Mod
		c.Mod = &m
	}
	if s.Port != nil {
		p := *s.Port
		c.Port = &p
	}
	if s.SteamID != nil {
		id := *s.SteamID
		c.SteamID = &id
	}
	if s.SourceTV != nil {
		tv := *s.SourceTV
		c.SourceTV = &tv
	}
	if s.Keywords != nil {
		k := *s.Keywords
		c.Keywords = &k
	}
	if s.GameID != nil {
		id := *s.GameID
		c.GameID = &id
	}
	return &c
}

func (s *ServerInfo) String() string {
	return fmt.Sprintf("ServerInfo{Header:%c, Name:%q, Map:%q, Players:%d/%d}",
		s.Header, s.Name, s.Map, s.Players, s.MaxPlayers)
}

type Player struct {
	Index    byte    `json:"index"`
	Name     string  `json:"name"`
	Score    int32   `json:"score"`
	Duration float32 `json:"duration"`
}

// PlayerList is a decoded 'D' reply to A2S_PLAYER
type PlayerList struct {
	Players     []Player  `json:"players"`
	GeneratedAt time.Time `json:"generatedAt"`
}
