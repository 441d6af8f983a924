package a2s

import (
	"bytes"
)

var marker = []byte{0xFF, 0xFF, 0xFF, 0xFF}

const (
	infoQuery          = "TSource Engine Query"
	legacyInfoDetails  = "details"
	legacyInfoXash     = "info"
	playerQueryHeader  = 'U'
	challengeSize      = 4
	noChallengeRequest = 0xFFFFFFFF
)

type PacketKind int

const (
	// PacketMalformed packets do not start with the out-of-band marker
	PacketMalformed PacketKind = iota
	PacketInfoQuery
	PacketPlayerQuery
	PacketPing
	// PacketRelay is any other out-of-band packet, such as getchallenge or connect,
	// which belongs to the backend
	PacketRelay
)

func (k PacketKind) String() string {
	switch k {
	case PacketMalformed:
		return "malformed"
	case PacketInfoQuery:
		return "info"
	case PacketPlayerQuery:
		return "player"
	case PacketPing:
		return "ping"
	case PacketRelay:
		return "relay"
	default:
		return "unknown"
	}
}

// IsOutOfBand reports whether packet starts with the out-of-band marker
func IsOutOfBand(packet []byte) bool {
	return len(packet) >= len(marker) && bytes.Equal(packet[:len(marker)], marker)
}

// Classify decides how a packet from a client without a session is handled
func Classify(packet []byte) PacketKind {
	if !IsOutOfBand(packet) {
		return PacketMalformed
	}
	body := packet[len(marker):]
	if len(body) == 0 {
		return PacketRelay
	}

	if bytes.HasPrefix(body, []byte(infoQuery)) {
		return PacketInfoQuery
	}
	switch string(leadingToken(body)) {
	case legacyInfoDetails, legacyInfoXash:
		return PacketInfoQuery
	}

	switch body[0] {
	case playerQueryHeader:
		return PacketPlayerQuery
	case HeaderPing:
		if len(body) == 1 || body[1] == 0 {
			return PacketPing
		}
	}
	return PacketRelay
}

// leadingToken returns body up to the first NUL, space or newline
func leadingToken(body []byte) []byte {
	if idx := bytes.IndexAny(body, "\x00 \n"); idx >= 0 {
		return body[:idx]
	}
	return body
}

// InfoRequest builds an A2S_INFO request, optionally answering a challenge
func InfoRequest(challenge *uint32) []byte {
	w := NewWriter(len(marker) + len(infoQuery) + 1 + challengeSize)
	w.WriteBytes(marker)
	w.WriteString(infoQuery)
	if challenge != nil {
		w.WriteUint32(*challenge)
	}
	return w.Bytes()
}

// PlayerChallengeRequest builds the first phase A2S_PLAYER request
func PlayerChallengeRequest() []byte {
	w := NewWriter(len(marker) + 1 + challengeSize)
	w.WriteBytes(marker)
	w.WriteUint8(playerQueryHeader)
	w.WriteUint32(noChallengeRequest)
	return w.Bytes()
}

// PlayerRequest builds the second phase A2S_PLAYER request carrying the challenge token
func PlayerRequest(challenge uint32) []byte {
	w := NewWriter(len(marker) + 1 + challengeSize + 1)
	w.WriteBytes(marker)
	w.WriteUint8(playerQueryHeader)
	w.WriteUint32(challenge)
	w.WriteUint8(0)
	return w.Bytes()
}
