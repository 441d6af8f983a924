package a2s

import (
	"github.com/pkg/errors"
)

// MaxPacketSize is the largest single (non split) connectionless packet
const MaxPacketSize = 1400

// EncodeServerInfo is the exact inverse of DecodeServerInfo. For the Source
// layout the extra data flags byte is derived from which optional fields are set.
func EncodeServerInfo(info *ServerInfo) ([]byte, error) {
	w := NewWriter(MaxPacketSize)
	w.WriteInt32(OutOfBand)
	w.WriteUint8(info.Header)

	switch info.Header {
	case HeaderInfoSource:
		encodeSourceInfo(w, info)
	case HeaderInfoGoldSrc:
		encodeGoldSrcInfo(w, info)
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "unexpected info header %#x", info.Header)
	}

	if w.Err() != nil {
		return nil, errors.Wrap(w.Err(), "failed to encode server info")
	}
	return w.Bytes(), nil
}

func extraDataFlags(info *ServerInfo) byte {
	var edf byte
	if info.Port != nil {
		edf |= edfPort
	}
	if info.SteamID != nil {
		edf |= edfSteamID
	}
	if info.SourceTV != nil {
		edf |= edfSourceTV
	}
	if info.Keywords != nil {
		edf |= edfKeywords
	}
	if info.GameID != nil {
		edf |= edfGameID
	}
	return edf
}

func encodeSourceInfo(w *Writer, info *ServerInfo) {
	w.WriteUint8(info.Protocol)
	w.WriteString(info.Name)
	w.WriteString(info.Map)
	w.WriteString(info.Folder)
	w.WriteString(info.Game)
	w.WriteUint16(info.ID)
	w.WriteUint8(info.Players)
	w.WriteUint8(info.MaxPlayers)
	w.WriteUint8(info.Bots)
	w.WriteUint8(byte(info.ServerType))
	w.WriteUint8(byte(info.Environment))
	w.WriteUint8(byte(info.Visibility))
	w.WriteBool(info.VAC)
	w.WriteString(info.Version)

	w.WriteUint8(extraDataFlags(info))
	if info.Port != nil {
		w.WriteUint16(*info.Port)
	}
	if info.SteamID != nil {
		w.WriteUint64(*info.SteamID)
	}
	if info.SourceTV != nil {
		w.WriteUint16(info.SourceTV.Port)
		w.WriteString(info.SourceTV.Name)
	}
	if info.Keywords != nil {
		w.WriteString(*info.Keywords)
	}
	if info.GameID != nil {
		w.WriteUint64(*info.GameID)
	}
}

func encodeGoldSrcInfo(w *Writer, info *ServerInfo) {
	w.WriteString(info.Address)
	w.WriteString(info.Name)
	w.WriteString(info.Map)
	w.WriteString(info.Folder)
	w.WriteString(info.Game)
	w.WriteUint8(info.Players)
	w.WriteUint8(info.MaxPlayers)
	w.WriteUint8(info.Protocol)
	w.WriteUint8(byte(info.ServerType))
	w.WriteUint8(byte(info.Environment))
	w.WriteUint8(byte(info.Visibility))

	w.WriteBool(info.Mod != nil)
	if info.Mod != nil {
		w.WriteString(info.Mod.Link)
		w.WriteString(info.Mod.DownloadLink)
		w.WriteUint8(info.Mod.Reserved)
		w.WriteInt32(info.Mod.Version)
		w.WriteInt32(info.Mod.Size)
		w.WriteUint8(byte(info.Mod.Type))
		w.WriteBool(info.Mod.DLL)
	}

	w.WriteBool(info.VAC)
	w.WriteUint8(info.Bots)
}

// EncodePlayerList writes a 'D' reply. Lists longer than 255 entries keep
// every record but report 255 in the count byte.
func EncodePlayerList(list *PlayerList) ([]byte, error) {
	w := NewWriter(MaxPacketSize)
	w.WriteInt32(OutOfBand)
	w.WriteUint8(HeaderPlayers)
	count := len(list.Players)
	if count > 255 {
		count = 255
	}
	w.WriteUint8(byte(count))
	for _, p := range list.Players {
		w.WriteUint8(p.Index)
		w.WriteString(p.Name)
		w.WriteInt32(p.Score)
		w.WriteFloat32(p.Duration)
	}
	if w.Err() != nil {
		return nil, errors.Wrap(w.Err(), "failed to encode player list")
	}
	return w.Bytes(), nil
}

// EncodeChallenge writes an 'A' challenge reply
func EncodeChallenge(challenge uint32) []byte {
	w := NewWriter(9)
	w.WriteInt32(OutOfBand)
	w.WriteUint8(HeaderChallenge)
	w.WriteUint32(challenge)
	return w.Bytes()
}

// pingReplyPayload is what Source servers answer to A2A_PING
const pingReplyPayload = "00000000000000"

// EncodePong writes the reply to a ping request
func EncodePong() []byte {
	w := NewWriter(5 + len(pingReplyPayload) + 1)
	w.WriteInt32(OutOfBand)
	w.WriteUint8(HeaderPong)
	w.WriteString(pingReplyPayload)
	return w.Bytes()
}
