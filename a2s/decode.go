package a2s

import (
	"github.com/pkg/errors"
)

var ErrUnsupportedFormat = errors.New("unsupported protocol format")

func readHeader(r *Reader) (byte, error) {
	marker := r.ReadInt32()
	header := r.ReadUint8()
	if r.Err() != nil {
		return 0, r.Err()
	}
	if marker != OutOfBand {
		return 0, errors.Wrapf(ErrUnsupportedFormat, "expected out-of-band marker, got %#x", uint32(marker))
	}
	return header, nil
}

// DecodeServerInfo decodes an A2S_INFO reply of either the Source ('I') or
// GoldSrc ('m') layout.
func DecodeServerInfo(packet []byte) (*ServerInfo, error) {
	r := NewReader(packet)
	header, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	info := &ServerInfo{Header: header}
	switch header {
	case HeaderInfoSource:
		decodeSourceInfo(r, info)
	case HeaderInfoGoldSrc:
		decodeGoldSrcInfo(r, info)
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "unexpected info header %#x", header)
	}

	if r.Err() != nil {
		return nil, errors.Wrap(r.Err(), "failed to decode server info")
	}
	return info, nil
}

func decodeSourceInfo(r *Reader, info *ServerInfo) {
	info.Protocol = r.ReadUint8()
	info.Name = r.ReadString()
	info.Map = r.ReadString()
	info.Folder = r.ReadString()
	info.Game = r.ReadString()
	info.ID = r.ReadUint16()
	info.Players = r.ReadUint8()
	info.MaxPlayers = r.ReadUint8()
	info.Bots = r.ReadUint8()
	info.ServerType = ServerType(r.ReadUint8())
	info.Environment = Environment(r.ReadUint8())
	info.Visibility = Visibility(r.ReadUint8())
	info.VAC = r.ReadBool()
	info.Version = r.ReadString()

	// older servers stop after the version string
	if r.Eof() {
		return
	}

	edf := r.ReadUint8()
	if edf&edfPort != 0 {
		port := r.ReadUint16()
		info.Port = &port
	}
	if edf&edfSteamID != 0 {
		id := r.ReadUint64()
		info.SteamID = &id
	}
	if edf&edfSourceTV != 0 {
		info.SourceTV = &SourceTV{
			Port: r.ReadUint16(),
			Name: r.ReadString(),
		}
	}
	if edf&edfKeywords != 0 {
		keywords := r.ReadString()
		info.Keywords = &keywords
	}
	if edf&edfGameID != 0 {
		id := r.ReadUint64()
		info.GameID = &id
	}
}

func decodeGoldSrcInfo(r *Reader, info *ServerInfo) {
	info.Address = r.ReadString()
	info.Name = r.ReadString()
	info.Map = r.ReadString()
	info.Folder = r.ReadString()
	info.Game = r.ReadString()
	info.Players = r.ReadUint8()
	info.MaxPlayers = r.ReadUint8()
	info.Protocol = r.ReadUint8()
	info.ServerType = ServerType(r.ReadUint8())
	info.Environment = Environment(r.ReadUint8())
	info.Visibility = Visibility(r.ReadUint8())

	if r.ReadBool() {
		info.Mod = &ModInfo{
			Link:         r.ReadString(),
			DownloadLink: r.ReadString(),
			Reserved:     r.ReadUint8(),
			Version:      r.ReadInt32(),
			Size:         r.ReadInt32(),
			Type:         ModType(r.ReadUint8()),
			DLL:          r.ReadBool(),
		}
	}

	info.VAC = r.ReadBool()
	info.Bots = r.ReadUint8()
}

// DecodeChallengeOrInfo decodes a reply to an A2S_INFO request, which newer
// servers answer with a challenge first. Exactly one of the results is set.
func DecodeChallengeOrInfo(packet []byte) (challenge *uint32, info *ServerInfo, err error) {
	r := NewReader(packet)
	header, err := readHeader(r)
	if err != nil {
		return nil, nil, err
	}
	if header == HeaderChallenge {
		c := r.ReadUint32()
		if r.Err() != nil {
			return nil, nil, errors.Wrap(r.Err(), "failed to decode challenge")
		}
		return &c, nil, nil
	}
	info, err = DecodeServerInfo(packet)
	return nil, info, err
}

// DecodePlayerReply decodes a reply to A2S_PLAYER. A challenge reply ('A')
// returns a non-nil challenge; a player list reply ('D') returns a non-nil list.
func DecodePlayerReply(packet []byte) (challenge *uint32, players *PlayerList, err error) {
	r := NewReader(packet)
	header, err := readHeader(r)
	if err != nil {
		return nil, nil, err
	}

	switch header {
	case HeaderChallenge:
		c := r.ReadUint32()
		if r.Err() != nil {
			return nil, nil, errors.Wrap(r.Err(), "failed to decode challenge")
		}
		return &c, nil, nil

	case HeaderPlayers:
		// the count is informational, records run to the end of the packet
		_ = r.ReadUint8()
		list := &PlayerList{Players: []Player{}}
		for !r.Eof() {
			list.Players = append(list.Players, Player{
				Index:    r.ReadUint8(),
				Name:     r.ReadString(),
				Score:    r.ReadInt32(),
				Duration: r.ReadFloat32(),
			})
		}
		if r.Err() != nil {
			return nil, nil, errors.Wrap(r.Err(), "failed to decode player list")
		}
		return nil, list, nil

	default:
		return nil, nil, errors.Wrapf(ErrUnsupportedFormat, "unexpected player reply header %#x", header)
	}
}
