package a2s

import "encoding/binary"

// ChannelHeaderSize is the length of the netchan sequence header that
// precedes the munged payload of an in-band packet
const ChannelHeaderSize = 8

const (
	flagReliable         uint32 = 1 << 31
	flagReliableFragment uint32 = 1 << 30
)

// ChannelHeader holds the two sequence words of an in-band (non out-of-band) packet
type ChannelHeader struct {
	OutgoingSequence         uint32
	Reliable                 bool
	ReliableFragment         bool
	IncomingSequence         uint32
	IncomingReliableSequence bool
}

// ParseChannelHeader decodes the first ChannelHeaderSize bytes of packet
func ParseChannelHeader(packet []byte) (ChannelHeader, error) {
	r := NewReader(packet)
	w1 := r.ReadUint32()
	w2 := r.ReadUint32()
	if r.Err() != nil {
		return ChannelHeader{}, r.Err()
	}
	return ChannelHeader{
		OutgoingSequence:         w1 &^ (flagReliable | flagReliableFragment),
		Reliable:                 w1&flagReliable != 0,
		ReliableFragment:         w1&flagReliableFragment != 0,
		IncomingSequence:         w2 &^ flagReliable,
		IncomingReliableSequence: w2&flagReliable != 0,
	}, nil
}

// Put encodes the header into the first ChannelHeaderSize bytes of dst.
// The fragment bit is only ever set together with the reliable bit.
func (h ChannelHeader) Put(dst []byte) {
	w1 := h.OutgoingSequence &^ (flagReliable | flagReliableFragment)
	if h.Reliable {
		w1 |= flagReliable
		if h.ReliableFragment {
			w1 |= flagReliableFragment
		}
	}
	w2 := h.IncomingSequence &^ flagReliable
	if h.IncomingReliableSequence {
		w2 |= flagReliable
	}
	binary.LittleEndian.PutUint32(dst[0:4], w1)
	binary.LittleEndian.PutUint32(dst[4:8], w2)
}

// MungeKey is the obfuscation key of the payload following this header
func (h ChannelHeader) MungeKey() byte {
	return byte(h.OutgoingSequence - 1)
}
