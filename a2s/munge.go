package a2s

import (
	"encoding/binary"
	"math/bits"
)

var mungeTable = [16]byte{
	0x05, 0x61, 0x7A, 0xED,
	0x1B, 0xCA, 0x0D, 0x9B,
	0x4A, 0xF1, 0x64, 0xC7,
	0xB5, 0x8E, 0xDF, 0xA0,
}

// mungeMask is the per-byte XOR mask for 4-byte word i, byte j
func mungeMask(i, j int) byte {
	return 0xa5 | byte(j<<j) | byte(j) | mungeTable[(i+j)&0x0f]
}

// Munge obfuscates data in place the way the engine's netchan does for the
// payload after the sequence header. Only whole 4-byte words are touched;
// a trailing partial word is left as is. Unmunge with the same key reverses it.
func Munge(data []byte, key byte) {
	seq := uint32(key)
	for i := 0; i < len(data)/4; i++ {
		word := data[i*4 : i*4+4]
		c := binary.LittleEndian.Uint32(word)
		c ^= ^seq
		c = bits.ReverseBytes32(c)
		binary.LittleEndian.PutUint32(word, c)
		for j := 0; j < 4; j++ {
			word[j] ^= mungeMask(i, j)
		}
		c = binary.LittleEndian.Uint32(word) ^ seq
		binary.LittleEndian.PutUint32(word, c)
	}
}

// Unmunge is the inverse of Munge for the same key
func Unmunge(data []byte, key byte) {
	seq := uint32(key)
	for i := 0; i < len(data)/4; i++ {
		word := data[i*4 : i*4+4]
		c := binary.LittleEndian.Uint32(word) ^ seq
		binary.LittleEndian.PutUint32(word, c)
		for j := 0; j < 4; j++ {
			word[j] ^= mungeMask(i, j)
		}
		c = binary.LittleEndian.Uint32(word)
		c = bits.ReverseBytes32(c)
		c ^= ^seq
		binary.LittleEndian.PutUint32(word, c)
	}
}
