package staging

import "encoding/binary"

const wordSize = 4

// FillIndex writes the index pattern: 32-bit little-endian word i holds i.
func FillIndex(b []byte) {
	for i := 0; i+wordSize <= len(b); i += wordSize {
		binary.LittleEndian.PutUint32(b[i:], uint32(i/wordSize))
	}
}

// FillIndexFrom writes the index pattern into b starting at byte offset
// from, leaving the words before it untouched.
func FillIndexFrom(b []byte, from int) {
	for i := from - from%wordSize; i+wordSize <= len(b); i += wordSize {
		binary.LittleEndian.PutUint32(b[i:], uint32(i/wordSize))
	}
}

func Zero(b []byte) {
	clear(b)
}

// CountMismatches returns how many words of b differ from the index
// pattern, and the index of the first one (-1 if none).
func CountMismatches(b []byte) (count int, first int) {
	first = -1
	for i := 0; i+wordSize <= len(b); i += wordSize {
		if binary.LittleEndian.Uint32(b[i:]) != uint32(i/wordSize) {
			if first < 0 {
				first = i / wordSize
			}
			count++
		}
	}
	return count, first
}
