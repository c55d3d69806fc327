package filerepo

import (
	"encoding/binary"
	"math"
)

var (
	enc = binary.BigEndian
)

const (
	// LenWidth4 is the 4-byte length header of the first store format.
	LenWidth4 = 4
	// LenWidth8 is the 8-byte length header. New stores should use it.
	LenWidth8 = 8

	DefaultLenWidth = LenWidth8
)

// ValidLenWidth reports whether w can be used as a record length header width.
func ValidLenWidth(w int) bool {
	return w == LenWidth4 || w == LenWidth8
}

// EncodeLen writes l into b as an unsigned big-endian integer of len(b) bytes.
func EncodeLen(b []byte, l uint64) error {
	switch len(b) {
	case LenWidth4:
		if l > math.MaxUint32 {
			return ErrRecordTooLarge
		}
		enc.PutUint32(b, uint32(l))
	case LenWidth8:
		enc.PutUint64(b, l)
	default:
		return ErrInvalidLenWidth
	}
	return nil
}

// DecodeLen reads the record length stored in a header of len(b) bytes.
func DecodeLen(b []byte) uint64 {
	if len(b) == LenWidth4 {
		return uint64(enc.Uint32(b))
	}
	return enc.Uint64(b)
}
