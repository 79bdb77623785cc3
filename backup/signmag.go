package backup

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	sign32 = uint32(1) << 31
	sign64 = uint64(1) << 63
)

// putInt32 encodes n as big-endian sign-magnitude. math.MinInt32 has no
// sign-magnitude form.
func putInt32(n int32) ([4]byte, error) {
	var b [4]byte
	if n == math.MinInt32 {
		return b, fmt.Errorf("%d has no sign-magnitude encoding", n)
	}
	u := uint32(n)
	if n < 0 {
		u = uint32(-n) | sign32
	}
	binary.BigEndian.PutUint32(b[:], u)
	return b, nil
}

func getInt32(b [4]byte) int32 {
	u := binary.BigEndian.Uint32(b[:])
	if u&sign32 != 0 {
		return -int32(u &^ sign32)
	}
	return int32(u)
}

// putInt64 encodes n as big-endian sign-magnitude. math.MinInt64 has no
// sign-magnitude form.
func putInt64(n int64) ([8]byte, error) {
	var b [8]byte
	if n == math.MinInt64 {
		return b, fmt.Errorf("%d has no sign-magnitude encoding", n)
	}
	u := uint64(n)
	if n < 0 {
		u = uint64(-n) | sign64
	}
	binary.BigEndian.PutUint64(b[:], u)
	return b, nil
}

func getInt64(b [8]byte) int64 {
	u := binary.BigEndian.Uint64(b[:])
	if u&sign64 != 0 {
		return -int64(u &^ sign64)
	}
	return int64(u)
}
