// Package safeconv converts between integer types used for source offsets
// (tree-sitter reports uint) and Go slice indexes and sizes.
package safeconv

// MaxInt is the maximum value for int type (platform-dependent).
const MaxInt = int(^uint(0) >> 1)

// MustUintToInt converts uint to int, panics on overflow.
// Use only when overflow is logically impossible, e.g. for byte offsets into
// a slice that already exists in memory.
func MustUintToInt(v uint) int {
	if v > uint(MaxInt) {
		panic("safeconv: uint to int overflow")
	}

	return int(v)
}

// MustIntToUint converts int to uint, panics if negative.
func MustIntToUint(v int) uint {
	if v < 0 {
		panic("safeconv: negative int to uint conversion")
	}

	return uint(v)
}

// ClampInt64ToUint64 converts a size to uint64, mapping negative values to zero.
func ClampInt64ToUint64(v int64) uint64 {
	if v < 0 {
		return 0
	}

	return uint64(v)
}
