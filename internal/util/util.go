// Package util provides small generic helpers shared across the module.
package util

// Len64 returns the length of a slice as int64.
func Len64[T any](v []T) int64 { return int64(len(v)) }

// CeilDiv returns ceil(n / d) for n >= 0 and d > 0.
func CeilDiv(n, d int) int {
	return (n + d - 1) / d
}
