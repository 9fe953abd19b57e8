// Package testutil provides shared test infrastructure. It imports nothing
// from the module, so in-package tests of any package can use it.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Positions returns n consecutive token positions starting at start.
func Positions(start, n int) []int {
	pos := make([]int, n)
	for i := range pos {
		pos[i] = start + i
	}
	return pos
}

// WriteTempYAML writes content to a file in a per-test temp directory and
// returns its path.
func WriteTempYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing temp yaml: %v", err)
	}
	return path
}

// Vector returns a head vector of length n whose elements encode seed, so
// tests can tell tokens apart after a float16 round trip. Values stay small
// integers, which float16 represents exactly.
func Vector(n int, seed int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = float32((seed*7 + i) % 1024)
	}
	return v
}
