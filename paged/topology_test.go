package paged

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceID_Compare_OrdersChipThenDieThenCore(t *testing.T) {
	a := DeviceID{Chip: 0, Die: 1, Core: 3}
	b := DeviceID{Chip: 1, Die: 0, Core: 0}
	c := DeviceID{Chip: 0, Die: 1, Core: 4}

	assert.True(t, a.Less(b))
	assert.True(t, a.Less(c))
	assert.False(t, b.Less(c))
	assert.Equal(t, 0, a.Compare(a))
	assert.Equal(t, "chip0/die1/core3", a.String())
}

func TestNewTopology_SortsAndIndexesDevices(t *testing.T) {
	// GIVEN devices in arbitrary order
	devices := []DeviceID{{1, 0, 1}, {0, 0, 0}, {1, 0, 0}, {0, 1, 0}}

	// WHEN a topology is built
	topo, err := NewTopology(devices)
	require.NoError(t, err)

	// THEN devices come back in (chip, die, core) order with dense indices
	want := []DeviceID{{0, 0, 0}, {0, 1, 0}, {1, 0, 0}, {1, 0, 1}}
	if diff := cmp.Diff(want, topo.Devices()); diff != "" {
		t.Errorf("Devices() mismatch (-want +got):\n%s", diff)
	}
	for i, d := range want {
		idx, ok := topo.Index(d)
		assert.True(t, ok)
		assert.Equal(t, i, idx)
		assert.Equal(t, d, topo.Device(i))
	}
	assert.False(t, topo.Contains(DeviceID{2, 0, 0}))
}

func TestNewTopology_RejectsInvalidDeviceLists(t *testing.T) {
	tests := []struct {
		name    string
		devices []DeviceID
	}{
		{"empty", nil},
		{"duplicate", []DeviceID{{0, 0, 0}, {0, 0, 0}}},
		{"negative", []DeviceID{{0, -1, 0}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewTopology(tc.devices)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestUniformTopology_BuildsFullHierarchy(t *testing.T) {
	topo, err := UniformTopology(2, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 12, topo.Len())
	assert.True(t, topo.Contains(DeviceID{1, 1, 2}))
	assert.False(t, topo.Contains(DeviceID{1, 2, 0}))

	_, err = UniformTopology(1, 0, 1)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestTopology_DevicesReturnsCopy(t *testing.T) {
	topo, err := UniformTopology(1, 1, 2)
	require.NoError(t, err)
	devs := topo.Devices()
	devs[0] = DeviceID{9, 9, 9}
	assert.Equal(t, DeviceID{0, 0, 0}, topo.Device(0))
}
