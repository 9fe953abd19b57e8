package paged

import (
	"cmp"
	"fmt"
	"slices"
)

// DeviceID identifies one accelerator core within the chip → die → core hierarchy.
// Core is the leaf unit of cache ownership.
type DeviceID struct {
	Chip int `yaml:"chip"`
	Die  int `yaml:"die"`
	Core int `yaml:"core"`
}

// Compare orders devices by chip, then die, then core.
func (d DeviceID) Compare(o DeviceID) int {
	if c := cmp.Compare(d.Chip, o.Chip); c != 0 {
		return c
	}
	if c := cmp.Compare(d.Die, o.Die); c != 0 {
		return c
	}
	return cmp.Compare(d.Core, o.Core)
}

// Less reports whether d sorts before o.
func (d DeviceID) Less(o DeviceID) bool { return d.Compare(o) < 0 }

func (d DeviceID) String() string {
	return fmt.Sprintf("chip%d/die%d/core%d", d.Chip, d.Die, d.Core)
}

// Topology is the static, read-only registry of cores that own cache blocks.
// Devices are kept in DeviceID order and each is resolved once to a dense
// index into the per-core pool and allocator arrays.
type Topology struct {
	devices []DeviceID
	index   map[DeviceID]int
}

// NewTopology builds a Topology from an explicit device list.
// The list must be non-empty, without duplicates or negative coordinates.
func NewTopology(devices []DeviceID) (*Topology, error) {
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: topology has no devices", ErrInvalidConfig)
	}
	sorted := slices.Clone(devices)
	slices.SortFunc(sorted, DeviceID.Compare)

	index := make(map[DeviceID]int, len(sorted))
	for i, d := range sorted {
		if d.Chip < 0 || d.Die < 0 || d.Core < 0 {
			return nil, fmt.Errorf("%w: device %s has a negative coordinate", ErrInvalidConfig, d)
		}
		if _, dup := index[d]; dup {
			return nil, fmt.Errorf("%w: duplicate device %s", ErrInvalidConfig, d)
		}
		index[d] = i
	}
	return &Topology{devices: sorted, index: index}, nil
}

// UniformTopology builds a topology with the same number of dies per chip and
// cores per die.
func UniformTopology(chips, diesPerChip, coresPerDie int) (*Topology, error) {
	if chips <= 0 || diesPerChip <= 0 || coresPerDie <= 0 {
		return nil, fmt.Errorf("%w: uniform topology needs positive counts, got chips=%d dies=%d cores=%d",
			ErrInvalidConfig, chips, diesPerChip, coresPerDie)
	}
	devices := make([]DeviceID, 0, chips*diesPerChip*coresPerDie)
	for c := 0; c < chips; c++ {
		for d := 0; d < diesPerChip; d++ {
			for k := 0; k < coresPerDie; k++ {
				devices = append(devices, DeviceID{Chip: c, Die: d, Core: k})
			}
		}
	}
	return NewTopology(devices)
}

// Devices returns a copy of all devices in DeviceID order.
func (t *Topology) Devices() []DeviceID {
	return slices.Clone(t.devices)
}

// Len returns the number of cores.
func (t *Topology) Len() int { return len(t.devices) }

// Index returns the dense index of d.
func (t *Topology) Index(d DeviceID) (int, bool) {
	i, ok := t.index[d]
	return i, ok
}

// Contains reports whether d is part of the topology.
func (t *Topology) Contains(d DeviceID) bool {
	_, ok := t.index[d]
	return ok
}

// Device returns the device at dense index i.
func (t *Topology) Device(i int) DeviceID { return t.devices[i] }
