package sim

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kendryte/nncase-sub001/paged"
	"github.com/kendryte/nncase-sub001/paged/trace"
)

func TestMetrics_SampleUsage_TracksPeakAndAverage(t *testing.T) {
	// GIVEN metrics for two 10-block cores
	topo, err := paged.UniformTopology(1, 1, 2)
	require.NoError(t, err)
	m := NewMetrics(topo, 10)

	// WHEN two steps are sampled
	m.Steps = 2
	m.sampleUsage([]paged.DeviceUsage{{Used: 4, Total: 10}, {Used: 0, Total: 10}})
	m.sampleUsage([]paged.DeviceUsage{{Used: 6, Total: 10}, {Used: 2, Total: 10}})

	// THEN peak and average utilization follow the samples
	assert.Equal(t, 6, m.Devices[0].PeakBlocksUsed)
	assert.Equal(t, 2, m.Devices[1].PeakBlocksUsed)
	assert.InDelta(t, 0.5, m.AverageUtilization(0), 1e-9)
	assert.InDelta(t, 0.1, m.AverageUtilization(1), 1e-9)
}

func TestMetrics_AverageUtilization_NoSteps(t *testing.T) {
	topo, err := paged.UniformTopology(1, 1, 1)
	require.NoError(t, err)
	assert.Zero(t, NewMetrics(topo, 4).AverageUtilization(0))
}

func TestMetrics_Print_RendersTables(t *testing.T) {
	// GIVEN metrics with one exhausted core in the trace summary
	topo, err := paged.UniformTopology(1, 1, 2)
	require.NoError(t, err)
	m := NewMetrics(topo, 8)
	m.Steps = 5
	m.CompletedSequences = 3
	m.Preemptions = 1
	ts := &trace.TraceSummary{
		AllocatedBlocks:      12,
		ExhaustionsPerDevice: map[string]int{"chip0/die0/core1": 2},
	}

	// WHEN printed
	var buf bytes.Buffer
	m.Print(&buf, ts)
	out := buf.String()

	// THEN both tables appear with the per-core rows
	assert.Contains(t, out, "KV Cache Simulation Metrics")
	assert.Contains(t, out, "Completed sequences")
	assert.Contains(t, out, "PEAK USED")
	assert.Contains(t, out, "chip0/die0/core0")
	assert.Contains(t, out, "chip0/die0/core1")
	assert.Contains(t, out, "Blocks allocated")
}
