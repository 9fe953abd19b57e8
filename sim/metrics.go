package sim

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/kendryte/nncase-sub001/paged"
	"github.com/kendryte/nncase-sub001/paged/trace"
)

// DeviceMetrics accumulates block usage of one core across steps.
type DeviceMetrics struct {
	Device         paged.DeviceID
	TotalBlocks    int
	PeakBlocksUsed int
	BlockSteps     int64 // sum over steps of blocks in use
}

// Metrics aggregates statistics about a simulation run for final reporting.
type Metrics struct {
	Steps              int64
	CompletedSequences int
	DroppedSequences   int
	Preemptions        int
	ExhaustedSteps     int // BeginStep calls that failed with a full core

	PrefillTokens    int64
	DecodeTokens     int64
	RecomputedTokens int64 // generated tokens replayed after a preemption
	TokensVerified   int64

	Devices []DeviceMetrics // in topology order
}

// NewMetrics creates metrics for every core of topology.
func NewMetrics(topology *paged.Topology, blocksPerCore int) *Metrics {
	m := &Metrics{Devices: make([]DeviceMetrics, topology.Len())}
	for i, d := range topology.Devices() {
		m.Devices[i] = DeviceMetrics{Device: d, TotalBlocks: blocksPerCore}
	}
	return m
}

// sampleUsage records one step's block usage.
func (m *Metrics) sampleUsage(usage []paged.DeviceUsage) {
	for i, u := range usage {
		d := &m.Devices[i]
		d.BlockSteps += int64(u.Used)
		d.PeakBlocksUsed = max(d.PeakBlocksUsed, u.Used)
	}
}

// AverageUtilization returns the mean fraction of device i's blocks in use per step.
func (m *Metrics) AverageUtilization(i int) float64 {
	d := m.Devices[i]
	if m.Steps == 0 || d.TotalBlocks == 0 {
		return 0
	}
	return float64(d.BlockSteps) / float64(m.Steps) / float64(d.TotalBlocks)
}

// Print renders the run summary and per-core usage tables to w. ts may be nil
// when tracing is disabled.
func (m *Metrics) Print(w io.Writer, ts *trace.TraceSummary) {
	fmt.Fprintln(w, "=== KV Cache Simulation Metrics ===")
	summary := [][]string{
		{"Steps", strconv.FormatInt(m.Steps, 10)},
		{"Completed sequences", strconv.Itoa(m.CompletedSequences)},
		{"Dropped sequences", strconv.Itoa(m.DroppedSequences)},
		{"Preemptions", strconv.Itoa(m.Preemptions)},
		{"Exhausted steps", strconv.Itoa(m.ExhaustedSteps)},
		{"Prefill tokens", strconv.FormatInt(m.PrefillTokens, 10)},
		{"Decode tokens", strconv.FormatInt(m.DecodeTokens, 10)},
		{"Recomputed tokens", strconv.FormatInt(m.RecomputedTokens, 10)},
		{"Tokens verified", strconv.FormatInt(m.TokensVerified, 10)},
	}
	if ts != nil {
		summary = append(summary,
			[]string{"Blocks allocated", strconv.Itoa(ts.AllocatedBlocks)},
			[]string{"Blocks freed", strconv.Itoa(ts.FreedBlocks)},
		)
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"METRIC", "VALUE"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.AppendBulk(summary)
	table.Render()

	fmt.Fprintln(w)
	var rows [][]string
	for i, d := range m.Devices {
		exhaustions := "-"
		if ts != nil {
			exhaustions = strconv.Itoa(ts.ExhaustionsPerDevice[d.Device.String()])
		}
		rows = append(rows, []string{
			d.Device.String(),
			strconv.Itoa(d.TotalBlocks),
			strconv.Itoa(d.PeakBlocksUsed),
			fmt.Sprintf("%.1f%%", 100*m.AverageUtilization(i)),
			exhaustions,
		})
	}
	table = tablewriter.NewWriter(w)
	table.SetHeader([]string{"DEVICE", "BLOCKS", "PEAK USED", "AVG UTIL", "EXHAUSTIONS"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.AppendBulk(rows)
	table.Render()
}
