package cmd

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kendryte/nncase-sub001/paged"
	"github.com/kendryte/nncase-sub001/paged/trace"
	"github.com/kendryte/nncase-sub001/sim"
)

// TopologyConfig describes the cores of the target. An explicit Devices list
// takes precedence over the uniform chips × dies × cores grid.
type TopologyConfig struct {
	Chips       int              `yaml:"chips"`
	DiesPerChip int              `yaml:"dies_per_chip"`
	CoresPerDie int              `yaml:"cores_per_die"`
	Devices     []paged.DeviceID `yaml:"devices"`
}

// CacheSection mirrors paged.CacheConfig.
type CacheSection struct {
	Layers        int  `yaml:"layers"`
	NumKVHeads    int  `yaml:"num_kv_heads"`
	HeadDim       int  `yaml:"head_dim"`
	BlockSize     int  `yaml:"block_size"`
	BlocksPerCore int  `yaml:"blocks_per_core"`
	VectorWidth   int  `yaml:"vector_width"`
	MetadataOnly  bool `yaml:"metadata_only"`
}

// WorkloadSection mirrors sim.WorkloadConfig.
type WorkloadSection struct {
	NumSequences      int `yaml:"num_sequences"`
	PromptTokensMean  int `yaml:"prompt_tokens"`
	PromptTokensStdev int `yaml:"prompt_tokens_stdev"`
	PromptTokensMin   int `yaml:"prompt_tokens_min"`
	PromptTokensMax   int `yaml:"prompt_tokens_max"`
	OutputTokensMean  int `yaml:"output_tokens"`
	OutputTokensStdev int `yaml:"output_tokens_stdev"`
	OutputTokensMin   int `yaml:"output_tokens_min"`
	OutputTokensMax   int `yaml:"output_tokens_max"`
}

// SchedulerSection controls the simulation loop.
type SchedulerSection struct {
	ShardPolicy string `yaml:"shard_policy"`
	MaxRunning  int    `yaml:"max_running"`
	MaxSteps    int64  `yaml:"max_steps"`
	Workers     int    `yaml:"workers"`
	Verify      bool   `yaml:"verify"`
}

// TraceSection selects the cache trace level.
type TraceSection struct {
	Level string `yaml:"level"`
}

// Config is the full YAML configuration file.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type Config struct {
	Seed      int64            `yaml:"seed"`
	Topology  TopologyConfig   `yaml:"topology"`
	Cache     CacheSection     `yaml:"cache"`
	Workload  WorkloadSection  `yaml:"workload"`
	Scheduler SchedulerSection `yaml:"scheduler"`
	Trace     TraceSection     `yaml:"trace"`
}

// DefaultConfig is a small two-core target and a short workload.
func DefaultConfig() Config {
	return Config{
		Seed:     42,
		Topology: TopologyConfig{Chips: 1, DiesPerChip: 1, CoresPerDie: 2},
		Cache: CacheSection{
			Layers: 2, NumKVHeads: 2, HeadDim: 128, BlockSize: 32, BlocksPerCore: 64,
		},
		Workload: WorkloadSection{
			NumSequences:     32,
			PromptTokensMean: 256, PromptTokensStdev: 128, PromptTokensMin: 2, PromptTokensMax: 1024,
			OutputTokensMean: 128, OutputTokensStdev: 64, OutputTokensMin: 1, OutputTokensMax: 512,
		},
		Scheduler: SchedulerSection{ShardPolicy: "all", Workers: 4},
		Trace:     TraceSection{Level: string(trace.TraceLevelNone)},
	}
}

// LoadConfig reads path over DefaultConfig. Unknown keys are errors, so a
// typo cannot silently fall back to a default.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the parts of the file the library does not check itself.
func (c Config) Validate() error {
	if !trace.IsValidTraceLevel(c.Trace.Level) {
		return fmt.Errorf("unknown trace level %q", c.Trace.Level)
	}
	if !sim.IsValidShardPolicy(c.Scheduler.ShardPolicy) {
		return fmt.Errorf("unknown shard policy %q", c.Scheduler.ShardPolicy)
	}
	if c.Scheduler.Verify && c.Cache.MetadataOnly {
		return fmt.Errorf("scheduler.verify needs pool storage; unset cache.metadata_only")
	}
	return nil
}

// BuildTopology resolves the topology section.
func (c Config) BuildTopology() (*paged.Topology, error) {
	if len(c.Topology.Devices) > 0 {
		return paged.NewTopology(c.Topology.Devices)
	}
	return paged.UniformTopology(c.Topology.Chips, c.Topology.DiesPerChip, c.Topology.CoresPerDie)
}

// CacheConfig converts the cache section.
func (c Config) CacheConfig() paged.CacheConfig {
	return paged.CacheConfig{
		Layers:        c.Cache.Layers,
		NumKVHeads:    c.Cache.NumKVHeads,
		HeadDim:       c.Cache.HeadDim,
		BlockSize:     c.Cache.BlockSize,
		BlocksPerCore: c.Cache.BlocksPerCore,
		VectorWidth:   c.Cache.VectorWidth,
		MetadataOnly:  c.Cache.MetadataOnly,
	}
}

// TraceConfig converts the trace section.
func (c Config) TraceConfig() trace.TraceConfig {
	return trace.TraceConfig{Level: trace.TraceLevel(c.Trace.Level)}
}

// SimConfig converts the workload and scheduler sections.
func (c Config) SimConfig() sim.Config {
	w := c.Workload
	return sim.Config{
		Seed: c.Seed,
		Workload: sim.WorkloadConfig{
			NumSequences: w.NumSequences,
			PromptTokens: w.PromptTokensMean, PromptTokensStdev: w.PromptTokensStdev,
			PromptTokensMin: w.PromptTokensMin, PromptTokensMax: w.PromptTokensMax,
			OutputTokens: w.OutputTokensMean, OutputTokensStdev: w.OutputTokensStdev,
			OutputTokensMin: w.OutputTokensMin, OutputTokensMax: w.OutputTokensMax,
		},
		ShardPolicy: c.Scheduler.ShardPolicy,
		MaxRunning:  c.Scheduler.MaxRunning,
		MaxSteps:    c.Scheduler.MaxSteps,
		Workers:     c.Scheduler.Workers,
		Verify:      c.Scheduler.Verify,
	}
}
