package cmd

import (
	"github.com/spf13/pflag"
)

// addTargetFlags registers the topology and cache flags shared by every subcommand.
func addTargetFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()
	fs.Int("chips", d.Topology.Chips, "Number of chips")
	fs.Int("dies-per-chip", d.Topology.DiesPerChip, "Dies per chip")
	fs.Int("cores-per-die", d.Topology.CoresPerDie, "Cores per die")

	fs.Int("layers", d.Cache.Layers, "Transformer layers stored in each block")
	fs.Int("num-kv-heads", d.Cache.NumKVHeads, "KV heads per core")
	fs.Int("head-dim", d.Cache.HeadDim, "Head dimension (multiple of the vector width)")
	fs.Int("block-size", d.Cache.BlockSize, "Tokens per KV block")
	fs.Int("blocks-per-core", d.Cache.BlocksPerCore, "KV blocks in each core's pool")
	fs.Bool("metadata-only", d.Cache.MetadataOnly, "Track blocks without allocating K/V storage")
}

// addRunFlags registers the workload, scheduler and trace flags of `run`.
func addRunFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()
	fs.Int64("seed", d.Seed, "Seed for workload generation and random sharding")

	fs.Int("num-sequences", d.Workload.NumSequences, "Number of sequences")
	fs.Int("prompt-tokens", d.Workload.PromptTokensMean, "Average prompt token count")
	fs.Int("prompt-tokens-stdev", d.Workload.PromptTokensStdev, "Stddev prompt token count")
	fs.Int("prompt-tokens-min", d.Workload.PromptTokensMin, "Min prompt token count")
	fs.Int("prompt-tokens-max", d.Workload.PromptTokensMax, "Max prompt token count")
	fs.Int("output-tokens", d.Workload.OutputTokensMean, "Average output token count")
	fs.Int("output-tokens-stdev", d.Workload.OutputTokensStdev, "Stddev output token count")
	fs.Int("output-tokens-min", d.Workload.OutputTokensMin, "Min output token count")
	fs.Int("output-tokens-max", d.Workload.OutputTokensMax, "Max output token count")

	fs.String("shard-policy", d.Scheduler.ShardPolicy, "Shard placement: all, round-robin, random")
	fs.Int("max-running", d.Scheduler.MaxRunning, "Maximum concurrently running sequences (0 = unlimited)")
	fs.Int64("max-steps", d.Scheduler.MaxSteps, "Stop after this many steps (0 = run to completion)")
	fs.Int("workers", d.Scheduler.Workers, "Concurrent evaluator calls per step")
	fs.Bool("verify", d.Scheduler.Verify, "Gather and check every sequence's history each step")
	fs.String("trace-level", d.Trace.Level, "Trace verbosity: none, events")
}

// applyFlags copies every explicitly set flag into cfg. Flags left at their
// default never override a value from the config file.
func applyFlags(fs *pflag.FlagSet, cfg *Config) error {
	ints := map[string]*int{
		"chips":               &cfg.Topology.Chips,
		"dies-per-chip":       &cfg.Topology.DiesPerChip,
		"cores-per-die":       &cfg.Topology.CoresPerDie,
		"layers":              &cfg.Cache.Layers,
		"num-kv-heads":        &cfg.Cache.NumKVHeads,
		"head-dim":            &cfg.Cache.HeadDim,
		"block-size":          &cfg.Cache.BlockSize,
		"blocks-per-core":     &cfg.Cache.BlocksPerCore,
		"num-sequences":       &cfg.Workload.NumSequences,
		"prompt-tokens":       &cfg.Workload.PromptTokensMean,
		"prompt-tokens-stdev": &cfg.Workload.PromptTokensStdev,
		"prompt-tokens-min":   &cfg.Workload.PromptTokensMin,
		"prompt-tokens-max":   &cfg.Workload.PromptTokensMax,
		"output-tokens":       &cfg.Workload.OutputTokensMean,
		"output-tokens-stdev": &cfg.Workload.OutputTokensStdev,
		"output-tokens-min":   &cfg.Workload.OutputTokensMin,
		"output-tokens-max":   &cfg.Workload.OutputTokensMax,
		"max-running":         &cfg.Scheduler.MaxRunning,
		"workers":             &cfg.Scheduler.Workers,
	}
	for name, dst := range ints {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetInt(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	int64s := map[string]*int64{"seed": &cfg.Seed, "max-steps": &cfg.Scheduler.MaxSteps}
	for name, dst := range int64s {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetInt64(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	bools := map[string]*bool{"metadata-only": &cfg.Cache.MetadataOnly, "verify": &cfg.Scheduler.Verify}
	for name, dst := range bools {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetBool(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	strs := map[string]*string{"shard-policy": &cfg.Scheduler.ShardPolicy, "trace-level": &cfg.Trace.Level}
	for name, dst := range strs {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*dst = v
	}
	return nil
}
