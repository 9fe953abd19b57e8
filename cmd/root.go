package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kendryte/nncase-sub001/paged"
	"github.com/kendryte/nncase-sub001/paged/trace"
	"github.com/kendryte/nncase-sub001/sim"
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "nncase-kvcache",
	Short: "Paged KV cache planner and workload simulator for multi-core targets",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logLevel, _ := cmd.Flags().GetString("log")
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
	},
}

// runCmd drives a synthetic workload through the cache
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a decode workload against the paged KV cache",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := resolveConfig(cmd.Flags())
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if err := runSimulation(cmd.Context(), cfg, os.Stdout); err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
	},
}

// topologyCmd prints the cores and their pool layout
var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Print every core of the topology with its block pool layout",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := resolveConfig(cmd.Flags())
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if err := printTopology(cfg, os.Stdout); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

// Execute runs the CLI root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// resolveConfig loads --config (or the defaults) and applies every flag the
// user set explicitly on top of it.
func resolveConfig(flags *pflag.FlagSet) (Config, error) {
	cfg := DefaultConfig()
	if path, _ := flags.GetString("config"); path != "" {
		var err error
		if cfg, err = LoadConfig(path); err != nil {
			return cfg, err
		}
	}
	if err := applyFlags(flags, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func runSimulation(ctx context.Context, cfg Config, out io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	topology, err := cfg.BuildTopology()
	if err != nil {
		return err
	}
	cache, err := paged.NewKVCache(topology, cfg.CacheConfig(), paged.WithTrace(cfg.TraceConfig()))
	if err != nil {
		return err
	}
	defer cache.Close()

	s, err := sim.NewSimulator(cache, cfg.SimConfig())
	if err != nil {
		return err
	}
	logrus.Infof("Starting simulation: %d sequences on %d cores, %d blocks of %d tokens per core",
		cfg.Workload.NumSequences, topology.Len(), cfg.Cache.BlocksPerCore, cfg.Cache.BlockSize)
	start := time.Now()
	if err := s.Run(ctx); err != nil {
		return err
	}

	var summary *trace.TraceSummary
	if cache.Trace() != nil {
		summary = trace.Summarize(cache.Trace())
	}
	s.Metrics.Print(out, summary)
	logrus.Infof("Simulation complete in %v.", time.Since(start))
	return nil
}

func printTopology(cfg Config, out io.Writer) error {
	topology, err := cfg.BuildTopology()
	if err != nil {
		return err
	}
	cacheCfg := cfg.CacheConfig()
	if err := cacheCfg.Validate(); err != nil {
		return err
	}
	shape := cacheCfg.PoolShape()
	bytes := float64(shape.Elements()) * 2 / (1 << 20)

	rows := make([][]string, 0, topology.Len())
	for i, d := range topology.Devices() {
		rows = append(rows, []string{
			fmt.Sprint(i), d.String(), shape.String(),
			fmt.Sprint(cacheCfg.TokensPerCore()), fmt.Sprintf("%.2f MiB", bytes),
		})
	}
	table := newTable(out, []string{"INDEX", "DEVICE", "POOL SHAPE", "TOKENS", "POOL SIZE"})
	table.AppendBulk(rows)
	table.Render()
	return nil
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().String("log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().String("config", "", "YAML config file; flags override its values")

	addTargetFlags(rootCmd.PersistentFlags())
	addRunFlags(runCmd.Flags())

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(topologyCmd)
}
