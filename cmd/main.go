package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/0xmhha/tpsbench/internal/config"
	"github.com/0xmhha/tpsbench/internal/logging"
	"github.com/0xmhha/tpsbench/internal/metrics"
	"github.com/0xmhha/tpsbench/internal/pipeline"
)

var (
	version    = "dev"
	cfg        = config.Default()
	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "tpsbench",
		Short:   "Send-to-finality throughput benchmark for EVM chains",
		Long:    `tpsbench signs nonce-sequenced batches for many senders, submits them concurrently and reports transactions per second from the first inclusion to the last finalized block.`,
		Version: version,
		RunE:    run,
	}

	rootCmd.Flags().StringVar(&configPath, "config", "", "YAML config file; explicitly set flags override it")
	registerFlags(rootCmd.Flags(), cfg)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func registerFlags(flags *pflag.FlagSet, c *config.Config) {
	// Endpoints and funding
	flags.StringSliceVar(&c.URLs, "url", c.URLs, "RPC endpoint URL, repeat or comma-separate for several (required)")
	flags.StringVar(&c.PrivateKey, "private-key", c.PrivateKey, "Funder private key (hex)")
	flags.StringVar(&c.Mnemonic, "mnemonic", c.Mnemonic, "BIP39 mnemonic of the funder (alternative to private-key)")
	flags.BoolVar(&c.SkipFunding, "skip-funding", c.SkipFunding, "Skip funding (assume senders are funded)")
	flags.IntVar(&c.FundBuffer, "fund-buffer", c.FundBuffer, "Extra percent funded on top of each sender's batch cost")

	// Accounts and load
	flags.StringVar(&c.Prefix, "prefix", c.Prefix, "Key prefix of the run's sender and receiver accounts")
	flags.Uint64Var(&c.SubAccounts, "sub-accounts", c.SubAccounts, "Number of sender accounts")
	flags.Uint64Var(&c.TxPerAccount, "tx-per-account", c.TxPerAccount, "Transactions per sender")
	flags.IntVar(&c.Workers, "workers", c.Workers, "Concurrent senders (default: sub-accounts)")

	// Payload
	flags.StringVar(&c.Mode, "mode", c.Mode, "Payload: TRANSFER or ERC20_TRANSFER")
	flags.StringVar(&c.Contract, "contract", c.Contract, "Token contract for ERC20_TRANSFER mode")
	flags.Uint64Var(&c.GasLimit, "gas-limit", c.GasLimit, "Gas limit per transaction")
	flags.StringVar(&c.GasPrice, "gas-price", c.GasPrice, "Gas price in wei (auto if not specified)")

	// Interior submission
	flags.IntVar(&c.BatchSize, "batch", c.BatchSize, "Transactions per JSON-RPC batch request (1 sends one by one)")
	flags.IntVar(&c.MaxConcurrent, "max-concurrent", c.MaxConcurrent, "Concurrent requests per sender")
	flags.Float64Var(&c.RateLimit, "rate-limit", c.RateLimit, "Max interior transactions per second across senders (0 = unlimited)")

	// Boundary tracking
	flags.IntVar(&c.BoundaryRetries, "boundary-retries", c.BoundaryRetries, "Retries for head and tail transactions")
	flags.DurationVar(&c.RetryInitial, "retry-initial", c.RetryInitial, "First backoff between boundary retries")
	flags.DurationVar(&c.RetryMax, "retry-max", c.RetryMax, "Longest backoff between boundary retries")
	flags.DurationVar(&c.BoundaryTimeout, "boundary-timeout", c.BoundaryTimeout, "Longest wait for a head inclusion or tail finality before the sender is given up")
	flags.DurationVar(&c.PollInterval, "poll-interval", c.PollInterval, "Receipt and head polling interval")

	// Report
	flags.BoolVar(&c.Stat, "stat", c.Stat, "Walk the measured blocks and print the report")
	flags.BoolVar(&c.FinalityStat, "finality-stat", c.FinalityStat, "Track best-to-finalized latency per block")
	flags.IntVar(&c.MaxDepth, "max-depth", c.MaxDepth, "Max parent hops when walking back from the finalize block")
	flags.StringVar(&c.OutputDir, "output-dir", c.OutputDir, "Export JSON and CSV reports to this directory")

	// Advanced
	flags.DurationVar(&c.Timeout, "timeout", c.Timeout, "Timeout of the whole run")
	flags.BoolVar(&c.Verbose, "verbose", c.Verbose, "Enable verbose logging")

	// Prometheus metrics flags
	flags.BoolVar(&c.MetricsEnabled, "metrics", c.MetricsEnabled, "Enable Prometheus metrics endpoint")
	flags.IntVar(&c.MetricsPort, "metrics-port", c.MetricsPort, "Port for Prometheus metrics endpoint")
}

// loadConfig returns the flag configuration, or the YAML file with every
// explicitly set flag applied on top
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if configPath == "" {
		return cfg, nil
	}

	fileCfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	overlay := pflag.NewFlagSet("overlay", pflag.ContinueOnError)
	registerFlags(overlay, fileCfg)

	var setErr error
	cmd.Flags().Visit(func(f *pflag.Flag) {
		target := overlay.Lookup(f.Name)
		if target == nil || setErr != nil {
			return
		}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			setErr = target.Value.(pflag.SliceValue).Replace(sv.GetSlice())
			return
		}
		setErr = target.Value.Set(f.Value.String())
	})
	if setErr != nil {
		return nil, fmt.Errorf("failed to apply flags over %s: %w", configPath, setErr)
	}
	return fileCfg, nil
}

func run(cmd *cobra.Command, _ []string) error {
	c, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Validate configuration
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(c.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	// Cancel the run on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []pipeline.Option{pipeline.WithLogger(logger)}
	if c.MetricsEnabled {
		m := metrics.NewMetrics("tpsbench", logger)
		if err := m.Start(ctx, c.MetricsPort); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.Stop(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown failed", zap.Error(err))
			}
		}()
		opts = append(opts, pipeline.WithMetrics(m))
	}

	// Create and run pipeline
	p, err := pipeline.New(c, opts...)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer p.Close()

	result, err := p.Execute(ctx)
	if err != nil {
		return fmt.Errorf("pipeline execution failed: %w", err)
	}

	if len(result.Errors) > 0 {
		return fmt.Errorf("benchmark completed with %d errors", len(result.Errors))
	}

	return nil
}
