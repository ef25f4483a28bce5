package pipeline

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"sync"
	"time"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/0xmhha/tpsbench/internal/analyzer"
	"github.com/0xmhha/tpsbench/internal/client"
	"github.com/0xmhha/tpsbench/internal/collector"
	"github.com/0xmhha/tpsbench/internal/config"
	"github.com/0xmhha/tpsbench/internal/dispatcher"
	"github.com/0xmhha/tpsbench/internal/distributor"
	"github.com/0xmhha/tpsbench/internal/logging"
	"github.com/0xmhha/tpsbench/internal/metrics"
	"github.com/0xmhha/tpsbench/internal/monitor"
	"github.com/0xmhha/tpsbench/internal/txbuilder"
	"github.com/0xmhha/tpsbench/internal/util/mathutil"
	"github.com/0xmhha/tpsbench/internal/wallet"
)

// fundingTimeout bounds the wait for funding transfers to land
const fundingTimeout = 2 * time.Minute

// Pipeline orchestrates a benchmark run
type Pipeline struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	out     io.Writer

	pool    *client.Pool
	clients []ChainClient
	chainID *big.Int

	// Components
	builder  *txbuilder.BatchBuilder
	factory  *txbuilder.Factory
	limiter  *rate.Limiter
	window   *collector.Window
	progress *monitor.Monitor
	finality *monitor.FinalityTracker

	// State
	senders   []*ecdsa.PrivateKey
	receivers []*ecdsa.PrivateKey

	stopMonitors context.CancelFunc
	monitors     sync.WaitGroup
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithClients uses the given endpoints instead of dialing the configured URLs.
// Account i is served by clients[i % len(clients)].
func WithClients(clients ...ChainClient) Option {
	return func(p *Pipeline) { p.clients = clients }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = logging.OrNop(l) }
}

// WithMetrics reports run progress to m
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithOutput sets where banners, progress and the report table are printed
func WithOutput(w io.Writer) Option {
	return func(p *Pipeline) { p.out = w }
}

// New creates a new pipeline for a validated configuration
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	p := &Pipeline{
		cfg:    cfg,
		logger: zap.NewNop(),
		out:    os.Stdout,
		window: collector.NewWindow(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Window returns the measurement window the dispatchers write to
func (p *Pipeline) Window() *collector.Window {
	return p.window
}

// Execute runs the complete benchmark pipeline
func (p *Pipeline) Execute(ctx context.Context) (*Result, error) {
	result := NewResult()

	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}
	defer p.shutdownMonitors()

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(p.out, "║                          tpsbench                            ║")
	fmt.Fprintln(p.out, "║              Send-to-finality throughput benchmark           ║")
	fmt.Fprintln(p.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(p.out)

	// Stage 1: Initialize
	if err := p.runStage(ctx, result, StageInit, p.initialize); err != nil {
		return result, err
	}

	// Stage 2: Fund senders
	if !p.cfg.SkipFunding {
		if err := p.runStage(ctx, result, StageFund, p.fund); err != nil {
			return result, err
		}
	}

	// Stage 3: Dispatch batches
	if err := p.runStage(ctx, result, StageDispatch, func(ctx context.Context) error {
		return p.dispatch(ctx, result)
	}); err != nil {
		return result, err
	}

	// Stage 4: Report
	if p.cfg.Stat {
		if err := p.runStage(ctx, result, StageReport, func(ctx context.Context) error {
			return p.report(ctx, result)
		}); err != nil {
			return result, err
		}
	}

	p.shutdownMonitors()
	if p.finality != nil {
		stats := p.finality.Stats()
		result.Finality = &stats
		if result.Report != nil {
			result.Report.Finality = &stats
		}
	}

	result.Finalize()
	p.printFinalSummary(result)

	return result, nil
}

// runStage executes a pipeline stage with timing and error handling
func (p *Pipeline) runStage(ctx context.Context, result *Result, stage Stage, fn func(context.Context) error) error {
	fmt.Fprintf(p.out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(p.out, "  Stage %d: %s\n", stage+1, stage.String())
	fmt.Fprintf(p.out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	if p.metrics != nil {
		p.metrics.RecordStageDuration(stage.String(), duration)
	}

	sr := &StageResult{
		Stage:    stage,
		Success:  err == nil,
		Duration: duration,
	}

	if err != nil {
		sr.Error = fmt.Errorf("%s: %w", stage, err)
		sr.Message = fmt.Sprintf("Failed: %v", err)
		p.logger.Error("stage failed", zap.Stringer("stage", stage), zap.Duration("duration", duration), zap.Error(err))
		fmt.Fprintf(p.out, "\n❌ Stage %s failed: %v\n", stage.String(), err)
	} else {
		sr.Message = fmt.Sprintf("Completed in %s", duration)
		p.logger.Info("stage completed", zap.Stringer("stage", stage), zap.Duration("duration", duration))
		fmt.Fprintf(p.out, "\n✅ Stage %s completed in %s\n", stage.String(), duration)
	}

	result.AddStageResult(sr)
	return sr.Error
}

// Stage 1: Initialize
func (p *Pipeline) initialize(ctx context.Context) error {
	if len(p.clients) == 0 {
		pool, err := client.NewPool(p.cfg.URLs, client.WithPollInterval(p.cfg.PollInterval))
		if err != nil {
			return fmt.Errorf("failed to dial endpoints: %w", err)
		}
		p.pool = pool
		p.clients = make([]ChainClient, pool.Len())
		for i := range p.clients {
			p.clients[i] = pool.For(i)
		}
	}
	primary := p.clients[0]

	chainID, err := primary.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain ID: %w", err)
	}
	p.chainID = chainID

	gasPrice, err := p.cfg.GasPriceWei()
	if err != nil {
		return err
	}
	p.builder, err = txbuilder.NewBatchBuilder(ctx, &txbuilder.BuilderConfig{
		ChainID:  chainID,
		GasLimit: p.cfg.GasLimit,
		GasPrice: gasPrice,
	}, primary)
	if err != nil {
		return fmt.Errorf("failed to create batch builder: %w", err)
	}
	p.factory = txbuilder.NewFactoryFromConfig(p.cfg)

	accounts, err := mathutil.Uint64ToInt(p.cfg.SubAccounts)
	if err != nil {
		return fmt.Errorf("invalid sub-accounts: %w", err)
	}
	if p.senders, err = wallet.GenerateBenchKeys(p.cfg.SenderPrefix(), accounts); err != nil {
		return fmt.Errorf("failed to generate sender keys: %w", err)
	}
	if p.receivers, err = wallet.GenerateBenchKeys(p.cfg.ReceiverPrefix(), accounts); err != nil {
		return fmt.Errorf("failed to generate receiver keys: %w", err)
	}

	p.limiter = dispatcher.NewLimiter(p.dispatcherConfig())
	p.progress = monitor.New(&monitor.Config{Output: p.out})

	fmt.Fprintf(p.out, "\n📋 Configuration:\n")
	fmt.Fprintf(p.out, "  Endpoints:      %d (%s primary)\n", len(p.clients), p.primaryURL())
	fmt.Fprintf(p.out, "  Chain ID:       %s\n", chainID)
	fmt.Fprintf(p.out, "  Mode:           %s\n", p.cfg.GetMode())
	fmt.Fprintf(p.out, "  Sub Accounts:   %d\n", p.cfg.SubAccounts)
	fmt.Fprintf(p.out, "  Tx per Account: %d\n", p.cfg.TxPerAccount)
	fmt.Fprintf(p.out, "  Batch Size:     %d\n", p.cfg.BatchSize)
	fmt.Fprintf(p.out, "  Gas Price:      %s wei\n", p.builder.GasPrice)

	p.startMonitors(ctx)
	return nil
}

func (p *Pipeline) primaryURL() string {
	if p.pool != nil {
		return p.pool.Primary().URL()
	}
	return "in-process"
}

// startMonitors follows best and finalized heads of the primary endpoint
// until the run ends. Subscription failures are logged and never fail the run.
func (p *Pipeline) startMonitors(ctx context.Context) {
	primary := p.clients[0]
	mctx, cancel := context.WithCancel(ctx)
	p.stopMonitors = cancel

	var bestSink, finalizedSink monitor.Sink
	if p.cfg.FinalityStat {
		p.finality = monitor.NewFinalityTracker()
		bestSink = p.finality.ObserveBest
		finalizedSink = p.finality.ObserveFinalized
	}

	streams := []struct {
		kind      monitor.Kind
		sink      monitor.Sink
		subscribe func(context.Context) (<-chan *gethtypes.Header, error)
	}{
		{monitor.Best, bestSink, primary.SubscribeBestHeads},
		{monitor.Finalized, finalizedSink, primary.SubscribeFinalizedHeads},
	}

	for _, s := range streams {
		heads, err := s.subscribe(mctx)
		if err != nil {
			p.logger.Warn("block monitor not started", zap.Stringer("stream", s.kind), zap.Error(err))
			continue
		}
		m := monitor.NewBlockMonitor(s.kind, primary, s.sink, p.logger)
		p.monitors.Add(1)
		go func() {
			defer p.monitors.Done()
			m.Run(mctx, heads)
		}()
	}
}

func (p *Pipeline) shutdownMonitors() {
	if p.stopMonitors != nil {
		p.stopMonitors()
	}
	p.monitors.Wait()
}

func (p *Pipeline) dispatcherConfig() *dispatcher.Config {
	return &dispatcher.Config{
		BatchSize:       p.cfg.BatchSize,
		MaxConcurrent:   p.cfg.MaxConcurrent,
		RateLimit:       p.cfg.RateLimit,
		BoundaryRetries: p.cfg.BoundaryRetries,
		RetryInitial:    p.cfg.RetryInitial,
		RetryMax:        p.cfg.RetryMax,
		BoundaryTimeout: p.cfg.BoundaryTimeout,
	}
}

// Stage 2: Fund senders
func (p *Pipeline) fund(ctx context.Context) error {
	funder, err := wallet.NewFunder(p.cfg.PrivateKey, p.cfg.Mnemonic)
	if err != nil {
		return fmt.Errorf("failed to load funder: %w", err)
	}

	txs, err := mathutil.Uint64ToInt(p.cfg.TxPerAccount)
	if err != nil {
		return fmt.Errorf("invalid tx-per-account: %w", err)
	}

	distCfg := &distributor.Config{
		GasPerTx:      p.cfg.GasLimit,
		TxsPerAccount: txs,
		GasPrice:      p.builder.GasPrice,
		BufferPercent: p.cfg.FundBuffer,
		PollInterval:  p.cfg.PollInterval,
	}
	if p.cfg.GetMode() == config.ModeTransfer {
		// every transfer carries 1 wei
		distCfg.ValuePerTx = big.NewInt(1)
	}

	dist := distributor.New(p.clients[0], distCfg,
		distributor.WithLogger(p.logger),
		distributor.WithProgress(p.out == os.Stdout),
	)

	fmt.Fprintf(p.out, "Funding %d senders from %s...\n", len(p.senders), funder.Address().Hex())
	result, err := dist.Distribute(ctx, funder.Key(), wallet.Addresses(p.senders))
	if err != nil {
		return fmt.Errorf("distribution failed: %w", err)
	}

	if result.TxCount > 0 {
		if err := dist.WaitForFunding(ctx, result.ReadyAccounts, fundingTimeout); err != nil {
			return fmt.Errorf("failed waiting for funding: %w", err)
		}
	}

	fmt.Fprintf(p.out, "\n📊 Funding Summary:\n")
	fmt.Fprintf(p.out, "  Ready Accounts:    %d\n", len(result.ReadyAccounts))
	fmt.Fprintf(p.out, "  Unfunded Accounts: %d\n", len(result.UnfundedAccounts))
	fmt.Fprintf(p.out, "  Total Distributed: %s wei\n", result.TotalDistributed)
	fmt.Fprintf(p.out, "  Transactions Sent: %d\n", result.TxCount)

	if n := len(result.UnfundedAccounts); n > 0 {
		return fmt.Errorf("%d senders could not be funded: %w", n, distributor.ErrInsufficientFunds)
	}
	return nil
}

// Stage 3: Dispatch batches. Sender i sends TxPerAccount transfers to
// receiver i through endpoint i mod len(endpoints). A failing sender is
// recorded in the result and never stops the others.
func (p *Pipeline) dispatch(ctx context.Context, result *Result) error {
	count, err := mathutil.Uint64ToInt(p.cfg.TxPerAccount)
	if err != nil {
		return fmt.Errorf("invalid tx-per-account: %w", err)
	}

	var observer dispatcher.Observer = p.progress
	if p.metrics != nil {
		observer = dispatcher.Observers(p.progress, p.metrics)
	}

	dispatchers := make([]*dispatcher.Dispatcher, len(p.clients))
	for i, c := range p.clients {
		d, err := dispatcher.New(c, p.window, p.dispatcherConfig(),
			dispatcher.WithLimiter(p.limiter),
			dispatcher.WithObserver(observer),
			dispatcher.WithLogger(p.logger.With(zap.Int("endpoint", i))),
		)
		if err != nil {
			return fmt.Errorf("failed to create dispatcher: %w", err)
		}
		dispatchers[i] = d
	}

	result.Accounts = len(p.senders)
	displayCtx, stopDisplay := context.WithCancel(ctx)
	var display sync.WaitGroup
	display.Add(1)
	go func() {
		defer display.Done()
		p.trackProgress(displayCtx)
	}()

	p.progress.Start()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for i, sender := range p.senders {
		g.Go(func() error {
			res, err := p.runTask(gctx, dispatchers[i%len(dispatchers)], i, sender, count)
			if err != nil {
				err = &TaskError{Account: i, Sender: crypto.PubkeyToAddress(sender.PublicKey), Err: err}
				p.logger.Warn("sender batch failed", zap.Int("account", i), zap.Error(err))
			}
			result.AddTaskResult(res, err)
			return nil
		})
	}
	_ = g.Wait()

	stopDisplay()
	display.Wait()

	result.Snapshot = p.window.Snapshot()

	fmt.Fprintf(p.out, "\n📊 Dispatch Summary:\n")
	fmt.Fprintf(p.out, "  Senders Completed:  %d/%d\n", result.Completed, result.Accounts)
	fmt.Fprintf(p.out, "  Accepted:           %d\n", result.Accepted)
	fmt.Fprintf(p.out, "  Interior Failed:    %d\n", result.InteriorFailed)
	fmt.Fprintf(p.out, "  Counted in Window:  %d\n", result.Snapshot.TxCount)
	if errs := result.TaskErrors(); len(errs) > 0 {
		fmt.Fprintf(p.out, "  Failed Senders:     %d\n", len(errs))
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if result.Completed == 0 {
		return errors.New("no sender batch completed")
	}
	return nil
}

// runTask builds and dispatches one sender's batch
func (p *Pipeline) runTask(ctx context.Context, d *dispatcher.Dispatcher, i int, sender *ecdsa.PrivateKey, count int) (*dispatcher.Result, error) {
	c := p.clients[i%len(p.clients)]
	from := crypto.PubkeyToAddress(sender.PublicKey)

	nonce, err := c.CurrentNonce(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	payload, err := p.factory.PayloadFor(crypto.PubkeyToAddress(p.receivers[i].PublicKey))
	if err != nil {
		return nil, err
	}

	batch, err := p.builder.BuildBatch(ctx, sender, nonce, count, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to build batch: %w", err)
	}

	p.logger.Debug("dispatching batch",
		zap.Int("account", i),
		zap.String("sender", from.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Int("size", len(batch)),
	)
	return d.Dispatch(ctx, batch)
}

// trackProgress prints the live status line and mirrors the submission rate to the metrics gauge
func (p *Pipeline) trackProgress(ctx context.Context) {
	if p.metrics == nil {
		p.progress.Display(ctx)
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.progress.Display(ctx)
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.metrics.SetCurrentTPS(p.progress.Snapshot().CurrentTPS)
			wg.Wait()
			return
		case <-ticker.C:
			p.metrics.SetCurrentTPS(p.progress.Snapshot().CurrentTPS)
		}
	}
}

// Stage 4: Report
func (p *Pipeline) report(ctx context.Context, result *Result) error {
	report, err := analyzer.Compute(ctx, p.clients[0], result.Snapshot, p.cfg.MaxDepth)
	if err != nil {
		return fmt.Errorf("failed to compute report: %w", err)
	}
	if p.finality != nil {
		stats := p.finality.Stats()
		report.Finality = &stats
	}
	result.Report = report

	if p.metrics != nil {
		p.metrics.SetWindowTPS(report.TPS)
	}

	fmt.Fprintln(p.out)
	analyzer.WriteTable(p.out, report)

	if p.cfg.OutputDir != "" {
		files, err := collector.NewExporter(p.cfg.OutputDir).ExportAll(report)
		if err != nil {
			p.logger.Warn("failed to export report", zap.String("dir", p.cfg.OutputDir), zap.Error(err))
		} else {
			fmt.Fprintf(p.out, "\n📁 Reports exported to:\n")
			for _, f := range files {
				fmt.Fprintf(p.out, "  - %s\n", f)
			}
		}
	}

	return nil
}

// printFinalSummary prints the final execution summary
func (p *Pipeline) printFinalSummary(result *Result) {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(p.out, "║                    📊 Execution Summary 📊                    ║")
	fmt.Fprintln(p.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(p.out)

	fmt.Fprintf(p.out, "Stage Results:\n")
	for _, sr := range result.StageResults {
		status := "✅"
		if !sr.Success {
			status = "❌"
		}
		fmt.Fprintf(p.out, "  %s Stage %d (%s): %s\n", status, sr.Stage+1, sr.Stage.String(), sr.Duration)
	}

	fmt.Fprintf(p.out, "\nTotal Duration: %s\n", result.Duration)
	if snap := result.Snapshot; snap.Complete() {
		fmt.Fprintf(p.out, "Window: %d transactions in %s (%.2f TPS)\n", snap.TxCount, snap.Duration(), snap.TPS())
	}

	if len(result.Errors) == 0 {
		fmt.Fprintln(p.out, "\n🎉 Benchmark completed successfully!")
	} else {
		fmt.Fprintln(p.out, "\n⚠️  Benchmark completed with errors")
		for _, err := range result.Errors {
			fmt.Fprintf(p.out, "  - %v\n", err)
		}
	}
}

// Close cleans up pipeline resources
func (p *Pipeline) Close() {
	p.shutdownMonitors()
	if p.pool != nil {
		p.pool.Close()
	}
}
