package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/0xmhha/tpsbench/internal/logging"
	"github.com/0xmhha/tpsbench/internal/txbuilder"
	"github.com/0xmhha/tpsbench/pkg/types"
)

// Dispatcher submits batches with only the first and last transaction tracked.
// Every interior transaction is fire-and-forget. Because the batch shares one
// sender with consecutive nonces, finality of the tail implies finality of
// everything before it.
type Dispatcher struct {
	client   Client
	recorder Recorder
	config   *Config
	limiter  *rate.Limiter
	observer Observer
	logger   *zap.Logger

	// Metrics
	sentCount   atomic.Int64
	failedCount atomic.Int64
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithLimiter paces interior sends with a limiter shared by other dispatchers
func WithLimiter(l *rate.Limiter) Option {
	return func(d *Dispatcher) { d.limiter = l }
}

// WithObserver reports progress to o
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		if o != nil {
			d.observer = o
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = logging.OrNop(l) }
}

// NewLimiter builds the interior send limiter for config, or nil when pacing is off
func NewLimiter(config *Config) *rate.Limiter {
	if config.RateLimit <= 0 {
		return nil
	}
	burst := config.BatchSize
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(config.RateLimit), burst)
}

// New creates a new Dispatcher instance
func New(client Client, recorder Recorder, config *Config, opts ...Option) (*Dispatcher, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	d := &Dispatcher{
		client:   client,
		recorder: recorder,
		config:   config,
		observer: nopObserver{},
		logger:   zap.NewNop(),
	}
	d.limiter = NewLimiter(config)
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch submits batch, which must be one sender's transactions in nonce order.
//
// The head is tracked to inclusion and reported as the window's begin block;
// the tail is tracked to finality and reported as the window's finalize block
// and end time. The window's tx count grows by the number of transactions the
// node accepted. A head that cannot be submitted aborts the batch with nothing
// counted. A tail that cannot be finalized is returned as a *BoundaryError
// after the accepted count has been recorded.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []*txbuilder.SignedTx) (*Result, error) {
	if len(batch) == 0 {
		return nil, ErrEmptyBatch
	}

	start := time.Now()
	result := &Result{}
	defer func() {
		result.Duration = time.Since(start)
		d.observer.BatchDispatched(result.Duration)
	}()

	if len(batch) == 1 {
		return result, d.dispatchSingle(ctx, batch[0], result)
	}

	head, tail := batch[0], batch[len(batch)-1]
	interior := batch[1 : len(batch)-1]

	begin := time.Now()
	headWatch, err := d.submit(ctx, Head, head)
	if err != nil {
		d.observer.TxsFailed(len(batch))
		d.logger.Error("head submission failed, dropping batch",
			zap.String("sender", head.From.Hex()),
			zap.Uint64("nonce", head.Nonce),
			zap.Error(err),
		)
		return result, err
	}
	d.recorder.SetBeginTimestamp(begin)
	result.Tracked++
	d.markSent(1)

	// Head inclusion is awaited while the interior goes out
	headDone := make(chan error, 1)
	go func() {
		ref, err := d.await(ctx, Head, headWatch, false)
		if err == nil {
			d.recorder.SetBeginBlock(ref)
			result.HeadBlock = &ref
			d.logger.Debug("head included", zap.Stringer("block", ref), zap.Uint64("nonce", head.Nonce))
		}
		headDone <- err
	}()

	sent, failed := d.sendInterior(ctx, interior)
	result.Untracked = len(interior)
	result.InteriorFailed = failed

	tailErr := d.trackTail(ctx, tail, result)

	headErr := <-headDone

	result.Accepted = result.Tracked + sent
	d.recorder.AddTxCount(uint64(result.Accepted))

	d.logger.Debug("batch dispatched",
		zap.String("sender", head.From.Hex()),
		zap.Int("size", len(batch)),
		zap.Int("accepted", result.Accepted),
		zap.Int("interior_failed", failed),
	)

	if headErr != nil {
		d.logger.Error("head inclusion not observed", zap.Uint64("nonce", head.Nonce), zap.Error(headErr))
	}
	return result, errors.Join(headErr, tailErr)
}

// dispatchSingle handles a one-element batch, whose only transaction is both head and tail
func (d *Dispatcher) dispatchSingle(ctx context.Context, tx *txbuilder.SignedTx, result *Result) error {
	submitted := time.Now()

	w, err := d.submit(ctx, Head, tx)
	if err != nil {
		d.observer.TxsFailed(1)
		return err
	}
	d.recorder.SetBeginTimestamp(submitted)
	result.Tracked = 1
	result.Accepted = 1
	d.markSent(1)
	defer d.recorder.AddTxCount(1)

	included, err := d.await(ctx, Head, w, false)
	if err != nil {
		return err
	}
	d.recorder.SetBeginBlock(included)
	result.HeadBlock = &included

	finalized, err := d.await(ctx, Tail, w, true)
	if err != nil {
		return err
	}
	d.recorder.SetFinalizeBlock(finalized)
	d.recorder.SetEndTimestamp(time.Now())
	result.TailBlock = &finalized
	d.observer.TailFinalized(time.Since(submitted))
	return nil
}

func (d *Dispatcher) trackTail(ctx context.Context, tail *txbuilder.SignedTx, result *Result) error {
	submitted := time.Now()

	w, err := d.submit(ctx, Tail, tail)
	if err != nil {
		d.observer.TxsFailed(1)
		d.logger.Error("tail submission failed",
			zap.String("sender", tail.From.Hex()),
			zap.Uint64("nonce", tail.Nonce),
			zap.Error(err),
		)
		return err
	}
	result.Tracked++
	d.markSent(1)

	ref, err := d.await(ctx, Tail, w, true)
	if err != nil {
		d.logger.Error("tail finality not observed",
			zap.String("sender", tail.From.Hex()),
			zap.Uint64("nonce", tail.Nonce),
			zap.Error(err),
		)
		return err
	}

	d.recorder.SetFinalizeBlock(ref)
	d.recorder.SetEndTimestamp(time.Now())
	result.TailBlock = &ref
	d.observer.TailFinalized(time.Since(submitted))
	d.logger.Debug("tail finalized", zap.Stringer("block", ref), zap.Uint64("nonce", tail.Nonce))
	return nil
}

func (d *Dispatcher) submit(ctx context.Context, pos Position, tx *txbuilder.SignedTx) (Watch, error) {
	var w Watch
	err := d.retryBoundary(ctx, pos, "submit", func() error {
		var err error
		w, err = d.client.SubmitAndWatch(ctx, tx)
		return err
	})
	return w, err
}

func (d *Dispatcher) await(ctx context.Context, pos Position, w Watch, finalized bool) (types.BlockRef, error) {
	var ref types.BlockRef
	step := "inclusion"
	wait := w.Included
	if finalized {
		step = "finality"
		wait = w.Finalized
	}
	// A tx stuck behind a nonce gap never lands; give up after BoundaryTimeout
	waitCtx, cancel := context.WithTimeout(ctx, d.config.BoundaryTimeout)
	defer cancel()

	err := d.retryBoundary(waitCtx, pos, step, func() error {
		var err error
		ref, err = wait(waitCtx)
		return err
	})
	return ref, err
}

// sendInterior sends txs untracked and returns how many the node accepted and rejected
func (d *Dispatcher) sendInterior(ctx context.Context, txs []*txbuilder.SignedTx) (int, int) {
	if len(txs) == 0 {
		return 0, 0
	}

	chunks := d.split(txs)

	var (
		wg     sync.WaitGroup
		sent   atomic.Int64
		failed atomic.Int64
	)
	sem := make(chan struct{}, d.config.MaxConcurrent)

	for _, chunk := range chunks {
		wg.Add(1)
		go func(chunk []*txbuilder.SignedTx) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			ok, bad := d.sendChunk(ctx, chunk)
			sent.Add(int64(ok))
			failed.Add(int64(bad))
		}(chunk)
	}

	wg.Wait()
	return int(sent.Load()), int(failed.Load())
}

func (d *Dispatcher) split(txs []*txbuilder.SignedTx) [][]*txbuilder.SignedTx {
	var chunks [][]*txbuilder.SignedTx

	for i := 0; i < len(txs); i += d.config.BatchSize {
		end := i + d.config.BatchSize
		if end > len(txs) {
			end = len(txs)
		}
		chunks = append(chunks, txs[i:end])
	}

	return chunks
}

func (d *Dispatcher) sendChunk(ctx context.Context, chunk []*txbuilder.SignedTx) (int, int) {
	if d.limiter != nil {
		if err := d.limiter.WaitN(ctx, len(chunk)); err != nil {
			d.markFailed(len(chunk))
			d.logger.Warn("interior send cancelled", zap.Int("txs", len(chunk)), zap.Error(err))
			return 0, len(chunk)
		}
	}

	if d.config.BatchSize <= 1 {
		ok := 0
		for _, tx := range chunk {
			if _, err := d.client.SendRawTransaction(ctx, tx.RawTx); err != nil {
				d.markFailed(1)
				d.logger.Warn("interior tx rejected", zap.Uint64("nonce", tx.Nonce), zap.Error(err))
				continue
			}
			d.markSent(1)
			ok++
		}
		return ok, len(chunk) - ok
	}

	raws := make([][]byte, len(chunk))
	for i, tx := range chunk {
		raws[i] = tx.RawTx
	}

	errs, err := d.client.BatchSendRawTransactions(ctx, raws)
	if err != nil {
		d.markFailed(len(chunk))
		d.logger.Warn("interior batch failed",
			zap.Uint64("first_nonce", chunk[0].Nonce),
			zap.Int("txs", len(chunk)),
			zap.Error(err),
		)
		return 0, len(chunk)
	}

	ok := 0
	for i, txErr := range errs {
		if txErr != nil {
			d.markFailed(1)
			d.logger.Warn("interior tx rejected", zap.Uint64("nonce", chunk[i].Nonce), zap.Error(txErr))
			continue
		}
		d.markSent(1)
		ok++
	}
	return ok, len(chunk) - ok
}

func (d *Dispatcher) markSent(n int) {
	d.sentCount.Add(int64(n))
	d.observer.TxsSent(n)
}

func (d *Dispatcher) markFailed(n int) {
	d.failedCount.Add(int64(n))
	d.observer.TxsFailed(n)
}

// GetSentCount returns the number of transactions the node accepted
func (d *Dispatcher) GetSentCount() int64 {
	return d.sentCount.Load()
}

// GetFailedCount returns the number of rejected transactions
func (d *Dispatcher) GetFailedCount() int64 {
	return d.failedCount.Load()
}

type nopObserver struct{}

func (nopObserver) TxsSent(int) {}
func (nopObserver) TxsFailed(int) {}
func (nopObserver) BoundaryRetried(Position) {}
func (nopObserver) BoundaryExhausted(Position) {}
func (nopObserver) TailFinalized(time.Duration) {}
func (nopObserver) BatchDispatched(time.Duration) {}

// Observers fans notifications out to every non-nil observer
func Observers(obs ...Observer) Observer {
	var list multiObserver
	for _, o := range obs {
		if o != nil {
			list = append(list, o)
		}
	}
	return list
}

type multiObserver []Observer

func (m multiObserver) TxsSent(n int) {
	for _, o := range m {
		o.TxsSent(n)
	}
}

func (m multiObserver) TxsFailed(n int) {
	for _, o := range m {
		o.TxsFailed(n)
	}
}

func (m multiObserver) BoundaryRetried(p Position) {
	for _, o := range m {
		o.BoundaryRetried(p)
	}
}

func (m multiObserver) BoundaryExhausted(p Position) {
	for _, o := range m {
		o.BoundaryExhausted(p)
	}
}

func (m multiObserver) TailFinalized(d time.Duration) {
	for _, o := range m {
		o.TailFinalized(d)
	}
}

func (m multiObserver) BatchDispatched(d time.Duration) {
	for _, o := range m {
		o.BatchDispatched(d)
	}
}
