package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/0xmhha/tpsbench/internal/analyzer"
	"github.com/0xmhha/tpsbench/internal/collector"
	"github.com/0xmhha/tpsbench/internal/dispatcher"
	"github.com/0xmhha/tpsbench/internal/distributor"
)

// Stage represents a pipeline stage
type Stage int

const (
	StageInit Stage = iota
	StageFund
	StageDispatch
	StageReport
	StageComplete
)

func (s Stage) String() string {
	switch s {
	case StageInit:
		return "INITIALIZE"
	case StageFund:
		return "FUND"
	case StageDispatch:
		return "DISPATCH"
	case StageReport:
		return "REPORT"
	case StageComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// ChainClient is everything the pipeline needs from one endpoint
type ChainClient interface {
	dispatcher.Client
	distributor.Client
	analyzer.BlockSource

	CurrentNonce(ctx context.Context, account common.Address) (uint64, error)
	SubscribeBestHeads(ctx context.Context) (<-chan *gethtypes.Header, error)
	SubscribeFinalizedHeads(ctx context.Context) (<-chan *gethtypes.Header, error)
}

// StageResult represents the result of a pipeline stage
type StageResult struct {
	Stage    Stage
	Success  bool
	Duration time.Duration
	Message  string
	Error    error
}

// TaskError is the failure of one sender's batch
type TaskError struct {
	Account int
	Sender  common.Address
	Err     error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("account %d (%s): %v", e.Account, e.Sender.Hex(), e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Result represents the complete pipeline execution result
type Result struct {
	// Execution info
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// Stage results
	StageResults []*StageResult

	// Dispatch summary
	Accounts       int
	Completed      int // batches whose head and tail both made it
	Accepted       int
	InteriorFailed int

	// Measurement window as left by the dispatch stage
	Snapshot collector.Snapshot

	// Block report, set when the report stage ran
	Report *collector.Report

	// Best to finalized latency, set when finality tracking was enabled
	Finality *collector.LatencyStats

	// Errors encountered, stage failures and per-task failures
	Errors []error

	mu sync.Mutex
}

// NewResult creates a new pipeline result
func NewResult() *Result {
	return &Result{
		StartTime:    time.Now(),
		StageResults: make([]*StageResult, 0),
		Errors:       make([]error, 0),
	}
}

// AddStageResult adds a stage result
func (r *Result) AddStageResult(sr *StageResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.StageResults = append(r.StageResults, sr)
	if sr.Error != nil {
		r.Errors = append(r.Errors, sr.Error)
	}
}

// AddTaskResult folds one sender's dispatch outcome into the result. Safe for concurrent use.
func (r *Result) AddTaskResult(res *dispatcher.Result, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res != nil {
		r.Accepted += res.Accepted
		r.InteriorFailed += res.InteriorFailed
		if err == nil {
			r.Completed++
		}
	}
	if err != nil {
		r.Errors = append(r.Errors, err)
	}
}

// TaskErrors returns the per-sender failures
func (r *Result) TaskErrors() []*TaskError {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*TaskError
	for _, err := range r.Errors {
		var te *TaskError
		if errors.As(err, &te) {
			out = append(out, te)
		}
	}
	return out
}

// Finalize completes the result
func (r *Result) Finalize() {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
}

// Success returns true if all stages succeeded
func (r *Result) Success() bool {
	for _, sr := range r.StageResults {
		if !sr.Success {
			return false
		}
	}
	return true
}
