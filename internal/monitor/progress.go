package monitor

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xmhha/tpsbench/internal/dispatcher"
)

// Config holds configuration for the progress monitor
type Config struct {
	UpdateInterval time.Duration // How often to update display
	WindowSize     time.Duration // Span of the rolling submission rate
	Output         io.Writer     // Defaults to stdout
}

// DefaultConfig returns default monitor configuration
func DefaultConfig() *Config {
	return &Config{
		UpdateInterval: time.Second,
		WindowSize:     10 * time.Second,
	}
}

// Monitor counts dispatch events and prints a status line with a rolling
// submission rate. It implements dispatcher.Observer.
type Monitor struct {
	config *Config
	out    io.Writer

	sent      atomic.Int64
	failed    atomic.Int64
	finalized atomic.Int64
	batches   atomic.Int64
	retries   atomic.Int64
	exhausted atomic.Int64

	mu      sync.Mutex
	started time.Time
	points  []point
}

// point is the sent counter observed at one instant
type point struct {
	at   time.Time
	sent int64
}

// Snapshot represents a point-in-time view of dispatch progress
type Snapshot struct {
	TotalSent       int64
	TotalFailed     int64
	TailsFinalized  int64
	Batches         int64
	BoundaryRetries int64
	BoundaryFailed  int64
	CurrentTPS      float64 // submission rate over the last WindowSize
	AvgTPS          float64 // submission rate since Start
	Elapsed         time.Duration
}

var _ dispatcher.Observer = (*Monitor)(nil)

// New creates a new Monitor instance
func New(config *Config) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	if config.UpdateInterval <= 0 {
		config.UpdateInterval = time.Second
	}
	if config.WindowSize <= 0 {
		config.WindowSize = 10 * time.Second
	}
	out := config.Output
	if out == nil {
		out = os.Stdout
	}
	return &Monitor{config: config, out: out, started: time.Now()}
}

// Start restarts the clock and the rolling window
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = time.Now()
	m.points = nil
}

func (m *Monitor) TxsSent(n int) { m.sent.Add(int64(n)) }

func (m *Monitor) TxsFailed(n int) { m.failed.Add(int64(n)) }

func (m *Monitor) BoundaryRetried(dispatcher.Position) { m.retries.Add(1) }

func (m *Monitor) BoundaryExhausted(dispatcher.Position) { m.exhausted.Add(1) }

func (m *Monitor) TailFinalized(time.Duration) { m.finalized.Add(1) }

func (m *Monitor) BatchDispatched(time.Duration) { m.batches.Add(1) }

// rate records the counter at now and returns the rate across the window.
// The oldest point kept is the last one at or before the window start, so
// the rate spans the full window once enough time has passed.
func (m *Monitor) rate(now time.Time, sent int64) float64 {
	m.points = append(m.points, point{at: now, sent: sent})

	cutoff := now.Add(-m.config.WindowSize)
	drop := 0
	for drop+1 < len(m.points) && !m.points[drop+1].at.After(cutoff) {
		drop++
	}
	m.points = m.points[drop:]

	oldest := m.points[0]
	span := now.Sub(oldest.at).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(sent-oldest.sent) / span
}

// Snapshot returns current progress and advances the rolling window
func (m *Monitor) Snapshot() *Snapshot {
	now := time.Now()
	sent := m.sent.Load()

	m.mu.Lock()
	elapsed := now.Sub(m.started)
	current := m.rate(now, sent)
	m.mu.Unlock()

	s := &Snapshot{
		TotalSent:       sent,
		TotalFailed:     m.failed.Load(),
		TailsFinalized:  m.finalized.Load(),
		Batches:         m.batches.Load(),
		BoundaryRetries: m.retries.Load(),
		BoundaryFailed:  m.exhausted.Load(),
		CurrentTPS:      current,
		Elapsed:         elapsed,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		s.AvgTPS = float64(sent) / secs
	}
	return s
}

// DisplayLine returns a formatted single-line status
func (m *Monitor) DisplayLine() string {
	s := m.Snapshot()
	return fmt.Sprintf("Sent: %d | Failed: %d | Batches: %d (finalized %d) | Retries: %d | Current TPS: %.1f | Avg TPS: %.1f | Elapsed: %s",
		s.TotalSent, s.TotalFailed, s.Batches, s.TailsFinalized, s.BoundaryRetries, s.CurrentTPS, s.AvgTPS, formatDuration(s.Elapsed))
}

// Display prints the status line every UpdateInterval until ctx is done
func (m *Monitor) Display(ctx context.Context) {
	ticker := time.NewTicker(m.config.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(m.out, "\r%s\n", m.DisplayLine())
			return
		case <-ticker.C:
			fmt.Fprintf(m.out, "\r%s", m.DisplayLine())
		}
	}
}

func formatDuration(d time.Duration) string {
	return d.Truncate(time.Second).String()
}
