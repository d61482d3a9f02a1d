/*
scheduler.go - Periodic balance drift scan

PURPOSE:
  Runs FindDriftedUsers on an interval and records each pass as a
  DriftScanRun. With AutoFix enabled, every drifted user is then passed to
  FixBalanceDrift; a user whose fix loses a compare-and-set race is left
  for the next scan.

DESIGN:
  - One background goroutine driven by a ticker
  - Scans immediately on Start, then every Interval
  - RunNow executes a scan synchronously (admin endpoint, CLI)
  - Scans never overlap; RunNow waits for a running tick to finish

USAGE:
  scheduler := NewDriftScanScheduler(calc, store)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - settlement/reconcile.go: FindDriftedUsers, FixBalanceDrift
  - handlers.go: TriggerDriftScan, ListScanRuns endpoints
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/metrics"
	"github.com/warp/settlement-engine/settlement"
)

// DriftScanScheduler handles automated drift detection.
type DriftScanScheduler struct {
	Calculator *settlement.Calculator
	Runs       settlement.ScanRunStore
	Interval   time.Duration
	Enabled    bool
	AutoFix    bool
	// Tolerance overrides the calculator's tolerance when positive.
	Tolerance decimal.Decimal
	Logger    *slog.Logger

	ticker  *time.Ticker
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	scanMu  sync.Mutex
	started bool
}

// NewDriftScanScheduler creates a scheduler with a one hour interval.
func NewDriftScanScheduler(calc *settlement.Calculator, runs settlement.ScanRunStore) *DriftScanScheduler {
	return &DriftScanScheduler{
		Calculator: calc,
		Runs:       runs,
		Interval:   time.Hour,
		Enabled:    true,
		Logger:     slog.Default(),
	}
}

// Start begins the scheduler.
func (ds *DriftScanScheduler) Start() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if !ds.Enabled {
		ds.Logger.Info("drift scheduler disabled, not starting")
		return
	}
	if ds.started {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	ds.ticker = time.NewTicker(ds.Interval)
	ds.cancel = cancel
	ds.started = true
	ds.wg.Add(1)

	go ds.run(ctx)

	ds.Logger.Info("drift scheduler started", "interval", ds.Interval, "auto_fix", ds.AutoFix)
}

// Stop stops the scheduler, cancelling an in-flight scan, and waits for it
// to return.
func (ds *DriftScanScheduler) Stop() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if !ds.started {
		return
	}
	ds.ticker.Stop()
	ds.cancel()
	ds.wg.Wait()
	ds.started = false
	ds.Logger.Info("drift scheduler stopped")
}

func (ds *DriftScanScheduler) run(ctx context.Context) {
	defer ds.wg.Done()

	ds.tick(ctx)
	for {
		select {
		case <-ds.ticker.C:
			ds.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (ds *DriftScanScheduler) tick(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, ds.Interval)
	defer cancel()
	if _, err := ds.RunNow(ctx); err != nil {
		ds.Logger.Error("drift scan failed", "error", err)
	}
}

// RunNow performs one scan and returns its run record. The record is
// persisted even when the scan fails or ctx is cancelled.
func (ds *DriftScanScheduler) RunNow(ctx context.Context) (settlement.DriftScanRun, error) {
	ds.scanMu.Lock()
	defer ds.scanMu.Unlock()

	start := time.Now().UTC()
	run := settlement.DriftScanRun{ID: uuid.NewString(), StartedAt: start}
	if err := ds.Runs.SaveScanRun(ctx, run); err != nil {
		return run, err
	}

	scanErr := ds.scan(ctx, &run)

	completed := time.Now().UTC()
	run.CompletedAt = &completed
	if scanErr != nil {
		run.Error = scanErr.Error()
	}
	metrics.DriftScanDuration.Observe(completed.Sub(start).Seconds())

	if err := ds.Runs.SaveScanRun(context.WithoutCancel(ctx), run); err != nil {
		return run, err
	}

	ds.Logger.Info("drift scan completed",
		"run_id", run.ID,
		"scanned", run.Scanned,
		"drifted", run.Drifted,
		"fixed", run.Fixed,
	)
	return run, scanErr
}

func (ds *DriftScanScheduler) scan(ctx context.Context, run *settlement.DriftScanRun) error {
	result, err := ds.Calculator.ScanDrift(ctx, ds.Tolerance)
	if err != nil {
		return err
	}
	run.Scanned = result.Scanned
	run.Drifted = len(result.Drifted)

	if !ds.AutoFix {
		return nil
	}
	for _, report := range result.Drifted {
		fix, err := ds.Calculator.FixBalanceDrift(ctx, report.UserID)
		if err != nil {
			if settlement.IsRetryable(err) {
				ds.Logger.Warn("drift fix lost race, retrying next scan", "user_id", report.UserID)
				continue
			}
			return err
		}
		if fix.Fixed {
			run.Fixed++
		}
	}
	return nil
}

// NextRunTime returns when the next scheduled scan will occur.
func (ds *DriftScanScheduler) NextRunTime() time.Time {
	return time.Now().Add(ds.Interval)
}
