package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/regpayhq/regpay-backend/internal/reconcile"
	"github.com/regpayhq/regpay-backend/pkg/config"
	"github.com/regpayhq/regpay-backend/pkg/logger"
)

// LockKeyReconcileSweep names the Redis lock guarding the sweep worker.
const LockKeyReconcileSweep = "reconcile-sweep"

type pendingSweeper interface {
	SweepPending(ctx context.Context, minAge, lookback time.Duration, batchSize int) (reconcile.SweepResult, error)
}

// ReconcileSweepJob re-checks stale pending payments against the gateway and
// applies whatever transition the missed webhook would have applied.
type ReconcileSweepJob struct {
	sweeper   pendingSweeper
	logg      *logger.Logger
	minAge    time.Duration
	lookback  time.Duration
	batchSize int
}

// NewReconcileSweepJob wires the sweep job from config.
func NewReconcileSweepJob(sweeper pendingSweeper, logg *logger.Logger, cfg config.CronConfig) (*ReconcileSweepJob, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("sweeper required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	minAge := cfg.SweepMinAge
	if minAge <= 0 {
		minAge = 10 * time.Minute
	}
	lookback := cfg.SweepLookback
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	batchSize := cfg.SweepBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	return &ReconcileSweepJob{
		sweeper:   sweeper,
		logg:      logg,
		minAge:    minAge,
		lookback:  lookback,
		batchSize: batchSize,
	}, nil
}

func (j *ReconcileSweepJob) Name() string {
	return "reconcile-sweep"
}

func (j *ReconcileSweepJob) Run(ctx context.Context) error {
	result, err := j.sweeper.SweepPending(ctx, j.minAge, j.lookback, j.batchSize)
	if err != nil {
		return fmt.Errorf("sweep pending payments: %w", err)
	}

	ctx = j.logg.WithFields(ctx, map[string]any{
		"checked": result.Checked,
		"settled": result.Settled,
		"failed":  result.Failed,
		"skipped": result.Skipped,
	})
	j.logg.Info(ctx, "reconcile sweep complete")
	return nil
}
