package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/peershare/booking/pkg/booking"
)

// Advancer drives due lifecycle transitions; *booking.Service satisfies it.
type Advancer interface {
	AdvanceDue(ctx context.Context, asOf booking.Date) (int, error)
}

// Runner periodically sweeps rentals whose start or end date has been
// reached.
type Runner struct {
	advancer Advancer
	interval time.Duration
	nowFn    func() time.Time
	logger   *zap.Logger
}

// New wires a Runner. A non-positive interval defaults to one minute.
func New(advancer Advancer, interval time.Duration, logger *zap.Logger) *Runner {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Runner{
		advancer: advancer,
		interval: interval,
		nowFn:    time.Now,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled, sweeping once immediately and then at
// every tick.
func (runner *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(runner.interval)
	defer ticker.Stop()

	runner.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			runner.logger.Info("lifecycle scheduler stopping")
			return
		case <-ticker.C:
			runner.sweep(ctx)
		}
	}
}

func (runner *Runner) sweep(ctx context.Context) {
	asOf := booking.DateOf(runner.nowFn())
	advanced, err := runner.advancer.AdvanceDue(ctx, asOf)
	if err != nil {
		runner.logger.Error("lifecycle sweep failed", zap.String("as_of", asOf.String()), zap.Error(err))
		return
	}
	if advanced > 0 {
		runner.logger.Info("lifecycle sweep advanced rentals",
			zap.String("as_of", asOf.String()),
			zap.Int("advanced", advanced))
	}
}
