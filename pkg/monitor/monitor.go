// Package monitor watches for runs whose event log has gone quiet and
// cancels them. Workers are expected to report progress continuously;
// a run with no new event inside the timeout window is considered
// abandoned and receives a canceled event so it stops showing up as
// in-progress.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/testplatform/runtrackr/pkg/lifecycle"
	"github.com/testplatform/runtrackr/pkg/store"
)

// defaultConcurrency is the number of runs inspected in parallel when
// no explicit concurrency value is configured.
const defaultConcurrency = 4

// Monitor is a background service that periodically scans runs and
// cancels the ones that appear stuck.
type Monitor interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Monitor = (*monitor)(nil)

type monitor struct {
	log         logrus.FieldLogger
	store       store.Store
	interval    time.Duration
	timeout     time.Duration
	concurrency int
	done        chan struct{}
	wg          sync.WaitGroup
}

// NewMonitor creates a new stuck-run monitor.
func NewMonitor(
	log logrus.FieldLogger,
	st store.Store,
	interval time.Duration,
	timeout time.Duration,
	concurrency int,
) Monitor {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &monitor{
		log:         log.WithField("component", "monitor"),
		store:       st,
		interval:    interval,
		timeout:     timeout,
		concurrency: concurrency,
		done:        make(chan struct{}),
	}
}

// Start launches a background goroutine that runs an immediate scan
// and then ticks at the configured interval.
func (m *monitor) Start(ctx context.Context) error {
	m.log.WithFields(logrus.Fields{
		"interval": m.interval.String(),
		"timeout":  m.timeout.String(),
	}).Info("Starting stuck-run monitor")

	m.wg.Add(1)

	go func() {
		defer m.wg.Done()

		m.runPass(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.runPass(ctx)
			case <-m.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop signals the monitor goroutine to stop and waits for it.
func (m *monitor) Stop() error {
	close(m.done)
	m.wg.Wait()

	m.log.Info("Monitor stopped")

	return nil
}

// runPass executes one scan over all runs.
func (m *monitor) runPass(ctx context.Context) {
	runs, err := m.store.ListRuns(ctx)
	if err != nil {
		m.log.WithError(err).Warn("Failed to list runs")

		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)

	var canceled atomic.Int64

	for _, run := range runs {
		run := run
		g.Go(func() error {
			ok, err := m.checkRun(gctx, run)
			if err != nil {
				m.log.WithError(err).
					WithField("run_id", run.ID).
					Warn("Failed to check run")

				return nil
			}

			if ok {
				canceled.Add(1)
			}

			return nil
		})
	}

	_ = g.Wait()

	if n := canceled.Load(); n > 0 {
		m.log.WithField("count", n).Info("Canceled stuck runs")
	}
}

// checkRun cancels one run when its last activity is older than the
// timeout. Returns true when a cancellation was recorded.
func (m *monitor) checkRun(ctx context.Context, run store.Run) (bool, error) {
	last, err := m.store.LastEvent(ctx, run.ID)
	if err != nil {
		return false, err
	}

	lastActivity := run.CreatedAt

	if last != nil {
		if last.Stage.Terminal() {
			return false, nil
		}

		lastActivity = last.Timestamp
	}

	if time.Since(lastActivity) < m.timeout {
		return false, nil
	}

	m.log.WithFields(logrus.Fields{
		"run_id":        run.ID,
		"last_activity": lastActivity.UTC().Format(time.RFC3339),
	}).Warn("Canceling stuck run")

	err = m.store.AppendEvent(
		ctx, run.ID, lifecycle.StageCanceled,
		"canceled by monitor: no progress within timeout", time.Time{},
	)
	if err != nil {
		return false, err
	}

	return true, nil
}
