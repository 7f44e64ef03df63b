// Package scheduler is the external timer the orchestrator relies on: it
// expires stale approvals, advances soaked canary stages and resumes
// scheduled workflows once the change window opens. The orchestrator itself
// never sleeps or runs background work between calls.
package scheduler

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/ILLUVRSE/saferemediate/internal/models"
	"github.com/ILLUVRSE/saferemediate/internal/orchestrator"
)

type Config struct {
	PollInterval time.Duration
	Logger       *log.Logger
}

// Run polls until ctx is cancelled.
func Run(ctx context.Context, orch *orchestrator.Orchestrator, cfg Config) {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[scheduler] ", log.LstdFlags)
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if err := Tick(ctx, orch, logger); err != nil {
			logger.Printf("tick: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// Tick runs one sweep: approval expiry, canary advancement, resume of
// scheduled work. Individual workflow errors are logged, not fatal.
func Tick(ctx context.Context, orch *orchestrator.Orchestrator, logger *log.Logger) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	expired, err := orch.ExpireApprovals(ctx)
	if err != nil {
		return err
	}
	if expired > 0 {
		logger.Printf("expired %d approval(s)", expired)
	}

	monitoring, err := orch.ListByStatus(ctx, models.StatusCanaryMonitoring)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, w := range monitoring {
		if !orch.StaleMonitoringSince(w, now) {
			continue
		}
		advanced, err := orch.AdvanceCanary(ctx, w.ID)
		if err != nil {
			logger.Printf("advance canary %s: %v", w.ID, err)
			continue
		}
		logger.Printf("advanced canary %s status=%s", advanced.ID, advanced.Status)
	}

	resumed, err := orch.ResumePending(ctx)
	if err != nil {
		return err
	}
	if resumed > 0 {
		logger.Printf("resumed %d scheduled workflow(s)", resumed)
	}
	return nil
}
