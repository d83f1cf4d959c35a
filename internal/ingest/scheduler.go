package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler re-scans the data directory on a cron schedule so files dropped
// in while the server runs are picked up by the background worker.
type Scheduler struct {
	cron    *cron.Cron
	scanner *Scanner
	ctx     context.Context
}

func NewScheduler(ctx context.Context, scanner *Scanner) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		scanner: scanner,
		ctx:     ctx,
	}
}

// Register adds the re-scan job. spec is a standard five-field cron
// expression or a descriptor such as "@every 1h".
func (s *Scheduler) Register(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.RunNow); err != nil {
		return fmt.Errorf("register scan schedule %q: %w", spec, err)
	}
	return nil
}

// RunNow performs one scan immediately.
func (s *Scheduler) RunNow() {
	if _, err := s.scanner.Scan(s.ctx); err != nil {
		slog.Error("scheduled scan failed", "error", err)
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("ingest scheduler started")
}

// Stop stops the scheduler and waits for a running scan to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("ingest scheduler stopped")
}
