// Package schedule triggers reconciliation runs from inside the API process
// on a cron schedule. It is optional: deployments may instead call the
// trigger endpoint from an external scheduler.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is the work run on every tick.
type Job func(ctx context.Context) error

// Scheduler runs one job on a cron schedule. A tick that arrives while the
// previous one is still running is skipped.
type Scheduler struct {
	spec     string
	schedule cron.Schedule
	logger   *slog.Logger
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New validates spec ("0 */6 * * *", "@hourly", "@every 30m").
func New(spec string, logger *slog.Logger) (*Scheduler, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron schedule %q: %w", spec, err)
	}
	return &Scheduler{spec: spec, schedule: sched, logger: logger}, nil
}

// Next reports when the schedule fires after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Run blocks until ctx is cancelled, invoking job on every tick. Intended
// to be called with `go`. In-flight jobs are waited for on shutdown.
func (s *Scheduler) Run(ctx context.Context, job Job) {
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})),
		cron.WithLogger(cronLogger{s.logger}),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() {
		start := time.Now()
		if err := job(ctx); err != nil {
			s.logger.Error("Scheduled run failed", "error", err, "duration", time.Since(start).Round(time.Millisecond))
			return
		}
		s.logger.Info("Scheduled run finished", "duration", time.Since(start).Round(time.Millisecond))
	}))

	c.Start()
	s.logger.Info("Cron trigger started", "schedule", s.spec, "next", s.Next(time.Now()))

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("Cron trigger stopped")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
