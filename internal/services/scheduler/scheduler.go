// Package scheduler triggers the notification pass on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "relnotify/pkg/logx"
)

// parser accepts both 5-field crontab specs and 6-field specs with a
// leading seconds field, plus @every/@hourly descriptors.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type Config struct {
	Spec     string
	Timezone string // IANA name; empty means local time
}

// RunFunc is what fires on schedule; errors are logged, never fatal to the
// schedule.
type RunFunc func(ctx context.Context) error

type Service struct {
	run RunFunc
	log logx.Logger

	mu   sync.Mutex
	cfg  Config
	cron *cron.Cron
}

func New(cfg Config, run RunFunc, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, run: run, log: log}
}

// Start begins firing on schedule and blocks until ctx is canceled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if err := s.schedule(ctx, cfg); err != nil {
		return err
	}
	<-ctx.Done()
	s.stop()
	return nil
}

// Apply replaces the schedule. Invalid specs are rejected and the previous
// schedule keeps running.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	prev := s.cfg
	s.mu.Unlock()
	if cfg == prev {
		return nil
	}

	s.stop()
	if err := s.schedule(ctx, cfg); err != nil {
		// Roll back so the trigger doesn't silently die on a bad edit.
		if rerr := s.schedule(ctx, prev); rerr != nil {
			return fmt.Errorf("scheduler: new spec rejected (%v) and rollback failed: %w", err, rerr)
		}
		return err
	}
	return nil
}

func (s *Service) schedule(ctx context.Context, cfg Config) error {
	sched, err := parser.Parse(cfg.Spec)
	if err != nil {
		return fmt.Errorf("scheduler: parse spec %q: %w", cfg.Spec, err)
	}

	loc := time.Local
	if cfg.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return fmt.Errorf("scheduler: timezone %q: %w", cfg.Timezone, err)
		}
	}

	c := cron.New(cron.WithLocation(loc), cron.WithChain(cron.Recover(cronLogger{s.log})))
	c.Schedule(sched, cron.FuncJob(func() { s.fire(ctx) }))
	c.Start()

	s.mu.Lock()
	s.cfg = cfg
	s.cron = c
	s.mu.Unlock()

	s.log.Info("schedule active",
		logx.String("spec", cfg.Spec), logx.String("tz", loc.String()),
		logx.Time("next", sched.Next(time.Now().In(loc))))
	return nil
}

func (s *Service) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	started := time.Now()
	if err := s.run(ctx); err != nil {
		s.log.Error("scheduled pass failed",
			logx.Err(err), logx.Duration("elapsed", time.Since(started)))
		return
	}
	s.log.Debug("scheduled pass done", logx.Duration("elapsed", time.Since(started)))
}

func (s *Service) stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	// Stop returns once in-flight jobs are no longer tracked; the pass
	// itself observes ctx for cancellation.
	<-c.Stop().Done()
}

// cronLogger adapts logx for cron's panic recovery chain.
type cronLogger struct{ log logx.Logger }

func (c cronLogger) Info(msg string, kv ...any) {
	if !c.log.IsZero() {
		c.log.Debug(msg, logx.Any("kv", kv))
	}
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	if !c.log.IsZero() {
		c.log.Error(msg, logx.Err(err), logx.Any("kv", kv))
	}
}
