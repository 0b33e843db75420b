// Package notifier runs the release-notification pass: one globally locked
// sweep that detects a new upstream release, generates per-language
// summaries, and fans them out to every active recipient.
package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"relnotify/internal/failures"
	"relnotify/internal/lock"
	"relnotify/internal/metrics"
	"relnotify/internal/registry"
	"relnotify/internal/release"
	"relnotify/internal/summarizer"
	"relnotify/internal/summary"
	"relnotify/internal/transport"
	"relnotify/internal/verstate"
	logx "relnotify/pkg/logx"
)

type Config struct {
	// LockName names the run lock; every instance in the fleet must agree on
	// it for mutual exclusion to mean anything.
	LockName string
	// LockTTL bounds how long a crashed holder can block the fleet. It must
	// exceed the worst-case pass duration; the pass logs a warning when it
	// ran longer.
	LockTTL time.Duration

	BatchSize       int           // concurrent deliveries per batch
	DeliveryTimeout time.Duration // budget for one recipient, all messages
	ReplyDelay      time.Duration // minimum gap between thread replies
}

func (c Config) withDefaults() Config {
	if c.LockName == "" {
		c.LockName = "notification"
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 300 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 25 * time.Second
	}
	if c.ReplyDelay <= 0 {
		c.ReplyDelay = 1100 * time.Millisecond
	}
	return c
}

// Deps are the collaborators one pass needs. All are required.
type Deps struct {
	Locks      *lock.Manager
	Versions   *verstate.Tracker
	Cache      *summary.Cache
	Recipients *registry.Registry
	Failures   *failures.Tracker
	Metrics    *metrics.Recorder
	Releases   release.Provider
	Summarize  summarizer.Summarizer
	Transport  transport.Adapter
}

type Service struct {
	mu   sync.Mutex
	cfg  Config
	deps Deps
	log  logx.Logger
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), deps: deps, log: log}
}

// Apply swaps in a new config; the next pass picks it up. A pass in flight
// keeps the snapshot it started with.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) snapshot() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// RunPass executes one notification pass. It is safe to invoke from any
// number of instances concurrently: whoever loses the lock race exits
// quietly, and a version already processed is never re-sent, so extra
// invocations are harmless.
func (s *Service) RunPass(ctx context.Context) error {
	cfg := s.snapshot()

	token, ok, err := s.deps.Locks.Acquire(ctx, cfg.LockName, cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("notifier: acquire lock: %w", err)
	}
	if !ok {
		s.log.Debug("another instance holds the run lock; skipping pass")
		return nil
	}

	startedAt := time.Now()
	defer func() {
		// Release with a fresh context: the run context may already be
		// canceled, and the TTL covers us if even this fails.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		elapsed := time.Since(startedAt)
		released, rerr := s.deps.Locks.Release(rctx, cfg.LockName, token)
		switch {
		case rerr != nil:
			s.log.Warn("lock release failed; ttl will reap it",
				logx.String("lock", cfg.LockName), logx.Err(rerr))
		case !released:
			s.log.Warn("lock was no longer ours at release",
				logx.String("lock", cfg.LockName), logx.Duration("elapsed", elapsed))
		}
		if elapsed > cfg.LockTTL {
			s.log.Warn("pass outlived its lock ttl; raise notifier.lock_ttl",
				logx.Duration("elapsed", elapsed), logx.Duration("ttl", cfg.LockTTL))
		} else {
			s.log.Debug("pass finished", logx.Duration("elapsed", elapsed))
		}
	}()

	s.deps.Metrics.RunStarted(ctx)
	if err := s.runLocked(ctx, cfg); err != nil {
		s.deps.Metrics.RunFailed(ctx)
		return err
	}
	s.deps.Metrics.RunSucceeded(ctx)
	return nil
}

// runLocked is the pass body; the caller holds the run lock.
func (s *Service) runLocked(ctx context.Context, cfg Config) error {
	// Prior failures first, so a recipient that missed the previous version
	// hears about it before the next one lands.
	s.retryFailures(ctx, cfg)

	latest, found, err := s.deps.Releases.LatestRelease(ctx)
	if err != nil {
		return fmt.Errorf("notifier: latest release: %w", err)
	}
	if !found {
		s.log.Debug("upstream has no releases")
		return nil
	}

	last, _, err := s.deps.Versions.LastChecked(ctx)
	if err != nil {
		return fmt.Errorf("notifier: read last checked: %w", err)
	}
	if !verstate.IsNewer(latest.Version, last) {
		s.log.Debug("no new release",
			logx.String("latest", latest.Version), logx.String("last_checked", last))
		return nil
	}
	s.log.Info("new release detected",
		logx.String("version", latest.Version), logx.String("previous", last))

	recipients, err := s.deps.Recipients.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("notifier: list recipients: %w", err)
	}
	if len(recipients) == 0 {
		// Nobody to tell; advance the pointer so this version isn't
		// re-announced to recipients who register later.
		if err := s.deps.Versions.SetLastChecked(ctx, latest.Version); err != nil {
			return fmt.Errorf("notifier: advance version: %w", err)
		}
		s.log.Info("no active recipients; version marked processed",
			logx.String("version", latest.Version))
		return nil
	}

	var diff release.Diff
	if last != "" {
		diff, err = s.deps.Releases.CompareDiff(ctx, last, latest.Version)
		if err != nil {
			return fmt.Errorf("notifier: compare %s..%s: %w", last, latest.Version, err)
		}
	}
	changelog, err := s.deps.Releases.Changelog(ctx, latest.Version)
	if err != nil {
		// Changelog is additive context; a diff-only summary still works.
		s.log.Warn("changelog fetch failed; continuing without it",
			logx.String("version", latest.Version), logx.Err(err))
		changelog = release.Changelog{}
	}
	if diff.Empty() && len(changelog.Items) == 0 {
		if err := s.deps.Versions.SetLastChecked(ctx, latest.Version); err != nil {
			return fmt.Errorf("notifier: advance version: %w", err)
		}
		s.log.Info("release has no observable changes; version marked processed",
			logx.String("version", latest.Version))
		return nil
	}

	summaries, err := s.deps.Cache.Pregenerate(ctx, latest.Version, func(ctx context.Context, lang string) (summary.ChangeSummary, error) {
		return s.deps.Summarize.Generate(ctx, lang, latest.Version, diff, changelog)
	})
	if err != nil {
		return fmt.Errorf("notifier: pregenerate summaries: %w", err)
	}
	if len(summaries) == 0 {
		// Nothing deliverable; leave the pointer alone so the next pass
		// tries again.
		return fmt.Errorf("notifier: no summaries generated for %s", latest.Version)
	}

	delivered, failed := s.deliverAll(ctx, cfg, latest.Version, recipients, summaries)

	if err := s.deps.Versions.SetLastChecked(ctx, latest.Version); err != nil {
		return fmt.Errorf("notifier: advance version: %w", err)
	}
	if err := s.deps.Versions.SetLastNotified(ctx, time.Now()); err != nil {
		return fmt.Errorf("notifier: stamp notification time: %w", err)
	}

	// Best-effort lifetime count; reads back as 0 when the store hiccups.
	total, _ := s.deps.Metrics.Counter(ctx, metrics.CounterTotalRuns)
	s.log.Info("pass complete",
		logx.String("version", latest.Version),
		logx.Int("delivered", delivered),
		logx.Int("failed", failed),
		logx.Int("languages", len(summaries)),
		logx.Int64("run_total", total))
	return nil
}
