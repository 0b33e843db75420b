// Package app wires the process together: config, logging, store, the
// notification core, and the scheduler, with hot reload of the parts that
// can change at runtime.
package app

import (
	"context"
	"fmt"
	"time"

	"relnotify/internal/config"
	"relnotify/internal/failures"
	"relnotify/internal/kv"
	"relnotify/internal/lock"
	"relnotify/internal/metrics"
	"relnotify/internal/registry"
	"relnotify/internal/release"
	"relnotify/internal/runtime/supervisor"
	"relnotify/internal/services/notifier"
	"relnotify/internal/services/scheduler"
	"relnotify/internal/summarizer"
	"relnotify/internal/summary"
	"relnotify/internal/transport/telegram"
	"relnotify/internal/verstate"
	logx "relnotify/pkg/logx"
)

type Options struct {
	ConfigPath string
	// Once runs a single pass and exits instead of starting the scheduler.
	Once bool
}

// Run builds the process and blocks until ctx is canceled (or, with
// opts.Once, until the single pass finishes).
func Run(ctx context.Context, opts Options) error {
	mgr := config.NewManager(opts.ConfigPath)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", opts.ConfigPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config %s: %w", opts.ConfigPath, err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer func() { _ = logSvc.Close() }()

	mgr.SetLogger(log.With(logx.String("svc", "config")))
	mgr.SetValidator(func(_ context.Context, c *config.Config) error { return c.Validate() })

	storeCfg, err := buildStoreConfig(cfg)
	if err != nil {
		return err
	}
	store, err := kv.Open(storeCfg, log.With(logx.String("svc", "kv")))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	svc, err := buildNotifier(cfg, store, log)
	if err != nil {
		return err
	}

	if opts.Once {
		log.Info("running single pass", logx.String("config", opts.ConfigPath))
		return svc.RunPass(ctx)
	}

	sup := supervisor.New(ctx, supervisor.WithLogger(log.With(logx.String("svc", "supervisor"))))

	var sched *scheduler.Service
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(
			scheduler.Config{Spec: cfg.Scheduler.Spec, Timezone: cfg.Scheduler.Timezone},
			svc.RunPass,
			log.With(logx.String("svc", "scheduler")),
		)
		sup.Go("scheduler", sched.Start)
	} else {
		log.Warn("scheduler disabled; only manual -once passes will run")
	}

	sup.GoRestart("config.watch", mgr.Watch)
	sup.Go0("config.apply", func(ctx context.Context) {
		updates := mgr.Subscribe(1)
		defer mgr.Unsubscribe(updates)
		for {
			select {
			case <-ctx.Done():
				return
			case next, ok := <-updates:
				if !ok {
					return
				}
				applyReload(ctx, next, logSvc, svc, sched, log)
			}
		}
	})

	log.Info("started", logx.String("config", opts.ConfigPath))
	return sup.Wait(ctx)
}

// applyReload pushes a validated config change into the running services.
// Store and upstream-provider settings need a restart; that is logged, not
// silently ignored.
func applyReload(ctx context.Context, next *config.Config, logSvc *logx.Service, svc *notifier.Service, sched *scheduler.Service, log logx.Logger) {
	logSvc.Apply(logx.Config{
		Level:   next.Logging.Level,
		Console: next.Logging.Console,
		File: logx.FileConfig{
			Enabled: next.Logging.File.Enabled,
			Path:    next.Logging.File.Path,
		},
	})

	ncfg, err := buildNotifierConfig(next)
	if err != nil {
		log.Warn("reload: notifier settings rejected", logx.Err(err))
	} else {
		svc.Apply(ncfg)
	}

	if sched != nil && next.Scheduler.Enabled {
		err := sched.Apply(ctx, scheduler.Config{
			Spec:     next.Scheduler.Spec,
			Timezone: next.Scheduler.Timezone,
		})
		if err != nil {
			log.Warn("reload: schedule rejected", logx.Err(err))
		}
	}

	log.Info("reload applied; store and upstream settings take effect on restart")
}

func buildStoreConfig(c *config.Config) (kv.Config, error) {
	busy, err := config.ParseDurationField("store.busy_timeout", c.Store.BusyTimeout)
	if err != nil {
		return kv.Config{}, err
	}
	return kv.Config{
		Driver:      c.Store.Driver,
		Addr:        c.Store.Addr,
		DB:          c.Store.DB,
		Pass:        c.Store.Password,
		Path:        c.Store.Path,
		BusyTimeout: busy,
	}, nil
}

func buildNotifierConfig(c *config.Config) (notifier.Config, error) {
	lockTTL, err := config.ParseDurationOrDefault("notifier.lock_ttl", c.Notifier.LockTTL, 300*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	deliveryTimeout, err := config.ParseDurationOrDefault("notifier.delivery_timeout", c.Notifier.DeliveryTimeout, 25*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	replyDelay, err := config.ParseDurationOrDefault("notifier.reply_delay", c.Notifier.ReplyDelay, 1100*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		LockName:        c.Notifier.LockName,
		LockTTL:         lockTTL,
		BatchSize:       c.Notifier.BatchSize,
		DeliveryTimeout: deliveryTimeout,
		ReplyDelay:      replyDelay,
	}, nil
}

// buildNotifier assembles the full delivery pipeline on top of the store.
func buildNotifier(c *config.Config, store kv.Store, log logx.Logger) (*notifier.Service, error) {
	keys := kv.NewKeyspace(c.Store.Namespace)

	ncfg, err := buildNotifierConfig(c)
	if err != nil {
		return nil, err
	}
	summaryTTL, err := config.ParseDurationOrDefault("notifier.summary_ttl", c.Notifier.SummaryTTL, 7*24*time.Hour)
	if err != nil {
		return nil, err
	}
	failureTTL, err := config.ParseDurationOrDefault("notifier.failure_ttl", c.Notifier.FailureTTL, 7*24*time.Hour)
	if err != nil {
		return nil, err
	}
	genTimeout, err := config.ParseDurationOrDefault("summarizer.timeout", c.Summarizer.Timeout, 60*time.Second)
	if err != nil {
		return nil, err
	}
	callTimeout, err := config.ParseDurationOrDefault("telegram.call_timeout", c.Telegram.CallTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	retryBase, err := config.ParseDurationOrDefault("github.retry_base", c.GitHub.RetryBase, 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("github.retry_max_delay", c.GitHub.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return nil, err
	}

	provider := release.NewGitHub(release.GitHubConfig{
		Token:          c.GitHub.Token,
		Owner:          c.GitHub.Owner,
		Repo:           c.GitHub.Repo,
		ChangelogOwner: c.GitHub.ChangelogOwner,
		ChangelogRepo:  c.GitHub.ChangelogRepo,
		ChangelogPath:  c.GitHub.ChangelogPath,
		Retry: release.RetryConfig{
			MaxAttempts: c.GitHub.RetryMax,
			BaseDelay:   retryBase,
			MaxDelay:    retryMaxDelay,
		},
	}, log.With(logx.String("svc", "release")))

	gen := summarizer.NewOpenAI(summarizer.OpenAIConfig{
		APIKey:  c.Summarizer.APIKey,
		Model:   c.Summarizer.Model,
		Timeout: genTimeout,
	}, log.With(logx.String("svc", "summarizer")))

	adapter := telegram.New(telegram.Config{CallTimeout: callTimeout},
		log.With(logx.String("svc", "telegram")))

	cache := summary.NewCache(store, keys, summary.CacheConfig{
		Languages: normalizeLanguages(c.Summarizer.Languages),
		TTL:       summaryTTL,
	}, log.With(logx.String("svc", "summary")))

	deps := notifier.Deps{
		Locks:      lock.NewManager(store, keys),
		Versions:   verstate.NewTracker(store, keys),
		Cache:      cache,
		Recipients: registry.New(store, keys, log.With(logx.String("svc", "registry"))),
		Failures:   failures.NewTracker(store, keys, failureTTL, log.With(logx.String("svc", "failures"))),
		Metrics:    metrics.NewRecorder(store, keys, log.With(logx.String("svc", "metrics"))),
		Releases:   provider,
		Summarize:  gen,
		Transport:  adapter,
	}
	return notifier.New(ncfg, deps, log.With(logx.String("svc", "notifier"))), nil
}

// normalizeLanguages canonicalizes each tag and drops duplicates while
// preserving the configured order.
func normalizeLanguages(langs []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, l := range langs {
		n := summary.NormalizeLanguage(l)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
