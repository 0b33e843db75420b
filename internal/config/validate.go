package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate checks the parts of the config that would otherwise fail deep
// inside a run. It is also the Watch validator, so a bad edit never replaces
// a working config.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}

	switch d := strings.ToLower(strings.TrimSpace(c.Store.Driver)); d {
	case "", "redis":
		// addr defaults to localhost:6379 in the kv package
	case "sqlite":
		if strings.TrimSpace(c.Store.Path) == "" {
			return fmt.Errorf("store.path: required for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}

	if strings.TrimSpace(c.GitHub.Owner) == "" || strings.TrimSpace(c.GitHub.Repo) == "" {
		return fmt.Errorf("github.owner and github.repo are required")
	}
	if strings.TrimSpace(c.Summarizer.APIKey) == "" {
		return fmt.Errorf("summarizer.api_key is required")
	}

	if c.Scheduler.Enabled {
		if strings.TrimSpace(c.Scheduler.Spec) == "" {
			return fmt.Errorf("scheduler.spec: required when scheduler is enabled")
		}
		if _, err := cronParser.Parse(c.Scheduler.Spec); err != nil {
			return fmt.Errorf("scheduler.spec: %w", err)
		}
		if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("scheduler.timezone: %w", err)
			}
		}
	}

	for path, raw := range map[string]string{
		"store.busy_timeout":        c.Store.BusyTimeout,
		"github.retry_base":         c.GitHub.RetryBase,
		"github.retry_max_delay":    c.GitHub.RetryMaxDelay,
		"summarizer.timeout":        c.Summarizer.Timeout,
		"notifier.lock_ttl":         c.Notifier.LockTTL,
		"notifier.delivery_timeout": c.Notifier.DeliveryTimeout,
		"notifier.reply_delay":      c.Notifier.ReplyDelay,
		"notifier.summary_ttl":      c.Notifier.SummaryTTL,
		"notifier.failure_ttl":      c.Notifier.FailureTTL,
		"telegram.call_timeout":     c.Telegram.CallTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	return nil
}
