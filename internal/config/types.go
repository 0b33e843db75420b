package config

// Config is the full application configuration. All durations are Go
// duration strings (e.g. "500ms", "10s", "5m"); see ParseDurationField.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Store      StoreConfig      `json:"store"`
	GitHub     GitHubConfig     `json:"github"`
	Summarizer SummarizerConfig `json:"summarizer"`
	Notifier   NotifierConfig   `json:"notifier"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Telegram   TelegramConfig   `json:"telegram"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StoreConfig selects and configures the kv backend.
//
// Driver values: "redis" (default), "sqlite", "memory".
type StoreConfig struct {
	Driver    string `json:"driver"`
	Namespace string `json:"namespace,omitempty"` // key prefix; default "relnotify"

	Addr     string `json:"addr,omitempty"` // redis host:port
	DB       int    `json:"db,omitempty"`
	Password string `json:"password,omitempty"` // do not log

	Path        string `json:"path,omitempty"`         // sqlite file
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// GitHubConfig points at the watched upstream repositories.
type GitHubConfig struct {
	Token string `json:"token,omitempty"` // optional; raises the rate limit

	Owner string `json:"owner"`
	Repo  string `json:"repo"`

	// Changelog source; defaults to owner/repo and "CHANGELOG.md".
	ChangelogOwner string `json:"changelog_owner,omitempty"`
	ChangelogRepo  string `json:"changelog_repo,omitempty"`
	ChangelogPath  string `json:"changelog_path,omitempty"`

	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

type SummarizerConfig struct {
	APIKey  string `json:"api_key"` // do not log
	Model   string `json:"model,omitempty"`
	Timeout string `json:"timeout,omitempty"` // per-call budget; default "60s"

	// Languages summaries are pre-generated for, default language first.
	Languages []string `json:"languages,omitempty"`
}

// NotifierConfig controls the run-coordination core.
type NotifierConfig struct {
	LockName string `json:"lock_name,omitempty"` // default "notification"
	// LockTTL must exceed worst-case pass duration; the pass warns when it
	// ran longer than this.
	LockTTL string `json:"lock_ttl,omitempty"` // default "300s"

	BatchSize       int    `json:"batch_size,omitempty"`       // concurrent deliveries; default 10
	DeliveryTimeout string `json:"delivery_timeout,omitempty"` // per recipient; default "25s"
	ReplyDelay      string `json:"reply_delay,omitempty"`      // between thread replies; default "1.1s"

	SummaryTTL string `json:"summary_ttl,omitempty"` // default "168h"
	FailureTTL string `json:"failure_ttl,omitempty"` // default "168h"
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Spec is a cron expression, 5-field or 6-field (with seconds).
	Spec     string `json:"spec"`
	Timezone string `json:"timezone,omitempty"`
}

type TelegramConfig struct {
	// CallTimeout bounds one Bot API call.
	CallTimeout string `json:"call_timeout,omitempty"`
}
