package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Store:      StoreConfig{Driver: "memory"},
		GitHub:     GitHubConfig{Owner: "acme", Repo: "widget-cli"},
		Summarizer: SummarizerConfig{APIKey: "sk-test", Languages: []string{"en", "ko"}},
		Scheduler:  SchedulerConfig{Enabled: true, Spec: "0 */30 * * * *"},
	}
}

func TestValidateAcceptsWorkingConfig(t *testing.T) {
	t.Parallel()
	if err := validConfig().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing owner", func(c *Config) { c.GitHub.Owner = "" }},
		{"missing repo", func(c *Config) { c.GitHub.Repo = "" }},
		{"missing api key", func(c *Config) { c.Summarizer.APIKey = "" }},
		{"unknown driver", func(c *Config) { c.Store.Driver = "etcd" }},
		{"sqlite without path", func(c *Config) { c.Store.Driver = "sqlite" }},
		{"bad cron spec", func(c *Config) { c.Scheduler.Spec = "not a spec" }},
		{"empty cron spec", func(c *Config) { c.Scheduler.Spec = "" }},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }},
		{"bad duration", func(c *Config) { c.Notifier.LockTTL = "five minutes" }},
		{"negative duration", func(c *Config) { c.Notifier.ReplyDelay = "-1s" }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("%s: expected validation error", tc.name)
			}
		})
	}
}

func TestValidateDisabledSchedulerSkipsSpec(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Scheduler = SchedulerConfig{Enabled: false}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Errorf("empty: d=%v err=%v", d, err)
	}
	if d, err := ParseDurationField("x", " 1100ms "); err != nil || d != 1100*time.Millisecond {
		t.Errorf("1100ms: d=%v err=%v", d, err)
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Error("garbage accepted")
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Error("negative accepted")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Errorf("default: d=%v err=%v", d, err)
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const yamlConfig = `
logging:
  level: debug
  console: true
store:
  driver: memory
  namespace: testns
github:
  owner: acme
  repo: widget-cli
summarizer:
  api_key: sk-test
  languages: [en, ko]
notifier:
  lock_ttl: 5m
scheduler:
  enabled: true
  spec: "*/30 * * * *"
`

func TestManagerParsesYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", yamlConfig))
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Namespace != "testns" || cfg.Notifier.LockTTL != "5m" {
		t.Errorf("parsed config: %+v", cfg)
	}
	if got := m.Get(); got != cfg {
		t.Error("Get did not return the committed config")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestManagerRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", "typo_section:\n  x: 1\n"))
	if _, err := m.Parse(); err == nil {
		t.Fatal("unknown top-level field accepted")
	}
}

func TestManagerParsesJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json",
		`{"github": {"owner": "o", "repo": "r"}, "summarizer": {"api_key": "k"}}`))
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GitHub.Owner != "o" {
		t.Errorf("parsed config: %+v", cfg)
	}
}

func TestManagerRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", `{}{}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("concatenated JSON accepted")
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", `{}`))
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	cfg := validConfig()
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Error("subscriber got a different config")
		}
	default:
		t.Fatal("publish did not reach the subscriber")
	}

	// A slow subscriber gets the newest snapshot, not the oldest.
	stale, fresh := validConfig(), validConfig()
	m.publish(stale)
	m.publish(fresh)
	select {
	case got := <-ch:
		if got != fresh {
			t.Error("slow subscriber saw a stale snapshot")
		}
	default:
		t.Fatal("nothing delivered to slow subscriber")
	}
}
