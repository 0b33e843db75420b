package kv

import "strings"

// Keyspace builds the namespaced keys used across the app, so the layout
// lives in one place. All keys share a stable prefix; multiple deployments
// can coexist on one store by choosing distinct prefixes.
type Keyspace struct {
	Prefix string
}

func NewKeyspace(prefix string) Keyspace {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = "relnotify"
	}
	return Keyspace{Prefix: strings.TrimSuffix(p, ":")}
}

func (k Keyspace) join(parts ...string) string {
	return k.Prefix + ":" + strings.Join(parts, ":")
}

func (k Keyspace) Lock(name string) string          { return k.join("lock", name) }
func (k Keyspace) LastCheckedVersion() string       { return k.join("state", "last_checked_version") }
func (k Keyspace) LastNotificationTime() string     { return k.join("state", "last_notification_time") }
func (k Keyspace) Failed(recipientID string) string { return k.join("state", "failed", recipientID) }
func (k Keyspace) FailedPattern() string            { return k.join("state", "failed", "*") }
func (k Keyspace) Summary(version, lang string) string {
	return k.join("summary", version, lang)
}
func (k Keyspace) Recipient(teamID string) string { return k.join("recipient", teamID) }
func (k Keyspace) ActiveRecipients() string       { return k.join("recipients", "active") }
func (k Keyspace) Metric(name string) string      { return k.join("metrics", name) }

// FailedID extracts the recipient id back out of a scanned failure key.
func (k Keyspace) FailedID(key string) string {
	prefix := k.join("state", "failed") + ":"
	return strings.TrimPrefix(key, prefix)
}
