// Package release abstracts the upstream source of truth: which version is
// the latest, what changed between two versions, and the externally published
// changelog items.
package release

import (
	"context"
	"time"
)

// Release identifies one upstream release tag.
type Release struct {
	Version     string
	CommitSHA   string
	PublishedAt time.Time
}

// ChangedFile is one file touched between two versions.
type ChangedFile struct {
	Path   string
	Status string // "added" | "removed" | "modified" | ...
	Patch  string // unified diff hunk; may be empty for large/binary files
}

// Diff is the upstream change set between two versions.
type Diff struct {
	Files      []ChangedFile
	CompareURL string
}

func (d Diff) Empty() bool { return len(d.Files) == 0 }

// Changelog is the externally published change list for one version.
type Changelog struct {
	Items []string
	URL   string
}

// Provider is the source-of-truth contract the orchestrator consumes.
//
// Failure semantics callers rely on:
//   - LatestRelease returns found=false (nil error) when the upstream has no
//     releases at all; that is "nothing to do", not an error.
//   - Transient failures (network, 5xx, 429) are retried internally with
//     backoff before surfacing.
type Provider interface {
	LatestRelease(ctx context.Context) (Release, bool, error)
	CompareDiff(ctx context.Context, from, to string) (Diff, error)
	Changelog(ctx context.Context, version string) (Changelog, error)
}
