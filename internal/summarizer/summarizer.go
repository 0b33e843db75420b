// Package summarizer turns an upstream diff + changelog into a per-language
// ChangeSummary via an LLM API.
package summarizer

import (
	"context"

	"relnotify/internal/release"
	"relnotify/internal/summary"
)

// Summarizer is the generation contract the cache's Pregenerate consumes.
// Implementations own their timeout budget and any conformance retry; a
// returned error means this language produced nothing usable.
type Summarizer interface {
	Generate(ctx context.Context, lang string, version string, diff release.Diff, changelog release.Changelog) (summary.ChangeSummary, error)
}
