package release

import (
	"context"
	"strings"

	"github.com/google/go-github/v69/github"

	logx "relnotify/pkg/logx"
)

// GitHubConfig points the provider at the two upstream repositories: the code
// repo (release tags + diffs) and the changelog repo (published change
// items, often a docs repo).
type GitHubConfig struct {
	Token string // optional; unauthenticated works at a lower rate limit

	Owner string
	Repo  string

	ChangelogOwner string
	ChangelogRepo  string
	ChangelogPath  string // e.g. "CHANGELOG.md"

	Retry RetryConfig
}

type GitHub struct {
	cfg    GitHubConfig
	client *github.Client
	log    logx.Logger
}

func NewGitHub(cfg GitHubConfig, log logx.Logger) *GitHub {
	c := github.NewClient(nil)
	if strings.TrimSpace(cfg.Token) != "" {
		c = c.WithAuthToken(cfg.Token)
	}
	if cfg.ChangelogOwner == "" {
		cfg.ChangelogOwner = cfg.Owner
	}
	if cfg.ChangelogRepo == "" {
		cfg.ChangelogRepo = cfg.Repo
	}
	if cfg.ChangelogPath == "" {
		cfg.ChangelogPath = "CHANGELOG.md"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &GitHub{cfg: cfg, client: c, log: log}
}

func (g *GitHub) LatestRelease(ctx context.Context) (Release, bool, error) {
	rel, err := doWithRetry(ctx, g.cfg.Retry, g.log, "latest_release", func(ctx context.Context) (*github.RepositoryRelease, error) {
		r, _, err := g.client.Repositories.GetLatestRelease(ctx, g.cfg.Owner, g.cfg.Repo)
		return r, err
	})
	if err != nil {
		if isNotFound(err) {
			// No releases published yet: nothing to do, not an error.
			return Release{}, false, nil
		}
		return Release{}, false, err
	}
	out := Release{
		Version:   rel.GetTagName(),
		CommitSHA: rel.GetTargetCommitish(),
	}
	if ts := rel.GetPublishedAt(); !ts.IsZero() {
		out.PublishedAt = ts.Time
	}
	if out.Version == "" {
		// Malformed response shape: treat like "no releases".
		return Release{}, false, nil
	}
	return out, true, nil
}

func (g *GitHub) CompareDiff(ctx context.Context, from, to string) (Diff, error) {
	cmp, err := doWithRetry(ctx, g.cfg.Retry, g.log, "compare_diff", func(ctx context.Context) (*github.CommitsComparison, error) {
		c, _, err := g.client.Repositories.CompareCommits(ctx, g.cfg.Owner, g.cfg.Repo, from, to, nil)
		return c, err
	})
	if err != nil {
		if isNotFound(err) {
			// One of the tags is unknown upstream (force-pushed, deleted).
			return Diff{}, nil
		}
		return Diff{}, err
	}
	out := Diff{CompareURL: cmp.GetHTMLURL()}
	for _, f := range cmp.Files {
		out.Files = append(out.Files, ChangedFile{
			Path:   f.GetFilename(),
			Status: f.GetStatus(),
			Patch:  f.GetPatch(),
		})
	}
	return out, nil
}

func (g *GitHub) Changelog(ctx context.Context, version string) (Changelog, error) {
	fc, err := doWithRetry(ctx, g.cfg.Retry, g.log, "changelog", func(ctx context.Context) (*github.RepositoryContent, error) {
		f, _, _, err := g.client.Repositories.GetContents(ctx,
			g.cfg.ChangelogOwner, g.cfg.ChangelogRepo, g.cfg.ChangelogPath, nil)
		return f, err
	})
	if err != nil {
		if isNotFound(err) {
			return Changelog{}, nil
		}
		return Changelog{}, err
	}
	content, err := fc.GetContent()
	if err != nil {
		return Changelog{}, err
	}
	return Changelog{
		Items: changelogItems(content, version),
		URL:   fc.GetHTMLURL(),
	}, nil
}

// changelogItems pulls the bullet items out of the markdown section whose
// heading mentions version. Versions appear in headings with and without a
// leading "v"; match on the numeric part.
func changelogItems(markdown, version string) []string {
	want := strings.TrimPrefix(strings.TrimSpace(version), "v")
	if want == "" {
		return nil
	}

	var items []string
	inSection := false
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			if inSection {
				break
			}
			inSection = strings.Contains(trimmed, want)
			continue
		}
		if !inSection {
			continue
		}
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			if item := strings.TrimSpace(trimmed[2:]); item != "" {
				items = append(items, item)
			}
		}
	}
	return items
}
