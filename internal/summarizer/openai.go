package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"relnotify/internal/release"
	"relnotify/internal/summary"
	logx "relnotify/pkg/logx"
)

// ErrNotConformant is returned when the model produced text in the wrong
// language even after the reinforced retry.
var ErrNotConformant = errors.New("summarizer: output failed language conformance")

type OpenAIConfig struct {
	APIKey  string
	Model   string        // default gpt-4o-mini
	Timeout time.Duration // per-call budget; default 60s

	// MaxDiffChars caps how much raw patch text goes into the prompt.
	MaxDiffChars int
}

type OpenAI struct {
	cfg    OpenAIConfig
	client *openai.Client
	log    logx.Logger
}

func NewOpenAI(cfg OpenAIConfig, log logx.Logger) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxDiffChars <= 0 {
		cfg.MaxDiffChars = 30000
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &OpenAI{cfg: cfg, client: openai.NewClient(cfg.APIKey), log: log}
}

// Generate asks the model for a structured summary in lang. If the output
// fails the language conformance check it retries exactly once with a
// reinforced instruction; a second failure is a hard error for this
// language (the caller drops it and proceeds with the others).
func (o *OpenAI) Generate(ctx context.Context, lang, version string, diff release.Diff, changelog release.Changelog) (summary.ChangeSummary, error) {
	prompt := o.buildPrompt(lang, version, diff, changelog)

	s, err := o.call(ctx, lang, version, prompt, false)
	if err != nil {
		return summary.ChangeSummary{}, err
	}
	if summary.Conforms(s, lang) {
		return s, nil
	}

	o.log.Warn("summary not in target language; retrying with reinforced instruction",
		logx.String("version", version), logx.String("lang", lang))
	s, err = o.call(ctx, lang, version, prompt, true)
	if err != nil {
		return summary.ChangeSummary{}, err
	}
	if !summary.Conforms(s, lang) {
		return summary.ChangeSummary{}, fmt.Errorf("%w: %s", ErrNotConformant, lang)
	}
	return s, nil
}

func (o *OpenAI) call(ctx context.Context, lang, version, prompt string, reinforced bool) (summary.ChangeSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	system := "You summarize software release changes. Respond with a single JSON object: " +
		`{"summary": string, "changes": {"changelog": [string], "prompts": [string], "flags_added": [string], "flags_removed": [string], "flags_changed": [string]}}. ` +
		"Omit empty categories. Write every string in language: " + lang + "."
	if reinforced {
		system += " IMPORTANT: your previous answer was not in " + lang +
			". Every summary sentence and every list item MUST be written in " + lang + ", with no English prose."
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return summary.ChangeSummary{}, err
	}
	if len(resp.Choices) == 0 {
		return summary.ChangeSummary{}, errors.New("summarizer: empty response")
	}

	var out struct {
		Summary string              `json:"summary"`
		Changes map[string][]string `json:"changes"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return summary.ChangeSummary{}, fmt.Errorf("summarizer: malformed output: %w", err)
	}
	return summary.ChangeSummary{
		Version: version,
		Summary: strings.TrimSpace(out.Summary),
		Changes: out.Changes,
	}, nil
}

func (o *OpenAI) buildPrompt(lang, version string, diff release.Diff, changelog release.Changelog) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Release %s.\n\n", version)

	if len(changelog.Items) > 0 {
		b.WriteString("Published changelog items:\n")
		for _, it := range changelog.Items {
			b.WriteString("- ")
			b.WriteString(it)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}

	if !diff.Empty() {
		b.WriteString("Changed files and patches:\n")
		budget := o.cfg.MaxDiffChars
		for _, f := range diff.Files {
			line := fmt.Sprintf("%s (%s)\n", f.Path, f.Status)
			if budget-len(line) < 0 {
				break
			}
			b.WriteString(line)
			budget -= len(line)
			if f.Patch == "" {
				continue
			}
			patch := f.Patch
			if len(patch) > budget {
				patch = patch[:budget]
			}
			b.WriteString(patch)
			b.WriteByte('\n')
			budget -= len(patch)
			if budget <= 0 {
				break
			}
		}
	}

	fmt.Fprintf(&b, "\nSummarize what changed for end users, in %s.", lang)
	return b.String()
}
