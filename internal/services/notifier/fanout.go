package notifier

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"relnotify/internal/failures"
	"relnotify/internal/registry"
	"relnotify/internal/summary"
	"relnotify/internal/transport"
	logx "relnotify/pkg/logx"
)

var errNoSummary = errors.New("no summary available in any language")

// deliverAll fans the version's summaries out to every recipient in batches
// of cfg.BatchSize. Every recipient is attempted exactly once regardless of
// how their batch-mates fare; there is no short-circuit.
func (s *Service) deliverAll(ctx context.Context, cfg Config, version string, recipients []registry.Recipient, summaries map[string]summary.ChangeSummary) (delivered, failed int) {
	available := s.availableLanguages(summaries)

	for start := 0; start < len(recipients); start += cfg.BatchSize {
		end := start + cfg.BatchSize
		if end > len(recipients) {
			end = len(recipients)
		}
		batch := recipients[start:end]
		errs := make([]error, len(batch))

		var wg sync.WaitGroup
		for i := range batch {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = s.deliverOne(ctx, cfg, batch[i], summaries, available)
			}()
		}
		wg.Wait()

		for i, derr := range errs {
			r := batch[i]
			if derr == nil {
				delivered++
				// A success clears any leftover failure record.
				if rerr := s.deps.Failures.Remove(ctx, r.TeamID); rerr != nil {
					s.log.Warn("failure record cleanup failed",
						logx.String("recipient", r.Redacted()), logx.Err(rerr))
				}
				continue
			}
			failed++
			s.handleDeliveryFailure(ctx, version, r, derr)
		}
	}
	return delivered, failed
}

// handleDeliveryFailure classifies and records one failed delivery.
// Credential failures also deactivate the recipient: retrying a revoked
// token can only produce the same error.
func (s *Service) handleDeliveryFailure(ctx context.Context, version string, r registry.Recipient, derr error) {
	class := transport.ClassifyError(derr)
	if class == transport.FailCredential {
		s.log.Warn("recipient credential invalid; deactivating",
			logx.String("recipient", r.Redacted()), logx.Err(derr))
		if err := s.deps.Recipients.Deactivate(ctx, r.TeamID); err != nil {
			s.log.Warn("deactivate failed",
				logx.String("recipient", r.Redacted()), logx.Err(err))
		}
	} else {
		s.log.Warn("delivery failed; queued for retry",
			logx.String("recipient", r.Redacted()),
			logx.String("version", version), logx.Err(derr))
	}
	if err := s.deps.Failures.Record(ctx, failures.FailedDelivery{
		RecipientID: r.TeamID,
		Version:     version,
		Reason:      derr.Error(),
	}); err != nil {
		s.log.Warn("failure record write failed",
			logx.String("recipient", r.Redacted()), logx.Err(err))
	}
}

// deliverOne sends the main summary message and then one threaded reply per
// change category, paced so replies land at least cfg.ReplyDelay apart.
// The whole sequence shares one timeout budget.
func (s *Service) deliverOne(ctx context.Context, cfg Config, r registry.Recipient, summaries map[string]summary.ChangeSummary, available []string) error {
	preferred := summary.NormalizeLanguage(r.Language)
	lang := summary.ResolveLanguage("", preferred, available)
	if lang == "" {
		return errNoSummary
	}
	if preferred != "" && lang != preferred {
		s.log.Debug("summary language fallback",
			logx.String("recipient", r.Redacted()),
			logx.String("preferred", preferred), logx.String("used", lang))
	}
	sum := summaries[lang]

	ctx, cancel := context.WithTimeout(ctx, cfg.DeliveryTimeout)
	defer cancel()

	addr := transport.Address{Token: r.Token, ChatID: r.ChatID}
	limiter := rate.NewLimiter(rate.Every(cfg.ReplyDelay), 1)

	// The initial token is spent on the main message, so the first reply
	// already waits the full delay.
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	main, err := s.deps.Transport.PostMessage(ctx, addr, formatMain(sum))
	if err != nil {
		return err
	}

	for _, section := range replySections(sum) {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := s.deps.Transport.PostReply(ctx, addr, section, main); err != nil {
			return err
		}
	}
	return nil
}

// availableLanguages returns the summary languages present, in the cache's
// configured order, so the fallback choice is deterministic.
func (s *Service) availableLanguages(summaries map[string]summary.ChangeSummary) []string {
	var out []string
	for _, lang := range s.deps.Cache.Languages() {
		if _, ok := summaries[lang]; ok {
			out = append(out, lang)
		}
	}
	// Languages outside the configured set shouldn't exist, but don't lose
	// them if they do.
	for lang := range summaries {
		seen := false
		for _, have := range out {
			if have == lang {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, lang)
		}
	}
	return out
}
