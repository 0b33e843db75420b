package notifier

import (
	"context"
	"sort"

	"relnotify/internal/failures"
	"relnotify/internal/summary"
	"relnotify/internal/transport"
	logx "relnotify/pkg/logx"
)

// retryFailures re-attempts outstanding failed deliveries from cached
// summaries only; nothing is regenerated here. The phase is best-effort: any
// store trouble is logged and the pass moves on to novelty detection.
func (s *Service) retryFailures(ctx context.Context, cfg Config) {
	records, err := s.deps.Failures.ListAll(ctx)
	if err != nil {
		s.log.Warn("failure list unavailable; skipping retry phase", logx.Err(err))
		return
	}
	if len(records) == 0 {
		return
	}
	s.log.Info("retrying failed deliveries", logx.Int("outstanding", len(records)))

	// Group by version so each version's summaries are fetched once.
	byVersion := map[string][]failures.FailedDelivery{}
	for _, f := range records {
		byVersion[f.Version] = append(byVersion[f.Version], f)
	}
	versions := make([]string, 0, len(byVersion))
	for v := range byVersion {
		versions = append(versions, v)
	}
	sort.Strings(versions)

	for _, version := range versions {
		summaries, err := s.deps.Cache.GetAll(ctx, version)
		if err != nil {
			s.log.Warn("summary fetch failed for retry group",
				logx.String("version", version), logx.Err(err))
			continue
		}
		available := s.availableLanguages(summaries)

		for _, f := range byVersion[version] {
			s.retryOne(ctx, cfg, f, summaries, available)
		}
	}
}

func (s *Service) retryOne(ctx context.Context, cfg Config, f failures.FailedDelivery, summaries map[string]summary.ChangeSummary, available []string) {
	if f.RetryCount >= failures.MaxRetries {
		s.log.Warn("giving up on delivery after max retries",
			logx.String("recipient_id", f.RecipientID),
			logx.String("version", f.Version),
			logx.Int("retries", f.RetryCount))
		s.removeRecord(ctx, f.RecipientID)
		return
	}

	r, ok, err := s.deps.Recipients.Get(ctx, f.RecipientID)
	if err != nil {
		s.log.Warn("recipient lookup failed; will retry next pass",
			logx.String("recipient_id", f.RecipientID), logx.Err(err))
		return
	}
	if !ok || !r.Active {
		// Gone or deactivated since the failure; the record has no purpose.
		s.removeRecord(ctx, f.RecipientID)
		return
	}
	if len(available) == 0 {
		// Cached summaries expired; there is nothing left to send.
		s.log.Warn("summaries expired before retry; dropping record",
			logx.String("recipient", r.Redacted()), logx.String("version", f.Version))
		s.removeRecord(ctx, f.RecipientID)
		return
	}

	if derr := s.deliverOne(ctx, cfg, r, summaries, available); derr != nil {
		if transport.ClassifyError(derr) == transport.FailCredential {
			s.log.Warn("credential invalid on retry; deactivating",
				logx.String("recipient", r.Redacted()), logx.Err(derr))
			if err := s.deps.Recipients.Deactivate(ctx, r.TeamID); err != nil {
				s.log.Warn("deactivate failed",
					logx.String("recipient", r.Redacted()), logx.Err(err))
			}
			s.removeRecord(ctx, f.RecipientID)
			return
		}
		if _, _, ierr := s.deps.Failures.IncrementRetry(ctx, f.RecipientID); ierr != nil {
			s.log.Warn("retry counter update failed",
				logx.String("recipient", r.Redacted()), logx.Err(ierr))
		}
		s.log.Warn("retry attempt failed",
			logx.String("recipient", r.Redacted()),
			logx.String("version", f.Version),
			logx.Int("retry", f.RetryCount+1), logx.Err(derr))
		return
	}

	s.removeRecord(ctx, f.RecipientID)
	s.log.Info("retry delivered",
		logx.String("recipient", r.Redacted()), logx.String("version", f.Version))
}

func (s *Service) removeRecord(ctx context.Context, recipientID string) {
	if err := s.deps.Failures.Remove(ctx, recipientID); err != nil {
		s.log.Warn("failure record removal failed",
			logx.String("recipient_id", recipientID), logx.Err(err))
	}
}
