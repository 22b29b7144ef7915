package scheduler

import (
	"context"
	"time"

	"github.com/example/carbonplane/internal/domain"
)

// dedupeTTL bounds how long an overdue claim is held; a day keeps the claim
// alive across daily triggers until the stream catches up or falls further
// behind.
const dedupeTTL = 26 * time.Hour

// RunOverdueDetection scans every collection config and raises one
// collection-overdue event per overdue window. The dedupe window spans
// instances so a multi-replica deployment alerts once.
func (s *Scheduler) RunOverdueDetection(ctx context.Context) error {
	now := s.now().In(s.timezone)

	return s.stores.Configs.ForEach(ctx, func(cfg *domain.CollectionConfig) error {
		if !cfg.Overdue(now) {
			return nil
		}

		// One alert per due instant: a stream that stays silent keeps the
		// same NextDue and must not re-alert every day.
		if cfg.LastAlertedDue.Equal(cfg.NextDue) {
			return nil
		}

		key := cfg.Stream.String() + "@" + cfg.NextDue.UTC().Format(time.RFC3339)

		first, err := s.dedupe.Once(ctx, key, dedupeTTL)
		if err != nil {
			s.logger.Warn("overdue dedupe check failed, alerting anyway",
				"stream", cfg.Stream.String(), "error", err)

			first = true
		}

		if !first {
			return nil
		}

		_ = s.publisher.Publish(ctx, domain.NewEvent(domain.EventCollectionOverdue, cfg.Stream.ClientID, map[string]any{
			"nodeId":          cfg.Stream.NodeID,
			"scopeIdentifier": cfg.Stream.ScopeIdentifier,
			"lastCollection":  cfg.LastCollection,
			"dueAt":           cfg.NextDue,
			"overdueBy":       now.Sub(cfg.NextDue).String(),
		}))

		cfg.LastAlertedDue = cfg.NextDue

		if err = s.stores.Configs.Put(ctx, cfg); err != nil {
			s.logger.Warn("overdue marker update failed",
				"stream", cfg.Stream.String(), "error", err)
		}

		return nil
	})
}
