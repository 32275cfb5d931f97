package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"featureworker/features/feature"
	"featureworker/internal/queue"
)

// BulkResult always satisfies Processed + Failed == number of ids.
type BulkResult struct {
	Processed int         `json:"processed"`
	Failed    int         `json:"failed"`
	Errors    []ItemError `json:"errors,omitempty"`
}

type ItemError struct {
	FeatureID string `json:"featureId"`
	Error     string `json:"error"`
}

// BulkExecutor applies one action to many features, one at a time and in
// order. Item failures are counted, never retried.
type BulkExecutor struct {
	store  feature.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewBulkExecutor(store feature.Store, logger *slog.Logger, now func() time.Time) *BulkExecutor {
	return &BulkExecutor{store: store, logger: logger, now: now}
}

func (b *BulkExecutor) Execute(ctx context.Context, p queue.BulkPayload, progress ProgressFunc) BulkResult {
	total := len(p.FeatureIDs)
	b.logger.InfoContext(ctx, "processing bulk operation", "action", p.Action, "count", total)

	var res BulkResult
	for i, id := range p.FeatureIDs {
		if err := ctx.Err(); err != nil {
			for _, rest := range p.FeatureIDs[i:] {
				res.fail(rest, err)
			}
			b.logger.WarnContext(ctx, "bulk operation interrupted", "remaining", total-i, "error", err)
			break
		}

		if err := b.apply(ctx, p, id); err != nil {
			res.fail(id, err)
			b.logger.ErrorContext(ctx, "bulk item failed", "feature_id", id, "error", err)
			continue
		}
		res.Processed++
		progress(int(math.Round(float64(res.Processed) / float64(total) * 100)))
	}

	b.logger.InfoContext(ctx, "bulk operation completed", "processed", res.Processed, "failed", res.Failed)
	return res
}

func (r *BulkResult) fail(id string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, ItemError{FeatureID: id, Error: err.Error()})
}

func (b *BulkExecutor) apply(ctx context.Context, p queue.BulkPayload, id string) error {
	opts := feature.LookupOptions{IncludeDeleted: p.Action == queue.ActionDelete}
	f, err := b.store.FindByIDAndOrg(ctx, id, p.OrganizationID, opts)
	if err != nil {
		return err
	}

	var fields feature.Fields
	switch p.Action {
	case queue.ActionActivate:
		status := feature.StatusActive
		fields = feature.Fields{Status: &status, UpdatedBy: &p.UserID}
	case queue.ActionDeactivate:
		status := feature.StatusInactive
		fields = feature.Fields{Status: &status, UpdatedBy: &p.UserID}
	case queue.ActionDelete:
		// Already tombstoned: keep the first deletion.
		if f.Deleted() {
			return nil
		}
		now := b.now().UTC()
		fields = feature.Fields{DeletedAt: &now, DeletedBy: &p.UserID}
	default:
		return fmt.Errorf("unknown bulk action %q", p.Action)
	}

	if err := b.store.Update(ctx, id, p.OrganizationID, fields); err != nil {
		return fmt.Errorf("%s feature %s: %w", p.Action, id, err)
	}
	return nil
}
