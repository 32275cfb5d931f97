package worker

import (
	"context"
	"errors"
	"fmt"

	"featureworker/features/feature"
	"featureworker/internal/queue"
)

// FeatureResult is the value of a successful created or updated job.
type FeatureResult struct {
	Success   bool   `json:"success"`
	FeatureID string `json:"featureId"`
}

func (d *Dispatcher) handleCreated(ctx context.Context, p queue.CreatedPayload) Result {
	d.logger.InfoContext(ctx, "processing feature created", "feature_id", p.FeatureID)

	f, err := d.store.FindByIDAndOrg(ctx, p.FeatureID, p.OrganizationID, feature.LookupOptions{})
	if res, failed := lookupFailure(p.FeatureID, err); failed {
		return res
	}

	err = d.store.CreateAuditEntry(ctx, feature.AuditEntry{
		OrganizationID: p.OrganizationID,
		UserID:         p.UserID,
		Action:         feature.AuditFeatureCreated,
		ResourceType:   feature.ResourceType,
		ResourceID:     p.FeatureID,
		Metadata:       map[string]any{"featureName": f.Name},
	})
	if err != nil {
		return Retryable(fmt.Errorf("audit feature %s: %w", p.FeatureID, err))
	}

	d.logger.InfoContext(ctx, "feature created job completed", "feature_id", p.FeatureID)
	return OK(FeatureResult{Success: true, FeatureID: p.FeatureID})
}

// handleUpdated also accepts soft-deleted features, so an update that races a
// delete is still audited.
func (d *Dispatcher) handleUpdated(ctx context.Context, p queue.UpdatedPayload) Result {
	d.logger.InfoContext(ctx, "processing feature updated", "feature_id", p.FeatureID)

	_, err := d.store.FindByIDAndOrg(ctx, p.FeatureID, p.OrganizationID, feature.LookupOptions{IncludeDeleted: true})
	if res, failed := lookupFailure(p.FeatureID, err); failed {
		return res
	}

	changes := p.Changes
	if changes == nil {
		changes = map[string]any{}
	}
	err = d.store.CreateAuditEntry(ctx, feature.AuditEntry{
		OrganizationID: p.OrganizationID,
		UserID:         p.UserID,
		Action:         feature.AuditFeatureUpdated,
		ResourceType:   feature.ResourceType,
		ResourceID:     p.FeatureID,
		Metadata:       map[string]any{"changes": changes},
	})
	if err != nil {
		return Retryable(fmt.Errorf("audit feature %s: %w", p.FeatureID, err))
	}

	d.logger.InfoContext(ctx, "feature updated job completed", "feature_id", p.FeatureID)
	return OK(FeatureResult{Success: true, FeatureID: p.FeatureID})
}

func lookupFailure(featureID string, err error) (Result, bool) {
	switch {
	case err == nil:
		return Result{}, false
	case errors.Is(err, feature.ErrNotFound):
		return Terminal(fmt.Errorf("feature %s: %w", featureID, err)), true
	default:
		return Retryable(fmt.Errorf("load feature %s: %w", featureID, err)), true
	}
}
