package feature

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"featureworker/internal/middleware"
	"featureworker/internal/queue"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var ErrInvalidInput = errors.New("invalid input")

// Producer publishes job envelopes for the worker.
type Producer interface {
	Enqueue(ctx context.Context, env queue.Envelope) error
}

type CreateInput struct {
	Name        string
	Description string
	Status      Status
}

type UpdateInput struct {
	Name        *string
	Description *string
	Status      *Status
}

// Changes is the part of an update that is forwarded to the worker.
func (in UpdateInput) Changes() map[string]any {
	changes := map[string]any{}
	if in.Name != nil {
		changes["name"] = *in.Name
	}
	if in.Description != nil {
		changes["description"] = *in.Description
	}
	if in.Status != nil {
		changes["status"] = string(*in.Status)
	}
	return changes
}

type Service struct {
	repo     Repository
	producer Producer
	now      func() time.Time
}

func NewService(repo Repository, producer Producer) *Service {
	return &Service{repo: repo, producer: producer, now: time.Now}
}

func (s *Service) Create(ctx context.Context, organizationID, userID string, in CreateInput) (*Feature, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	status := in.Status
	if status == "" {
		status = StatusDraft
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidInput, status)
	}

	f := &Feature{
		OrganizationID: organizationID,
		Name:           name,
		Description:    strings.TrimSpace(in.Description),
		Status:         status,
		CreatedBy:      userID,
		UpdatedBy:      userID,
	}
	if err := s.repo.Create(ctx, f); err != nil {
		return nil, fmt.Errorf("create feature: %w", err)
	}
	slog.InfoContext(ctx, "feature created", "feature_id", f.ID, "organization_id", organizationID)

	s.publish(ctx, queue.CreatedPayload{FeatureID: f.ID, OrganizationID: organizationID, UserID: userID})
	return f, nil
}

func (s *Service) Get(ctx context.Context, id, organizationID string) (*Feature, error) {
	return s.repo.FindByIDAndOrg(ctx, id, organizationID, LookupOptions{})
}

func (s *Service) List(ctx context.Context, organizationID string, q Query) (*Page, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = defaultPageSize
	}
	if q.Limit > maxPageSize {
		q.Limit = maxPageSize
	}
	q.Search = strings.TrimSpace(q.Search)

	features, total, err := s.repo.List(ctx, organizationID, q)
	if err != nil {
		return nil, err
	}
	if features == nil {
		features = []Feature{}
	}
	return &Page{
		Data: features,
		Pagination: Pagination{
			Page:       q.Page,
			Limit:      q.Limit,
			Total:      total,
			TotalPages: int(math.Ceil(float64(total) / float64(q.Limit))),
		},
	}, nil
}

func (s *Service) Update(ctx context.Context, id, organizationID, userID string, in UpdateInput) (*Feature, error) {
	if in.Status != nil && !in.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidInput, *in.Status)
	}
	if _, err := s.repo.FindByIDAndOrg(ctx, id, organizationID, LookupOptions{}); err != nil {
		return nil, err
	}

	fields := Fields{Name: in.Name, Description: in.Description, Status: in.Status, UpdatedBy: &userID}
	if err := s.repo.Update(ctx, id, organizationID, fields); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "feature updated", "feature_id", id, "organization_id", organizationID)

	s.publish(ctx, queue.UpdatedPayload{FeatureID: id, OrganizationID: organizationID, UserID: userID, Changes: in.Changes()})
	return s.repo.FindByIDAndOrg(ctx, id, organizationID, LookupOptions{})
}

// Remove soft deletes a feature.
func (s *Service) Remove(ctx context.Context, id, organizationID, userID string) error {
	if _, err := s.repo.FindByIDAndOrg(ctx, id, organizationID, LookupOptions{}); err != nil {
		return err
	}
	now := s.now().UTC()
	if err := s.repo.Update(ctx, id, organizationID, Fields{DeletedAt: &now, DeletedBy: &userID}); err != nil {
		return err
	}
	slog.InfoContext(ctx, "feature soft deleted", "feature_id", id, "organization_id", organizationID)
	return nil
}

// RequestBulk enqueues a bulk operation and returns the job id. Unlike the
// single-record events, a failed publish is returned to the caller since the
// operation would otherwise never run.
func (s *Service) RequestBulk(ctx context.Context, organizationID, userID string, ids []string, action queue.Action) (string, error) {
	if len(ids) == 0 {
		return "", fmt.Errorf("%w: no feature ids", ErrInvalidInput)
	}
	if !action.Valid() {
		return "", fmt.Errorf("%w: action %q", ErrInvalidInput, action)
	}
	env, err := queue.NewEnvelope(queue.BulkPayload{FeatureIDs: ids, OrganizationID: organizationID, UserID: userID, Action: action}, correlationID(ctx))
	if err != nil {
		return "", err
	}
	if err := s.producer.Enqueue(ctx, env); err != nil {
		return "", fmt.Errorf("enqueue bulk %s: %w", action, err)
	}
	slog.InfoContext(ctx, "bulk operation queued", "job_id", env.ID, "action", action, "count", len(ids))
	return env.ID, nil
}

func (s *Service) publish(ctx context.Context, p queue.Payload) {
	env, err := queue.NewEnvelope(p, correlationID(ctx))
	if err == nil {
		err = s.producer.Enqueue(ctx, env)
	}
	if err != nil {
		slog.WarnContext(ctx, "failed to queue feature job", "kind", p.Kind(), "error", err)
	}
}

func correlationID(ctx context.Context) string {
	id, _ := middleware.LookupCorrelationID(ctx)
	return id
}
