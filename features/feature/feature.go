package feature

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a feature does not exist or belongs to another
// organization. Callers cannot tell the two apart.
var ErrNotFound = errors.New("feature not found")

type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusInactive:
		return true
	}
	return false
}

const ResourceType = "Feature"

// Audit actions written by the worker.
const (
	AuditFeatureCreated = "FEATURE_CREATED"
	AuditFeatureUpdated = "FEATURE_UPDATED"
)

type Feature struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Status         Status     `json:"status"`
	CreatedBy      string     `json:"created_by"`
	UpdatedBy      string     `json:"updated_by,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	DeletedBy      string     `json:"deleted_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (f *Feature) Deleted() bool { return f.DeletedAt != nil }

type LookupOptions struct {
	IncludeDeleted bool
}

// Fields is a partial update; nil fields are left untouched.
type Fields struct {
	Name        *string
	Description *string
	Status      *Status
	UpdatedBy   *string
	DeletedAt   *time.Time
	DeletedBy   *string
}

func (f Fields) Empty() bool {
	return f.Name == nil && f.Description == nil && f.Status == nil &&
		f.UpdatedBy == nil && f.DeletedAt == nil && f.DeletedBy == nil
}

type AuditEntry struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	UserID         string         `json:"user_id"`
	Action         string         `json:"action"`
	ResourceType   string         `json:"resource_type"`
	ResourceID     string         `json:"resource_id"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      time.Time      `json:"created_at"`
}

type Query struct {
	Page   int
	Limit  int
	Search string
	Status Status
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type Page struct {
	Data       []Feature  `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Store is the tenant-scoped persistence used by the worker. Every call is
// filtered by organization.
type Store interface {
	FindByIDAndOrg(ctx context.Context, id, organizationID string, opts LookupOptions) (*Feature, error)
	Update(ctx context.Context, id, organizationID string, fields Fields) error
	CreateAuditEntry(ctx context.Context, entry AuditEntry) error
}

type Repository interface {
	Store
	Create(ctx context.Context, f *Feature) error
	List(ctx context.Context, organizationID string, q Query) ([]Feature, int, error)
}
