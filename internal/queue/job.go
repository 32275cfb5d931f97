package queue

import (
	"encoding/json"
	"time"
)

// Kind identifies which handler a job is routed to.
type Kind string

const (
	KindCreated Kind = "created"
	KindUpdated Kind = "updated"
	KindBulk    Kind = "bulk"

	// KindUnknown is only produced at the decoding boundary, for envelopes
	// whose name no handler recognises.
	KindUnknown Kind = "unknown"
)

// Wire names used by producers.
const (
	NameCreated = "feature.created"
	NameUpdated = "feature.updated"
	NameBulk    = "feature.bulk"

	legacyNameCreated = "feature-created"
	legacyNameUpdated = "feature-updated"
)

const DefaultMaxAttempts = 3

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStalled   Status = "stalled"
)

// Action is the mutation a bulk job applies to every target feature.
type Action string

const (
	ActionActivate   Action = "activate"
	ActionDeactivate Action = "deactivate"
	ActionDelete     Action = "delete"
)

func (a Action) Valid() bool {
	switch a {
	case ActionActivate, ActionDeactivate, ActionDelete:
		return true
	}
	return false
}

// Payload is the closed set of job payloads. Only this package can add
// members, so a type switch over the three variants covers every routable job.
type Payload interface {
	Kind() Kind
	Organization() string
	sealed()
}

type CreatedPayload struct {
	FeatureID      string `json:"featureId"`
	OrganizationID string `json:"organizationId"`
	UserID         string `json:"userId"`
}

func (CreatedPayload) Kind() Kind { return KindCreated }
func (p CreatedPayload) Organization() string { return p.OrganizationID }
func (CreatedPayload) sealed() {}

type UpdatedPayload struct {
	FeatureID      string         `json:"featureId"`
	OrganizationID string         `json:"organizationId"`
	UserID         string         `json:"userId"`
	Changes        map[string]any `json:"changes"`
}

func (UpdatedPayload) Kind() Kind { return KindUpdated }
func (p UpdatedPayload) Organization() string { return p.OrganizationID }
func (UpdatedPayload) sealed() {}

type BulkPayload struct {
	FeatureIDs     []string `json:"featureIds"`
	OrganizationID string   `json:"organizationId"`
	UserID         string   `json:"userId"`
	Action         Action   `json:"action"`
}

func (BulkPayload) Kind() Kind { return KindBulk }
func (p BulkPayload) Organization() string { return p.OrganizationID }
func (BulkPayload) sealed() {}

// Job is a leased unit of work. Payload is immutable once enqueued; only
// Attempts, Status and the lease fields change across deliveries.
type Job struct {
	ID             string
	Name           string
	Kind           Kind
	Payload        Payload
	Attempts       int
	MaxAttempts    int
	Status         Status
	EnqueuedAt     time.Time
	LeaseExpiresAt time.Time
	CorrelationID  string

	// Data is the raw payload as enqueued, kept for dead letters and re-publishing.
	Data json.RawMessage
	// LeaseToken identifies one delivery of the job. Resolving with a stale
	// token fails with ErrLeaseLost.
	LeaseToken string
}

// Exhausted reports whether the job has no attempts left.
func (j *Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}
