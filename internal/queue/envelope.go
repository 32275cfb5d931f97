package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is bumped only for additive changes; older workers ignore
// fields they do not know.
const EnvelopeVersion = 1

var ErrMalformedPayload = errors.New("malformed job payload")

// Envelope is the JSON wire form shared by producers and every transport.
type Envelope struct {
	Version       int             `json:"v"`
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Data          json.RawMessage `json:"data"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"max_attempts"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEnvelope marshals payload under the wire name of its kind.
func NewEnvelope(p Payload, correlationID string) (Envelope, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}
	return Envelope{
		Version:       EnvelopeVersion,
		ID:            uuid.New().String(),
		Name:          NameFor(p.Kind()),
		Data:          data,
		MaxAttempts:   DefaultMaxAttempts,
		EnqueuedAt:    time.Now().UTC(),
		CorrelationID: correlationID,
	}, nil
}

// Normalize fills the fields a producer may have left empty.
func (e *Envelope) Normalize() {
	if e.Version == 0 {
		e.Version = EnvelopeVersion
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = DefaultMaxAttempts
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now().UTC()
	}
}

func NameFor(k Kind) string {
	switch k {
	case KindCreated:
		return NameCreated
	case KindUpdated:
		return NameUpdated
	case KindBulk:
		return NameBulk
	}
	return string(k)
}

// KindOf maps a wire name to a kind. Unrecognised names map to KindUnknown.
func KindOf(name string) Kind {
	switch name {
	case NameCreated, legacyNameCreated:
		return KindCreated
	case NameUpdated, legacyNameUpdated:
		return KindUpdated
	case NameBulk:
		return KindBulk
	}
	return KindUnknown
}

// Decode turns an envelope into a Job. An unknown name is not an error: the
// job comes back with KindUnknown and a nil payload.
func Decode(e Envelope) (*Job, error) {
	e.Normalize()
	job := &Job{
		ID:            e.ID,
		Name:          e.Name,
		Kind:          KindOf(e.Name),
		Attempts:      e.Attempts,
		MaxAttempts:   e.MaxAttempts,
		Status:        StatusWaiting,
		EnqueuedAt:    e.EnqueuedAt,
		CorrelationID: e.CorrelationID,
		Data:          e.Data,
	}

	var (
		payload Payload
		err     error
	)
	switch job.Kind {
	case KindCreated:
		payload, err = decodeCreated(e.Data)
	case KindUpdated:
		payload, err = decodeUpdated(e.Data)
	case KindBulk:
		payload, err = decodeBulk(e.Data)
	default:
		return job, nil
	}
	if err != nil {
		return job, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, e.Name, err)
	}
	job.Payload = payload
	return job, nil
}

// DecodeBytes parses a raw envelope as read from a transport. When the bytes
// are not an envelope at all, the returned job only carries fallbackID so the
// caller can still resolve it.
func DecodeBytes(b []byte, fallbackID string) (*Job, Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		job := &Job{ID: fallbackID, Kind: KindUnknown, Status: StatusWaiting, Data: b, MaxAttempts: DefaultMaxAttempts}
		return job, e, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if e.ID == "" {
		e.ID = fallbackID
	}
	job, err := Decode(e)
	return job, e, err
}

// Envelope rebuilds the wire form of a job, for re-publishing.
func (j *Job) Envelope() Envelope {
	return Envelope{
		Version:       EnvelopeVersion,
		ID:            j.ID,
		Name:          j.Name,
		Data:          j.Data,
		Attempts:      j.Attempts,
		MaxAttempts:   j.MaxAttempts,
		EnqueuedAt:    j.EnqueuedAt,
		CorrelationID: j.CorrelationID,
	}
}

func decodeCreated(data json.RawMessage) (Payload, error) {
	var p CreatedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if err := requireEntity(p.FeatureID, p.OrganizationID); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeUpdated(data json.RawMessage) (Payload, error) {
	var p UpdatedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if err := requireEntity(p.FeatureID, p.OrganizationID); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeBulk(data json.RawMessage) (Payload, error) {
	var p BulkPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.OrganizationID == "" {
		return nil, errors.New("organizationId is required")
	}
	if len(p.FeatureIDs) == 0 {
		return nil, errors.New("featureIds is empty")
	}
	if !p.Action.Valid() {
		return nil, fmt.Errorf("unknown action %q", p.Action)
	}
	return p, nil
}

func requireEntity(featureID, organizationID string) error {
	if featureID == "" {
		return errors.New("featureId is required")
	}
	if organizationID == "" {
		return errors.New("organizationId is required")
	}
	return nil
}
