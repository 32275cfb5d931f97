package job

import (
	"encoding/json"
	"time"
)

// Job is a dead letter: a queued job that failed for good.
type Job struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	Name           string          `json:"name"`
	Payload        json.RawMessage `json:"payload"`
	Error          string          `json:"error"`
	Attempts       int             `json:"attempts"`
	CreatedAt      time.Time       `json:"created_at"`
}
