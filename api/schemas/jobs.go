package schemas

import (
	"encoding/json"
	"time"
)

// JobStatus tracks a listing through the application pipeline.
type JobStatus string

const (
	JobStatusSaved        JobStatus = "saved"
	JobStatusApplied      JobStatus = "applied"
	JobStatusInterviewing JobStatus = "interviewing"
	JobStatusRejected     JobStatus = "rejected"
	JobStatusOffer        JobStatus = "offer"
)

// JobListing is one tracked job posting.
type JobListing struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Company   string    `json:"company"`
	Location  string    `json:"location,omitempty"`
	URL       string    `json:"url"`
	Source    string    `json:"source,omitempty"`
	Status    JobStatus `json:"status"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Application records the outcome of one fill run against a job.
type Application struct {
	ID              string          `json:"id"`
	JobID           string          `json:"job_id"`
	ProfileSnapshot json.RawMessage `json:"profile_snapshot,omitempty"`
	FilledCount     int             `json:"filled_count"`
	FailedCount     int             `json:"failed_count"`
	Errors          []string        `json:"errors,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
