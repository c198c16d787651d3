package models

import (
	"encoding/json"
	"errors"
	"time"
)

// WebhookEvent is one verified inbound notification. RawPayload holds the
// exact bytes that were signed and is never re-encoded.
type WebhookEvent struct {
	ID           string    `json:"id"`
	Topic        string    `json:"topic"`
	SourceDomain string    `json:"source_domain"`
	ReceivedAt   time.Time `json:"received_at"`
	RawPayload   []byte    `json:"-"`
}

// ErrEmptyPayload is returned by Parsed when the event carries no body.
var ErrEmptyPayload = errors.New("event payload is empty")

// Parsed decodes the raw payload into a generic object view.
func (e *WebhookEvent) Parsed() (map[string]any, error) {
	if len(e.RawPayload) == 0 {
		return nil, ErrEmptyPayload
	}
	var out map[string]any
	if err := json.Unmarshal(e.RawPayload, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("event payload is not a JSON object")
	}
	return out, nil
}

// Decode unmarshals the raw payload into v.
func (e *WebhookEvent) Decode(v any) error {
	if len(e.RawPayload) == 0 {
		return ErrEmptyPayload
	}
	return json.Unmarshal(e.RawPayload, v)
}

// JobState is the lifecycle state of a Job.
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	JobStateExhausted JobState = "exhausted"
)

// Valid reports whether s is a known state.
func (s JobState) Valid() bool {
	switch s {
	case JobStatePending, JobStateRunning, JobStateSucceeded, JobStateFailed, JobStateExhausted:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s JobState) Terminal() bool {
	return s == JobStateSucceeded || s == JobStateExhausted
}

// Job wraps one WebhookEvent with its execution bookkeeping.
type Job struct {
	ID             string         `json:"job_id"`
	Event          WebhookEvent   `json:"event"`
	State          JobState       `json:"state"`
	AttemptCount   int            `json:"attempt_count"`
	NextEligibleAt time.Time      `json:"next_eligible_at"`
	LeaseExpiresAt *time.Time     `json:"lease_expires_at,omitempty"`
	LastError      *string        `json:"last_error,omitempty"`
	Result         map[string]any `json:"result,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Event.RawPayload = append([]byte(nil), j.Event.RawPayload...)
	if j.LeaseExpiresAt != nil {
		t := *j.LeaseExpiresAt
		c.LeaseExpiresAt = &t
	}
	if j.LastError != nil {
		s := *j.LastError
		c.LastError = &s
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.Result != nil {
		c.Result = make(map[string]any, len(j.Result))
		for k, v := range j.Result {
			c.Result[k] = v
		}
	}
	return &c
}

// ReportedState is the state shown by listings and stats: a pending job
// that already failed at least once is reported as Failed.
func (j *Job) ReportedState() JobState {
	if j.State == JobStatePending && j.AttemptCount > 0 {
		return JobStateFailed
	}
	return j.State
}

// JobStats holds aggregate queue counts. Failed counts pending jobs that
// already failed at least once and are waiting out their backoff; such jobs
// are not included in Pending.
type JobStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
}

// Count adds j to the matching counter.
func (s *JobStats) Count(j *Job) {
	switch j.ReportedState() {
	case JobStatePending:
		s.Pending++
	case JobStateRunning:
		s.Running++
	case JobStateSucceeded:
		s.Succeeded++
	case JobStateFailed:
		s.Failed++
	case JobStateExhausted:
		s.Exhausted++
	}
}

// ListOptions filters and pages a job listing.
type ListOptions struct {
	State JobState
	Limit int
	Skip  int
}
