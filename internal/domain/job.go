package domain

import (
	"strings"
	"time"
)

// JobState enumerates provider-side lifecycle states. Values outside the known
// set are kept verbatim and treated as non-terminal.
type JobState string

const (
	JobStateWaiting    JobState = "waiting"
	JobStateQueuing    JobState = "queuing"
	JobStateGenerating JobState = "generating"
	JobStateSuccess    JobState = "success"
	JobStateFailed     JobState = "failed"
)

// ParseJobState normalizes a provider state string. Providers that report
// "fail" or "error" are folded into JobStateFailed.
func ParseJobState(raw string) JobState {
	switch s := strings.ToLower(strings.TrimSpace(raw)); s {
	case "waiting", "pending", "created":
		return JobStateWaiting
	case "queuing", "queued", "queue":
		return JobStateQueuing
	case "generating", "processing", "running":
		return JobStateGenerating
	case "success", "succeeded", "completed":
		return JobStateSuccess
	case "fail", "failed", "error":
		return JobStateFailed
	default:
		return JobState(s)
	}
}

// IsTerminal reports whether no further transition can happen.
func (s JobState) IsTerminal() bool {
	return s == JobStateSuccess || s == JobStateFailed
}

// Known reports whether the state belongs to the documented set.
func (s JobState) Known() bool {
	switch s {
	case JobStateWaiting, JobStateQueuing, JobStateGenerating, JobStateSuccess, JobStateFailed:
		return true
	}
	return false
}

// Outcome is the finalized result of a job as seen by callers.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeAbandoned Outcome = "abandoned"
)

// Job encapsulates one in-flight or completed remote generation.
type Job struct {
	ID         string
	UserID     string
	SessionID  string
	ModelID    string
	Params     map[string]any
	CreatedAt  time.Time
	State      JobState
	ResultURLs []string
	Err        *ProviderError
	Price      int64
}

// Clone returns a copy that shares no mutable state with j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.Params = CloneParams(j.Params)
	if j.ResultURLs != nil {
		out.ResultURLs = append([]string(nil), j.ResultURLs...)
	}
	if j.Err != nil {
		errCopy := *j.Err
		out.Err = &errCopy
	}
	return &out
}

// StatusSink receives progress updates for a job. Implementations must not
// block; the engine treats the sink as opaque.
type StatusSink interface {
	JobUpdated(job *Job)
}

// GenerationRequest is the immutable input submitted by a caller.
type GenerationRequest struct {
	UserID      string
	SessionID   string
	ModelID     string
	Params      map[string]any
	RequestedAt time.Time
}

// PricingDecision is derived per admission attempt and never stored alone.
type PricingDecision struct {
	Price        int64
	Free         bool
	AdminLimited bool
	AdminExempt  bool
}

// Chargeable reports whether the user's personal balance pays for the job.
func (p PricingDecision) Chargeable() bool {
	return !p.Free && !p.AdminExempt && !p.AdminLimited && p.Price > 0
}

// JobHistoryRecord is the append-only record of a finalized job.
type JobHistoryRecord struct {
	ID           string
	UserID       string
	JobID        string
	ModelID      string
	Params       map[string]any
	Price        int64
	Charged      int64
	Free         bool
	Outcome      Outcome
	ResultURLs   []string
	ErrorKind    ErrorKind
	ErrorMessage string
	CreatedAt    time.Time
	CompletedAt  time.Time
}

// CloneParams copies a parameter map one level deep.
func CloneParams(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
