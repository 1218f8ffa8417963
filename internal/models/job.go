package models

import "time"

// Job is a unit of orchestrated background work.
type Job struct {
	ID          string     `json:"id"`
	Sequence    int        `json:"sequence"`
	Type        JobType    `json:"job_type"`
	Status      JobStatus  `json:"status"`
	EntityID    string     `json:"entity_id,omitempty"`
	Processed   int        `json:"processed"`
	Total       int        `json:"total"`
	Attempts    int        `json:"attempts"`
	Error       string     `json:"error_message,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (j *Job) Validate() error {
	switch {
	case !j.Type.Valid():
		return invalid("job type %q", j.Type)
	case !j.Status.Valid():
		return invalid("job status %q", j.Status)
	case j.Type.RequiresEntity() && j.EntityID == "":
		return invalid("%s requires an album id", j.Type)
	case j.Processed < 0 || j.Total < 0:
		return invalid("negative progress")
	}
	return nil
}

// Percent returns progress in [0, 100]; zero when total is unknown.
func (j *Job) Percent() float64 {
	if j.Total <= 0 {
		return 0
	}
	p := float64(j.Processed) / float64(j.Total) * 100
	if p > 100 {
		return 100
	}
	return p
}

// Duration returns run time so far, or total run time for finished jobs.
func (j *Job) Duration(now time.Time) time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := now
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	return end.Sub(*j.StartedAt)
}

// JobOutcome is the terminal result recorded by [JobStatus] completion.
type JobOutcome struct {
	Status  JobStatus
	Error   string
	Summary string
}

// JobFilter narrows job listings; zero values mean "any".
type JobFilter struct {
	Status   JobStatus
	Type     JobType
	EntityID string
	Limit    int
	Offset   int
}

// BatchSummary is stored as a completed batch job's summary.
type BatchSummary struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped,omitempty"`
	Failures  []string `json:"failures,omitempty"`
}

// MaxSummaryFailures caps the failure messages kept in a [BatchSummary].
const MaxSummaryFailures = 20

// RecordFailure counts an item failure and keeps its message while under the cap.
func (b *BatchSummary) RecordFailure(item string, err error) {
	b.Failed++
	if len(b.Failures) < MaxSummaryFailures {
		b.Failures = append(b.Failures, item+": "+err.Error())
	}
}
