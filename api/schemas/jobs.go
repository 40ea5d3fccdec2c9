package schemas

import (
	"fmt"
	"time"
)

// -- Login Job Schemas --

// JobStatus is the lifecycle state of a login job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
)

// ParseJobStatus accepts only the four known statuses.
func ParseJobStatus(s string) (JobStatus, error) {
	switch st := JobStatus(s); st {
	case JobQueued, JobProcessing, JobDone, JobFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown job status %q", s)
	}
}

// IsTerminal reports whether no further transition is expected.
func (s JobStatus) IsTerminal() bool { return s == JobDone || s == JobFailed }

// Preferences are the optional booking filters a human attached to a job.
// Values are passed to the portal as typed; none are validated here.
type Preferences struct {
	IDNumber string `json:"id_number,omitempty"`
	City     string `json:"city,omitempty"`
	Branch   string `json:"branch,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeFrom string `json:"time_from,omitempty"`
	TimeTo   string `json:"time_to,omitempty"`
}

// HasFilters reports whether any filter beyond the identity number is set.
func (p Preferences) HasFilters() bool {
	return p.City != "" || p.Branch != "" || p.Date != "" || p.TimeFrom != "" || p.TimeTo != ""
}

// LoginJob is one request to log in with a phone number and search for an
// appointment.
type LoginJob struct {
	ID          int64       `json:"id"`
	Phone       string      `json:"phone"`
	Preferences Preferences `json:"payload"`
	Status      JobStatus   `json:"status,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// OtpCode is a passcode a human relayed for a phone number.
type OtpCode struct {
	ID        int64     `json:"id"`
	Phone     string    `json:"phone"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
	Used      bool      `json:"used"`
}

// SlotReport is what the slot scanner saw for one calendar day.
type SlotReport struct {
	DateLabel string   `json:"date_label"`
	Times     []string `json:"times"`
}
