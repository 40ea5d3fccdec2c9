package schemas

import "time"

// -- Board API wire formats --

// NextJobResponse is the body of GET /api/login/next. ID is null when the
// queue is empty.
type NextJobResponse struct {
	ID        *int64       `json:"id"`
	Phone     string       `json:"phone,omitempty"`
	Payload   *Preferences `json:"payload,omitempty"`
	CreatedAt *time.Time   `json:"created_at,omitempty"`
}

// Job converts a non-empty response into a LoginJob.
func (r NextJobResponse) Job() (LoginJob, bool) {
	if r.ID == nil {
		return LoginJob{}, false
	}
	job := LoginJob{ID: *r.ID, Phone: r.Phone, Status: JobProcessing}
	if r.Payload != nil {
		job.Preferences = *r.Payload
	}
	if r.CreatedAt != nil {
		job.CreatedAt = *r.CreatedAt
	}
	return job, true
}

// NewNextJobResponse is the inverse of Job.
func NewNextJobResponse(job *LoginJob) NextJobResponse {
	if job == nil {
		return NextJobResponse{}
	}
	id, created, prefs := job.ID, job.CreatedAt, job.Preferences
	return NextJobResponse{ID: &id, Phone: job.Phone, Payload: &prefs, CreatedAt: &created}
}

// LatestOTPResponse is the body of GET /api/otp/latest. Code is null when no
// usable code exists.
type LatestOTPResponse struct {
	ID   *int64  `json:"id,omitempty"`
	Code *string `json:"code"`
}

// AckResponse acknowledges the mark endpoints.
type AckResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse is returned with any non-2xx status.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
