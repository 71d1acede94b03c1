package dto

import "encoding/json"

// StartJobRequest represents the request to start a paced dispatch job
type StartJobRequest struct {
	Platform     string      `json:"-" validate:"required"`
	AccountID    string      `json:"-" validate:"required,max=64"`
	Items        []string    `json:"items" validate:"required,min=1,dive,max=320"`
	DelaySeconds *int        `json:"delay_seconds,omitempty" validate:"omitempty,gte=0,lte=86400"`
	FormData     JobFormData `json:"form_data"`
}

// JobFormData carries the per-job contact template and email settings
type JobFormData struct {
	Fields        map[string]any `json:"fields,omitempty"`
	EmailField    string         `json:"email_field,omitempty" validate:"omitempty,max=100"`
	SendEmail     bool           `json:"send_email"`
	CheckStatus   bool           `json:"check_status"`
	CheckDelay    int            `json:"check_delay,omitempty" validate:"gte=0,lte=86400"`
	FromName      string         `json:"from_name,omitempty" validate:"max=255"`
	FromEmail     string         `json:"from_email,omitempty" validate:"omitempty,email"`
	FromAddresses []string       `json:"from_addresses,omitempty" validate:"omitempty,dive,email"`
	Subject       string         `json:"subject,omitempty" validate:"max=500"`
	Content       string         `json:"content,omitempty"`
	MailFormat    string         `json:"mail_format,omitempty" validate:"omitempty,oneof=html text"`
}

// JobKeyRequest addresses one job by its platform and account
type JobKeyRequest struct {
	Platform  string `json:"platform" validate:"required"`
	AccountID string `json:"account_id" validate:"required,max=64"`
}

// StartJobResponse represents the response of a start call
type StartJobResponse struct {
	Accepted bool        `json:"accepted"`
	Message  string      `json:"message"`
	Job      JobResponse `json:"job"`
}

// JobControlResponse acknowledges pause, resume, stop and reset
type JobControlResponse struct {
	Key     string `json:"key"`
	Changed bool   `json:"changed"`
	Status  string `json:"status,omitempty"`
}

// JobResultResponse is one processed item
type JobResultResponse struct {
	Item        string          `json:"item"`
	EntityID    string          `json:"entity_id,omitempty"`
	Create      string          `json:"create"`
	Send        string          `json:"send"`
	Live        string          `json:"live"`
	Raw         json.RawMessage `json:"raw,omitempty"`
	ProcessedAt string          `json:"processed_at"`
	VerifiedAt  *string         `json:"verified_at,omitempty"`
}

// JobSummaryResponse aggregates the stage outcomes of a job
type JobSummaryResponse struct {
	Created      int            `json:"created"`
	Duplicates   int            `json:"duplicates"`
	CreateFailed int            `json:"create_failed"`
	Sent         int            `json:"sent"`
	SendFailed   int            `json:"send_failed"`
	SendSkipped  int            `json:"send_skipped"`
	Live         map[string]int `json:"live"`
}

// JobResponse is the read-only projection of one job
type JobResponse struct {
	Key          string              `json:"key"`
	RunID        string              `json:"run_id"`
	AccountID    string              `json:"account_id"`
	Platform     string              `json:"platform"`
	Status       string              `json:"status"`
	Cursor       int                 `json:"cursor"`
	Total        int                 `json:"total"`
	Countdown    int                 `json:"countdown"`
	DelaySeconds int                 `json:"delay_seconds"`
	LastError    *string             `json:"last_error,omitempty"`
	SendEmail    bool                `json:"send_email"`
	CheckStatus  bool                `json:"check_status"`
	Summary      JobSummaryResponse  `json:"summary"`
	Results      []JobResultResponse `json:"results"`
	Remaining    []string            `json:"remaining,omitempty"` // undispatched items, for a manual retry
	StartedAt    string              `json:"started_at"`
	FinishedAt   *string             `json:"finished_at,omitempty"`
}

// ListJobsResponse maps every known job key to its projection
type ListJobsResponse struct {
	Jobs  map[string]JobResponse `json:"jobs"`
	Total int                    `json:"total"`
}

// JobRunResponse is an archived terminal snapshot
type JobRunResponse struct {
	UUID       string          `json:"uuid"`
	JobKey     string          `json:"job_key"`
	Status     string          `json:"status"`
	Cursor     int             `json:"cursor"`
	Total      int             `json:"total"`
	LastError  *string         `json:"last_error,omitempty"`
	Summary    json.RawMessage `json:"summary"`
	StartedAt  string          `json:"started_at"`
	FinishedAt *string         `json:"finished_at,omitempty"`
}
