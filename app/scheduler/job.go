// Package scheduler paces per-account contact creation and email dispatch jobs
package scheduler

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/amirphl/Susanoo/app/crm"
	"github.com/amirphl/Susanoo/app/services"
	"github.com/amirphl/Susanoo/utils"
)

// JobStatus is the control state of one job
type JobStatus string

const (
	StatusProcessing JobStatus = "Processing"
	StatusPaused     JobStatus = "Paused"
	StatusStopped    JobStatus = "Stopped"
	StatusCompleted  JobStatus = "Completed"
	StatusFailed     JobStatus = "Failed"
)

// IsTerminal reports whether only a fresh start can leave this status
func (s JobStatus) IsTerminal() bool {
	return s == StatusStopped || s == StatusCompleted || s == StatusFailed
}

// CreateOutcome is the result of the contact creation stage
type CreateOutcome string

const (
	CreateSuccess   CreateOutcome = "Success"
	CreateFailed    CreateOutcome = "Failed"
	CreateDuplicate CreateOutcome = "Duplicate"
)

// SendOutcome is the result of the email stage
type SendOutcome string

const (
	SendSuccess SendOutcome = "Success"
	SendFailed  SendOutcome = "Failed"
	SendSkipped SendOutcome = "Skipped"
)

// LiveStatus is the delivery state reported by verification. Platform markers other
// than the named ones are carried capitalised (e.g. "Opened").
type LiveStatus string

const (
	LiveNotRequested LiveStatus = "NotRequested"
	LivePending      LiveStatus = "Pending"
	LiveSent         LiveStatus = "Sent"
	LiveBounced      LiveStatus = "Bounced"
	LiveNotFound     LiveStatus = "NotFound"
	LiveCheckFailed  LiveStatus = "CheckFailed"
)

// FormData is the per-job configuration passed through to the remote calls.
// The scheduler only branches on SendEmail, CheckStatus, CheckDelay and the sender.
type FormData struct {
	// Fields are the contact fields; string values may carry the {{email}} placeholder
	Fields map[string]any `json:"fields,omitempty"`
	// EmailField names the contact field receiving the item address (default "Email")
	EmailField    string   `json:"email_field,omitempty"`
	SendEmail     bool     `json:"send_email"`
	CheckStatus   bool     `json:"check_status"`
	CheckDelay    int      `json:"check_delay,omitempty"`
	FromName      string   `json:"from_name,omitempty"`
	FromEmail     string   `json:"from_email,omitempty"`
	FromAddresses []string `json:"from_addresses,omitempty"`
	Subject       string   `json:"subject,omitempty"`
	Content       string   `json:"content,omitempty"`
	MailFormat    string   `json:"mail_format,omitempty"`
}

const defaultEmailField = "Email"

// contactFields renders the contact payload for one item
func (f FormData) contactFields(item string) map[string]any {
	out := make(map[string]any, len(f.Fields)+2)
	for k, v := range f.Fields {
		if s, ok := v.(string); ok {
			out[k] = substitute(s, item)
			continue
		}
		out[k] = v
	}
	field := f.EmailField
	if field == "" {
		field = defaultEmailField
	}
	if _, ok := out[field]; !ok {
		out[field] = item
	}
	if _, ok := out["Last_Name"]; !ok {
		local, _, _ := strings.Cut(item, "@")
		out["Last_Name"] = local
	}
	return out
}

func (f FormData) mail(item string) crm.Mail {
	return crm.Mail{
		FromName:  f.FromName,
		FromEmail: strings.TrimSpace(f.FromEmail),
		To:        item,
		Subject:   substitute(f.Subject, item),
		Content:   substitute(f.Content, item),
		Format:    f.MailFormat,
	}
}

// senderAllowed matches the configured sender against the job's candidates,
// falling back to the account's verified senders when the job lists none.
func (f FormData) senderAllowed(account *services.Account) bool {
	from := strings.TrimSpace(f.FromEmail)
	if from == "" {
		return false
	}
	if len(f.FromAddresses) == 0 {
		return account != nil && account.HasFromAddress(from)
	}
	for _, c := range f.FromAddresses {
		if strings.EqualFold(strings.TrimSpace(c), from) {
			return true
		}
	}
	return false
}

func substitute(s, item string) string {
	return strings.ReplaceAll(s, utils.EmailPlaceholder, item)
}

// RawResponses keeps what each stage returned, for display only
type RawResponses struct {
	Create      json.RawMessage `json:"create,omitempty"`
	CreateError string          `json:"create_error,omitempty"`
	Send        json.RawMessage `json:"send,omitempty"`
	SendError   string          `json:"send_error,omitempty"`
	Verify      json.RawMessage `json:"verify,omitempty"`
	VerifyError string          `json:"verify_error,omitempty"`
}

// ResultRecord is the outcome of one processed item. Only Live, Raw.Verify,
// Raw.VerifyError and VerifiedAt change after the record is appended.
type ResultRecord struct {
	Item        string        `json:"item"`
	EntityID    string        `json:"entity_id,omitempty"`
	Create      CreateOutcome `json:"create"`
	Send        SendOutcome   `json:"send"`
	Live        LiveStatus    `json:"live"`
	Raw         RawResponses  `json:"raw"`
	ProcessedAt time.Time     `json:"processed_at"`
	VerifiedAt  *time.Time    `json:"verified_at,omitempty"`
}

// Summary aggregates the results of one job
type Summary struct {
	Created      int                `json:"created"`
	Duplicates   int                `json:"duplicates"`
	CreateFailed int                `json:"create_failed"`
	Sent         int                `json:"sent"`
	SendFailed   int                `json:"send_failed"`
	SendSkipped  int                `json:"send_skipped"`
	Live         map[LiveStatus]int `json:"live"`
}

func summarize(results []ResultRecord) Summary {
	s := Summary{Live: make(map[LiveStatus]int)}
	for _, r := range results {
		switch r.Create {
		case CreateSuccess:
			s.Created++
		case CreateDuplicate:
			s.Duplicates++
		case CreateFailed:
			s.CreateFailed++
		}
		switch r.Send {
		case SendSuccess:
			s.Sent++
		case SendFailed:
			s.SendFailed++
		case SendSkipped:
			s.SendSkipped++
		}
		s.Live[r.Live]++
	}
	return s
}

// Snapshot is a read-only projection of one job
type Snapshot struct {
	Key          string         `json:"key"`
	RunID        string         `json:"run_id"`
	AccountID    string         `json:"account_id"`
	Platform     string         `json:"platform"`
	Status       JobStatus      `json:"status"`
	Cursor       int            `json:"cursor"`
	Total        int            `json:"total"`
	Items        []string       `json:"-"`
	DelaySeconds int            `json:"delay_seconds"`
	Countdown    int            `json:"countdown"`
	LastError    string         `json:"last_error,omitempty"`
	SendEmail    bool           `json:"send_email"`
	CheckStatus  bool           `json:"check_status"`
	Results      []ResultRecord `json:"results"`
	Summary      Summary        `json:"summary"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
}

// job is the mutable record. Every field is guarded by JobScheduler.mu.
type job struct {
	key          string
	runID        string
	accountID    string
	platform     crm.Platform
	items        []string
	cursor       int
	results      []*ResultRecord
	status       JobStatus
	delaySeconds int
	countdown    int
	form         FormData
	lastError    string
	startedAt    time.Time
	finishedAt   *time.Time

	// epoch invalidates callbacks armed before the latest transition
	epoch      uint64
	timer      *time.Timer
	tickerStop chan struct{}
	inFlight   bool
}

// JobKey composes the map key of an account and platform pair
func JobKey(platform, accountID string) string {
	return platform + "-" + accountID
}

func (j *job) snapshot() Snapshot {
	results := make([]ResultRecord, len(j.results))
	for i, r := range j.results {
		results[i] = *r
		if r.VerifiedAt != nil {
			results[i].VerifiedAt = utils.ToPtr(*r.VerifiedAt)
		}
	}
	snap := Snapshot{
		Key:          j.key,
		RunID:        j.runID,
		AccountID:    j.accountID,
		Platform:     j.platform.Name(),
		Status:       j.status,
		Cursor:       j.cursor,
		Total:        len(j.items),
		Items:        append([]string(nil), j.items...),
		DelaySeconds: j.delaySeconds,
		Countdown:    j.countdown,
		LastError:    j.lastError,
		SendEmail:    j.form.SendEmail,
		CheckStatus:  j.form.CheckStatus,
		Results:      results,
		Summary:      summarize(results),
		StartedAt:    j.startedAt,
	}
	if j.finishedAt != nil {
		snap.FinishedAt = utils.ToPtr(*j.finishedAt)
	}
	return snap
}

// Remaining returns the items not yet dispatched
func (s Snapshot) Remaining() []string {
	if s.Cursor >= len(s.Items) {
		return nil
	}
	return append([]string(nil), s.Items[s.Cursor:]...)
}
