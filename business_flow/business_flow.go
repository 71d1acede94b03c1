package businessflow

import (
	"encoding/json"
	"time"

	"github.com/amirphl/Susanoo/app/dto"
	"github.com/amirphl/Susanoo/app/scheduler"
	"github.com/rs/zerolog"
)

const RequestIDKey = "X-Request-ID"

// ClientMetadata holds caller information attached to control audit logs
type ClientMetadata struct {
	IPAddress  string `json:"ip_address"`
	UserAgent  string `json:"user_agent"`
	RequestID  string `json:"request_id,omitempty"`
	OperatorID string `json:"operator_id,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance with basic information
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

// SetOperatorID sets the authenticated operator
func (cm *ClientMetadata) SetOperatorID(operatorID string) {
	cm.OperatorID = operatorID
}

func (cm *ClientMetadata) attach(ev *zerolog.Event) *zerolog.Event {
	if cm == nil {
		return ev
	}
	return ev.Str("ip", cm.IPAddress).
		Str("request_id", cm.RequestID).
		Str("operator_id", cm.OperatorID)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toJobResponse(snap scheduler.Snapshot) dto.JobResponse {
	out := dto.JobResponse{
		Key:          snap.Key,
		RunID:        snap.RunID,
		AccountID:    snap.AccountID,
		Platform:     snap.Platform,
		Status:       string(snap.Status),
		Cursor:       snap.Cursor,
		Total:        snap.Total,
		Countdown:    snap.Countdown,
		DelaySeconds: snap.DelaySeconds,
		SendEmail:    snap.SendEmail,
		CheckStatus:  snap.CheckStatus,
		Summary: dto.JobSummaryResponse{
			Created:      snap.Summary.Created,
			Duplicates:   snap.Summary.Duplicates,
			CreateFailed: snap.Summary.CreateFailed,
			Sent:         snap.Summary.Sent,
			SendFailed:   snap.Summary.SendFailed,
			SendSkipped:  snap.Summary.SendSkipped,
			Live:         make(map[string]int, len(snap.Summary.Live)),
		},
		Results:    make([]dto.JobResultResponse, 0, len(snap.Results)),
		Remaining:  snap.Remaining(),
		StartedAt:  formatTime(snap.StartedAt),
		FinishedAt: formatTimePtr(snap.FinishedAt),
	}
	if snap.LastError != "" {
		out.LastError = &snap.LastError
	}
	for status, n := range snap.Summary.Live {
		out.Summary.Live[string(status)] = n
	}
	for _, r := range snap.Results {
		out.Results = append(out.Results, toJobResultResponse(r))
	}
	return out
}

func toJobResultResponse(r scheduler.ResultRecord) dto.JobResultResponse {
	out := dto.JobResultResponse{
		Item:        r.Item,
		EntityID:    r.EntityID,
		Create:      string(r.Create),
		Send:        string(r.Send),
		Live:        string(r.Live),
		ProcessedAt: formatTime(r.ProcessedAt),
		VerifiedAt:  formatTimePtr(r.VerifiedAt),
	}
	if raw, err := json.Marshal(r.Raw); err == nil && string(raw) != "{}" {
		out.Raw = raw
	}
	return out
}
