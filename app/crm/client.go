package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/Susanoo/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 1 << 20

var crmRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "crm_requests_total",
		Help: "Remote CRM API calls partitioned by platform, operation and HTTP status",
	},
	[]string{"platform", "op", "status"},
)

// Client is the remote surface the dispatcher needs from a CRM platform
type Client interface {
	CreateContact(ctx context.Context, p Platform, token string, fields map[string]any) (*CreateContactResult, error)
	SendMail(ctx context.Context, p Platform, token, contactID string, mail Mail) (json.RawMessage, error)
	FetchEmailHistory(ctx context.Context, p Platform, token, contactID string) (*EmailHistory, error)
}

// CreateContactResult is a created or already-existing contact
type CreateContactResult struct {
	ID        string
	Duplicate bool
	Raw       json.RawMessage
}

// Mail is one outbound message sent through the CRM on behalf of a contact
type Mail struct {
	FromName  string
	FromEmail string
	To        string
	Subject   string
	Content   string
	Format    string // html or text
}

// EmailHistoryEntry is one row of a contact's email related list
type EmailHistoryEntry struct {
	MessageID string          `json:"message_id"`
	Subject   string          `json:"subject"`
	SentTime  string          `json:"sent_time"`
	Status    json.RawMessage `json:"status"`
}

// EmailHistory is the decoded related list plus the raw payload
type EmailHistory struct {
	Entries []EmailHistoryEntry
	Raw     json.RawMessage
}

// APIError carries the remote response of a rejected call
type APIError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
	Raw        json.RawMessage
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("crm %s failed: http status %d, code %s: %s", e.Op, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("crm %s failed: http status %d", e.Op, e.StatusCode)
}

type recordResult struct {
	Code    string          `json:"code"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details"`
}

type recordDetails struct {
	ID              string `json:"id"`
	DuplicateRecord *struct {
		ID string `json:"id"`
	} `json:"duplicate_record"`
}

type httpClient struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewClient creates a rate limited HTTP client shared by every job
func NewClient(cfg config.CRMClientConfig, logger zerolog.Logger) Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &httpClient{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With().Str("component", "crm_client").Logger(),
	}
}

// CreateContact inserts one contact. A duplicate rejection is not an error: the
// existing record id is returned with Duplicate set.
func (c *httpClient) CreateContact(ctx context.Context, p Platform, token string, fields map[string]any) (*CreateContactResult, error) {
	body, err := json.Marshal(map[string]any{"data": []map[string]any{fields}})
	if err != nil {
		return nil, err
	}
	status, raw, err := c.do(ctx, p, "create_contact", http.MethodPost, p.BaseURL()+"/Contacts", token, body)
	if err != nil {
		return nil, err
	}

	rec, ok := firstRecord(raw)
	if !ok {
		return nil, &APIError{Op: "create_contact", StatusCode: status, Raw: rawJSON(raw)}
	}
	var details recordDetails
	if len(rec.Details) > 0 {
		if err := json.Unmarshal(rec.Details, &details); err != nil {
			return nil, &APIError{
				Op:         "create_contact",
				StatusCode: status,
				Code:       rec.Code,
				Message:    fmt.Sprintf("undecodable record details: %v", err),
				Raw:        rawJSON(raw),
			}
		}
	}

	switch strings.ToUpper(rec.Code) {
	case "SUCCESS":
		if details.ID == "" {
			break
		}
		return &CreateContactResult{ID: details.ID, Raw: rawJSON(raw)}, nil
	case "DUPLICATE_DATA":
		id := details.ID
		if details.DuplicateRecord != nil && details.DuplicateRecord.ID != "" {
			id = details.DuplicateRecord.ID
		}
		if id == "" {
			break
		}
		return &CreateContactResult{ID: id, Duplicate: true, Raw: rawJSON(raw)}, nil
	}
	return nil, &APIError{Op: "create_contact", StatusCode: status, Code: rec.Code, Message: rec.Message, Raw: rawJSON(raw)}
}

// SendMail sends one message from the contact's record
func (c *httpClient) SendMail(ctx context.Context, p Platform, token, contactID string, mail Mail) (json.RawMessage, error) {
	format := mail.Format
	if format == "" {
		format = "html"
	}
	payload := map[string]any{
		"data": []map[string]any{{
			"from":        map[string]string{"user_name": mail.FromName, "email": mail.FromEmail},
			"to":          []map[string]string{{"email": mail.To}},
			"subject":     mail.Subject,
			"content":     mail.Content,
			"mail_format": format,
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/Contacts/%s/actions/send_mail", p.BaseURL(), url.PathEscape(contactID))
	status, raw, err := c.do(ctx, p, "send_mail", http.MethodPost, endpoint, token, body)
	if err != nil {
		return nil, err
	}
	rec, ok := firstRecord(raw)
	if !ok || !strings.EqualFold(rec.Code, "SUCCESS") || status < 200 || status >= 300 {
		return rawJSON(raw), &APIError{Op: "send_mail", StatusCode: status, Code: rec.Code, Message: rec.Message, Raw: rawJSON(raw)}
	}
	return rawJSON(raw), nil
}

// FetchEmailHistory returns the contact's email related list. A 2xx with no content is an empty
// history; any non-2xx status is an error regardless of body.
func (c *httpClient) FetchEmailHistory(ctx context.Context, p Platform, token, contactID string) (*EmailHistory, error) {
	endpoint := fmt.Sprintf("%s/Contacts/%s/Emails", p.BaseURL(), url.PathEscape(contactID))
	status, raw, err := c.do(ctx, p, "email_history", http.MethodGet, endpoint, token, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &APIError{Op: "email_history", StatusCode: status, Raw: rawJSON(raw)}
	}
	if status == http.StatusNoContent || len(bytes.TrimSpace(raw)) == 0 {
		return &EmailHistory{}, nil
	}
	var out struct {
		Emails []EmailHistoryEntry `json:"email_related_list"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode email history: %w", err)
	}
	return &EmailHistory{Entries: out.Emails, Raw: rawJSON(raw)}, nil
}

func (c *httpClient) do(ctx context.Context, p Platform, op, method, endpoint, token string, body []byte) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Zoho-oauthtoken "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		crmRequestsTotal.WithLabelValues(p.Name(), op, "error").Inc()
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	crmRequestsTotal.WithLabelValues(p.Name(), op, strconv.Itoa(resp.StatusCode)).Inc()
	c.logger.Debug().
		Str("platform", p.Name()).
		Str("op", op).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("crm call")

	return resp.StatusCode, raw, nil
}

func firstRecord(raw []byte) (recordResult, bool) {
	var out struct {
		Data []recordResult `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || len(out.Data) == 0 {
		return recordResult{}, false
	}
	return out.Data[0], true
}

// rawJSON keeps valid JSON as-is and wraps anything else as a JSON string
func rawJSON(b []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		return json.RawMessage(append([]byte(nil), trimmed...))
	}
	quoted, _ := json.Marshal(string(trimmed))
	return quoted
}
