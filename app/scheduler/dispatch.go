package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/amirphl/Susanoo/app/crm"
	"github.com/amirphl/Susanoo/app/services"
	"github.com/amirphl/Susanoo/utils"
)

var (
	errNoEntity       = errors.New("no contact id to send from")
	errSenderNotFound = errors.New("from address is not a configured sender")
)

// fire dispatches the item at the cursor when the callback is still current
func (s *JobScheduler) fire(j *job, epoch uint64) {
	s.mu.Lock()
	if s.closed || s.jobs[j.key] != j || j.epoch != epoch ||
		j.status != StatusProcessing || j.inFlight || j.cursor >= len(j.items) {
		s.mu.Unlock()
		return
	}
	s.disarm(j)
	j.inFlight = true
	j.countdown = 0
	item := j.items[j.cursor]
	lock := s.keyLock(j.key)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	lock.Lock()
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.DispatchTimeout)
	rec, account, fatal := s.dispatch(ctx, j, item)
	cancel()
	lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	j.inFlight = false

	if fatal != nil {
		if !j.status.IsTerminal() {
			j.lastError = fatal.Error()
			s.disarm(j)
			s.finish(j, StatusFailed)
			s.refreshGauges()
		}
		return
	}

	j.results = append(j.results, rec)
	j.cursor++
	dispatchResultsTotal.WithLabelValues(j.platform.Name(), string(rec.Create), string(rec.Send)).Inc()
	s.logger.Info().
		Str("job_key", j.key).
		Int("cursor", j.cursor).
		Int("total", len(j.items)).
		Str("item", item).
		Str("create", string(rec.Create)).
		Str("send", string(rec.Send)).
		Str("live", string(rec.Live)).
		Msg("item dispatched")

	if rec.Live == LivePending && !s.closed {
		s.verify(j, rec, account)
	}
	s.advance(j)
}

// advance applies the pacing rule after a result landed. Caller holds mu.
func (s *JobScheduler) advance(j *job) {
	if j.cursor >= len(j.items) {
		if !j.status.IsTerminal() {
			s.disarm(j)
			s.finish(j, StatusCompleted)
			s.refreshGauges()
		}
		return
	}
	if j.status != StatusProcessing || s.jobs[j.key] != j || s.closed {
		return
	}
	s.arm(j)
}

// dispatch runs the remote stages for one item without holding mu. A non-nil
// fatal error fails the job and no result is recorded.
func (s *JobScheduler) dispatch(ctx context.Context, j *job, item string) (*ResultRecord, *services.Account, error) {
	// 1) Account
	account, err := s.accounts.ResolveAccount(ctx, j.accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve account: %w", err)
	}

	rec := &ResultRecord{
		Item:        item,
		Live:        LiveNotRequested,
		ProcessedAt: utils.UTCNow(),
	}

	// 2) Token
	token, err := s.tokens.GetValidToken(ctx, account)
	if err != nil {
		rec.Create = CreateFailed
		rec.Send = SendFailed
		rec.Raw.CreateError = fmt.Sprintf("token: %v", err)
		rec.Raw.SendError = rec.Raw.CreateError
		return rec, account, nil
	}

	// 3) Create
	s.createStage(ctx, j.platform, account, token, j.form, rec)

	// 4) Send
	s.sendStage(ctx, j.platform, account, token, j.form, rec)

	if j.form.CheckStatus && rec.EntityID != "" {
		rec.Live = LivePending
	}
	return rec, account, nil
}

func (s *JobScheduler) createStage(ctx context.Context, p crm.Platform, account *services.Account, token string, form FormData, rec *ResultRecord) {
	res, err := s.client.CreateContact(ctx, p, token, form.contactFields(rec.Item))
	if err != nil {
		rec.Create = CreateFailed
		rec.Raw.CreateError = err.Error()
		rec.Raw.Create = apiErrorRaw(err)
		s.invalidateOnUnauthorized(ctx, account, err)
		return
	}
	rec.Raw.Create = res.Raw
	rec.EntityID = res.ID
	if res.Duplicate {
		rec.Create = CreateDuplicate
		return
	}
	rec.Create = CreateSuccess
}

func (s *JobScheduler) sendStage(ctx context.Context, p crm.Platform, account *services.Account, token string, form FormData, rec *ResultRecord) {
	switch {
	case !form.SendEmail:
		rec.Send = SendSkipped
		return
	case rec.EntityID == "":
		rec.Send = SendFailed
		rec.Raw.SendError = errNoEntity.Error()
		return
	case !form.senderAllowed(account):
		rec.Send = SendFailed
		rec.Raw.SendError = fmt.Sprintf("%v: %q", errSenderNotFound, form.FromEmail)
		return
	}

	raw, err := s.client.SendMail(ctx, p, token, rec.EntityID, form.mail(rec.Item))
	rec.Raw.Send = raw
	if err != nil {
		rec.Send = SendFailed
		rec.Raw.SendError = err.Error()
		s.invalidateOnUnauthorized(ctx, account, err)
		return
	}
	rec.Send = SendSuccess
}

// invalidateOnUnauthorized drops a cached token the platform rejected so the next item refreshes
func (s *JobScheduler) invalidateOnUnauthorized(ctx context.Context, account *services.Account, err error) {
	var apiErr *crm.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		s.tokens.Invalidate(ctx, account.AccountID)
	}
}

func apiErrorRaw(err error) json.RawMessage {
	var apiErr *crm.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Raw
	}
	return nil
}
