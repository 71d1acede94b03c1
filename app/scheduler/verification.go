package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/amirphl/Susanoo/app/crm"
	"github.com/amirphl/Susanoo/app/services"
	"github.com/amirphl/Susanoo/utils"
)

// verify launches the detached delivery check for rec. It writes only through
// the record it was given, so a stopped or replaced job is harmless. Caller holds mu.
func (s *JobScheduler) verify(j *job, rec *ResultRecord, account *services.Account) {
	delaySeconds := j.form.CheckDelay
	if delaySeconds <= 0 {
		delaySeconds = s.opts.VerificationDelaySeconds
	}
	delay := time.Duration(delaySeconds) * s.opts.Tick
	platform := j.platform
	key := j.key
	entityID := rec.EntityID

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		wait := time.NewTimer(delay)
		defer wait.Stop()
		select {
		case <-wait.C:
		case <-s.ctx.Done():
			return
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.opts.DispatchTimeout)
		defer cancel()
		live, raw, errMsg := s.checkLiveStatus(ctx, platform, account, entityID)

		s.mu.Lock()
		rec.Live = live
		rec.Raw.Verify = raw
		rec.Raw.VerifyError = errMsg
		rec.VerifiedAt = utils.UTCNowPtr()
		s.mu.Unlock()

		verificationResultsTotal.WithLabelValues(platform.Name(), string(live)).Inc()
		s.logger.Debug().
			Str("job_key", key).
			Str("item", rec.Item).
			Str("live", string(live)).
			Msg("delivery verified")
	}()
}

// checkLiveStatus maps the most recent history entry to a live status
func (s *JobScheduler) checkLiveStatus(ctx context.Context, p crm.Platform, account *services.Account, entityID string) (LiveStatus, json.RawMessage, string) {
	token, err := s.tokens.GetValidToken(ctx, account)
	if err != nil {
		return LiveCheckFailed, nil, "token: " + err.Error()
	}
	history, err := s.client.FetchEmailHistory(ctx, p, token, entityID)
	if err != nil {
		s.invalidateOnUnauthorized(ctx, account, err)
		return LiveCheckFailed, apiErrorRaw(err), err.Error()
	}
	if len(history.Entries) == 0 {
		return LiveNotFound, history.Raw, ""
	}

	// The related list is newest first
	switch marker := p.LatestStatus(history.Entries[0]); marker {
	case "sent":
		return LiveSent, history.Raw, ""
	case "bounced":
		return LiveBounced, history.Raw, ""
	case "":
		return LiveCheckFailed, history.Raw, "unrecognised status"
	default:
		return LiveStatus(utils.Capitalize(marker)), history.Raw, ""
	}
}
