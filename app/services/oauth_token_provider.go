package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amirphl/Susanoo/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var ErrTokenExchangeFailed = errors.New("oauth token exchange failed")

const (
	lockPollAttempts = 10
	lockPollInterval = 200 * time.Millisecond
)

var oauthRefreshTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "oauth_token_refresh_total",
		Help: "OAuth access token refreshes partitioned by result",
	},
	[]string{"result"},
)

// TokenProvider hands out a currently valid access token for an account
type TokenProvider interface {
	GetValidToken(ctx context.Context, account *Account) (string, error)
	Invalidate(ctx context.Context, accountID string)
}

type oauthTokenProvider struct {
	cache          TokenCache
	client         *http.Client
	group          singleflight.Group
	refreshSkew    time.Duration
	lockTTL        time.Duration
	refreshTimeout time.Duration
	logger         zerolog.Logger
}

// NewOAuthTokenProvider creates a refresh-token based provider. Concurrent callers for
// the same account share one exchange; other instances are held off with a cache lock.
func NewOAuthTokenProvider(cfg config.OAuthConfig, cache TokenCache, logger zerolog.Logger) TokenProvider {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 15 * time.Second
	}
	return &oauthTokenProvider{
		cache:          cache,
		client:         &http.Client{Timeout: timeout},
		refreshSkew:    cfg.RefreshSkew,
		lockTTL:        lockTTL,
		refreshTimeout: timeout + lockTTL,
		logger:         logger.With().Str("component", "oauth").Logger(),
	}
}

func tokenCacheKey(accountID string) string {
	return "oauth:access:" + accountID
}

func (p *oauthTokenProvider) GetValidToken(ctx context.Context, account *Account) (string, error) {
	if account == nil {
		return "", ErrAccountNotFound
	}
	key := tokenCacheKey(account.AccountID)
	tok, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		p.logger.Warn().Err(err).Str("account_id", account.AccountID).Msg("token cache read failed")
	}
	if ok {
		return tok, nil
	}

	// The exchange is shared by every waiter, so one caller's cancellation must not abort it
	ch := p.group.DoChan(account.AccountID, func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.refreshTimeout)
		defer cancel()
		return p.refresh(refreshCtx, account, key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *oauthTokenProvider) Invalidate(ctx context.Context, accountID string) {
	if err := p.cache.Delete(ctx, tokenCacheKey(accountID)); err != nil {
		p.logger.Warn().Err(err).Str("account_id", accountID).Msg("token cache delete failed")
	}
}

func (p *oauthTokenProvider) refresh(ctx context.Context, account *Account, key string) (string, error) {
	release, locked, err := p.cache.TryLock(ctx, key, p.lockTTL)
	if err != nil {
		p.logger.Warn().Err(err).Str("account_id", account.AccountID).Msg("token refresh lock unavailable, refreshing anyway")
		locked = true
	}
	defer release()

	if !locked {
		for i := 0; i < lockPollAttempts; i++ {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(lockPollInterval):
			}
			if tok, ok, _ := p.cache.Get(ctx, key); ok {
				return tok, nil
			}
		}
	} else if tok, ok, _ := p.cache.Get(ctx, key); ok {
		return tok, nil
	}

	tok, expiresIn, err := p.exchange(ctx, account)
	if err != nil {
		oauthRefreshTotal.WithLabelValues("error").Inc()
		return "", err
	}
	oauthRefreshTotal.WithLabelValues("ok").Inc()

	ttl := expiresIn - p.refreshSkew
	if ttl <= 0 {
		ttl = expiresIn / 2
	}
	if ttl > 0 {
		if err := p.cache.Set(ctx, key, tok, ttl); err != nil {
			p.logger.Warn().Err(err).Str("account_id", account.AccountID).Msg("token cache write failed")
		}
	}
	p.logger.Debug().Str("account_id", account.AccountID).Dur("ttl", ttl).Msg("access token refreshed")
	return tok, nil
}

func (p *oauthTokenProvider) exchange(ctx context.Context, account *Account) (string, time.Duration, error) {
	form := url.Values{}
	form.Set("refresh_token", account.RefreshToken)
	form.Set("client_id", account.ClientID)
	form.Set("client_secret", account.ClientSecret)
	form.Set("grant_type", "refresh_token")

	endpoint := strings.TrimRight(account.AccountsURL, "/") + "/oauth/v2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("%w: http status: %d", ErrTokenExchangeFailed, resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
	}
	if out.Error != "" {
		return "", 0, fmt.Errorf("%w: %s", ErrTokenExchangeFailed, out.Error)
	}
	if out.AccessToken == "" {
		return "", 0, fmt.Errorf("%w: empty access token", ErrTokenExchangeFailed)
	}
	return out.AccessToken, time.Duration(out.ExpiresIn) * time.Second, nil
}
