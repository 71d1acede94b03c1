package businessflow

import (
	"context"
	"errors"
	"time"

	"github.com/amirphl/Susanoo/app/dto"
	"github.com/amirphl/Susanoo/app/services"
)

// AuthFlow issues and rotates operator tokens for the control API
type AuthFlow interface {
	IssueTokens(ctx context.Context, operatorID string) (*dto.TokenResponse, error)
	RefreshTokens(ctx context.Context, req *dto.RefreshTokenRequest, metadata *ClientMetadata) (*dto.TokenResponse, error)
}

// AuthFlowImpl implements AuthFlow
type AuthFlowImpl struct {
	tokens    services.TokenService
	accessTTL time.Duration
}

func NewAuthFlow(tokens services.TokenService, accessTTL time.Duration) AuthFlow {
	return &AuthFlowImpl{tokens: tokens, accessTTL: accessTTL}
}

func (f *AuthFlowImpl) IssueTokens(ctx context.Context, operatorID string) (*dto.TokenResponse, error) {
	access, refresh, err := f.tokens.GenerateTokens(operatorID)
	if err != nil {
		return nil, NewBusinessError("TOKEN_GENERATION_FAILED", "Failed to issue tokens", err)
	}
	return f.response(access, refresh), nil
}

func (f *AuthFlowImpl) RefreshTokens(ctx context.Context, req *dto.RefreshTokenRequest, metadata *ClientMetadata) (*dto.TokenResponse, error) {
	access, refresh, err := f.tokens.RefreshToken(req.RefreshToken)
	if err != nil {
		if errors.Is(err, services.ErrTokenExpired) {
			return nil, ErrOperatorTokenExpired
		}
		return nil, ErrOperatorTokenInvalid
	}
	return f.response(access, refresh), nil
}

func (f *AuthFlowImpl) response(access, refresh string) *dto.TokenResponse {
	return &dto.TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(f.accessTTL.Seconds()),
	}
}
