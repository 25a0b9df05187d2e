package backend

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	RefreshInterval = 270 * time.Second
	RenewInterval   = 85000 * time.Second
	TokenRetry      = 10 * time.Second
)

type authenticator interface {
	Login(ctx context.Context) error
	Refresh(ctx context.Context) error
}

// TokenKeeper keeps the client's access token valid: a refresh every few
// minutes and a full login roughly once a day.
type TokenKeeper struct {
	auth authenticator
}

func NewTokenKeeper(auth authenticator) *TokenKeeper {
	return &TokenKeeper{auth: auth}
}

func (k *TokenKeeper) RefreshJob(ctx context.Context) time.Duration {
	if err := k.auth.Refresh(ctx); err != nil {
		log.Warn().Err(err).Dur("retry_in", TokenRetry).Msg("Token refresh failed")
		return TokenRetry
	}
	return RefreshInterval
}

func (k *TokenKeeper) RenewJob(ctx context.Context) time.Duration {
	if err := k.auth.Login(ctx); err != nil {
		log.Warn().Err(err).Dur("retry_in", TokenRetry).Msg("Token renewal failed")
		return TokenRetry
	}
	return RenewInterval
}
