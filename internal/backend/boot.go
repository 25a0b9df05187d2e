package backend

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blinds-controller/db"
	"github.com/thatsimonsguy/blinds-controller/internal/model"
)

const BootRetry = time.Second

// BootData is what the controller needs from the backend before it can run.
type BootData struct {
	Device    model.DeviceConfiguration
	Blinds    []model.BlindRecord
	FromCache bool
}

type bootSource interface {
	Authenticated() bool
	Login(ctx context.Context) error
	FetchConfiguration(ctx context.Context) (model.DeviceConfiguration, error)
	FetchBlinds(ctx context.Context) ([]model.BlindRecord, error)
}

// FetchBootData retries the backend every wait. Fetched data is written to
// cache. After attempts failures the cache is used if it holds a complete
// copy; otherwise the backend is retried until ctx is done.
func FetchBootData(ctx context.Context, src bootSource, cache *sql.DB, attempts int, wait time.Duration) (BootData, error) {
	for attempt := 1; ; attempt++ {
		data, err := fetch(ctx, src)
		if err == nil {
			if cache != nil {
				if err := db.SaveDeviceConfiguration(cache, data.Device); err != nil {
					log.Warn().Err(err).Msg("Failed to cache device configuration")
				}
				if err := db.SaveBlinds(cache, data.Blinds); err != nil {
					log.Warn().Err(err).Msg("Failed to cache blinds")
				}
			}
			log.Info().Int("blinds", len(data.Blinds)).Int("attempt", attempt).Msg("Fetched configuration from backend")
			return data, nil
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("Backend fetch failed")

		if attempt >= attempts && cache != nil {
			if data, cerr := loadCache(cache); cerr == nil {
				log.Warn().Int("blinds", len(data.Blinds)).Msg("Backend unreachable, starting from local cache")
				return data, nil
			} else if attempt == attempts {
				log.Warn().Err(cerr).Msg("Local cache unusable, retrying backend")
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return BootData{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func fetch(ctx context.Context, src bootSource) (BootData, error) {
	if !src.Authenticated() {
		if err := src.Login(ctx); err != nil {
			return BootData{}, err
		}
	}
	device, err := src.FetchConfiguration(ctx)
	if err != nil {
		return BootData{}, err
	}
	blinds, err := src.FetchBlinds(ctx)
	if err != nil {
		return BootData{}, err
	}
	return BootData{Device: device, Blinds: blinds}, nil
}

func loadCache(cache *sql.DB) (BootData, error) {
	device, err := db.GetDeviceConfiguration(cache)
	if err != nil {
		return BootData{}, err
	}
	blinds, err := db.GetBlinds(cache)
	if err != nil {
		return BootData{}, err
	}
	if len(blinds) == 0 {
		return BootData{}, fmt.Errorf("no cached blinds")
	}
	return BootData{Device: device, Blinds: blinds, FromCache: true}, nil
}
