package backendsync

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blinds-controller/db"
	"github.com/thatsimonsguy/blinds-controller/internal/model"
)

// CalibrationStore writes measured runtimes to the local cache and then to
// the backend, retrying until the backend accepts them.
type CalibrationStore struct {
	client Patcher
	retry  Retrier
	cache  *sql.DB
	events func(model.Event)

	wg sync.WaitGroup
}

func NewCalibrationStore(client Patcher, retry Retrier, cache *sql.DB, events func(model.Event)) *CalibrationStore {
	if events == nil {
		events = func(model.Event) {}
	}
	return &CalibrationStore{client: client, retry: retry, cache: cache, events: events}
}

func (c *CalibrationStore) PersistCalibration(ctx context.Context, id, runtimeUp, runtimeDown int) error {
	c.wg.Add(1)
	defer c.wg.Done()

	if c.cache != nil {
		if err := db.UpdateCalibration(c.cache, id, runtimeUp, runtimeDown); err != nil {
			log.Warn().Err(err).Int("blind", id).Msg("Failed to cache calibration")
		}
	}
	return c.retry.Do(ctx, fmt.Sprintf("patch-calibration-%d", id), func(ctx context.Context) error {
		return c.client.PatchCalibration(ctx, id, 0, runtimeUp, runtimeDown)
	}, func(err error) {
		c.events(model.Event{
			Blind:     id,
			Kind:      model.EventCalibrationFailed,
			Detail:    "persist: " + err.Error(),
			Timestamp: time.Now().Unix(),
		})
	})
}

// Wait blocks until in-flight PersistCalibration calls have returned.
func (c *CalibrationStore) Wait() {
	c.wg.Wait()
}
