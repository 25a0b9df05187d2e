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
	"github.com/thatsimonsguy/blinds-controller/internal/state"
)

const Interval = 10 * time.Millisecond

type Patcher interface {
	PatchPosition(ctx context.Context, id, position int) error
	PatchCalibration(ctx context.Context, id, position, runtimeUp, runtimeDown int) error
}

type Retrier interface {
	Do(ctx context.Context, name string, op func(ctx context.Context) error, degraded func(err error)) error
}

type result struct {
	id       int
	position float64
	err      error
}

// Syncer persists each blind's position once it has settled on its target.
// Network calls run off the scheduler tick; at most one call per blind is
// outstanding and the watermark only advances on a confirmed write.
type Syncer struct {
	ctx    context.Context
	table  *state.Table
	client Patcher
	retry  Retrier
	cache  *sql.DB
	events func(model.Event)

	watermarks map[int]float64
	inFlight   map[int]bool
	results    chan result

	// run launches a persist call; tests replace it to run inline
	run func(func())
	wg  sync.WaitGroup
}

func New(ctx context.Context, table *state.Table, client Patcher, retry Retrier, cache *sql.DB, events func(model.Event)) *Syncer {
	if events == nil {
		events = func(model.Event) {}
	}
	s := &Syncer{
		ctx:        ctx,
		table:      table,
		client:     client,
		retry:      retry,
		cache:      cache,
		events:     events,
		watermarks: make(map[int]float64),
		inFlight:   make(map[int]bool),
		results:    make(chan result, len(table.IDs())),
		run:        func(f func()) { go f() },
	}
	for _, snap := range table.Snapshots() {
		s.watermarks[snap.ID] = snap.Position
	}
	return s
}

func (s *Syncer) Tick(time.Time) time.Duration {
	s.drain()
	for _, snap := range s.table.Snapshots() {
		if s.inFlight[snap.ID] {
			continue
		}
		if snap.Position == s.watermarks[snap.ID] || snap.Position != float64(snap.Target) {
			continue
		}
		s.dispatch(snap.ID, snap.Position)
	}
	return 0
}

func (s *Syncer) drain() {
	for {
		select {
		case r := <-s.results:
			s.inFlight[r.id] = false
			if r.err != nil {
				log.Warn().Err(r.err).Int("blind", r.id).Msg("Position sync abandoned")
				continue
			}
			s.watermarks[r.id] = r.position
		default:
			return
		}
	}
}

func (s *Syncer) dispatch(id int, position float64) {
	s.inFlight[id] = true
	pos := int(position)
	s.wg.Add(1)
	s.run(func() {
		defer s.wg.Done()
		if s.cache != nil {
			if err := db.UpdatePosition(s.cache, id, pos); err != nil {
				log.Warn().Err(err).Int("blind", id).Msg("Failed to cache position")
			}
		}
		err := s.retry.Do(s.ctx, fmt.Sprintf("patch-position-%d", id), func(ctx context.Context) error {
			return s.client.PatchPosition(ctx, id, pos)
		}, func(err error) {
			s.events(model.Event{
				Blind:     id,
				Kind:      model.EventSyncFailed,
				Detail:    err.Error(),
				Timestamp: time.Now().Unix(),
			})
		})
		if err == nil {
			log.Debug().Int("blind", id).Int("position", pos).Msg("Position synced")
		}
		s.results <- result{id: id, position: position, err: err}
	})
}

// Wait blocks until every dispatched position write has returned. Callers stop
// ticking and cancel the sync context first.
func (s *Syncer) Wait() {
	s.wg.Wait()
}
