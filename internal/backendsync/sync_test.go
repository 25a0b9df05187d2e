package backendsync

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/blinds-controller/db"
	"github.com/thatsimonsguy/blinds-controller/internal/model"
	"github.com/thatsimonsguy/blinds-controller/internal/state"
)

type fakePatcher struct {
	mu           sync.Mutex
	positions    [][2]int
	calibrations [][4]int
	err          error
}

func (f *fakePatcher) PatchPosition(_ context.Context, id, position int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions = append(f.positions, [2]int{id, position})
	return f.err
}

func (f *fakePatcher) PatchCalibration(_ context.Context, id, position, up, down int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calibrations = append(f.calibrations, [4]int{id, position, up, down})
	return f.err
}

// onceRetrier makes a single attempt and reports a failure as degraded.
type onceRetrier struct{}

func (onceRetrier) Do(ctx context.Context, _ string, op func(context.Context) error, degraded func(error)) error {
	err := op(ctx)
	if err != nil && degraded != nil {
		degraded(err)
	}
	return err
}

// gatedRetrier signals entry and holds every call until gate is closed.
type gatedRetrier struct {
	started chan struct{}
	gate    chan struct{}
}

func newGatedRetrier() gatedRetrier {
	return gatedRetrier{started: make(chan struct{}, 8), gate: make(chan struct{})}
}

func (g gatedRetrier) Do(ctx context.Context, _ string, op func(context.Context) error, _ func(error)) error {
	g.started <- struct{}{}
	<-g.gate
	return op(ctx)
}

func returned(wait func()) chan struct{} {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	return done
}

type fixture struct {
	table   *state.Table
	motion  *state.MotionPort
	cmds    *state.CommandPort
	patcher *fakePatcher
	syncer  *Syncer
	events  []model.Event
	pending []func()
}

func newFixture(t *testing.T, cache *sql.DB) *fixture {
	table := state.NewTable([]state.Seed{{ID: 7, Position: 10, RuntimeUp: 100, RuntimeDown: 100, DefaultSpeed: 100}})
	motion, err := table.ClaimMotion(7)
	require.NoError(t, err)
	cmds, err := table.ClaimCommands()
	require.NoError(t, err)

	f := &fixture{table: table, motion: motion, cmds: cmds, patcher: &fakePatcher{}}
	f.syncer = New(context.Background(), table, f.patcher, onceRetrier{}, cache, func(ev model.Event) {
		f.events = append(f.events, ev)
	})
	f.syncer.run = func(fn func()) { fn() }
	return f
}

func TestTick_NoSyncWhileMoving(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.cmds.Apply(7, 30, 100, false))

	for _, p := range []float64{11, 12.5, 20, 29} {
		f.motion.SetPosition(p)
		f.syncer.Tick(time.Now())
	}
	assert.Empty(t, f.patcher.positions)
}

func TestTick_SyncsOnceWhenSettled(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.cmds.Apply(7, 30, 100, false))
	f.motion.SetPosition(30)

	for i := 0; i < 5; i++ {
		f.syncer.Tick(time.Now())
	}
	assert.Equal(t, [][2]int{{7, 30}}, f.patcher.positions)
}

func TestTick_NothingAtBoot(t *testing.T) {
	f := newFixture(t, nil)
	f.syncer.Tick(time.Now())
	assert.Empty(t, f.patcher.positions)
}

func TestTick_FailureKeepsWatermark(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.cmds.Apply(7, 50, 100, false))
	f.motion.SetPosition(50)
	f.patcher.err = errors.New("503")

	f.syncer.Tick(time.Now())
	f.syncer.Tick(time.Now())
	require.Len(t, f.patcher.positions, 2)
	require.Len(t, f.events, 2)
	assert.Equal(t, model.EventSyncFailed, f.events[0].Kind)
	assert.Equal(t, 7, f.events[0].Blind)

	f.patcher.err = nil
	f.syncer.Tick(time.Now())
	f.syncer.Tick(time.Now())
	f.syncer.Tick(time.Now())
	assert.Len(t, f.patcher.positions, 3)
}

func TestTick_OneCallInFlightPerBlind(t *testing.T) {
	f := newFixture(t, nil)
	f.syncer.run = func(fn func()) { f.pending = append(f.pending, fn) }
	require.NoError(t, f.cmds.Apply(7, 60, 100, false))
	f.motion.SetPosition(60)

	f.syncer.Tick(time.Now())
	f.syncer.Tick(time.Now())
	require.Len(t, f.pending, 1)

	f.pending[0]()
	f.syncer.Tick(time.Now())
	assert.Len(t, f.pending, 1)
	assert.Equal(t, [][2]int{{7, 60}}, f.patcher.positions)
}

func TestTick_WritesThroughToCache(t *testing.T) {
	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	defer conn.Close()
	require.NoError(t, db.ApplyMigrations(conn))
	require.NoError(t, db.SaveBlinds(conn, []model.BlindRecord{{ID: 7, Position: 10}}))

	f := newFixture(t, conn)
	require.NoError(t, f.cmds.Apply(7, 80, 100, false))
	f.motion.SetPosition(80)
	f.syncer.Tick(time.Now())

	b, err := db.GetBlindByID(conn, 7)
	require.NoError(t, err)
	assert.Equal(t, 80, b.Position)
}

func TestCalibrationStore_Persist(t *testing.T) {
	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	defer conn.Close()
	require.NoError(t, db.ApplyMigrations(conn))
	require.NoError(t, db.SaveBlinds(conn, []model.BlindRecord{{ID: 7, Position: 55}}))

	patcher := &fakePatcher{}
	var events []model.Event
	store := NewCalibrationStore(patcher, onceRetrier{}, conn, func(ev model.Event) { events = append(events, ev) })

	require.NoError(t, store.PersistCalibration(context.Background(), 7, 500, 1000))
	assert.Equal(t, [][4]int{{7, 0, 500, 1000}}, patcher.calibrations)

	b, err := db.GetBlindByID(conn, 7)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Position)
	assert.Equal(t, 500, b.RuntimeUp)
	assert.Equal(t, 1000, b.RuntimeDown)

	patcher.err = errors.New("rejected")
	assert.Error(t, store.PersistCalibration(context.Background(), 7, 500, 1000))
	require.Len(t, events, 1)
	assert.Equal(t, model.EventCalibrationFailed, events[0].Kind)
}

func TestWait_BlocksUntilDispatchReturns(t *testing.T) {
	table := state.NewTable([]state.Seed{{ID: 7, Position: 10, RuntimeUp: 100, RuntimeDown: 100, DefaultSpeed: 100}})
	motion, err := table.ClaimMotion(7)
	require.NoError(t, err)
	cmds, err := table.ClaimCommands()
	require.NoError(t, err)

	patcher := &fakePatcher{}
	retry := newGatedRetrier()
	syncer := New(context.Background(), table, patcher, retry, nil, nil)

	require.NoError(t, cmds.Apply(7, 30, 100, false))
	motion.SetPosition(30)
	syncer.Tick(time.Now())
	<-retry.started

	done := returned(syncer.Wait)
	select {
	case <-done:
		t.Fatal("Wait returned while a write was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(retry.gate)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return")
	}
	patcher.mu.Lock()
	defer patcher.mu.Unlock()
	assert.Equal(t, [][2]int{{7, 30}}, patcher.positions)
}

func TestCalibrationStore_WaitForInFlight(t *testing.T) {
	patcher := &fakePatcher{}
	retry := newGatedRetrier()
	store := NewCalibrationStore(patcher, retry, nil, nil)

	go store.PersistCalibration(context.Background(), 7, 500, 1000)
	<-retry.started

	done := returned(store.Wait)
	select {
	case <-done:
		t.Fatal("Wait returned while a write was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(retry.gate)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return")
	}
	patcher.mu.Lock()
	defer patcher.mu.Unlock()
	assert.Equal(t, [][4]int{{7, 0, 500, 1000}}, patcher.calibrations)
}
