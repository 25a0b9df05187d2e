package backend

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/blinds-controller/db"
	"github.com/thatsimonsguy/blinds-controller/internal/model"
)

type fakeSource struct {
	failures int
	calls    int
	authed   bool
}

func (f *fakeSource) Authenticated() bool { return f.authed }

func (f *fakeSource) Login(context.Context) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("connection refused")
	}
	f.authed = true
	return nil
}

func (f *fakeSource) FetchConfiguration(context.Context) (model.DeviceConfiguration, error) {
	return model.DeviceConfiguration{MQTTServer: "broker.local", MQTTPort: 1883}, nil
}

func (f *fakeSource) FetchBlinds(context.Context) ([]model.BlindRecord, error) {
	return []model.BlindRecord{{ID: 1, Position: 20, RuntimeUp: 900, RuntimeDown: 1100}}, nil
}

func memoryCache(t *testing.T) *sql.DB {
	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.ApplyMigrations(conn))
	return conn
}

func TestFetchBootData_RetriesThenCaches(t *testing.T) {
	cache := memoryCache(t)
	src := &fakeSource{failures: 2}

	data, err := FetchBootData(context.Background(), src, cache, 5, 0)
	require.NoError(t, err)
	assert.False(t, data.FromCache)
	assert.Equal(t, 3, src.calls)
	assert.Equal(t, "broker.local", data.Device.MQTTServer)

	blinds, err := db.GetBlinds(cache)
	require.NoError(t, err)
	require.Len(t, blinds, 1)
	assert.Equal(t, 1100, blinds[0].RuntimeDown)
}

func TestFetchBootData_FallsBackToCache(t *testing.T) {
	cache := memoryCache(t)
	require.NoError(t, db.SaveDeviceConfiguration(cache, model.DeviceConfiguration{MQTTServer: "cached", MQTTPort: 1883}))
	require.NoError(t, db.SaveBlinds(cache, []model.BlindRecord{{ID: 4, Position: 60, RuntimeUp: 500, RuntimeDown: 600}}))

	src := &fakeSource{failures: 100}
	data, err := FetchBootData(context.Background(), src, cache, 3, 0)
	require.NoError(t, err)
	assert.True(t, data.FromCache)
	assert.Equal(t, 3, src.calls)
	assert.Equal(t, "cached", data.Device.MQTTServer)
	assert.Equal(t, 60, data.Blinds[0].Position)
}

func TestFetchBootData_EmptyCacheKeepsTrying(t *testing.T) {
	cache := memoryCache(t)
	src := &fakeSource{failures: 6}

	data, err := FetchBootData(context.Background(), src, cache, 2, 0)
	require.NoError(t, err)
	assert.False(t, data.FromCache)
	assert.Equal(t, 7, src.calls)
}

func TestFetchBootData_Cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := FetchBootData(ctx, &fakeSource{failures: 1000}, nil, 1, time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
