package intake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/blinds-controller/internal/model"
	"github.com/thatsimonsguy/blinds-controller/internal/state"
)

func newIntake(t *testing.T) (*Intake, *state.Table) {
	table := state.NewTable([]state.Seed{{ID: 3, Position: 25, RuntimeUp: 100, RuntimeDown: 100, DefaultSpeed: 100}})
	in, err := New(table, "ssh")
	require.NoError(t, err)
	return in, table
}

func snapshot(t *testing.T, table *state.Table) model.Snapshot {
	snap, err := table.Snapshot(3)
	require.NoError(t, err)
	return snap
}

func TestHandleMessage_Accepts(t *testing.T) {
	in, table := newIntake(t)

	err := in.HandleMessage("ssh/blinds/set/3", []byte(`{"calibrate":true,"set":60,"speed":80}`))
	require.NoError(t, err)

	snap := snapshot(t, table)
	assert.Equal(t, 60, snap.Target)
	assert.Equal(t, 80, snap.RequestedSpeed)
	assert.True(t, snap.CalibrationRequested)
	assert.Equal(t, 25.0, snap.Position)
}

func TestHandleMessage_RejectsWithoutMutation(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		want    error
	}{
		{"set too high", "ssh/blinds/set/3", `{"calibrate":true,"set":150,"speed":80}`, ErrSetOutOfRange},
		{"set negative", "ssh/blinds/set/3", `{"calibrate":true,"set":-1,"speed":80}`, ErrSetOutOfRange},
		{"speed too low", "ssh/blinds/set/3", `{"calibrate":true,"set":60,"speed":50}`, ErrSpeedOutOfRange},
		{"speed too high", "ssh/blinds/set/3", `{"calibrate":true,"set":60,"speed":101}`, ErrSpeedOutOfRange},
		{"missing speed", "ssh/blinds/set/3", `{"calibrate":true,"set":60}`, ErrMissingField},
		{"missing set", "ssh/blinds/set/3", `{"calibrate":true,"speed":80}`, ErrMissingField},
		{"not json", "ssh/blinds/set/3", `set=60`, ErrMalformed},
		{"unknown blind", "ssh/blinds/set/9", `{"set":60,"speed":80}`, ErrUnknownBlind},
		{"bad topic", "ssh/blinds/run/3", `{"set":60,"speed":80}`, ErrBadTopic},
		{"non numeric id", "ssh/blinds/set/kitchen", `{"set":60,"speed":80}`, ErrBadTopic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, table := newIntake(t)
			before := snapshot(t, table)

			err := in.HandleMessage(tt.topic, []byte(tt.payload))
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, before, snapshot(t, table))
		})
	}
}

func TestApply_BoundaryValues(t *testing.T) {
	in, table := newIntake(t)
	zero, hundred, seventy := 0, 100, 70

	require.NoError(t, in.Apply(3, Command{Set: &zero, Speed: &seventy}))
	assert.Equal(t, 0, snapshot(t, table).Target)

	require.NoError(t, in.Apply(3, Command{Set: &hundred, Speed: &hundred}))
	assert.Equal(t, 100, snapshot(t, table).Target)
}

func TestRetarget(t *testing.T) {
	in, table := newIntake(t)
	set, speed, tooSlow := 45, 90, 50

	require.NoError(t, in.HandleMessage("ssh/blinds/set/3", []byte(`{"calibrate":true,"set":60,"speed":80}`)))
	require.NoError(t, in.Retarget(3, &set, &speed))
	snap := snapshot(t, table)
	assert.Equal(t, 45, snap.Target)
	assert.True(t, snap.CalibrationRequested)

	before := snapshot(t, table)
	assert.ErrorIs(t, in.Retarget(3, &set, &tooSlow), ErrSpeedOutOfRange)
	assert.ErrorIs(t, in.Retarget(3, nil, &speed), ErrMissingField)
	assert.ErrorIs(t, in.Retarget(8, &set, &speed), ErrUnknownBlind)
	assert.Equal(t, before, snapshot(t, table))
}

func TestSetTopic(t *testing.T) {
	in, _ := newIntake(t)
	assert.Equal(t, "ssh/blinds/set/#", in.SetTopic())

	id, err := in.BlindFromTopic("ssh/blinds/set/12")
	require.NoError(t, err)
	assert.Equal(t, 12, id)
}

func TestNew_SingleWriter(t *testing.T) {
	_, table := newIntake(t)
	_, err := New(table, "ssh")
	assert.ErrorIs(t, err, state.ErrAlreadyClaimed)
}
