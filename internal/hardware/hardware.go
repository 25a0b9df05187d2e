package hardware

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/thatsimonsguy/blinds-controller/internal/datadog"
	"github.com/thatsimonsguy/blinds-controller/internal/model"
	"github.com/thatsimonsguy/blinds-controller/internal/state"
)

// Bus is the actuation surface for every blind channel.
type Bus interface {
	ReadLimitSwitches(channel int) (up, down bool, err error)
	SetDirection(channel int, up, down bool) error
	SetSpeed(channel int, dutyPercent int) error
}

// Refresher is implemented by buses that latch all inputs in one transfer.
type Refresher interface {
	Refresh() error
}

// Flusher is implemented by buses that buffer output writes.
type Flusher interface {
	Flush() error
}

// Binding maps a blind to its channel on the bus.
type Binding struct {
	Blind   int
	Channel int
}

type reading struct {
	up, down bool
}

// IO is the only task that touches the bus once the controller is running.
type IO struct {
	bus      Bus
	sensors  *state.SensorPort
	table    *state.Table
	bindings []Binding

	lastSpeed map[int]int
	readings  []reading
	failing   bool
}

func NewIO(bus Bus, table *state.Table, bindings []Binding) (*IO, error) {
	sensors, err := table.ClaimSensors()
	if err != nil {
		return nil, fmt.Errorf("hardware io: %w", err)
	}
	for _, b := range bindings {
		if _, err := table.Snapshot(b.Blind); err != nil {
			return nil, fmt.Errorf("hardware io binding for channel %d: %w", b.Channel, err)
		}
	}
	return &IO{
		bus:       bus,
		sensors:   sensors,
		table:     table,
		bindings:  bindings,
		lastSpeed: make(map[int]int, len(bindings)),
		readings:  make([]reading, len(bindings)),
	}, nil
}

// Tick polls every limit switch into shared state and then writes direction
// and speed outputs from the current snapshots. A failed read skips the cycle.
func (io *IO) Tick(time.Time) time.Duration {
	if err := io.poll(); err != nil {
		datadog.Count("hardware.read_error", 1)
		if !io.failing {
			log.Warn().Err(err).Msg("Limit switch read failed, skipping cycle")
			io.failing = true
		}
		return 0
	}
	if io.failing {
		log.Info().Msg("Limit switch reads recovered")
		io.failing = false
	}

	for i, b := range io.bindings {
		if err := io.sensors.Store(b.Blind, io.readings[i].up, io.readings[i].down); err != nil {
			log.Error().Err(err).Int("blind", b.Blind).Msg("Failed to store limit switches")
		}
	}

	for _, b := range io.bindings {
		snap, err := io.table.Snapshot(b.Blind)
		if err != nil {
			continue
		}
		up, down := Outputs(snap)
		if err := io.bus.SetDirection(b.Channel, up, down); err != nil {
			datadog.Count("hardware.write_error", 1)
			log.Error().Err(err).Int("blind", b.Blind).Msg("Failed to set direction outputs")
			continue
		}

		speed := 0
		if up || down {
			speed = snap.Speed
		}
		last, seen := io.lastSpeed[b.Channel]
		if seen && last == speed {
			continue
		}
		if err := io.bus.SetSpeed(b.Channel, speed); err != nil {
			datadog.Count("hardware.write_error", 1)
			log.Error().Err(err).Int("blind", b.Blind).Int("speed", speed).Msg("Failed to set speed output")
			continue
		}
		io.lastSpeed[b.Channel] = speed
	}

	if f, ok := io.bus.(Flusher); ok {
		if err := f.Flush(); err != nil {
			datadog.Count("hardware.write_error", 1)
			log.Error().Err(err).Msg("Failed to flush outputs")
		}
	}
	return 0
}

func (io *IO) poll() error {
	if r, ok := io.bus.(Refresher); ok {
		if err := r.Refresh(); err != nil {
			return err
		}
	}
	for i, b := range io.bindings {
		up, down, err := io.bus.ReadLimitSwitches(b.Channel)
		if err != nil {
			return fmt.Errorf("channel %d: %w", b.Channel, err)
		}
		io.readings[i] = reading{up: up, down: down}
	}
	return nil
}

// Outputs derives the relay outputs for a blind. A direction is never driven
// into its own asserted limit or while the switches report a fault.
func Outputs(snap model.Snapshot) (up, down bool) {
	if snap.SensorFault {
		return false, false
	}
	switch snap.Direction {
	case model.MovingUp:
		return !snap.LimitUp, false
	case model.MovingDown:
		return false, !snap.LimitDown
	}
	return false, false
}

// StopAll de-energises every channel and reports every failure.
func StopAll(bus Bus, bindings []Binding) error {
	var err error
	for _, b := range bindings {
		err = multierr.Append(err, bus.SetDirection(b.Channel, false, false))
		err = multierr.Append(err, bus.SetSpeed(b.Channel, 0))
	}
	if f, ok := bus.(Flusher); ok {
		err = multierr.Append(err, f.Flush())
	}
	return err
}

// NullBus accepts every write and reports no limit switch. Used in safe mode.
type NullBus struct{}

func (NullBus) ReadLimitSwitches(int) (bool, bool, error) { return false, false, nil }
func (NullBus) SetDirection(int, bool, bool) error        { return nil }
func (NullBus) SetSpeed(int, int) error                   { return nil }
