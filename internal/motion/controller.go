package motion

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blinds-controller/internal/datadog"
	"github.com/thatsimonsguy/blinds-controller/internal/model"
	"github.com/thatsimonsguy/blinds-controller/internal/state"
)

const (
	DeadBand        = 0.005
	MovingInterval  = time.Millisecond
	SettledInterval = 100 * time.Millisecond
	PersistPoll     = 10 * time.Millisecond
)

// Persister stores measured travel constants. It returns only once the
// backend has confirmed them or ctx is done.
type Persister interface {
	PersistCalibration(ctx context.Context, id, runtimeUp, runtimeDown int) error
}

type Options struct {
	Persister          Persister
	Events             func(model.Event)
	CalibrationTimeout time.Duration
	Context            context.Context
}

// Controller moves one blind towards its target and runs its calibration.
type Controller struct {
	port      *state.MotionPort
	persister Persister
	events    func(model.Event)
	ctx       context.Context

	timeoutTicks int
	cal          *calibration

	moving             bool
	faulted            bool
	warnedUncalibrated bool
}

func New(port *state.MotionPort, opts Options) *Controller {
	c := &Controller{
		port:      port,
		persister: opts.Persister,
		events:    opts.Events,
		ctx:       opts.Context,
	}
	if c.events == nil {
		c.events = func(model.Event) {}
	}
	if c.ctx == nil {
		c.ctx = context.Background()
	}
	timeout := opts.CalibrationTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	c.timeoutTicks = int(timeout / MovingInterval)
	return c
}

func (c *Controller) ID() int {
	return c.port.ID()
}

// Tick runs one control step and returns the delay until the next one.
func (c *Controller) Tick(now time.Time) time.Duration {
	snap := c.port.Snapshot()
	if c.cal != nil || snap.CalibrationRequested {
		return c.calibrate(now, snap)
	}
	return c.track(now, snap)
}

func (c *Controller) track(now time.Time, snap model.Snapshot) time.Duration {
	if snap.SensorFault {
		if !c.faulted {
			c.faulted = true
			log.Error().Int("blind", snap.ID).Msg("Both limit switches asserted, holding blind")
			c.emit(now, model.EventSensorFault, "both limit switches asserted")
		}
		c.settle(snap)
		return SettledInterval
	}
	if c.faulted {
		log.Info().Int("blind", snap.ID).Msg("Limit switch fault cleared")
		c.faulted = false
	}

	target := float64(snap.Target)
	diff := target - snap.Position
	if math.Abs(diff) <= DeadBand {
		if snap.Position != target {
			c.port.SetPosition(target)
		}
		c.settle(snap)
		return SettledInterval
	}

	dir := model.MovingDown
	runtime := snap.RuntimeDown
	if diff < 0 {
		dir = model.MovingUp
		runtime = snap.RuntimeUp
	}

	if dir == model.MovingUp && snap.LimitUp {
		c.port.SetPosition(0)
		c.settle(snap)
		return SettledInterval
	}
	if dir == model.MovingDown && snap.LimitDown {
		c.port.SetPosition(100)
		c.settle(snap)
		return SettledInterval
	}

	if runtime <= 0 {
		if !c.warnedUncalibrated {
			log.Warn().Int("blind", snap.ID).Int("target", snap.Target).Msg("Blind is not calibrated, ignoring target")
			c.warnedUncalibrated = true
		}
		c.settle(snap)
		return SettledInterval
	}
	c.warnedUncalibrated = false

	if !c.moving {
		log.Debug().
			Int("blind", snap.ID).
			Float64("position", snap.Position).
			Int("target", snap.Target).
			Str("direction", dir.String()).
			Msg("Blind moving")
		c.moving = true
	}

	step := 100.0 / float64(runtime)
	next := target
	if math.Abs(diff) > step {
		next = snap.Position + math.Copysign(step, diff)
	}

	if snap.Direction != dir || snap.Speed != c.port.DefaultSpeed() {
		c.port.Drive(dir, c.port.DefaultSpeed())
	}
	c.port.SetPosition(next)
	return MovingInterval
}

func (c *Controller) settle(snap model.Snapshot) {
	if snap.Direction != model.Idle {
		c.port.Stop()
	}
	if c.moving {
		c.moving = false
		after := c.port.Snapshot()
		log.Debug().Int("blind", snap.ID).Float64("position", after.Position).Msg("Blind settled")
		tag := "blind:" + strconv.Itoa(snap.ID)
		datadog.Gauge("blind.position", after.Position, tag)
		datadog.Gauge("blind.target", float64(after.Target), tag)
	}
}

func (c *Controller) emit(now time.Time, kind model.EventKind, detail string) {
	c.events(model.Event{
		Blind:     c.port.ID(),
		Kind:      kind,
		Detail:    detail,
		Timestamp: now.Unix(),
	})
}
