package motion

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blinds-controller/internal/datadog"
	"github.com/thatsimonsguy/blinds-controller/internal/model"
)

var (
	ErrCalibrationTimeout = errors.New("limit switch not reached in time")
	ErrCalibrationFault   = errors.New("both limit switches asserted")
)

type phase int

const (
	phaseSeekUp phase = iota
	phaseMeasureDown
	phaseMeasureUp
	phasePersist
)

func (p phase) String() string {
	switch p {
	case phaseSeekUp:
		return "seek_up"
	case phaseMeasureDown:
		return "measure_down"
	case phaseMeasureUp:
		return "measure_up"
	default:
		return "persist"
	}
}

type calibration struct {
	gen       uint64
	phase     phase
	ticks     int
	stepsDown int
	stepsUp   int
	result    chan error
}

// calibrate advances the calibration run by one tick: drive to the top,
// count ticks down to the bottom, count ticks back to the top, then persist.
func (c *Controller) calibrate(now time.Time, snap model.Snapshot) time.Duration {
	if c.cal == nil {
		c.cal = &calibration{gen: snap.CalibrationGen}
		c.port.SetCalibrating(true)
		c.moving = false
		log.Info().Int("blind", snap.ID).Msg("Calibration started")
	}
	cal := c.cal

	if cal.phase == phasePersist {
		return c.awaitPersist(now, snap)
	}
	if snap.SensorFault {
		c.failCalibration(now, ErrCalibrationFault)
		return SettledInterval
	}

	if cal.phase == phaseSeekUp {
		if !snap.LimitUp {
			return c.calibrationStep(now, snap, model.MovingUp)
		}
		c.nextPhase(snap.ID, phaseMeasureDown)
	}

	if cal.phase == phaseMeasureDown {
		if !snap.LimitDown {
			return c.calibrationStep(now, snap, model.MovingDown)
		}
		cal.stepsDown = cal.ticks
		c.nextPhase(snap.ID, phaseMeasureUp)
	}

	if !snap.LimitUp {
		return c.calibrationStep(now, snap, model.MovingUp)
	}
	cal.stepsUp = cal.ticks

	c.port.Stop()
	c.port.SetCalibration(0, cal.stepsUp, cal.stepsDown)
	log.Info().
		Int("blind", snap.ID).
		Int("runtime_up", cal.stepsUp).
		Int("runtime_down", cal.stepsDown).
		Msg("Calibration measured, persisting")
	c.nextPhase(snap.ID, phasePersist)
	c.startPersist(snap.ID)
	return PersistPoll
}

func (c *Controller) calibrationStep(now time.Time, snap model.Snapshot, dir model.Direction) time.Duration {
	cal := c.cal
	if cal.ticks >= c.timeoutTicks {
		c.failCalibration(now, fmt.Errorf("%s: %w", cal.phase, ErrCalibrationTimeout))
		return SettledInterval
	}
	if snap.Direction != dir {
		c.port.Drive(dir, c.port.DefaultSpeed())
	}
	cal.ticks++
	return MovingInterval
}

func (c *Controller) nextPhase(id int, p phase) {
	log.Debug().Int("blind", id).Str("phase", p.String()).Int("ticks", c.cal.ticks).Msg("Calibration phase")
	c.cal.phase = p
	c.cal.ticks = 0
}

func (c *Controller) startPersist(id int) {
	cal := c.cal
	cal.result = make(chan error, 1)
	up, down := cal.stepsUp, cal.stepsDown
	go func() {
		cal.result <- c.persister.PersistCalibration(c.ctx, id, up, down)
	}()
}

func (c *Controller) awaitPersist(now time.Time, snap model.Snapshot) time.Duration {
	cal := c.cal
	select {
	case err := <-cal.result:
		if err != nil {
			log.Error().Err(err).Int("blind", snap.ID).Msg("Calibration persist failed")
			c.emit(now, model.EventCalibrationFailed, "persist: "+err.Error())
			if c.ctx.Err() == nil {
				c.startPersist(snap.ID)
			}
			return PersistPoll
		}
	default:
		return PersistPoll
	}

	c.port.Ack(cal.gen)
	c.port.SetCalibrating(false)
	c.cal = nil
	datadog.Count("calibration.completed", 1, "blind:"+strconv.Itoa(snap.ID))
	log.Info().
		Int("blind", snap.ID).
		Int("runtime_up", cal.stepsUp).
		Int("runtime_down", cal.stepsDown).
		Msg("Calibration completed")
	c.emit(now, model.EventCalibrationCompleted, fmt.Sprintf("runtime_up=%d runtime_down=%d", cal.stepsUp, cal.stepsDown))
	return SettledInterval
}

// failCalibration stops the blind and drops the request without touching
// the stored runtimes.
func (c *Controller) failCalibration(now time.Time, err error) {
	id := c.port.ID()
	c.port.Stop()
	c.port.Ack(c.cal.gen)
	c.port.SetCalibrating(false)
	c.cal = nil
	datadog.Count("calibration.failed", 1, "blind:"+strconv.Itoa(id))
	log.Error().Err(err).Int("blind", id).Msg("Calibration failed")
	c.emit(now, model.EventCalibrationFailed, err.Error())
}
