package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/thatsimonsguy/blinds-controller/internal/model"
)

var (
	ErrAlreadyClaimed = errors.New("writer already claimed")
	ErrUnknownBlind   = errors.New("unknown blind")
)

// Seed is the boot-time description of one blind.
type Seed struct {
	ID           int
	Position     int
	RuntimeUp    int
	RuntimeDown  int
	DefaultSpeed int
}

// blind is one shared record. Each group of fields below has exactly one
// writer, enforced by which port holds the record.
type blind struct {
	mu sync.RWMutex
	id int

	// SensorPort
	limitUp   bool
	limitDown bool
	fault     bool

	// CommandPort
	target          int
	requestedSpeed  int
	calibrateWanted bool
	requestGen      uint64

	// MotionPort
	position     float64
	direction    model.Direction
	speed        int
	runtimeUp    int
	runtimeDown  int
	ackGen       uint64
	calibrating  bool
	defaultSpeed int
}

func (b *blind) snapshot() model.Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return model.Snapshot{
		ID:                   b.id,
		Position:             b.position,
		Target:               b.target,
		Direction:            b.direction,
		Speed:                b.speed,
		RequestedSpeed:       b.requestedSpeed,
		LimitUp:              b.limitUp,
		LimitDown:            b.limitDown,
		SensorFault:          b.fault,
		RuntimeUp:            b.runtimeUp,
		RuntimeDown:          b.runtimeDown,
		CalibrationRequested: b.calibrateWanted && b.requestGen > b.ackGen,
		CalibrationGen:       b.requestGen,
		Calibrating:          b.calibrating,
	}
}

// Table holds every blind record for the life of the process.
type Table struct {
	order  []int
	blinds map[int]*blind

	claimMu         sync.Mutex
	sensorsClaimed  bool
	commandsClaimed bool
	motionClaimed   map[int]bool
}

func NewTable(seeds []Seed) *Table {
	t := &Table{
		blinds:        make(map[int]*blind, len(seeds)),
		motionClaimed: make(map[int]bool, len(seeds)),
	}
	for _, s := range seeds {
		pos := clampInt(s.Position)
		t.blinds[s.ID] = &blind{
			id:           s.ID,
			target:       pos,
			position:     float64(pos),
			runtimeUp:    s.RuntimeUp,
			runtimeDown:  s.RuntimeDown,
			defaultSpeed: s.DefaultSpeed,
		}
		t.order = append(t.order, s.ID)
	}
	sort.Ints(t.order)
	return t
}

func (t *Table) IDs() []int {
	out := make([]int, len(t.order))
	copy(out, t.order)
	return out
}

func (t *Table) Snapshot(id int) (model.Snapshot, error) {
	b, ok := t.blinds[id]
	if !ok {
		return model.Snapshot{}, fmt.Errorf("blind %d: %w", id, ErrUnknownBlind)
	}
	return b.snapshot(), nil
}

func (t *Table) Snapshots() []model.Snapshot {
	out := make([]model.Snapshot, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.blinds[id].snapshot())
	}
	return out
}

func (t *Table) ClaimSensors() (*SensorPort, error) {
	t.claimMu.Lock()
	defer t.claimMu.Unlock()
	if t.sensorsClaimed {
		return nil, fmt.Errorf("sensors: %w", ErrAlreadyClaimed)
	}
	t.sensorsClaimed = true
	return &SensorPort{table: t}, nil
}

func (t *Table) ClaimCommands() (*CommandPort, error) {
	t.claimMu.Lock()
	defer t.claimMu.Unlock()
	if t.commandsClaimed {
		return nil, fmt.Errorf("commands: %w", ErrAlreadyClaimed)
	}
	t.commandsClaimed = true
	return &CommandPort{table: t}, nil
}

func (t *Table) ClaimMotion(id int) (*MotionPort, error) {
	b, ok := t.blinds[id]
	if !ok {
		return nil, fmt.Errorf("blind %d: %w", id, ErrUnknownBlind)
	}
	t.claimMu.Lock()
	defer t.claimMu.Unlock()
	if t.motionClaimed[id] {
		return nil, fmt.Errorf("motion for blind %d: %w", id, ErrAlreadyClaimed)
	}
	t.motionClaimed[id] = true
	return &MotionPort{b: b}, nil
}

// SensorPort is the only writer of limit switch readings.
type SensorPort struct {
	table *Table
}

// Store records one poll of a blind's limit switches. Both switches asserted
// at once is a fault: neither limit is exposed and fault is set instead.
func (p *SensorPort) Store(id int, up, down bool) error {
	b, ok := p.table.blinds[id]
	if !ok {
		return fmt.Errorf("blind %d: %w", id, ErrUnknownBlind)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if up && down {
		b.limitUp, b.limitDown, b.fault = false, false, true
		return nil
	}
	b.limitUp, b.limitDown, b.fault = up, down, false
	return nil
}

// CommandPort is the only writer of targets and calibration requests.
type CommandPort struct {
	table *Table
}

// Apply stores an already validated command in one step.
func (p *CommandPort) Apply(id, target, speed int, calibrate bool) error {
	b, ok := p.table.blinds[id]
	if !ok {
		return fmt.Errorf("blind %d: %w", id, ErrUnknownBlind)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = clampInt(target)
	b.requestedSpeed = speed
	b.calibrateWanted = calibrate
	if calibrate {
		b.requestGen++
	}
	return nil
}

// Retarget stores a new target and speed and leaves any calibration request
// exactly as it was.
func (p *CommandPort) Retarget(id, target, speed int) error {
	b, ok := p.table.blinds[id]
	if !ok {
		return fmt.Errorf("blind %d: %w", id, ErrUnknownBlind)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = clampInt(target)
	b.requestedSpeed = speed
	return nil
}

// MotionPort is held by the one controller that drives a blind.
type MotionPort struct {
	b *blind
}

func (p *MotionPort) ID() int {
	return p.b.id
}

func (p *MotionPort) Snapshot() model.Snapshot {
	return p.b.snapshot()
}

func (p *MotionPort) DefaultSpeed() int {
	p.b.mu.RLock()
	defer p.b.mu.RUnlock()
	return p.b.defaultSpeed
}

func (p *MotionPort) SetPosition(position float64) {
	p.b.mu.Lock()
	p.b.position = clamp(position)
	p.b.mu.Unlock()
}

func (p *MotionPort) Drive(dir model.Direction, speed int) {
	p.b.mu.Lock()
	p.b.direction = dir
	if dir == model.Idle {
		speed = 0
	}
	p.b.speed = speed
	p.b.mu.Unlock()
}

func (p *MotionPort) Stop() {
	p.Drive(model.Idle, 0)
}

func (p *MotionPort) SetCalibrating(on bool) {
	p.b.mu.Lock()
	p.b.calibrating = on
	p.b.mu.Unlock()
}

// SetCalibration replaces the travel constants measured by a calibration run.
func (p *MotionPort) SetCalibration(position float64, runtimeUp, runtimeDown int) {
	p.b.mu.Lock()
	p.b.position = clamp(position)
	p.b.runtimeUp = runtimeUp
	p.b.runtimeDown = runtimeDown
	p.b.mu.Unlock()
}

// Ack marks every calibration request up to gen as handled.
func (p *MotionPort) Ack(gen uint64) {
	p.b.mu.Lock()
	if gen > p.b.ackGen {
		p.b.ackGen = gen
	}
	p.b.mu.Unlock()
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func clampInt(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
