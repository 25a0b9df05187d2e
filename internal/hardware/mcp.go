package hardware

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// MCP23017 registers, BANK=0 addressing.
const (
	regIODIRA = 0x00
	regGPPUA  = 0x0C
	regGPIOA  = 0x12
	regOLATA  = 0x14
)

var ErrUnknownChannel = errors.New("unknown channel")

// ChannelPins are the MCP23017 pins (0-15, A0..B7) and host speed GPIO of one blind.
type ChannelPins struct {
	Up         int
	Down       int
	SensorUp   int
	SensorDown int
	SpeedGPIO  int
}

type MCPConfig struct {
	Bus             string
	Address         uint16
	RelayActiveHigh bool
	LimitActiveHigh bool
	PWMFrequency    physic.Frequency
	Channels        []ChannelPins
}

type pwmPin interface {
	Out(l gpio.Level) error
	PWM(duty gpio.Duty, f physic.Frequency) error
}

// MCPBus drives the direction relays and reads the limit switches through an
// MCP23017 expander, and drives speed through host PWM pins.
type MCPBus struct {
	mu     sync.Mutex
	dev    conn.Conn
	closer i2c.BusCloser
	cfg    MCPConfig
	speed  []pwmPin

	inputs  uint16
	outputs uint16
	dirty   bool
}

var initHost = func() error {
	_, err := host.Init()
	return err
}

var openI2C = func(name string) (i2c.BusCloser, error) {
	return i2creg.Open(name)
}

var lookupPin = func(gpioNumber int) pwmPin {
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", gpioNumber))
	if p == nil {
		return nil
	}
	return p
}

// OpenMCP initialises the host drivers, opens the I2C bus and configures the expander.
func OpenMCP(cfg MCPConfig) (*MCPBus, error) {
	if err := initHost(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	bus, err := openI2C(cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("failed to open i2c bus %q: %w", cfg.Bus, err)
	}

	speed := make([]pwmPin, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		p := lookupPin(ch.SpeedGPIO)
		if p == nil {
			bus.Close()
			return nil, fmt.Errorf("speed pin GPIO%d not found", ch.SpeedGPIO)
		}
		speed[i] = p
	}

	m, err := newMCPBus(&i2c.Dev{Bus: bus, Addr: cfg.Address}, cfg, speed)
	if err != nil {
		bus.Close()
		return nil, err
	}
	m.closer = bus

	log.Info().
		Str("bus", cfg.Bus).
		Uint16("address", cfg.Address).
		Int("channels", len(cfg.Channels)).
		Msg("MCP23017 initialized")
	return m, nil
}

func newMCPBus(dev conn.Conn, cfg MCPConfig, speed []pwmPin) (*MCPBus, error) {
	m := &MCPBus{dev: dev, cfg: cfg, speed: speed}

	var inputMask uint16 = 0xFFFF
	for _, ch := range cfg.Channels {
		inputMask &^= 1<<uint(ch.Up) | 1<<uint(ch.Down)
		m.setRelay(ch.Up, false)
		m.setRelay(ch.Down, false)
	}

	// latch inactive outputs before switching the pins to output mode
	if err := m.writePair(regOLATA, m.outputs); err != nil {
		return nil, fmt.Errorf("failed to write output latch: %w", err)
	}
	m.dirty = false
	if err := m.writePair(regIODIRA, inputMask); err != nil {
		return nil, fmt.Errorf("failed to configure pin directions: %w", err)
	}
	if !cfg.LimitActiveHigh {
		if err := m.writePair(regGPPUA, inputMask); err != nil {
			return nil, fmt.Errorf("failed to enable pull-ups: %w", err)
		}
	}
	for i, p := range speed {
		if err := p.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("failed to zero speed pin for channel %d: %w", i, err)
		}
	}
	return m, nil
}

func (m *MCPBus) writePair(reg byte, v uint16) error {
	return m.dev.Tx([]byte{reg, byte(v), byte(v >> 8)}, nil)
}

func (m *MCPBus) setRelay(pin int, on bool) {
	level := on == m.cfg.RelayActiveHigh
	bit := uint16(1) << uint(pin)
	before := m.outputs
	if level {
		m.outputs |= bit
	} else {
		m.outputs &^= bit
	}
	if m.outputs != before {
		m.dirty = true
	}
}

func (m *MCPBus) channel(ch int) (ChannelPins, error) {
	if ch < 0 || ch >= len(m.cfg.Channels) {
		return ChannelPins{}, fmt.Errorf("channel %d: %w", ch, ErrUnknownChannel)
	}
	return m.cfg.Channels[ch], nil
}

// Refresh reads both input ports in one transfer.
func (m *MCPBus) Refresh() error {
	buf := make([]byte, 2)
	if err := m.dev.Tx([]byte{regGPIOA}, buf); err != nil {
		return fmt.Errorf("failed to read mcp inputs: %w", err)
	}
	m.mu.Lock()
	m.inputs = uint16(buf[0]) | uint16(buf[1])<<8
	m.mu.Unlock()
	return nil
}

func (m *MCPBus) ReadLimitSwitches(ch int) (bool, bool, error) {
	pins, err := m.channel(ch)
	if err != nil {
		return false, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.asserted(pins.SensorUp), m.asserted(pins.SensorDown), nil
}

func (m *MCPBus) asserted(pin int) bool {
	high := m.inputs&(1<<uint(pin)) != 0
	return high == m.cfg.LimitActiveHigh
}

func (m *MCPBus) SetDirection(ch int, up, down bool) error {
	pins, err := m.channel(ch)
	if err != nil {
		return err
	}
	if up && down {
		return fmt.Errorf("channel %d: refusing to drive both directions", ch)
	}
	m.mu.Lock()
	m.setRelay(pins.Up, up)
	m.setRelay(pins.Down, down)
	m.mu.Unlock()
	return nil
}

func (m *MCPBus) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirty {
		return nil
	}
	if err := m.writePair(regOLATA, m.outputs); err != nil {
		return fmt.Errorf("failed to write mcp outputs: %w", err)
	}
	m.dirty = false
	return nil
}

func (m *MCPBus) SetSpeed(ch int, dutyPercent int) error {
	if _, err := m.channel(ch); err != nil {
		return err
	}
	p := m.speed[ch]
	if dutyPercent <= 0 {
		return p.Out(gpio.Low)
	}
	if dutyPercent > 100 {
		dutyPercent = 100
	}
	duty := gpio.Duty(int64(gpio.DutyMax) * int64(dutyPercent) / 100)
	return p.PWM(duty, m.cfg.PWMFrequency)
}

func (m *MCPBus) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer.Close()
}
