package hardware

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

type fakeConn struct {
	writes [][]byte
	ports  [2]byte
	err    error
}

func (f *fakeConn) String() string { return "fake-mcp" }
func (f *fakeConn) Duplex() conn.Duplex { return conn.Half }
func (f *fakeConn) Tx(w, r []byte) error {
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, append([]byte(nil), w...))
	if len(r) == 2 {
		r[0], r[1] = f.ports[0], f.ports[1]
	}
	return nil
}

func (f *fakeConn) last() []byte {
	return f.writes[len(f.writes)-1]
}

type fakePin struct {
	level gpio.Level
	duty  gpio.Duty
	freq  physic.Frequency
}

func (p *fakePin) Out(l gpio.Level) error {
	p.level = l
	p.duty = 0
	return nil
}

func (p *fakePin) PWM(d gpio.Duty, f physic.Frequency) error {
	p.duty = d
	p.freq = f
	return nil
}

func testMCPConfig() MCPConfig {
	return MCPConfig{
		RelayActiveHigh: false,
		LimitActiveHigh: false,
		PWMFrequency:    1000 * physic.Hertz,
		Channels: []ChannelPins{
			{Up: 8, Down: 9, SensorUp: 0, SensorDown: 1, SpeedGPIO: 26},
		},
	}
}

func TestNewMCPBus_ConfiguresExpander(t *testing.T) {
	dev := &fakeConn{}
	pin := &fakePin{level: gpio.High}

	_, err := newMCPBus(dev, testMCPConfig(), []pwmPin{pin})
	require.NoError(t, err)

	require.Len(t, dev.writes, 3)
	// active-low relays latch high (off) before becoming outputs
	assert.Equal(t, []byte{regOLATA, 0x00, 0x03}, dev.writes[0])
	assert.Equal(t, []byte{regIODIRA, 0xFF, 0xFC}, dev.writes[1])
	assert.Equal(t, []byte{regGPPUA, 0xFF, 0xFC}, dev.writes[2])
	assert.Equal(t, gpio.Low, pin.level)
}

func TestMCPBus_ReadLimitSwitchesActiveLow(t *testing.T) {
	dev := &fakeConn{}
	m, err := newMCPBus(dev, testMCPConfig(), []pwmPin{&fakePin{}})
	require.NoError(t, err)

	dev.ports = [2]byte{0xFE, 0xFF} // A0 pulled low
	require.NoError(t, m.Refresh())

	up, down, err := m.ReadLimitSwitches(0)
	require.NoError(t, err)
	assert.True(t, up)
	assert.False(t, down)

	_, _, err = m.ReadLimitSwitches(3)
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestMCPBus_DirectionFlushedOnce(t *testing.T) {
	dev := &fakeConn{}
	m, err := newMCPBus(dev, testMCPConfig(), []pwmPin{&fakePin{}})
	require.NoError(t, err)
	writes := len(dev.writes)

	require.NoError(t, m.SetDirection(0, false, true))
	require.NoError(t, m.Flush())
	assert.Equal(t, []byte{regOLATA, 0x00, 0x01}, dev.last())

	require.NoError(t, m.SetDirection(0, false, true))
	require.NoError(t, m.Flush())
	assert.Len(t, dev.writes, writes+1)

	assert.Error(t, m.SetDirection(0, true, true))
}

func TestMCPBus_SetSpeed(t *testing.T) {
	pin := &fakePin{}
	m, err := newMCPBus(&fakeConn{}, testMCPConfig(), []pwmPin{pin})
	require.NoError(t, err)

	require.NoError(t, m.SetSpeed(0, 50))
	assert.Equal(t, gpio.DutyMax/2, pin.duty)
	assert.Equal(t, 1000*physic.Hertz, pin.freq)

	require.NoError(t, m.SetSpeed(0, 0))
	assert.Equal(t, gpio.Low, pin.level)
}

func TestMCPBus_RefreshError(t *testing.T) {
	dev := &fakeConn{}
	m, err := newMCPBus(dev, testMCPConfig(), []pwmPin{&fakePin{}})
	require.NoError(t, err)

	dev.err = errors.New("nack")
	assert.Error(t, m.Refresh())
}
