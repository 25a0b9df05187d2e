package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/thatsimonsguy/blinds-controller/internal/config"
	"github.com/thatsimonsguy/blinds-controller/internal/hardware"
	"github.com/thatsimonsguy/blinds-controller/internal/model"
	"github.com/thatsimonsguy/blinds-controller/internal/state"
)

func intPtr(v int) *int { return &v }

func testConfig() *config.Config {
	return &config.Config{
		I2CBus:         "1",
		MCPAddress:     0x20,
		PWMFrequencyHz: 1000,
		Blinds: []config.Blind{
			{ID: 5, UpPin: intPtr(0), DownPin: intPtr(1), SensorUpPin: intPtr(8), SensorDownPin: intPtr(9), SpeedGPIO: intPtr(12), DefaultSpeed: 100},
			{ID: 2, UpPin: intPtr(2), DownPin: intPtr(3), SensorUpPin: intPtr(10), SensorDownPin: intPtr(11), SpeedGPIO: intPtr(13), DefaultSpeed: 80},
		},
	}
}

func TestMCPConfig(t *testing.T) {
	mc := mcpConfig(testConfig())

	assert.Equal(t, physic.KiloHertz, mc.PWMFrequency)
	require.Len(t, mc.Channels, 2)
	assert.Equal(t, hardware.ChannelPins{Up: 2, Down: 3, SensorUp: 10, SensorDown: 11, SpeedGPIO: 13}, mc.Channels[1])
}

func TestBindingsFollowConfigOrder(t *testing.T) {
	assert.Equal(t, []hardware.Binding{{Blind: 5, Channel: 0}, {Blind: 2, Channel: 1}}, bindingsFor(testConfig()))
}

func TestStartupPins(t *testing.T) {
	pins := startupPins(testConfig())
	require.Len(t, pins, 2)
	assert.Equal(t, "blind 5 speed", pins[0].Name)
	assert.Equal(t, model.GPIOPin{Number: 12, ActiveHigh: true}, pins[0].Pin)
}

func TestSeedsFor(t *testing.T) {
	seeds := seedsFor(testConfig(), []model.BlindRecord{
		{ID: 5, Position: 30, RuntimeUp: 900, RuntimeDown: 1000},
		{ID: 99, Position: 10},
	})

	assert.Equal(t, []state.Seed{
		{ID: 5, Position: 30, RuntimeUp: 900, RuntimeDown: 1000, DefaultSpeed: 100},
		{ID: 2, DefaultSpeed: 80},
	}, seeds)
}
