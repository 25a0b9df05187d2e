package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/physic"

	"github.com/thatsimonsguy/blinds-controller/internal/config"
	"github.com/thatsimonsguy/blinds-controller/internal/gpio"
	"github.com/thatsimonsguy/blinds-controller/internal/hardware"
	"github.com/thatsimonsguy/blinds-controller/internal/model"
	"github.com/thatsimonsguy/blinds-controller/internal/state"
)

// Channels are numbered in configuration order.
func mcpConfig(cfg *config.Config) hardware.MCPConfig {
	mc := hardware.MCPConfig{
		Bus:             cfg.I2CBus,
		Address:         cfg.MCPAddress,
		RelayActiveHigh: cfg.RelayActiveHigh,
		LimitActiveHigh: cfg.LimitActiveHigh,
		PWMFrequency:    physic.Frequency(cfg.PWMFrequencyHz) * physic.Hertz,
	}
	for _, b := range cfg.Blinds {
		mc.Channels = append(mc.Channels, hardware.ChannelPins{
			Up:         *b.UpPin,
			Down:       *b.DownPin,
			SensorUp:   *b.SensorUpPin,
			SensorDown: *b.SensorDownPin,
			SpeedGPIO:  *b.SpeedGPIO,
		})
	}
	return mc
}

func bindingsFor(cfg *config.Config) []hardware.Binding {
	bindings := make([]hardware.Binding, 0, len(cfg.Blinds))
	for i, b := range cfg.Blinds {
		bindings = append(bindings, hardware.Binding{Blind: b.ID, Channel: i})
	}
	return bindings
}

func startupPins(cfg *config.Config) []gpio.NamedPin {
	var pins []gpio.NamedPin
	for _, b := range cfg.Blinds {
		pins = append(pins, gpio.NamedPin{
			Name: fmt.Sprintf("blind %d speed", b.ID),
			Pin:  model.GPIOPin{Number: *b.SpeedGPIO, ActiveHigh: true},
		})
	}
	return pins
}

// seedsFor joins the wired blinds with their stored records. Wiring decides
// which blinds exist; a wired blind the backend does not know starts at 0,
// uncalibrated.
func seedsFor(cfg *config.Config, records []model.BlindRecord) []state.Seed {
	byID := make(map[int]model.BlindRecord, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	seeds := make([]state.Seed, 0, len(cfg.Blinds))
	for _, b := range cfg.Blinds {
		seed := state.Seed{ID: b.ID, DefaultSpeed: b.DefaultSpeed}
		if r, ok := byID[b.ID]; ok {
			seed.Position = r.Position
			seed.RuntimeUp = r.RuntimeUp
			seed.RuntimeDown = r.RuntimeDown
			delete(byID, b.ID)
		} else {
			log.Warn().Int("blind", b.ID).Msg("No stored record for wired blind, starting uncalibrated")
		}
		seeds = append(seeds, seed)
	}
	for id := range byID {
		log.Warn().Int("blind", id).Msg("Ignoring stored blind with no wiring")
	}
	return seeds
}
