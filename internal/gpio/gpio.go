package gpio

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/thatsimonsguy/blinds-controller/internal/model"
	"github.com/thatsimonsguy/blinds-controller/internal/pinctrl"
)

var safeMode bool

// swapped in tests
var (
	readPin   = pinctrl.ReadPin
	readLevel = pinctrl.ReadLevel
	setPin    = pinctrl.SetPin
)

func SetSafeMode(enabled bool) {
	safeMode = enabled
}

// NamedPin is a pin checked at startup.
type NamedPin struct {
	Name string
	Pin  model.GPIOPin
}

// ValidateStartupPins confirms every pin is an inactive output before the
// controller takes ownership of it. The boot script is expected to have driven
// them there; a pin still in input mode means it never ran.
func ValidateStartupPins(pins []NamedPin) error {
	var errs error
	for _, p := range pins {
		state, err := readPin(p.Pin.Number)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to read pin state for %s (GPIO %d): %w", p.Name, p.Pin.Number, err))
			continue
		}
		if state.Mode != "op" {
			errs = multierr.Append(errs, fmt.Errorf("pin %d (%s) is not configured as an output (mode %s), boot script not applied", p.Pin.Number, p.Name, state.Mode))
			continue
		}
		level, err := readLevel(p.Pin.Number)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to read pin level for %s (GPIO %d): %w", p.Name, p.Pin.Number, err))
			continue
		}
		if level == p.Pin.ActiveHigh {
			errs = multierr.Append(errs, fmt.Errorf("pin %d (%s) is active at startup", p.Pin.Number, p.Name))
		}
	}
	return errs
}

var Activate = func(pin model.GPIOPin) {
	drive(pin, true)
}

var Deactivate = func(pin model.GPIOPin) {
	drive(pin, false)
}

func drive(pin model.GPIOPin, active bool) {
	if safeMode {
		return
	}
	level := "dl"
	if pin.ActiveHigh == active {
		level = "dh"
	}
	if err := setPin(pin.Number, "op", "pn", level); err != nil {
		log.Error().Err(err).Int("pin", pin.Number).Bool("active", active).Msg("Failed to drive pin")
	}
}

// StatusLED mirrors broker connectivity. A nil *StatusLED is a no-op.
type StatusLED struct {
	pin model.GPIOPin
}

func NewStatusLED(gpio *int) *StatusLED {
	if gpio == nil {
		return nil
	}
	return &StatusLED{pin: model.GPIOPin{Number: *gpio, ActiveHigh: true}}
}

func (l *StatusLED) Set(on bool) {
	if l == nil {
		return
	}
	if on {
		Activate(l.pin)
		return
	}
	Deactivate(l.pin)
}
