package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blinds-controller/internal/datadog"
	"github.com/thatsimonsguy/blinds-controller/internal/state"
)

const (
	MinSpeed = 70
	MaxSpeed = 100
)

var (
	ErrMalformed       = errors.New("malformed command")
	ErrMissingField    = errors.New("missing field")
	ErrSetOutOfRange   = errors.New("set out of range")
	ErrSpeedOutOfRange = errors.New("speed out of range")
	ErrUnknownBlind    = errors.New("unknown blind")
	ErrBadTopic        = errors.New("not a set topic")
)

// Command is one inbound request for a blind.
type Command struct {
	Calibrate bool `json:"calibrate"`
	Set       *int `json:"set"`
	Speed     *int `json:"speed"`
}

func (c Command) Validate() error {
	if c.Set == nil {
		return fmt.Errorf("set: %w", ErrMissingField)
	}
	if c.Speed == nil {
		return fmt.Errorf("speed: %w", ErrMissingField)
	}
	if *c.Set < 0 || *c.Set > 100 {
		return fmt.Errorf("%d: %w", *c.Set, ErrSetOutOfRange)
	}
	if *c.Speed < MinSpeed || *c.Speed > MaxSpeed {
		return fmt.Errorf("%d: %w", *c.Speed, ErrSpeedOutOfRange)
	}
	return nil
}

// Intake is the single writer of blind targets and calibration requests.
type Intake struct {
	commands  *state.CommandPort
	table     *state.Table
	topicRoot string
}

func New(table *state.Table, topicRoot string) (*Intake, error) {
	commands, err := table.ClaimCommands()
	if err != nil {
		return nil, fmt.Errorf("command intake: %w", err)
	}
	return &Intake{commands: commands, table: table, topicRoot: topicRoot}, nil
}

// SetTopic is the subscription pattern for every blind's set topic.
func (in *Intake) SetTopic() string {
	return in.topicRoot + "/blinds/set/#"
}

// BlindFromTopic extracts the blind id from "<root>/blinds/set/<id>".
func (in *Intake) BlindFromTopic(topic string) (int, error) {
	prefix := in.topicRoot + "/blinds/set/"
	if !strings.HasPrefix(topic, prefix) {
		return 0, fmt.Errorf("%q: %w", topic, ErrBadTopic)
	}
	id, err := strconv.Atoi(strings.TrimPrefix(topic, prefix))
	if err != nil {
		return 0, fmt.Errorf("%q: %w", topic, ErrBadTopic)
	}
	return id, nil
}

// HandleMessage decodes and applies a message received on a set topic.
func (in *Intake) HandleMessage(topic string, payload []byte) error {
	id, err := in.BlindFromTopic(topic)
	if err != nil {
		return in.reject(0, err)
	}
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return in.reject(id, fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	return in.Apply(id, cmd)
}

// Apply validates cmd and stores it. A rejected command changes nothing.
func (in *Intake) Apply(id int, cmd Command) error {
	if _, err := in.table.Snapshot(id); err != nil {
		return in.reject(id, fmt.Errorf("blind %d: %w", id, ErrUnknownBlind))
	}
	if err := cmd.Validate(); err != nil {
		return in.reject(id, err)
	}
	if err := in.commands.Apply(id, *cmd.Set, *cmd.Speed, cmd.Calibrate); err != nil {
		return in.reject(id, err)
	}
	log.Debug().
		Int("blind", id).
		Int("target", *cmd.Set).
		Int("speed", *cmd.Speed).
		Bool("calibrate", cmd.Calibrate).
		Msg("Command accepted")
	return nil
}

// Retarget validates and stores a new target and speed without touching the
// blind's calibration request.
func (in *Intake) Retarget(id int, set, speed *int) error {
	if _, err := in.table.Snapshot(id); err != nil {
		return in.reject(id, fmt.Errorf("blind %d: %w", id, ErrUnknownBlind))
	}
	if err := (Command{Set: set, Speed: speed}).Validate(); err != nil {
		return in.reject(id, err)
	}
	if err := in.commands.Retarget(id, *set, *speed); err != nil {
		return in.reject(id, err)
	}
	log.Debug().Int("blind", id).Int("target", *set).Int("speed", *speed).Msg("Target updated")
	return nil
}

func (in *Intake) reject(id int, err error) error {
	datadog.Count("intake.rejected", 1)
	log.Warn().Err(err).Int("blind", id).Msg("Command rejected")
	return err
}
