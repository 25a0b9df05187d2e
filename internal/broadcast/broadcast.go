package broadcast

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blinds-controller/internal/model"
	"github.com/thatsimonsguy/blinds-controller/internal/state"
)

const Interval = 100 * time.Millisecond

// Publisher sends messages on the bus without blocking the caller.
type Publisher interface {
	Connected() bool
	Publish(topic string, retained bool, payload []byte) error
}

// Broadcaster announces every integer position crossing of every blind.
type Broadcaster struct {
	table     *state.Table
	pub       Publisher
	topicRoot string

	// last published floor(position) per blind
	watermarks map[int]int
}

func New(table *state.Table, pub Publisher, topicRoot string) *Broadcaster {
	b := &Broadcaster{
		table:      table,
		pub:        pub,
		topicRoot:  topicRoot,
		watermarks: make(map[int]int),
	}
	for _, snap := range table.Snapshots() {
		b.watermarks[snap.ID] = floor(snap.Position)
	}
	return b
}

func (b *Broadcaster) RunTopic(id int) string {
	return fmt.Sprintf("%s/blinds/run/%d", b.topicRoot, id)
}

func (b *Broadcaster) EventTopic(id int) string {
	return fmt.Sprintf("%s/blinds/event/%d", b.topicRoot, id)
}

func (b *Broadcaster) Tick(time.Time) time.Duration {
	if !b.pub.Connected() {
		return 0
	}
	for _, snap := range b.table.Snapshots() {
		step := floor(snap.Position)
		if last, ok := b.watermarks[snap.ID]; ok && last == step {
			continue
		}
		payload, err := json.Marshal(model.RunMessage{ID: snap.ID, Set: snap.Target, Step: step})
		if err != nil {
			log.Error().Err(err).Int("blind", snap.ID).Msg("Failed to encode run message")
			continue
		}
		if err := b.pub.Publish(b.RunTopic(snap.ID), true, payload); err != nil {
			log.Warn().Err(err).Int("blind", snap.ID).Msg("Run message dropped")
		}
		b.watermarks[snap.ID] = step
	}
	return 0
}

// PublishEvent sends a blind event. Events raised while disconnected are dropped.
func (b *Broadcaster) PublishEvent(ev model.Event) {
	if !b.pub.Connected() {
		log.Warn().Int("blind", ev.Blind).Str("event", string(ev.Kind)).Msg("Broker offline, event not published")
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Int("blind", ev.Blind).Msg("Failed to encode event")
		return
	}
	if err := b.pub.Publish(b.EventTopic(ev.Blind), false, payload); err != nil {
		log.Warn().Err(err).Int("blind", ev.Blind).Str("event", string(ev.Kind)).Msg("Event dropped")
	}
}

func floor(position float64) int {
	return int(math.Floor(position))
}
