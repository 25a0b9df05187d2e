package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blinds-controller/internal/datadog"
	"github.com/thatsimonsguy/blinds-controller/internal/model"
	"github.com/thatsimonsguy/blinds-controller/internal/state"
)

const Interval = 60 * time.Second

type Identity struct {
	ID   string
	Name string
	Type string
}

type Device struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Online      bool     `json:"online"`
	Temperature *float64 `json:"temperature,omitempty"`
}

type Host struct {
	Hostname string `json:"hostname,omitempty"`
	IP       string `json:"ip,omitempty"`
}

type Meta struct {
	BootTime  int64 `json:"boottime"`
	Timestamp int64 `json:"timestamp"`
}

type Message struct {
	Device Device           `json:"device"`
	Host   *Host            `json:"host,omitempty"`
	Meta   *Meta            `json:"meta,omitempty"`
	Blinds []model.Snapshot `json:"blinds,omitempty"`
}

type Publisher interface {
	Publish(topic string, retained bool, payload []byte) error
}

type TempReader interface {
	Read() (float64, bool)
}

// Reporter publishes the retained device status heartbeat.
type Reporter struct {
	identity  Identity
	table     *state.Table
	pub       Publisher
	temp      TempReader
	topicRoot string
	boot      time.Time

	// swapped in tests
	hostname func() (string, error)
	localIP  func() string
	now      func() time.Time
}

func New(identity Identity, table *state.Table, pub Publisher, temp TempReader, topicRoot string) *Reporter {
	return &Reporter{
		identity:  identity,
		table:     table,
		pub:       pub,
		temp:      temp,
		topicRoot: topicRoot,
		boot:      time.Now(),
		hostname:  os.Hostname,
		localIP:   localIP,
		now:       time.Now,
	}
}

func Topic(topicRoot, deviceID string) string {
	return fmt.Sprintf("%s/devices/status/%s", topicRoot, deviceID)
}

func (r *Reporter) Topic() string {
	return Topic(r.topicRoot, r.identity.ID)
}

// OfflinePayload is the will message and the last status sent at shutdown.
func OfflinePayload(identity Identity) []byte {
	payload, _ := json.Marshal(Message{Device: Device{
		ID:   identity.ID,
		Name: identity.Name,
		Type: identity.Type,
	}})
	return payload
}

func (r *Reporter) Build() Message {
	msg := Message{
		Device: Device{
			ID:     r.identity.ID,
			Name:   r.identity.Name,
			Type:   r.identity.Type,
			Online: true,
		},
		Host: &Host{IP: r.localIP()},
		Meta: &Meta{
			BootTime:  r.boot.Unix(),
			Timestamp: r.now().Unix(),
		},
		Blinds: r.table.Snapshots(),
	}
	if name, err := r.hostname(); err == nil {
		msg.Host.Hostname = name
	}
	if r.temp != nil {
		if temp, ok := r.temp.Read(); ok {
			msg.Device.Temperature = &temp
			datadog.Gauge("device.temperature", temp)
		}
	}
	return msg
}

// Heartbeat is run by the scheduler off the hot path.
func (r *Reporter) Heartbeat(context.Context) time.Duration {
	payload, err := json.Marshal(r.Build())
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal status")
		return 0
	}
	if err := r.pub.Publish(r.Topic(), true, payload); err != nil {
		log.Warn().Err(err).Msg("Failed to queue status")
	}
	return 0
}

func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return ipnet.IP.String()
		}
	}
	return ""
}
