package model

import "fmt"

type Direction int

const (
	Idle Direction = iota
	MovingUp
	MovingDown
)

func (d Direction) String() string {
	switch d {
	case MovingUp:
		return "up"
	case MovingDown:
		return "down"
	default:
		return "idle"
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Snapshot is a point-in-time copy of one blind's shared record.
type Snapshot struct {
	ID                   int       `json:"id"`
	Position             float64   `json:"position"`
	Target               int       `json:"target"`
	Direction            Direction `json:"direction"`
	Speed                int       `json:"speed"`
	RequestedSpeed       int       `json:"requested_speed"`
	LimitUp              bool      `json:"limit_up"`
	LimitDown            bool      `json:"limit_down"`
	SensorFault          bool      `json:"sensor_fault"`
	RuntimeUp            int       `json:"runtime_up"`
	RuntimeDown          int       `json:"runtime_down"`
	CalibrationRequested bool      `json:"calibration_requested"`
	CalibrationGen       uint64    `json:"-"`
	Calibrating          bool      `json:"calibrating"`
}

func (s Snapshot) Calibrated() bool {
	return s.RuntimeUp > 0 && s.RuntimeDown > 0
}

// BlindRecord mirrors a blind as stored by the backend and the local cache.
type BlindRecord struct {
	ID          int `json:"id"`
	Position    int `json:"position"`
	RuntimeUp   int `json:"runtime_up"`
	RuntimeDown int `json:"runtime_down"`
	PassUp      int `json:"pass_up"`
	PassDown    int `json:"pass_down"`
}

type DeviceConfiguration struct {
	NTPServer    string `json:"ntp_server"`
	MQTTServer   string `json:"mqtt_server"`
	MQTTPort     int    `json:"mqtt_port"`
	MQTTUser     string `json:"mqtt_user"`
	MQTTPassword string `json:"mqtt_password"`
}

func (c DeviceConfiguration) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.MQTTServer, c.MQTTPort)
}

type EventKind string

const (
	EventCalibrationCompleted EventKind = "calibration_completed"
	EventCalibrationFailed    EventKind = "calibration_failed"
	EventSyncFailed           EventKind = "sync_failed"
	EventSensorFault          EventKind = "sensor_fault"
)

type Event struct {
	Blind     int       `json:"id"`
	Kind      EventKind `json:"event"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// RunMessage is published whenever a blind crosses an integer position.
type RunMessage struct {
	ID   int `json:"id"`
	Set  int `json:"set"`
	Step int `json:"step"`
}

type GPIOPin struct {
	Number     int
	ActiveHigh bool
}
