package temperature

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DS18B20 operating range
	minValid = -55.0
	maxValid = 125.0
	// power-on reset value, reported when a conversion never ran
	resetValue = 85.0
)

type Reading struct {
	Temperature float64
	Timestamp   time.Time
	Valid       bool
}

// ReadSensorTemp returns the temperature in Celsius from a 1-Wire sensor directory.
var ReadSensorTemp = func(sensorPath string) (float64, error) {
	data, err := os.ReadFile(filepath.Join(sensorPath, "w1_slave"))
	if err != nil {
		return 0, fmt.Errorf("failed to read sensor data: %w", err)
	}
	return parseW1Slave(string(data))
}

func parseW1Slave(data string) (float64, error) {
	lines := strings.Split(data, "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("temperature data missing")
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, fmt.Errorf("sensor CRC check failed")
	}
	parts := strings.Split(lines[1], "t=")
	if len(parts) != 2 {
		return 0, fmt.Errorf("could not parse temperature line %q", lines[1])
	}
	milliC, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, fmt.Errorf("failed to convert temperature to int: %w", err)
	}
	return float64(milliC) / 1000.0, nil
}

// Monitor reads the board sensor and filters implausible readings. A jump
// larger than maxDelta is held back until maxAnomalies consecutive readings
// confirm it as the new baseline.
type Monitor struct {
	sensorPath   string
	maxDelta     float64
	maxAnomalies int

	mutex     sync.RWMutex
	last      Reading
	anomalies int
}

func NewMonitor(sensorPath string) *Monitor {
	return &Monitor{
		sensorPath:   sensorPath,
		maxDelta:     10.0,
		maxAnomalies: 3,
	}
}

// Read polls the sensor and returns the last accepted temperature.
func (m *Monitor) Read() (float64, bool) {
	if m == nil || m.sensorPath == "" {
		return 0, false
	}
	temp, err := ReadSensorTemp(m.sensorPath)
	if err != nil {
		log.Warn().Err(err).Str("sensor", m.sensorPath).Msg("Temperature read failed")
	} else {
		m.process(temp, time.Now())
	}
	return m.Current()
}

func (m *Monitor) Current() (float64, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.last.Temperature, m.last.Valid
}

func (m *Monitor) process(temp float64, now time.Time) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if temp < minValid || temp > maxValid || (temp == resetValue && !m.last.Valid) {
		log.Warn().Float64("temp", temp).Msg("Discarding out of range temperature")
		return false
	}

	if m.last.Valid && abs(temp-m.last.Temperature) > m.maxDelta {
		m.anomalies++
		if m.anomalies < m.maxAnomalies {
			log.Warn().
				Float64("temp", temp).
				Float64("last_good", m.last.Temperature).
				Int("anomalies", m.anomalies).
				Msg("Temperature jump held back")
			return false
		}
		log.Info().Float64("temp", temp).Msg("Temperature jump confirmed as new baseline")
	}

	m.anomalies = 0
	m.last = Reading{Temperature: temp, Timestamp: now, Valid: true}
	return true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
