package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Blind struct {
	ID            int  `json:"id"`
	UpPin         *int `json:"up_pin"`
	DownPin       *int `json:"down_pin"`
	SensorUpPin   *int `json:"sensor_up_pin"`
	SensorDownPin *int `json:"sensor_down_pin"`
	SpeedGPIO     *int `json:"speed_gpio"`
	DefaultSpeed  int  `json:"default_speed"`
}

type Config struct {
	ConfigFile string
	DBFile     string
	LogFile    string
	LogLevel   zerolog.Level

	DeviceID         string `json:"device_id"`
	DeviceName       string `json:"device_name"`
	DeviceType       string `json:"device_type"`
	TopicRoot        string `json:"topic_root"`
	MQTTClientPrefix string `json:"mqtt_client_prefix"`

	APIURL      string `json:"api_url"`
	APIUsername string `json:"api_username"`
	APIPassword string `json:"api_password"`
	APIPort     int    `json:"api_port"`

	I2CBus          string `json:"i2c_bus"`
	MCPAddress      uint16 `json:"mcp_address"`
	RelayActiveHigh bool   `json:"relay_active_high"`
	LimitActiveHigh bool   `json:"limit_active_high"`
	PWMFrequencyHz  int    `json:"pwm_frequency_hz"`
	StatusLEDGPIO   *int   `json:"status_led_gpio"`
	TempSensorBus   string `json:"temp_sensor_bus"`
	SafeMode        bool   `json:"safe_mode"`

	Blinds []Blind `json:"blinds"`

	CalibrationTimeoutSeconds int `json:"calibration_timeout_s"`
	RetryInitialMillis        int `json:"retry_initial_ms"`
	RetryMaxMillis            int `json:"retry_max_ms"`
	RetryMaxElapsedSeconds    int `json:"retry_max_elapsed_s"`
	BootFetchAttempts         int `json:"boot_fetch_attempts"`
	HTTPTimeoutSeconds        int `json:"http_timeout_s"`

	EnableDatadog bool     `json:"enable_datadog"`
	DDAgentAddr   string   `json:"dd_agent_addr"`
	DDNamespace   string   `json:"dd_namespace"`
	DDTags        []string `json:"dd_tags"`

	NtfyTopic string `json:"ntfy_topic"`

	BootScriptFilePath string `json:"boot_script_file_path"`
	OSServicePath      string `json:"os_service_path"`
	MainServicePath    string `json:"main_service_path"`
}

func Load() Config {
	var cfg Config
	var logLevel string

	flag.StringVar(&cfg.ConfigFile, "config-file", "config.json", "Path to controller config file")
	flag.StringVar(&cfg.DBFile, "db-file", "data/blinds.db", "Path to local blind cache database")
	flag.StringVar(&cfg.LogFile, "log-file", "/var/log/blinds-controller.log", "Log file path (empty for stderr)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg.LogLevel = parseLogLevel(logLevel)
	cfg.readFile()
	return cfg
}

// LoadFile reads a config file without touching the command line flags.
func LoadFile(path string) Config {
	cfg := Config{ConfigFile: path}
	cfg.readFile()
	return cfg
}

func (cfg *Config) readFile() {
	file, err := os.Open(cfg.ConfigFile)
	if err != nil {
		panic("Failed to load config file: " + err.Error())
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		panic("Failed to parse config file: " + err.Error())
	}

	cfg.applyDefaults()
	cfg.validate()
}

func (cfg *Config) applyDefaults() {
	if cfg.TopicRoot == "" {
		cfg.TopicRoot = "ssh"
	}
	if cfg.MQTTClientPrefix == "" {
		cfg.MQTTClientPrefix = "ssh_device_"
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = cfg.MQTTClientPrefix + cfg.DeviceID
	}
	if cfg.DeviceType == "" {
		cfg.DeviceType = "raspberry-pi"
	}
	if cfg.MCPAddress == 0 {
		cfg.MCPAddress = 0x20
	}
	if cfg.PWMFrequencyHz == 0 {
		cfg.PWMFrequencyHz = 1000
	}
	if cfg.CalibrationTimeoutSeconds == 0 {
		cfg.CalibrationTimeoutSeconds = 120
	}
	if cfg.RetryInitialMillis == 0 {
		cfg.RetryInitialMillis = 10
	}
	if cfg.RetryMaxMillis == 0 {
		cfg.RetryMaxMillis = 5000
	}
	if cfg.RetryMaxElapsedSeconds == 0 {
		cfg.RetryMaxElapsedSeconds = 60
	}
	if cfg.BootFetchAttempts == 0 {
		cfg.BootFetchAttempts = 30
	}
	if cfg.HTTPTimeoutSeconds == 0 {
		cfg.HTTPTimeoutSeconds = 10
	}
	if cfg.APIPort == 0 {
		cfg.APIPort = 8080
	}
	for i := range cfg.Blinds {
		if cfg.Blinds[i].DefaultSpeed == 0 {
			cfg.Blinds[i].DefaultSpeed = 100
		}
	}
}

func (cfg *Config) CalibrationTimeout() time.Duration {
	return time.Duration(cfg.CalibrationTimeoutSeconds) * time.Second
}

func (cfg *Config) RetryInitial() time.Duration {
	return time.Duration(cfg.RetryInitialMillis) * time.Millisecond
}

func (cfg *Config) RetryMax() time.Duration {
	return time.Duration(cfg.RetryMaxMillis) * time.Millisecond
}

func (cfg *Config) RetryMaxElapsed() time.Duration {
	return time.Duration(cfg.RetryMaxElapsedSeconds) * time.Second
}

func (cfg *Config) HTTPTimeout() time.Duration {
	return time.Duration(cfg.HTTPTimeoutSeconds) * time.Second
}

// SpeedPins returns the host GPIO numbers driving blind speed, in blind order.
func (cfg *Config) SpeedPins() []int {
	pins := make([]int, 0, len(cfg.Blinds))
	for _, b := range cfg.Blinds {
		if b.SpeedGPIO != nil {
			pins = append(pins, *b.SpeedGPIO)
		}
	}
	return pins
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (cfg *Config) validate() {
	var (
		missingFields []string
		conflicts     []string
		usedMCPPins   = map[int]string{}
		usedGPIOs     = map[int]string{}
		usedIDs       = map[int]bool{}
	)

	if cfg.DeviceID == "" {
		missingFields = append(missingFields, "device_id")
	}
	if cfg.APIURL == "" {
		missingFields = append(missingFields, "api_url")
	}
	if len(cfg.Blinds) == 0 {
		missingFields = append(missingFields, "blinds")
	}

	if cfg.StatusLEDGPIO != nil {
		usedGPIOs[*cfg.StatusLEDGPIO] = "status_led_gpio"
	}

	for i, b := range cfg.Blinds {
		prefix := fmt.Sprintf("blinds[%d]", i)
		if usedIDs[b.ID] {
			conflicts = append(conflicts, fmt.Sprintf("%s reuses blind id %d", prefix, b.ID))
		}
		usedIDs[b.ID] = true

		if b.DefaultSpeed < 70 || b.DefaultSpeed > 100 {
			conflicts = append(conflicts, fmt.Sprintf("%s.default_speed %d outside 70-100", prefix, b.DefaultSpeed))
		}

		mcpPins := []struct {
			name string
			pin  *int
		}{
			{"up_pin", b.UpPin},
			{"down_pin", b.DownPin},
			{"sensor_up_pin", b.SensorUpPin},
			{"sensor_down_pin", b.SensorDownPin},
		}
		for _, p := range mcpPins {
			field := prefix + "." + p.name
			if p.pin == nil {
				missingFields = append(missingFields, field)
				continue
			}
			if *p.pin < 0 || *p.pin > 15 {
				conflicts = append(conflicts, fmt.Sprintf("%s pin %d is not an MCP23017 pin", field, *p.pin))
				continue
			}
			if other, exists := usedMCPPins[*p.pin]; exists {
				conflicts = append(conflicts, fmt.Sprintf("%s and %s both use MCP pin %d", field, other, *p.pin))
			} else {
				usedMCPPins[*p.pin] = field
			}
		}

		field := prefix + ".speed_gpio"
		if b.SpeedGPIO == nil {
			missingFields = append(missingFields, field)
			continue
		}
		if other, exists := usedGPIOs[*b.SpeedGPIO]; exists {
			conflicts = append(conflicts, fmt.Sprintf("%s and %s both use GPIO %d", field, other, *b.SpeedGPIO))
		} else {
			usedGPIOs[*b.SpeedGPIO] = field
		}
	}

	if len(missingFields) > 0 {
		panic("Missing required config fields: " + strings.Join(missingFields, ", "))
	}
	if len(conflicts) > 0 {
		panic("Invalid blind config: " + strings.Join(conflicts, "; "))
	}
}
