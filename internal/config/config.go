package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Infinite is the preference value meaning "never" for the attempt time and
// update interval. It is compared by equality only.
const Infinite uint32 = math.MaxUint32

// Role is the node's role in the mesh. Routers favour battery over position
// freshness.
type Role string

const (
	RoleClient       Role = "client"
	RoleClientMute   Role = "client_mute"
	RoleRouter       Role = "router"
	RoleRouterClient Role = "router_client"
)

// Config holds all daemon configuration.
type Config struct {
	mu sync.RWMutex

	// Duty-cycle preferences, re-read on every tick
	Prefs Preferences `yaml:"preferences" json:"preferences"`

	// Receiver hardware
	GPS GPS `yaml:"gps" json:"gps"`

	// Status consumers
	MQTT  MQTT  `yaml:"mqtt" json:"mqtt"`
	Track Track `yaml:"track" json:"track"`

	Server  Server  `yaml:"server" json:"server"`
	Logging Logging `yaml:"logging" json:"logging"`

	path string // file path for save/load
}

// Preferences are the user-facing position settings.
type Preferences struct {
	GPSAttemptTime        uint32 `yaml:"gps_attempt_time" json:"gpsAttemptTime"`       // seconds, 0 = role default
	GPSUpdateInterval     uint32 `yaml:"gps_update_interval" json:"gpsUpdateInterval"` // seconds, 0 = role default
	GPSDisabled           bool   `yaml:"gps_disabled" json:"gpsDisabled"`
	LocationShareDisabled bool   `yaml:"location_share_disabled" json:"locationShareDisabled"`
	Role                  Role   `yaml:"role" json:"role"`
}

type GPS struct {
	Type           string `yaml:"type" json:"type"`           // "auto", "ublox", "nmea", "demo" or "disabled"
	PortPath       string `yaml:"port_path" json:"portPath"`  // e.g. /dev/ttyGPS
	BaudRate       int    `yaml:"baud_rate" json:"baudRate"`  // fixed at bring-up
	TXCapable      bool   `yaml:"tx_capable" json:"txCapable"` // board wires our TX to the receiver
	ProbeTimeoutMs int    `yaml:"probe_timeout_ms" json:"probeTimeoutMs"`
	Pins           Pins   `yaml:"pins" json:"pins"`
}

// Pins names the GPIO lines wired to the receiver. Empty names mean the
// line does not exist on this board.
type Pins struct {
	Enable        string `yaml:"enable" json:"enable"`
	Reset         string `yaml:"reset" json:"reset"`
	Wake          string `yaml:"wake" json:"wake"`
	WakeActiveLow bool   `yaml:"wake_active_low" json:"wakeActiveLow"`
}

type MQTT struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Broker      string `yaml:"broker" json:"broker"`
	ClientID    string `yaml:"client_id" json:"clientId"`
	TopicPrefix string `yaml:"topic_prefix" json:"topicPrefix"`
	QoS         byte   `yaml:"qos" json:"qos"`
}

type Track struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	MaxRows int    `yaml:"max_rows" json:"maxRows"`
}

type Server struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

type Logging struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // console or json
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Prefs: Preferences{
			Role: RoleClient,
		},
		GPS: GPS{
			Type:           "auto",
			PortPath:       "/dev/ttyGPS",
			BaudRate:       9600,
			TXCapable:      true,
			ProbeTimeoutMs: 1000,
		},
		MQTT: MQTT{
			Enabled:     false,
			Broker:      "tcp://localhost:1883",
			TopicPrefix: "meshgps",
		},
		Track: Track{
			Enabled: false,
			Path:    "/var/log/meshgps",
			MaxRows: 100_000,
		},
		Server: Server{
			ListenAddr: ":8080",
		},
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string, log *zap.SugaredLogger) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Infof("no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Warnf("error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Infof("loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep, log)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string, log *zap.SugaredLogger) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Infof("loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GPS_TYPE"); v != "" {
		c.GPS.Type = v
	}
	if v := os.Getenv("GPS_PORT"); v != "" {
		c.GPS.PortPath = v
	}
	if v := os.Getenv("GPS_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.GPS.BaudRate = n
		}
	}
	if v := os.Getenv("GPS_ROLE"); v != "" {
		c.Prefs.Role = Role(v)
	}
	if v := os.Getenv("GPS_ATTEMPT_TIME"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			c.Prefs.GPSAttemptTime = uint32(n)
		}
	}
	if v := os.Getenv("GPS_UPDATE_INTERVAL"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			c.Prefs.GPSUpdateInterval = uint32(n)
		}
	}
	if v := os.Getenv("GPS_DISABLED"); v != "" {
		c.Prefs.GPSDisabled = truthy(v)
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
		c.MQTT.Enabled = true
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

func truthy(v string) bool {
	return v == "1" || v == "true" || v == "yes"
}

// Preferences returns a copy of the duty-cycle preferences.
func (c *Config) Preferences() Preferences {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Prefs
}

// SetPreferences replaces the duty-cycle preferences.
func (c *Config) SetPreferences(p Preferences) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Prefs = p
}

// TrackSettings returns a copy of the track recorder settings.
func (c *Config) TrackSettings() Track {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Track
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	path := c.path
	if path == "" {
		path = "/etc/meshgps/config.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	return os.WriteFile(path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
