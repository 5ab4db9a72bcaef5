// Package config loads and resolves the Orb agent's on-device configuration:
// a YAML file loaded at startup, overridden by environment variables, and
// further overridden by a JSON overlay periodically downloaded from the
// backend.
package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v2"
)

// Config is the full resolved on-device configuration.
type Config struct {
	Sound      SoundConfig      `yaml:"sound"`
	Language   string           `yaml:"language"`
	IrNet      IrNetConfig      `yaml:"ir_net"`
	Iris       IrisConfig       `yaml:"iris"`
	PCP        PCPConfig        `yaml:"pcp"`
	Thermal    ThermalConfig    `yaml:"thermal"`
	MCU        MCUConfig        `yaml:"mcu"`
	Backend    BackendConfig    `yaml:"backend"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Agents     AgentsConfig     `yaml:"agents"`
}

// SoundConfig controls the on-device sound player.
type SoundConfig struct {
	Volume   int  `yaml:"volume"`   // 0-100
	Muted    bool `yaml:"muted"`
}

// IrNetConfig names the active IR-camera neural network model per use case.
type IrNetConfig struct {
	ModelConfigs map[string]string `yaml:"model_configs"`
}

// IrisConfig names the active iris-matching model.
type IrisConfig struct {
	ModelConfigs map[string]string `yaml:"model_configs"`
}

// PCPConfig holds Personal Custody Package thresholds: two escalating
// tiers, each of which can block enrollment outright or merely drop frames.
type PCPConfig struct {
	Tier1 PCPTier `yaml:"tier1"`
	Tier2 PCPTier `yaml:"tier2"`
}

// PCPTier is one threshold tier's blocking/dropping behavior.
type PCPTier struct {
	BlockingThreshold float64 `yaml:"blocking_threshold"`
	DroppingThreshold float64 `yaml:"dropping_threshold"`
}

// ThermalConfig holds fan/thermal control thresholds.
type ThermalConfig struct {
	MaxFanSpeedPercent float64 `yaml:"max_fan_speed_percent"`
	WarnTempC          float64 `yaml:"warn_temp_c"`
	CriticalTempC      float64 `yaml:"critical_temp_c"`
}

// MCUConfig holds the microcontroller link's interface selection. Transport
// picks which physical link cmd/orb-agent dials: "can" or "uart". UART is
// the default since it needs no external transceiver wiring on a bench unit;
// production units with the CAN FD harness installed set ORB_MCU_TRANSPORT=can.
type MCUConfig struct {
	Transport    string `yaml:"transport"`
	CANInterface string `yaml:"can_interface"`
	UARTDevice   string `yaml:"uart_device"`
	UARTBaud     uint32 `yaml:"uart_baud"`
}

// BackendConfig holds the cloud backend endpoint and pinned CA.
type BackendConfig struct {
	BaseURL        string `yaml:"base_url"`
	PinnedCASHA256 string `yaml:"pinned_ca_sha256"`
}

// MonitoringConfig holds local metrics export settings.
type MonitoringConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// AgentsConfig names the subprocess binary for each process-strategy agent
// cell the main broker runs, so a given Orb image can be built with each
// agent's binary installed to a different path without a code change.
type AgentsConfig struct {
	MirrorPath   string `yaml:"mirror_path"`
	CameraPath   string `yaml:"camera_path"`
	PipelinePath string `yaml:"pipeline_path"`
	QRScanPath   string `yaml:"qrscan_path"`
	UploadPath   string `yaml:"upload_path"`
}

var (
	once     sync.Once
	instance *Config
)

// Get returns the process-wide Config, loading it from CONFIG_PATH (or
// config.yaml) and applying environment overrides on first call.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyDefaults()
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyOverlay merges a JSON overlay document (as downloaded from the
// backend's /config endpoint) on top of the current config, field by field,
// leaving fields the overlay omits untouched.
func (c *Config) ApplyOverlay(overlay []byte) error {
	sound, thermal := c.Sound, c.Thermal
	partial := struct {
		Sound    *SoundConfig   `json:"sound"`
		Language *string        `json:"language"`
		Thermal  *ThermalConfig `json:"thermal"`
	}{Sound: &sound, Thermal: &thermal}
	if err := json.Unmarshal(overlay, &partial); err != nil {
		return err
	}
	if partial.Sound != nil {
		c.Sound = *partial.Sound
	}
	if partial.Language != nil {
		c.Language = *partial.Language
	}
	if partial.Thermal != nil {
		c.Thermal = *partial.Thermal
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Sound.Volume == 0 {
		c.Sound.Volume = 70
	}
	if c.Language == "" {
		c.Language = "en"
	}
	if c.Thermal.MaxFanSpeedPercent == 0 {
		c.Thermal.MaxFanSpeedPercent = 100
	}
	if c.MCU.UARTBaud == 0 {
		c.MCU.UARTBaud = 115200
	}
	if c.MCU.CANInterface == "" {
		c.MCU.CANInterface = "can0"
	}
	if c.MCU.UARTDevice == "" {
		c.MCU.UARTDevice = "/dev/ttyTHS0"
	}
	if c.MCU.Transport == "" {
		c.MCU.Transport = "uart"
	}
	if c.Monitoring.ListenAddr == "" {
		c.Monitoring.ListenAddr = "127.0.0.1:9090"
	}
	if c.Agents.MirrorPath == "" {
		c.Agents.MirrorPath = "/usr/local/bin/orb-agent-mirror"
	}
	if c.Agents.CameraPath == "" {
		c.Agents.CameraPath = "/usr/local/bin/orb-agent-camera"
	}
	if c.Agents.PipelinePath == "" {
		c.Agents.PipelinePath = "/usr/local/bin/orb-agent-pipeline"
	}
	if c.Agents.QRScanPath == "" {
		c.Agents.QRScanPath = "/usr/local/bin/orb-agent-qrscan"
	}
	if c.Agents.UploadPath == "" {
		c.Agents.UploadPath = "/usr/local/bin/orb-agent-upload"
	}
}

func (c *Config) applyEnvOverrides() {
	c.Language = getEnv("ORB_LANGUAGE", c.Language)
	c.Sound.Volume = getEnvInt("ORB_SOUND_VOLUME", c.Sound.Volume)
	c.Sound.Muted = getEnvBool("ORB_SOUND_MUTED", c.Sound.Muted)
	c.MCU.Transport = getEnv("ORB_MCU_TRANSPORT", c.MCU.Transport)
	c.MCU.CANInterface = getEnv("ORB_MCU_CAN_INTERFACE", c.MCU.CANInterface)
	c.MCU.UARTDevice = getEnv("ORB_MCU_UART_DEVICE", c.MCU.UARTDevice)
	c.Backend.BaseURL = getEnv("ORB_BACKEND_BASE_URL", c.Backend.BaseURL)
	c.Backend.PinnedCASHA256 = getEnv("ORB_BACKEND_PINNED_CA_SHA256", c.Backend.PinnedCASHA256)
	c.Monitoring.ListenAddr = getEnv("ORB_MONITORING_ADDR", c.Monitoring.ListenAddr)
	if v := getEnvFloat("ORB_THERMAL_MAX_FAN_SPEED_PERCENT", 0); v > 0 {
		c.Thermal.MaxFanSpeedPercent = v
	}
	c.Agents.MirrorPath = getEnv("ORB_AGENT_MIRROR_PATH", c.Agents.MirrorPath)
	c.Agents.CameraPath = getEnv("ORB_AGENT_CAMERA_PATH", c.Agents.CameraPath)
	c.Agents.PipelinePath = getEnv("ORB_AGENT_PIPELINE_PATH", c.Agents.PipelinePath)
	c.Agents.QRScanPath = getEnv("ORB_AGENT_QRSCAN_PATH", c.Agents.QRScanPath)
	c.Agents.UploadPath = getEnv("ORB_AGENT_UPLOAD_PATH", c.Agents.UploadPath)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}
