package orchestration

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/junodevice/juno-core/core/protocols"
)

// AecMode selects where acoustic echo cancellation runs, which in turn
// decides the default listening mode for voice sessions.
type AecMode int

const (
	AecOff AecMode = iota
	AecOnDeviceSide
	AecOnServerSide
)

func (m AecMode) String() string {
	switch m {
	case AecOff:
		return "off"
	case AecOnDeviceSide:
		return "device"
	case AecOnServerSide:
		return "server"
	}
	return "invalid"
}

func (m *AecMode) UnmarshalYAML(value *yaml.Node) error {
	switch value.Value {
	case "", "off":
		*m = AecOff
	case "device":
		*m = AecOnDeviceSide
	case "server":
		*m = AecOnServerSide
	default:
		return fmt.Errorf("unknown aec mode %q", value.Value)
	}
	return nil
}

// Config carries device identity and server endpoints. Zero values are
// usable for tests; production callers load it with LoadConfig.
type Config struct {
	DeviceID        string `yaml:"device_id"`
	ClientID        string `yaml:"client_id"`
	UserAgent       string `yaml:"user_agent"`
	FirmwareVersion string `yaml:"firmware_version"`

	OtaURL      string `yaml:"ota_url"`
	AccessToken string `yaml:"access_token"`

	Transport    protocols.Transport `yaml:"transport"`
	WebsocketURL string              `yaml:"websocket_url"`

	AecMode AecMode `yaml:"aec_mode"`

	// SampleRate is the device codec's output rate, used to detect a
	// mismatch against the server's advertised rate.
	SampleRate    int `yaml:"sample_rate"`
	FrameDuration int `yaml:"frame_duration_ms"`
}

// LoadConfig reads a YAML config file and applies defaults for omitted
// fields.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	config.applyDefaults()
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Transport == "" {
		c.Transport = protocols.TransportWebsocket
	}
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.FrameDuration == 0 {
		c.FrameDuration = 60
	}
	if c.UserAgent == "" {
		c.UserAgent = "juno-core/" + c.FirmwareVersion
	}
}
