package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ExampleConfigPath is the annotated example configuration shipped with the
// repository.
const ExampleConfigPath = "config/probe.example.json"

// ServiceConfig is the root JSON configuration of the probe service. Every
// field is optional; the Get* methods supply the defaults.
type ServiceConfig struct {
	BroadcastOnUpdate *bool   `json:"broadcast_on_update,omitempty"`
	RenderStyle       *string `json:"render_style,omitempty"` // "basic" or "annotated"

	CORS  *CORSConfig  `json:"cors,omitempty"`
	Image *ImageConfig `json:"image,omitempty"`

	BroadcastWriteTimeout *string `json:"broadcast_write_timeout,omitempty"` // duration string like "5s"

	SnapshotDB *string `json:"snapshot_db,omitempty"`
	AccessLog  *string `json:"access_log,omitempty"`

	Serial *SerialConfig `json:"serial,omitempty"`
	MQTT   *MQTTConfig   `json:"mqtt,omitempty"`
}

// CORSConfig controls the cross-origin policy of the HTTP API.
type CORSConfig struct {
	Enabled          *bool    `json:"enabled,omitempty"`
	AllowedOrigins   []string `json:"allowed_origins,omitempty"`
	AllowCredentials *bool    `json:"allow_credentials,omitempty"`
}

// ImageConfig sets the rendered figure size.
type ImageConfig struct {
	WidthIn  *float64 `json:"width_in,omitempty"`
	HeightIn *float64 `json:"height_in,omitempty"`
	DPI      *int     `json:"dpi,omitempty"`
}

// SerialConfig describes a UART-attached device. An empty Port disables
// serial ingest.
type SerialConfig struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baud_rate,omitempty"`
	DataBits int    `json:"data_bits,omitempty"`
	StopBits int    `json:"stop_bits,omitempty"`
	Parity   string `json:"parity,omitempty"`
}

// MQTTConfig describes a broker-attached device. An empty Broker disables
// MQTT ingest.
type MQTTConfig struct {
	Broker   string `json:"broker"`
	Topic    string `json:"topic,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// Defaults for optional fields.
const (
	DefaultRenderStyle           = "annotated"
	DefaultBroadcastWriteTimeout = 5 * time.Second
	DefaultImageWidthIn          = 10.0
	DefaultImageHeightIn         = 8.0
	DefaultImageDPI              = 100
	DefaultMQTTTopic             = "magnetprobe/coordinates"
	DefaultMQTTClientID          = "magnetprobe"
)

func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }

// EmptyServiceConfig returns a ServiceConfig with every field unset.
func EmptyServiceConfig() *ServiceConfig {
	return &ServiceConfig{}
}

// LoadServiceConfig loads a ServiceConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted from
// the file keep their defaults.
func LoadServiceConfig(path string) (*ServiceConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyServiceConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *ServiceConfig) Validate() error {
	if c.RenderStyle != nil {
		switch strings.ToLower(strings.TrimSpace(*c.RenderStyle)) {
		case "basic", "annotated", "extended":
		default:
			return fmt.Errorf("render_style must be basic or annotated, got %q", *c.RenderStyle)
		}
	}

	if c.BroadcastWriteTimeout != nil && *c.BroadcastWriteTimeout != "" {
		d, err := time.ParseDuration(*c.BroadcastWriteTimeout)
		if err != nil {
			return fmt.Errorf("invalid broadcast_write_timeout '%s': %w", *c.BroadcastWriteTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("broadcast_write_timeout must be positive, got %s", d)
		}
	}

	if c.Image != nil {
		if c.Image.WidthIn != nil && *c.Image.WidthIn <= 0 {
			return fmt.Errorf("image.width_in must be positive, got %f", *c.Image.WidthIn)
		}
		if c.Image.HeightIn != nil && *c.Image.HeightIn <= 0 {
			return fmt.Errorf("image.height_in must be positive, got %f", *c.Image.HeightIn)
		}
		if c.Image.DPI != nil && (*c.Image.DPI < 10 || *c.Image.DPI > 600) {
			return fmt.Errorf("image.dpi must be between 10 and 600, got %d", *c.Image.DPI)
		}
	}

	if c.Serial != nil && c.Serial.Port != "" && c.Serial.BaudRate < 0 {
		return fmt.Errorf("serial.baud_rate must be non-negative, got %d", c.Serial.BaudRate)
	}

	if c.MQTT != nil && c.MQTT.Broker != "" && strings.ContainsAny(c.GetMQTTTopic(), "+#") {
		return fmt.Errorf("mqtt.topic must not contain wildcards, got %q", c.MQTT.Topic)
	}

	return nil
}

// GetBroadcastOnUpdate reports whether updates are pushed to viewers.
func (c *ServiceConfig) GetBroadcastOnUpdate() bool {
	if c.BroadcastOnUpdate == nil {
		return true // default
	}
	return *c.BroadcastOnUpdate
}

// GetRenderStyle returns the configured style name.
func (c *ServiceConfig) GetRenderStyle() string {
	if c.RenderStyle == nil || *c.RenderStyle == "" {
		return DefaultRenderStyle
	}
	return *c.RenderStyle
}

// GetBroadcastWriteTimeout returns how long a viewer may take to accept one
// reading before it is dropped.
func (c *ServiceConfig) GetBroadcastWriteTimeout() time.Duration {
	if c.BroadcastWriteTimeout == nil || *c.BroadcastWriteTimeout == "" {
		return DefaultBroadcastWriteTimeout
	}
	d, err := time.ParseDuration(*c.BroadcastWriteTimeout)
	if err != nil || d <= 0 {
		return DefaultBroadcastWriteTimeout
	}
	return d
}

// GetCORSEnabled reports whether cross-origin requests are allowed.
func (c *ServiceConfig) GetCORSEnabled() bool {
	if c.CORS == nil || c.CORS.Enabled == nil {
		return true // default
	}
	return *c.CORS.Enabled
}

// GetAllowedOrigins returns the allowed origins, "*" by default.
func (c *ServiceConfig) GetAllowedOrigins() []string {
	if c.CORS == nil || len(c.CORS.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return c.CORS.AllowedOrigins
}

// GetAllowCredentials reports whether credentials are allowed cross-origin.
func (c *ServiceConfig) GetAllowCredentials() bool {
	if c.CORS == nil || c.CORS.AllowCredentials == nil {
		return true // default
	}
	return *c.CORS.AllowCredentials
}

// GetImageSize returns the figure width and height in inches and its DPI.
func (c *ServiceConfig) GetImageSize() (widthIn, heightIn float64, dpi int) {
	widthIn, heightIn, dpi = DefaultImageWidthIn, DefaultImageHeightIn, DefaultImageDPI
	if c.Image == nil {
		return
	}
	if c.Image.WidthIn != nil {
		widthIn = *c.Image.WidthIn
	}
	if c.Image.HeightIn != nil {
		heightIn = *c.Image.HeightIn
	}
	if c.Image.DPI != nil {
		dpi = *c.Image.DPI
	}
	return
}

// GetSnapshotDB returns the snapshot database path, empty when disabled.
func (c *ServiceConfig) GetSnapshotDB() string {
	if c.SnapshotDB == nil {
		return ""
	}
	return *c.SnapshotDB
}

// GetAccessLog returns the access log path, empty when disabled.
func (c *ServiceConfig) GetAccessLog() string {
	if c.AccessLog == nil {
		return ""
	}
	return *c.AccessLog
}

// GetSerial returns the serial settings; the zero value disables serial ingest.
func (c *ServiceConfig) GetSerial() SerialConfig {
	if c.Serial == nil {
		return SerialConfig{}
	}
	return *c.Serial
}

// GetMQTT returns the MQTT settings with the topic and client ID defaulted.
func (c *ServiceConfig) GetMQTT() MQTTConfig {
	var m MQTTConfig
	if c.MQTT != nil {
		m = *c.MQTT
	}
	m.Topic = c.GetMQTTTopic()
	if m.ClientID == "" {
		m.ClientID = DefaultMQTTClientID
	}
	return m
}

// GetMQTTTopic returns the topic readings are published on.
func (c *ServiceConfig) GetMQTTTopic() string {
	if c.MQTT == nil || c.MQTT.Topic == "" {
		return DefaultMQTTTopic
	}
	return c.MQTT.Topic
}

// Overrides carries command-line values that take precedence over the file.
// Empty strings leave the file value alone.
type Overrides struct {
	SnapshotDB string
	SerialPort string
	MQTTBroker string
	MQTTTopic  string
}

// Apply merges o into c.
func (c *ServiceConfig) Apply(o Overrides) {
	if o.SnapshotDB != "" {
		c.SnapshotDB = ptrString(o.SnapshotDB)
	}
	if o.SerialPort != "" {
		if c.Serial == nil {
			c.Serial = &SerialConfig{}
		}
		c.Serial.Port = o.SerialPort
	}
	if o.MQTTBroker != "" || o.MQTTTopic != "" {
		if c.MQTT == nil {
			c.MQTT = &MQTTConfig{}
		}
		if o.MQTTBroker != "" {
			c.MQTT.Broker = o.MQTTBroker
		}
		if o.MQTTTopic != "" {
			c.MQTT.Topic = o.MQTTTopic
		}
	}
}

// DevConfig is used by --dev: broadcasting on, basic figures, permissive CORS.
func DevConfig() *ServiceConfig {
	return &ServiceConfig{
		BroadcastOnUpdate: ptrBool(true),
		RenderStyle:       ptrString("basic"),
		CORS:              &CORSConfig{Enabled: ptrBool(true)},
	}
}
