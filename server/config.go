package server

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/fleetnav/navserver/packet"
)

// Duration decodes TOML duration strings like "5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config is the navigation server configuration, read from a TOML file on
// top of built-in defaults.
type Config struct {
	// LogLevel is the verbosity of the root logger (trace|debug|info|warn|error).
	LogLevel string `toml:"log-level"`

	// Workers sizes the backend transport's handler pool.
	Workers int `toml:"workers"`

	// PacketTimeout overrides the per-attempt reply timeout.
	PacketTimeout Duration `toml:"packet-timeout"`

	Email   EmailConfig   `toml:"email"`
	Message MessageConfig `toml:"message"`
	Screen  ScreenConfig  `toml:"screen"`
	Policy  PolicyConfig  `toml:"policy"`
}

// PolicyConfig is the partial-failure policy applied to aggregation stages.
type PolicyConfig struct {
	// RecoverableStatuses lists the reply status codes treated as absence
	// of data rather than failure of the whole stage.
	RecoverableStatuses []uint16 `toml:"recoverable-statuses"`
}

// Recoverable builds the status policy the engine consults.
func (p PolicyConfig) Recoverable() packet.RecoverablePolicy {
	set := make(map[packet.Status]bool, len(p.RecoverableStatuses))
	for _, code := range p.RecoverableStatuses {
		set[packet.Status(code)] = true
	}
	return func(s packet.Status) bool { return set[s] }
}

// EmailConfig carries the sender identity for route notifications.
type EmailConfig struct {
	From    string `toml:"from"`
	Subject string `toml:"subject"`
}

// MessageConfig bounds composed route messages.
type MessageConfig struct {
	// MaxSize is the byte budget per message; zero means unbounded.
	MaxSize int `toml:"max-size"`

	// MaxParts caps the parts per message; zero means unbounded.
	MaxParts int `toml:"max-parts"`

	// ContentType selects the message bundle.
	ContentType string `toml:"content-type"`
}

// ScreenConfig is the default render target for map images.
type ScreenConfig struct {
	Width  uint16 `toml:"width"`
	Height uint16 `toml:"height"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:      "info",
		Workers:       16,
		PacketTimeout: Duration{5 * time.Second},
		Email: EmailConfig{
			From:    "routes@localhost",
			Subject: "Your route",
		},
		Message: MessageConfig{
			MaxSize:     60 * 1024,
			MaxParts:    0,
			ContentType: "html",
		},
		Screen: ScreenConfig{
			Width:  220,
			Height: 260,
		},
		Policy: PolicyConfig{
			RecoverableStatuses: []uint16{uint16(packet.StatusMapNotFound)},
		},
	}
}

// LoadConfig reads a TOML file over the defaults. Keys absent from the file
// keep their default value.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return config, nil
}
