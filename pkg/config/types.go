package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
	Chat     ChatConfig     `yaml:"chat"`
	Presence PresenceConfig `yaml:"presence"`
	Outbox   OutboxConfig   `yaml:"outbox"`
	Uploads  UploadsConfig  `yaml:"uploads"`

	Validation ValidationConfig `yaml:"validation"`
}

// ServerConfig holds http and tls settings.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	DBPath  string    `yaml:"db_path"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SecurityConfig holds security related settings.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	JWT struct {
		Secret string `yaml:"secret"`
	} `yaml:"jwt"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ChatConfig holds messaging tunables.
type ChatConfig struct {
	// EditWindow bounds how long a sender may edit a message. Default 15m.
	EditWindow Duration `yaml:"edit_window"`
	// PageSize is the default page size for chat and message listings.
	PageSize int `yaml:"page_size"`
	// MaxContentBytes caps plaintext message content.
	MaxContentBytes SizeBytes `yaml:"max_content_bytes"`
}

// PresenceConfig controls the presence registry.
type PresenceConfig struct {
	// RefreshInterval is the per-connection lastActive refresh tick. Default 30s.
	RefreshInterval Duration `yaml:"refresh_interval"`
}

// OutboxConfig holds the side-effect queue and redrive configuration.
type OutboxConfig struct {
	Queue   OutboxQueueConfig `yaml:"queue"`
	Redrive RedriveConfig     `yaml:"redrive"`
}

// OutboxQueueConfig sizes the in-memory nudge queue.
type OutboxQueueConfig struct {
	Capacity             int       `yaml:"capacity"`
	MaxPooledBufferBytes SizeBytes `yaml:"max_pooled_buffer_bytes"`
}

// RedriveConfig schedules the scan that re-enqueues stale pending effects.
type RedriveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	// MinAge is how old a pending effect must be before redrive picks it up.
	MinAge Duration `yaml:"min_age"`
}

// UploadsConfig configures the local attachment store.
type UploadsConfig struct {
	Dir      string    `yaml:"dir"`
	MaxBytes SizeBytes `yaml:"max_bytes"`
}

// ValidationConfig is the operator-supplied message validation layer,
// applied on top of the service's built-in checks.
type ValidationConfig struct {
	Required []string        `yaml:"required"`
	Types    []PathTypeRule  `yaml:"types"`
	MaxLen   []PathMaxRule   `yaml:"max_len"`
	Enums    []PathEnumRule  `yaml:"enums"`
	WhenThen []WhenThenEntry `yaml:"when_then"`
}

type PathTypeRule struct {
	Path string `yaml:"path"`
	Type string `yaml:"type"`
}

type PathMaxRule struct {
	Path string `yaml:"path"`
	Max  int    `yaml:"max"`
}

type PathEnumRule struct {
	Path   string   `yaml:"path"`
	Values []string `yaml:"values"`
}

type WhenThenEntry struct {
	When struct {
		Path   string      `yaml:"path"`
		Equals interface{} `yaml:"equals"`
	} `yaml:"when"`
	Then struct {
		Required []string `yaml:"required"`
	} `yaml:"then"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
