// Package config loads the YAML configuration file shared by the queue, web,
// and worker binaries.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as "90s", "5m",
// and so on.
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MailConfig holds the SMTP transport settings for outbound result mail.
type MailConfig struct {
	SMTPHost    string `yaml:"smtpHost"`
	SMTPPort    int    `yaml:"smtpPort"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	FromAddress string `yaml:"fromAddress"`
	FromName    string `yaml:"fromName"`
}

// Config is the full configuration surface of the service. One file is shared
// by all three binaries; each reads the fields it needs.
type Config struct {
	QueueServerAddress string `yaml:"queueServerAddress"`
	QueueServerPort    int    `yaml:"queueServerPort"`
	RequestSecret      string `yaml:"requestSecret"`

	// Worker-side heartbeat cadence; queue-side reclaim window.
	KeepAliveInterval Duration `yaml:"keepAliveInterval"`
	HeartbeatTimeout  Duration `yaml:"heartbeatTimeout"`

	// Web-side worker-availability cache window.
	KeepAliveTimeout Duration `yaml:"keepAliveTimeout"`

	ConfirmTimeout Duration `yaml:"confirmTimeout"`
	PollInterval   Duration `yaml:"pollInterval"`
	ErrorSleepTime Duration `yaml:"errorSleepTime"`
	MaxErrors      int      `yaml:"maxErrors"`

	ModelDirectory    string `yaml:"modelDirectory"`
	ModelRescanEvery  string `yaml:"modelRescanEvery"`
	WorkingDirectory  string `yaml:"workingDirectory"`
	WorkerMetricsPort int    `yaml:"workerMetricsPort"`

	// Base URL of the web front-end, used to build confirmation links.
	WebBaseURL string `yaml:"webBaseURL"`

	// Optional Postgres DSN; when set, terminal task outcomes are archived.
	ArchiveDSN string `yaml:"archiveDSN"`

	Mail MailConfig `yaml:"mail"`
}

// Load reads, parses, and defaults the configuration at path. A missing file
// or an invalid field is a fatal configuration error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.QueueServerAddress == "" {
		c.QueueServerAddress = "127.0.0.1"
	}
	if c.QueueServerPort == 0 {
		c.QueueServerPort = 9000
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = Duration(30 * time.Second)
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = Duration(2 * time.Minute)
	}
	if c.KeepAliveTimeout == 0 {
		c.KeepAliveTimeout = Duration(1 * time.Minute)
	}
	if c.ConfirmTimeout == 0 {
		c.ConfirmTimeout = Duration(24 * time.Hour)
	}
	if c.PollInterval == 0 {
		c.PollInterval = Duration(10 * time.Second)
	}
	if c.ErrorSleepTime == 0 {
		c.ErrorSleepTime = Duration(10 * time.Second)
	}
	if c.MaxErrors == 0 {
		c.MaxErrors = 3
	}
	if c.ModelRescanEvery == "" {
		c.ModelRescanEvery = "@every 1m"
	}
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = os.TempDir()
	}
	if c.WorkerMetricsPort == 0 {
		c.WorkerMetricsPort = 9091
	}
	if c.WebBaseURL == "" {
		c.WebBaseURL = "http://localhost:8000"
	}
	if c.Mail.SMTPPort == 0 {
		c.Mail.SMTPPort = 25
	}
}

func (c *Config) validate() error {
	if c.RequestSecret == "" {
		return fmt.Errorf("config: requestSecret must be set")
	}
	if c.ModelDirectory == "" {
		return fmt.Errorf("config: modelDirectory must be set")
	}
	return nil
}

// QueueURL returns the base URL of the queue server's HTTP API.
func (c *Config) QueueURL() string {
	return fmt.Sprintf("http://%s:%d", c.QueueServerAddress, c.QueueServerPort)
}
