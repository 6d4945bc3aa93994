package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/foxzi/chainmail/internal/artifact"
	"github.com/foxzi/chainmail/internal/campaign"
	"github.com/foxzi/chainmail/internal/render"
	"github.com/foxzi/chainmail/internal/tracking"
)

// Config is the main configuration structure
type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	Campaign CampaignConfig `yaml:"campaign"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	DKIM     DKIMConfig     `yaml:"dkim"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Tracking TrackingConfig `yaml:"tracking"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// PathsConfig contains input and output locations
type PathsConfig struct {
	Contacts string `yaml:"contacts"` // Contact sheet, default data/contacts.csv
	Campaign string `yaml:"campaign"` // Intermediate JSON, default data/waves.json
	Output   string `yaml:"output"`   // Artifact root, default output
	Env      string `yaml:"env"`      // Dotenv file with SMTP settings, default .env
}

// CampaignConfig contains the copy shared by every mail
type CampaignConfig struct {
	Name              string          `yaml:"name"`
	TotalWaves        int             `yaml:"total_waves"`
	RecipientsPerWave int             `yaml:"recipients_per_wave"`
	Sender            campaign.Sender `yaml:"sender"`
	Links             campaign.Links  `yaml:"links"`
	Stats             []render.Stat   `yaml:"stats"`
	Signature         string          `yaml:"signature"`
	PixelBaseURL      string          `yaml:"pixel_base_url"`
	Facts             []string        `yaml:"facts"`
	Hashtags          string          `yaml:"hashtags"`
	PlaylistURL       string          `yaml:"playlist_url"`
}

// DispatchConfig contains pacing settings
type DispatchConfig struct {
	MessageDelay time.Duration `yaml:"message_delay"` // Default: 5s
	WaveDelay    time.Duration `yaml:"wave_delay"`    // Default: 60s
	GraceDelay   time.Duration `yaml:"grace_delay"`   // Default: 10s, production only
	Timeout      time.Duration `yaml:"timeout"`       // SMTP dial and session timeout, default 30s
}

// DKIMConfig contains DKIM signing settings
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
}

// SandboxConfig contains capture store and local SMTP server settings
type SandboxConfig struct {
	Path            string            `yaml:"path"`        // Default: output/sandbox.db
	ListenAddr      string            `yaml:"listen_addr"` // Default: 127.0.0.1:2525
	Domain          string            `yaml:"domain"`
	Users           map[string]string `yaml:"users"` // Empty accepts any credentials
	MaxMessageBytes int64             `yaml:"max_message_bytes"`
	// TLSCert and TLSKey enable STARTTLS on the capture server
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
}

// TrackingConfig contains code generation and pixel server settings
type TrackingConfig struct {
	Codes      string `yaml:"codes"`       // hash or random, default hash
	ListenAddr string `yaml:"listen_addr"` // Default: :8090
	Path       string `yaml:"path"`        // Open store, default output/opens.db
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Textfile string `yaml:"textfile"` // node_exporter textfile written after generate and send
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load loads configuration from a YAML file. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Paths.Contacts == "" {
		c.Paths.Contacts = "data/contacts.csv"
	}
	if c.Paths.Campaign == "" {
		c.Paths.Campaign = "data/waves.json"
	}
	if c.Paths.Output == "" {
		c.Paths.Output = "output"
	}
	if c.Paths.Env == "" {
		c.Paths.Env = ".env"
	}

	def := render.DefaultOptions()
	if c.Campaign.Name == "" {
		c.Campaign.Name = def.Name
	}
	if c.Campaign.TotalWaves == 0 {
		c.Campaign.TotalWaves = def.TotalWaves
	}
	if c.Campaign.RecipientsPerWave == 0 {
		c.Campaign.RecipientsPerWave = def.RecipientsPerWave
	}
	if c.Campaign.Sender.Email == "" {
		c.Campaign.Sender.Email = "noreply@constellation.void"
	}
	if c.Campaign.Sender.Name == "" {
		c.Campaign.Sender.Name = "✧"
	}
	if c.Campaign.Links.Bluesky == "" {
		c.Campaign.Links.Bluesky = def.Links.Bluesky
	}
	if c.Campaign.Links.YouTube == "" {
		c.Campaign.Links.YouTube = def.Links.YouTube
	}
	if c.Campaign.Links.Website == "" {
		c.Campaign.Links.Website = def.Links.Website
	}
	if len(c.Campaign.Stats) == 0 {
		c.Campaign.Stats = def.Stats
	}
	if c.Campaign.Signature == "" {
		c.Campaign.Signature = def.Signature
	}
	if len(c.Campaign.Facts) == 0 {
		c.Campaign.Facts = def.Facts
	}
	if c.Campaign.Hashtags == "" {
		c.Campaign.Hashtags = def.Hashtags
	}

	if c.Dispatch.MessageDelay == 0 {
		c.Dispatch.MessageDelay = 5 * time.Second
	}
	if c.Dispatch.WaveDelay == 0 {
		c.Dispatch.WaveDelay = 60 * time.Second
	}
	if c.Dispatch.GraceDelay == 0 {
		c.Dispatch.GraceDelay = 10 * time.Second
	}
	if c.Dispatch.Timeout == 0 {
		c.Dispatch.Timeout = 30 * time.Second
	}

	if c.DKIM.Domain == "" && c.DKIM.Enabled {
		c.DKIM.Domain = c.Campaign.Sender.Domain()
	}

	if c.Sandbox.Path == "" {
		c.Sandbox.Path = "output/sandbox.db"
	}
	if c.Sandbox.ListenAddr == "" {
		c.Sandbox.ListenAddr = "127.0.0.1:2525"
	}
	if c.Sandbox.Domain == "" {
		c.Sandbox.Domain = "localhost"
	}
	if c.Sandbox.MaxMessageBytes == 0 {
		c.Sandbox.MaxMessageBytes = 10 * 1024 * 1024 // 10MB
	}

	if c.Tracking.Codes == "" {
		c.Tracking.Codes = "hash"
	}
	if c.Tracking.ListenAddr == "" {
		c.Tracking.ListenAddr = ":8090"
	}
	if c.Tracking.Path == "" {
		c.Tracking.Path = "output/opens.db"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Campaign.TotalWaves < 1 {
		return fmt.Errorf("campaign.total_waves must be positive")
	}

	if c.Dispatch.MessageDelay < 0 || c.Dispatch.WaveDelay < 0 || c.Dispatch.GraceDelay < 0 {
		return fmt.Errorf("dispatch delays must not be negative")
	}
	if c.Dispatch.WaveDelay < c.Dispatch.MessageDelay {
		return fmt.Errorf("dispatch.wave_delay (%s) must not be shorter than dispatch.message_delay (%s)",
			c.Dispatch.WaveDelay, c.Dispatch.MessageDelay)
	}

	if c.Tracking.Codes != "hash" && c.Tracking.Codes != "random" {
		return fmt.Errorf("invalid tracking.codes: %s (must be hash or random)", c.Tracking.Codes)
	}

	if (c.Sandbox.TLSCert == "") != (c.Sandbox.TLSKey == "") {
		return fmt.Errorf("sandbox.tls_cert and sandbox.tls_key must be set together")
	}

	if err := c.validateDKIM(); err != nil {
		return err
	}

	return nil
}

// validateDKIM validates DKIM configuration
func (c *Config) validateDKIM() error {
	if !c.DKIM.Enabled {
		return nil
	}

	if c.DKIM.Selector == "" {
		return fmt.Errorf("dkim.selector is required when DKIM is enabled")
	}
	if c.DKIM.KeyFile == "" {
		return fmt.Errorf("dkim.key_file is required when DKIM is enabled")
	}
	if c.DKIM.Domain == "" {
		return fmt.Errorf("dkim.domain is required when DKIM is enabled")
	}

	return nil
}

// RenderOptions returns the renderer copy
func (c *Config) RenderOptions() render.Options {
	return render.Options{
		Name:              c.Campaign.Name,
		Links:             c.Campaign.Links,
		PixelBaseURL:      c.Campaign.PixelBaseURL,
		TotalWaves:        c.Campaign.TotalWaves,
		RecipientsPerWave: c.Campaign.RecipientsPerWave,
		Stats:             c.Campaign.Stats,
		Signature:         c.Campaign.Signature,
		Facts:             c.Campaign.Facts,
		Hashtags:          c.Campaign.Hashtags,
		PlaylistURL:       c.Campaign.PlaylistURL,
	}
}

// CodeGenerator returns the configured tracking code generator
func (c *Config) CodeGenerator() tracking.Generator {
	if c.Tracking.Codes == "random" {
		return tracking.RandomGenerator{}
	}
	return tracking.HashGenerator{}
}

// Layout returns the artifact layout under the output directory
func (c *Config) Layout() artifact.Layout {
	return artifact.Layout{Root: c.Paths.Output}
}
