package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/foxzi/chainmail/internal/tracking"
)

func TestLoad(t *testing.T) {
	content := `
paths:
  contacts: "in/contacts.csv"
  campaign: "in/waves.json"
  output: "/tmp/out"

campaign:
  name: "THE NETWORK"
  total_waves: 12
  sender:
    email: "hello@network.test"
    name: "Network"
  links:
    bluesky: "https://bsky.app/profile/network.test"
  stats:
    - value: "12"
      label: "messages"
  pixel_base_url: "https://network.test/t/"

dispatch:
  message_delay: 2s
  wave_delay: 30s
  grace_delay: 1s

dkim:
  enabled: true
  selector: "cm1"
  key_file: "/etc/chainmail/dkim.pem"

sandbox:
  listen_addr: ":2526"
  users:
    rehearsal: "secret"

tracking:
  codes: random
  listen_addr: ":9000"

metrics:
  textfile: "/var/lib/node_exporter/chainmail.prom"

logging:
  level: "debug"
  format: "json"
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Paths.Contacts != "in/contacts.csv" {
		t.Errorf("Paths.Contacts = %v", cfg.Paths.Contacts)
	}
	if cfg.Paths.Env != ".env" {
		t.Errorf("Paths.Env = %v, want .env", cfg.Paths.Env)
	}
	if cfg.Campaign.Name != "THE NETWORK" || cfg.Campaign.TotalWaves != 12 {
		t.Errorf("Campaign = %q/%d", cfg.Campaign.Name, cfg.Campaign.TotalWaves)
	}
	if cfg.Campaign.Links.Bluesky != "https://bsky.app/profile/network.test" {
		t.Errorf("Links.Bluesky = %v", cfg.Campaign.Links.Bluesky)
	}
	if cfg.Campaign.Links.YouTube == "" {
		t.Error("Links.YouTube should fall back to the default")
	}
	if len(cfg.Campaign.Stats) != 1 || cfg.Campaign.Stats[0].Label != "messages" {
		t.Errorf("Stats = %+v", cfg.Campaign.Stats)
	}
	if cfg.Dispatch.MessageDelay != 2*time.Second || cfg.Dispatch.WaveDelay != 30*time.Second {
		t.Errorf("Dispatch = %+v", cfg.Dispatch)
	}
	if cfg.Dispatch.Timeout != 30*time.Second {
		t.Errorf("Dispatch.Timeout = %v, want 30s", cfg.Dispatch.Timeout)
	}
	if cfg.DKIM.Domain != "network.test" {
		t.Errorf("DKIM.Domain = %v, want sender domain", cfg.DKIM.Domain)
	}
	if cfg.Sandbox.Users["rehearsal"] != "secret" {
		t.Errorf("Sandbox.Users = %v", cfg.Sandbox.Users)
	}
	if cfg.Metrics.Textfile != "/var/lib/node_exporter/chainmail.prom" {
		t.Errorf("Metrics.Textfile = %v", cfg.Metrics.Textfile)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}

	if _, ok := cfg.CodeGenerator().(tracking.RandomGenerator); !ok {
		t.Errorf("CodeGenerator() = %T, want RandomGenerator", cfg.CodeGenerator())
	}
	if cfg.Layout().LedgerPath() != filepath.Join("/tmp/out", "tracking-codes.csv") {
		t.Errorf("LedgerPath() = %v", cfg.Layout().LedgerPath())
	}

	opts := cfg.RenderOptions()
	if opts.Name != "THE NETWORK" || opts.PixelBaseURL != "https://network.test/t/" || opts.TotalWaves != 12 {
		t.Errorf("RenderOptions() = %+v", opts)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Paths.Campaign != "data/waves.json" {
		t.Errorf("Paths.Campaign = %v", cfg.Paths.Campaign)
	}
	if cfg.Paths.Output != "output" {
		t.Errorf("Paths.Output = %v", cfg.Paths.Output)
	}
	if cfg.Campaign.TotalWaves != 42 || cfg.Campaign.RecipientsPerWave != 9 {
		t.Errorf("Campaign totals = %d/%d", cfg.Campaign.TotalWaves, cfg.Campaign.RecipientsPerWave)
	}
	if cfg.Campaign.Sender.String() != "✧ <noreply@constellation.void>" {
		t.Errorf("Sender = %v", cfg.Campaign.Sender)
	}
	if cfg.Dispatch.MessageDelay != 5*time.Second {
		t.Errorf("MessageDelay = %v, want 5s", cfg.Dispatch.MessageDelay)
	}
	if cfg.Dispatch.WaveDelay != time.Minute {
		t.Errorf("WaveDelay = %v, want 1m", cfg.Dispatch.WaveDelay)
	}
	if cfg.Dispatch.GraceDelay != 10*time.Second {
		t.Errorf("GraceDelay = %v, want 10s", cfg.Dispatch.GraceDelay)
	}
	if cfg.Sandbox.ListenAddr != "127.0.0.1:2525" {
		t.Errorf("Sandbox.ListenAddr = %v", cfg.Sandbox.ListenAddr)
	}
	if cfg.Tracking.Codes != "hash" {
		t.Errorf("Tracking.Codes = %v", cfg.Tracking.Codes)
	}
	if _, ok := cfg.CodeGenerator().(tracking.HashGenerator); !ok {
		t.Errorf("CodeGenerator() = %T", cfg.CodeGenerator())
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.DKIM.Domain != "" {
		t.Errorf("DKIM.Domain = %v, want empty when disabled", cfg.DKIM.Domain)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("paths: [unclosed"), 0644)
	if _, err := Load(bad); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			modify: func(c *Config) {},
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Logging.Level = "trace" },
			wantErr: "logging.level",
		},
		{
			name:    "invalid log format",
			modify:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name:    "wave delay shorter than message delay",
			modify:  func(c *Config) { c.Dispatch.WaveDelay = time.Second },
			wantErr: "wave_delay",
		},
		{
			name:    "negative delay",
			modify:  func(c *Config) { c.Dispatch.GraceDelay = -time.Second },
			wantErr: "negative",
		},
		{
			name:    "sandbox cert without key",
			modify:  func(c *Config) { c.Sandbox.TLSCert = "cert.pem" },
			wantErr: "sandbox.tls_cert",
		},
		{
			name:    "unknown code generator",
			modify:  func(c *Config) { c.Tracking.Codes = "sequential" },
			wantErr: "tracking.codes",
		},
		{
			name: "dkim without selector",
			modify: func(c *Config) {
				c.DKIM = DKIMConfig{Enabled: true, Domain: "a.test", KeyFile: "k.pem"}
			},
			wantErr: "dkim.selector",
		},
		{
			name: "dkim without key",
			modify: func(c *Config) {
				c.DKIM = DKIMConfig{Enabled: true, Domain: "a.test", Selector: "s"}
			},
			wantErr: "dkim.key_file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.setDefaults()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
