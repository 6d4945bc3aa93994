package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/foxzi/chainmail/internal/campaign"
	"github.com/foxzi/chainmail/internal/config"
	"github.com/foxzi/chainmail/internal/sandbox"
	"github.com/foxzi/chainmail/internal/tracking"
)

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		cfg   config.LoggingConfig
		level slog.Level
	}{
		{config.LoggingConfig{Level: "debug", Format: "text"}, slog.LevelDebug},
		{config.LoggingConfig{Level: "info", Format: "json"}, slog.LevelInfo},
		{config.LoggingConfig{Level: "warn", Format: "text"}, slog.LevelWarn},
		{config.LoggingConfig{Level: "error", Format: "json"}, slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.cfg.Level+"/"+tt.cfg.Format, func(t *testing.T) {
			logger := setupLogger(tt.cfg)
			ctx := context.Background()
			if !logger.Enabled(ctx, tt.level) {
				t.Errorf("level %v disabled", tt.level)
			}
			if tt.level > slog.LevelDebug && logger.Enabled(ctx, tt.level-4) {
				t.Errorf("level below %v enabled", tt.level)
			}
		})
	}
}

func TestMergeLinks(t *testing.T) {
	base := campaign.Links{Bluesky: "b", YouTube: "y", Website: "w"}
	got := mergeLinks(base, campaign.Links{YouTube: "from-file"})
	want := campaign.Links{Bluesky: "b", YouTube: "from-file", Website: "w"}
	if got != want {
		t.Errorf("mergeLinks() = %+v, want %+v", got, want)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this one is too long", 10, "this on..."},
		{"système système", 10, "système..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestConvertGenerateSendSandbox(t *testing.T) {
	dir := t.TempDir()

	csv := "wave_id,recipient_index,email,name,context,angle,video_id\n" +
		"1,2,b@example.com,Bob,,,vid1\n" +
		"1,1,a@example.com,Alice,\"ctx, with comma\",,\n" +
		"2,1,c@example.com,,,,\n" +
		"2,2,TODO,,,,\n"
	contactsPath := filepath.Join(dir, "contacts.csv")
	if err := os.WriteFile(contactsPath, []byte(csv), 0644); err != nil {
		t.Fatal(err)
	}

	cfgContent := "paths:\n" +
		"  contacts: " + contactsPath + "\n" +
		"  campaign: " + filepath.Join(dir, "waves.json") + "\n" +
		"  output: " + filepath.Join(dir, "output") + "\n" +
		"  env: " + filepath.Join(dir, "missing.env") + "\n" +
		"dispatch:\n" +
		"  message_delay: 1ms\n" +
		"  wave_delay: 2ms\n" +
		"  grace_delay: 1ms\n" +
		"sandbox:\n" +
		"  path: " + filepath.Join(dir, "sandbox.db") + "\n" +
		"metrics:\n" +
		"  textfile: " + filepath.Join(dir, "metrics", "chainmail.prom") + "\n" +
		"logging:\n" +
		"  level: error\n"
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfgContent), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TEST_EMAIL", "rehearsal@example.org")

	for _, args := range [][]string{
		{"-c", cfgPath, "convert"},
		{"-c", cfgPath, "generate"},
		{"-c", cfgPath, "send", "--test", "--sandbox"},
	} {
		rootCmd.SetArgs(args)
		if err := rootCmd.Execute(); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
	}

	ledger, err := tracking.ReadLedger(filepath.Join(dir, "output", "tracking-codes.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if len(ledger) != 3 {
		t.Errorf("ledger has %d rows, want 3", len(ledger))
	}

	storage, err := sandbox.OpenStorage(filepath.Join(dir, "sandbox.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer storage.Close()

	captured, err := storage.List(context.Background(), sandbox.ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(captured) != 3 {
		t.Fatalf("captured %d messages, want 3", len(captured))
	}
	for _, msg := range captured {
		if len(msg.To) != 1 || msg.To[0] != "rehearsal@example.org" {
			t.Errorf("message routed to %v", msg.To)
		}
		if msg.TrackingCode == "" {
			t.Error("captured message has no tracking code")
		}
	}

	prom, err := os.ReadFile(filepath.Join(dir, "metrics", "chainmail.prom"))
	if err != nil {
		t.Fatalf("metrics textfile not written: %v", err)
	}
	if !strings.Contains(string(prom), "chainmail_messages_sent_total") {
		t.Error("metrics textfile has no sent counter")
	}
}
