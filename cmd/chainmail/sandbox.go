package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/spf13/cobra"

	"github.com/foxzi/chainmail/internal/config"
	"github.com/foxzi/chainmail/internal/sandbox"
)

var (
	sandboxListWave   int
	sandboxListTo     string
	sandboxListSource string
	sandboxListLimit  int
	sandboxShowFormat string
	sandboxClearDays  int
	sandboxServeAddr  string
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Capture store and local SMTP rehearsal server",
}

var sandboxServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a local SMTP server that captures every mail",
	Args:  cobra.NoArgs,
	RunE:  runSandboxServe,
}

var sandboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List captured messages",
	Args:  cobra.NoArgs,
	RunE:  runSandboxList,
}

var sandboxShowCmd = &cobra.Command{
	Use:   "show <message_id>",
	Short: "Show a captured message",
	Args:  cobra.ExactArgs(1),
	RunE:  runSandboxShow,
}

var sandboxExportCmd = &cobra.Command{
	Use:   "export <message_id>",
	Short: "Export a captured message to an .eml file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSandboxExport,
}

var sandboxClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear captured messages",
	Args:  cobra.NoArgs,
	RunE:  runSandboxClear,
}

var sandboxStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show capture statistics",
	Args:  cobra.NoArgs,
	RunE:  runSandboxStats,
}

func init() {
	sandboxServeCmd.Flags().StringVar(&sandboxServeAddr, "listen", "", "Listen address (defaults to sandbox.listen_addr)")

	sandboxListCmd.Flags().IntVar(&sandboxListWave, "wave", 0, "Filter by wave")
	sandboxListCmd.Flags().StringVar(&sandboxListTo, "to", "", "Filter by recipient")
	sandboxListCmd.Flags().StringVar(&sandboxListSource, "source", "", "Filter by source (transport, smtp)")
	sandboxListCmd.Flags().IntVar(&sandboxListLimit, "limit", 50, "Maximum number of messages")

	sandboxShowCmd.Flags().StringVar(&sandboxShowFormat, "format", "text", "Output format (text, raw, html)")

	sandboxClearCmd.Flags().IntVar(&sandboxClearDays, "older-than", 0, "Clear messages older than N days")

	sandboxCmd.AddCommand(sandboxServeCmd, sandboxListCmd, sandboxShowCmd, sandboxExportCmd, sandboxClearCmd, sandboxStatsCmd)
	rootCmd.AddCommand(sandboxCmd)
}

func openSandboxStorage() (*sandbox.Storage, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	storage, err := sandbox.OpenStorage(cfg.Sandbox.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sandbox store: %w", err)
	}

	return storage, nil
}

func runSandboxServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	storage, err := sandbox.OpenStorage(cfg.Sandbox.Path)
	if err != nil {
		return fmt.Errorf("failed to open sandbox store: %w", err)
	}
	defer storage.Close()

	addr := cfg.Sandbox.ListenAddr
	if sandboxServeAddr != "" {
		addr = sandboxServeAddr
	}

	opts := sandbox.ServerOptions{
		Addr:            addr,
		Domain:          cfg.Sandbox.Domain,
		Users:           cfg.Sandbox.Users,
		MaxMessageBytes: cfg.Sandbox.MaxMessageBytes,
	}
	if cfg.Sandbox.TLSCert != "" {
		cert, err := tls.LoadX509KeyPair(cfg.Sandbox.TLSCert, cfg.Sandbox.TLSKey)
		if err != nil {
			return fmt.Errorf("failed to load sandbox certificate: %w", err)
		}
		opts.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	srv := sandbox.NewServer(opts, storage, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, smtp.ErrServerClosed) {
			return fmt.Errorf("sandbox server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func runSandboxList(cmd *cobra.Command, args []string) error {
	storage, err := openSandboxStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	messages, err := storage.List(context.Background(), sandbox.ListFilter{
		Wave:   sandboxListWave,
		To:     sandboxListTo,
		Source: sandboxListSource,
		Limit:  sandboxListLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}

	if len(messages) == 0 {
		fmt.Println("No messages in sandbox")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWAVE\tPOS\tTO\tSUBJECT\tSOURCE\tCAPTURED")
	fmt.Fprintln(w, "--\t----\t---\t--\t-------\t------\t--------")

	for _, msg := range messages {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\t%s\n",
			truncateID(msg.ID),
			msg.Wave,
			msg.Position,
			truncate(strings.Join(msg.To, ", "), 30),
			truncate(msg.Subject, 30),
			msg.Source,
			msg.CapturedAt.Format("2006-01-02 15:04"),
		)
	}

	w.Flush()
	fmt.Printf("\nTotal: %d messages\n", len(messages))

	return nil
}

func runSandboxShow(cmd *cobra.Command, args []string) error {
	storage, err := openSandboxStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	msg, err := storage.Get(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get message: %w", err)
	}
	if msg == nil {
		return fmt.Errorf("message not found: %s", args[0])
	}

	switch sandboxShowFormat {
	case "raw":
		fmt.Println(string(msg.Data))
		return nil

	case "html":
		body, ok, err := msg.Body("text/html")
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("message %s has no HTML part", msg.ID)
		}
		fmt.Println(body)
		return nil

	default:
		fmt.Printf("Message: %s\n\n", msg.ID)
		fmt.Printf("From:       %s\n", msg.From)
		fmt.Printf("To:         %s\n", strings.Join(msg.To, ", "))
		fmt.Printf("Subject:    %s\n", msg.Subject)
		if msg.Wave > 0 {
			fmt.Printf("Wave:       %d (recipient %d)\n", msg.Wave, msg.Position)
		}
		if msg.TrackingCode != "" {
			fmt.Printf("Tracking:   %s\n", msg.TrackingCode)
		}
		fmt.Printf("Source:     %s\n", msg.Source)
		fmt.Printf("Captured:   %s\n", msg.CapturedAt.Format(time.RFC3339))
		if msg.ClientIP != "" {
			fmt.Printf("Client IP:  %s\n", msg.ClientIP)
		}
		if msg.AuthUser != "" {
			fmt.Printf("Auth user:  %s\n", msg.AuthUser)
		}

		if text, ok, err := msg.Body("text/plain"); err == nil && ok {
			fmt.Println("\n---")
			fmt.Println(truncate(text, 1000))
			fmt.Println("---")
		}
		return nil
	}
}

func runSandboxExport(cmd *cobra.Command, args []string) error {
	storage, err := openSandboxStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	msg, err := storage.Get(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get message: %w", err)
	}
	if msg == nil {
		return fmt.Errorf("message not found: %s", args[0])
	}

	filename := fmt.Sprintf("%s.eml", msg.ID)
	if err := os.WriteFile(filename, msg.Data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	fmt.Printf("Message exported to: %s\n", filename)
	return nil
}

func runSandboxClear(cmd *cobra.Command, args []string) error {
	storage, err := openSandboxStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	var olderThan time.Duration
	if sandboxClearDays > 0 {
		olderThan = time.Duration(sandboxClearDays) * 24 * time.Hour
	}

	count, err := storage.Clear(context.Background(), olderThan)
	if err != nil {
		return fmt.Errorf("failed to clear sandbox: %w", err)
	}

	fmt.Printf("Cleared %d messages from sandbox\n", count)
	return nil
}

func runSandboxStats(cmd *cobra.Command, args []string) error {
	storage, err := openSandboxStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	stats, err := storage.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get sandbox stats: %w", err)
	}

	fmt.Println("Sandbox Statistics")
	fmt.Println("==================")
	fmt.Printf("Total Messages: %d\n", stats.Total)
	fmt.Printf("Total Size:     %d bytes\n", stats.TotalSize)

	if len(stats.ByWave) > 0 {
		waves := make([]int, 0, len(stats.ByWave))
		for wave := range stats.ByWave {
			waves = append(waves, wave)
		}
		sort.Ints(waves)

		fmt.Println("\nBy Wave:")
		for _, wave := range waves {
			fmt.Printf("  %02d: %d\n", wave, stats.ByWave[wave])
		}
	}

	if len(stats.BySource) > 0 {
		fmt.Println("\nBy Source:")
		for source, count := range stats.BySource {
			fmt.Printf("  %s: %d\n", source, count)
		}
	}

	if stats.OldestAt != nil {
		fmt.Printf("\nOldest Message: %s\n", stats.OldestAt.Format(time.RFC3339))
	}
	if stats.NewestAt != nil {
		fmt.Printf("Newest Message: %s\n", stats.NewestAt.Format(time.RFC3339))
	}

	return nil
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
