package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/chainmail/internal/metrics"
	"github.com/foxzi/chainmail/internal/tracking"
)

var (
	trackServeAddr  string
	trackReportJSON bool
	trackReportAll  bool
)

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Open tracking commands",
}

var trackServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tracking pixel and record opens",
	Args:  cobra.NoArgs,
	RunE:  runTrackServe,
}

var trackReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Join the tracking ledger with recorded opens",
	Args:  cobra.NoArgs,
	RunE:  runTrackReport,
}

func init() {
	trackServeCmd.Flags().StringVar(&trackServeAddr, "listen", "", "Listen address (defaults to tracking.listen_addr)")

	trackReportCmd.Flags().BoolVar(&trackReportJSON, "json", false, "Print the report as JSON")
	trackReportCmd.Flags().BoolVar(&trackReportAll, "codes", false, "List every tracking code")

	trackCmd.AddCommand(trackServeCmd, trackReportCmd)
	rootCmd.AddCommand(trackCmd)
}

func runTrackServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := tracking.OpenOpenStore(cfg.Tracking.Path)
	if err != nil {
		return fmt.Errorf("failed to open open store: %w", err)
	}
	defer store.Close()

	m := metrics.New()
	metrics.SetGlobal(m)

	addr := cfg.Tracking.ListenAddr
	if trackServeAddr != "" {
		addr = trackServeAddr
	}
	srv := tracking.NewServer(addr, store, m, logger)

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
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("tracking server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func runTrackReport(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	ledger, err := tracking.ReadLedger(cfg.Layout().LedgerPath())
	if err != nil {
		return err
	}

	var opens []tracking.Open
	if _, err := os.Stat(cfg.Tracking.Path); err == nil {
		store, err := tracking.OpenOpenStore(cfg.Tracking.Path)
		if err != nil {
			return fmt.Errorf("failed to open open store: %w", err)
		}
		defer store.Close()

		opens, err = store.All(context.Background())
		if err != nil {
			return fmt.Errorf("failed to read opens: %w", err)
		}
	}

	report := tracking.BuildReport(ledger, opens)

	if trackReportJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	if len(report.Waves) == 0 {
		fmt.Println("No tracking codes in ledger")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WAVE\tRECIPIENTS\tOPENED\tOPENS\tRATE")
	fmt.Fprintln(w, "----\t----------\t------\t-----\t----")
	for _, ws := range report.Waves {
		fmt.Fprintf(w, "%02d\t%d\t%d\t%d\t%.0f%%\n", ws.Wave, ws.Recipients, ws.Opened, ws.Opens, ws.OpenRate*100)
	}
	w.Flush()

	if trackReportAll {
		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CODE\tEMAIL\tOPENS\tLAST OPEN")
		fmt.Fprintln(w, "----\t-----\t-----\t---------")
		for _, cs := range report.Codes {
			last := "-"
			if !cs.LastOpen.IsZero() {
				last = cs.LastOpen.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", cs.Code, cs.Email, cs.Opens, last)
		}
		w.Flush()
	}

	if report.Unknown > 0 {
		fmt.Printf("\nOpens with unknown codes: %d\n", report.Unknown)
	}

	return nil
}
