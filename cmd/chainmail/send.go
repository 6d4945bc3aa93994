package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/chainmail/internal/artifact"
	"github.com/foxzi/chainmail/internal/config"
	"github.com/foxzi/chainmail/internal/dispatch"
	"github.com/foxzi/chainmail/internal/mailer"
	"github.com/foxzi/chainmail/internal/metrics"
	"github.com/foxzi/chainmail/internal/sandbox"
)

var (
	sendTest    bool
	sendWave    int
	sendSandbox bool
	sendTo      string

	testSendTo      string
	testSendSubject string
	testSendBody    string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send the generated mails",
	Long: `Send the generated mails one at a time, pausing between mails and longer
between waves. Test mode routes every mail to TEST_EMAIL. Without --test the
real recipients receive the mails after a short grace delay.`,
	Args: cobra.NoArgs,
	RunE: runSend,
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Testing and debugging commands",
}

var testSMTPCmd = &cobra.Command{
	Use:   "smtp",
	Short: "Check the SMTP relay: connect, STARTTLS, AUTH",
	Args:  cobra.NoArgs,
	RunE:  runTestSMTP,
}

var testSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a single test email through the relay",
	Args:  cobra.NoArgs,
	RunE:  runTestSend,
}

func init() {
	sendCmd.Flags().BoolVar(&sendTest, "test", false, "Send every mail to TEST_EMAIL")
	sendCmd.Flags().IntVar(&sendWave, "wave", 0, "Send a single wave")
	sendCmd.Flags().BoolVar(&sendSandbox, "sandbox", false, "Capture mails in the sandbox store instead of sending")
	sendCmd.Flags().StringVar(&sendTo, "to", "", "Override TEST_EMAIL in test mode")

	testSendCmd.Flags().StringVar(&testSendTo, "to", "", "Recipient email address (defaults to TEST_EMAIL)")
	testSendCmd.Flags().StringVar(&testSendSubject, "subject", "Test message from chainmail", "Email subject")
	testSendCmd.Flags().StringVar(&testSendBody, "body", "This is a test message sent by chainmail.", "Email body")

	testCmd.AddCommand(testSMTPCmd, testSendCmd)
	rootCmd.AddCommand(sendCmd, testCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	m := enableMetrics(cfg)
	defer flushMetrics(m, cfg, logger)

	settings, err := mailer.LoadSettings(cfg.Paths.Env)
	if err != nil {
		return err
	}
	if sendTo != "" {
		settings.TestEmail = sendTo
	}

	var transport dispatch.Transport
	if sendSandbox {
		storage, err := sandbox.OpenStorage(cfg.Sandbox.Path)
		if err != nil {
			return fmt.Errorf("failed to open sandbox store: %w", err)
		}
		defer storage.Close()
		transport = sandbox.NewTransport(storage, logger)
		logger.Info("sandbox mode, mails are captured", "path", cfg.Sandbox.Path)
	} else {
		client, err := newRelayClient(cfg, settings, logger)
		if err != nil {
			return err
		}
		transport = client
	}

	mode := dispatch.ModeProduction
	if sendTest {
		mode = dispatch.ModeTest
	}
	if mode == dispatch.ModeTest && settings.TestEmail == "" {
		return dispatch.ErrMissingTestAddress
	}

	scanner := artifact.NewScanner(cfg.Campaign.Name, logger)
	scan, err := scanner.Scan(cfg.Layout().MailsDir())
	if err != nil {
		if errors.Is(err, artifact.ErrNoArtifacts) {
			return fmt.Errorf("%w (run chainmail generate first)", err)
		}
		return err
	}
	metrics.AddArtifactsSkipped(scan.Skipped)

	mails := scan.FilterWave(sendWave)
	if len(mails) == 0 {
		return dispatch.ErrNoMessages
	}

	logger.Info("ready to send",
		"mode", string(mode),
		"mails", len(mails),
		"wave", waveLabel(sendWave),
		"skipped_artifacts", scan.Skipped,
		"from_manifest", scan.FromManifest,
		"message_delay", cfg.Dispatch.MessageDelay,
	)
	if mode == dispatch.ModeProduction {
		logger.Warn("production mode, press Ctrl+C during the grace delay to cancel", "grace", cfg.Dispatch.GraceDelay)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d := dispatch.New(transport, dispatch.Options{
		Mode:         mode,
		TestAddress:  settings.TestEmail,
		From:         settings.From,
		MessageDelay: cfg.Dispatch.MessageDelay,
		WaveDelay:    cfg.Dispatch.WaveDelay,
		GraceDelay:   cfg.Dispatch.GraceDelay,
	}, logger)
	d.OnState(func(s dispatch.State) {
		logger.Debug("dispatcher state", "state", s.String())
	})

	result, err := d.Run(ctx, mails)
	if err != nil {
		return fmt.Errorf("send aborted: %w", err)
	}

	fmt.Printf("\nSent:   %3d\n", result.Sent)
	fmt.Printf("Failed: %3d\n", result.Failed)
	fmt.Printf("Total:  %3d\n", result.Total)
	for _, f := range result.Failures {
		fmt.Printf("  W%02d-R%d -> %s: %v\n", f.Wave, f.Position, f.To, f.Err)
	}

	return nil
}

// newRelayClient builds the SMTP client, with DKIM signing when configured
func newRelayClient(cfg *config.Config, settings *mailer.Settings, logger *slog.Logger) (*mailer.Client, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if settings.Timeout == 0 {
		settings.Timeout = cfg.Dispatch.Timeout
	}

	client := mailer.NewClient(settings, logger)

	if cfg.DKIM.Enabled {
		signer, err := mailer.NewSignerFromFile(cfg.DKIM.KeyFile, cfg.DKIM.Domain, cfg.DKIM.Selector)
		if err != nil {
			return nil, err
		}
		if !signer.Matches(settings.From) {
			logger.Warn("DKIM domain does not match the sender, mails will be unsigned",
				"dkim_domain", signer.Domain(),
				"from", settings.From,
			)
		}
		client.SetSigner(signer)
	}

	return client, nil
}

func runTestSMTP(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	settings, err := mailer.LoadSettings(cfg.Paths.Env)
	if err != nil {
		return err
	}
	client, err := newRelayClient(cfg, settings, logger)
	if err != nil {
		return err
	}

	fmt.Printf("Connecting to %s...\n", settings.Addr())
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Dispatch.Timeout)
	defer cancel()

	if err := client.Verify(ctx); err != nil {
		return fmt.Errorf("SMTP check failed: %w", err)
	}

	fmt.Printf("SMTP relay OK (%s)\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func runTestSend(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	settings, err := mailer.LoadSettings(cfg.Paths.Env)
	if err != nil {
		return err
	}
	to := testSendTo
	if to == "" {
		to = settings.TestEmail
	}
	if to == "" {
		return dispatch.ErrMissingTestAddress
	}

	client, err := newRelayClient(cfg, settings, logger)
	if err != nil {
		return err
	}

	fmt.Printf("Sending test email...\n")
	fmt.Printf("  From: %s\n", settings.From)
	fmt.Printf("  To: %s\n", to)
	fmt.Printf("  Subject: %s\n", testSendSubject)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Dispatch.Timeout)
	defer cancel()

	err = client.Send(ctx, &mailer.Message{
		From:    settings.From,
		To:      to,
		Subject: testSendSubject,
		Text:    testSendBody,
		Headers: map[string]string{mailer.HeaderNoReply: "true"},
	})
	if err != nil {
		return fmt.Errorf("failed to send test email: %w", err)
	}

	fmt.Println("Test email sent")
	return nil
}

func waveLabel(wave int) string {
	if wave == 0 {
		return "all"
	}
	return fmt.Sprintf("%d", wave)
}
