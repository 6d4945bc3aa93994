package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/foxzi/chainmail/internal/campaign"
	"github.com/foxzi/chainmail/internal/contacts"
	"github.com/foxzi/chainmail/internal/pipeline"
	"github.com/foxzi/chainmail/internal/render"
)

var generateWave int

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert the contact sheet into the campaign JSON",
	Long:  `Read the CSV contact sheet, group recipients by wave and write the campaign JSON file.`,
	Args:  cobra.NoArgs,
	RunE:  runConvert,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Render mails, descriptions and the tracking ledger",
	Long: `Render one HTML and one text mail per recipient, one video description per
wave, the tracking ledger and the artifact manifest under the output directory.`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().IntVar(&generateWave, "wave", 0, "Generate a single wave")

	rootCmd.AddCommand(convertCmd, generateCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	loader := &contacts.Loader{
		Catalog:  campaign.DefaultCatalog(),
		Sender:   cfg.Campaign.Sender,
		Tracking: cfg.Campaign.Links,
		Name:     cfg.Campaign.Name,
	}

	summary, err := loader.ConvertFile(cfg.Paths.Contacts, cfg.Paths.Campaign)
	if err != nil {
		return fmt.Errorf("failed to convert contacts: %w", err)
	}

	logger.Info("campaign written",
		"path", cfg.Paths.Campaign,
		"waves", summary.Waves,
		"recipients", summary.Recipients,
		"placeholders", summary.Placeholders,
	)
	if summary.Placeholders > 0 {
		logger.Warn("recipients still to fill in", "count", summary.Placeholders, "marker", campaign.PlaceholderEmail)
	}

	return nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	m := enableMetrics(cfg)
	defer flushMetrics(m, cfg, logger)

	c, err := campaign.Load(cfg.Paths.Campaign)
	if err != nil {
		return fmt.Errorf("failed to load campaign: %w", err)
	}

	opts := cfg.RenderOptions()
	opts.Links = mergeLinks(opts.Links, c.Tracking)

	renderer, err := render.New(campaign.DefaultCatalog(), opts)
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gen := pipeline.NewGenerator(renderer, cfg.CodeGenerator(), cfg.Paths.Output, logger)
	report, err := gen.Run(ctx, c, generateWave)
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}

	logger.Info("generation complete",
		"output", cfg.Paths.Output,
		"waves", report.Waves,
		"mails", report.Mails,
		"skipped", report.Skipped,
		"ledger_rows", report.LedgerRows,
		"descriptions", report.Descriptions,
	)

	return nil
}

// mergeLinks prefers the links stored in the campaign file
func mergeLinks(base, fromCampaign campaign.Links) campaign.Links {
	if fromCampaign.Bluesky != "" {
		base.Bluesky = fromCampaign.Bluesky
	}
	if fromCampaign.YouTube != "" {
		base.YouTube = fromCampaign.YouTube
	}
	if fromCampaign.Website != "" {
		base.Website = fromCampaign.Website
	}
	return base
}
