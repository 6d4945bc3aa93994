package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/chainmail/internal/dnscheck"
	"github.com/foxzi/chainmail/internal/mailer"
)

var (
	dkimDomain   string
	dkimSelector string
	dkimKeyFile  string
	dkimOutDir   string
)

var dkimCmd = &cobra.Command{
	Use:   "dkim",
	Short: "DKIM key management commands",
}

var dkimGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new DKIM key pair",
	Long:  `Generate a new RSA 2048-bit DKIM key pair and output DNS record.`,
	RunE:  runDKIMGenerate,
}

var dkimShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show DKIM DNS record from existing key",
	Long:  `Show the DNS TXT record for an existing DKIM private key.`,
	RunE:  runDKIMShow,
}

var dkimCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the sender domain's SPF, DKIM and DMARC records",
	Long: `Look up the SPF, DKIM and DMARC records of the sender domain. When a DKIM
key file is configured the published key must match it.`,
	Args: cobra.NoArgs,
	RunE: runDKIMCheck,
}

func init() {
	dkimGenerateCmd.Flags().StringVar(&dkimDomain, "domain", "", "Domain name (defaults to the sender domain)")
	dkimGenerateCmd.Flags().StringVar(&dkimSelector, "selector", "chainmail", "DKIM selector")
	dkimGenerateCmd.Flags().StringVar(&dkimOutDir, "out", ".", "Output directory for key file")

	dkimShowCmd.Flags().StringVar(&dkimKeyFile, "key", "", "Path to private key file (defaults to dkim.key_file)")
	dkimShowCmd.Flags().StringVar(&dkimDomain, "domain", "", "Domain name (defaults to dkim.domain)")
	dkimShowCmd.Flags().StringVar(&dkimSelector, "selector", "", "DKIM selector (defaults to dkim.selector)")

	dkimCheckCmd.Flags().StringVar(&dkimDomain, "domain", "", "Domain name (defaults to dkim.domain or the sender domain)")
	dkimCheckCmd.Flags().StringVar(&dkimSelector, "selector", "", "DKIM selector (defaults to dkim.selector)")

	dkimCmd.AddCommand(dkimGenerateCmd, dkimShowCmd, dkimCheckCmd)
	rootCmd.AddCommand(dkimCmd)
}

func runDKIMGenerate(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if dkimDomain == "" {
		dkimDomain = cfg.Campaign.Sender.Domain()
	}
	if dkimDomain == "" {
		return fmt.Errorf("--domain is required")
	}

	kp, err := mailer.GenerateKey(dkimDomain, dkimSelector)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	keyPath := filepath.Join(dkimOutDir, fmt.Sprintf("%s.key", dkimDomain))
	if err := kp.SavePrivateKey(keyPath); err != nil {
		return fmt.Errorf("failed to save private key: %w", err)
	}

	record, err := kp.DNSRecord()
	if err != nil {
		return err
	}

	fmt.Printf("DKIM key generated successfully\n\n")
	fmt.Printf("Private key saved to: %s\n\n", keyPath)
	fmt.Printf("DNS Record:\n")
	fmt.Printf("  Name: %s\n", kp.DNSName())
	fmt.Printf("  Type: TXT\n")
	fmt.Printf("  Value: %s\n", record)

	return nil
}

func runDKIMShow(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if dkimKeyFile == "" {
		dkimKeyFile = cfg.DKIM.KeyFile
	}
	if dkimDomain == "" {
		dkimDomain = cfg.DKIM.Domain
	}
	if dkimSelector == "" {
		dkimSelector = cfg.DKIM.Selector
	}
	if dkimKeyFile == "" || dkimDomain == "" || dkimSelector == "" {
		return fmt.Errorf("--key, --domain and --selector are required without a dkim config section")
	}

	privateKey, err := mailer.LoadPrivateKey(dkimKeyFile)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	record, err := mailer.PublicKeyRecord(&privateKey.PublicKey)
	if err != nil {
		return err
	}

	fmt.Printf("DKIM DNS Record:\n\n")
	fmt.Printf("  Name: %s._domainkey.%s\n", dkimSelector, dkimDomain)
	fmt.Printf("  Type: TXT\n")
	fmt.Printf("  Value: %s\n", record)

	return nil
}

func runDKIMCheck(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if dkimDomain == "" {
		dkimDomain = cfg.DKIM.Domain
	}
	if dkimDomain == "" {
		dkimDomain = cfg.Campaign.Sender.Domain()
	}
	if dkimSelector == "" {
		dkimSelector = cfg.DKIM.Selector
	}

	opts := dnscheck.Options{Selector: dkimSelector}
	if cfg.DKIM.KeyFile != "" {
		privateKey, err := mailer.LoadPrivateKey(cfg.DKIM.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to parse private key: %w", err)
		}
		if opts.PublicRecord, err = mailer.PublicKeyRecord(&privateKey.PublicKey); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Dispatch.Timeout)
	defer cancel()

	report, err := dnscheck.New(nil).Check(ctx, dkimDomain, opts)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RECORD\tNAME\tSTATUS\tMESSAGE")
	fmt.Fprintln(w, "------\t----\t------\t-------")
	for _, r := range report.Results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Record, r.Name, r.Status, r.Message)
	}
	w.Flush()

	if !report.Ready() {
		return fmt.Errorf("sender domain %s is not ready", report.Domain)
	}
	return nil
}
