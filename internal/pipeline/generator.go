// Package pipeline renders every recipient of a campaign to disk and keeps
// the tracking ledger and the artifact manifest in sync.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/foxzi/chainmail/internal/artifact"
	"github.com/foxzi/chainmail/internal/campaign"
	"github.com/foxzi/chainmail/internal/metrics"
	"github.com/foxzi/chainmail/internal/render"
	"github.com/foxzi/chainmail/internal/tracking"
)

// Report summarises one generation run
type Report struct {
	Mails        int
	Waves        int
	LedgerRows   int
	Skipped      int
	Descriptions int
}

// Generator writes mail artifacts, descriptions, the ledger and the manifest
type Generator struct {
	renderer *render.Renderer
	codes    tracking.Generator
	layout   artifact.Layout
	logger   *slog.Logger
	now      func() time.Time
}

// NewGenerator creates a generator writing under outputDir
func NewGenerator(r *render.Renderer, codes tracking.Generator, outputDir string, logger *slog.Logger) *Generator {
	return &Generator{
		renderer: r,
		codes:    codes,
		layout:   artifact.Layout{Root: outputDir},
		logger:   logger.With("component", "generator"),
		now:      time.Now,
	}
}

// Run generates every selected wave. waveFilter 0 selects all waves.
// The ledger and manifest are committed after each wave, so an interrupted run
// leaves every finished wave consistent with its files.
func (g *Generator) Run(ctx context.Context, c *campaign.Campaign, waveFilter int) (*Report, error) {
	waves := c.FilterWave(waveFilter)
	if waveFilter != 0 && len(waves) == 0 {
		return nil, fmt.Errorf("wave %d not found in campaign", waveFilter)
	}

	report := &Report{}

	for _, wave := range waves {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := g.renderWave(ctx, wave, report)
		if err != nil {
			return nil, err
		}
		// Nothing of a wave is written once the run is cancelled
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := g.writeWave(wave, out); err != nil {
			return nil, err
		}

		ids := []int{wave.ID}
		if err := g.writeLedger(ids, out.records); err != nil {
			return nil, err
		}
		if err := g.writeManifest(ids, out.entries); err != nil {
			return nil, err
		}

		report.Mails += len(out.records)
		report.LedgerRows += len(out.records)
		report.Descriptions++
		report.Waves++
		metrics.AddLedgerRows(len(out.records))
		metrics.IncDescriptions()
		for range out.records {
			metrics.IncMailsGenerated(wave.ID)
		}

		g.logger.Info("wave generated", "wave", wave.ID, "mails", len(out.records))
	}

	return report, nil
}

// waveOutput holds a fully rendered wave before anything touches the disk
type waveOutput struct {
	files       map[string]string
	description string
	records     []tracking.Record
	entries     []artifact.Entry
}

func (g *Generator) renderWave(ctx context.Context, wave campaign.Wave, report *Report) (*waveOutput, error) {
	dirName := artifact.WaveDirName(wave.ID)
	out := &waveOutput{files: make(map[string]string)}

	for i, rcpt := range wave.Recipients {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		position := i + 1
		if rcpt.IsPlaceholder() {
			g.logger.Warn("skipping placeholder recipient", "wave", wave.ID, "position", position)
			report.Skipped++
			metrics.IncRecipientsSkipped(wave.ID)
			continue
		}

		code := g.codes.Code(wave.ID, position, rcpt.Email)
		res, err := g.renderer.Render(wave, rcpt, code)
		if err != nil {
			return nil, fmt.Errorf("wave %d recipient %d: %w", wave.ID, position, err)
		}

		htmlName := artifact.MailFileName(position, rcpt.Email)
		textName := artifact.TextFileName(htmlName)
		out.files[htmlName] = res.HTML
		out.files[textName] = res.Text

		out.records = append(out.records, tracking.Record{
			Wave:      wave.ID,
			Recipient: position,
			Code:      code,
			Email:     rcpt.Email,
		})
		out.entries = append(out.entries, artifact.Entry{
			Path:         path.Join(dirName, htmlName),
			TextPath:     path.Join(dirName, textName),
			Wave:         wave.ID,
			Position:     position,
			Email:        rcpt.Email,
			Subject:      res.Subject,
			TrackingCode: code,
			VideoURL:     res.VideoURL,
		})

		g.logger.Debug("mail rendered", "wave", wave.ID, "position", position, "code", code)
	}

	desc, err := g.renderer.Description(wave)
	if err != nil {
		return nil, fmt.Errorf("wave %d: %w", wave.ID, err)
	}
	out.description = desc

	return out, nil
}

func (g *Generator) writeWave(wave campaign.Wave, out *waveOutput) error {
	dir := g.layout.WaveDir(wave.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create wave directory: %w", err)
	}
	for name, content := range out.files {
		if err := writeFile(filepath.Join(dir, name), content); err != nil {
			return err
		}
	}
	return writeFile(g.layout.DescriptionPath(wave.ID), out.description)
}

func (g *Generator) writeLedger(waves []int, fresh []tracking.Record) error {
	existing, err := tracking.ReadLedger(g.layout.LedgerPath())
	if err != nil {
		return err
	}
	return tracking.WriteLedger(g.layout.LedgerPath(), tracking.MergeLedger(existing, fresh, waves))
}

func (g *Generator) writeManifest(waves []int, entries []artifact.Entry) error {
	m, err := artifact.LoadManifest(g.layout.ManifestPath())
	if err != nil {
		return err
	}
	if m == nil {
		m = &artifact.Manifest{}
	}
	m.Merge(waves, entries)
	m.GeneratedAt = g.now().UTC()
	return m.Save(g.layout.ManifestPath())
}

func writeFile(p, content string) error {
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(p), err)
	}
	return nil
}
