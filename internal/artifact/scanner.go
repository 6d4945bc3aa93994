package artifact

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoArtifacts is returned when the mails directory does not exist
var ErrNoArtifacts = errors.New("no mail artifacts found")

var footerCode = regexp.MustCompile(`W\d{2,}-R\d+-[0-9a-z]{6}`)

// Mail is one persisted artifact ready to send
type Mail struct {
	Path         string
	TextPath     string
	Wave         int
	Position     int
	Email        string
	Subject      string
	TrackingCode string
	VideoURL     string
	HTML         string
	Text         string
}

// ScanResult holds the mails found under a mails directory
type ScanResult struct {
	Mails []Mail
	// Skipped counts malformed or missing artifacts
	Skipped int
	// FromManifest is true when identities came from the manifest
	FromManifest bool
}

// FilterWave keeps the mails of one wave. Zero keeps everything.
func (r *ScanResult) FilterWave(wave int) []Mail {
	if wave == 0 {
		return r.Mails
	}
	var out []Mail
	for _, m := range r.Mails {
		if m.Wave == wave {
			out = append(out, m)
		}
	}
	return out
}

// Scanner reads mail artifacts back from disk
type Scanner struct {
	// Name prefixes the fallback subject of artifacts without a <title>
	Name   string
	Logger *slog.Logger
}

// NewScanner creates a scanner
func NewScanner(name string, logger *slog.Logger) *Scanner {
	return &Scanner{
		Name:   name,
		Logger: logger.With("component", "artifact"),
	}
}

// Scan lists the mails under mailsDir sorted by wave then position. The
// manifest is authoritative when present; file names are decoded otherwise.
func (s *Scanner) Scan(mailsDir string) (*ScanResult, error) {
	info, err := os.Stat(mailsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoArtifacts, mailsDir)
		}
		return nil, fmt.Errorf("failed to stat mails directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNoArtifacts, mailsDir)
	}

	manifest, err := LoadManifest(filepath.Join(mailsDir, ManifestFileName))
	if err != nil {
		return nil, err
	}

	var result *ScanResult
	if manifest != nil {
		result = s.fromManifest(mailsDir, manifest)
	} else {
		s.Logger.Warn("no manifest found, decoding recipients from file names", "dir", mailsDir)
		result, err = s.fromFileNames(mailsDir)
		if err != nil {
			return nil, err
		}
	}

	sort.SliceStable(result.Mails, func(i, j int) bool {
		if result.Mails[i].Wave != result.Mails[j].Wave {
			return result.Mails[i].Wave < result.Mails[j].Wave
		}
		return result.Mails[i].Position < result.Mails[j].Position
	})
	return result, nil
}

func (s *Scanner) fromManifest(mailsDir string, m *Manifest) *ScanResult {
	result := &ScanResult{FromManifest: true}

	for _, e := range m.Entries {
		if !isLocal(e.Path) || (e.TextPath != "" && !isLocal(e.TextPath)) {
			s.Logger.Warn("skipping manifest entry outside the mails directory", "path", e.Path, "text_path", e.TextPath)
			result.Skipped++
			continue
		}

		path := filepath.Join(mailsDir, filepath.FromSlash(e.Path))
		html, err := os.ReadFile(path)
		if err != nil {
			s.Logger.Warn("skipping manifest entry", "path", e.Path, "error", err)
			result.Skipped++
			continue
		}

		mail := Mail{
			Path:         path,
			Wave:         e.Wave,
			Position:     e.Position,
			Email:        e.Email,
			Subject:      e.Subject,
			TrackingCode: e.TrackingCode,
			VideoURL:     e.VideoURL,
			HTML:         string(html),
		}
		if e.TextPath != "" {
			mail.TextPath = filepath.Join(mailsDir, filepath.FromSlash(e.TextPath))
			if text, err := os.ReadFile(mail.TextPath); err == nil {
				mail.Text = string(text)
			}
		}
		result.Mails = append(result.Mails, mail)
	}

	return result
}

// isLocal reports whether a manifest path stays inside the mails directory
func isLocal(p string) bool {
	return filepath.IsLocal(filepath.FromSlash(p))
}

func (s *Scanner) fromFileNames(mailsDir string) (*ScanResult, error) {
	dirs, err := os.ReadDir(mailsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read mails directory: %w", err)
	}

	result := &ScanResult{}
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		wave, ok := ParseWaveDirName(dir.Name())
		if !ok {
			continue
		}

		wavePath := filepath.Join(mailsDir, dir.Name())
		files, err := os.ReadDir(wavePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read wave directory: %w", err)
		}

		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".html") {
				continue
			}

			position, email, ok := ParseMailFileName(f.Name())
			if !ok {
				s.Logger.Warn("skipping malformed artifact name", "file", f.Name())
				result.Skipped++
				continue
			}

			mail, err := s.readLegacy(filepath.Join(wavePath, f.Name()), wave)
			if err != nil {
				s.Logger.Warn("skipping unreadable artifact", "file", f.Name(), "error", err)
				result.Skipped++
				continue
			}
			mail.Position = position
			mail.Email = email
			result.Mails = append(result.Mails, *mail)
		}
	}

	return result, nil
}

func (s *Scanner) readLegacy(path string, wave int) (*Mail, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	mail := &Mail{
		Path: path,
		Wave: wave,
		HTML: string(data),
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(mail.HTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	mail.Subject = strings.TrimSpace(doc.Find("title").First().Text())
	if mail.Subject == "" {
		mail.Subject = fmt.Sprintf("%s #%d", s.Name, wave)
	}
	mail.TrackingCode = footerCode.FindString(doc.Find(".footer").Text())
	if href, ok := doc.Find(".video-block a").First().Attr("href"); ok {
		mail.VideoURL = href
	}

	textPath := TextFileName(path)
	if text, err := os.ReadFile(textPath); err == nil {
		mail.TextPath = textPath
		mail.Text = string(text)
	}

	return mail, nil
}
