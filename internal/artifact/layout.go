// Package artifact names, indexes and reads the files produced by the
// generator and consumed by the dispatcher.
package artifact

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const (
	MailsDirName        = "mails"
	DescriptionsDirName = "youtube-descriptions"
	LedgerFileName      = "tracking-codes.csv"
	ManifestFileName    = "manifest.json"
)

var (
	mailFilePattern = regexp.MustCompile(`^mail-(\d+)-(.+)\.html$`)
	waveDirPattern  = regexp.MustCompile(`^wave-(\d+)$`)
)

// Layout resolves artifact paths under an output directory
type Layout struct {
	Root string
}

// MailsDir returns the directory holding one sub-directory per wave
func (l Layout) MailsDir() string {
	return filepath.Join(l.Root, MailsDirName)
}

// WaveDir returns the directory of one wave
func (l Layout) WaveDir(wave int) string {
	return filepath.Join(l.MailsDir(), WaveDirName(wave))
}

// DescriptionsDir returns the directory of video descriptions
func (l Layout) DescriptionsDir() string {
	return filepath.Join(l.Root, DescriptionsDirName)
}

// DescriptionPath returns the description file of one wave
func (l Layout) DescriptionPath(wave int) string {
	return filepath.Join(l.DescriptionsDir(), fmt.Sprintf("video-%02d-description.txt", wave))
}

// LedgerPath returns the tracking ledger path
func (l Layout) LedgerPath() string {
	return filepath.Join(l.Root, LedgerFileName)
}

// ManifestPath returns the manifest path
func (l Layout) ManifestPath() string {
	return filepath.Join(l.MailsDir(), ManifestFileName)
}

// WaveDirName returns wave-{id:02d}
func WaveDirName(wave int) string {
	return fmt.Sprintf("wave-%02d", wave)
}

// ParseWaveDirName extracts the wave id from a wave directory name
func ParseWaveDirName(name string) (int, bool) {
	m := waveDirPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return id, true
}

// EncodeEmail makes an address safe for a file name: "@" becomes "_at_" and
// "." becomes "_".
func EncodeEmail(email string) string {
	return strings.ReplaceAll(strings.ReplaceAll(email, "@", "_at_"), ".", "_")
}

// DecodeEmail reverses EncodeEmail. The encoding is lossy: an underscore in
// the original address decodes to a dot.
func DecodeEmail(encoded string) string {
	return strings.ReplaceAll(strings.ReplaceAll(encoded, "_at_", "@"), "_", ".")
}

// MailFileName returns mail-{position}-{encoded email}.html
func MailFileName(position int, email string) string {
	return fmt.Sprintf("mail-%d-%s.html", position, EncodeEmail(email))
}

// TextFileName returns the plain-text companion of an HTML artifact
func TextFileName(htmlName string) string {
	return strings.TrimSuffix(htmlName, ".html") + ".txt"
}

// ParseMailFileName recovers the position and the decoded address
func ParseMailFileName(name string) (position int, email string, ok bool) {
	m := mailFilePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, "", false
	}
	position, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return position, DecodeEmail(m[2]), true
}
