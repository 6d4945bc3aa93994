package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Entry maps one artifact to the recipient it was rendered for. Paths are
// relative to the mails directory.
type Entry struct {
	Path         string `json:"path"`
	TextPath     string `json:"text_path,omitempty"`
	Wave         int    `json:"wave"`
	Position     int    `json:"position"`
	Email        string `json:"email"`
	Subject      string `json:"subject"`
	TrackingCode string `json:"tracking_code"`
	VideoURL     string `json:"video_url,omitempty"`
}

// Manifest indexes every generated mail
type Manifest struct {
	GeneratedAt time.Time `json:"generated_at"`
	Entries     []Entry   `json:"entries"`
}

// Merge replaces the entries of the given waves and keeps the others
func (m *Manifest) Merge(waves []int, entries []Entry) {
	replaced := make(map[int]bool, len(waves))
	for _, w := range waves {
		replaced[w] = true
	}

	kept := m.Entries[:0:0]
	for _, e := range m.Entries {
		if !replaced[e.Wave] {
			kept = append(kept, e)
		}
	}
	kept = append(kept, entries...)

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Wave != kept[j].Wave {
			return kept[i].Wave < kept[j].Wave
		}
		return kept[i].Position < kept[j].Position
	})
	m.Entries = kept
}

// LoadManifest reads a manifest. A missing file returns nil, nil.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// Save writes the manifest as indented JSON
func (m *Manifest) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
