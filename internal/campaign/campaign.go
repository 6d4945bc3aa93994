// Package campaign holds the campaign data model: waves, recipients and the
// JSON configuration file shared by the generator and the sender.
package campaign

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PlaceholderEmail marks a recipient slot that still has to be filled in.
const PlaceholderEmail = "TODO"

// ErrMissingInput is returned when a required input file does not exist.
var ErrMissingInput = errors.New("missing input file")

// Recipient is one addressable mail target
type Recipient struct {
	Email   string
	Name    string
	Context string
	Angle   string
}

// IsPlaceholder reports whether the recipient has not been filled in yet
func (r Recipient) IsPlaceholder() bool {
	return strings.TrimSpace(r.Email) == PlaceholderEmail
}

type recipientJSON struct {
	Email   string  `json:"email"`
	Name    *string `json:"name"`
	Context *string `json:"context"`
	Angle   *string `json:"angle"`
}

// MarshalJSON writes empty optional fields as null.
func (r Recipient) MarshalJSON() ([]byte, error) {
	return json.Marshal(recipientJSON{
		Email:   r.Email,
		Name:    nullable(r.Name),
		Context: nullable(r.Context),
		Angle:   nullable(r.Angle),
	})
}

// UnmarshalJSON accepts null or missing optional fields.
func (r *Recipient) UnmarshalJSON(data []byte) error {
	var v recipientJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = Recipient{
		Email:   v.Email,
		Name:    deref(v.Name),
		Context: deref(v.Context),
		Angle:   deref(v.Angle),
	}
	return nil
}

// Wave is one campaign batch sharing a theme and a linked video
type Wave struct {
	ID          int
	Theme       string
	Subject     string
	VideoID     string
	VideoTitle  string
	CustomIntro string
	Recipients  []Recipient
}

type waveJSON struct {
	ID          int         `json:"id"`
	Theme       string      `json:"theme"`
	Subject     string      `json:"subject"`
	VideoID     string      `json:"videoId"`
	VideoTitle  string      `json:"videoTitle"`
	CustomIntro *string     `json:"customIntro"`
	Recipients  []Recipient `json:"recipients"`
}

// MarshalJSON writes an empty custom intro as null.
func (w Wave) MarshalJSON() ([]byte, error) {
	recipients := w.Recipients
	if recipients == nil {
		recipients = []Recipient{}
	}
	return json.Marshal(waveJSON{
		ID:          w.ID,
		Theme:       w.Theme,
		Subject:     w.Subject,
		VideoID:     w.VideoID,
		VideoTitle:  w.VideoTitle,
		CustomIntro: nullable(w.CustomIntro),
		Recipients:  recipients,
	})
}

// UnmarshalJSON accepts a null or missing custom intro.
func (w *Wave) UnmarshalJSON(data []byte) error {
	var v waveJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*w = Wave{
		ID:          v.ID,
		Theme:       v.Theme,
		Subject:     v.Subject,
		VideoID:     v.VideoID,
		VideoTitle:  v.VideoTitle,
		CustomIntro: deref(v.CustomIntro),
		Recipients:  v.Recipients,
	}
	return nil
}

// VideoURL returns the public watch URL of the wave video
func (w Wave) VideoURL() string {
	return "https://www.youtube.com/watch?v=" + w.VideoID
}

// Sender is the From identity of the campaign
type Sender struct {
	Email string `json:"email" yaml:"email"`
	Name  string `json:"name" yaml:"name"`
}

// String formats the sender as a From header value
func (s Sender) String() string {
	if s.Name == "" {
		return s.Email
	}
	return fmt.Sprintf("%s <%s>", s.Name, s.Email)
}

// Domain returns the lower-cased domain of the sender address
func (s Sender) Domain() string {
	at := strings.LastIndex(s.Email, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(s.Email[at+1:])
}

// Links are the public tracking links printed in every mail
type Links struct {
	Bluesky string `json:"bluesky" yaml:"bluesky"`
	YouTube string `json:"youtube" yaml:"youtube"`
	Website string `json:"website" yaml:"website"`
}

// Campaign is the canonical configuration consumed by the generator
type Campaign struct {
	Sender   Sender `json:"sender"`
	Tracking Links  `json:"tracking"`
	Waves    []Wave `json:"waves"`
}

// FilterWave returns the waves to process. Zero selects every wave.
func (c *Campaign) FilterWave(id int) []Wave {
	if id == 0 {
		return c.Waves
	}
	var waves []Wave
	for _, w := range c.Waves {
		if w.ID == id {
			waves = append(waves, w)
		}
	}
	return waves
}

// Counts returns the number of recipients and of placeholders across all waves
func (c *Campaign) Counts() (recipients, placeholders int) {
	for _, w := range c.Waves {
		recipients += len(w.Recipients)
		for _, r := range w.Recipients {
			if r.IsPlaceholder() {
				placeholders++
			}
		}
	}
	return recipients, placeholders
}

// Load reads a campaign from a JSON file
func Load(path string) (*Campaign, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingInput, path)
		}
		return nil, fmt.Errorf("failed to read campaign file: %w", err)
	}

	c := &Campaign{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse campaign file: %w", err)
	}
	return c, nil
}

// Save writes the campaign as indented JSON
func (c *Campaign) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal campaign: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write campaign file: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
