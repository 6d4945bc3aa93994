package contacts

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/foxzi/chainmail/internal/campaign"
)

func TestSplitFields(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{"plain", "a,b,c", []string{"a", "b", "c"}},
		{"quoted comma", `1,"a,b",c`, []string{"1", "a,b", "c"}},
		{"empty fields", "a,,c,", []string{"a", "", "c", ""}},
		{"quote toggles mid field", `x"y,z"w,v`, []string{"xy,zw", "v"}},
		{"single field", "solo", []string{"solo"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := SplitFields(tc.line)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("SplitFields(%q) = %q, want %q", tc.line, got, tc.want)
			}
		})
	}
}

func TestParseCSV(t *testing.T) {
	input := "wave_id,recipient_index,email,name,context,angle,video_id\r\n" +
		"1,2,b@example.com,Bob,collègue,\"Salut, Bob\",vid1\r\n" +
		"\r\n" +
		"1,1,a@example.com,Alice\r\n"

	rows, err := ParseCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	if rows[0].Angle != "Salut, Bob" {
		t.Errorf("quoted angle = %q, want %q", rows[0].Angle, "Salut, Bob")
	}
	if rows[0].VideoID != "vid1" {
		t.Errorf("VideoID = %q", rows[0].VideoID)
	}
	if rows[1].Name != "Alice" || rows[1].Angle != "" || rows[1].VideoID != "" {
		t.Errorf("short row not padded: %+v", rows[1])
	}
	if rows[1].Line != 4 {
		t.Errorf("Line = %d, want 4", rows[1].Line)
	}
}

func TestParseCSVErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing wave column", "email,name\na@b.com,A\n"},
		{"bad wave id", "wave_id,recipient_index,email\nx,1,a@b.com\n"},
		{"bad recipient index", "wave_id,recipient_index,email\n1,one,a@b.com\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseCSV(strings.NewReader(tc.input)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func newLoader() *Loader {
	return &Loader{
		Catalog: campaign.DefaultCatalog(),
		Sender:  campaign.Sender{Email: "noreply@example.com", Name: "✧"},
		Name:    "LA CONSTELLATION",
	}
}

func TestBuildOrderIndependent(t *testing.T) {
	rows := []Row{
		{WaveID: 2, RecipientIndex: 2, Email: "w2r2@example.com"},
		{WaveID: 1, RecipientIndex: 3, Email: "w1r3@example.com"},
		{WaveID: 1, RecipientIndex: 1, Email: "w1r1@example.com"},
		{WaveID: 2, RecipientIndex: 1, Email: "w2r1@example.com"},
		{WaveID: 1, RecipientIndex: 2, Email: "w1r2@example.com"},
	}

	reversed := make([]Row, len(rows))
	for i, r := range rows {
		reversed[len(rows)-1-i] = r
	}

	l := newLoader()
	a := l.Build(rows)
	b := l.Build(reversed)

	emails := func(c *campaign.Campaign) []string {
		var out []string
		for _, w := range c.Waves {
			for _, r := range w.Recipients {
				out = append(out, r.Email)
			}
		}
		return out
	}

	want := []string{"w1r1@example.com", "w1r2@example.com", "w1r3@example.com", "w2r1@example.com", "w2r2@example.com"}
	if got := emails(a); !reflect.DeepEqual(got, want) {
		t.Errorf("ordering = %v, want %v", got, want)
	}
	if got := emails(b); !reflect.DeepEqual(got, want) {
		t.Errorf("reversed input ordering = %v, want %v", got, want)
	}
}

func TestBuildWaveFields(t *testing.T) {
	rows := []Row{
		{WaveID: 3, RecipientIndex: 1, Email: "a@example.com"},
		{WaveID: 3, RecipientIndex: 2, Email: "b@example.com", VideoID: "xyz"},
		{WaveID: 99, RecipientIndex: 1, Email: "TODO"},
	}

	c := newLoader().Build(rows)
	if len(c.Waves) != 2 {
		t.Fatalf("expected 2 waves, got %d", len(c.Waves))
	}

	w := c.Waves[0]
	if w.Theme != "Le piège fiscal" || w.Subject != "52,6%" {
		t.Errorf("catalog not applied: %+v", w)
	}
	if w.VideoID != "xyz" {
		t.Errorf("VideoID = %q, want xyz", w.VideoID)
	}
	if w.VideoTitle != "LA CONSTELLATION #3 — Le piège fiscal" {
		t.Errorf("VideoTitle = %q", w.VideoTitle)
	}

	unknown := c.Waves[1]
	if unknown.Theme != "Wave 99" || unknown.Subject != "Message 99" {
		t.Errorf("fallback labels not applied: %+v", unknown)
	}
	if unknown.VideoID != "VIDEO_ID_99" {
		t.Errorf("VideoID placeholder = %q", unknown.VideoID)
	}
	if c.Sender.Email != "noreply@example.com" {
		t.Errorf("sender not propagated: %+v", c.Sender)
	}
}

func TestConvertFile(t *testing.T) {
	tmpDir := t.TempDir()
	csvPath := filepath.Join(tmpDir, "contacts.csv")
	jsonPath := filepath.Join(tmpDir, "waves.json")

	content := "wave_id,recipient_index,email,name,context,angle,video_id\n" +
		"1,1,a@b.com,,,,\n" +
		"1,2,TODO,,,,\n" +
		"2,1,c@d.com,,,,\n"
	if err := os.WriteFile(csvPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write csv: %v", err)
	}

	summary, err := newLoader().ConvertFile(csvPath, jsonPath)
	if err != nil {
		t.Fatalf("ConvertFile() error = %v", err)
	}
	if summary.Waves != 2 || summary.Recipients != 3 || summary.Placeholders != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}

	c, err := campaign.Load(jsonPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(c.Waves) != 2 {
		t.Errorf("expected 2 waves in json, got %d", len(c.Waves))
	}
}

func TestConvertFileMissing(t *testing.T) {
	tmpDir := t.TempDir()
	_, err := newLoader().ConvertFile(filepath.Join(tmpDir, "missing.csv"), filepath.Join(tmpDir, "out.json"))
	if !errors.Is(err, campaign.ErrMissingInput) {
		t.Errorf("expected ErrMissingInput, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(tmpDir, "out.json")); !os.IsNotExist(statErr) {
		t.Error("no output should be written when input is missing")
	}
}
