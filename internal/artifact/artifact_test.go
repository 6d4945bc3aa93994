package artifact

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEncodeEmail(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"a@b.com", "a_at_b_com"},
		{"first.last@mail.example.org", "first_last_at_mail_example_org"},
		{"nodomain", "nodomain"},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			if got := EncodeEmail(tt.email); got != tt.want {
				t.Errorf("EncodeEmail() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeEmailLossy(t *testing.T) {
	// Dots survive the round trip
	if got := DecodeEmail(EncodeEmail("first.last@b.com")); got != "first.last@b.com" {
		t.Errorf("round trip = %q", got)
	}

	// Underscores in the local part come back as dots
	original := "first_last@b.com"
	got := DecodeEmail(EncodeEmail(original))
	if got == original {
		t.Errorf("expected lossy decode for %q", original)
	}
	if got != "first.last@b.com" {
		t.Errorf("DecodeEmail() = %q, want %q", got, "first.last@b.com")
	}
}

func TestParseMailFileName(t *testing.T) {
	tests := []struct {
		name     string
		position int
		email    string
		ok       bool
	}{
		{MailFileName(1, "a@b.com"), 1, "a@b.com", true},
		{"mail-12-x_at_y_org.html", 12, "x@y.org", true},
		{"mail-x-a_at_b_com.html", 0, "", false},
		{"mail-1-.html", 0, "", false},
		{"notes.html", 0, "", false},
		{"mail-1-a_at_b_com.txt", 0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, email, ok := ParseMailFileName(tt.name)
			if ok != tt.ok || pos != tt.position || email != tt.email {
				t.Errorf("ParseMailFileName(%q) = %d, %q, %v, want %d, %q, %v",
					tt.name, pos, email, ok, tt.position, tt.email, tt.ok)
			}
		})
	}
}

func TestLayout(t *testing.T) {
	l := Layout{Root: "out"}

	tests := []struct {
		got  string
		want string
	}{
		{l.WaveDir(3), filepath.Join("out", "mails", "wave-03")},
		{l.DescriptionPath(7), filepath.Join("out", "youtube-descriptions", "video-07-description.txt")},
		{l.LedgerPath(), filepath.Join("out", "tracking-codes.csv")},
		{l.ManifestPath(), filepath.Join("out", "mails", "manifest.json")},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}

	if id, ok := ParseWaveDirName("wave-03"); !ok || id != 3 {
		t.Errorf("ParseWaveDirName(wave-03) = %d, %v", id, ok)
	}
	if _, ok := ParseWaveDirName("wave-x"); ok {
		t.Error("ParseWaveDirName accepted wave-x")
	}
}

func TestManifestMerge(t *testing.T) {
	m := &Manifest{Entries: []Entry{
		{Wave: 1, Position: 1, Email: "old1"},
		{Wave: 2, Position: 1, Email: "old2"},
	}}

	m.Merge([]int{2}, []Entry{
		{Wave: 2, Position: 2, Email: "new2b"},
		{Wave: 2, Position: 1, Email: "new2a"},
	})

	want := []string{"old1", "new2a", "new2b"}
	if len(m.Entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(m.Entries), len(want))
	}
	for i, email := range want {
		if m.Entries[i].Email != email {
			t.Errorf("entry %d = %q, want %q", i, m.Entries[i].Email, email)
		}
	}
}

func TestManifestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mails", ManifestFileName)

	missing, err := LoadManifest(path)
	if err != nil || missing != nil {
		t.Fatalf("LoadManifest(missing) = %v, %v", missing, err)
	}

	m := &Manifest{
		GeneratedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Entries:     []Entry{{Path: "wave-01/mail-1-a_at_b_com.html", Wave: 1, Position: 1, Email: "a@b.com"}},
	}
	if err := m.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}
	if !got.GeneratedAt.Equal(m.GeneratedAt) || len(got.Entries) != 1 || got.Entries[0] != m.Entries[0] {
		t.Errorf("LoadManifest() = %+v", got)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestScanMissingDir(t *testing.T) {
	s := NewScanner("La Constellation", testLogger())

	_, err := s.Scan(filepath.Join(t.TempDir(), "mails"))
	if !errors.Is(err, ErrNoArtifacts) {
		t.Errorf("Scan() error = %v, want ErrNoArtifacts", err)
	}
}

func TestScanFileNames(t *testing.T) {
	dir := t.TempDir()
	mails := filepath.Join(dir, "mails")

	writeFile(t, filepath.Join(mails, "wave-02", "mail-1-c_at_d_org.html"),
		`<html><head><title>Second</title></head><body><div class="footer">Mail 2/42 • Code: W02-R1-abcdef</div></body></html>`)
	writeFile(t, filepath.Join(mails, "wave-01", "mail-2-b_at_x_com.html"),
		`<html><head></head><body></body></html>`)
	writeFile(t, filepath.Join(mails, "wave-01", "mail-2-b_at_x_com.txt"), "plain body")
	writeFile(t, filepath.Join(mails, "wave-01", "mail-1-a_at_x_com.html"),
		`<html><head><title>First</title></head><body><div class="video-block"><a href="https://www.youtube.com/watch?v=v1">go</a></div></body></html>`)
	writeFile(t, filepath.Join(mails, "wave-01", "garbage.html"), "<html></html>")
	writeFile(t, filepath.Join(mails, "other", "mail-1-z_at_z_z.html"), "<html></html>")

	s := NewScanner("La Constellation", testLogger())
	res, err := s.Scan(mails)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if res.FromManifest {
		t.Error("FromManifest = true without a manifest")
	}
	if res.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", res.Skipped)
	}
	if len(res.Mails) != 3 {
		t.Fatalf("got %d mails, want 3", len(res.Mails))
	}

	first := res.Mails[0]
	if first.Wave != 1 || first.Position != 1 || first.Email != "a@x.com" || first.Subject != "First" {
		t.Errorf("first mail = %+v", first)
	}
	if first.VideoURL != "https://www.youtube.com/watch?v=v1" {
		t.Errorf("VideoURL = %q", first.VideoURL)
	}

	second := res.Mails[1]
	if second.Subject != "La Constellation #1" {
		t.Errorf("fallback subject = %q", second.Subject)
	}
	if second.Text != "plain body" {
		t.Errorf("Text = %q", second.Text)
	}

	third := res.Mails[2]
	if third.Wave != 2 || third.TrackingCode != "W02-R1-abcdef" {
		t.Errorf("third mail = %+v", third)
	}

	if got := res.FilterWave(2); len(got) != 1 || got[0].Email != "c@d.org" {
		t.Errorf("FilterWave(2) = %+v", got)
	}
}

func TestScanManifest(t *testing.T) {
	dir := t.TempDir()
	mails := filepath.Join(dir, "mails")

	writeFile(t, filepath.Join(mails, "wave-01", "mail-1-first_last_at_b_com.html"), "<html>one</html>")
	writeFile(t, filepath.Join(mails, "wave-01", "mail-1-first_last_at_b_com.txt"), "one")

	m := &Manifest{Entries: []Entry{
		{
			Path:         "wave-01/mail-1-first_last_at_b_com.html",
			TextPath:     "wave-01/mail-1-first_last_at_b_com.txt",
			Wave:         1,
			Position:     1,
			Email:        "first_last@b.com",
			Subject:      "Hello",
			TrackingCode: "W01-R1-aaaaaa",
		},
		{Path: "wave-01/mail-2-gone_at_b_com.html", Wave: 1, Position: 2, Email: "gone@b.com"},
	}}
	if err := m.Save(filepath.Join(mails, ManifestFileName)); err != nil {
		t.Fatal(err)
	}

	s := NewScanner("La Constellation", testLogger())
	res, err := s.Scan(mails)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if !res.FromManifest {
		t.Error("FromManifest = false")
	}
	if res.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", res.Skipped)
	}
	if len(res.Mails) != 1 {
		t.Fatalf("got %d mails, want 1", len(res.Mails))
	}

	mail := res.Mails[0]
	// The manifest keeps the exact address, underscores included
	if mail.Email != "first_last@b.com" {
		t.Errorf("Email = %q", mail.Email)
	}
	if mail.HTML != "<html>one</html>" || mail.Text != "one" {
		t.Errorf("bodies = %q / %q", mail.HTML, mail.Text)
	}
	if mail.TrackingCode != "W01-R1-aaaaaa" || mail.Subject != "Hello" {
		t.Errorf("mail = %+v", mail)
	}
}

func TestScanManifestOutsideMailsDir(t *testing.T) {
	dir := t.TempDir()
	mails := filepath.Join(dir, "mails")

	writeFile(t, filepath.Join(dir, "secret.html"), "<html>secret</html>")
	writeFile(t, filepath.Join(mails, "wave-01", "mail-1-a_at_b_com.html"), "<html>one</html>")

	m := &Manifest{Entries: []Entry{
		{Path: "wave-01/mail-1-a_at_b_com.html", Wave: 1, Position: 1, Email: "a@b.com"},
		{Path: "../secret.html", Wave: 1, Position: 2, Email: "x@b.com"},
		{Path: filepath.ToSlash(filepath.Join(dir, "secret.html")), Wave: 1, Position: 3, Email: "y@b.com"},
		{Path: "wave-01/mail-1-a_at_b_com.html", TextPath: "../../secret.html", Wave: 1, Position: 4, Email: "z@b.com"},
	}}
	if err := m.Save(filepath.Join(mails, ManifestFileName)); err != nil {
		t.Fatal(err)
	}

	res, err := NewScanner("La Constellation", testLogger()).Scan(mails)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if res.Skipped != 3 {
		t.Errorf("Skipped = %d, want 3", res.Skipped)
	}
	if len(res.Mails) != 1 || res.Mails[0].Email != "a@b.com" {
		t.Fatalf("mails = %+v", res.Mails)
	}
	for _, mail := range res.Mails {
		if strings.Contains(mail.HTML, "secret") || strings.Contains(mail.Text, "secret") {
			t.Errorf("read a file outside the mails directory: %+v", mail)
		}
	}
}
