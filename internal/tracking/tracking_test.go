package tracking

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestHashGeneratorDeterministic(t *testing.T) {
	g := HashGenerator{}

	a := g.Code(1, 1, "a@b.com")
	b := g.Code(1, 1, " A@B.com ")
	if a != b {
		t.Errorf("codes differ for same address: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "W01-R1-") {
		t.Errorf("code %q does not start with W01-R1-", a)
	}
	if len(a) != len("W01-R1-")+6 {
		t.Errorf("code %q has wrong length", a)
	}

	if g.Code(1, 2, "a@b.com") == a {
		t.Error("different position produced the same code")
	}
	if g.Code(1, 1, "c@d.com") == a {
		t.Error("different address produced the same code")
	}
}

func TestRandomGeneratorFormat(t *testing.T) {
	g := RandomGenerator{}
	code := g.Code(12, 9, "")

	wave, pos, ok := ParseCode(code)
	if !ok {
		t.Fatalf("ParseCode(%q) failed", code)
	}
	if wave != 12 || pos != 9 {
		t.Errorf("ParseCode(%q) = %d, %d, want 12, 9", code, wave, pos)
	}
}

func TestFormatCode(t *testing.T) {
	tests := []struct {
		wave, pos int
		seed      uint64
		want      string
	}{
		{1, 1, 0, "W01-R1-000000"},
		{3, 10, 35, "W03-R10-00000z"},
		{42, 9, suffixSpace + 36, "W42-R9-000010"},
		{100, 2, 1, "W100-R2-000001"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatCode(tt.wave, tt.pos, tt.seed); got != tt.want {
				t.Errorf("FormatCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseCode(t *testing.T) {
	tests := []struct {
		code     string
		wave     int
		position int
		ok       bool
	}{
		{"W01-R1-abc123", 1, 1, true},
		{"W42-R9-zzzzzz", 42, 9, true},
		{"W1-R1-abc123", 0, 0, false},
		{"W01-R1-ABC123", 0, 0, false},
		{"W01-R1-abc12", 0, 0, false},
		{"", 0, 0, false},
		{"../etc/passwd", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			wave, pos, ok := ParseCode(tt.code)
			if ok != tt.ok || wave != tt.wave || pos != tt.position {
				t.Errorf("ParseCode(%q) = %d, %d, %v, want %d, %d, %v",
					tt.code, wave, pos, ok, tt.wave, tt.position, tt.ok)
			}
		})
	}
}

func TestLedgerWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "tracking-codes.csv")
	records := []Record{
		{Wave: 1, Recipient: 1, Code: "W01-R1-aaaaaa", Email: "a@b.com"},
		{Wave: 1, Recipient: 2, Code: "W01-R2-bbbbbb", Email: "c,d@e.com"},
	}

	if err := WriteLedger(path, records); err != nil {
		t.Fatalf("WriteLedger() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "wave,recipient,code,email\n") {
		t.Errorf("missing header: %q", data)
	}

	got, err := ReadLedger(path)
	if err != nil {
		t.Fatalf("ReadLedger() error = %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("got %d records, want %d", len(got), len(records))
	}
	for i := range records {
		if got[i] != records[i] {
			t.Errorf("record %d = %+v, want %+v", i, got[i], records[i])
		}
	}
}

func TestReadLedgerMissing(t *testing.T) {
	got, err := ReadLedger(filepath.Join(t.TempDir(), "nope.csv"))
	if err != nil {
		t.Fatalf("ReadLedger() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty ledger, got %d rows", len(got))
	}
}

func TestReadLedgerInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	os.WriteFile(path, []byte("wave,recipient,code,email\nx,1,c,e\n"), 0644)

	if _, err := ReadLedger(path); err == nil {
		t.Error("expected error for invalid wave")
	}
}

func TestMergeLedger(t *testing.T) {
	existing := []Record{
		{Wave: 1, Recipient: 1, Code: "old-1-1"},
		{Wave: 2, Recipient: 1, Code: "old-2-1"},
		{Wave: 2, Recipient: 2, Code: "old-2-2"},
		{Wave: 3, Recipient: 1, Code: "old-3-1"},
	}
	fresh := []Record{
		{Wave: 2, Recipient: 1, Code: "new-2-1"},
	}

	got := MergeLedger(existing, fresh, []int{2})
	want := []string{"old-1-1", "new-2-1", "old-3-1"}

	if len(got) != len(want) {
		t.Fatalf("got %d rows, want %d: %+v", len(got), len(want), got)
	}
	for i, code := range want {
		if got[i].Code != code {
			t.Errorf("row %d code = %q, want %q", i, got[i].Code, code)
		}
	}
}

func TestOpenStore(t *testing.T) {
	store, err := OpenOpenStore(filepath.Join(t.TempDir(), "opens.db"))
	if err != nil {
		t.Fatalf("OpenOpenStore() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	opens := []*Open{
		{Code: "W01-R2-bbbbbb", Wave: 1, Recipient: 2, OpenedAt: base.Add(time.Minute)},
		{Code: "W01-R1-aaaaaa", Wave: 1, Recipient: 1, OpenedAt: base},
	}
	for _, o := range opens {
		if err := store.Record(ctx, o); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, err := store.All(ctx)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d opens, want 2", len(got))
	}
	if got[0].Code != "W01-R1-aaaaaa" {
		t.Errorf("opens not ordered by time: first = %q", got[0].Code)
	}
}

func TestBuildReport(t *testing.T) {
	ledger := []Record{
		{Wave: 2, Recipient: 1, Code: "W02-R1-cccccc"},
		{Wave: 1, Recipient: 2, Code: "W01-R2-bbbbbb"},
		{Wave: 1, Recipient: 1, Code: "W01-R1-aaaaaa"},
	}
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	opens := []Open{
		{Code: "W01-R1-aaaaaa", OpenedAt: t0.Add(2 * time.Hour)},
		{Code: "W01-R1-aaaaaa", OpenedAt: t0},
		{Code: "W02-R1-cccccc", OpenedAt: t0},
		{Code: "W09-R1-zzzzzz", OpenedAt: t0},
	}

	r := BuildReport(ledger, opens)

	if r.Unknown != 1 {
		t.Errorf("Unknown = %d, want 1", r.Unknown)
	}
	if len(r.Waves) != 2 {
		t.Fatalf("got %d waves, want 2", len(r.Waves))
	}
	w1 := r.Waves[0]
	if w1.Wave != 1 || w1.Recipients != 2 || w1.Opened != 1 || w1.Opens != 2 || w1.OpenRate != 0.5 {
		t.Errorf("wave 1 stats = %+v", w1)
	}

	if len(r.Codes) != 3 {
		t.Fatalf("got %d codes, want 3", len(r.Codes))
	}
	first := r.Codes[0]
	if first.Code != "W01-R1-aaaaaa" {
		t.Fatalf("codes not sorted: first = %q", first.Code)
	}
	if !first.FirstOpen.Equal(t0) || !first.LastOpen.Equal(t0.Add(2*time.Hour)) {
		t.Errorf("first/last open = %v/%v", first.FirstOpen, first.LastOpen)
	}
}

type memRecorder struct {
	opens []*Open
}

func (m *memRecorder) Record(ctx context.Context, o *Open) error {
	m.opens = append(m.opens, o)
	return nil
}

func TestServerPixel(t *testing.T) {
	rec := &memRecorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer(":0", rec, nil, logger)

	tests := []struct {
		path     string
		recorded bool
	}{
		{"/t/W03-R2-abc123.gif", true},
		{"/t/garbage.gif", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			before := len(rec.opens)

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("User-Agent", "mail-client")
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "image/gif" {
				t.Errorf("Content-Type = %q", ct)
			}
			if w.Body.Len() != len(pixelGIF) {
				t.Errorf("body length = %d, want %d", w.Body.Len(), len(pixelGIF))
			}

			recorded := len(rec.opens) > before
			if recorded != tt.recorded {
				t.Errorf("recorded = %v, want %v", recorded, tt.recorded)
			}
		})
	}

	o := rec.opens[0]
	if o.Wave != 3 || o.Recipient != 2 || o.UserAgent != "mail-client" {
		t.Errorf("unexpected open: %+v", o)
	}
}

func TestServerHealth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer(":0", &memRecorder{}, nil, logger)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}
