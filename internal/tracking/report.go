package tracking

import (
	"sort"
	"time"
)

// CodeStats is the open summary of one tracking code
type CodeStats struct {
	Record
	Opens     int       `json:"opens"`
	FirstOpen time.Time `json:"first_open,omitempty"`
	LastOpen  time.Time `json:"last_open,omitempty"`
}

// WaveStats is the open summary of one wave
type WaveStats struct {
	Wave       int     `json:"wave"`
	Recipients int     `json:"recipients"`
	Opened     int     `json:"opened"`
	Opens      int     `json:"opens"`
	OpenRate   float64 `json:"open_rate"`
}

// Report joins the ledger with recorded opens
type Report struct {
	Waves []WaveStats `json:"waves"`
	Codes []CodeStats `json:"codes"`
	// Unknown counts opens whose code is not in the ledger
	Unknown int `json:"unknown"`
}

// BuildReport aggregates opens per code and per wave
func BuildReport(ledger []Record, opens []Open) *Report {
	byCode := make(map[string]*CodeStats, len(ledger))
	codes := make([]*CodeStats, 0, len(ledger))
	for _, r := range ledger {
		cs := &CodeStats{Record: r}
		byCode[r.Code] = cs
		codes = append(codes, cs)
	}

	report := &Report{}
	for _, o := range opens {
		cs, ok := byCode[o.Code]
		if !ok {
			report.Unknown++
			continue
		}
		cs.Opens++
		if cs.FirstOpen.IsZero() || o.OpenedAt.Before(cs.FirstOpen) {
			cs.FirstOpen = o.OpenedAt
		}
		if o.OpenedAt.After(cs.LastOpen) {
			cs.LastOpen = o.OpenedAt
		}
	}

	waves := make(map[int]*WaveStats)
	for _, cs := range codes {
		ws, ok := waves[cs.Wave]
		if !ok {
			ws = &WaveStats{Wave: cs.Wave}
			waves[cs.Wave] = ws
		}
		ws.Recipients++
		ws.Opens += cs.Opens
		if cs.Opens > 0 {
			ws.Opened++
		}
		report.Codes = append(report.Codes, *cs)
	}

	for _, ws := range waves {
		if ws.Recipients > 0 {
			ws.OpenRate = float64(ws.Opened) / float64(ws.Recipients)
		}
		report.Waves = append(report.Waves, *ws)
	}

	sort.Slice(report.Waves, func(i, j int) bool {
		return report.Waves[i].Wave < report.Waves[j].Wave
	})
	sort.SliceStable(report.Codes, func(i, j int) bool {
		if report.Codes[i].Wave != report.Codes[j].Wave {
			return report.Codes[i].Wave < report.Codes[j].Wave
		}
		return report.Codes[i].Recipient < report.Codes[j].Recipient
	})

	return report
}
