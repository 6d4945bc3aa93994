// Package contacts turns the contact spreadsheet into campaign waves.
package contacts

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Column names of the contact sheet
const (
	ColWaveID         = "wave_id"
	ColRecipientIndex = "recipient_index"
	ColEmail          = "email"
	ColName           = "name"
	ColContext        = "context"
	ColAngle          = "angle"
	ColVideoID        = "video_id"
)

// Row is one parsed line of the contact sheet
type Row struct {
	Line           int
	WaveID         int
	RecipientIndex int
	Email          string
	Name           string
	Context        string
	Angle          string
	VideoID        string
}

// SplitFields splits one line on commas. A double quote toggles quoted mode;
// commas inside quotes are kept and the quote characters are dropped.
func SplitFields(line string) []string {
	var (
		fields   []string
		current  strings.Builder
		inQuotes bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == ',' && !inQuotes:
			fields = append(fields, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	return append(fields, current.String())
}

// ParseCSV reads the contact sheet. The first non-blank line is the header.
// Columns missing from a row are empty.
func ParseCSV(r io.Reader) ([]Row, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		header  map[string]int
		rows    []Row
		lineNum int
	)

	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := SplitFields(line)
		if header == nil {
			header = make(map[string]int, len(fields))
			for i, name := range fields {
				header[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
			}
			if _, ok := header[ColWaveID]; !ok {
				return nil, fmt.Errorf("header is missing column %q", ColWaveID)
			}
			continue
		}

		get := func(col string) string {
			i, ok := header[col]
			if !ok || i >= len(fields) {
				return ""
			}
			return fields[i]
		}

		waveID, err := strconv.Atoi(strings.TrimSpace(get(ColWaveID)))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid %s %q", lineNum, ColWaveID, get(ColWaveID))
		}

		index := 0
		if raw := strings.TrimSpace(get(ColRecipientIndex)); raw != "" {
			index, err = strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid %s %q", lineNum, ColRecipientIndex, raw)
			}
		}

		rows = append(rows, Row{
			Line:           lineNum,
			WaveID:         waveID,
			RecipientIndex: index,
			Email:          strings.TrimSpace(get(ColEmail)),
			Name:           get(ColName),
			Context:        get(ColContext),
			Angle:          get(ColAngle),
			VideoID:        strings.TrimSpace(get(ColVideoID)),
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read contacts: %w", err)
	}

	return rows, nil
}
