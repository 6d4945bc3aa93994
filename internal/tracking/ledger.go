package tracking

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

var ledgerHeader = []string{"wave", "recipient", "code", "email"}

// Record is one row of the tracking ledger
type Record struct {
	Wave      int    `json:"wave"`
	Recipient int    `json:"recipient"`
	Code      string `json:"code"`
	Email     string `json:"email"`
}

// WriteLedger writes records as CSV with a header row
func WriteLedger(path string, records []Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create ledger: %w", err)
	}
	defer f.Close()

	if err := EncodeLedger(f, records); err != nil {
		return err
	}
	return f.Close()
}

// EncodeLedger writes records as CSV to w
func EncodeLedger(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ledgerHeader); err != nil {
		return fmt.Errorf("failed to write ledger header: %w", err)
	}
	for _, r := range records {
		row := []string{strconv.Itoa(r.Wave), strconv.Itoa(r.Recipient), r.Code, r.Email}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write ledger row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadLedger loads a ledger file. A missing file yields an empty ledger.
func ReadLedger(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = len(ledgerHeader)

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse ledger: %w", err)
	}

	var records []Record
	for i, row := range rows {
		if i == 0 && row[0] == ledgerHeader[0] {
			continue
		}
		wave, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, fmt.Errorf("ledger line %d: invalid wave %q", i+1, row[0])
		}
		recipient, err := strconv.Atoi(row[1])
		if err != nil {
			return nil, fmt.Errorf("ledger line %d: invalid recipient %q", i+1, row[1])
		}
		records = append(records, Record{Wave: wave, Recipient: recipient, Code: row[2], Email: row[3]})
	}
	return records, nil
}

// MergeLedger replaces the rows of the regenerated waves with fresh rows and
// keeps rows of every other wave. The result is sorted by wave then recipient.
func MergeLedger(existing, fresh []Record, waves []int) []Record {
	regenerated := make(map[int]bool, len(waves))
	for _, w := range waves {
		regenerated[w] = true
	}

	merged := make([]Record, 0, len(existing)+len(fresh))
	for _, r := range existing {
		if !regenerated[r.Wave] {
			merged = append(merged, r)
		}
	}
	merged = append(merged, fresh...)

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Wave != merged[j].Wave {
			return merged[i].Wave < merged[j].Wave
		}
		return merged[i].Recipient < merged[j].Recipient
	})
	return merged
}
