// Package tracking assigns per-message tracking codes, keeps the tracking
// ledger and records pixel opens.
package tracking

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// suffixSpace is 36^6, the number of distinct six-character base-36 suffixes.
const suffixSpace = 2176782336

// codeNamespace scopes the name-based UUIDs used for deterministic codes.
var codeNamespace = uuid.MustParse("6f1c3e0a-4b7d-5a2e-9c1f-2d8e7b6a5c40")

var codePattern = regexp.MustCompile(`^W(\d{2,})-R(\d+)-([0-9a-z]{6})$`)

// Generator produces the tracking code of one (wave, position) pair
type Generator interface {
	Code(wave, position int, email string) string
}

// HashGenerator derives the code from the wave, the position and the address.
// The same inputs always yield the same code.
type HashGenerator struct{}

// Code returns W{wave:02d}-R{position}-{suffix}
func (HashGenerator) Code(wave, position int, email string) string {
	name := fmt.Sprintf("%d/%d/%s", wave, position, strings.ToLower(strings.TrimSpace(email)))
	id := uuid.NewSHA1(codeNamespace, []byte(name))
	return FormatCode(wave, position, binary.BigEndian.Uint64(id[:8]))
}

// RandomGenerator draws the suffix from crypto/rand. Codes change on every run.
type RandomGenerator struct{}

// Code returns W{wave:02d}-R{position}-{random suffix}
func (RandomGenerator) Code(wave, position int, _ string) string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(fmt.Sprintf("tracking: crypto/rand failed: %v", err))
	}
	return FormatCode(wave, position, binary.BigEndian.Uint64(b[:]))
}

// FormatCode renders a code from its parts. Only the low bits of seed that fit
// in six base-36 digits are used.
func FormatCode(wave, position int, seed uint64) string {
	suffix := strconv.FormatUint(seed%suffixSpace, 36)
	if len(suffix) < 6 {
		suffix = strings.Repeat("0", 6-len(suffix)) + suffix
	}
	return fmt.Sprintf("W%02d-R%d-%s", wave, position, suffix)
}

// ParseCode splits a tracking code into its wave and position
func ParseCode(code string) (wave, position int, ok bool) {
	m := codePattern.FindStringSubmatch(code)
	if m == nil {
		return 0, 0, false
	}
	wave, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	position, err = strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, false
	}
	return wave, position, true
}
