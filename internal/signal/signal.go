// Package signal extracts trade signals from free-text channel broadcasts.
package signal

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrNoMatch means the text is not a signal: at least one required field is missing.
	ErrNoMatch = errors.New("signal: no match")
	// ErrInvalidNumber means the market-cap field was present but not a number.
	ErrInvalidNumber = errors.New("signal: invalid number")
)

var (
	namePattern     = regexp.MustCompile(`(?m)^(.*?) \| @`)
	marketCapRegexp = regexp.MustCompile(`(?:💹\s*)?MC:\s*\$([\d,]+(?:\.\d+)?)`)
	labeledContract = regexp.MustCompile(`CA:\s*([a-zA-Z0-9]{32,44})\b`)
	bareContract    = regexp.MustCompile(`\b[a-zA-Z0-9]{32,44}\b`)
)

// Signal is an extracted (token, market cap, contract) triple. The contract
// address is the identity used for deduplication.
type Signal struct {
	Token     string
	MarketCap string // normalized, e.g. "1235k"
	Contract  string
}

// Extract parses raw message text. All three fields must be present; partial
// data is never returned.
func Extract(text string) (Signal, error) {
	name := namePattern.FindStringSubmatch(text)
	mc := marketCapRegexp.FindStringSubmatch(text)
	contract := findContract(text)
	if name == nil || mc == nil || contract == "" {
		return Signal{}, ErrNoMatch
	}
	token := strings.TrimSpace(name[1])
	if token == "" {
		return Signal{}, ErrNoMatch
	}

	capK, err := RoundToK(mc[1])
	if err != nil {
		return Signal{}, err
	}
	return Signal{Token: token, MarketCap: capK, Contract: contract}, nil
}

func findContract(text string) string {
	if m := labeledContract.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return bareContract.FindString(text)
}

// RoundToK strips thousands separators, divides by 1000 and rounds to the
// nearest integer (halves away from zero), appending "k".
func RoundToK(raw string) (string, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
	}
	k := math.Round(v / 1000)
	if k == 0 {
		k = 0 // drop the sign of -0
	}
	// Formatted as a float so values past int64 keep their magnitude.
	return strconv.FormatFloat(k, 'f', 0, 64) + "k", nil
}
