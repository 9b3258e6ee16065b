package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// durationRange bounds a duration field. Zero means unbounded on that side.
type durationRange struct {
	min, max time.Duration
}

// durationRanges holds limits for fields where an out-of-range value would
// stall logins or churn the network rather than fail loudly.
var durationRanges = map[string]durationRange{
	"telegram.poll_timeout":      {min: time.Second, max: 5 * time.Minute},
	"relay.login_timeout":        {min: 10 * time.Second, max: 24 * time.Hour},
	"relay.listen_backoff_min":   {min: 10 * time.Millisecond},
	"relay.dedup_retention":      {min: time.Minute},
	"relay.dedup_sweep_interval": {min: time.Second},
	"delivery.send_timeout":      {min: time.Second, max: 10 * time.Minute},
}

// ParseDurationField parses a Go duration string. A bare integer is taken as
// seconds, matching env-style configs ("300"). Empty means unset (0).
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := parseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	if r, ok := durationRanges[path]; ok && d > 0 {
		if r.min > 0 && d < r.min {
			return 0, fmt.Errorf("%s: %s is below the minimum %s", path, d, r.min)
		}
		if r.max > 0 && d > r.max {
			return 0, fmt.Errorf("%s: %s is above the maximum %s", path, d, r.max)
		}
	}
	return d, nil
}

const maxSeconds = math.MaxInt64 / int64(time.Second)

func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > maxSeconds || n < -maxSeconds {
			return 0, errors.New("seconds out of range")
		}
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// checkDurationOrder reports pairs whose lower bound exceeds the upper one.
// Unset fields are skipped; their defaults are ordered.
func checkDurationOrder(c *Config) []error {
	pairs := []struct {
		lo, hi       string
		loRaw, hiRaw string
	}{
		{"relay.listen_backoff_min", "relay.listen_backoff_max", c.Relay.ListenBackoffMin, c.Relay.ListenBackoffMax},
		{"delivery.retry_base", "delivery.retry_max_delay", c.Delivery.RetryBase, c.Delivery.RetryMaxDelay},
		{"relay.dedup_sweep_interval", "relay.dedup_retention", c.Relay.DedupSweepInterval, c.Relay.DedupRetention},
	}
	var errs []error
	for _, p := range pairs {
		lo, err1 := ParseDurationField(p.lo, p.loRaw)
		hi, err2 := ParseDurationField(p.hi, p.hiRaw)
		if err1 != nil || err2 != nil || lo == 0 || hi == 0 {
			continue
		}
		if lo > hi {
			errs = append(errs, fmt.Errorf("%s (%s) must not exceed %s (%s)", p.lo, lo, p.hi, hi))
		}
	}
	return errs
}
