package delivery

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStopped is returned for deliveries attempted after Close.
	ErrStopped = errors.New("delivery stopped")
	// ErrPermanent marks a send error that retrying cannot fix
	// (unknown peer, blocked by the recipient, revoked session...).
	ErrPermanent = errors.New("delivery: permanent failure")
)

// Config controls rate limiting and retries.
type Config struct {
	RatePerSec    int
	Burst         int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
}

// FloodError carries the network's advisory wait.
type FloodError struct {
	Wait time.Duration
	Err  error
}

func (e *FloodError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("flood wait %s: %v", e.Wait, e.Err)
	}
	return fmt.Sprintf("flood wait %s", e.Wait)
}

func (e *FloodError) Unwrap() error { return e.Err }

// RetryAfter reports the advisory wait carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var fe *FloodError
	if errors.As(err, &fe) && fe.Wait > 0 {
		return fe.Wait, true
	}
	return 0, false
}

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool { return errors.Is(err, ErrPermanent) }

// Permanent wraps err so IsFatal reports true.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Result is the outcome for one destination.
type Result struct {
	Destination string
	Secondary   bool
	Attempts    int
	Err         error
}

// Event is published on the bus for every finished delivery.
// Keep it small; subscribers may log it.
type Event struct {
	Destination string `json:"destination"`
	Label       string `json:"label"`
	Key         string `json:"key"`
	Attempts    int    `json:"attempts"`
	Error       string `json:"error,omitempty"`
}

type HistoryItem struct {
	At          time.Time
	Tenant      int64
	Destination string
	OK          bool
}

// Stats is a point-in-time view for /status.
type Stats struct {
	Sent     uint64
	Failed   uint64
	InFlight int64
}
