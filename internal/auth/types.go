package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// State is the login state of one tenant.
type State int

const (
	Idle State = iota
	AwaitingPhone
	AwaitingOTP
	AwaitingPassword
	Authenticated
	Failed
	TimedOut
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingPhone:
		return "awaiting_phone"
	case AwaitingOTP:
		return "awaiting_otp"
	case AwaitingPassword:
		return "awaiting_password"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the login record is discarded in this state.
func (s State) Terminal() bool {
	return s == Authenticated || s == Failed || s == TimedOut || s == Idle
}

var (
	ErrAlreadyLoggedIn = errors.New("auth: already logged in")
	ErrLoginInFlight   = errors.New("auth: login already in progress")
	ErrNoLogin         = errors.New("auth: no login in progress")
	ErrInvalidPhone    = errors.New("auth: invalid phone number")
	ErrInvalidCode     = errors.New("auth: invalid code format")
	ErrEmptyPassword   = errors.New("auth: empty password")

	// Returned by Conn implementations.
	ErrPasswordNeeded   = errors.New("auth: second factor required")
	ErrCodeRejected     = errors.New("auth: code rejected")
	ErrCodeExpired      = errors.New("auth: code expired")
	ErrPasswordRejected = errors.New("auth: password rejected")
)

// FloodError is a rate-limit answer from the network carrying its advisory wait.
type FloodError struct {
	Wait time.Duration
	Err  error
}

func (e *FloodError) Error() string {
	return fmt.Sprintf("auth: flood wait %s", e.Wait)
}

func (e *FloodError) Unwrap() error { return e.Err }

// Conn is one unauthenticated network connection used for a single login.
type Conn interface {
	// SendCode requests a one-time code for phone. The connection keeps
	// whatever it needs (code hash) for the following SignIn.
	SendCode(ctx context.Context, phone string) error
	// SignIn returns ErrPasswordNeeded when a second factor is required.
	SignIn(ctx context.Context, code string) error
	Password(ctx context.Context, secret string) error
	// Export serializes the authorized session credential.
	Export(ctx context.Context) ([]byte, error)
	Close() error
}

// Network opens login connections. ctx bounds the connection lifetime.
type Network interface {
	Begin(ctx context.Context) (Conn, error)
}

// Step is the result of one Submit.
type Step struct {
	State State
	// Wait is the network's advisory wait after a rate-limit failure.
	Wait time.Duration
	// AttemptsLeft counts remaining code or password tries.
	AttemptsLeft int
}
