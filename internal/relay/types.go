package relay

import (
	"context"
	"errors"
	"time"

	"sigrelay/internal/delivery"
	rtsup "sigrelay/internal/runtime/supervisor"
	"sigrelay/internal/storage"
)

// ErrUnauthorized means the tenant's credential was revoked or expired.
// Listeners that hit it are not restarted.
var ErrUnauthorized = errors.New("relay: session unauthorized")

// Event is one inbound message seen by a tenant's session.
type Event struct {
	ChatID    int64
	MessageID int
	Text      string
	Date      time.Time
}

// Dialog is a group or channel the tenant's account is a member of.
type Dialog struct {
	ID    int64
	Title string
	Kind  string // "group", "supergroup", "channel"
}

// Session is a live, authenticated network connection for one tenant.
type Session interface {
	delivery.Sender
	// Listen blocks until ctx is done or the connection fails. fn is called
	// from a single goroutine in receipt order.
	Listen(ctx context.Context, fn func(ctx context.Context, ev Event)) error
	Dialogs(ctx context.Context) ([]Dialog, error)
	Close() error
}

// Dialer opens tenant sessions from stored credentials.
type Dialer interface {
	Dial(ctx context.Context, tenantID int64, cred []byte) (Session, error)
}

// Store is the subset of storage.Store the relay needs.
type Store interface {
	GetCredential(ctx context.Context, tenantID int64) ([]byte, bool, error)
	DeleteCredential(ctx context.Context, tenantID int64) error
	GetTenant(ctx context.Context, tenantID int64) (storage.Tenant, error)
	GetRouting(ctx context.Context, tenantID int64) (storage.Routing, error)
	SetStatus(ctx context.Context, tenantID int64, status storage.Status) error
	ListAuthenticated(ctx context.Context) ([]int64, error)
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Config struct {
	// ListenRetryMax bounds consecutive listener restarts after transient errors.
	ListenRetryMax int
	BackoffMin     time.Duration
	BackoffMax     time.Duration
	// StableAfter is how long a listener must stay up to reset its retry budget.
	StableAfter   time.Duration
	SweepInterval time.Duration
}

// TenantStatus is the /status view of one listener.
type TenantStatus struct {
	ID        int64
	Online    bool
	Since     time.Time
	Handled   uint64
	Forwarded uint64
	Duplicate uint64
	LastErr   string
}

type Snapshot struct {
	Tenants   []TenantStatus
	DedupSize int
	Delivery  delivery.Stats
	Tasks     rtsup.Snapshot
}
