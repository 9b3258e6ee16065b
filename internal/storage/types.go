package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for an unknown tenant.
	ErrNotFound = errors.New("storage: not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage: closed")
)

// Config selects and configures a driver.
type Config struct {
	Driver      string
	Path        string        // sqlite
	BusyTimeout time.Duration // sqlite; 0 means default
	URI         string        // mongo
	Database    string        // mongo
	Timeout     time.Duration // mongo connect/op timeout
}

// Status is a tenant's authentication status.
type Status string

const (
	StatusUnauthenticated Status = "unauthenticated"
	StatusPending         Status = "pending"
	StatusAuthenticated   Status = "authenticated"
)

// Tenant is one end user of the relay. Identity is the network user id.
type Tenant struct {
	ID       int64
	Username string
	Status   Status

	// Destination is the primary delivery target: a numeric id, "@handle" or
	// empty (the tenant's own saved messages).
	Destination string
	// TradingBot is the optional secondary delivery endpoint.
	TradingBot string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Notifier is the routing entry for one source group.
type Notifier struct {
	Label string
	Key   string
}

// Routing maps source group id to notifier.
type Routing struct {
	Groups map[int64]Notifier
}

// Lookup returns the notifier configured for a source group.
func (r Routing) Lookup(groupID int64) (Notifier, bool) {
	n, ok := r.Groups[groupID]
	return n, ok
}

// RoutingPatch is a partial update: SetNotifier entries are upserted,
// RemoveGroups are deleted afterwards. A label has one key per tenant, so
// setting a notifier also rewrites the key of other groups with that label.
type RoutingPatch struct {
	SetNotifier  map[int64]Notifier
	RemoveGroups []int64
}

// TenantPatch updates the non-nil fields only.
type TenantPatch struct {
	Username    *string
	Destination *string
	TradingBot  *string
}

// AuditEntry records a tenant or operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time
	TenantID int64
	Username string
	Action   string
	Target   string
	Error    string
}

// Store is the persistence API used by the auth manager, the relay and the
// command surface.
type Store interface {
	GetCredential(ctx context.Context, tenantID int64) (cred []byte, ok bool, err error)
	PutCredential(ctx context.Context, tenantID int64, cred []byte) error
	DeleteCredential(ctx context.Context, tenantID int64) error

	GetRouting(ctx context.Context, tenantID int64) (Routing, error)
	PutRouting(ctx context.Context, tenantID int64, patch RoutingPatch) error

	// GetOrCreateTenant records first contact and refreshes the handle.
	GetOrCreateTenant(ctx context.Context, tenantID int64, username string) (Tenant, error)
	GetTenant(ctx context.Context, tenantID int64) (Tenant, error)
	UpdateTenant(ctx context.Context, tenantID int64, patch TenantPatch) error
	SetStatus(ctx context.Context, tenantID int64, status Status) error
	// ListAuthenticated returns tenants that are authenticated and hold a credential.
	ListAuthenticated(ctx context.Context) ([]int64, error)
	// ResetConfig clears destination, secondary endpoint and routing table.
	// Identity and credential are kept.
	ResetConfig(ctx context.Context, tenantID int64) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

func cloneRouting(r Routing) Routing {
	out := Routing{Groups: make(map[int64]Notifier, len(r.Groups))}
	for k, v := range r.Groups {
		out.Groups[k] = v
	}
	return out
}

func applyPatch(groups map[int64]Notifier, p RoutingPatch) {
	for id, n := range p.SetNotifier {
		groups[id] = n
		for other, cur := range groups {
			if cur.Label == n.Label && cur.Key != n.Key {
				cur.Key = n.Key
				groups[other] = cur
			}
		}
	}
	for _, id := range p.RemoveGroups {
		delete(groups, id)
	}
}
