package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

type tenantRow struct {
	tenant  Tenant
	cred    []byte
	routing map[int64]Notifier
}

// Memory is an in-process Store. Data is lost on exit.
type Memory struct {
	mu      sync.RWMutex
	closed  bool
	tenants map[int64]*tenantRow
	audit   []AuditEntry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{tenants: map[int64]*tenantRow{}, now: time.Now}
}

func (m *Memory) rowLocked(id int64, create bool) *tenantRow {
	r := m.tenants[id]
	if r == nil && create {
		now := m.now()
		r = &tenantRow{
			tenant:  Tenant{ID: id, Status: StatusUnauthenticated, CreatedAt: now, UpdatedAt: now},
			routing: map[int64]Notifier{},
		}
		m.tenants[id] = r
	}
	return r
}

func (m *Memory) GetCredential(_ context.Context, id int64) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	r := m.tenants[id]
	if r == nil || len(r.cred) == 0 {
		return nil, false, nil
	}
	return append([]byte(nil), r.cred...), true, nil
}

func (m *Memory) PutCredential(_ context.Context, id int64, cred []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	r := m.rowLocked(id, true)
	r.cred = append([]byte(nil), cred...)
	r.tenant.UpdatedAt = m.now()
	return nil
}

func (m *Memory) DeleteCredential(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if r := m.tenants[id]; r != nil {
		r.cred = nil
		r.tenant.UpdatedAt = m.now()
	}
	return nil
}

func (m *Memory) GetRouting(_ context.Context, id int64) (Routing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Routing{}, ErrClosed
	}
	r := m.tenants[id]
	if r == nil {
		return Routing{Groups: map[int64]Notifier{}}, nil
	}
	return cloneRouting(Routing{Groups: r.routing}), nil
}

func (m *Memory) PutRouting(_ context.Context, id int64, p RoutingPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	r := m.rowLocked(id, true)
	applyPatch(r.routing, p)
	r.tenant.UpdatedAt = m.now()
	return nil
}

func (m *Memory) GetOrCreateTenant(_ context.Context, id int64, username string) (Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Tenant{}, ErrClosed
	}
	r := m.rowLocked(id, true)
	if username != "" && r.tenant.Username != username {
		r.tenant.Username = username
		r.tenant.UpdatedAt = m.now()
	}
	return r.tenant, nil
}

func (m *Memory) GetTenant(_ context.Context, id int64) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Tenant{}, ErrClosed
	}
	r := m.tenants[id]
	if r == nil {
		return Tenant{}, ErrNotFound
	}
	return r.tenant, nil
}

func (m *Memory) UpdateTenant(_ context.Context, id int64, p TenantPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	r := m.rowLocked(id, true)
	if p.Username != nil {
		r.tenant.Username = *p.Username
	}
	if p.Destination != nil {
		r.tenant.Destination = *p.Destination
	}
	if p.TradingBot != nil {
		r.tenant.TradingBot = *p.TradingBot
	}
	r.tenant.UpdatedAt = m.now()
	return nil
}

func (m *Memory) SetStatus(_ context.Context, id int64, st Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	r := m.rowLocked(id, true)
	r.tenant.Status = st
	r.tenant.UpdatedAt = m.now()
	return nil
}

func (m *Memory) ListAuthenticated(_ context.Context) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var ids []int64
	for id, r := range m.tenants {
		if r.tenant.Status == StatusAuthenticated && len(r.cred) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *Memory) ResetConfig(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	r := m.tenants[id]
	if r == nil {
		return nil
	}
	r.tenant.Destination = ""
	r.tenant.TradingBot = ""
	r.routing = map[int64]Notifier{}
	r.tenant.UpdatedAt = m.now()
	return nil
}

func (m *Memory) AppendAudit(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = m.now()
	}
	m.audit = append(m.audit, e)
	return nil
}

// Audit returns a copy of the recorded audit trail.
func (m *Memory) Audit() []AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]AuditEntry(nil), m.audit...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
