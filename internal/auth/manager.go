// Package auth drives the per-tenant login flow (phone, one-time code,
// optional second factor) that produces a durable session credential.
package auth

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"sigrelay/internal/eventbus"
	"sigrelay/internal/storage"
	logx "sigrelay/pkg/logx"
)

const (
	DefaultTimeout     = 300 * time.Second
	DefaultMaxAttempts = 3
)

var phoneRe = regexp.MustCompile(`^\+\d+$`)

// CredentialStore is the subset of storage.Store the manager needs.
type CredentialStore interface {
	GetCredential(ctx context.Context, tenantID int64) ([]byte, bool, error)
	PutCredential(ctx context.Context, tenantID int64, cred []byte) error
	GetTenant(ctx context.Context, tenantID int64) (storage.Tenant, error)
	SetStatus(ctx context.Context, tenantID int64, status storage.Status) error
}

type Options struct {
	Timeout     time.Duration
	MaxAttempts int
	Logger      logx.Logger
	Bus         eventbus.Bus

	// OnAuthenticated runs after the credential is stored.
	OnAuthenticated func(tenantID int64)
	// OnTimeout runs after a login expired from inactivity.
	OnTimeout func(tenantID int64)
}

// Manager owns at most one pending login per tenant.
type Manager struct {
	net   Network
	store CredentialStore
	opts  Options
	log   logx.Logger

	mu      sync.Mutex
	pending map[int64]*pending
}

type pending struct {
	mu sync.Mutex

	tenant   int64
	state    State
	phone    string
	conn     Conn
	attempts int
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer
}

func NewManager(net Network, store CredentialStore, opts Options) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Logger.IsZero() {
		opts.Logger = logx.Nop()
	}
	return &Manager{
		net:     net,
		store:   store,
		opts:    opts,
		log:     opts.Logger.With(logx.String("comp", "auth")),
		pending: map[int64]*pending{},
	}
}

// SetHooks replaces the completion hooks. It must be called before the first Start.
func (m *Manager) SetHooks(onAuthenticated, onTimeout func(tenantID int64)) {
	m.mu.Lock()
	m.opts.OnAuthenticated = onAuthenticated
	m.opts.OnTimeout = onTimeout
	m.mu.Unlock()
}

// Start opens a login for tenantID and moves it to AwaitingPhone.
func (m *Manager) Start(ctx context.Context, tenantID int64) (State, error) {
	if err := m.checkLoggedOut(ctx, tenantID); err != nil {
		return Idle, err
	}

	m.mu.Lock()
	if _, ok := m.pending[tenantID]; ok {
		m.mu.Unlock()
		return Idle, ErrLoginInFlight
	}
	pctx, cancel := context.WithCancel(context.Background())
	p := &pending{tenant: tenantID, state: AwaitingPhone, ctx: pctx, cancel: cancel}
	p.timer = time.AfterFunc(m.opts.Timeout, func() { m.expire(p) })
	m.pending[tenantID] = p
	m.mu.Unlock()

	if err := m.store.SetStatus(ctx, tenantID, storage.StatusPending); err != nil {
		m.log.Warn("set pending status failed", logx.Tenant(tenantID), logx.Err(err))
	}
	m.log.Info("login started", logx.Tenant(tenantID))
	return AwaitingPhone, nil
}

// checkLoggedOut rejects tenants with a live session. A credential kept
// after a demotion does not count; completing the login replaces it.
func (m *Manager) checkLoggedOut(ctx context.Context, tenantID int64) error {
	_, ok, err := m.store.GetCredential(ctx, tenantID)
	if err != nil || !ok {
		return err
	}
	tn, err := m.store.GetTenant(ctx, tenantID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil
	case err != nil:
		return err
	case tn.Status == storage.StatusAuthenticated:
		return ErrAlreadyLoggedIn
	}
	return nil
}

// Pending reports the state of an in-flight login.
func (m *Manager) Pending(tenantID int64) (State, bool) {
	m.mu.Lock()
	p := m.pending[tenantID]
	m.mu.Unlock()
	if p == nil {
		return Idle, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Idle, false
	}
	return p.state, true
}

// Cancel aborts an in-flight login. It reports whether one existed.
func (m *Manager) Cancel(tenantID int64) bool {
	p := m.detach(tenantID, nil)
	if p == nil {
		return false
	}
	m.finish(p, Idle)
	m.log.Info("login cancelled", logx.Tenant(tenantID))
	return true
}

// Close aborts every pending login.
func (m *Manager) Close() {
	m.mu.Lock()
	all := make([]*pending, 0, len(m.pending))
	for id, p := range m.pending {
		all = append(all, p)
		delete(m.pending, id)
	}
	m.mu.Unlock()
	for _, p := range all {
		m.finish(p, Idle)
	}
}

// Submit feeds one user input to the tenant's login and returns the new state.
// Validation errors leave the state unchanged.
func (m *Manager) Submit(ctx context.Context, tenantID int64, input string) (Step, error) {
	m.mu.Lock()
	p := m.pending[tenantID]
	m.mu.Unlock()
	if p == nil {
		return Step{State: Idle}, ErrNoLogin
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Step{State: p.state}, ErrNoLogin
	}
	p.timer.Reset(m.opts.Timeout)
	input = strings.TrimSpace(input)

	switch p.state {
	case AwaitingPhone:
		return m.submitPhone(ctx, p, input)
	case AwaitingOTP:
		return m.submitCode(ctx, p, input)
	case AwaitingPassword:
		return m.submitPassword(ctx, p, input)
	default:
		return Step{State: p.state}, ErrNoLogin
	}
}

func (m *Manager) submitPhone(ctx context.Context, p *pending, phone string) (Step, error) {
	phone = strings.ReplaceAll(phone, " ", "")
	if !phoneRe.MatchString(phone) {
		return Step{State: AwaitingPhone}, ErrInvalidPhone
	}
	log := m.log.With(logx.Tenant(p.tenant), logx.Phone("phone", phone))

	conn, err := m.net.Begin(p.ctx)
	if err != nil {
		log.Error("login connection failed", logx.Err(err))
		return m.failLocked(p, err)
	}
	p.conn = conn
	if err := conn.SendCode(ctx, phone); err != nil {
		log.Warn("send code failed", logx.Err(err))
		return m.failLocked(p, err)
	}
	p.phone = phone
	p.state = AwaitingOTP
	p.attempts = 0
	log.Info("login code sent")
	return Step{State: AwaitingOTP, AttemptsLeft: m.opts.MaxAttempts}, nil
}

func (m *Manager) submitCode(ctx context.Context, p *pending, code string) (Step, error) {
	// Codes are often typed with separators so the app does not invalidate them.
	code = strings.NewReplacer(" ", "", "-", "", ".", "").Replace(code)
	if code == "" || strings.Trim(code, "0123456789") != "" {
		return Step{State: AwaitingOTP, AttemptsLeft: m.opts.MaxAttempts - p.attempts}, ErrInvalidCode
	}

	err := p.conn.SignIn(ctx, code)
	switch {
	case err == nil:
		return m.completeLocked(ctx, p)
	case errors.Is(err, ErrPasswordNeeded):
		p.state = AwaitingPassword
		p.attempts = 0
		m.log.Info("login needs second factor", logx.Tenant(p.tenant))
		return Step{State: AwaitingPassword, AttemptsLeft: m.opts.MaxAttempts}, nil
	case errors.Is(err, ErrCodeRejected):
		p.attempts++
		if left := m.opts.MaxAttempts - p.attempts; left > 0 {
			return Step{State: AwaitingOTP, AttemptsLeft: left}, err
		}
		return m.failLocked(p, err)
	default:
		return m.failLocked(p, err)
	}
}

func (m *Manager) submitPassword(ctx context.Context, p *pending, secret string) (Step, error) {
	if secret == "" {
		return Step{State: AwaitingPassword, AttemptsLeft: m.opts.MaxAttempts - p.attempts}, ErrEmptyPassword
	}
	err := p.conn.Password(ctx, secret)
	switch {
	case err == nil:
		return m.completeLocked(ctx, p)
	case errors.Is(err, ErrPasswordRejected):
		p.attempts++
		if left := m.opts.MaxAttempts - p.attempts; left > 0 {
			return Step{State: AwaitingPassword, AttemptsLeft: left}, err
		}
		return m.failLocked(p, err)
	default:
		return m.failLocked(p, err)
	}
}

func (m *Manager) completeLocked(ctx context.Context, p *pending) (Step, error) {
	cred, err := p.conn.Export(ctx)
	if err != nil {
		return m.failLocked(p, err)
	}
	if err := m.store.PutCredential(ctx, p.tenant, cred); err != nil {
		return m.failLocked(p, err)
	}
	if err := m.store.SetStatus(ctx, p.tenant, storage.StatusAuthenticated); err != nil {
		return m.failLocked(p, err)
	}
	if m.detach(p.tenant, p) == nil {
		// Expired concurrently; the credential is stored, so keep the login.
		m.log.Warn("login completed after expiry", logx.Tenant(p.tenant))
	}
	p.state = Authenticated
	m.closeLocked(p)
	m.publish(p.tenant, Authenticated, nil)
	m.log.Info("login succeeded", logx.Tenant(p.tenant))

	m.mu.Lock()
	hook := m.opts.OnAuthenticated
	m.mu.Unlock()
	if hook != nil {
		hook(p.tenant)
	}
	return Step{State: Authenticated}, nil
}

func (m *Manager) failLocked(p *pending, cause error) (Step, error) {
	m.detach(p.tenant, p)
	p.state = Failed
	m.closeLocked(p)
	m.resetStatus(p.tenant)
	m.publish(p.tenant, Failed, cause)

	step := Step{State: Failed}
	var fe *FloodError
	if errors.As(cause, &fe) {
		step.Wait = fe.Wait
	}
	return step, cause
}

// detach removes the tenant's record if it is still p (any record when p is nil).
func (m *Manager) detach(tenantID int64, p *pending) *pending {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.pending[tenantID]
	if cur == nil || (p != nil && cur != p) {
		return nil
	}
	delete(m.pending, tenantID)
	return cur
}

func (m *Manager) expire(p *pending) {
	if m.detach(p.tenant, p) == nil {
		return
	}
	// Abort in-flight network calls first so Submit releases p.mu.
	p.cancel()
	if !m.finish(p, TimedOut) {
		// Completed or failed while the timer fired.
		return
	}
	m.log.Info("login timed out", logx.Tenant(p.tenant))

	m.mu.Lock()
	hook := m.opts.OnTimeout
	m.mu.Unlock()
	if hook != nil {
		hook(p.tenant)
	}
}

// finish closes p in state st. It reports false when p was already closed.
func (m *Manager) finish(p *pending, st State) bool {
	p.cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.state = st
	m.closeLocked(p)
	m.resetStatus(p.tenant)
	m.publish(p.tenant, st, nil)
	return true
}

func (m *Manager) closeLocked(p *pending) {
	if p.closed {
		return
	}
	p.closed = true
	p.timer.Stop()
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			m.log.Debug("login connection close", logx.Tenant(p.tenant), logx.Err(err))
		}
	}
	p.cancel()
}

func (m *Manager) resetStatus(tenantID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.SetStatus(ctx, tenantID, storage.StatusUnauthenticated); err != nil {
		m.log.Warn("reset status failed", logx.Tenant(tenantID), logx.Err(err))
	}
}

func (m *Manager) publish(tenantID int64, st State, err error) {
	if m.opts.Bus == nil {
		return
	}
	data := map[string]string{"state": st.String()}
	if err != nil {
		data["error"] = err.Error()
	}
	m.opts.Bus.Publish(eventbus.Event{Type: eventbus.TypeLoginFinished, Tenant: tenantID, Data: data})
}
