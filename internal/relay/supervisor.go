// Package relay keeps one listener per authenticated tenant alive and runs
// the extract, dedup, route, deliver pipeline for every inbound message.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"sigrelay/internal/dedup"
	"sigrelay/internal/delivery"
	"sigrelay/internal/eventbus"
	rtsup "sigrelay/internal/runtime/supervisor"
	"sigrelay/internal/storage"
	logx "sigrelay/pkg/logx"
)

var ErrNotStarted = errors.New("relay: supervisor not started")

type listener struct {
	tenant int64
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	sess    Session
	since   time.Time
	lastErr string

	handled   atomic.Uint64
	forwarded atomic.Uint64
	duplicate atomic.Uint64
}

func (l *listener) setSession(s Session) {
	l.mu.Lock()
	l.sess = s
	if s != nil {
		l.since = time.Now()
	}
	l.mu.Unlock()
}

func (l *listener) session() Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sess
}

// Supervisor owns tenant listeners and the dedup janitor.
type Supervisor struct {
	cfg      Config
	dialer   Dialer
	store    Store
	cache    *dedup.Cache
	janitor  *dedup.Janitor
	delivery *delivery.Service
	bus      eventbus.Bus
	log      logx.Logger

	// OnDemoted is called after a tenant lost its listener for good.
	OnDemoted func(tenantID int64, cause error)

	mu        sync.Mutex
	sup       *rtsup.Supervisor
	listeners map[int64]*listener

	// Deliveries outlive listener cancellation so Stop can drain them.
	deliverCtx    context.Context
	deliverCancel context.CancelFunc
}

func New(cfg Config, dialer Dialer, store Store, cache *dedup.Cache, ds *delivery.Service, bus eventbus.Bus, log logx.Logger) *Supervisor {
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = time.Minute
	}
	if cfg.ListenRetryMax <= 0 {
		cfg.ListenRetryMax = 5
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = 5 * time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "relay"))
	return &Supervisor{
		cfg:       cfg,
		dialer:    dialer,
		store:     store,
		cache:     cache,
		janitor:   dedup.NewJanitor(cache, cfg.SweepInterval, log, bus),
		delivery:  ds,
		bus:       bus,
		log:       log,
		listeners: map[int64]*listener{},
	}
}

// Start launches a listener for every authenticated tenant and the dedup janitor.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.sup != nil {
		s.mu.Unlock()
		return nil
	}
	s.sup = rtsup.New(context.Background(),
		rtsup.WithLogger(s.log),
		// One tenant failing must never stop the others.
		rtsup.WithCancelOnError(false),
	)
	s.deliverCtx, s.deliverCancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	if err := s.janitor.Start(); err != nil {
		return err
	}

	ids, err := s.store.ListAuthenticated(ctx)
	if err != nil {
		return fmt.Errorf("list authenticated tenants: %w", err)
	}
	for _, id := range ids {
		if err := s.Add(id); err != nil {
			return err
		}
	}
	s.log.Info("relay started", logx.Int("tenants", len(ids)))
	return nil
}

// Add starts a listener for tenantID unless one is already running.
func (s *Supervisor) Add(tenantID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup == nil {
		return ErrNotStarted
	}
	if _, ok := s.listeners[tenantID]; ok {
		return nil
	}
	lctx, cancel := context.WithCancel(context.Background())
	l := &listener{tenant: tenantID, ctx: lctx, cancel: cancel}
	s.listeners[tenantID] = l

	s.sup.GoRestart(fmt.Sprintf("tenant.%d", tenantID),
		func(ctx context.Context) error { return s.listen(ctx, l) },
		rtsup.WithRestartBackoff(s.cfg.BackoffMin, s.cfg.BackoffMax),
		rtsup.WithMaxRestarts(s.cfg.ListenRetryMax),
		rtsup.WithStableAfter(s.cfg.StableAfter),
		rtsup.WithRetryIf(func(err error) bool { return !errors.Is(err, ErrUnauthorized) }),
		rtsup.WithDelayHint(delivery.RetryAfter),
		rtsup.WithGiveUp(func(err error) { s.demote(l, err) }),
	)
	return nil
}

// Remove stops the tenant's listener; its session is closed once in-flight
// handling finished.
func (s *Supervisor) Remove(tenantID int64) bool {
	s.mu.Lock()
	l := s.listeners[tenantID]
	delete(s.listeners, tenantID)
	s.mu.Unlock()
	if l == nil {
		return false
	}
	l.cancel()
	s.log.Info("listener removed", logx.Tenant(tenantID))
	return true
}

// Running reports whether tenantID has a listener.
func (s *Supervisor) Running(tenantID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.listeners[tenantID]
	return ok
}

// Session returns the tenant's live session, if connected.
func (s *Supervisor) Session(tenantID int64) (Session, bool) {
	s.mu.Lock()
	l := s.listeners[tenantID]
	s.mu.Unlock()
	if l == nil {
		return nil, false
	}
	sess := l.session()
	return sess, sess != nil
}

func (s *Supervisor) listen(ctx context.Context, l *listener) error {
	lctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(l.ctx, cancel)
	defer stop()

	err := s.runSession(lctx, l)
	if err != nil && lctx.Err() != nil {
		// Removal or shutdown.
		return context.Canceled
	}
	if err != nil {
		l.mu.Lock()
		l.lastErr = err.Error()
		l.mu.Unlock()
	}
	return err
}

func (s *Supervisor) runSession(ctx context.Context, l *listener) error {
	log := s.log.With(logx.Tenant(l.tenant))
	cred, ok, err := s.store.GetCredential(ctx, l.tenant)
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: no credential", ErrUnauthorized)
	}

	sess, err := s.dialer.Dial(ctx, l.tenant, cred)
	if err != nil {
		return err
	}
	l.setSession(sess)
	defer func() {
		l.setSession(nil)
		if err := sess.Close(); err != nil {
			log.Debug("session close", logx.Err(err))
		}
	}()

	log.Info("tenant online")
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTenantOnline, Tenant: l.tenant})
	}
	return sess.Listen(ctx, func(ctx context.Context, ev Event) {
		s.handle(ctx, l, sess, ev)
	})
}

// demote marks the tenant unauthenticated after its listener gave up. The
// credential is cleared only when the network rejected it.
func (s *Supervisor) demote(l *listener, cause error) {
	s.mu.Lock()
	if s.listeners[l.tenant] == l {
		delete(s.listeners, l.tenant)
	}
	s.mu.Unlock()
	l.cancel()

	revoked := errors.Is(cause, ErrUnauthorized)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.SetStatus(ctx, l.tenant, storage.StatusUnauthenticated); err != nil {
		s.log.Error("demote: set status failed", logx.Tenant(l.tenant), logx.Err(err))
	}
	if revoked {
		if err := s.store.DeleteCredential(ctx, l.tenant); err != nil {
			s.log.Error("demote: delete credential failed", logx.Tenant(l.tenant), logx.Err(err))
		}
	}
	_ = s.store.AppendAudit(ctx, storage.AuditEntry{TenantID: l.tenant, Action: "demote", Error: cause.Error()})
	s.log.Warn("tenant demoted", logx.Tenant(l.tenant), logx.Bool("credential_cleared", revoked), logx.Err(cause))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTenantDemoted, Tenant: l.tenant, Data: cause.Error()})
	}
	if s.OnDemoted != nil {
		s.OnDemoted(l.tenant, cause)
	}
}

// Stop cancels listeners and the janitor, then waits for in-flight
// deliveries and session teardown until ctx is done.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	for id, l := range s.listeners {
		l.cancel()
		delete(s.listeners, id)
	}
	deliverCancel := s.deliverCancel
	s.mu.Unlock()
	if sup == nil {
		return nil
	}

	s.janitor.Stop()
	sup.Cancel()
	err := sup.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		// Out of time: abort deliveries still retrying.
		deliverCancel()
		s.log.Warn("relay stop deadline exceeded; aborting deliveries")
		return ctx.Err()
	}
	deliverCancel()
	s.log.Info("relay stopped")
	return nil
}

func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	ls := make([]*listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	sup := s.sup
	s.mu.Unlock()

	snap := Snapshot{DedupSize: s.cache.Len()}
	if s.delivery != nil {
		snap.Delivery = s.delivery.Stats()
	}
	if sup != nil {
		snap.Tasks = sup.Snapshot()
	}
	for _, l := range ls {
		l.mu.Lock()
		ts := TenantStatus{
			ID:      l.tenant,
			Online:  l.sess != nil,
			Since:   l.since,
			LastErr: l.lastErr,
		}
		l.mu.Unlock()
		ts.Handled = l.handled.Load()
		ts.Forwarded = l.forwarded.Load()
		ts.Duplicate = l.duplicate.Load()
		snap.Tenants = append(snap.Tenants, ts)
	}
	sort.Slice(snap.Tenants, func(i, j int) bool { return snap.Tenants[i].ID < snap.Tenants[j].ID })
	return snap
}
