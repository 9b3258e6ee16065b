package relay

import (
	"context"
	"errors"

	"sigrelay/internal/delivery"
	"sigrelay/internal/eventbus"
	"sigrelay/internal/routing"
	"sigrelay/internal/signal"
	"sigrelay/internal/storage"
	logx "sigrelay/pkg/logx"
)

// ForwardEvent is published for every forwarded signal.
type ForwardEvent struct {
	SourceID  int64
	Contract  string
	Label     string
	Delivered int
	Failed    int
}

func (s *Supervisor) handle(ctx context.Context, l *listener, sender delivery.Sender, ev Event) {
	l.handled.Add(1)
	forwarded, dup := s.Handle(ctx, l.tenant, sender, ev)
	if forwarded {
		l.forwarded.Add(1)
	}
	if dup {
		l.duplicate.Add(1)
	}
}

// Handle runs the pipeline for one inbound message: extract, check-and-record
// the dedup key, resolve routing, deliver. The key is recorded before
// delivery, so a failed delivery is not retried by a later copy of the
// same signal.
func (s *Supervisor) Handle(ctx context.Context, tenantID int64, sender delivery.Sender, ev Event) (forwarded, duplicate bool) {
	log := s.log.With(logx.Tenant(tenantID), logx.Int64("chat", ev.ChatID))

	sig, err := signal.Extract(ev.Text)
	if err != nil {
		if errors.Is(err, signal.ErrInvalidNumber) {
			log.Warn("signal with malformed market cap", logx.Err(err))
		}
		return false, false
	}
	if !s.cache.SeenOrRecord(sig.Contract) {
		log.Debug("duplicate signal", logx.String("ca", sig.Contract))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeSignalDuplicate, Tenant: tenantID, Data: sig.Contract})
		}
		return false, true
	}

	tenant, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		log.Error("load tenant failed", logx.Err(err))
		return false, false
	}
	rc, err := s.store.GetRouting(ctx, tenantID)
	if err != nil {
		log.Error("load routing failed", logx.Err(err))
		return false, false
	}
	ds := routing.Resolve(tenant, rc, ev.ChatID, sig)

	dctx := s.deliveryContext()
	results := s.delivery.Deliver(dctx, sender, tenantID, ds)
	fe := ForwardEvent{SourceID: ev.ChatID, Contract: sig.Contract, Label: ds[0].Label}
	entry := storage.AuditEntry{TenantID: tenantID, Username: tenant.Username, Action: "forward", Target: sig.Contract}
	for _, r := range results {
		if r.Err != nil {
			fe.Failed++
			if entry.Error == "" {
				entry.Error = r.Destination + ": " + r.Err.Error()
			}
			continue
		}
		fe.Delivered++
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		log.Warn("audit append failed", logx.Err(err))
	}
	log.Info("signal forwarded", logx.String("token", sig.Token), logx.String("ca", sig.Contract),
		logx.String("label", fe.Label), logx.Int("delivered", fe.Delivered), logx.Int("failed", fe.Failed))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeSignalForwarded, Tenant: tenantID, Data: fe})
	}
	return true, false
}

func (s *Supervisor) deliveryContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliverCtx == nil {
		return context.Background()
	}
	return s.deliverCtx
}
