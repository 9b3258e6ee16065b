// Package app wires config, storage, the MTProto dialer, the login manager,
// the relay supervisor and the bot command surface into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"sigrelay/internal/auth"
	"sigrelay/internal/config"
	"sigrelay/internal/dedup"
	"sigrelay/internal/delivery"
	"sigrelay/internal/eventbus"
	"sigrelay/internal/mtproto"
	"sigrelay/internal/observability/diag"
	"sigrelay/internal/relay"
	rtsup "sigrelay/internal/runtime/supervisor"
	"sigrelay/internal/storage"
	kit "sigrelay/internal/transport"
	telegram "sigrelay/internal/transport/telegram/adapter"
	"sigrelay/internal/transport/telegram/router"
	logx "sigrelay/pkg/logx"
)

const notifyTimeout = 10 * time.Second

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter  *telegram.Adapter
	cache    *dedup.Cache
	delivery *delivery.Service
	auth     *auth.Manager
	relay    *relay.Supervisor
	router   *router.Router
	diag     *diag.Server

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Telegram logging stays off until the adapter exists to carry it.
	logCfg := mapLogging(cfg)
	bootCfg := logCfg
	bootCfg.Admin.Enabled = false
	logs, log := logx.New(bootCfg, nil)

	adCfg, err := mapAdapter(cfg)
	if err != nil {
		logs.Close()
		return nil, err
	}
	ad, err := telegram.New(adCfg, log.With(logx.String("comp", "telegram")))
	if err != nil {
		logs.Close()
		return nil, err
	}
	logs.SetSink(ad)
	logs.SetAdminChat(cfg.GroupLogID())
	logs.Apply(logCfg)

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		bus:     eventbus.New(),
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}
	if err := a.build(cfg); err != nil {
		logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	stCfg, err := mapStorage(cfg)
	if err != nil {
		return err
	}
	openCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := storage.Open(openCtx, stCfg, a.log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	rCfg, retention, err := mapRelay(cfg)
	if err != nil {
		return a.closeStore(err)
	}
	dCfg, err := mapDelivery(cfg)
	if err != nil {
		return a.closeStore(err)
	}
	mCfg, err := mapDialer(cfg)
	if err != nil {
		return a.closeStore(err)
	}
	aOpts, err := mapAuth(cfg)
	if err != nil {
		return a.closeStore(err)
	}
	diagCfg, err := mapDiag(cfg)
	if err != nil {
		return a.closeStore(err)
	}

	dialer, err := mtproto.NewDialer(mCfg, a.log.With(logx.String("comp", "mtproto")))
	if err != nil {
		return a.closeStore(err)
	}

	a.cache = dedup.New(dedup.WithRetention(retention))
	a.delivery = delivery.New(dCfg, a.log, a.bus)
	a.relay = relay.New(rCfg, dialer, store, a.cache, a.delivery, a.bus, a.log)

	aOpts.Logger = a.log
	aOpts.Bus = a.bus
	a.auth = auth.NewManager(dialer, store, aOpts)

	a.router = router.New(a.log, a.adapter, router.Deps{
		Store:         store,
		Auth:          a.auth,
		Relay:         a.relay,
		GroupsPerPage: cfg.Relay.GroupsPerPage,
	}, cfg.Telegram.OwnerUserIDs)

	a.diag = diag.New(diagCfg, diag.Probe{Healthy: a.healthy, Status: a.status}, a.log)

	a.auth.SetHooks(a.onAuthenticated, a.onLoginTimeout)
	a.relay.OnDemoted = a.onDemoted
	return nil
}

func (a *App) closeStore(err error) error {
	if a.store != nil {
		_ = a.store.Close()
	}
	return err
}

func (a *App) onAuthenticated(tenantID int64) {
	if err := a.relay.Add(tenantID); err != nil {
		a.log.Error("start listener after login failed", logx.Tenant(tenantID), logx.Err(err))
	}
}

func (a *App) onLoginTimeout(tenantID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	a.router.LoginTimedOut(ctx, tenantID)
}

func (a *App) onDemoted(tenantID int64, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	a.router.SessionDemoted(ctx, tenantID, errors.Is(cause, relay.ErrUnauthorized))
}

// statusDoc is served by the diag endpoint.
type statusDoc struct {
	Relay relay.Snapshot `json:"relay"`
	App   rtsup.Snapshot `json:"app"`
}

func (a *App) status() any {
	return statusDoc{Relay: a.relay.Snapshot(), App: a.sup.Snapshot()}
}

func (a *App) healthy() error {
	if a.sup == nil {
		return errors.New("not started")
	}
	if err := a.sup.Err(); err != nil {
		return err
	}
	if a.sup.Context().Err() != nil {
		return errors.New("stopping")
	}
	return nil
}

// Done is closed when the app context ends, including after a fatal task error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

// Err reports the first fatal task error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapAdapter(cfg); err != nil {
			return err
		}
		if _, _, err := mapRelay(cfg); err != nil {
			return err
		}
		if _, err := mapDelivery(cfg); err != nil {
			return err
		}
		if _, err := mapDiag(cfg); err != nil {
			return err
		}
		_, err := mapStorage(cfg)
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if err := a.relay.Start(a.sup.Context()); err != nil {
		return err
	}

	if err := a.diag.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	a.sup.Go0("commands.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 15*time.Second)
		defer cancel()
		if err := a.router.PublishMenu(mctx); err != nil {
			a.log.Warn("publish command menu failed", logx.Err(err))
		}
	})

	// Event log for debugging; components publish without blocking.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Tenant(e.Tenant), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.watchdog", a.watchdog)

	a.sdNotify(daemon.SdNotifyReady)
	a.log.Info("started", logx.String("config", a.cfgm.Path()))
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig pushes the live-reloadable parts of cfg into running components.
func (a *App) applyConfig(oldCfg, cfg *config.Config) {
	sections, attrs, restartOnly := config.SummarizeConfigChange(oldCfg, cfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config change summary", fields...)
	if len(restartOnly) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(restartOnly, ",")))
	}

	// update the admin chat first so Apply() sees the new target
	a.logs.SetAdminChat(cfg.GroupLogID())
	a.logs.Apply(mapLogging(cfg))

	a.router.SetOwners(cfg.Telegram.OwnerUserIDs)

	if dCfg, err := mapDelivery(cfg); err == nil {
		a.delivery.Apply(dCfg)
	}
	if _, retention, err := mapRelay(cfg); err == nil {
		a.cache.SetRetention(retention)
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sdNotify(daemon.SdNotifyStopping)

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// fn must honor stepCtx; a late return is logged as a leak.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	// No new logins or commands once the bot stops polling.
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("auth", 1*time.Second, func(context.Context) error { a.auth.Close(); return nil })
	// Listeners stop next; in-flight deliveries drain inside relay.Stop.
	step("relay", 10*time.Second, func(c context.Context) error { return a.relay.Stop(c) })
	step("delivery", 2*time.Second, func(c context.Context) error { return a.delivery.Close(c) })
	step("diag", 1*time.Second, func(c context.Context) error { return a.diag.Stop(c) })
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, command dispatcher, etc.)
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
