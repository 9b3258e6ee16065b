package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "sigrelay/internal/runtime/supervisor"
	kit "sigrelay/internal/transport"
	logx "sigrelay/pkg/logx"
)

const (
	defaultCommandTimeout = 60 * time.Second
	jobQueuePerWorker     = 64
)

// Router dispatches bot updates to commands, callbacks and login input.
//
// Jobs are sharded by sender so one user's messages run in order (a phone
// number is always handled before the code that follows it).
type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	deps    Deps

	mu        sync.RWMutex
	owners    []int64
	cmds      []Command
	byName    map[string]*Command
	callbacks map[string]CallbackHandlerFunc

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	shards  []chan func()
}

func New(log logx.Logger, adapter kit.Adapter, deps Deps, owners []int64) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.GroupsPerPage <= 0 {
		deps.GroupsPerPage = 20
	}
	r := &Router{
		log:       log,
		adapter:   adapter,
		deps:      deps,
		owners:    append([]int64(nil), owners...),
		byName:    map[string]*Command{},
		callbacks: map[string]CallbackHandlerFunc{},
	}
	r.register(r.commands()...)
	r.callbacks[groupsCallback] = r.groupsPage
	return r
}

func (r *Router) register(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		if c.Name != "" && c.Handle != nil {
			r.cmds = append(r.cmds, c)
		}
	}
	// Canonical names win over aliases.
	byName := make(map[string]*Command, len(r.cmds))
	for i := range r.cmds {
		byName[r.cmds[i].Name] = &r.cmds[i]
	}
	for i := range r.cmds {
		for _, a := range r.cmds[i].Aliases {
			if _, taken := byName[a]; !taken {
				byName[a] = &r.cmds[i]
			}
		}
	}
	r.byName = byName
}

// SetOwners updates the owner list; safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) ownersSnapshot() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.owners)
}

func (r *Router) lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	if !ok {
		return Command{}, false
	}
	return *c, true
}

// Supervisor returns the worker supervisor (nil when not running).
func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return nil
	}
	return r.sup
}

// Notify sends a direct message to a tenant. Tenant ids are private chat ids.
func (r *Router) Notify(ctx context.Context, tenantID int64, text string) {
	if _, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: tenantID}, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
		r.log.Warn("notify tenant failed", logx.Tenant(tenantID), logx.Err(err))
	}
}

// PublishMenu registers the command menu when the adapter supports it.
func (r *Router) PublishMenu(ctx context.Context) error {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	return up.UpdateMenuCommands(ctx, r.menu())
}

// Run consumes updates until ctx is done or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(2, runtime.NumCPU())
	sup := rtsup.New(ctx,
		rtsup.WithLogger(r.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	shards := make([]chan func(), workers)
	for i := range shards {
		shards[i] = make(chan func(), jobQueuePerWorker)
	}
	r.runMu.Lock()
	r.sup, r.shards, r.running = sup, shards, true
	r.runMu.Unlock()
	r.log.Info("command dispatcher started", logx.Int("workers", workers))

	for i, jobs := range shards {
		jobs := jobs
		idx := i
		sup.Go("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					r.runJob(idx, job)
				}
			}
		})
	}

	defer func() {
		r.runMu.Lock()
		r.running = false
		for _, ch := range r.shards {
			close(ch)
		}
		r.shards = nil
		r.runMu.Unlock()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

// enqueue hands fn to the shard owning key. It reports false when the shard
// is full or the router is stopped.
func (r *Router) enqueue(key int64, fn func()) bool {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running || len(r.shards) == 0 {
		return false
	}
	idx := key % int64(len(r.shards))
	if idx < 0 {
		idx = -idx
	}
	select {
	case r.shards[idx] <- fn:
		return true
	default:
		return false
	}
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			r.routeMessage(ctx, up)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.routeCallback(ctx, up)
		}
	}
}

func (r *Router) newRequest(up kit.Update, chatID, fromID int64, username, cmd string) *Request {
	rid := newReqID()
	return &Request{
		Update:   up,
		Chat:     kit.ChatTarget{ChatID: chatID},
		FromID:   fromID,
		Username: username,
		Command:  cmd,
		ReqID:    rid,
		Adapter:  r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chatID),
			logx.Tenant(fromID),
			logx.String("cmd", cmd),
		),
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	text := strings.TrimSpace(msg.Text)

	if !strings.HasPrefix(text, "/") {
		// Plain text only matters as login input in a private chat.
		if !msg.Private {
			return
		}
		if _, pending := r.deps.Auth.Pending(msg.FromID); !pending {
			return
		}
		req := r.newRequest(up, msg.ChatID, msg.FromID, msg.FromUsername, "login.input")
		req.Text = text
		req.MessageID = msg.ID
		r.dispatch(ctx, req, AccessEveryone, 0, r.handleLoginInput)
		return
	}

	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	name := commandWord(parts[0])
	cmd, ok := r.lookup(name)
	if !ok {
		if msg.Private {
			_, _ = r.adapter.SendText(ctx, kit.ChatTarget{ChatID: msg.ChatID}, msgUnknownCommand, nil)
		}
		return
	}
	req := r.newRequest(up, msg.ChatID, msg.FromID, msg.FromUsername, cmd.Name)
	req.Args = parts[1:]
	req.Text = text
	req.MessageID = msg.ID
	r.dispatch(ctx, req, cmd.Access, cmd.Timeout, cmd.Handle)
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	prefix, payload, _ := strings.Cut(strings.TrimSpace(cb.Data), ":")
	r.mu.RLock()
	h := r.callbacks[prefix]
	r.mu.RUnlock()
	if h == nil {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	req := r.newRequest(up, cb.ChatID, cb.FromID, cb.FromUsername, "cb:"+prefix)
	req.MessageID = cb.MessageID
	handle := func(c context.Context, req *Request) error {
		err := h(c, req, payload)
		// stop the client's loading indicator
		_ = r.adapter.AnswerCallback(c, cb.ID, "")
		return err
	}
	r.dispatch(ctx, req, AccessTenant, 0, handle)
}

func (r *Router) dispatch(ctx context.Context, req *Request, access Access, timeout time.Duration, h HandlerFunc) {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	final := Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
		MWTenant(r.deps.Store),
		MWAccess(access, r.ownersSnapshot),
	)
	if !r.enqueue(req.FromID, func() { _ = final(ctx, req) }) {
		_, _ = r.adapter.SendText(ctx, req.Chat, msgBusy, nil)
	}
}
