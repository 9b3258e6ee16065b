package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sigrelay/internal/routing"
	"sigrelay/internal/storage"
	logx "sigrelay/pkg/logx"
	"sigrelay/pkg/tgui"
)

func (r *Router) commands() []Command {
	return []Command{
		{Name: "start", Description: "Start the bot", Access: AccessEveryone, Handle: r.cmdStart},
		{Name: "help", Aliases: []string{"h"}, Description: "Show help", Access: AccessEveryone, Handle: r.cmdHelp},
		{Name: "login", Description: "Login to your account", Access: AccessEveryone, Handle: r.cmdLogin},
		{Name: "cancel", Description: "Cancel a login in progress", Access: AccessEveryone, Handle: r.cmdCancel},
		{Name: "logout", Description: "Log out of your account", Access: AccessTenant, Handle: r.cmdLogout},
		{Name: "list_groups", Aliases: []string{"groups"}, Description: "List your Telegram groups", Usage: "/list_groups [page]", Access: AccessTenant, Handle: r.cmdListGroups},
		{Name: "set_destination", Description: "Set the destination chat", Usage: "/set_destination <id|@username|me>", Access: AccessTenant, Handle: r.cmdSetDestination},
		{Name: "tradingbot", Description: "Set up a trading bot", Usage: "/tradingbot <id|@username|off>", Access: AccessTenant, Handle: r.cmdTradingBot},
		{Name: "set_notifier", Description: "Assign a notifier to a group", Usage: `/set_notifier <group_id> "<label>" [key]`, Access: AccessTenant, Handle: r.cmdSetNotifier},
		{Name: "unset_notifier", Description: "Remove a group's notifier", Usage: "/unset_notifier <group_id>", Access: AccessTenant, Handle: r.cmdUnsetNotifier},
		{Name: "view_config", Aliases: []string{"config"}, Description: "View your configuration", Access: AccessTenant, Handle: r.cmdViewConfig},
		{Name: "reset_config", Description: "Reset your configuration", Access: AccessTenant, Handle: r.cmdResetConfig},
		{Name: "status", Description: "Relay status", Access: AccessOwnerOnly, Handle: r.cmdStatus},
	}
}

func (r *Router) audit(ctx context.Context, req *Request, action, target string, err error) {
	e := storage.AuditEntry{
		At:       time.Now(),
		TenantID: req.FromID,
		Username: req.Username,
		Action:   action,
		Target:   target,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := r.deps.Store.AppendAudit(ctx, e); aerr != nil {
		req.Logger.Warn("audit append failed", logx.Err(aerr))
	}
}

func (r *Router) cmdStart(ctx context.Context, req *Request) error {
	return req.Reply(ctx, msgWelcome)
}

func (r *Router) cmdHelp(ctx context.Context, req *Request) error {
	return req.Reply(ctx, r.helpText(req.FromID))
}

func (r *Router) cmdLogout(ctx context.Context, req *Request) error {
	r.deps.Relay.Remove(req.FromID)
	r.deps.Auth.Cancel(req.FromID)
	err := r.deps.Store.DeleteCredential(ctx, req.FromID)
	if err == nil {
		err = r.deps.Store.SetStatus(ctx, req.FromID, storage.StatusUnauthenticated)
	}
	r.audit(ctx, req, "logout", "", err)
	if err != nil {
		_ = req.Reply(ctx, msgInternalError)
		return fmt.Errorf("logout: %w", err)
	}
	req.Logger.Info("tenant logged out")
	return req.Reply(ctx, msgLoggedOut)
}

func (r *Router) cmdSetDestination(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, fmt.Sprintf(msgUsage, "/set_destination <id|@username|me>"))
	}
	dest, ok := normalizeTarget(req.Args[0])
	if !ok {
		return req.Reply(ctx, msgInvalidDest)
	}
	err := r.deps.Store.UpdateTenant(ctx, req.FromID, storage.TenantPatch{Destination: &dest})
	r.audit(ctx, req, "set_destination", dest, err)
	if err != nil {
		_ = req.Reply(ctx, msgInternalError)
		return fmt.Errorf("set destination: %w", err)
	}
	return req.Reply(ctx, fmt.Sprintf(msgDestSet, tgui.Esc(dest)))
}

func (r *Router) cmdTradingBot(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, fmt.Sprintf(msgUsage, "/tradingbot <id|@username|off>"))
	}
	var target string
	switch strings.ToLower(req.Args[0]) {
	case "off", "none", "disable":
	default:
		t, ok := normalizeTarget(req.Args[0])
		if !ok {
			return req.Reply(ctx, msgInvalidDest)
		}
		target = t
	}
	err := r.deps.Store.UpdateTenant(ctx, req.FromID, storage.TenantPatch{TradingBot: &target})
	r.audit(ctx, req, "set_trading_bot", target, err)
	if err != nil {
		_ = req.Reply(ctx, msgInternalError)
		return fmt.Errorf("set trading bot: %w", err)
	}
	if target == "" {
		return req.Reply(ctx, msgTradingOff)
	}
	return req.Reply(ctx, fmt.Sprintf(msgTradingSet, tgui.Esc(target)))
}

func (r *Router) cmdSetNotifier(ctx context.Context, req *Request) error {
	if len(req.Args) < 2 || len(req.Args) > 3 {
		return req.Reply(ctx, fmt.Sprintf(msgUsage, tgui.Esc(`/set_notifier <group_id> "<label>" [key]`)))
	}
	gid, ok := parseGroupID(req.Args[0])
	if !ok {
		return req.Reply(ctx, msgInvalidGroup)
	}
	label := strings.TrimSpace(req.Args[1])
	if label == "" {
		return req.Reply(ctx, fmt.Sprintf(msgUsage, tgui.Esc(`/set_notifier <group_id> "<label>" [key]`)))
	}
	key := routing.DefaultKey
	if len(req.Args) == 3 && strings.TrimSpace(req.Args[2]) != "" {
		key = strings.TrimSpace(req.Args[2])
	}
	patch := storage.RoutingPatch{SetNotifier: map[int64]storage.Notifier{gid: {Label: label, Key: key}}}
	err := r.deps.Store.PutRouting(ctx, req.FromID, patch)
	r.audit(ctx, req, "set_notifier", strconv.FormatInt(gid, 10), err)
	if err != nil {
		_ = req.Reply(ctx, msgInternalError)
		return fmt.Errorf("set notifier: %w", err)
	}
	return req.Reply(ctx, fmt.Sprintf(msgNotifierSet, gid, tgui.Esc(label), tgui.Esc(key)))
}

func (r *Router) cmdUnsetNotifier(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, fmt.Sprintf(msgUsage, "/unset_notifier &lt;group_id&gt;"))
	}
	gid, ok := parseGroupID(req.Args[0])
	if !ok {
		return req.Reply(ctx, msgInvalidGroup)
	}
	rc, err := r.deps.Store.GetRouting(ctx, req.FromID)
	if err != nil {
		_ = req.Reply(ctx, msgInternalError)
		return fmt.Errorf("load routing: %w", err)
	}
	if _, ok := rc.Lookup(gid); !ok {
		return req.Reply(ctx, fmt.Sprintf(msgNotifierNone, gid))
	}
	err = r.deps.Store.PutRouting(ctx, req.FromID, storage.RoutingPatch{RemoveGroups: []int64{gid}})
	r.audit(ctx, req, "unset_notifier", strconv.FormatInt(gid, 10), err)
	if err != nil {
		_ = req.Reply(ctx, msgInternalError)
		return fmt.Errorf("unset notifier: %w", err)
	}
	return req.Reply(ctx, fmt.Sprintf(msgNotifierGone, gid))
}

func (r *Router) cmdViewConfig(ctx context.Context, req *Request) error {
	rc, err := r.deps.Store.GetRouting(ctx, req.FromID)
	if err != nil {
		_ = req.Reply(ctx, msgInternalError)
		return fmt.Errorf("load routing: %w", err)
	}
	return req.Reply(ctx, renderConfig(req.Tenant, rc))
}

func renderConfig(t storage.Tenant, rc storage.Routing) string {
	orNone := func(s, def string) string {
		if strings.TrimSpace(s) == "" {
			return def
		}
		return s
	}
	var b strings.Builder
	b.WriteString("⚙️ <b>Your configuration</b>\n")
	fmt.Fprintf(&b, "- Status: <code>%s</code>\n", tgui.Esc(string(t.Status)))
	fmt.Fprintf(&b, "- Destination: <code>%s</code>\n", tgui.Esc(orNone(t.Destination, routing.SelfDestination)))
	fmt.Fprintf(&b, "- Trading bot: <code>%s</code>\n", tgui.Esc(orNone(t.TradingBot, "not set")))
	if len(rc.Groups) == 0 {
		fmt.Fprintf(&b, "- Notifiers: none (default <b>%s</b>)", tgui.Esc(routing.DefaultLabel))
		return b.String()
	}
	b.WriteString("- Notifiers:")
	for _, gid := range sortedGroupIDs(rc.Groups) {
		n := rc.Groups[gid]
		fmt.Fprintf(&b, "\n  • <code>%d</code> → <b>%s</b> (key <code>%s</code>)", gid, tgui.Esc(n.Label), tgui.Esc(n.Key))
	}
	return b.String()
}

func (r *Router) cmdResetConfig(ctx context.Context, req *Request) error {
	err := r.deps.Store.ResetConfig(ctx, req.FromID)
	r.audit(ctx, req, "reset_config", "", err)
	if err != nil {
		_ = req.Reply(ctx, msgInternalError)
		return fmt.Errorf("reset config: %w", err)
	}
	return req.Reply(ctx, msgConfigReset)
}

func (r *Router) cmdStatus(ctx context.Context, req *Request) error {
	snap := r.deps.Relay.Snapshot()
	online := 0
	for _, t := range snap.Tenants {
		if t.Online {
			online++
		}
	}
	var b strings.Builder
	b.WriteString("📊 <b>Relay status</b>\n")
	fmt.Fprintf(&b, "- Listeners: %d (%d online)\n", len(snap.Tenants), online)
	fmt.Fprintf(&b, "- Dedup entries: %d\n", snap.DedupSize)
	fmt.Fprintf(&b, "- Deliveries: %d sent, %d failed, %d in flight\n", snap.Delivery.Sent, snap.Delivery.Failed, snap.Delivery.InFlight)
	fmt.Fprintf(&b, "- Goroutines: %d active, %d started", snap.Tasks.Counters.Active, snap.Tasks.Counters.Started)
	for _, t := range snap.Tenants {
		state := "🟢"
		if !t.Online {
			state = "🔴"
		}
		fmt.Fprintf(&b, "\n%s <code>%d</code> handled=%d fwd=%d dup=%d", state, t.ID, t.Handled, t.Forwarded, t.Duplicate)
		if t.LastErr != "" {
			fmt.Fprintf(&b, " err=%s", tgui.Esc(t.LastErr))
		}
	}
	return req.Reply(ctx, b.String())
}
