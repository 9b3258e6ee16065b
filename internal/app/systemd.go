package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "sigrelay/pkg/logx"
)

// sdNotify is a no-op outside systemd (NOTIFY_SOCKET unset).
func (a *App) sdNotify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		a.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// watchdog pings systemd at half the configured WatchdogSec while ctx is live.
func (a *App) watchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("systemd watchdog check failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	tick := interval / 2
	if tick < time.Second {
		tick = time.Second
	}
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			// No pings after a fatal error; systemd decides what happens next.
			if a.sup.Err() != nil {
				continue
			}
			a.sdNotify(daemon.SdNotifyWatchdog)
		}
	}
}
