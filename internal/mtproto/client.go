package mtproto

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/telegram"

	logx "sigrelay/pkg/logx"
)

// Config holds the application credentials registered at my.telegram.org.
type Config struct {
	AppID       int
	AppHash     string
	Device      string
	AppVersion  string
	DialTimeout time.Duration
	// EventBuffer bounds queued inbound messages per tenant.
	EventBuffer int
}

// Dialer opens tenant sessions and login connections.
type Dialer struct {
	cfg Config
	log logx.Logger
}

func NewDialer(cfg Config, log logx.Logger) (*Dialer, error) {
	if cfg.AppID == 0 || cfg.AppHash == "" {
		return nil, errors.New("mtproto: api_id and api_hash are required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if cfg.Device == "" {
		cfg.Device = "sigrelay"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dialer{cfg: cfg, log: log.With(logx.String("comp", "mtproto"))}, nil
}

func (d *Dialer) options(store *memorySession, handler telegram.UpdateHandler) telegram.Options {
	opts := telegram.Options{
		SessionStorage: store,
		DialTimeout:    d.cfg.DialTimeout,
		Device: telegram.DeviceConfig{
			DeviceModel:   d.cfg.Device,
			SystemVersion: "linux",
			AppVersion:    d.cfg.AppVersion,
			LangCode:      "en",
		},
	}
	if handler != nil {
		opts.UpdateHandler = handler
	} else {
		opts.NoUpdates = true
	}
	return opts
}

// runner keeps a gotd client running in the background until closed.
type runner struct {
	client *telegram.Client
	cancel context.CancelFunc
	done   chan struct{}
	err    error // valid after done is closed
}

// start runs the client and waits for setup to report readiness. setup runs
// inside the client's Run callback once the connection is up.
func start(ctx context.Context, client *telegram.Client, setup func(ctx context.Context) error) (*runner, error) {
	runCtx, cancel := context.WithCancel(context.Background())
	r := &runner{client: client, cancel: cancel, done: make(chan struct{})}
	ready := make(chan error, 1)
	go func() {
		defer close(r.done)
		r.err = client.Run(runCtx, func(ctx context.Context) error {
			if err := setup(ctx); err != nil {
				ready <- err
				return err
			}
			ready <- nil
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	select {
	case err := <-ready:
		if err != nil {
			r.close()
			return nil, err
		}
		return r, nil
	case <-r.done:
		if r.err == nil {
			r.err = errors.New("mtproto: client stopped during setup")
		}
		return nil, fmt.Errorf("mtproto connect: %w", r.err)
	case <-ctx.Done():
		r.close()
		return nil, ctx.Err()
	}
}

func (r *runner) close() {
	r.cancel()
	<-r.done
}
