package app

import (
	"strings"
	"time"

	"sigrelay/internal/auth"
	"sigrelay/internal/config"
	"sigrelay/internal/delivery"
	"sigrelay/internal/mtproto"
	"sigrelay/internal/observability/diag"
	"sigrelay/internal/relay"
	"sigrelay/internal/storage"
	telegram "sigrelay/internal/transport/telegram/adapter"
	logx "sigrelay/pkg/logx"
)

// Empty durations map to zero so every component applies its own default.

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Admin: logx.AdminConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapAdapter(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: poll}, nil
}

func mapDialer(cfg *config.Config) (mtproto.Config, error) {
	dial, err := config.ParseDurationField("mtproto.dial_timeout", cfg.MTProto.DialTimeout)
	if err != nil {
		return mtproto.Config{}, err
	}
	return mtproto.Config{
		AppID:       cfg.MTProto.APIID,
		AppHash:     cfg.MTProto.APIHash,
		Device:      cfg.MTProto.Device,
		DialTimeout: dial,
	}, nil
}

func mapAuth(cfg *config.Config) (auth.Options, error) {
	timeout, err := config.ParseDurationField("relay.login_timeout", cfg.Relay.LoginTimeout)
	if err != nil {
		return auth.Options{}, err
	}
	return auth.Options{Timeout: timeout, MaxAttempts: cfg.Relay.LoginMaxAttempts}, nil
}

func mapRelay(cfg *config.Config) (relay.Config, time.Duration, error) {
	var (
		out relay.Config
		err error
	)
	if out.BackoffMin, err = config.ParseDurationField("relay.listen_backoff_min", cfg.Relay.ListenBackoffMin); err != nil {
		return relay.Config{}, 0, err
	}
	if out.BackoffMax, err = config.ParseDurationField("relay.listen_backoff_max", cfg.Relay.ListenBackoffMax); err != nil {
		return relay.Config{}, 0, err
	}
	if out.SweepInterval, err = config.ParseDurationField("relay.dedup_sweep_interval", cfg.Relay.DedupSweepInterval); err != nil {
		return relay.Config{}, 0, err
	}
	retention, err := config.ParseDurationField("relay.dedup_retention", cfg.Relay.DedupRetention)
	if err != nil {
		return relay.Config{}, 0, err
	}
	out.ListenRetryMax = cfg.Relay.ListenRetryMax
	return out, retention, nil
}

func mapDelivery(cfg *config.Config) (delivery.Config, error) {
	var (
		out delivery.Config
		err error
	)
	if out.RetryBase, err = config.ParseDurationField("delivery.retry_base", cfg.Delivery.RetryBase); err != nil {
		return delivery.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("delivery.retry_max_delay", cfg.Delivery.RetryMaxDelay); err != nil {
		return delivery.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationField("delivery.send_timeout", cfg.Delivery.SendTimeout); err != nil {
		return delivery.Config{}, err
	}
	out.RatePerSec = cfg.Delivery.RatePerSec
	out.Burst = cfg.Delivery.Burst
	out.RetryMax = cfg.Delivery.RetryMax
	return out, nil
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.TrimSpace(cfg.Storage.Driver),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
		URI:         strings.TrimSpace(cfg.Storage.URI),
		Database:    strings.TrimSpace(cfg.Storage.Database),
	}, nil
}

func mapDiag(cfg *config.Config) (diag.Config, error) {
	out := diag.Config{
		Enabled:       cfg.Diag.Enabled,
		Addr:          strings.TrimSpace(cfg.Diag.Addr),
		Token:         strings.TrimSpace(cfg.Diag.Token),
		AllowInsecure: cfg.Diag.AllowInsecure,
	}
	return out, out.Validate()
}
