package app

import (
	"strings"
	"testing"
	"time"

	"sigrelay/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{Token: "x", PollTimeout: "20s"},
		MTProto:  config.MTProtoConfig{APIID: 1, APIHash: "h", DialTimeout: "15s"},
		Logging: config.LoggingConfig{
			Level:    "debug",
			Telegram: config.LoggingTelegram{Enabled: true, MinLevel: "warn", RatePerSec: 2},
		},
		Relay: config.RelayConfig{
			LoginTimeout:       "2m",
			LoginMaxAttempts:   4,
			ListenRetryMax:     7,
			ListenBackoffMin:   "2s",
			ListenBackoffMax:   "30s",
			DedupRetention:     "12h",
			DedupSweepInterval: "1h",
		},
		Delivery: config.DeliveryConfig{RatePerSec: 5, Burst: 2, RetryMax: 3, RetryBase: "1s"},
		Storage:  config.StorageConfig{Driver: " sqlite ", Path: " ./relay.db "},
	}
}

func TestMapRelay(t *testing.T) {
	t.Parallel()

	rc, retention, err := mapRelay(testConfig())
	if err != nil {
		t.Fatalf("mapRelay: %v", err)
	}
	if rc.ListenRetryMax != 7 || rc.BackoffMin != 2*time.Second || rc.BackoffMax != 30*time.Second {
		t.Fatalf("unexpected relay config: %+v", rc)
	}
	if rc.SweepInterval != time.Hour {
		t.Fatalf("sweep interval = %s", rc.SweepInterval)
	}
	if retention != 12*time.Hour {
		t.Fatalf("retention = %s", retention)
	}
}

func TestMapEmptyDurationsLeaveDefaultsToComponents(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	rc, retention, err := mapRelay(cfg)
	if err != nil {
		t.Fatalf("mapRelay: %v", err)
	}
	if rc.BackoffMin != 0 || rc.BackoffMax != 0 || retention != 0 {
		t.Fatalf("expected zero durations, got %+v retention=%s", rc, retention)
	}
	ad, err := mapAdapter(cfg)
	if err != nil {
		t.Fatalf("mapAdapter: %v", err)
	}
	if ad.PollTimeout != 10*time.Second {
		t.Fatalf("poll timeout = %s", ad.PollTimeout)
	}
}

func TestMapRejectsBadDurations(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		mut   func(*config.Config)
		call  func(*config.Config) error
		field string
	}{
		{
			name:  "delivery",
			mut:   func(c *config.Config) { c.Delivery.RetryBase = "soon" },
			call:  func(c *config.Config) error { _, err := mapDelivery(c); return err },
			field: "delivery.retry_base",
		},
		{
			name:  "relay",
			mut:   func(c *config.Config) { c.Relay.DedupRetention = "-1h" },
			call:  func(c *config.Config) error { _, _, err := mapRelay(c); return err },
			field: "relay.dedup_retention",
		},
		{
			name:  "auth",
			mut:   func(c *config.Config) { c.Relay.LoginTimeout = "5 minutes" },
			call:  func(c *config.Config) error { _, err := mapAuth(c); return err },
			field: "relay.login_timeout",
		},
		{
			name:  "mtproto",
			mut:   func(c *config.Config) { c.MTProto.DialTimeout = "x" },
			call:  func(c *config.Config) error { _, err := mapDialer(c); return err },
			field: "mtproto.dial_timeout",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			tc.mut(cfg)
			err := tc.call(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.field) {
				t.Fatalf("expected error naming %s, got %v", tc.field, err)
			}
		})
	}
}

func TestMapComponents(t *testing.T) {
	t.Parallel()

	cfg := testConfig()

	lc := mapLogging(cfg)
	if !lc.Admin.Enabled || lc.Admin.MinLevel != "warn" || lc.Admin.RatePerSec != 2 || lc.Level != "debug" {
		t.Fatalf("unexpected logging config: %+v", lc)
	}

	dc, err := mapDelivery(cfg)
	if err != nil {
		t.Fatalf("mapDelivery: %v", err)
	}
	if dc.RatePerSec != 5 || dc.Burst != 2 || dc.RetryMax != 3 || dc.RetryBase != time.Second {
		t.Fatalf("unexpected delivery config: %+v", dc)
	}

	ao, err := mapAuth(cfg)
	if err != nil {
		t.Fatalf("mapAuth: %v", err)
	}
	if ao.Timeout != 2*time.Minute || ao.MaxAttempts != 4 {
		t.Fatalf("unexpected auth options: %+v", ao)
	}

	mc, err := mapDialer(cfg)
	if err != nil {
		t.Fatalf("mapDialer: %v", err)
	}
	if mc.AppID != 1 || mc.AppHash != "h" || mc.DialTimeout != 15*time.Second {
		t.Fatalf("unexpected dialer config: %+v", mc)
	}

	sc, err := mapStorage(cfg)
	if err != nil {
		t.Fatalf("mapStorage: %v", err)
	}
	if sc.Driver != "sqlite" || sc.Path != "./relay.db" {
		t.Fatalf("unexpected storage config: %+v", sc)
	}
}

func TestMapDiagRejectsPublicBindWithoutToken(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Diag = config.DiagConfig{Enabled: true, Addr: "0.0.0.0:6060"}
	if _, err := mapDiag(cfg); err == nil {
		t.Fatalf("expected insecure bind to be rejected")
	}
	cfg.Diag.Token = " t "
	dc, err := mapDiag(cfg)
	if err != nil {
		t.Fatalf("mapDiag: %v", err)
	}
	if dc.Token != "t" || !dc.Enabled {
		t.Fatalf("unexpected diag config: %+v", dc)
	}
}
