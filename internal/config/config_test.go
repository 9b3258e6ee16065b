package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "sigrelay/pkg/logx"
)

const sampleJSON = `{
  "telegram": {"token": "t", "owner_user_ids": [7], "poll_timeout": "10s"},
  "mtproto": {"api_id": 1, "api_hash": "h"},
  "logging": {"level": "info", "console": true},
  "relay": {"login_timeout": "300s", "dedup_retention": "24h"},
  "delivery": {"rate_per_sec": 20, "retry_max": 3, "retry_base": "3s", "retry_max_delay": "1m"},
  "storage": {"driver": "sqlite", "path": "relay.db"}
}`

const sampleYAML = `
telegram:
  token: t
  owner_user_ids: [7]
mtproto:
  api_id: 1
  api_hash: h
storage:
  driver: memory
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func newTestManager(path string) *Manager {
	m := NewManager(path)
	m.env = nil
	return m
}

func TestLoad(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name, file, body string
		driver           string
	}{
		{"json", "config.json", sampleJSON, "sqlite"},
		{"yaml", "config.yaml", sampleYAML, "memory"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := newTestManager(writeFile(t, tc.file, tc.body))
			cfg, err := m.Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Telegram.Token != "t" || cfg.MTProto.APIID != 1 || cfg.Storage.Driver != tc.driver {
				t.Fatalf("unexpected config: %+v", cfg)
			}
			if len(cfg.Telegram.OwnerUserIDs) != 1 || cfg.Telegram.OwnerUserIDs[0] != 7 {
				t.Fatalf("owners=%v", cfg.Telegram.OwnerUserIDs)
			}
			if m.Get() != cfg {
				t.Fatalf("Get did not return committed config")
			}
		})
	}
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"unknown":  `{"telegram": {"token": "t"}, "plugins": {}}`,
		"trailing": `{"telegram": {"token": "t"}} {}`,
	}
	for name, body := range cases {
		m := newTestManager(writeFile(t, "config.json", body))
		if _, err := m.Parse(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Token: "t"},
			MTProto:  MTProtoConfig{APIID: 1, APIHash: "h"},
		}
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}
	cases := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{"no token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"no api", func(c *Config) { c.MTProto.APIHash = "" }, "api_hash"},
		{"bad duration", func(c *Config) { c.Delivery.RetryBase = "soon" }, "delivery.retry_base"},
		{"negative duration", func(c *Config) { c.Relay.LoginTimeout = "-1s" }, "relay.login_timeout"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "redis" }, "unknown driver"},
		{"sqlite without path", func(c *Config) { c.Storage.Driver = "sqlite" }, "storage.path"},
		{"mongo without uri", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.uri"},
		{"bad group log", func(c *Config) { c.Telegram.GroupLog = "admins" }, "group_log"},
		{"login timeout too short", func(c *Config) { c.Relay.LoginTimeout = "1s" }, "below the minimum"},
		{"send timeout too long", func(c *Config) { c.Delivery.SendTimeout = "1h" }, "above the maximum"},
		{"backoff inverted", func(c *Config) {
			c.Relay.ListenBackoffMin = "2m"
			c.Relay.ListenBackoffMax = "30s"
		}, "relay.listen_backoff_min (2m0s) must not exceed"},
		{"sweep after retention", func(c *Config) {
			c.Relay.DedupSweepInterval = "48h"
			c.Relay.DedupRetention = "24h"
		}, "relay.dedup_sweep_interval"},
	}
	for _, tc := range cases {
		c := base()
		tc.mut(c)
		err := c.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err=%v, want containing %q", tc.name, err, tc.want)
		}
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		path, raw string
		want      time.Duration
		wantErr   bool
	}{
		{"delivery.retry_base", "", 0, false},
		{"delivery.retry_base", " 3s ", 3 * time.Second, false},
		{"relay.login_timeout", "300", 300 * time.Second, false},
		{"relay.login_timeout", "5m", 5 * time.Minute, false},
		{"relay.login_timeout", "0", 0, false},
		{"relay.login_timeout", "9s", 0, true},
		{"relay.login_timeout", "25h", 0, true},
		{"delivery.retry_base", "-1", 0, true},
		{"delivery.retry_base", "99999999999999999", 0, true},
		{"delivery.retry_base", "soon", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField(tt.path, tt.raw)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseDurationField(%q, %q) err = %v, wantErr %v", tt.path, tt.raw, err, tt.wantErr)
		}
		if err == nil && got != tt.want {
			t.Fatalf("ParseDurationField(%q, %q) = %s, want %s", tt.path, tt.raw, got, tt.want)
		}
	}
	if d, err := ParseDurationOrDefault("relay.login_timeout", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("ParseDurationOrDefault = %s, %v", d, err)
	}
}

func TestYAMLUnquotedScalars(t *testing.T) {
	t.Parallel()
	body := `
telegram:
  token: t
  group_log: -1001234567890
  poll_timeout: 30
mtproto:
  api_id: 1
  api_hash: 1234567890
relay:
  login_timeout: 300
  dedup_retention: 12h
`
	cfg, err := newTestManager(writeFile(t, "config.yml", body)).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.GroupLog != "-1001234567890" || cfg.GroupLogID() != -1001234567890 {
		t.Fatalf("group_log = %q", cfg.Telegram.GroupLog)
	}
	if cfg.Telegram.PollTimeout != "30" || cfg.Relay.LoginTimeout != "300" || cfg.Relay.DedupRetention != "12h" {
		t.Fatalf("durations = %+v %+v", cfg.Telegram, cfg.Relay)
	}
	if cfg.MTProto.APIHash != "1234567890" {
		t.Fatalf("api_hash = %q", cfg.MTProto.APIHash)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestYAMLRejectsEmptyAndScalarDocuments(t *testing.T) {
	t.Parallel()
	for name, body := range map[string]string{
		"empty":  "",
		"scalar": "just a string\n",
		"list":   "- a\n- b\n",
	} {
		if _, err := newTestManager(writeFile(t, "config.yaml", body)).Parse(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		EnvBotToken: "env-token",
		EnvAPIID:    "42",
		EnvAPIHash:  "env-hash",
		EnvMongoURI: "mongodb://localhost",
		EnvOwners:   "1, 2,",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := &Config{Telegram: TelegramConfig{Token: "file"}}
	if err := applyEnv(cfg, lookup); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Telegram.Token != "env-token" || cfg.MTProto.APIID != 42 || cfg.MTProto.APIHash != "env-hash" {
		t.Fatalf("unexpected: %+v", cfg)
	}
	if cfg.Storage.Driver != "mongo" || cfg.Storage.URI != "mongodb://localhost" {
		t.Fatalf("storage=%+v", cfg.Storage)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 2 || cfg.Telegram.OwnerUserIDs[1] != 2 {
		t.Fatalf("owners=%v", cfg.Telegram.OwnerUserIDs)
	}

	env[EnvAPIID] = "x"
	if err := applyEnv(&Config{}, lookup); err == nil {
		t.Fatalf("expected error for bad %s", EnvAPIID)
	}
}

func TestLoadEnvFiles(t *testing.T) {
	p := writeFile(t, ".env", "SIGRELAY_TEST_VAR=from-file\n")
	t.Setenv("SIGRELAY_TEST_VAR", "")
	_ = os.Unsetenv("SIGRELAY_TEST_VAR")
	if err := LoadEnvFiles(filepath.Join(t.TempDir(), "missing.env"), p); err != nil {
		t.Fatalf("LoadEnvFiles: %v", err)
	}
	if got := os.Getenv("SIGRELAY_TEST_VAR"); got != "from-file" {
		t.Fatalf("got %q", got)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Delivery: DeliveryConfig{RatePerSec: 20}}
	newCfg := &Config{Telegram: TelegramConfig{Token: "b"}, Delivery: DeliveryConfig{RatePerSec: 5}}
	changed, attrs, restart := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "delivery,telegram" {
		t.Fatalf("changed=%v", changed)
	}
	if strings.Join(restart, ",") != "telegram" {
		t.Fatalf("restart=%v", restart)
	}
	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("config changed", attrs...)
	if strings.Contains(buf.String(), `"b"`) || strings.Contains(buf.String(), "token\"") {
		t.Fatalf("token leaked in attrs: %s", buf.String())
	}
	if c, _, _ := SummarizeConfigChange(oldCfg, oldCfg); len(c) != 0 {
		t.Fatalf("expected no changes, got %v", c)
	}
}

func TestSummarizeDiagChangeHidesToken(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Diag: DiagConfig{Enabled: true}}
	newCfg := &Config{Diag: DiagConfig{Enabled: true, Token: "s3cret"}}
	changed, attrs, restart := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "diag" || strings.Join(restart, ",") != "diag" {
		t.Fatalf("changed=%v restart=%v", changed, restart)
	}
	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("config changed", attrs...)
	if strings.Contains(buf.String(), "s3cret") {
		t.Fatalf("diag token leaked: %s", buf.String())
	}
}

func TestWatchPublishesReload(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", sampleJSON)
	m := newTestManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	updated := strings.Replace(sampleJSON, `"rate_per_sec": 20`, `"rate_per_sec": 5`, 1)
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			if cfg.Delivery.RatePerSec != 5 {
				t.Fatalf("rate=%d", cfg.Delivery.RatePerSec)
			}
			cancel()
			<-done
			return
		case <-tick.C:
			// rewrite until the watcher is attached
			if err := os.WriteFile(p, []byte(updated), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
		case <-deadline:
			t.Fatalf("no reload published")
		}
	}
}
