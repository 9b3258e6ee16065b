package diag

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "sigrelay/pkg/logx"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
		err  bool
	}{
		{"disabled", Config{Addr: "0.0.0.0:1"}, false},
		{"loopback", Config{Enabled: true, Addr: "127.0.0.1:6060"}, false},
		{"default addr", Config{Enabled: true}, false},
		{"localhost", Config{Enabled: true, Addr: "localhost:6060"}, false},
		{"public no token", Config{Enabled: true, Addr: "0.0.0.0:6060"}, true},
		{"empty host", Config{Enabled: true, Addr: ":6060"}, true},
		{"public token", Config{Enabled: true, Addr: "0.0.0.0:6060", Token: "t"}, false},
		{"public insecure", Config{Enabled: true, Addr: "0.0.0.0:6060", AllowInsecure: true}, false},
		{"bad addr", Config{Enabled: true, Addr: "nope"}, true},
	}
	for _, tc := range cases {
		if err := tc.cfg.Validate(); (err != nil) != tc.err {
			t.Fatalf("%s: Validate() = %v, want err=%v", tc.name, err, tc.err)
		}
	}
}

func TestHandlerAuthAndEndpoints(t *testing.T) {
	t.Parallel()

	healthy := error(nil)
	s := New(Config{Enabled: true, Token: "secret"}, Probe{
		Healthy: func() error { return healthy },
		Status:  func() any { return map[string]int{"tenants": 3} },
	}, logx.Nop())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	get := func(path, bearer string) (int, string) {
		t.Helper()
		req, _ := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		resp, err := ts.Client().Do(req)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(b)
	}

	if code, _ := get("/healthz", ""); code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", code)
	}
	if code, _ := get("/healthz", "wrong"); code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status %d", code)
	}
	if code, body := get("/healthz?token=secret", ""); code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz: %d %q", code, body)
	}

	code, body := get("/status", "secret")
	if code != http.StatusOK {
		t.Fatalf("status: %d", code)
	}
	var doc map[string]int
	if err := json.Unmarshal([]byte(body), &doc); err != nil || doc["tenants"] != 3 {
		t.Fatalf("status body %q err=%v", body, err)
	}

	if code, body := get("/debug/pprof/", "secret"); code != http.StatusOK || !strings.Contains(body, "goroutine") {
		t.Fatalf("pprof index: %d", code)
	}
}

func TestHealthzReportsProbeError(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, Probe{Healthy: func() error { return errors.New("relay: stopped") }}, logx.Nop())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "relay: stopped") {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestStartServesAndStops(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Probe{}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatalf("server never bound")
		}
		time.Sleep(10 * time.Millisecond)
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	t.Parallel()

	s := New(Config{}, Probe{}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
