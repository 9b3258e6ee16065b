package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMaskPhone(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"+628123456789", "+62********89"},
		{" +15550100 ", "+15****00"},
		{"12345", "*****"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := MaskPhone(tc.in); got != tc.want {
			t.Fatalf("MaskPhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "relay"))
	log.Debug("hidden")
	log.Info("forwarded", Tenant(42), Phone("phone", "+628123456789"), Err(errors.New("x")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if m["message"] != "forwarded" || m["comp"] != "relay" || m["tenant"] != float64(42) {
		t.Fatalf("unexpected fields: %v", m)
	}
	if strings.Contains(lines[0], "8123456") {
		t.Fatalf("phone not masked: %s", lines[0])
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var log Logger
	if !log.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	log.Info("nothing", String("k", "v"))
	Nop().With(Int("n", 1)).Error("nothing")
}

func TestFormatAdminLine(t *testing.T) {
	t.Parallel()

	got := formatAdminLine([]byte(`{"level":"warn","time":"t","message":"listener down","tenant":7,"comp":"relay"}`))
	want := "[WARN] listener down\n- comp=relay\n- tenant=7"
	if got != want {
		t.Fatalf("formatAdminLine = %q, want %q", got, want)
	}
	if got := formatAdminLine([]byte("plain text\n")); got != "plain text" {
		t.Fatalf("non-json line = %q", got)
	}
}

type chanSink struct{ ch chan string }

func (s chanSink) SendLog(ctx context.Context, chatID int64, text string) error {
	s.ch <- text
	return nil
}

// Not parallel: New sets zerolog globals.
func TestAdminSinkMinLevel(t *testing.T) {
	sink := chanSink{ch: make(chan string, 8)}
	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "relay.log")},
		Admin: AdminConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10},
	}, sink)
	defer svc.Close()
	svc.SetAdminChat(-100123)

	log.Info("routine")
	log.Warn("disk low", String("comp", "storage"))

	select {
	case got := <-sink.ch:
		if !strings.HasPrefix(got, "[WARN] disk low") {
			t.Fatalf("first admin line = %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no admin line delivered")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	if parseLevel(" warning ", LevelInfo) != LevelWarn {
		t.Fatalf("warning should map to warn")
	}
	if parseLevel("bogus", LevelError) != LevelError {
		t.Fatalf("unknown level should fall back to default")
	}
}
