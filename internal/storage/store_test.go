package storage

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	logx "sigrelay/pkg/logx"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(context.Background(), Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "relay.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func strPtr(s string) *string { return &s }

func TestStoreTenantLifecycle(t *testing.T) {
	t.Parallel()
	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := st.GetTenant(ctx, 42); !errors.Is(err, ErrNotFound) {
				t.Fatalf("GetTenant unknown err = %v, want ErrNotFound", err)
			}
			tn, err := st.GetOrCreateTenant(ctx, 42, "alice")
			if err != nil {
				t.Fatalf("GetOrCreateTenant: %v", err)
			}
			if tn.Username != "alice" || tn.Status != StatusUnauthenticated {
				t.Fatalf("unexpected tenant %+v", tn)
			}
			if tn, err = st.GetOrCreateTenant(ctx, 42, "alice2"); err != nil || tn.Username != "alice2" {
				t.Fatalf("username not refreshed: %+v err=%v", tn, err)
			}

			if err := st.UpdateTenant(ctx, 42, TenantPatch{Destination: strPtr("@chan"), TradingBot: strPtr("777")}); err != nil {
				t.Fatalf("UpdateTenant: %v", err)
			}
			tn, _ = st.GetTenant(ctx, 42)
			if tn.Destination != "@chan" || tn.TradingBot != "777" {
				t.Fatalf("patch not applied: %+v", tn)
			}

			// Authenticated without a credential is not listed.
			if err := st.SetStatus(ctx, 42, StatusAuthenticated); err != nil {
				t.Fatalf("SetStatus: %v", err)
			}
			ids, err := st.ListAuthenticated(ctx)
			if err != nil || len(ids) != 0 {
				t.Fatalf("ListAuthenticated = %v err=%v, want empty", ids, err)
			}
			if err := st.PutCredential(ctx, 42, []byte("blob")); err != nil {
				t.Fatalf("PutCredential: %v", err)
			}
			ids, _ = st.ListAuthenticated(ctx)
			if !reflect.DeepEqual(ids, []int64{42}) {
				t.Fatalf("ListAuthenticated = %v, want [42]", ids)
			}
			cred, ok, err := st.GetCredential(ctx, 42)
			if err != nil || !ok || string(cred) != "blob" {
				t.Fatalf("GetCredential = %q %v %v", cred, ok, err)
			}
			if err := st.DeleteCredential(ctx, 42); err != nil {
				t.Fatalf("DeleteCredential: %v", err)
			}
			if _, ok, _ := st.GetCredential(ctx, 42); ok {
				t.Fatalf("credential still present")
			}
		})
	}
}

func TestStoreRoutingPatchAndReset(t *testing.T) {
	t.Parallel()
	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := st.GetOrCreateTenant(ctx, 7, ""); err != nil {
				t.Fatalf("GetOrCreateTenant: %v", err)
			}
			err := st.PutRouting(ctx, 7, RoutingPatch{SetNotifier: map[int64]Notifier{
				-1001: {Label: "Whales", Key: "2"},
				-1002: {Label: "Degens", Key: "3"},
			}})
			if err != nil {
				t.Fatalf("PutRouting: %v", err)
			}
			if err := st.PutRouting(ctx, 7, RoutingPatch{RemoveGroups: []int64{-1002}}); err != nil {
				t.Fatalf("PutRouting remove: %v", err)
			}
			r, err := st.GetRouting(ctx, 7)
			if err != nil {
				t.Fatalf("GetRouting: %v", err)
			}
			want := map[int64]Notifier{-1001: {Label: "Whales", Key: "2"}}
			if !reflect.DeepEqual(r.Groups, want) {
				t.Fatalf("routing = %+v, want %+v", r.Groups, want)
			}

			_ = st.UpdateTenant(ctx, 7, TenantPatch{Destination: strPtr("me")})
			_ = st.PutCredential(ctx, 7, []byte("keep"))
			if err := st.ResetConfig(ctx, 7); err != nil {
				t.Fatalf("ResetConfig: %v", err)
			}
			r, _ = st.GetRouting(ctx, 7)
			tn, _ := st.GetTenant(ctx, 7)
			if len(r.Groups) != 0 || tn.Destination != "" {
				t.Fatalf("reset incomplete: routing=%v tenant=%+v", r.Groups, tn)
			}
			if _, ok, _ := st.GetCredential(ctx, 7); !ok {
				t.Fatalf("reset must keep the credential")
			}
			if err := st.AppendAudit(ctx, AuditEntry{TenantID: 7, Action: "reset_config"}); err != nil {
				t.Fatalf("AppendAudit: %v", err)
			}
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestMemoryClosed(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	_ = m.Close()
	if err := m.PutCredential(context.Background(), 1, []byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestStoreNotifierKeySharedByLabel(t *testing.T) {
	t.Parallel()
	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := st.GetOrCreateTenant(ctx, 8, ""); err != nil {
				t.Fatalf("GetOrCreateTenant: %v", err)
			}
			steps := []map[int64]Notifier{
				{-1001: {Label: "Whales", Key: "2"}},
				{-1002: {Label: "Degens", Key: "3"}},
				// Last assignment of a label wins for every group using it.
				{-1003: {Label: "Whales", Key: "5"}},
			}
			for _, set := range steps {
				if err := st.PutRouting(ctx, 8, RoutingPatch{SetNotifier: set}); err != nil {
					t.Fatalf("PutRouting: %v", err)
				}
			}
			r, err := st.GetRouting(ctx, 8)
			if err != nil {
				t.Fatalf("GetRouting: %v", err)
			}
			want := map[int64]Notifier{
				-1001: {Label: "Whales", Key: "5"},
				-1002: {Label: "Degens", Key: "3"},
				-1003: {Label: "Whales", Key: "5"},
			}
			if !reflect.DeepEqual(r.Groups, want) {
				t.Fatalf("routing = %+v, want %+v", r.Groups, want)
			}
		})
	}
}
