package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "sigrelay/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log, now: time.Now}
	if _, err := db.ExecContext(ctx, migrationsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ensure(ctx context.Context, id int64) error {
	ms := s.now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants(id, created_at, updated_at) VALUES(?,?,?) ON CONFLICT(id) DO NOTHING`,
		id, ms, ms)
	return err
}

func (s *sqliteStore) GetCredential(ctx context.Context, id int64) ([]byte, bool, error) {
	var cred []byte
	err := s.db.QueryRowContext(ctx, `SELECT credential FROM tenants WHERE id = ?`, id).Scan(&cred)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cred, len(cred) > 0, nil
}

func (s *sqliteStore) PutCredential(ctx context.Context, id int64, cred []byte) error {
	if err := s.ensure(ctx, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE tenants SET credential = ?, updated_at = ? WHERE id = ?`,
		cred, s.now().UnixMilli(), id)
	return err
}

func (s *sqliteStore) DeleteCredential(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tenants SET credential = NULL, updated_at = ? WHERE id = ?`,
		s.now().UnixMilli(), id)
	return err
}

func (s *sqliteStore) GetRouting(ctx context.Context, id int64) (Routing, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_id, label, notifier_key FROM group_configs WHERE tenant_id = ?`, id)
	if err != nil {
		return Routing{}, err
	}
	defer rows.Close()
	out := Routing{Groups: map[int64]Notifier{}}
	for rows.Next() {
		var gid int64
		var n Notifier
		if err := rows.Scan(&gid, &n.Label, &n.Key); err != nil {
			return Routing{}, err
		}
		out.Groups[gid] = n
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutRouting(ctx context.Context, id int64, p RoutingPatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for gid, n := range p.SetNotifier {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_configs(tenant_id, group_id, label, notifier_key) VALUES(?,?,?,?)
			 ON CONFLICT(tenant_id, group_id) DO UPDATE SET label=excluded.label, notifier_key=excluded.notifier_key`,
			id, gid, n.Label, n.Key); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE group_configs SET notifier_key = ? WHERE tenant_id = ? AND label = ?`,
			n.Key, id, n.Label); err != nil {
			return err
		}
	}
	for _, gid := range p.RemoveGroups {
		if _, err := tx.ExecContext(ctx, `DELETE FROM group_configs WHERE tenant_id = ? AND group_id = ?`, id, gid); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) GetOrCreateTenant(ctx context.Context, id int64, username string) (Tenant, error) {
	if err := s.ensure(ctx, id); err != nil {
		return Tenant{}, err
	}
	if username != "" {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE tenants SET username = ?, updated_at = ? WHERE id = ? AND IFNULL(username, '') <> ?`,
			username, s.now().UnixMilli(), id, username); err != nil {
			return Tenant{}, err
		}
	}
	return s.GetTenant(ctx, id)
}

func (s *sqliteStore) GetTenant(ctx context.Context, id int64) (Tenant, error) {
	var (
		t        Tenant
		username sql.NullString
		status   string
		created  int64
		updated  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, status, destination, trading_bot, created_at, updated_at FROM tenants WHERE id = ?`, id).
		Scan(&t.ID, &username, &status, &t.Destination, &t.TradingBot, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Tenant{}, ErrNotFound
	}
	if err != nil {
		return Tenant{}, err
	}
	t.Username = username.String
	t.Status = Status(status)
	t.CreatedAt = time.UnixMilli(created)
	t.UpdatedAt = time.UnixMilli(updated)
	return t, nil
}

func (s *sqliteStore) UpdateTenant(ctx context.Context, id int64, p TenantPatch) error {
	if err := s.ensure(ctx, id); err != nil {
		return err
	}
	sets := []string{"updated_at = ?"}
	args := []any{s.now().UnixMilli()}
	if p.Username != nil {
		sets = append(sets, "username = ?")
		args = append(args, *p.Username)
	}
	if p.Destination != nil {
		sets = append(sets, "destination = ?")
		args = append(args, *p.Destination)
	}
	if p.TradingBot != nil {
		sets = append(sets, "trading_bot = ?")
		args = append(args, *p.TradingBot)
	}
	args = append(args, id)
	_, err := s.db.ExecContext(ctx, `UPDATE tenants SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	return err
}

func (s *sqliteStore) SetStatus(ctx context.Context, id int64, st Status) error {
	if err := s.ensure(ctx, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE tenants SET status = ?, updated_at = ? WHERE id = ?`,
		string(st), s.now().UnixMilli(), id)
	return err
}

func (s *sqliteStore) ListAuthenticated(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM tenants WHERE status = ? AND credential IS NOT NULL AND length(credential) > 0 ORDER BY id`,
		string(StatusAuthenticated))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) ResetConfig(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx,
		`UPDATE tenants SET destination = '', trading_bot = '', updated_at = ? WHERE id = ?`,
		s.now().UnixMilli(), id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM group_configs WHERE tenant_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, tenant_id, username, action, target, err) VALUES(?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.TenantID, nullStr(e.Username), e.Action, nullStr(e.Target), nullStr(e.Error),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
