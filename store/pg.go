package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GoCodeAlone/pagelock/level"
	"github.com/GoCodeAlone/pagelock/resource"
)

// PGConfig holds PostgreSQL connection configuration.
type PGConfig struct {
	URL      string `yaml:"url" json:"url"`
	MaxConns int32  `yaml:"max_conns" json:"max_conns"`
	MinConns int32  `yaml:"min_conns" json:"min_conns"`
}

// PGStore implements LockStore and AuditStore backed by PostgreSQL.
// It is intended for multi-node production deployments.
type PGStore struct {
	pool     *pgxpool.Pool
	readOnly atomic.Bool
}

// NewPGStore connects to PostgreSQL, verifies the connection and
// ensures the schema exists.
func NewPGStore(ctx context.Context, cfg PGConfig) (*PGStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}

	s := &PGStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewPGStoreWithPool wraps an existing pool. Intended for tests.
func NewPGStoreWithPool(ctx context.Context, pool *pgxpool.Pool) (*PGStore, error) {
	s := &PGStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PGStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS resource_locks (
			resource_id  BIGINT PRIMARY KEY,
			level_bits   BIGINT NOT NULL,
			audit_log_id BIGINT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS create_locks (
			namespace    INT  NOT NULL,
			name         TEXT NOT NULL,
			audit_log_id BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (namespace, name)
		);
		CREATE TABLE IF NOT EXISTS hidden_revisions (
			revision_id BIGINT PRIMARY KEY,
			resource_id BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_hidden_revisions_resource
			ON hidden_revisions (resource_id);
		CREATE TABLE IF NOT EXISTS audit_log (
			id           BIGSERIAL PRIMARY KEY,
			action       TEXT NOT NULL,
			resource     TEXT NOT NULL,
			actor        TEXT NOT NULL,
			reason       TEXT NOT NULL DEFAULT '',
			old_level    TEXT NOT NULL DEFAULT '',
			new_level    TEXT NOT NULL DEFAULT '',
			revision_ids TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

// Pool returns the underlying pgxpool.Pool.
func (s *PGStore) Pool() *pgxpool.Pool { return s.pool }

// Close closes the connection pool.
func (s *PGStore) Close() { s.pool.Close() }

// SetReadOnly toggles global read-only mode.
func (s *PGStore) SetReadOnly(readOnly bool) { s.readOnly.Store(readOnly) }

// GetLevel returns the current lock level for a resource.
func (s *PGStore) GetLevel(ctx context.Context, res resource.Resource) (level.Level, error) {
	switch res.Phase() {
	case resource.PhaseExisting:
		var bits uint64
		err := s.pool.QueryRow(ctx,
			`SELECT level_bits FROM resource_locks WHERE resource_id = $1`,
			res.ID()).Scan(&bits)
		if errors.Is(err, pgx.ErrNoRows) {
			return level.None, nil
		}
		if err != nil {
			return level.None, fmt.Errorf("get level: %w", err)
		}
		return level.FromBits(bits), nil

	case resource.PhasePending:
		var one int
		err := s.pool.QueryRow(ctx,
			`SELECT 1 FROM create_locks WHERE namespace = $1 AND name = $2`,
			res.Namespace(), res.Name()).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return level.None, nil
		}
		if err != nil {
			return level.None, fmt.Errorf("get create lock: %w", err)
		}
		return level.Create, nil

	default:
		return level.None, nil
	}
}

// SetLevel applies newLevel inside one transaction, locking the lock
// row with SELECT ... FOR UPDATE so two concurrent SetLevel calls on
// the same resource serialize instead of racing the insert.
func (s *PGStore) SetLevel(ctx context.Context, res resource.Resource, newLevel level.Level, reason, actor string) (ChangeResult, error) {
	if s.readOnly.Load() {
		return ChangeResult{}, ErrReadOnly
	}
	if !level.AllowedFor(newLevel, res.Phase()) {
		return ChangeResult{}, fmt.Errorf("set %q on %s resource: %w", newLevel, res.Phase(), ErrInvalidLevel)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ChangeResult{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	current, err := s.levelInTx(ctx, tx, res)
	if err != nil {
		return ChangeResult{}, err
	}
	if current == newLevel {
		return ChangeResult{Changed: false, OldLevel: current, NewLevel: current}, nil
	}

	action := ActionModify
	switch {
	case current == level.None:
		action = ActionLock
	case newLevel == level.None:
		action = ActionUnlock
	}

	var auditID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO audit_log (action, resource, actor, reason, old_level, new_level, revision_ids)
		VALUES ($1, $2, $3, $4, $5, $6, '')
		RETURNING id
	`, string(action), res.String(), actor, reason, string(current), string(newLevel)).Scan(&auditID)
	if err != nil {
		return ChangeResult{}, fmt.Errorf("insert audit: %w", err)
	}

	if err := s.writeLockInTx(ctx, tx, res, newLevel, auditID); err != nil {
		return ChangeResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ChangeResult{}, fmt.Errorf("commit: %w", err)
	}
	return ChangeResult{Changed: true, OldLevel: current, NewLevel: newLevel, AuditLogID: auditID}, nil
}

func (s *PGStore) levelInTx(ctx context.Context, tx pgx.Tx, res resource.Resource) (level.Level, error) {
	if res.Phase() == resource.PhasePending {
		var one int
		err := tx.QueryRow(ctx,
			`SELECT 1 FROM create_locks WHERE namespace = $1 AND name = $2 FOR UPDATE`,
			res.Namespace(), res.Name()).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return level.None, nil
		}
		if err != nil {
			return level.None, fmt.Errorf("read create lock: %w", err)
		}
		return level.Create, nil
	}

	var bits uint64
	err := tx.QueryRow(ctx,
		`SELECT level_bits FROM resource_locks WHERE resource_id = $1 FOR UPDATE`,
		res.ID()).Scan(&bits)
	if errors.Is(err, pgx.ErrNoRows) {
		return level.None, nil
	}
	if err != nil {
		return level.None, fmt.Errorf("read lock: %w", err)
	}
	return level.FromBits(bits), nil
}

func (s *PGStore) writeLockInTx(ctx context.Context, tx pgx.Tx, res resource.Resource, newLevel level.Level, auditID int64) error {
	if res.Phase() == resource.PhasePending {
		if newLevel == level.None {
			_, err := tx.Exec(ctx,
				`DELETE FROM create_locks WHERE namespace = $1 AND name = $2`,
				res.Namespace(), res.Name())
			if err != nil {
				return fmt.Errorf("delete create lock: %w", err)
			}
			return nil
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO create_locks (namespace, name, audit_log_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (namespace, name) DO UPDATE SET audit_log_id = EXCLUDED.audit_log_id
		`, res.Namespace(), res.Name(), auditID)
		if err != nil {
			return fmt.Errorf("upsert create lock: %w", err)
		}
		return nil
	}

	if newLevel == level.None {
		_, err := tx.Exec(ctx,
			`DELETE FROM resource_locks WHERE resource_id = $1`, res.ID())
		if err != nil {
			return fmt.Errorf("delete lock: %w", err)
		}
		return nil
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO resource_locks (resource_id, level_bits, audit_log_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (resource_id) DO UPDATE SET
			level_bits = EXCLUDED.level_bits,
			audit_log_id = EXCLUDED.audit_log_id
	`, res.ID(), newLevel.Bits(), auditID)
	if err != nil {
		return fmt.Errorf("upsert lock: %w", err)
	}
	return nil
}

// IsRevisionHidden reports whether one revision is hidden.
func (s *PGStore) IsRevisionHidden(ctx context.Context, revisionID int64) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM hidden_revisions WHERE revision_id = $1`, revisionID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check revision: %w", err)
	}
	return true, nil
}

// HiddenRevisions returns every hidden revision of a resource.
func (s *PGStore) HiddenRevisions(ctx context.Context, resourceID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT revision_id FROM hidden_revisions WHERE resource_id = $1 ORDER BY revision_id`,
		resourceID)
	if err != nil {
		return nil, fmt.Errorf("list hidden revisions: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetRevisionHidden hides or unhides one revision using an atomic
// upsert/delete keyed by the revision row.
func (s *PGStore) SetRevisionHidden(ctx context.Context, resourceID, revisionID int64, hidden bool, reason, actor string) (ChangeResult, error) {
	if s.readOnly.Load() {
		return ChangeResult{}, ErrReadOnly
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ChangeResult{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var tag string
	if hidden {
		ct, err := tx.Exec(ctx, `
			INSERT INTO hidden_revisions (revision_id, resource_id)
			VALUES ($1, $2)
			ON CONFLICT (revision_id) DO NOTHING
		`, revisionID, resourceID)
		if err != nil {
			return ChangeResult{}, fmt.Errorf("hide revision: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return ChangeResult{Changed: false}, nil
		}
		tag = string(ActionHide)
	} else {
		ct, err := tx.Exec(ctx,
			`DELETE FROM hidden_revisions WHERE revision_id = $1 AND resource_id = $2`,
			revisionID, resourceID)
		if err != nil {
			return ChangeResult{}, fmt.Errorf("unhide revision: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return ChangeResult{Changed: false}, nil
		}
		tag = string(ActionUnhide)
	}

	var auditID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO audit_log (action, resource, actor, reason, revision_ids)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, tag, resource.Existing(resourceID).String(), actor, reason,
		joinRevisionIDs([]int64{revisionID})).Scan(&auditID)
	if err != nil {
		return ChangeResult{}, fmt.Errorf("insert audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return ChangeResult{}, fmt.Errorf("commit: %w", err)
	}
	return ChangeResult{Changed: true, AuditLogID: auditID}, nil
}

// DeleteResource removes the lock record and all revision locks for a
// deleted resource.
func (s *PGStore) DeleteResource(ctx context.Context, resourceID int64) ([]int64, error) {
	if s.readOnly.Load() {
		return nil, ErrReadOnly
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx,
		`SELECT revision_id FROM hidden_revisions WHERE resource_id = $1`, resourceID)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM hidden_revisions WHERE resource_id = $1`, resourceID); err != nil {
		return nil, fmt.Errorf("delete revisions: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM resource_locks WHERE resource_id = $1`, resourceID); err != nil {
		return nil, fmt.Errorf("delete lock: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

// Query returns audit entries matching the filter, newest first.
func (s *PGStore) Query(ctx context.Context, f AuditFilter) ([]*AuditEntry, error) {
	query := `SELECT id, action, resource, actor, reason, old_level, new_level, revision_ids, created_at
		FROM audit_log WHERE 1=1`
	var args []any
	idx := 1

	if f.Action != "" {
		query += fmt.Sprintf(` AND action = $%d`, idx)
		args = append(args, string(f.Action))
		idx++
	}
	if f.Resource != "" {
		query += fmt.Sprintf(` AND resource = $%d`, idx)
		args = append(args, f.Resource)
		idx++
	}
	if f.Actor != "" {
		query += fmt.Sprintf(` AND actor = $%d`, idx)
		args = append(args, f.Actor)
		idx++
	}
	if f.Since != nil {
		query += fmt.Sprintf(` AND created_at >= $%d`, idx)
		args = append(args, *f.Since)
		idx++
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT $%d`, idx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var (
			e    AuditEntry
			revs string
		)
		err := rows.Scan(&e.ID, &e.Action, &e.Resource, &e.Actor, &e.Reason,
			&e.OldLevel, &e.NewLevel, &revs, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.RevisionIDs = splitRevisionIDs(revs)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
