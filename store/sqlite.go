package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/GoCodeAlone/pagelock/level"
	"github.com/GoCodeAlone/pagelock/resource"

	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial.sql
var sqliteMigration string

// SQLiteStore implements LockStore and AuditStore using an SQLite
// database. It is suitable for single-node deployments and testing.
type SQLiteStore struct {
	db       *sql.DB
	readOnly atomic.Bool
}

// NewSQLiteStore opens (and migrates) an SQLite-backed lock store. The
// dsn is the path to the database file; use ":memory:" for an
// in-memory database.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	// Append pragmas to the DSN so they apply to every connection.
	if dsn != ":memory:" {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Limit to one open connection to serialize writes and avoid
	// SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if _, err := db.Exec(sqliteMigration); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// SetReadOnly toggles global read-only mode.
func (s *SQLiteStore) SetReadOnly(readOnly bool) { s.readOnly.Store(readOnly) }

// GetLevel returns the current lock level for a resource.
func (s *SQLiteStore) GetLevel(ctx context.Context, res resource.Resource) (level.Level, error) {
	switch res.Phase() {
	case resource.PhaseExisting:
		var bits uint64
		err := s.db.QueryRowContext(ctx,
			`SELECT level_bits FROM resource_locks WHERE resource_id = ?`,
			res.ID()).Scan(&bits)
		if errors.Is(err, sql.ErrNoRows) {
			return level.None, nil
		}
		if err != nil {
			return level.None, fmt.Errorf("get level: %w", err)
		}
		return level.FromBits(bits), nil

	case resource.PhasePending:
		var one int
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM create_locks WHERE namespace = ? AND name = ?`,
			res.Namespace(), res.Name()).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return level.None, nil
		}
		if err != nil {
			return level.None, fmt.Errorf("get create lock: %w", err)
		}
		return level.Create, nil

	default:
		// Virtual resources carry no lock state.
		return level.None, nil
	}
}

// SetLevel applies newLevel to a resource inside one transaction:
// read current, compare, upsert/delete, audit. The single write
// connection serializes concurrent SetLevel calls so exactly one of N
// racing first-time locks inserts; the rest observe the new state.
func (s *SQLiteStore) SetLevel(ctx context.Context, res resource.Resource, newLevel level.Level, reason, actor string) (ChangeResult, error) {
	if s.readOnly.Load() {
		return ChangeResult{}, ErrReadOnly
	}
	if !level.AllowedFor(newLevel, res.Phase()) {
		return ChangeResult{}, fmt.Errorf("set %q on %s resource: %w", newLevel, res.Phase(), ErrInvalidLevel)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ChangeResult{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

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

	auditID, err := insertAuditTx(ctx, tx, &AuditEntry{
		Action:   action,
		Resource: res.String(),
		Actor:    actor,
		Reason:   reason,
		OldLevel: current,
		NewLevel: newLevel,
	})
	if err != nil {
		return ChangeResult{}, err
	}

	if err := s.writeLockInTx(ctx, tx, res, newLevel, auditID); err != nil {
		return ChangeResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return ChangeResult{}, fmt.Errorf("commit: %w", err)
	}
	return ChangeResult{Changed: true, OldLevel: current, NewLevel: newLevel, AuditLogID: auditID}, nil
}

func (s *SQLiteStore) levelInTx(ctx context.Context, tx *sql.Tx, res resource.Resource) (level.Level, error) {
	if res.Phase() == resource.PhasePending {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM create_locks WHERE namespace = ? AND name = ?`,
			res.Namespace(), res.Name()).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return level.None, nil
		}
		if err != nil {
			return level.None, fmt.Errorf("read create lock: %w", err)
		}
		return level.Create, nil
	}

	var bits uint64
	err := tx.QueryRowContext(ctx,
		`SELECT level_bits FROM resource_locks WHERE resource_id = ?`,
		res.ID()).Scan(&bits)
	if errors.Is(err, sql.ErrNoRows) {
		return level.None, nil
	}
	if err != nil {
		return level.None, fmt.Errorf("read lock: %w", err)
	}
	return level.FromBits(bits), nil
}

func (s *SQLiteStore) writeLockInTx(ctx context.Context, tx *sql.Tx, res resource.Resource, newLevel level.Level, auditID int64) error {
	if res.Phase() == resource.PhasePending {
		if newLevel == level.None {
			_, err := tx.ExecContext(ctx,
				`DELETE FROM create_locks WHERE namespace = ? AND name = ?`,
				res.Namespace(), res.Name())
			if err != nil {
				return fmt.Errorf("delete create lock: %w", err)
			}
			return nil
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO create_locks (namespace, name, audit_log_id)
			VALUES (?, ?, ?)
			ON CONFLICT (namespace, name) DO UPDATE SET audit_log_id = excluded.audit_log_id
		`, res.Namespace(), res.Name(), auditID)
		if err != nil {
			return fmt.Errorf("upsert create lock: %w", err)
		}
		return nil
	}

	if newLevel == level.None {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM resource_locks WHERE resource_id = ?`, res.ID())
		if err != nil {
			return fmt.Errorf("delete lock: %w", err)
		}
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO resource_locks (resource_id, level_bits, audit_log_id)
		VALUES (?, ?, ?)
		ON CONFLICT (resource_id) DO UPDATE SET
			level_bits = excluded.level_bits,
			audit_log_id = excluded.audit_log_id
	`, res.ID(), newLevel.Bits(), auditID)
	if err != nil {
		return fmt.Errorf("upsert lock: %w", err)
	}
	return nil
}

// IsRevisionHidden reports whether one revision is hidden.
func (s *SQLiteStore) IsRevisionHidden(ctx context.Context, revisionID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM hidden_revisions WHERE revision_id = ?`, revisionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check revision: %w", err)
	}
	return true, nil
}

// HiddenRevisions returns every hidden revision of a resource.
func (s *SQLiteStore) HiddenRevisions(ctx context.Context, resourceID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT revision_id FROM hidden_revisions WHERE resource_id = ? ORDER BY revision_id`,
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

// SetRevisionHidden hides or unhides one revision. The insert uses ON
// CONFLICT DO NOTHING so concurrent hide requests for the same
// revision never surface a duplicate-key error; the loser reports a
// no-op.
func (s *SQLiteStore) SetRevisionHidden(ctx context.Context, resourceID, revisionID int64, hidden bool, reason, actor string) (ChangeResult, error) {
	if s.readOnly.Load() {
		return ChangeResult{}, ErrReadOnly
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ChangeResult{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var result sql.Result
	if hidden {
		result, err = tx.ExecContext(ctx, `
			INSERT INTO hidden_revisions (revision_id, resource_id)
			VALUES (?, ?)
			ON CONFLICT (revision_id) DO NOTHING
		`, revisionID, resourceID)
	} else {
		result, err = tx.ExecContext(ctx,
			`DELETE FROM hidden_revisions WHERE revision_id = ? AND resource_id = ?`,
			revisionID, resourceID)
	}
	if err != nil {
		return ChangeResult{}, fmt.Errorf("set revision hidden: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return ChangeResult{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ChangeResult{Changed: false}, nil
	}

	action := ActionHide
	if !hidden {
		action = ActionUnhide
	}
	auditID, err := insertAuditTx(ctx, tx, &AuditEntry{
		Action:      action,
		Resource:    resource.Existing(resourceID).String(),
		Actor:       actor,
		Reason:      reason,
		RevisionIDs: []int64{revisionID},
	})
	if err != nil {
		return ChangeResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return ChangeResult{}, fmt.Errorf("commit: %w", err)
	}
	return ChangeResult{Changed: true, AuditLogID: auditID}, nil
}

// DeleteResource removes the lock record and all revision locks for a
// deleted resource, returning the hidden revision ids so their cache
// entries can be invalidated.
func (s *SQLiteStore) DeleteResource(ctx context.Context, resourceID int64) ([]int64, error) {
	if s.readOnly.Load() {
		return nil, ErrReadOnly
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx,
		`SELECT revision_id FROM hidden_revisions WHERE resource_id = ?`, resourceID)
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

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM hidden_revisions WHERE resource_id = ?`, resourceID); err != nil {
		return nil, fmt.Errorf("delete revisions: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM resource_locks WHERE resource_id = ?`, resourceID); err != nil {
		return nil, fmt.Errorf("delete lock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

// Query returns audit entries matching the filter, newest first.
func (s *SQLiteStore) Query(ctx context.Context, f AuditFilter) ([]*AuditEntry, error) {
	query := `SELECT id, action, resource, actor, reason, old_level, new_level, revision_ids, created_at
		FROM audit_log WHERE 1=1`
	var args []any

	if f.Action != "" {
		query += ` AND action = ?`
		args = append(args, string(f.Action))
	}
	if f.Resource != "" {
		query += ` AND resource = ?`
		args = append(args, f.Resource)
	}
	if f.Actor != "" {
		query += ` AND actor = ?`
		args = append(args, f.Actor)
	}
	if f.Since != nil {
		// Rows carry datetime('now') text; the bound value must use the
		// same layout for the byte-wise TEXT comparison to be a time
		// comparison.
		query += ` AND created_at >= ?`
		args = append(args, f.Since.UTC().Format(sqliteTimeLayout))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var (
			e       AuditEntry
			revs    string
			created string
		)
		err := rows.Scan(&e.ID, &e.Action, &e.Resource, &e.Actor, &e.Reason,
			&e.OldLevel, &e.NewLevel, &revs, &created)
		if err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.RevisionIDs = splitRevisionIDs(revs)
		e.CreatedAt, err = parseAuditTime(created)
		if err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func insertAuditTx(ctx context.Context, tx *sql.Tx, e *AuditEntry) (int64, error) {
	result, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log (action, resource, actor, reason, old_level, new_level, revision_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(e.Action), e.Resource, e.Actor, e.Reason,
		string(e.OldLevel), string(e.NewLevel), joinRevisionIDs(e.RevisionIDs))
	if err != nil {
		return 0, fmt.Errorf("insert audit: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("audit id: %w", err)
	}
	return id, nil
}

// sqliteTimeLayout is the text form datetime('now') writes, in UTC.
const sqliteTimeLayout = "2006-01-02 15:04:05"

func parseAuditTime(s string) (time.Time, error) {
	if t, err := time.Parse(sqliteTimeLayout, s); err == nil {
		return t, nil
	}
	// Rows imported from another store may carry RFC3339 text.
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("parse audit timestamp %q", s)
}

func joinRevisionIDs(ids []int64) string {
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func splitRevisionIDs(s string) []int64 {
	if s == "" {
		return nil
	}
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
