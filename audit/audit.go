// Package audit records lock mutations as structured JSON lines for
// operational consumption. The authoritative audit trail lives in the
// store's audit_log table; this logger mirrors it to a stream so
// operators can tail mutations without a database round-trip.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/pagelock/level"
	"github.com/GoCodeAlone/pagelock/store"
)

// Event is a single audit log entry.
type Event struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Action      store.AuditAction `json:"action"`
	Resource    string            `json:"resource"`
	Actor       string            `json:"actor"`
	Reason      string            `json:"reason,omitempty"`
	OldLevel    level.Level       `json:"old_level,omitempty"`
	NewLevel    level.Level       `json:"new_level,omitempty"`
	RevisionIDs []int64           `json:"revision_ids,omitempty"`
	AuditLogID  int64             `json:"audit_log_id,omitempty"`
}

// Logger writes one JSON line per lock mutation. It is safe for
// concurrent use.
type Logger struct {
	mu     sync.Mutex
	writer io.Writer
	slog   *slog.Logger
}

// NewLogger creates a Logger writing to w. If w is nil, it defaults to
// os.Stdout.
func NewLogger(w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	return &Logger{
		writer: w,
		slog:   slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
}

// Log records an audit event, assigning an id and timestamp when
// missing.
func (l *Logger) Log(_ context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		l.slog.Error("failed to marshal audit event", "error", err)
		return
	}

	// One JSON line per event
	data = append(data, '\n')
	if _, err := l.writer.Write(data); err != nil {
		l.slog.Error("failed to write audit event", "error", err)
	}
}

// LogLevelChange records a lock/modify/unlock mutation.
func (l *Logger) LogLevelChange(ctx context.Context, action store.AuditAction, res, actor, reason string, oldLevel, newLevel level.Level, auditLogID int64) {
	l.Log(ctx, Event{
		Action:     action,
		Resource:   res,
		Actor:      actor,
		Reason:     reason,
		OldLevel:   oldLevel,
		NewLevel:   newLevel,
		AuditLogID: auditLogID,
	})
}

// LogRevisionChange records a hide/unhide mutation.
func (l *Logger) LogRevisionChange(ctx context.Context, action store.AuditAction, res, actor, reason string, revisionIDs []int64, auditLogID int64) {
	l.Log(ctx, Event{
		Action:      action,
		Resource:    res,
		Actor:       actor,
		Reason:      reason,
		RevisionIDs: revisionIDs,
		AuditLogID:  auditLogID,
	})
}
