package store

import (
	"log/slog"
	"time"

	"github.com/forgeworks/forge/internal/permissions"
)

// Decision is one recorded permission evaluation.
type Decision struct {
	ID          int64
	Timestamp   time.Time
	SessionID   string
	Tool        string
	Pattern     string
	Level       string
	RateLimited bool
}

// RecordDecision implements permissions.AuditSink. Failures are logged, not
// returned: the audit trail never blocks a tool call.
func (d *DB) RecordDecision(sessionID, tool, pattern string, level permissions.Level, rateLimited bool) {
	_, err := d.db.Exec(`
		INSERT INTO permission_decisions (ts, session_id, tool, pattern, level, rate_limited)
		VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().UTC(), sessionID, tool, pattern, string(level), boolToInt(rateLimited))
	if err != nil {
		slog.Warn("store.audit_write_failed", "tool", tool, "error", err)
	}
}

// RecentDecisions returns the newest decisions, optionally filtered by
// session. limit <= 0 means 100.
func (d *DB) RecentDecisions(sessionID string, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, ts, session_id, tool, pattern, level, rate_limited
		FROM permission_decisions`
	args := []interface{}{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var dec Decision
		var rateLimited int
		if err := rows.Scan(&dec.ID, &dec.Timestamp, &dec.SessionID, &dec.Tool,
			&dec.Pattern, &dec.Level, &rateLimited); err != nil {
			return nil, err
		}
		dec.RateLimited = rateLimited != 0
		out = append(out, dec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
