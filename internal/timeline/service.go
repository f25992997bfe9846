// Package timeline keeps a durable audit log of pending actions in SQLite.
package timeline

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/KafClaw/NetClaw/internal/approval"
)

type TimelineService struct {
	db *sql.DB
}

func NewTimelineService(dbPath string) (*TimelineService, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open timeline db: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	// Best-effort migration for dbs created before origin columns existed.
	_, _ = db.Exec(`ALTER TABLE actions ADD COLUMN channel TEXT NOT NULL DEFAULT ''`)
	_, _ = db.Exec(`ALTER TABLE actions ADD COLUMN chat_id TEXT NOT NULL DEFAULT ''`)

	return &TimelineService{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *TimelineService) DB() *sql.DB { return s.db }

func (s *TimelineService) Close() error {
	return s.db.Close()
}

// RecordTransition implements approval.Recorder. The store gives it no way
// to fail, so write errors are logged.
func (s *TimelineService) RecordTransition(action approval.PendingAction, from approval.Status) {
	if err := s.record(action, from); err != nil {
		slog.Warn("Timeline write failed", "token_id", approval.Fingerprint(action.Token), "status", action.Status, "error", err)
	}
}

func (s *TimelineService) record(action approval.PendingAction, from approval.Status) error {
	args, err := json.Marshal(action.Arguments)
	if err != nil {
		args = []byte("{}")
	}
	tokenID := approval.Fingerprint(action.Token)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
	INSERT INTO actions (token_id, tool, arguments, risk_tier, description, impact, status, reason, requested_by, resolved_by, channel, chat_id, created_at, expires_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(token_id) DO UPDATE SET
		status = excluded.status,
		reason = excluded.reason,
		resolved_by = excluded.resolved_by,
		updated_at = excluded.updated_at
	`,
		tokenID,
		action.ToolName,
		string(args),
		action.Tier.String(),
		action.Description,
		action.Impact,
		string(action.Status),
		action.Reason,
		action.RequestedBy,
		action.ResolvedBy,
		action.Origin.Channel,
		action.Origin.ChatID,
		action.CreatedAt.UTC(),
		action.ExpiresAt.UTC(),
		action.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert action: %w", err)
	}
	_, err = tx.Exec(`
	INSERT INTO action_transitions (token_id, from_status, to_status, actor, reason, timestamp)
	VALUES (?, ?, ?, ?, ?, ?)
	`, tokenID, string(from), string(action.Status), action.ResolvedBy, action.Reason, action.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return tx.Commit()
}

// ExpireStalePending marks every action a previous process left open as
// expired. Tokens live only in memory and cannot be resolved after a
// restart. It returns the number of rows changed.
func (s *TimelineService) ExpireStalePending(now time.Time) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT token_id, status FROM actions WHERE status IN (?, ?, ?, ?)`,
		string(approval.StatusPending), string(approval.StatusMFAPending),
		string(approval.StatusApproved), string(approval.StatusMFAApproved))
	if err != nil {
		return 0, fmt.Errorf("select open actions: %w", err)
	}
	type stale struct{ tokenID, status string }
	var open []stale
	for rows.Next() {
		var st stale
		if err := rows.Scan(&st.tokenID, &st.status); err != nil {
			rows.Close()
			return 0, err
		}
		open = append(open, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	now = now.UTC()
	for _, st := range open {
		to := approval.StatusExpired
		if _, err := tx.Exec(`UPDATE actions SET status = ?, reason = ?, updated_at = ? WHERE token_id = ?`,
			string(to), approval.ReasonRestart, now, st.tokenID); err != nil {
			return 0, fmt.Errorf("close action: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO action_transitions (token_id, from_status, to_status, actor, reason, timestamp) VALUES (?, ?, ?, 'system', ?, ?)`,
			st.tokenID, st.status, string(to), approval.ReasonRestart, now); err != nil {
			return 0, fmt.Errorf("insert transition: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(open), nil
}

type FilterArgs struct {
	Status string
	Tool   string
	Limit  int
	Offset int
}

// ListActions returns actions newest first.
func (s *TimelineService) ListActions(filter FilterArgs) ([]ActionRecord, error) {
	query := `SELECT id, token_id, tool, arguments, risk_tier, description, impact, status, reason, requested_by, resolved_by, channel, chat_id, created_at, expires_at, updated_at FROM actions WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Tool != "" {
		query += " AND tool = ?"
		args = append(args, filter.Tool)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActionRecord
	for rows.Next() {
		rec, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// GetAction returns the action with the given token fingerprint, or nil.
func (s *TimelineService) GetAction(tokenID string) (*ActionRecord, error) {
	row := s.db.QueryRow(`SELECT id, token_id, tool, arguments, risk_tier, description, impact, status, reason, requested_by, resolved_by, channel, chat_id, created_at, expires_at, updated_at FROM actions WHERE token_id = ?`, tokenID)
	rec, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// ListTransitions returns the transitions of one action in order.
func (s *TimelineService) ListTransitions(tokenID string) ([]TransitionRecord, error) {
	rows, err := s.db.Query(`SELECT id, token_id, from_status, to_status, actor, reason, timestamp FROM action_transitions WHERE token_id = ? ORDER BY id ASC`, tokenID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		var t TransitionRecord
		if err := rows.Scan(&t.ID, &t.TokenID, &t.FromStatus, &t.ToStatus, &t.Actor, &t.Reason, &t.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountByStatus returns the number of actions per status.
func (s *TimelineService) CountByStatus() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM actions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAction(row scanner) (*ActionRecord, error) {
	var r ActionRecord
	err := row.Scan(
		&r.ID,
		&r.TokenID,
		&r.ToolName,
		&r.Arguments,
		&r.Tier,
		&r.Description,
		&r.Impact,
		&r.Status,
		&r.Reason,
		&r.RequestedBy,
		&r.ResolvedBy,
		&r.Channel,
		&r.ChatID,
		&r.CreatedAt,
		&r.ExpiresAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
