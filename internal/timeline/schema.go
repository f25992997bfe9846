package timeline

import (
	"time"
)

// ActionRecord is the persisted view of a pending action. Raw tokens are
// never stored; rows are keyed by the token fingerprint.
type ActionRecord struct {
	ID          int64     `json:"id"`
	TokenID     string    `json:"token_id"`               // approval.Fingerprint of the token
	ToolName    string    `json:"tool"`                   // Tool the action will run
	Arguments   string    `json:"arguments"`              // JSON-encoded tool arguments
	Tier        string    `json:"risk_tier"`              // safe, moderate, dangerous, critical
	Description string    `json:"description"`            // Human-readable summary shown to the approver
	Impact      string    `json:"impact"`                 // Expected impact text
	Status      string    `json:"status"`                 // Latest status
	Reason      string    `json:"reason,omitempty"`       // Denial, expiry or failure reason
	RequestedBy string    `json:"requested_by"`           // Identity that asked for the action
	ResolvedBy  string    `json:"resolved_by,omitempty"`  // Identity that approved or denied it
	Channel     string    `json:"channel,omitempty"`      // Origin channel (slack, http)
	ChatID      string    `json:"chat_id,omitempty"`      // Origin conversation
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TransitionRecord is one status change of an action.
type TransitionRecord struct {
	ID         int64     `json:"id"`
	TokenID    string    `json:"token_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Actor      string    `json:"actor,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Schema creates the audit tables.
const Schema = `
CREATE TABLE IF NOT EXISTS actions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	token_id TEXT UNIQUE NOT NULL,
	tool TEXT NOT NULL,
	arguments TEXT NOT NULL DEFAULT '{}',
	risk_tier TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	impact TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	requested_by TEXT NOT NULL DEFAULT '',
	resolved_by TEXT NOT NULL DEFAULT '',
	channel TEXT NOT NULL DEFAULT '',
	chat_id TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_actions_status ON actions(status);
CREATE INDEX IF NOT EXISTS idx_actions_created ON actions(created_at);

CREATE TABLE IF NOT EXISTS action_transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	token_id TEXT NOT NULL,
	from_status TEXT NOT NULL DEFAULT '',
	to_status TEXT NOT NULL,
	actor TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	timestamp DATETIME NOT NULL,
	FOREIGN KEY(token_id) REFERENCES actions(token_id)
);

CREATE INDEX IF NOT EXISTS idx_transitions_token ON action_transitions(token_id);
`
