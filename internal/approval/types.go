// Package approval holds pending actions behind single-use confirmation
// tokens until a human approves, denies, or lets them expire.
package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"maps"
	"time"

	"github.com/KafClaw/NetClaw/internal/policy"
)

// Status is the lifecycle state of a PendingAction.
type Status string

const (
	StatusPending     Status = "pending"
	StatusApproved    Status = "approved"
	StatusMFAPending  Status = "mfa_pending"
	StatusMFAApproved Status = "mfa_approved"
	StatusDenied      Status = "denied"
	StatusExpired     Status = "expired"
	StatusExecuted    Status = "executed"
	StatusFailed      Status = "failed"
)

// Terminal reports whether no further transition is accepted.
func (s Status) Terminal() bool {
	switch s {
	case StatusDenied, StatusExpired, StatusExecuted, StatusFailed:
		return true
	}
	return false
}

var (
	ErrNotFound        = errors.New("confirmation token not found")
	ErrExpired         = errors.New("confirmation expired")
	ErrAlreadyResolved = errors.New("confirmation already resolved")
	ErrNotApproved     = errors.New("confirmation not approved")
	ErrNotAuthorized   = errors.New("approver is not the requester")
	ErrMFADenied       = errors.New("mfa denied")
	ErrMFATimedOut     = errors.New("mfa timed out")
)

// Denial and expiry reasons stored on the action.
const (
	ReasonUserDenied     = "user_denied"
	ReasonTTL            = "ttl_elapsed"
	ReasonMFADenied      = "mfa_denied"
	ReasonMFATimeout     = "mfa_timeout"
	ReasonMFAUnavailable = "mfa_unavailable"
	ReasonMFACancelled   = "mfa_cancelled"
	ReasonAwaitingMFA    = "awaiting_mfa"
	ReasonRestart        = "process_restart"
)

// Origin identifies where the request came from so a collaborator can
// update the confirmation prompt in place.
type Origin struct {
	Channel   string `json:"channel,omitempty"`
	ChatID    string `json:"chat_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// PendingAction is a deferred tool call. Values handed out by the Store are
// snapshots; the Store owns the live record.
type PendingAction struct {
	Token        string         `json:"token"`
	ToolName     string         `json:"tool"`
	Arguments    map[string]any `json:"arguments"`
	Tier         policy.Tier    `json:"risk_tier"`
	Description  string         `json:"description"`
	Impact       string         `json:"impact"`
	Status       Status         `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	ExpiresAt    time.Time      `json:"expires_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	RequestedBy  string         `json:"requested_by"`
	ResolvedBy   string         `json:"resolved_by,omitempty"`
	UserApproved bool           `json:"user_approved"`
	Reason       string         `json:"reason,omitempty"`
	Origin       Origin         `json:"origin"`
}

func (a PendingAction) clone() PendingAction {
	a.Arguments = maps.Clone(a.Arguments)
	return a
}

// Fingerprint is a short non-reversible id for logs and audit rows.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}

// Request describes an action to register.
type Request struct {
	ToolName    string
	Arguments   map[string]any
	Tier        policy.Tier
	Description string
	Impact      string
	RequestedBy string
	Origin      Origin
}

// MFAOutcome is the result of a push escalation.
type MFAOutcome int

const (
	MFAApproved MFAOutcome = iota
	MFADenied
	MFATimedOut
	MFAUnavailable
	MFACancelled
)

func (o MFAOutcome) String() string {
	switch o {
	case MFAApproved:
		return "approved"
	case MFADenied:
		return "denied"
	case MFATimedOut:
		return "timed_out"
	case MFAUnavailable:
		return "unavailable"
	case MFACancelled:
		return "cancelled"
	}
	return "unknown"
}

func (o MFAOutcome) reason() string {
	switch o {
	case MFATimedOut:
		return ReasonMFATimeout
	case MFAUnavailable:
		return ReasonMFAUnavailable
	case MFACancelled:
		return ReasonMFACancelled
	}
	return ReasonMFADenied
}

// MFAErr explains why a critical action did not reach mfa_approved. It
// returns nil once the action may be consumed.
func (a PendingAction) MFAErr() error {
	switch a.Status {
	case StatusMFAApproved:
		return nil
	case StatusMFAPending:
		return ErrNotApproved
	case StatusExpired:
		return ErrExpired
	case StatusDenied:
		switch a.Reason {
		case ReasonMFATimeout:
			return ErrMFATimedOut
		case ReasonUserDenied:
			return ErrAlreadyResolved
		}
		return ErrMFADenied
	}
	return ErrAlreadyResolved
}
