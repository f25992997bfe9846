package approval

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Escalator runs the second-factor approval for a critical action. It must
// return once ctx is done.
type Escalator interface {
	Escalate(ctx context.Context, action PendingAction) MFAOutcome
}

// Options configures a Store.
type Options struct {
	TTL           time.Duration // lifetime of a pending action, default 5m
	Retention     time.Duration // how long terminal actions stay queryable, default 1h
	RequesterOnly bool          // only the requester may approve
	Escalator     Escalator     // nil means critical actions can never pass MFA
	Recorder      Recorder
	Logger        *slog.Logger
	Now           func() time.Time
}

// Store is the registry of pending actions. Each token has its own lock so
// transitions on one token are linearized while different tokens proceed in
// parallel.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	ttl           time.Duration
	retention     time.Duration
	requesterOnly bool
	escalator     Escalator
	recorder      Recorder
	logger        *slog.Logger
	now           func() time.Time

	escalations sync.WaitGroup
}

type entry struct {
	mu        sync.Mutex
	action    PendingAction
	executing bool // consumed, waiting for Complete
	cancelMFA context.CancelFunc
	mfaDone   chan struct{}
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	s := &Store{
		entries:       make(map[string]*entry),
		ttl:           opts.TTL,
		retention:     opts.Retention,
		requesterOnly: opts.RequesterOnly,
		escalator:     opts.Escalator,
		recorder:      opts.Recorder,
		logger:        opts.Logger,
		now:           opts.Now,
	}
	if s.ttl <= 0 {
		s.ttl = 5 * time.Minute
	}
	if s.retention <= 0 {
		s.retention = time.Hour
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// TTL returns the configured action lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }

// Create registers a new action under a fresh token. Critical actions start
// in mfa_pending and still need an explicit approve before escalation.
func (s *Store) Create(req Request) (PendingAction, error) {
	now := s.now()
	status := StatusPending
	if req.Tier.RequiresMFA() {
		status = StatusMFAPending
		if s.escalator == nil {
			s.logger.Warn("Critical action registered without an MFA escalator", "tool", req.ToolName)
		}
	}
	e := &entry{action: PendingAction{
		ToolName:    req.ToolName,
		Arguments:   req.Arguments,
		Tier:        req.Tier,
		Description: req.Description,
		Impact:      req.Impact,
		Status:      status,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
		UpdatedAt:   now,
		RequestedBy: req.RequestedBy,
		Origin:      req.Origin,
	}}
	e.action = e.action.clone()

	s.mu.Lock()
	var token string
	for attempt := 0; ; attempt++ {
		t, err := newToken()
		if err != nil {
			s.mu.Unlock()
			return PendingAction{}, fmt.Errorf("generate token: %w", err)
		}
		if _, taken := s.entries[t]; !taken {
			token = t
			break
		}
		if attempt >= 3 {
			s.mu.Unlock()
			return PendingAction{}, fmt.Errorf("generate token: repeated collision")
		}
	}
	e.action.Token = token
	e.mu.Lock()
	s.entries[token] = e
	s.mu.Unlock()

	s.record(e, "")
	snap := e.action.clone()
	e.mu.Unlock()

	s.logger.Info("Pending action created",
		"token_id", Fingerprint(token), "tool", req.ToolName, "tier", req.Tier.String(),
		"requested_by", req.RequestedBy, "expires_at", snap.ExpiresAt)
	return snap, nil
}

// Get returns a snapshot of the action.
func (s *Store) Get(token string) (PendingAction, error) {
	e, ok := s.lookup(token)
	if !ok {
		return PendingAction{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.action.clone(), nil
}

// List returns snapshots ordered by creation time. With no statuses given
// every retained action is returned.
func (s *Store) List(statuses ...Status) []PendingAction {
	want := make(map[Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []PendingAction
	for _, e := range s.snapshotEntries() {
		e.mu.Lock()
		if len(want) == 0 || want[e.action.Status] {
			out = append(out, e.action.clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Approve records the human approval. Below critical tier the action becomes
// approved. For critical actions the MFA escalation starts in the background
// and the action stays mfa_pending until ResolveMFA.
func (s *Store) Approve(token, approver string) (PendingAction, error) {
	e, ok := s.lookup(token)
	if !ok {
		return PendingAction{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := s.checkOpen(e); err != nil {
		return e.action.clone(), err
	}
	a := &e.action
	// Actions with no recorded requester are unbound; entry points that can
	// create them reject requests without a user when requesterOnly is set.
	if s.requesterOnly && a.RequestedBy != "" && approver != a.RequestedBy {
		s.logger.Warn("Approval rejected: approver is not the requester",
			"token_id", Fingerprint(token), "approver", approver, "requested_by", a.RequestedBy)
		return a.clone(), ErrNotAuthorized
	}

	switch {
	case a.Status == StatusPending && !a.Tier.RequiresMFA():
		s.transition(e, StatusApproved, approver, "")
	case a.Status == StatusMFAPending && !a.UserApproved:
		a.UserApproved = true
		s.transition(e, StatusMFAPending, approver, ReasonAwaitingMFA)
		s.startEscalation(e)
	default:
		return a.clone(), ErrAlreadyResolved
	}
	return a.clone(), nil
}

// Deny rejects the action. Any identity may deny.
func (s *Store) Deny(token, approver string) (PendingAction, error) {
	e, ok := s.lookup(token)
	if !ok {
		return PendingAction{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := s.checkOpen(e); err != nil {
		return e.action.clone(), err
	}
	s.transition(e, StatusDenied, approver, ReasonUserDenied)
	s.stopEscalation(e)
	return e.action.clone(), nil
}

// ResolveMFA applies an escalation outcome. Only MFAApproved moves the action
// to mfa_approved; every other outcome denies it.
func (s *Store) ResolveMFA(token string, outcome MFAOutcome) (PendingAction, error) {
	e, ok := s.lookup(token)
	if !ok {
		return PendingAction{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := s.checkOpen(e); err != nil {
		s.stopEscalation(e)
		return e.action.clone(), err
	}
	a := &e.action
	if a.Status != StatusMFAPending || !a.UserApproved {
		return a.clone(), ErrAlreadyResolved
	}
	if outcome == MFAApproved {
		s.transition(e, StatusMFAApproved, a.ResolvedBy, "")
	} else {
		s.transition(e, StatusDenied, a.ResolvedBy, outcome.reason())
	}
	s.stopEscalation(e)
	s.logger.Info("MFA escalation resolved", "token_id", Fingerprint(token), "outcome", outcome.String())
	return a.clone(), nil
}

// AwaitMFA blocks until the escalation started by Approve has resolved, or
// ctx is done. It returns immediately when no escalation is outstanding.
func (s *Store) AwaitMFA(ctx context.Context, token string) (PendingAction, error) {
	e, ok := s.lookup(token)
	if !ok {
		return PendingAction{}, ErrNotFound
	}
	e.mu.Lock()
	done := e.mfaDone
	e.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return PendingAction{}, ctx.Err()
		}
	}
	return s.Get(token)
}

// Consume reserves an approved action for execution. The action moves to
// executed immediately; a failed run must be reported through Complete and
// can never be retried on the same token.
func (s *Store) Consume(token string) (PendingAction, error) {
	e, ok := s.lookup(token)
	if !ok {
		return PendingAction{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := s.checkOpen(e); err != nil {
		return e.action.clone(), err
	}
	a := &e.action
	ready := a.Status == StatusApproved && !a.Tier.RequiresMFA() ||
		a.Status == StatusMFAApproved && a.UserApproved
	if !ready {
		return a.clone(), ErrNotApproved
	}
	e.executing = true
	s.transition(e, StatusExecuted, a.ResolvedBy, "")
	return a.clone(), nil
}

// Complete closes a consumed action. A non-nil execErr moves it to failed.
func (s *Store) Complete(token string, execErr error) (PendingAction, error) {
	e, ok := s.lookup(token)
	if !ok {
		return PendingAction{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.executing {
		return e.action.clone(), ErrAlreadyResolved
	}
	e.executing = false
	if execErr != nil {
		s.transition(e, StatusFailed, e.action.ResolvedBy, execErr.Error())
	}
	return e.action.clone(), nil
}

// SweepExpired expires open actions past their deadline and evicts terminal
// actions older than the retention window. It returns the number expired.
func (s *Store) SweepExpired() int {
	now := s.now()
	expired := 0
	var evict []string
	for _, e := range s.snapshotEntries() {
		e.mu.Lock()
		a := &e.action
		switch {
		case !a.Status.Terminal() && !now.Before(a.ExpiresAt):
			s.expire(e)
			expired++
		case a.Status.Terminal() && !e.executing && now.Sub(a.UpdatedAt) >= s.retention:
			evict = append(evict, a.Token)
		}
		e.mu.Unlock()
	}
	if len(evict) > 0 {
		s.mu.Lock()
		for _, t := range evict {
			delete(s.entries, t)
		}
		s.mu.Unlock()
	}
	if expired > 0 || len(evict) > 0 {
		s.logger.Debug("Confirmation sweep", "expired", expired, "evicted", len(evict))
	}
	return expired
}

// RunSweeper calls SweepExpired every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepExpired()
		}
	}
}

// Close cancels outstanding escalations and waits for them to return.
func (s *Store) Close() {
	for _, e := range s.snapshotEntries() {
		e.mu.Lock()
		if e.cancelMFA != nil {
			e.cancelMFA()
		}
		e.mu.Unlock()
	}
	s.escalations.Wait()
}

// checkOpen rejects terminal actions and lazily expires overdue ones.
// Caller holds e.mu.
func (s *Store) checkOpen(e *entry) error {
	if e.action.Status.Terminal() {
		return ErrAlreadyResolved
	}
	if !s.now().Before(e.action.ExpiresAt) {
		s.expire(e)
		return ErrExpired
	}
	return nil
}

// expire moves an open action to expired. Caller holds e.mu.
func (s *Store) expire(e *entry) {
	reason := ReasonTTL
	if e.action.Status == StatusMFAPending && e.mfaDone != nil {
		reason = ReasonMFATimeout
	}
	s.transition(e, StatusExpired, e.action.ResolvedBy, reason)
	s.stopEscalation(e)
	s.logger.Info("Pending action expired", "token_id", Fingerprint(e.action.Token), "tool", e.action.ToolName)
}

// transition applies a status change and notifies the recorder. Caller
// holds e.mu.
func (s *Store) transition(e *entry, to Status, actor, reason string) {
	from := e.action.Status
	e.action.Status = to
	e.action.UpdatedAt = s.now()
	if actor != "" {
		e.action.ResolvedBy = actor
	}
	e.action.Reason = reason
	s.record(e, from)
}

func (s *Store) record(e *entry, from Status) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordTransition(e.action.clone(), from)
}

// startEscalation launches the MFA wait bounded by the action's expiry.
// Caller holds e.mu.
func (s *Store) startEscalation(e *entry) {
	ctx, cancel := context.WithTimeout(context.Background(), e.action.ExpiresAt.Sub(s.now()))
	e.cancelMFA = cancel
	e.mfaDone = make(chan struct{})
	snap := e.action.clone()

	s.escalations.Add(1)
	go func() {
		defer s.escalations.Done()
		defer cancel()
		outcome := MFAUnavailable
		if s.escalator != nil {
			outcome = s.escalator.Escalate(ctx, snap)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && outcome != MFAApproved {
			outcome = MFATimedOut
		}
		if _, err := s.ResolveMFA(snap.Token, outcome); err != nil {
			s.logger.Debug("MFA outcome discarded", "token_id", Fingerprint(snap.Token), "outcome", outcome.String(), "error", err)
		}
	}()
}

// stopEscalation cancels the MFA wait and wakes AwaitMFA callers. Caller
// holds e.mu.
func (s *Store) stopEscalation(e *entry) {
	if e.cancelMFA != nil {
		e.cancelMFA()
		e.cancelMFA = nil
	}
	if e.mfaDone != nil {
		select {
		case <-e.mfaDone:
		default:
			close(e.mfaDone)
		}
	}
}

func (s *Store) lookup(token string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[token]
	return e, ok
}

func (s *Store) snapshotEntries() []*entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

func newToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}
