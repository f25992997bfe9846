package approval

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KafClaw/NetClaw/internal/policy"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type escalatorFunc func(ctx context.Context, a PendingAction) MFAOutcome

func (f escalatorFunc) Escalate(ctx context.Context, a PendingAction) MFAOutcome { return f(ctx, a) }

func fixedEscalator(o MFAOutcome) Escalator {
	return escalatorFunc(func(context.Context, PendingAction) MFAOutcome { return o })
}

func newTestStore(t *testing.T, clock *fakeClock, esc Escalator) *Store {
	t.Helper()
	s := NewStore(Options{
		TTL:           5 * time.Minute,
		Retention:     time.Hour,
		RequesterOnly: true,
		Escalator:     esc,
		Now:           clock.Now,
	})
	t.Cleanup(s.Close)
	return s
}

func restartReq(tier policy.Tier) Request {
	return Request{
		ToolName:    "device_command",
		Arguments:   map[string]any{"mac": "aa:bb:cc:dd:ee:ff", "command": "restart"},
		Tier:        tier,
		Description: "Restart switch",
		Impact:      "Clients lose connectivity for ~60s",
		RequestedBy: "U123",
	}
}

func TestCreateAssignsTokenAndExpiry(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock, nil)

	a, err := s.Create(restartReq(policy.Dangerous))
	require.NoError(t, err)
	assert.Len(t, a.Token, 43)
	assert.Equal(t, StatusPending, a.Status)
	assert.Equal(t, clock.Now().Add(5*time.Minute), a.ExpiresAt)

	c, err := s.Create(restartReq(policy.Critical))
	require.NoError(t, err)
	assert.Equal(t, StatusMFAPending, c.Status)
	assert.False(t, c.UserApproved)
	assert.NotEqual(t, a.Token, c.Token)
}

func TestConcurrentCreateNeverCollides(t *testing.T) {
	s := newTestStore(t, newFakeClock(), nil)
	const n = 200
	tokens := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := s.Create(restartReq(policy.Moderate))
			if err == nil {
				tokens <- a.Token
			}
		}()
	}
	wg.Wait()
	close(tokens)
	seen := map[string]bool{}
	for tok := range tokens {
		require.False(t, seen[tok], "duplicate token")
		seen[tok] = true
	}
	assert.Len(t, seen, n)
}

func TestSnapshotsDoNotAliasStore(t *testing.T) {
	s := newTestStore(t, newFakeClock(), nil)
	a, err := s.Create(restartReq(policy.Dangerous))
	require.NoError(t, err)
	a.Arguments["command"] = "upgrade"
	a.Status = StatusApproved

	got, err := s.Get(a.Token)
	require.NoError(t, err)
	assert.Equal(t, "restart", got.Arguments["command"])
	assert.Equal(t, StatusPending, got.Status)
}

func TestApproveConsumeComplete(t *testing.T) {
	s := newTestStore(t, newFakeClock(), nil)
	a, err := s.Create(restartReq(policy.Dangerous))
	require.NoError(t, err)

	_, err = s.Consume(a.Token)
	require.ErrorIs(t, err, ErrNotApproved)

	approved, err := s.Approve(a.Token, "U123")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)
	assert.Equal(t, "U123", approved.ResolvedBy)

	consumed, err := s.Consume(a.Token)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, consumed.Status)

	done, err := s.Complete(a.Token, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, done.Status)

	for _, op := range []func() error{
		func() error { _, err := s.Approve(a.Token, "U123"); return err },
		func() error { _, err := s.Deny(a.Token, "U123"); return err },
		func() error { _, err := s.Consume(a.Token); return err },
		func() error { _, err := s.Complete(a.Token, nil); return err },
	} {
		assert.ErrorIs(t, op(), ErrAlreadyResolved)
	}
}

func TestFailedExecutionIsTerminal(t *testing.T) {
	s := newTestStore(t, newFakeClock(), nil)
	a, _ := s.Create(restartReq(policy.Dangerous))
	_, err := s.Approve(a.Token, "U123")
	require.NoError(t, err)
	_, err = s.Consume(a.Token)
	require.NoError(t, err)

	failed, err := s.Complete(a.Token, errors.New("controller returned 500"))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "controller returned 500", failed.Reason)

	_, err = s.Approve(a.Token, "U123")
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	_, err = s.Consume(a.Token)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestUnknownToken(t *testing.T) {
	s := newTestStore(t, newFakeClock(), nil)
	_, err := s.Approve("nope", "U1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Deny("nope", "U1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Consume("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRequesterOnlyApproval(t *testing.T) {
	s := newTestStore(t, newFakeClock(), nil)
	a, _ := s.Create(restartReq(policy.Moderate))

	_, err := s.Approve(a.Token, "U999")
	require.ErrorIs(t, err, ErrNotAuthorized)

	got, _ := s.Get(a.Token)
	assert.Equal(t, StatusPending, got.Status)

	denied, err := s.Deny(a.Token, "U999")
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, denied.Status)
	assert.Equal(t, ReasonUserDenied, denied.Reason)
}

func TestDenyTwiceFails(t *testing.T) {
	s := newTestStore(t, newFakeClock(), nil)
	a, _ := s.Create(restartReq(policy.Moderate))
	_, err := s.Deny(a.Token, "U123")
	require.NoError(t, err)
	_, err = s.Deny(a.Token, "U123")
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestConcurrentResolutionHasOneWinner(t *testing.T) {
	s := newTestStore(t, newFakeClock(), nil)
	for round := 0; round < 50; round++ {
		a, err := s.Create(restartReq(policy.Dangerous))
		require.NoError(t, err)
		_, err = s.Approve(a.Token, "U123")
		require.NoError(t, err)

		var wins, resolved int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		ops := []func() error{
			func() error { _, err := s.Consume(a.Token); return err },
			func() error { _, err := s.Consume(a.Token); return err },
			func() error { _, err := s.Deny(a.Token, "U123"); return err },
			func() error { _, err := s.Approve(a.Token, "U123"); return err },
		}
		for _, op := range ops {
			wg.Add(1)
			go func(op func() error) {
				defer wg.Done()
				<-start
				switch err := op(); {
				case err == nil:
					atomic.AddInt32(&wins, 1)
				case errors.Is(err, ErrAlreadyResolved):
					atomic.AddInt32(&resolved, 1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(op)
		}
		close(start)
		wg.Wait()
		// Approve on an already approved action can never win.
		assert.Equal(t, int32(1), wins, "round %d", round)
		assert.Equal(t, int32(3), resolved, "round %d", round)
	}
}

func TestExpiredActionNeverRecovers(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock, nil)
	a, _ := s.Create(restartReq(policy.Moderate))

	clock.Advance(5*time.Minute + time.Second)
	assert.Equal(t, 1, s.SweepExpired())

	got, _ := s.Get(a.Token)
	assert.Equal(t, StatusExpired, got.Status)
	assert.Equal(t, ReasonTTL, got.Reason)

	_, err := s.Approve(a.Token, "U123")
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	_, err = s.Deny(a.Token, "U123")
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	_, err = s.Consume(a.Token)
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	got, _ = s.Get(a.Token)
	assert.Equal(t, StatusExpired, got.Status)
}

func TestLazyExpiryOnApprove(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock, nil)
	a, _ := s.Create(restartReq(policy.Moderate))
	clock.Advance(6 * time.Minute)

	_, err := s.Approve(a.Token, "U123")
	require.ErrorIs(t, err, ErrExpired)
	got, _ := s.Get(a.Token)
	assert.Equal(t, StatusExpired, got.Status)
}

func TestSweepEvictsAfterRetention(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock, nil)
	a, _ := s.Create(restartReq(policy.Moderate))
	_, err := s.Deny(a.Token, "U123")
	require.NoError(t, err)
	open, _ := s.Create(restartReq(policy.Moderate))

	clock.Advance(30 * time.Minute)
	s.SweepExpired()
	_, err = s.Get(a.Token)
	require.NoError(t, err, "terminal action kept during retention")

	clock.Advance(31 * time.Minute)
	s.SweepExpired()
	_, err = s.Get(a.Token)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.Get(open.Token)
	require.NoError(t, err, "expired action retained for audit")
	assert.Equal(t, StatusExpired, got.Status)
}

func TestCriticalRequiresMFAApproval(t *testing.T) {
	s := newTestStore(t, newFakeClock(), fixedEscalator(MFAApproved))
	a, _ := s.Create(restartReq(policy.Critical))

	_, err := s.Consume(a.Token)
	require.ErrorIs(t, err, ErrNotApproved)

	_, err = s.ResolveMFA(a.Token, MFAApproved)
	require.ErrorIs(t, err, ErrAlreadyResolved, "mfa cannot resolve before the user approves")

	approved, err := s.Approve(a.Token, "U123")
	require.NoError(t, err)
	assert.Equal(t, StatusMFAPending, approved.Status)
	assert.True(t, approved.UserApproved)

	_, err = s.Approve(a.Token, "U123")
	require.ErrorIs(t, err, ErrAlreadyResolved)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := s.AwaitMFA(ctx, a.Token)
	require.NoError(t, err)
	assert.Equal(t, StatusMFAApproved, got.Status)
	require.NoError(t, got.MFAErr())

	consumed, err := s.Consume(a.Token)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, consumed.Status)
}

func TestCriticalMFADeniedNeverExecutes(t *testing.T) {
	for _, tc := range []struct {
		outcome MFAOutcome
		reason  string
		err     error
	}{
		{MFADenied, ReasonMFADenied, ErrMFADenied},
		{MFATimedOut, ReasonMFATimeout, ErrMFATimedOut},
		{MFAUnavailable, ReasonMFAUnavailable, ErrMFADenied},
	} {
		t.Run(tc.outcome.String(), func(t *testing.T) {
			s := newTestStore(t, newFakeClock(), fixedEscalator(tc.outcome))
			a, _ := s.Create(restartReq(policy.Critical))
			_, err := s.Approve(a.Token, "U123")
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			got, err := s.AwaitMFA(ctx, a.Token)
			require.NoError(t, err)
			assert.Equal(t, StatusDenied, got.Status)
			assert.Equal(t, tc.reason, got.Reason)
			assert.ErrorIs(t, got.MFAErr(), tc.err)

			_, err = s.Consume(a.Token)
			assert.ErrorIs(t, err, ErrAlreadyResolved)
		})
	}
}

func TestCriticalWithoutEscalatorFailsClosed(t *testing.T) {
	s := newTestStore(t, newFakeClock(), nil)
	a, _ := s.Create(restartReq(policy.Critical))
	_, err := s.Approve(a.Token, "U123")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := s.AwaitMFA(ctx, a.Token)
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, got.Status)
	assert.Equal(t, ReasonMFAUnavailable, got.Reason)
}

func TestExpiryCancelsOutstandingMFA(t *testing.T) {
	clock := newFakeClock()
	cancelled := make(chan struct{})
	esc := escalatorFunc(func(ctx context.Context, _ PendingAction) MFAOutcome {
		<-ctx.Done()
		close(cancelled)
		return MFACancelled
	})
	s := newTestStore(t, clock, esc)
	a, _ := s.Create(restartReq(policy.Critical))
	_, err := s.Approve(a.Token, "U123")
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	assert.Equal(t, 1, s.SweepExpired())

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("escalation was not cancelled on expiry")
	}
	got, err := s.AwaitMFA(context.Background(), a.Token)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
	assert.ErrorIs(t, got.MFAErr(), ErrExpired)
}

func TestDenyDuringMFACancelsEscalation(t *testing.T) {
	started := make(chan struct{})
	esc := escalatorFunc(func(ctx context.Context, _ PendingAction) MFAOutcome {
		close(started)
		<-ctx.Done()
		return MFACancelled
	})
	s := newTestStore(t, newFakeClock(), esc)
	a, _ := s.Create(restartReq(policy.Critical))
	_, err := s.Approve(a.Token, "U123")
	require.NoError(t, err)
	<-started

	_, err = s.Deny(a.Token, "U123")
	require.NoError(t, err)

	got, err := s.AwaitMFA(context.Background(), a.Token)
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, got.Status)
	assert.Equal(t, ReasonUserDenied, got.Reason)
}

func TestRecorderSeesEveryTransition(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	rec := RecorderFunc(func(a PendingAction, from Status) {
		mu.Lock()
		seen = append(seen, string(from)+">"+string(a.Status))
		mu.Unlock()
	})
	s := NewStore(Options{Recorder: MultiRecorder{rec, nil}})
	a, _ := s.Create(restartReq(policy.Dangerous))
	_, _ = s.Approve(a.Token, "U123")
	_, _ = s.Consume(a.Token)
	_, _ = s.Complete(a.Token, errors.New("boom"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{">pending", "pending>approved", "approved>executed", "executed>failed"}, seen)
}

func TestListFiltersByStatus(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock, nil)
	a, _ := s.Create(restartReq(policy.Moderate))
	clock.Advance(time.Second)
	b, _ := s.Create(restartReq(policy.Moderate))
	_, _ = s.Deny(b.Token, "U123")

	all := s.List()
	require.Len(t, all, 2)
	assert.Equal(t, a.Token, all[0].Token)

	pending := s.List(StatusPending)
	require.Len(t, pending, 1)
	assert.Equal(t, a.Token, pending[0].Token)
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	s := NewStore(Options{TTL: time.Millisecond})
	a, _ := s.Create(restartReq(policy.Moderate))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunSweeper(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, _ := s.Get(a.Token)
		return got.Status == StatusExpired
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestFingerprintIsStable(t *testing.T) {
	assert.Equal(t, Fingerprint("abc"), Fingerprint("abc"))
	assert.Len(t, Fingerprint("abc"), 12)
	assert.NotEqual(t, Fingerprint("abc"), Fingerprint("abd"))
}
