package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KafClaw/NetClaw/internal/approval"
	"github.com/KafClaw/NetClaw/internal/policy"
	"github.com/KafClaw/NetClaw/internal/tools"
	"github.com/KafClaw/NetClaw/internal/unifi"
)

// countingTool records every Execute call; nothing else touches the backend.
type countingTool struct {
	name  string
	out   string
	err   error
	calls atomic.Int32
}

func (t *countingTool) Name() string               { return t.name }
func (t *countingTool) Description() string        { return "test tool " + t.name }
func (t *countingTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (t *countingTool) Execute(context.Context, map[string]any) (string, error) {
	t.calls.Add(1)
	return t.out, t.err
}

// countingStore wraps a real store and counts Create calls.
type countingStore struct {
	*approval.Store
	creates atomic.Int32
}

func (s *countingStore) Create(req approval.Request) (approval.PendingAction, error) {
	s.creates.Add(1)
	return s.Store.Create(req)
}

type escalatorFunc func(ctx context.Context, a approval.PendingAction) approval.MFAOutcome

func (f escalatorFunc) Escalate(ctx context.Context, a approval.PendingAction) approval.MFAOutcome {
	return f(ctx, a)
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
	gaps     []string
}

func (o *recordingObserver) ToolCall(tool string, tier policy.Tier, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, tool+":"+tier.String()+":"+outcome)
}

func (o *recordingObserver) ClassificationGap(tool string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gaps = append(o.gaps, tool)
}

var testRules = map[string]policy.Rule{
	"read":     {Tier: policy.Safe},
	"tweak":    {Tier: policy.Moderate},
	"reboot":   {Tier: policy.Dangerous},
	"firmware": {Tier: policy.Critical},
	"multi": {OpField: "command", Ops: map[string]policy.Tier{
		"look":  policy.Safe,
		"break": policy.Critical,
	}},
}

type harness struct {
	exec     *Executor
	store    *countingStore
	tools    map[string]*countingTool
	observer *recordingObserver
}

func newHarness(t *testing.T, esc approval.Escalator, extra ...*countingTool) *harness {
	t.Helper()
	h := &harness{
		store:    &countingStore{Store: approval.NewStore(approval.Options{TTL: time.Minute, RequesterOnly: true, Escalator: esc})},
		tools:    map[string]*countingTool{},
		observer: &recordingObserver{},
	}
	t.Cleanup(h.store.Close)
	reg := tools.NewRegistry()
	for _, name := range []string{"read", "tweak", "reboot", "firmware", "multi"} {
		ct := &countingTool{name: name, out: name + " ok"}
		h.tools[name] = ct
		reg.Register(ct)
	}
	for _, ct := range extra {
		h.tools[ct.name] = ct
		reg.Register(ct)
	}
	h.exec = New(Options{
		Registry:   reg,
		Classifier: policy.NewClassifier(testRules),
		Store:      h.store,
		Observer:   h.observer,
	})
	return h
}

func TestSafeToolNeverCreatesAction(t *testing.T) {
	h := newHarness(t, nil)

	for _, call := range []Call{
		{Tool: "read"},
		{Tool: "multi", Arguments: map[string]any{"command": "look"}},
	} {
		res := h.exec.Execute(context.Background(), call)
		ans, ok := res.(Answer)
		require.True(t, ok, "expected Answer, got %#v", res)
		assert.Equal(t, call.Tool+" ok", ans.Text)
	}
	assert.Zero(t, h.store.creates.Load())
	assert.Empty(t, h.store.List())
	assert.EqualValues(t, 1, h.tools["read"].calls.Load())
	assert.EqualValues(t, 1, h.tools["multi"].calls.Load())
}

func TestGatedToolNeverRunsDirectly(t *testing.T) {
	h := newHarness(t, nil)

	for _, name := range []string{"tweak", "reboot", "firmware"} {
		res := h.exec.Execute(context.Background(), Call{Tool: name, RequestedBy: "alice"})
		nc, ok := res.(NeedsConfirmation)
		require.True(t, ok, "%s: expected NeedsConfirmation, got %#v", name, res)
		assert.Equal(t, name, nc.Action.ToolName)
		assert.NotEmpty(t, nc.Action.Token)
		assert.Equal(t, "alice", nc.Action.RequestedBy)
		assert.Zero(t, h.tools[name].calls.Load(), "%s must not run before approval", name)
	}
	assert.EqualValues(t, 3, h.store.creates.Load())

	multi := h.exec.Execute(context.Background(), Call{Tool: "multi", Arguments: map[string]any{"command": "break"}})
	nc, ok := multi.(NeedsConfirmation)
	require.True(t, ok)
	assert.Equal(t, policy.Critical, nc.Action.Tier)
	assert.Equal(t, approval.StatusMFAPending, nc.Action.Status)
	assert.Zero(t, h.tools["multi"].calls.Load())
}

func TestClassificationGapFailsClosed(t *testing.T) {
	h := newHarness(t, nil, &countingTool{name: "unmapped"})

	res := h.exec.Execute(context.Background(), Call{Tool: "unmapped"})
	nc, ok := res.(NeedsConfirmation)
	require.True(t, ok, "expected NeedsConfirmation, got %#v", res)
	assert.Equal(t, policy.Dangerous, nc.Action.Tier)
	assert.Zero(t, h.tools["unmapped"].calls.Load())

	res = h.exec.Execute(context.Background(), Call{Tool: "multi", Arguments: map[string]any{"command": "dance"}})
	nc, ok = res.(NeedsConfirmation)
	require.True(t, ok)
	assert.Equal(t, policy.Dangerous, nc.Action.Tier)
	assert.Equal(t, []string{"unmapped", "multi"}, h.observer.gaps)
}

func TestUnknownToolIsFailure(t *testing.T) {
	h := newHarness(t, nil)
	res := h.exec.Execute(context.Background(), Call{Tool: "does_not_exist"})
	f, ok := res.(Failure)
	require.True(t, ok)
	assert.Equal(t, FailureUnknownTool, f.Kind)
	assert.Zero(t, h.store.creates.Load())
}

func TestSafeToolErrors(t *testing.T) {
	h := newHarness(t, nil)

	h.tools["read"].err = errors.New("controller unreachable")
	f, ok := h.exec.Execute(context.Background(), Call{Tool: "read"}).(Failure)
	require.True(t, ok)
	assert.Equal(t, FailureTool, f.Kind)
	assert.Contains(t, f.Detail, "controller unreachable")

	h.tools["read"].err = &unifi.AuthError{StatusCode: 401, Op: "GET /stat/device", Retried: true}
	f, ok = h.exec.Execute(context.Background(), Call{Tool: "read"}).(Failure)
	require.True(t, ok)
	assert.Equal(t, FailureAuth, f.Kind)
}

func TestConfirmRunsOnce(t *testing.T) {
	h := newHarness(t, nil)
	nc := h.exec.Execute(context.Background(), Call{Tool: "reboot", RequestedBy: "alice"}).(NeedsConfirmation)

	res := h.exec.Confirm(context.Background(), nc.Action.Token, "alice")
	ans, ok := res.(Answer)
	require.True(t, ok, "expected Answer, got %#v", res)
	assert.Equal(t, "reboot ok", ans.Text)
	assert.EqualValues(t, 1, h.tools["reboot"].calls.Load())

	got, err := h.store.Get(nc.Action.Token)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusExecuted, got.Status)

	again := h.exec.Confirm(context.Background(), nc.Action.Token, "alice")
	f, ok := again.(Failure)
	require.True(t, ok)
	assert.Equal(t, FailureAlreadyResolved, f.Kind)
	assert.EqualValues(t, 1, h.tools["reboot"].calls.Load())
}

func TestConfirmByOtherUserRejected(t *testing.T) {
	h := newHarness(t, nil)
	nc := h.exec.Execute(context.Background(), Call{Tool: "tweak", RequestedBy: "alice"}).(NeedsConfirmation)

	f, ok := h.exec.Confirm(context.Background(), nc.Action.Token, "mallory").(Failure)
	require.True(t, ok)
	assert.Equal(t, FailureNotAuthorized, f.Kind)
	assert.Zero(t, h.tools["tweak"].calls.Load())
}

func TestFailedExecutionIsTerminal(t *testing.T) {
	h := newHarness(t, nil)
	h.tools["reboot"].err = errors.New("device offline")
	nc := h.exec.Execute(context.Background(), Call{Tool: "reboot"}).(NeedsConfirmation)

	f, ok := h.exec.Confirm(context.Background(), nc.Action.Token, "bob").(Failure)
	require.True(t, ok)
	assert.Equal(t, FailureExecution, f.Kind)

	got, err := h.store.Get(nc.Action.Token)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusFailed, got.Status)
	assert.Equal(t, "device offline", got.Reason)

	h.tools["reboot"].err = nil
	f, ok = h.exec.RunApproved(context.Background(), nc.Action.Token).(Failure)
	require.True(t, ok)
	assert.Equal(t, FailureAlreadyResolved, f.Kind)
	assert.EqualValues(t, 1, h.tools["reboot"].calls.Load())
}

func TestRunApprovedRequiresApproval(t *testing.T) {
	h := newHarness(t, nil)
	nc := h.exec.Execute(context.Background(), Call{Tool: "tweak"}).(NeedsConfirmation)

	f, ok := h.exec.RunApproved(context.Background(), nc.Action.Token).(Failure)
	require.True(t, ok)
	assert.Equal(t, FailureNotApproved, f.Kind)
	assert.Zero(t, h.tools["tweak"].calls.Load())
}

func TestCriticalRequiresMFA(t *testing.T) {
	cases := []struct {
		name    string
		outcome approval.MFAOutcome
		want    FailureKind
	}{
		{"denied", approval.MFADenied, FailureMFADenied},
		{"timed out", approval.MFATimedOut, FailureMFATimedOut},
		{"unavailable", approval.MFAUnavailable, FailureMFADenied},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, escalatorFunc(func(context.Context, approval.PendingAction) approval.MFAOutcome {
				return tc.outcome
			}))
			nc := h.exec.Execute(context.Background(), Call{Tool: "firmware"}).(NeedsConfirmation)

			f, ok := h.exec.Confirm(context.Background(), nc.Action.Token, "").(Failure)
			require.True(t, ok)
			assert.Equal(t, tc.want, f.Kind)
			assert.Zero(t, h.tools["firmware"].calls.Load(), "critical action must not run without MFA")
		})
	}
}

func TestCriticalRunsAfterMFAApproval(t *testing.T) {
	var seen atomic.Int32
	h := newHarness(t, escalatorFunc(func(_ context.Context, a approval.PendingAction) approval.MFAOutcome {
		seen.Add(1)
		return approval.MFAApproved
	}))
	nc := h.exec.Execute(context.Background(), Call{Tool: "firmware"}).(NeedsConfirmation)

	ans, ok := h.exec.Confirm(context.Background(), nc.Action.Token, "").(Answer)
	require.True(t, ok)
	assert.Equal(t, "firmware ok", ans.Text)
	assert.EqualValues(t, 1, seen.Load())
	assert.EqualValues(t, 1, h.tools["firmware"].calls.Load())
}

func TestConfirmStopsWaitingWhenContextEnds(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, escalatorFunc(func(ctx context.Context, _ approval.PendingAction) approval.MFAOutcome {
		select {
		case <-release:
			return approval.MFAApproved
		case <-ctx.Done():
			return approval.MFACancelled
		}
	}))
	defer close(release)
	nc := h.exec.Execute(context.Background(), Call{Tool: "firmware"}).(NeedsConfirmation)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	f, ok := h.exec.Confirm(ctx, nc.Action.Token, "").(Failure)
	require.True(t, ok)
	assert.Equal(t, FailureCancelled, f.Kind)
	assert.Zero(t, h.tools["firmware"].calls.Load())
}

func TestDeny(t *testing.T) {
	h := newHarness(t, nil)
	nc := h.exec.Execute(context.Background(), Call{Tool: "reboot", RequestedBy: "alice"}).(NeedsConfirmation)

	_, ok := h.exec.Deny(nc.Action.Token, "bob").(Answer)
	require.True(t, ok)

	f, ok := h.exec.Confirm(context.Background(), nc.Action.Token, "alice").(Failure)
	require.True(t, ok)
	assert.Equal(t, FailureAlreadyResolved, f.Kind)
	assert.Zero(t, h.tools["reboot"].calls.Load())
}

func TestConcurrentConfirmExecutesOnce(t *testing.T) {
	h := newHarness(t, nil)
	nc := h.exec.Execute(context.Background(), Call{Tool: "reboot"}).(NeedsConfirmation)

	var wg sync.WaitGroup
	var answers atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := h.exec.Confirm(context.Background(), nc.Action.Token, "").(Answer); ok {
				answers.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, answers.Load())
	assert.EqualValues(t, 1, h.tools["reboot"].calls.Load())
}

func TestFailureFrom(t *testing.T) {
	cases := map[error]FailureKind{
		approval.ErrNotFound:                        FailureNotFound,
		approval.ErrExpired:                         FailureExpired,
		approval.ErrAlreadyResolved:                 FailureAlreadyResolved,
		approval.ErrMFATimedOut:                     FailureMFATimedOut,
		&unifi.AuthError{Op: "login"}:               FailureAuth,
		context.Canceled:                            FailureCancelled,
		errors.New("something else"):                FailureTool,
		Failure{Kind: FailureProvider, Detail: "x"}: FailureProvider,
	}
	for err, want := range cases {
		assert.Equal(t, want, FailureFrom(err, FailureTool).Kind, "error %v", err)
	}
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "hello", Describe(Answer{Text: "hello"}))
	assert.Equal(t, "Error: provider_error: boom", Describe(Failure{Kind: FailureProvider, Detail: "boom"}))

	action := approval.PendingAction{Token: "tok", Tier: policy.Dangerous, Description: "Restart device", Impact: "Reboots", ExpiresAt: time.Now()}
	out := Describe(NeedsConfirmation{Action: action})
	assert.Contains(t, out, "Confirmation required (dangerous): Restart device")
	assert.Contains(t, out, "#"+approval.Fingerprint("tok"))
}
