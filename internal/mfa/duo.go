package mfa

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	duoapi "github.com/duosecurity/duo_api_golang"
	"github.com/duosecurity/duo_api_golang/authapi"
)

// ErrPushTimeout is returned when the provider itself reports that the push
// expired unanswered.
var ErrPushTimeout = errors.New("push timed out")

const duoUserAgent = "netclaw"

// DuoClient sends push approvals through the Duo Auth API v2.
type DuoClient struct {
	api          *authapi.AuthApi
	PollInterval time.Duration
}

// NewDuoClient creates a client for the given credentials. Options are
// passed to the underlying Duo API client.
func NewDuoClient(ikey, skey, host string, opts ...duoapi.DuoApiOption) *DuoClient {
	opts = append([]duoapi.DuoApiOption{duoapi.SetTimeout(30 * time.Second)}, opts...)
	return &DuoClient{
		api:          authapi.NewAuthApi(*duoapi.NewDuoApi(ikey, skey, host, duoUserAgent, opts...)),
		PollInterval: 2 * time.Second,
	}
}

// PushApproval starts an async push and polls auth_status until the user
// answers or ctx is done.
func (c *DuoClient) PushApproval(ctx context.Context, identity string, info PushInfo) (bool, error) {
	options := []func(*url.Values){
		authapi.AuthUsername(identity),
		authapi.AuthDevice("auto"),
		authapi.AuthAsync(),
	}
	if info.Type != "" {
		options = append(options, func(v *url.Values) { v.Set("type", info.Type) })
	}
	if len(info.Summary) > 0 {
		pi := url.Values{}
		for k, v := range info.Summary {
			if v != "" {
				pi.Set(k, v)
			}
		}
		options = append(options, authapi.AuthPushinfo(pi.Encode()))
	}

	started, err := await(ctx, func() (*authapi.AuthResult, error) {
		return c.api.Auth("push", options...)
	})
	if err != nil {
		return false, fmt.Errorf("duo auth: %w", err)
	}
	if err := statError(started.StatResult); err != nil {
		return false, fmt.Errorf("duo auth: %w", err)
	}
	txid := started.Response.Txid
	if txid == "" {
		return false, errors.New("duo auth: missing txid")
	}

	interval := c.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	for {
		st, err := await(ctx, func() (*authapi.AuthStatusResult, error) {
			return c.api.AuthStatus(txid)
		})
		if err != nil {
			return false, fmt.Errorf("duo auth_status: %w", err)
		}
		if err := statError(st.StatResult); err != nil {
			return false, fmt.Errorf("duo auth_status: %w", err)
		}
		switch st.Response.Result {
		case "allow":
			return true, nil
		case "deny":
			if st.Response.Status == "timeout" {
				return false, ErrPushTimeout
			}
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// await runs a blocking Duo call and gives up when ctx is done. The call
// itself is bounded by the client timeout.
func await[T any](ctx context.Context, call func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := call()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

func statError(s duoapi.StatResult) error {
	if s.Stat == "OK" {
		return nil
	}
	var code int32
	if s.Code != nil {
		code = *s.Code
	}
	msg, detail := "", ""
	if s.Message != nil {
		msg = *s.Message
	}
	if s.Message_Detail != nil {
		detail = *s.Message_Detail
	}
	return fmt.Errorf("%s %d %s %s", s.Stat, code, msg, detail)
}
