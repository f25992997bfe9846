// Package unifi talks to a UniFi Network controller: session-authenticated
// reads and writes through the classic API, and token-header reads through
// the integration API.
package unifi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	headerCSRF        = "X-Csrf-Token"
	headerUpdatedCSRF = "X-Updated-Csrf-Token"
	loginPath         = "/api/auth/login"
	maxBodyBytes      = 8 << 20
)

// Options configures a Client.
type Options struct {
	BaseURL     string
	Username    string
	Password    string
	Site        string
	InsecureTLS bool
	Timeout     time.Duration
	HTTPClient  *http.Client
	// OnReauth is called each time an auth failure triggers a fresh login.
	OnReauth func()
	Logger   *slog.Logger
}

// Client is the session-authenticated controller client. It is safe for
// concurrent use; the live Session is swapped atomically.
type Client struct {
	baseURL  string
	site     string
	username string
	password string
	http     *http.Client
	onReauth func()
	logger   *slog.Logger

	session atomic.Pointer[Session]
	loginMu sync.Mutex
	gen     uint64 // guarded by loginMu
}

// NewClient creates a controller client. No request is made until first use.
func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		tr := http.DefaultTransport.(*http.Transport).Clone()
		if opts.InsecureTLS {
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed controllers
		}
		hc = &http.Client{Timeout: timeout, Transport: tr}
	}
	site := opts.Site
	if site == "" {
		site = "default"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		site:     site,
		username: opts.Username,
		password: opts.Password,
		http:     hc,
		onReauth: opts.OnReauth,
		logger:   logger,
	}
}

// Site returns the site name used for site-scoped paths.
func (c *Client) Site() string { return c.site }

// Authenticate logs in and replaces the current session.
func (c *Client) Authenticate(ctx context.Context) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	_, err := c.loginLocked(ctx)
	return err
}

// Read performs a GET on a site-relative path such as "/stat/device" and
// decodes the data field of the response envelope into out.
func (c *Client) Read(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, false, out)
}

// Write performs a mutating call on a site-relative path. The current CSRF
// token is attached. An auth failure triggers exactly one re-login and one
// retry; a second failure is returned as *AuthError.
func (c *Client) Write(ctx context.Context, method, path string, body, out any) error {
	return c.do(ctx, method, path, body, true, out)
}

func (c *Client) do(ctx context.Context, method, path string, body any, write bool, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		payload = b
	}

	sess, err := c.currentSession(ctx)
	if err != nil {
		return err
	}
	resp, data, err := c.send(ctx, sess, method, path, payload, write)
	if err != nil {
		return err
	}
	if isAuthStatus(resp.StatusCode) {
		c.logger.Info("Controller session rejected, re-authenticating", "method", method, "path", path, "status", resp.StatusCode)
		if sess, err = c.reauthenticate(ctx, sess); err != nil {
			return err
		}
		if resp, data, err = c.send(ctx, sess, method, path, payload, write); err != nil {
			return err
		}
		if isAuthStatus(resp.StatusCode) {
			return &AuthError{StatusCode: resp.StatusCode, Op: method + " " + path, Retried: true}
		}
	}
	if next := sess.withUpdates(resp); next != nil {
		c.session.CompareAndSwap(sess, next)
	}
	return decodeEnvelope(resp, data, method, path, out)
}

func (c *Client) send(ctx context.Context, sess *Session, method, path string, payload []byte, write bool) (*http.Response, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	url := c.baseURL + "/proxy/network/api/s/" + c.site + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, ck := range sess.Cookies {
		req.AddCookie(ck)
	}
	if write && sess.CSRFToken != "" {
		req.Header.Set(headerCSRF, sess.CSRFToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("unifi %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("unifi %s %s: read body: %w", method, path, err)
	}
	return resp, data, nil
}

// currentSession returns the live session, logging in lazily.
func (c *Client) currentSession(ctx context.Context) (*Session, error) {
	if s := c.session.Load(); s != nil {
		return s, nil
	}
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	if s := c.session.Load(); s != nil {
		return s, nil
	}
	return c.loginLocked(ctx)
}

// reauthenticate replaces stale with a fresh login unless a concurrent
// caller already did so.
func (c *Client) reauthenticate(ctx context.Context, stale *Session) (*Session, error) {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	if cur := c.session.Load(); cur != nil && cur.generation > stale.generation {
		return cur, nil
	}
	if c.onReauth != nil {
		c.onReauth()
	}
	return c.loginLocked(ctx)
}

// loginLocked performs the login request. Caller holds loginMu.
func (c *Client) loginLocked(ctx context.Context) (*Session, error) {
	if c.username == "" || c.password == "" {
		return nil, &AuthError{Op: "login"}
	}
	payload, _ := json.Marshal(map[string]any{
		"username": c.username,
		"password": c.password,
		"remember": true,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unifi login: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	switch {
	case resp.StatusCode == http.StatusOK:
	case isAuthStatus(resp.StatusCode) || resp.StatusCode == http.StatusBadRequest:
		c.logger.Error("Controller login rejected", "status", resp.StatusCode)
		return nil, &AuthError{StatusCode: resp.StatusCode, Op: "login"}
	default:
		return nil, &APIError{StatusCode: resp.StatusCode, Method: http.MethodPost, Path: loginPath}
	}

	c.gen++
	sess := &Session{
		Cookies:    resp.Cookies(),
		CSRFToken:  resp.Header.Get(headerCSRF),
		IssuedAt:   time.Now(),
		generation: c.gen,
	}
	if sess.CSRFToken == "" {
		sess.CSRFToken = resp.Header.Get(headerUpdatedCSRF)
	}
	c.session.Store(sess)
	c.logger.Info("Authenticated with controller", "site", c.site, "csrf", sess.CSRFToken != "")
	return sess, nil
}

type envelope struct {
	Meta struct {
		RC  string `json:"rc"`
		Msg string `json:"msg"`
	} `json:"meta"`
	Data json.RawMessage `json:"data"`
}

func decodeEnvelope(resp *http.Response, data []byte, method, path string, out any) error {
	var env envelope
	decodeErr := json.Unmarshal(data, &env)
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Method: method, Path: path}
		if decodeErr == nil {
			apiErr.Message = env.Meta.Msg
		}
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("unifi %s %s: decode: %w", method, path, decodeErr)
	}
	if env.Meta.RC == "error" {
		return &APIError{StatusCode: resp.StatusCode, Method: method, Path: path, Message: env.Meta.Msg}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("unifi %s %s: decode data: %w", method, path, err)
	}
	return nil
}
