package unifi

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Site is an integration API site.
type Site struct {
	ID                string `json:"id"`
	InternalReference string `json:"internalReference"`
	Name              string `json:"name"`
}

// SiteDevice is an integration API device.
type SiteDevice struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Model              string `json:"model"`
	MACAddress         string `json:"macAddress"`
	IPAddress          string `json:"ipAddress"`
	State              string `json:"state"`
	Version            string `json:"version"`
	DisplayableVersion string `json:"displayableVersion"`
	Upgradable         bool   `json:"upgradable"`
	Upgradeable        bool   `json:"upgradeable"`
}

// FirmwareVersion returns whichever version field the controller filled.
func (d SiteDevice) FirmwareVersion() string {
	if d.Version != "" {
		return d.Version
	}
	if d.DisplayableVersion != "" {
		return d.DisplayableVersion
	}
	return "?"
}

// UpgradeAvailable accepts both spellings the API has used.
func (d SiteDevice) UpgradeAvailable() bool { return d.Upgradable || d.Upgradeable }

// IntegrationClient reads through the integration API with an X-API-KEY
// header. It never writes.
type IntegrationClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewIntegrationClient creates a token-header client.
func NewIntegrationClient(opts Options, token string) *IntegrationClient {
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
	return &IntegrationClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   token,
		http:    hc,
	}
}

// Sites lists every site.
func (c *IntegrationClient) Sites(ctx context.Context) ([]Site, error) {
	var out []Site
	if err := c.get(ctx, "/sites", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Devices lists devices of one site.
func (c *IntegrationClient) Devices(ctx context.Context, siteID string) ([]SiteDevice, error) {
	var out []SiteDevice
	if err := c.get(ctx, "/sites/"+url.PathEscape(siteID)+"/devices", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SiteByReference finds a site by internal reference, falling back to the
// first site.
func (c *IntegrationClient) SiteByReference(ctx context.Context, ref string) (Site, error) {
	sites, err := c.Sites(ctx)
	if err != nil {
		return Site{}, err
	}
	for _, s := range sites {
		if s.InternalReference == ref {
			return s, nil
		}
	}
	if len(sites) > 0 {
		return sites[0], nil
	}
	return Site{}, fmt.Errorf("site %q: %w", ref, ErrNotFound)
}

func (c *IntegrationClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/proxy/network/integration/v1"+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-KEY", c.token)
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("unifi integration GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if isAuthStatus(resp.StatusCode) {
		return &AuthError{StatusCode: resp.StatusCode, Op: "GET " + path}
	}
	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Method: http.MethodGet, Path: path}
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unifi integration GET %s: decode: %w", path, err)
	}
	if len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
