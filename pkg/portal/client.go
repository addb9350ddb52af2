package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/deebot-t8/deebot-t8-go/pkg/auth"
)

// Well-known portal endpoint paths.
const (
	// UserPath is the user management endpoint.
	UserPath = "users/user.do"

	// AppPath is the app service endpoint (device listing).
	AppPath = "appsvr/app.do"

	// DeviceManagerPath is the IoT device command endpoint.
	DeviceManagerPath = "iot/devmanager.do"
)

// Config configures a portal Client.
type Config struct {
	// DeviceID is the client device id; its first eight characters form
	// the auth resource id.
	DeviceID string

	// Country is the lowercase two-letter account country code.
	Country string

	// Continent is the lowercase continent code used to select the
	// portal host (e.g. "eu", "na", "ww").
	Continent string

	// HTTPClient is the underlying HTTP client.
	// If nil, a client with a 30 second timeout is used.
	HTTPClient *http.Client

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// Client issues portal requests.
type Client struct {
	deviceID   string
	country    string
	continent  string
	httpClient *http.Client
	logger     *slog.Logger

	// baseURL overrides the derived portal URL in tests.
	baseURL string
}

// NewClient creates a portal client.
func NewClient(config Config) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		deviceID:   config.DeviceID,
		country:    config.Country,
		continent:  config.Continent,
		httpClient: httpClient,
		logger:     config.Logger,
	}
}

// SetBaseURL overrides the portal base URL. Intended for tests.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = base
}

func (c *Client) portalURL(path string) string {
	base := c.baseURL
	if base == "" {
		subdomain := "portal-" + c.continent
		if c.country == "cn" {
			subdomain = "portal"
		}
		base = fmt.Sprintf("https://%s.ecouser.net/api", subdomain)
	}
	return base + "/" + path
}

// Do issues a portal POST request. When creds is non-nil the request
// carries the portal auth envelope. The raw JSON response body is
// returned for the caller to decode.
func (c *Client) Do(ctx context.Context, path string, params map[string]any, query url.Values, creds *auth.Credentials) (json.RawMessage, error) {
	if creds != nil {
		merged := make(map[string]any, len(params)+1)
		for k, v := range params {
			merged[k] = v
		}
		merged["auth"] = map[string]any{
			"with":     "users",
			"userid":   creds.UserID,
			"realm":    auth.Realm,
			"token":    creds.AccessToken,
			"resource": shortResource(c.deviceID),
		}
		params = merged
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	reqURL := c.portalURL(path)
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	c.debugLog("portal request", "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("portal: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("portal: unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

// Post issues an unauthenticated portal request and decodes the response
// into a generic map. It satisfies auth.PortalPoster.
func (c *Client) Post(ctx context.Context, path string, params map[string]any) (map[string]any, error) {
	raw, err := c.Do(ctx, path, params, nil, nil)
	if err != nil {
		return nil, err
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("portal: malformed response: %w", err)
	}
	return decoded, nil
}

func (c *Client) debugLog(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

func shortResource(deviceID string) string {
	if len(deviceID) > 8 {
		return deviceID[:8]
	}
	return deviceID
}

// Compile-time check: *Client implements auth.PortalPoster.
var _ auth.PortalPoster = (*Client)(nil)
