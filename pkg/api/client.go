package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/deebot-t8/deebot-t8-go/pkg/auth"
	"github.com/deebot-t8/deebot-t8-go/pkg/portal"
)

// CredentialSource supplies valid portal credentials on demand. It is
// satisfied by *auth.Authenticator.
type CredentialSource interface {
	Authenticate(ctx context.Context, force bool) (auth.Credentials, error)
}

// PortalDoer issues portal requests. It is satisfied by *portal.Client.
type PortalDoer interface {
	Do(ctx context.Context, path string, params map[string]any, query url.Values, creds *auth.Credentials) (json.RawMessage, error)
}

// Response is a decoded device command reply.
type Response struct {
	// Header carries device metadata echoed with every reply.
	Header ResponseHeader `json:"header"`

	// Body is the command result payload.
	Body ResponseBody `json:"body"`
}

// ResponseHeader carries device firmware/hardware metadata.
type ResponseHeader struct {
	FwVersion string `json:"fwVer"`
	HwVersion string `json:"hwVer"`
}

// ResponseBody is the command result payload. Data is left raw for the
// per-command handlers to decode.
type ResponseBody struct {
	Code    int             `json:"code"`
	Message string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

// Config configures an api Client.
type Config struct {
	// Portal issues the underlying HTTP requests.
	Portal PortalDoer

	// Credentials supplies portal credentials for each request.
	Credentials CredentialSource

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// Client calls the portal device API.
type Client struct {
	portalClient PortalDoer
	credentials  CredentialSource
	logger       *slog.Logger

	// now is overridable for tests.
	now func() time.Time
}

// NewClient creates an api client.
func NewClient(config Config) *Client {
	return &Client{
		portalClient: config.Portal,
		credentials:  config.Credentials,
		logger:       config.Logger,
		now:          time.Now,
	}
}

// Devices returns the devices registered to the account.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	creds, err := c.credentials.Authenticate(ctx, false)
	if err != nil {
		return nil, err
	}

	raw, err := c.portalClient.Do(ctx, portal.AppPath, map[string]any{
		"userid": creds.UserID,
		"todo":   "GetGlobalDeviceList",
	}, nil, &creds)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Devices []struct {
			DID             string `json:"did"`
			Name            string `json:"name"`
			Nick            string `json:"nick"`
			ProductCategory string `json:"product_category"`
			Model           string `json:"model"`
			Status          int    `json:"status"`
			Class           string `json:"class"`
			Resource        string `json:"resource"`
		} `json:"devices"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("api: malformed device list: %w", err)
	}

	devices := make([]Device, 0, len(decoded.Devices))
	for _, d := range decoded.Devices {
		devices = append(devices, Device{
			ID:              d.DID,
			ShortID:         d.Name,
			Nickname:        d.Nick,
			ProductCategory: d.ProductCategory,
			Model:           d.Model,
			Status:          d.Status,
			Class:           d.Class,
			Resource:        d.Resource,
		})
	}
	return devices, nil
}

// Execute relays a command to the device and returns its decoded reply.
// Commands without a payload pass nil data.
func (c *Client) Execute(ctx context.Context, device Device, command string, data any) (*Response, error) {
	creds, err := c.credentials.Authenticate(ctx, false)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"header": map[string]any{
			"pri": "2",
			"ts":  float64(c.now().UnixMilli()) / 1000,
			"tmz": 480,
			"ver": "0.0.22",
		},
	}
	if data != nil {
		payload["body"] = map[string]any{"data": data}
	}

	query := url.Values{}
	query.Set("mid", device.Class)
	query.Set("did", device.ID)
	query.Set("td", "q")
	query.Set("u", creds.UserID)
	query.Set("cv", "1.67.3")
	query.Set("t", "a")
	query.Set("av", "1.3.1")

	raw, err := c.portalClient.Do(ctx, portal.DeviceManagerPath, map[string]any{
		"cmdName":     command,
		"payload":     payload,
		"payloadType": "j",
		"td":          "q",
		"toId":        device.ID,
		"toRes":       device.Resource,
		"toType":      device.Class,
	}, query, &creds)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Ret  string   `json:"ret"`
		Resp Response `json:"resp"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("api: malformed command reply: %w", err)
	}

	if decoded.Ret != "ok" {
		return nil, &Error{Ret: decoded.Ret, Message: command}
	}
	if decoded.Resp.Body.Code != 0 {
		return nil, &Error{Ret: decoded.Ret, Code: decoded.Resp.Body.Code, Message: decoded.Resp.Body.Message}
	}

	c.debugLog("command executed", "command", command, "device", device.ShortID)

	return &decoded.Resp, nil
}

func (c *Client) debugLog(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
