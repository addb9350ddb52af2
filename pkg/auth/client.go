package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Authentication errors.
var (
	// ErrInvalidCredentials indicates the account id or password was
	// rejected by the login service.
	ErrInvalidCredentials = errors.New("invalid account id or password")
)

// ResponseError is returned when the login service replies with an
// unexpected result code.
type ResponseError struct {
	// Code is the upstream result code (e.g. "0002").
	Code string

	// Message is the upstream error message, if any.
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("auth: upstream error %s (%s)", e.Code, e.Message)
}

// Static client key pairs used for request signing. These identify the
// official mobile app to the upstream service and are wire contracts.
const (
	clientKey        = "1520391301804"
	clientSecret     = "6c319b2a5cd3e66e39159c2e28f2fce9"
	authClientKey    = "1520391491841"
	authClientSecret = "77ef58ce3afbe337da74aa8c5ab963a9"
)

// Realm is the portal authentication realm.
const Realm = "ecouser.net"

// Config configures an auth Client.
type Config struct {
	// Country is the lowercase two-letter account country code.
	Country string

	// DeviceID is the client device id presented to the cloud. It scopes
	// issued tokens; reusing the same id across restarts keeps existing
	// tokens valid.
	DeviceID string

	// Portal performs the final token exchange. Satisfied by
	// *portal.Client.
	Portal PortalPoster

	// HTTPClient is the client used for the login endpoints.
	// If nil, a client with a 30 second timeout is used.
	HTTPClient *http.Client

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// PortalPoster performs unauthenticated portal requests. It is satisfied
// by *portal.Client.
type PortalPoster interface {
	Post(ctx context.Context, path string, params map[string]any) (map[string]any, error)
}

// Client performs the Ecovacs login exchange.
type Client struct {
	country    string
	deviceID   string
	portal     PortalPoster
	httpClient *http.Client
	logger     *slog.Logger

	// meta holds the static request metadata included in signed params.
	meta map[string]string

	// now is overridable for tests.
	now func() time.Time
}

// NewClient creates a login client.
func NewClient(config Config) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		country:    config.Country,
		deviceID:   config.DeviceID,
		portal:     config.Portal,
		httpClient: httpClient,
		logger:     config.Logger,
		meta: map[string]string{
			"country":    config.Country,
			"lang":       "EN",
			"deviceId":   config.DeviceID,
			"appCode":    "global_e",
			"appVersion": "1.6.3",
			"channel":    "google_play",
			"deviceType": "1",
		},
		now: time.Now,
	}
}

// Login performs the full login exchange and returns portal credentials.
func (c *Client) Login(ctx context.Context, accountID, passwordHash string) (Credentials, error) {
	exch, err := c.accountPasswordExchange(ctx, accountID, passwordHash)
	if err != nil {
		return Credentials{}, err
	}

	authCode, err := c.authCode(ctx, exch.UserID, exch.AccessToken)
	if err != nil {
		return Credentials{}, err
	}

	return c.loginByItToken(ctx, exch.UserID, authCode)
}

// signParams computes the MD5 request signature over the sorted params.
func signParams(params map[string]string, key, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(key)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(params[k])
	}
	b.WriteString(secret)
	return MD5Hex(b.String())
}

func (c *Client) loginURL() string {
	tld := "com"
	loginPath := "user/login"
	if c.country == "cn" {
		tld = "cn"
		loginPath = "user/loginCheckMobile"
	}
	return fmt.Sprintf(
		"https://gl-%s-api.ecovacs.%s/v1/private/%s/%s/%s/%s/%s/%s/%s/%s",
		c.country, tld, c.country,
		c.meta["lang"], c.meta["deviceId"], c.meta["appCode"],
		c.meta["appVersion"], c.meta["channel"], c.meta["deviceType"],
		loginPath,
	)
}

func (c *Client) authCodeURL() string {
	tld := "com"
	if c.country == "cn" {
		tld = "cn"
	}
	return fmt.Sprintf("https://gl-%s-openapi.ecovacs.%s/v1/global/auth/getAuthCode", c.country, tld)
}

// loginResponse is the common envelope of the login endpoints.
type loginResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		AccessToken string `json:"accessToken"`
		UID         string `json:"uid"`
		AuthCode    string `json:"authCode"`
	} `json:"data"`
}

// doSignedGet issues a GET with the given query params and decodes the
// common login envelope.
func (c *Client) doSignedGet(ctx context.Context, rawURL string, params map[string]string) (*loginResponse, error) {
	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var decoded loginResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("auth: malformed response: %w", err)
	}
	return &decoded, nil
}

// accountPasswordExchange trades the account id and password hash for an
// account-level access token.
func (c *Client) accountPasswordExchange(ctx context.Context, accountID, passwordHash string) (Credentials, error) {
	now := c.now()
	params := map[string]string{
		"requestId":    MD5Hex(strconv.FormatInt(now.UnixNano(), 10)),
		"account":      accountID,
		"password":     passwordHash,
		"authTimespan": strconv.FormatInt(now.UnixMilli(), 10),
		"authTimeZone": "GMT-8",
	}

	signed := make(map[string]string, len(params)+len(c.meta))
	for k, v := range c.meta {
		signed[k] = v
	}
	for k, v := range params {
		signed[k] = v
	}
	params["authSign"] = signParams(signed, clientKey, clientSecret)
	params["authAppkey"] = clientKey

	resp, err := c.doSignedGet(ctx, c.loginURL(), params)
	if err != nil {
		return Credentials{}, err
	}

	switch resp.Code {
	case "0000":
		return Credentials{
			AccessToken: resp.Data.AccessToken,
			UserID:      resp.Data.UID,
		}, nil
	case "1005", "1010":
		return Credentials{}, ErrInvalidCredentials
	default:
		return Credentials{}, &ResponseError{Code: resp.Code, Message: resp.Msg}
	}
}

// authCode trades an account access token for a one-time IoT auth code.
func (c *Client) authCode(ctx context.Context, userID, accessToken string) (string, error) {
	params := map[string]string{
		"uid":          userID,
		"accessToken":  accessToken,
		"bizType":      "ECOVACS_IOT",
		"deviceId":     c.deviceID,
		"authTimespan": strconv.FormatInt(c.now().UnixMilli(), 10),
	}

	signed := make(map[string]string, len(params)+1)
	signed["openId"] = "global"
	for k, v := range params {
		signed[k] = v
	}
	params["authSign"] = signParams(signed, authClientKey, authClientSecret)
	params["authAppkey"] = authClientKey

	resp, err := c.doSignedGet(ctx, c.authCodeURL(), params)
	if err != nil {
		return "", err
	}

	switch resp.Code {
	case "0000":
		return resp.Data.AuthCode, nil
	case "1005":
		return "", ErrInvalidCredentials
	default:
		return "", &ResponseError{Code: resp.Code, Message: resp.Msg}
	}
}

// tokenExpiry is how long issued portal tokens are assumed valid.
// Upstream tokens appear to last ~7 days; renew eagerly after 2.
const tokenExpiry = 2 * 24 * time.Hour

// loginByItToken exchanges the auth code for portal credentials.
func (c *Client) loginByItToken(ctx context.Context, userID, authCode string) (Credentials, error) {
	org := "ECOWW"
	country := strings.ToUpper(c.country)
	if c.country == "cn" {
		org = "ECOCN"
		country = "Chinese"
	}

	resp, err := c.portal.Post(ctx, "users/user.do", map[string]any{
		"todo":     "loginByItToken",
		"edition":  "ECOGLOBLE",
		"userId":   userID,
		"token":    authCode,
		"realm":    Realm,
		"resource": resourceID(c.deviceID),
		"org":      org,
		"last":     "",
		"country":  country,
	})
	if err != nil {
		return Credentials{}, err
	}

	if result, _ := resp["result"].(string); result == "ok" {
		token, _ := resp["token"].(string)
		uid, _ := resp["userId"].(string)
		return Credentials{
			AccessToken: token,
			UserID:      uid,
			ExpiresAt:   c.now().Add(tokenExpiry).Unix(),
		}, nil
	}

	return Credentials{}, &ResponseError{Code: "loginByItToken", Message: fmt.Sprintf("%v", resp)}
}

// resourceID derives the short resource identifier from a device id.
func resourceID(deviceID string) string {
	if len(deviceID) > 8 {
		return deviceID[:8]
	}
	return deviceID
}
