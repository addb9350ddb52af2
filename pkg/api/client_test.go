package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/deebot-t8/deebot-t8-go/pkg/auth"
	"github.com/deebot-t8/deebot-t8-go/pkg/portal"
)

type fakeCredentials struct {
	creds auth.Credentials
	err   error
}

func (f *fakeCredentials) Authenticate(ctx context.Context, force bool) (auth.Credentials, error) {
	return f.creds, f.err
}

type fakePortal struct {
	lastPath   string
	lastParams map[string]any
	lastQuery  url.Values
	lastCreds  *auth.Credentials
	response   json.RawMessage
	err        error
}

func (f *fakePortal) Do(ctx context.Context, path string, params map[string]any, query url.Values, creds *auth.Credentials) (json.RawMessage, error) {
	f.lastPath = path
	f.lastParams = params
	f.lastQuery = query
	f.lastCreds = creds
	return f.response, f.err
}

var testDevice = Device{
	ID:       "did-1",
	ShortID:  "E0001234567890",
	Nickname: "robot",
	Class:    "55aiho",
	Resource: "atom",
}

func newTestClient(p *fakePortal) *Client {
	c := NewClient(Config{
		Portal:      p,
		Credentials: &fakeCredentials{creds: auth.Credentials{AccessToken: "tok", UserID: "uid"}},
	})
	c.now = func() time.Time { return time.UnixMilli(1_700_000_000_500) }
	return c
}

func TestDevices(t *testing.T) {
	p := &fakePortal{response: json.RawMessage(`{
		"todo": "result",
		"devices": [
			{"did": "did-1", "name": "E0001234567890", "nick": "upstairs", "product_category": "DEEBOT",
			 "model": "T8 AIVI", "status": 1, "class": "55aiho", "resource": "atom"}
		]
	}`)}

	c := newTestClient(p)
	devices, err := c.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices failed: %v", err)
	}

	if p.lastPath != portal.AppPath {
		t.Errorf("path = %s, want %s", p.lastPath, portal.AppPath)
	}
	if p.lastParams["todo"] != "GetGlobalDeviceList" {
		t.Errorf("todo = %v", p.lastParams["todo"])
	}
	if p.lastCreds == nil || p.lastCreds.UserID != "uid" {
		t.Error("device listing should be authenticated")
	}

	if len(devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devices))
	}
	d := devices[0]
	if d.ID != "did-1" || d.ShortID != "E0001234567890" || d.Nickname != "upstairs" {
		t.Errorf("unexpected device: %+v", d)
	}
	if d.Class != "55aiho" || d.Resource != "atom" || d.Model != "T8 AIVI" {
		t.Errorf("unexpected device: %+v", d)
	}
}

func TestExecute(t *testing.T) {
	p := &fakePortal{response: json.RawMessage(`{
		"ret": "ok",
		"resp": {
			"header": {"fwVer": "1.7.6", "hwVer": "0.1.1"},
			"body": {"code": 0, "msg": "ok", "data": {"value": 95}}
		}
	}`)}

	c := newTestClient(p)
	resp, err := c.Execute(context.Background(), testDevice, "getBattery", map[string]any{"id": "x"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if p.lastPath != portal.DeviceManagerPath {
		t.Errorf("path = %s, want %s", p.lastPath, portal.DeviceManagerPath)
	}
	if p.lastParams["cmdName"] != "getBattery" {
		t.Errorf("cmdName = %v", p.lastParams["cmdName"])
	}
	if p.lastParams["toId"] != "did-1" || p.lastParams["toRes"] != "atom" || p.lastParams["toType"] != "55aiho" {
		t.Errorf("unexpected routing params: %v", p.lastParams)
	}

	payload, ok := p.lastParams["payload"].(map[string]any)
	if !ok {
		t.Fatal("payload missing")
	}
	header, ok := payload["header"].(map[string]any)
	if !ok {
		t.Fatal("payload header missing")
	}
	if header["pri"] != "2" || header["ver"] != "0.0.22" {
		t.Errorf("unexpected payload header: %v", header)
	}
	if ts, _ := header["ts"].(float64); ts != 1_700_000_000.5 {
		t.Errorf("ts = %v, want seconds with millisecond fraction", header["ts"])
	}
	body, ok := payload["body"].(map[string]any)
	if !ok {
		t.Fatal("payload body missing")
	}
	if _, ok := body["data"]; !ok {
		t.Error("payload body should wrap the command data")
	}

	if p.lastQuery.Get("did") != "did-1" || p.lastQuery.Get("mid") != "55aiho" {
		t.Errorf("unexpected query: %v", p.lastQuery)
	}
	if p.lastQuery.Get("u") != "uid" {
		t.Errorf("query u = %s, want uid", p.lastQuery.Get("u"))
	}

	if resp.Header.FwVersion != "1.7.6" || resp.Header.HwVersion != "0.1.1" {
		t.Errorf("unexpected header: %+v", resp.Header)
	}
	if string(resp.Body.Data) == "" {
		t.Error("response data should be preserved")
	}
}

func TestExecuteWithoutData(t *testing.T) {
	p := &fakePortal{response: json.RawMessage(`{"ret":"ok","resp":{"body":{"code":0}}}`)}

	c := newTestClient(p)
	if _, err := c.Execute(context.Background(), testDevice, "charge", nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	payload := p.lastParams["payload"].(map[string]any)
	if _, ok := payload["body"]; ok {
		t.Error("nil data should omit the payload body")
	}
}

func TestExecuteRetError(t *testing.T) {
	p := &fakePortal{response: json.RawMessage(`{"ret":"fail","errno":10000}`)}

	c := newTestClient(p)
	_, err := c.Execute(context.Background(), testDevice, "getBattery", nil)

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Ret != "fail" {
		t.Errorf("Ret = %s, want fail", apiErr.Ret)
	}
}

func TestExecuteBodyCodeError(t *testing.T) {
	p := &fakePortal{response: json.RawMessage(`{"ret":"ok","resp":{"body":{"code":500,"msg":"fail"}}}`)}

	c := newTestClient(p)
	_, err := c.Execute(context.Background(), testDevice, "clean", nil)

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Code != 500 {
		t.Errorf("Code = %d, want 500", apiErr.Code)
	}
}

func TestExecuteAuthFailure(t *testing.T) {
	wantErr := errors.New("auth down")
	c := NewClient(Config{
		Portal:      &fakePortal{},
		Credentials: &fakeCredentials{err: wantErr},
	})

	if _, err := c.Execute(context.Background(), testDevice, "clean", nil); !errors.Is(err, wantErr) {
		t.Errorf("expected auth error, got %v", err)
	}
}
