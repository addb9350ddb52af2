package portal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deebot-t8/deebot-t8-go/pkg/auth"
)

func TestPortalURL(t *testing.T) {
	eu := NewClient(Config{Continent: "eu", Country: "de"})
	assert.Equal(t, "https://portal-eu.ecouser.net/api/users/user.do", eu.portalURL(UserPath))

	cn := NewClient(Config{Continent: "as", Country: "cn"})
	assert.Equal(t, "https://portal.ecouser.net/api/users/user.do", cn.portalURL(UserPath))
}

func TestDoInjectsAuthEnvelope(t *testing.T) {
	var received map[string]any
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Write([]byte(`{"ret":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{DeviceID: "0123456789abcdef", Country: "de", Continent: "eu"})
	c.SetBaseURL(srv.URL)

	creds := &auth.Credentials{AccessToken: "tok", UserID: "uid"}
	query := url.Values{"mid": []string{"model"}}
	raw, err := c.Do(context.Background(), DeviceManagerPath, map[string]any{"todo": "GetCleanInfo"}, query, creds)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ret":"ok"}`, string(raw))
	assert.Equal(t, "model", gotQuery.Get("mid"))

	assert.Equal(t, "GetCleanInfo", received["todo"])
	envelope, ok := received["auth"].(map[string]any)
	require.True(t, ok, "request should carry an auth envelope")
	assert.Equal(t, "users", envelope["with"])
	assert.Equal(t, "uid", envelope["userid"])
	assert.Equal(t, "ecouser.net", envelope["realm"])
	assert.Equal(t, "tok", envelope["token"])
	assert.Equal(t, "01234567", envelope["resource"])
}

func TestDoWithoutCredentials(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Write([]byte(`{"result":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{DeviceID: "dev", Country: "de", Continent: "eu"})
	c.SetBaseURL(srv.URL)

	decoded, err := c.Post(context.Background(), UserPath, map[string]any{"todo": "loginByItToken"})
	require.NoError(t, err)
	assert.Equal(t, "ok", decoded["result"])
	assert.NotContains(t, received, "auth")
}

func TestDoBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{DeviceID: "dev", Country: "de", Continent: "eu"})
	c.SetBaseURL(srv.URL)

	_, err := c.Do(context.Background(), UserPath, nil, nil, nil)
	assert.Error(t, err)
}
