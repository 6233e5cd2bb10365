package account

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchConfigParsesAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/phone/webphone/config", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"has_account": true,
			"account": {
				"id": 42,
				"label": "Desk",
				"extension": "1001",
				"auth_username": "1001",
				"auth_password": "secret",
				"domain": "pbx.example.com",
				"outbound_proxy": "sip.example.com:5060",
				"user_display_name": "Alice"
			}
		}`))
	}))
	t.Cleanup(srv.Close)

	cfg, err := NewClient(srv.URL).FetchConfig(context.Background())
	require.NoError(t, err)
	require.True(t, cfg.HasAccount)
	require.NotNil(t, cfg.Account)
	assert.Equal(t, 42, cfg.Account.ID)
	assert.Equal(t, "1001", cfg.Account.Extension)
	assert.Equal(t, "pbx.example.com", cfg.Account.Domain)
	assert.Equal(t, "sip.example.com:5060", cfg.Account.OutboundProxy)
	assert.Equal(t, "Alice", cfg.Account.DisplayName)
}

func TestFetchConfigNoAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"has_account": false}`))
	}))
	t.Cleanup(srv.Close)

	cfg, err := NewClient(srv.URL).FetchConfig(context.Background())
	require.NoError(t, err)
	assert.False(t, cfg.HasAccount)
	assert.Nil(t, cfg.Account)
}

func TestFetchConfigRejectsInconsistentPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"has_account": true}`))
	}))
	t.Cleanup(srv.Close)

	_, err := NewClient(srv.URL).FetchConfig(context.Background())
	assert.Error(t, err)
}

func TestFetchConfigNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	_, err := NewClient(srv.URL).FetchConfig(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestICEServersFallback(t *testing.T) {
	acc := &Account{}
	servers := acc.ICEServers()
	require.Len(t, servers, 1)
	assert.Equal(t, "stun:stun.l.google.com:19302", servers[0].URL)
}

func TestICEServersFromAccount(t *testing.T) {
	acc := &Account{
		STUNServer:   "stun:stun.example.com",
		TURNServer:   "turn:turn.example.com",
		TURNUsername: "user",
		TURNPassword: "pass",
	}
	servers := acc.ICEServers()
	require.Len(t, servers, 2)
	assert.Equal(t, "stun:stun.example.com", servers[0].URL)
	assert.Equal(t, "turn:turn.example.com", servers[1].URL)
	assert.Equal(t, "user", servers[1].Username)
	assert.Equal(t, "pass", servers[1].Credential)
}

func TestDisplayLabelPrecedence(t *testing.T) {
	assert.Equal(t, "Alice", (&Account{DisplayName: "Alice", Extension: "1001", Label: "Desk"}).DisplayLabel())
	assert.Equal(t, "1001", (&Account{Extension: "1001", Label: "Desk"}).DisplayLabel())
	assert.Equal(t, "Desk", (&Account{Label: "Desk"}).DisplayLabel())
}
