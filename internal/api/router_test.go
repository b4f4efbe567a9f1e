package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthRequiresNoAuth(t *testing.T) {
	_, srv := testServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProtectedRouteRejectsMissingKey(t *testing.T) {
	_, srv := testServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/logs/query")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProtectedRouteAcceptsAPIKeyHeader(t *testing.T) {
	d, srv := testServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/logs/query", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", d.APIKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProtectedRouteAcceptsBearerToken(t *testing.T) {
	d, srv := testServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/logs/query", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+d.APIKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestInternalFlowRouteBypassesAPIKeyButRequiresSecret(t *testing.T) {
	_, srv := testServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/proxy/internal/flow", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
