package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quern/pkg/types"
)

func authedGet(t *testing.T, apiKey, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", apiKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestLogsQueryReturnsAppendedEntries(t *testing.T) {
	d, srv := testServer(t)
	d.Ring.Append(&types.LogEntry{
		Timestamp: time.Now(),
		Source:    types.SourceSyslog,
		Level:     types.LevelInfo,
		Message:   "hello",
	})

	resp := authedGet(t, d.APIKey, srv.URL+"/api/v1/logs/query")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out logsQueryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Entries, 1)
	assert.Equal(t, "hello", out.Entries[0].Message)
}

func TestLogsSourcesReportsAdapterStatuses(t *testing.T) {
	d, srv := testServer(t)

	resp := authedGet(t, d.APIKey, srv.URL+"/api/v1/logs/sources")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Adapters []types.AdapterStatus `json:"adapters"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
}

func TestLogsFilterRejectsMissingAdapter(t *testing.T) {
	d, srv := testServer(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/logs/filter", jsonBody(t, logsFilterRequest{}))
	require.NoError(t, err)
	req.Header.Set("X-API-Key", d.APIKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
