package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quern/pkg/types"
)

func TestBuildsParseThenLatest(t *testing.T) {
	d, srv := testServer(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/builds/parse", strings.NewReader("** BUILD SUCCEEDED **\n"))
	require.NoError(t, err)
	req.Header.Set("X-API-Key", d.APIKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var parsed types.BuildResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))

	latestResp := authedGet(t, d.APIKey, srv.URL+"/api/v1/builds/latest")
	defer latestResp.Body.Close()
	require.Equal(t, http.StatusOK, latestResp.StatusCode)

	var out struct {
		Result *types.BuildResult `json:"result"`
	}
	require.NoError(t, json.NewDecoder(latestResp.Body).Decode(&out))
	require.NotNil(t, out.Result)
	assert.Equal(t, parsed.Success, out.Result.Success)
}

func TestBuildsLatestBeforeAnyParseIsNil(t *testing.T) {
	d, srv := testServer(t)

	resp := authedGet(t, d.APIKey, srv.URL+"/api/v1/builds/latest")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Result *types.BuildResult `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Nil(t, out.Result)
}
