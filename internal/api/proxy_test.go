package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quern/pkg/types"
)

func TestProxyInternalFlowBeginThenCompleteIsQueryable(t *testing.T) {
	d, srv := testServer(t)
	d.ProxySecret = "test-secret"

	beginReq, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/proxy/internal/flow", jsonBody(t, addonFlowEnvelope{
		Phase:    "begin",
		ID:       1,
		ClientIP: "127.0.0.1",
		Request:  types.FlowMessage{Method: "GET", Host: "example.com", Path: "/"},
	}))
	require.NoError(t, err)
	beginReq.Header.Set("X-Quern-Proxy-Secret", d.ProxySecret)
	beginResp, err := http.DefaultClient.Do(beginReq)
	require.NoError(t, err)
	defer beginResp.Body.Close()
	require.Equal(t, http.StatusOK, beginResp.StatusCode)

	completeReq, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/proxy/internal/flow", jsonBody(t, addonFlowEnvelope{
		Phase:      "complete",
		ID:         1,
		Response:   types.FlowMessage{Status: 200},
		DurationMS: 12,
	}))
	require.NoError(t, err)
	completeReq.Header.Set("X-Quern-Proxy-Secret", d.ProxySecret)
	completeResp, err := http.DefaultClient.Do(completeReq)
	require.NoError(t, err)
	defer completeResp.Body.Close()
	require.Equal(t, http.StatusOK, completeResp.StatusCode)

	flow, ok := d.Proxy.Store.Get(1)
	require.True(t, ok)
	assert.True(t, flow.Completed)
	assert.Equal(t, 200, flow.Response.Status)

	listResp := authedGet(t, d.APIKey, srv.URL+"/api/v1/proxy/flows")
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)
	var list struct {
		Flows []*types.Flow `json:"flows"`
		Total int           `json:"total"`
	}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&list))
	assert.Equal(t, 1, list.Total)
}

func TestProxyInternalFlowRejectsWrongSecret(t *testing.T) {
	d, srv := testServer(t)
	d.ProxySecret = "real-secret"

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/proxy/internal/flow", jsonBody(t, addonFlowEnvelope{Phase: "begin"}))
	require.NoError(t, err)
	req.Header.Set("X-Quern-Proxy-Secret", "wrong")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMocksCreateListUpdateDelete(t *testing.T) {
	d, srv := testServer(t)

	createReq, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/proxy/mocks", jsonBody(t, mockCreateRequest{
		Filter: "host == 'example.com'",
		Status: 201,
		Body:   []byte("ok"),
	}))
	require.NoError(t, err)
	createReq.Header.Set("X-API-Key", d.APIKey)
	createResp, err := http.DefaultClient.Do(createReq)
	require.NoError(t, err)
	defer createResp.Body.Close()
	require.Equal(t, http.StatusOK, createResp.StatusCode)

	var rule types.MockRule
	require.NoError(t, json.NewDecoder(createResp.Body).Decode(&rule))
	assert.Equal(t, 201, rule.Status)

	listResp := authedGet(t, d.APIKey, srv.URL+"/api/v1/proxy/mocks")
	defer listResp.Body.Close()
	var listOut struct {
		Rules []types.MockRule `json:"rules"`
	}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&listOut))
	require.Len(t, listOut.Rules, 1)

	newStatus := 404
	updateReq, err := http.NewRequest(http.MethodPatch, srv.URL+"/api/v1/proxy/mocks/"+rule.ID, jsonBody(t, mockUpdateRequest{Status: &newStatus}))
	require.NoError(t, err)
	updateReq.Header.Set("X-API-Key", d.APIKey)
	updateResp, err := http.DefaultClient.Do(updateReq)
	require.NoError(t, err)
	defer updateResp.Body.Close()
	require.Equal(t, http.StatusOK, updateResp.StatusCode)

	deleteReq, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/proxy/mocks/"+rule.ID, nil)
	require.NoError(t, err)
	deleteReq.Header.Set("X-API-Key", d.APIKey)
	deleteResp, err := http.DefaultClient.Do(deleteReq)
	require.NoError(t, err)
	defer deleteResp.Body.Close()
	assert.Equal(t, http.StatusOK, deleteResp.StatusCode)
}

func TestInterceptSetGetClear(t *testing.T) {
	d, srv := testServer(t)

	setReq, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/proxy/intercept", jsonBody(t, interceptSetRequest{Filter: "host == 'example.com'"}))
	require.NoError(t, err)
	setReq.Header.Set("X-API-Key", d.APIKey)
	setResp, err := http.DefaultClient.Do(setReq)
	require.NoError(t, err)
	defer setResp.Body.Close()
	require.Equal(t, http.StatusOK, setResp.StatusCode)

	getResp := authedGet(t, d.APIKey, srv.URL+"/api/v1/proxy/intercept")
	defer getResp.Body.Close()
	var got struct {
		Filter *types.InterceptRule `json:"filter"`
	}
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&got))
	require.NotNil(t, got.Filter)
	assert.Equal(t, "host == 'example.com'", got.Filter.Filter)

	clearReq, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/proxy/intercept", nil)
	require.NoError(t, err)
	clearReq.Header.Set("X-API-Key", d.APIKey)
	clearResp, err := http.DefaultClient.Do(clearReq)
	require.NoError(t, err)
	defer clearResp.Body.Close()
	assert.Equal(t, http.StatusOK, clearResp.StatusCode)
}

func TestProxyReplayReissuesCapturedRequest(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer backend.Close()
	backendURL := backend.Listener.Addr().String()

	d, srv := testServer(t)
	original := &types.Flow{
		ID: 42,
		Request: types.FlowMessage{
			Method: http.MethodGet,
			Scheme: "http",
			Host:   backendURL,
			Path:   "/",
		},
		Completed: true,
	}
	d.Proxy.Store.Insert(original)

	resp, err := http.Post(srv.URL+"/api/v1/proxy/replay/42", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/proxy/replay/42", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", d.APIKey)
	authedResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer authedResp.Body.Close()
	require.Equal(t, http.StatusOK, authedResp.StatusCode)

	var replayed types.Flow
	require.NoError(t, json.NewDecoder(authedResp.Body).Decode(&replayed))
	assert.Equal(t, http.StatusTeapot, replayed.Response.Status)
	assert.Equal(t, types.FlowReplay, replayed.Source)
}
