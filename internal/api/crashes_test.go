package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quern/pkg/types"
)

func TestCrashStoreAddCapsAndOrdersNewestFirst(t *testing.T) {
	store := NewCrashStore()
	for i := 0; i < crashHistoryCap+5; i++ {
		store.Add(types.CrashReport{Path: "report-" + strconv.Itoa(i), ParsedAt: time.Now()})
	}
	recent := store.Recent(0)
	assert.Len(t, recent, crashHistoryCap)
	assert.Equal(t, "report-"+strconv.Itoa(crashHistoryCap+4), recent[0].Path)
}

func TestCrashesLatestRejectsMissingKey(t *testing.T) {
	_, srv := testServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/crashes/latest?limit=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCrashesLatestEmptyByDefault(t *testing.T) {
	d, srv := testServer(t)

	resp := authedGet(t, d.APIKey, srv.URL+"/api/v1/crashes/latest")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Reports []types.CrashReport `json:"reports"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Empty(t, out.Reports)
}
