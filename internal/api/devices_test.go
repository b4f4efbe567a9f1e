package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quern/pkg/types"
)

func seedDevicePool(t *testing.T, home string, devices ...types.DeviceRecord) {
	t.Helper()
	file := types.DevicePoolFile{Devices: make(map[string]types.DeviceRecord)}
	for _, d := range devices {
		file.Devices[d.UDID] = d
	}
	data, err := json.Marshal(file)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(home, "device-pool.json"), data, 0o644))
}

func TestDevicesPoolListsSeededDevices(t *testing.T) {
	d, srv := testServer(t)
	seedDevicePool(t, d.Home, types.DeviceRecord{
		UDID: "ABC-123", Name: "iPhone 15", Kind: types.DeviceSimulator, LastSeen: time.Now(),
	})

	resp := authedGet(t, d.APIKey, srv.URL+"/api/v1/devices/pool")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Devices []types.DeviceRecord `json:"devices"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Devices, 1)
	assert.Equal(t, "ABC-123", out.Devices[0].UDID)
}

func TestDevicesClaimThenRelease(t *testing.T) {
	d, srv := testServer(t)
	seedDevicePool(t, d.Home, types.DeviceRecord{
		UDID: "ABC-123", Name: "iPhone 15", Kind: types.DeviceSimulator, LastSeen: time.Now(),
	})

	claimReq, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/devices/claim", jsonBody(t, devicesClaimRequest{
		UDID: "ABC-123", SessionID: "session-1",
	}))
	require.NoError(t, err)
	claimReq.Header.Set("X-API-Key", d.APIKey)
	claimResp, err := http.DefaultClient.Do(claimReq)
	require.NoError(t, err)
	defer claimResp.Body.Close()
	require.Equal(t, http.StatusOK, claimResp.StatusCode)

	var claimed types.DeviceRecord
	require.NoError(t, json.NewDecoder(claimResp.Body).Decode(&claimed))
	assert.Equal(t, "session-1", claimed.ClaimedBy)

	claimAgainReq, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/devices/claim", jsonBody(t, devicesClaimRequest{
		UDID: "ABC-123", SessionID: "session-2",
	}))
	require.NoError(t, err)
	claimAgainReq.Header.Set("X-API-Key", d.APIKey)
	conflictResp, err := http.DefaultClient.Do(claimAgainReq)
	require.NoError(t, err)
	defer conflictResp.Body.Close()
	assert.Equal(t, http.StatusConflict, conflictResp.StatusCode)

	releaseReq, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/devices/release", jsonBody(t, devicesReleaseRequest{
		UDID: "ABC-123", SessionID: "session-1",
	}))
	require.NoError(t, err)
	releaseReq.Header.Set("X-API-Key", d.APIKey)
	releaseResp, err := http.DefaultClient.Do(releaseReq)
	require.NoError(t, err)
	defer releaseResp.Body.Close()
	assert.Equal(t, http.StatusOK, releaseResp.StatusCode)
}
