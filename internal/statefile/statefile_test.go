package statefile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quern/pkg/types"
)

func TestWriteReadRemoveState(t *testing.T) {
	home := t.TempDir()

	got, err := ReadState(home)
	require.NoError(t, err)
	assert.Nil(t, got)

	want := types.ServerState{PID: 1234, HTTPPort: 9100, StartedAt: time.Now()}
	require.NoError(t, WriteState(home, want))

	got, err = ReadState(home)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.PID, got.PID)
	assert.Equal(t, want.HTTPPort, got.HTTPPort)

	require.NoError(t, RemoveState(home))
	got, err = ReadState(home)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEnsureAPIKeyIsStableAcrossCalls(t *testing.T) {
	home := t.TempDir()
	k1, err := EnsureAPIKey(home)
	require.NoError(t, err)
	assert.NotEmpty(t, k1)

	k2, err := EnsureAPIKey(home)
	require.NoError(t, err)
	assert.Equal(t, k1, k2, "a second call must return the persisted key, not mint a new one")
}

func TestProxyControlRoundTrip(t *testing.T) {
	home := t.TempDir()
	path, err := WriteProxyControl(home, "shh-secret")
	require.NoError(t, err)
	assert.FileExists(t, path)

	require.NoError(t, RemoveProxyControl(home))
}
