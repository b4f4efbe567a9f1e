// Package statefile manages the daemon's persisted files under ~/.quern/:
// state.json (single running-instance record), api-key (shared bearer
// token), and the mitmproxy addon's control file. state.json is written
// with a write-temp-then-rename sequence so a reader never observes a
// half-written file; the api-key and control files are written in place.
package statefile

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"quern/pkg/types"
)

const (
	stateFileName  = "state.json"
	apiKeyFileName = "api-key"
)

// Dir resolves the Quern home directory: home if non-empty (config fills it
// from QUERN_HOME or app.home_dir), else ~/.quern.
func Dir(home string) string {
	if home != "" {
		return home
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".quern"
	}
	return filepath.Join(dir, ".quern")
}

func atomicWrite(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// WriteState atomically persists the running-instance record.
func WriteState(home string, state types.ServerState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(filepath.Join(Dir(home), stateFileName), data, 0o644)
}

// ReadState loads the running-instance record, or (nil, nil) if absent.
func ReadState(home string) (*types.ServerState, error) {
	data, err := os.ReadFile(filepath.Join(Dir(home), stateFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var state types.ServerState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// RemoveState deletes the running-instance record on clean exit.
func RemoveState(home string) error {
	err := os.Remove(filepath.Join(Dir(home), stateFileName))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// EnsureAPIKey returns the persistent API key, generating and storing a new
// 0600 one on first run.
func EnsureAPIKey(home string) (string, error) {
	path := filepath.Join(Dir(home), apiKeyFileName)
	data, err := os.ReadFile(path)
	if err == nil {
		return string(data), nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	key, genErr := generateKey()
	if genErr != nil {
		return "", genErr
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(key), 0o600); err != nil {
		return "", err
	}
	return key, nil
}

func generateKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.New("failed to generate api key: " + err.Error())
	}
	return hex.EncodeToString(buf), nil
}
