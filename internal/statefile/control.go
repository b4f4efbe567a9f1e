package statefile

import (
	"os"
	"path/filepath"
)

const controlFileName = "proxy-control.json"

// WriteProxyControl writes the shared secret the mitmproxy addon reads at
// startup to authenticate its callbacks to the Quern API. The file is
// 0600 and lives alongside state.json; it is never served over HTTP.
func WriteProxyControl(home, secret string) (string, error) {
	path := filepath.Join(Dir(home), controlFileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(`{"secret":"`+secret+`"}`), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// RemoveProxyControl deletes the control file when the proxy stops.
func RemoveProxyControl(home string) error {
	err := os.Remove(filepath.Join(Dir(home), controlFileName))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
