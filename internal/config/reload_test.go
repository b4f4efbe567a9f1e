package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestLoadFilterFile_ParsesRuleFileAndAdapters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filters.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rule_file: /tmp/rules.yaml
adapters:
  syslog:
    process: SpringBoard
    exclude_substrs: ["heartbeat"]
`), 0o644))

	f, err := LoadFilterFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/rules.yaml", f.RuleFile)
	require.Contains(t, f.Adapters, "syslog")
	assert.Equal(t, "SpringBoard", f.Adapters["syslog"].Process)
	assert.Equal(t, []string{"heartbeat"}, f.Adapters["syslog"].ExcludeSubstrs)
}

func TestLoadFilterFile_MissingFileErrors(t *testing.T) {
	_, err := LoadFilterFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFilterReloader_StartLoadsExistingFileOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filters.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rule_file: a.yaml\n"), 0o644))

	received := make(chan FilterFile, 4)
	r := NewFilterReloader(path, 50*time.Millisecond, testLogger(), func(f FilterFile) {
		received <- f
	})
	require.NoError(t, r.Start())
	defer r.Stop()

	select {
	case f := <-received:
		assert.Equal(t, "a.yaml", f.RuleFile)
	case <-time.After(time.Second):
		t.Fatal("expected initial load callback")
	}
}

func TestFilterReloader_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filters.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rule_file: a.yaml\n"), 0o644))

	received := make(chan FilterFile, 4)
	r := NewFilterReloader(path, 50*time.Millisecond, testLogger(), func(f FilterFile) {
		received <- f
	})
	require.NoError(t, r.Start())
	defer r.Stop()

	<-received // drain the initial load

	require.NoError(t, os.WriteFile(path, []byte("rule_file: b.yaml\n"), 0o644))

	select {
	case f := <-received:
		assert.Equal(t, "b.yaml", f.RuleFile)
	case <-time.After(2 * time.Second):
		t.Fatal("expected reload callback after write")
	}
}
