package crash

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCrash = `Exception Type:  EXC_BAD_ACCESS (SIGSEGV)
Exception Subtype: KERN_INVALID_ADDRESS at 0x0000000000000000
Triggered by Thread:  3

Thread 3 Crashed:
0   MyApp    0x0000000104a12340 -[ViewController loadData] + 64
1   MyApp    0x0000000104a11000 main + 120

`

func TestParse_ExtractsExceptionSignalAndFrames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "MyApp.ips")
	require.NoError(t, os.WriteFile(path, []byte(sampleCrash), 0o644))

	report, err := Parse(path)
	require.NoError(t, err)
	assert.Equal(t, "EXC_BAD_ACCESS (SIGSEGV)", report.ExceptionType)
	assert.Equal(t, "SIGSEGV", report.Signal)
	assert.Equal(t, 3, report.FaultingThread)
	require.Len(t, report.TopFrames, 2)
	assert.Contains(t, report.TopFrames[0], "loadData")
}

func TestRetention_DeletesFilesOlderThanMaxAge(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.ips")
	require.NoError(t, os.WriteFile(oldPath, []byte("x"), 0o644))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, old, old))

	newPath := filepath.Join(dir, "new.ips")
	require.NoError(t, os.WriteFile(newPath, []byte("y"), 0o644))

	r := &Retention{MaxAge: 24 * time.Hour}
	r.Enforce(dir)

	_, err := os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(newPath)
	assert.NoError(t, err)
}

func TestRetention_EvictsOldestWhenOverByteBudget(t *testing.T) {
	dir := t.TempDir()
	for i, name := range []string{"a.ips", "b.ips", "c.ips"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, make([]byte, 100), 0o644))
		mt := time.Now().Add(time.Duration(i) * time.Second)
		require.NoError(t, os.Chtimes(p, mt, mt))
	}

	r := &Retention{MaxTotalBytes: 150}
	r.Enforce(dir)

	_, errA := os.Stat(filepath.Join(dir, "a.ips"))
	assert.True(t, os.IsNotExist(errA), "oldest file should be evicted first")
	_, errC := os.Stat(filepath.Join(dir, "c.ips"))
	assert.NoError(t, errC, "newest file should survive")
}
