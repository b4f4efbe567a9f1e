package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quern/pkg/types"
)

func writeRuleFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadRuleFile_CompilesPatternsInOrder(t *testing.T) {
	path := writeRuleFile(t, `
rules:
  - sources: [syslog]
    message: "(?i)jetsam"
    level: warning
    category: memory-warning
  - message: "(?i)fail"
    level: error
    category: generic-failure
`)
	rules, err := LoadRuleFile(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, []types.Source{types.Source("syslog")}, rules[0].Sources)
	assert.Equal(t, types.LevelWarning, rules[0].Level)
	assert.True(t, rules[0].Message.MatchString("received jetsam event"))
	assert.Nil(t, rules[1].Sources)
}

func TestLoadRuleFile_BadPatternFails(t *testing.T) {
	path := writeRuleFile(t, `
rules:
  - message: "("
    level: error
`)
	_, err := LoadRuleFile(path)
	assert.Error(t, err)
}

func TestLoadRuleFile_MissingFile(t *testing.T) {
	_, err := LoadRuleFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestClassifier_SetRulesIsLiveForSubsequentClassify(t *testing.T) {
	c := NewClassifier(DefaultRules())
	e := &types.LogEntry{Message: "custom marker", Level: types.LevelInfo}
	c.Classify(e)
	assert.Empty(t, e.Classification)

	rules, err := LoadRuleFile(writeRuleFile(t, `
rules:
  - message: "custom marker"
    level: error
    category: custom
`))
	require.NoError(t, err)
	c.SetRules(rules)

	e2 := &types.LogEntry{Message: "custom marker", Level: types.LevelInfo}
	c.Classify(e2)
	assert.Equal(t, "custom", e2.Classification)
	assert.Equal(t, types.LevelError, e2.Level)
}
