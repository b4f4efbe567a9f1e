package build

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleOutput = `CompileSwift normal arm64
/Users/dev/App/ViewController.swift:42:10: error: cannot find 'foo' in scope
/Users/dev/App/Model.swift:7: warning: variable 'x' was never used
** BUILD FAILED **
`

func TestParse_CountsErrorsAndWarnings(t *testing.T) {
	result, entries := Parse(sampleOutput)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, 1, result.Warnings)
	require.Len(t, result.Diagnostics, 2)
	assert.Equal(t, "ViewController.swift", lastSegment(result.Diagnostics[0].File))
	require.Len(t, entries, 2)
	assert.Equal(t, "build", entries[0].Classification)
}

func TestParse_SuccessfulBuildHasNoDiagnostics(t *testing.T) {
	result, entries := Parse("** BUILD SUCCEEDED **\n")
	assert.True(t, result.Success)
	assert.Empty(t, entries)
}

func lastSegment(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
