package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quern/pkg/types"
)

func TestClassifier_FirstRuleWins(t *testing.T) {
	c := NewClassifier(DefaultRules())
	e := &types.LogEntry{Message: "sandbox: deny file-write-data /tmp/x", Level: types.LevelInfo}
	c.Classify(e)
	assert.Equal(t, "sandbox-violation", e.Classification)
	assert.Equal(t, types.LevelError, e.Level)
}

func TestClassifier_UnmatchedKeepsSourceLevel(t *testing.T) {
	c := NewClassifier(DefaultRules())
	e := &types.LogEntry{Message: "routine heartbeat", Level: types.LevelDebug}
	c.Classify(e)
	assert.Empty(t, e.Classification)
	assert.Equal(t, types.LevelDebug, e.Level)
}

func TestFingerprint_NormalizesDigits(t *testing.T) {
	f1 := Fingerprint(types.LevelInfo, "Notes", "retry 1 of 5")
	f2 := Fingerprint(types.LevelInfo, "Notes", "retry 2 of 5")
	assert.Equal(t, f1, f2)
}

func TestDeduplicator_FirstOccurrencePublishes(t *testing.T) {
	d := NewDeduplicator(30 * time.Second)
	e := &types.LogEntry{Fingerprint: "fp1"}
	assert.True(t, d.Process(e))
}

func TestDeduplicator_RepublishesOnPowersOfTwo(t *testing.T) {
	d := NewDeduplicator(30 * time.Second)
	var published []int
	for i := 1; i <= 10; i++ {
		e := &types.LogEntry{Fingerprint: "fp1"}
		if d.Process(e) {
			published = append(published, e.DedupCount)
		}
	}
	require.Equal(t, []int{1, 2, 4, 8}, published)
}

func TestDeduplicator_NeverLosesFirstOccurrence(t *testing.T) {
	d := NewDeduplicator(30 * time.Second)
	first := &types.LogEntry{Fingerprint: "fp1", Message: "boot"}
	assert.True(t, d.Process(first))
	assert.Equal(t, 1, first.DedupCount)
}

func TestDeduplicator_WindowExpiryStartsFresh(t *testing.T) {
	d := NewDeduplicator(10 * time.Millisecond)
	e1 := &types.LogEntry{Fingerprint: "fp1"}
	d.Process(e1)
	time.Sleep(20 * time.Millisecond)
	e2 := &types.LogEntry{Fingerprint: "fp1"}
	assert.True(t, d.Process(e2))
	assert.Equal(t, 1, e2.DedupCount)
}
