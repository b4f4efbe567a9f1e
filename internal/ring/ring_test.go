package ring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quern/pkg/types"
)

func entry(msg string) *types.LogEntry {
	return &types.LogEntry{Message: msg, Timestamp: time.Now(), Level: types.LevelInfo}
}

func TestRing_SequenceStrictlyIncreasing(t *testing.T) {
	r := New(10)
	var last uint64
	for i := 0; i < 20; i++ {
		seq := r.Append(entry("x"))
		assert.Greater(t, seq, last)
		last = seq
	}
}

func TestRing_OverflowDropsOldest(t *testing.T) {
	r := New(4)
	for _, m := range []string{"a", "b", "c", "d", "e"} {
		r.Append(entry(m))
	}
	page := r.Query(Filter{}, 10, 0)
	require.Len(t, page.Entries, 4)
	msgs := []string{}
	for _, e := range page.Entries {
		msgs = append(msgs, e.Message)
	}
	assert.Equal(t, []string{"b", "c", "d", "e"}, msgs)
	assert.Equal(t, uint64(1), r.Dropped())
}

func TestRing_QueryOffsetBeyondPopulationIsEmptyNotError(t *testing.T) {
	r := New(10)
	r.Append(entry("a"))
	page := r.Query(Filter{}, 10, 50)
	assert.Empty(t, page.Entries)
	assert.Equal(t, 1, page.Total)
}

func TestRing_SinceReturnsStrictlyAfterCursor(t *testing.T) {
	r := New(10)
	for i := 0; i < 5; i++ {
		r.Append(entry("x"))
	}
	head := r.HeadSeq()
	r.Append(entry("y"))
	r.Append(entry("z"))
	after := r.Since(head)
	require.Len(t, after, 2)
	assert.Equal(t, "y", after[0].Message)
}

func TestRing_SubscribeReceivesMatchingEntries(t *testing.T) {
	r := New(10)
	ch, _, cancel := r.Subscribe(Filter{Process: "Notes"})
	defer cancel()

	r.Append(&types.LogEntry{Message: "ignored", Process: "Other"})
	r.Append(&types.LogEntry{Message: "seen", Process: "Notes"})

	select {
	case e := <-ch:
		assert.Equal(t, "seen", e.Message)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscriber entry")
	}
}

func TestRing_LaggedSubscriberIsDroppedNotBlocking(t *testing.T) {
	r := New(10000)
	ch, lagged, cancel := r.Subscribe(Filter{})
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		r.Append(entry("flood"))
	}

	select {
	case <-lagged:
	case <-time.After(time.Second):
		t.Fatal("expected lagged signal")
	}
	_, open := <-ch
	assert.False(t, open, "channel should be closed after lagging")
}

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor(42)
	seq, ok := ParseCursor(c)
	require.True(t, ok)
	assert.Equal(t, uint64(42), seq)

	_, ok = ParseCursor("not-a-cursor")
	assert.False(t, ok)
}
