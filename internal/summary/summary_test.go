package summary

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quern/internal/ring"
	"quern/pkg/types"
)

func TestLogs_CursorDeltaScenario(t *testing.T) {
	r := ring.New(100)
	for i := 0; i < 10; i++ {
		r.Append(&types.LogEntry{Message: "boot", Level: types.LevelInfo, Timestamp: time.Now()})
	}
	d1 := Logs(r, Window5m, "", "")
	total1 := 0
	for _, c := range d1.CountsByLevel {
		total1 += c
	}
	assert.Equal(t, 10, total1)

	for i := 0; i < 3; i++ {
		r.Append(&types.LogEntry{Message: "more", Level: types.LevelInfo, Timestamp: time.Now()})
	}
	d2 := Logs(r, Window5m, "", d1.Cursor)
	total2 := 0
	for _, c := range d2.CountsByLevel {
		total2 += c
	}
	assert.Equal(t, 3, total2)

	seq1, _ := ring.ParseCursor(d1.Cursor)
	seq2, _ := ring.ParseCursor(d2.Cursor)
	assert.GreaterOrEqual(t, seq2, seq1)
}

func TestFlows_CursorDelta(t *testing.T) {
	flows := []*types.Flow{
		{ID: 1, StoreSeq: 1, Request: types.FlowMessage{Host: "api.test"}, Response: types.FlowMessage{Status: 200}},
		{ID: 2, StoreSeq: 2, Request: types.FlowMessage{Host: "api.test"}, Response: types.FlowMessage{Status: 500}},
	}
	d1 := Flows(flows, "")
	require.Equal(t, 1, d1.CountsByStatus["2xx"])
	require.Equal(t, 1, d1.CountsByStatus["5xx"])

	flows = append(flows, &types.Flow{ID: 3, StoreSeq: 3, Request: types.FlowMessage{Host: "api.test"}, Response: types.FlowMessage{Status: 200}})
	d2 := Flows(flows, d1.Cursor)
	assert.Equal(t, 1, d2.CountsByStatus["2xx"])
	assert.Equal(t, 0, d2.CountsByStatus["5xx"])
}
