package proxy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quern/pkg/types"
)

func TestStore_SecondaryIndexesAndEviction(t *testing.T) {
	s := New(2)
	f1 := &types.Flow{ID: 1, Request: types.FlowMessage{Host: "api.test", Method: "GET"}}
	f2 := &types.Flow{ID: 2, Request: types.FlowMessage{Host: "api.test", Method: "GET"}}
	f3 := &types.Flow{ID: 3, Request: types.FlowMessage{Host: "other.test", Method: "GET"}}
	s.Insert(f1)
	s.Insert(f2)
	s.Insert(f3) // evicts f1

	_, ok := s.Get(1)
	assert.False(t, ok, "oldest flow should be evicted once over capacity")

	page := s.Query(Filter{Host: "api.test"}, 10, 0)
	require.Len(t, page.Flows, 1)
	assert.Equal(t, uint64(2), page.Flows[0].ID)
}

func TestEngine_InterceptReleaseWithModification(t *testing.T) {
	var emitted []*types.LogEntry
	e := NewEngine(100, time.Second, func(entry *types.LogEntry) { emitted = append(emitted, entry) })
	e.Intercept.SetFilter("~d api.test & ~m POST")

	req := types.FlowMessage{Method: "POST", Host: "api.test", Path: "/x"}
	releasedCh := make(chan *types.FlowModifications, 1)
	go func() {
		_, _, mods := e.BeginRequest(context.Background(), 1, req, "127.0.0.1", "")
		releasedCh <- mods
	}()

	held := e.Intercept.ListHeld(context.Background(), time.Second)
	require.Len(t, held, 1)
	assert.Equal(t, uint64(1), held[0].Flow.ID)

	err := e.Intercept.Release(1, &types.FlowModifications{Headers: map[string]string{"X-Test": "1"}})
	require.NoError(t, err)

	mods := <-releasedCh
	require.NotNil(t, mods)
	assert.Equal(t, "1", mods.Headers["X-Test"])

	require.NoError(t, e.CompleteRequest(1, types.FlowMessage{Status: 200}, "", 12))
	flow, ok := e.Store.Get(1)
	require.True(t, ok)
	assert.True(t, flow.Completed)
	require.Len(t, emitted, 1)
}

func TestEngine_InterceptAutoReleasesOnTimeout(t *testing.T) {
	e := NewEngine(100, 20*time.Millisecond, nil)
	e.Intercept.SetFilter("~d api.test")

	req := types.FlowMessage{Method: "GET", Host: "api.test", Path: "/x"}
	flow, mock, mods := e.BeginRequest(context.Background(), 1, req, "", "")
	assert.Nil(t, mock)
	assert.Nil(t, mods)
	assert.Equal(t, uint64(1), flow.ID)
}

func TestEngine_MockPriorityOverIntercept(t *testing.T) {
	var emitted []*types.LogEntry
	e := NewEngine(100, time.Second, func(entry *types.LogEntry) { emitted = append(emitted, entry) })
	e.Mocks.Add("~d api.test & ~m GET", 200, nil, []byte(`{"ok":true}`))
	e.Intercept.SetFilter("~d api.test")

	req := types.FlowMessage{Method: "GET", Host: "api.test", Path: "/x"}
	flow, mock, mods := e.BeginRequest(context.Background(), 1, req, "", "")
	require.NotNil(t, mock)
	assert.Nil(t, mods)
	assert.Equal(t, types.FlowMock, flow.Source)
	assert.True(t, flow.Completed)

	held := e.Intercept.ListHeld(context.Background(), 10*time.Millisecond)
	assert.Empty(t, held, "mock match must short-circuit before reaching the intercept queue")
	require.Len(t, emitted, 1)
}

func TestStore_LargeResponseBodyRoundTripsThroughCompression(t *testing.T) {
	s := New(10)
	flow := &types.Flow{ID: 1, Request: types.FlowMessage{Host: "api.test"}}
	s.Insert(flow)

	body := make([]byte, compressThreshold*4)
	for i := range body {
		body[i] = byte(i % 251)
	}
	require.NoError(t, s.Complete(1, types.FlowMessage{Status: 200, Body: body}, "", 5))

	got, ok := s.Get(1)
	require.True(t, ok)
	assert.Equal(t, body, got.Response.Body)
}

func TestMockRegistry_UpdatePreservesPosition(t *testing.T) {
	m := NewMockRegistry()
	a := m.Add("~d a.test", 200, nil, nil)
	_ = m.Add("~d b.test", 200, nil, nil)

	newFilter := "~d a2.test"
	_, err := m.Update(a.ID, &newFilter, nil, nil, nil)
	require.NoError(t, err)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID, "update must not move the rule to the end")
	assert.Equal(t, "a2.test", list[0].Filter[len("~d "):])
}

func TestInterceptRegistry_ClearFilterReleasesAllHeld(t *testing.T) {
	r := NewInterceptRegistry(5 * time.Second)
	r.SetFilter("~d api.test")

	done := make(chan bool, 1)
	go func() {
		_, released := r.Hold(context.Background(), &types.Flow{ID: 7})
		done <- released
	}()

	held := r.ListHeld(context.Background(), time.Second)
	require.Len(t, held, 1)
	r.ClearFilter()
	assert.True(t, <-done)
}
