package proxy

import (
	"context"
	"time"

	"quern/internal/adapter/proxysink"
	"quern/internal/metrics"
	"quern/pkg/types"
)

// Engine wires the flow store together with the mock and intercept
// registries and the log pipeline. It is what the addon-callback HTTP
// handlers in internal/api actually call.
type Engine struct {
	Store     *Store
	Mocks     *MockRegistry
	Intercept *InterceptRegistry
	Replay    *ReplayClient
	emit      types.EmitFunc
}

// NewEngine wires a flow store with fresh registries. emit fans the
// one-line flow summary into the shared log pipeline on completion.
func NewEngine(maxFlows int, holdTimeout time.Duration, emit types.EmitFunc) *Engine {
	return &Engine{
		Store:     New(maxFlows),
		Mocks:     NewMockRegistry(),
		Intercept: NewInterceptRegistry(holdTimeout),
		Replay:    NewReplayClient(DefaultReplayClientConfig()),
		emit:      emit,
	}
}

// BeginRequest records a new in-flight flow reported by the addon's
// request-lifecycle hook, with id being the addon-assigned flow id. Per the
// ordering guarantee, mocks are evaluated first: a match short-circuits the
// request, records a source=mock flow, and skips the intercept path
// entirely. Otherwise, if the flow matches the active intercept filter, the
// call blocks (via ctx) until the held flow is released or times out.
//
// The returned *types.Flow is the live record; mods is non-nil only when
// an intercepted flow was released with overrides the addon must apply
// before forwarding upstream.
func (e *Engine) BeginRequest(ctx context.Context, id uint64, req types.FlowMessage, clientIP, udid string) (flow *types.Flow, mock *types.MockRule, mods *types.FlowModifications) {
	probe := &types.Flow{ID: id, Request: req, ClientIP: clientIP, DeviceUDID: udid}
	if rule, ok := e.Mocks.Match(probe); ok {
		flow = &types.Flow{
			ID:         id,
			StartedAt:  time.Now(),
			ClientIP:   clientIP,
			DeviceUDID: udid,
			Request:    req,
			Source:     types.FlowMock,
		}
		e.Store.Insert(flow)
		metrics.RecordFlowCaptured("mocked")
		e.updateStoreSize()
		e.completeAndEmit(flow, types.FlowMessage{Status: rule.Status, Headers: rule.Headers, Body: rule.Body}, "", 0)
		return flow, &rule, nil
	}

	flow = &types.Flow{
		ID:         id,
		StartedAt:  time.Now(),
		ClientIP:   clientIP,
		DeviceUDID: udid,
		Request:    req,
		Source:     types.FlowLive,
	}
	e.Store.Insert(flow)
	e.updateStoreSize()

	if e.Intercept.Matches(flow) {
		mods, released := e.Intercept.Hold(ctx, flow)
		if released {
			metrics.RecordFlowCaptured("intercepted")
			return flow, nil, mods
		}
	}
	metrics.RecordFlowCaptured("passthrough")
	return flow, nil, nil
}

func (e *Engine) updateStoreSize() {
	count, _ := e.Store.Usage()
	metrics.FlowStoreSize.Set(float64(count))
}

// CompleteRequest fills in the response half reported by the addon and
// emits the flow's summary LogEntry. durationMS is measured by the addon,
// which sits closest to the actual wire timing.
func (e *Engine) CompleteRequest(id uint64, resp types.FlowMessage, flowErr string, durationMS int64) error {
	flow, ok := e.Store.Get(id)
	if !ok {
		return nil
	}
	if err := e.Store.Complete(id, resp, flowErr, durationMS); err != nil {
		return err
	}
	if e.emit != nil {
		e.emit(proxysink.Summarize(flow))
	}
	return nil
}

func (e *Engine) completeAndEmit(flow *types.Flow, resp types.FlowMessage, flowErr string, durationMS int64) {
	_ = e.Store.Complete(flow.ID, resp, flowErr, durationMS)
	if e.emit != nil {
		e.emit(proxysink.Summarize(flow))
	}
}
