package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"quern/internal/proxy"
	"quern/internal/summary"
	"quern/pkg/qerrors"
	"quern/pkg/types"
)

// replaySeq assigns ids to synthesized replay flows, starting well above
// the range mitmproxy's addon assigns so the two never collide in the
// flow store's byID index.
var replaySeq uint64 = 1 << 62

func nextReplayID() uint64 {
	return atomic.AddUint64(&replaySeq, 1)
}

func flowFilterFromQuery(q url.Values) proxy.Filter {
	host := q.Get("host")
	hostSuffix := false
	if host != "" && host[0] == '.' {
		hostSuffix = true
	}
	return proxy.Filter{
		Host:         host,
		HostSuffix:   hostSuffix,
		PathContains: q.Get("path"),
		Method:       q.Get("method"),
		StatusMin:    queryInt(q, "status_min", 0),
		StatusMax:    queryInt(q, "status_max", 0),
		ErrorsOnly:   q.Get("errors_only") == "true",
		DeviceUDID:   q.Get("udid"),
		ClientIP:     q.Get("client_ip"),
	}
}

// handleFlowsList serves GET /api/v1/proxy/flows.
func (s *Server) handleFlowsList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := s.d.Proxy.Store.Query(flowFilterFromQuery(q), queryInt(q, "limit", 100), queryInt(q, "offset", 0))
	writeJSON(w, http.StatusOK, struct {
		Flows []*types.Flow `json:"flows"`
		Total int            `json:"total"`
	}{Flows: page.Flows, Total: page.Total})
}

// handleFlowGet serves GET /api/v1/proxy/flows/{id}.
func (s *Server) handleFlowGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, qerrors.New(qerrors.InvalidArgument, "invalid flow id"))
		return
	}
	flow, ok := s.d.Proxy.Store.Get(id)
	if !ok {
		writeError(w, qerrors.Newf(qerrors.NotFound, "flow %d not found", id))
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

type flowsWaitRequest struct {
	Host       string `json:"host"`
	PathContains string `json:"path"`
	Method     string `json:"method"`
	TimeoutS   float64 `json:"timeout"`
	IntervalMS int     `json:"interval_ms"`
}

const waitBackdate = 5 * time.Second

// handleFlowsWait serves POST /api/v1/proxy/flows/wait: long-polls (capped
// at 60s) for a flow matching the filters, backdating the search window by
// 5s per spec.md §4.I so flows completing between the UI action and the
// wait call are still caught. Timeout is not an error: it answers 200 with
// matched=false.
func (s *Server) handleFlowsWait(w http.ResponseWriter, r *http.Request) {
	var req flowsWaitRequest
	if r.ContentLength != 0 {
		if err := decodeJSONBody(r, &req); err != nil {
			writeError(w, qerrors.Wrap(qerrors.InvalidArgument, err, "invalid request body"))
			return
		}
	}
	timeout := time.Duration(req.TimeoutS * float64(time.Second))
	if timeout <= 0 || timeout > maxLongPollTimeout {
		timeout = maxLongPollTimeout
	}
	interval := time.Duration(req.IntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	if interval > 2*time.Second {
		interval = 2 * time.Second
	}

	filter := proxy.Filter{Host: req.Host, PathContains: req.PathContains, Method: req.Method}
	windowStart := time.Now().Add(-waitBackdate)

	ctx := r.Context()
	deadline := time.Now().Add(timeout)
	for {
		page := s.d.Proxy.Store.Query(filter, 0, 0)
		for _, f := range page.Flows {
			if f.StartedAt.After(windowStart) {
				writeJSON(w, http.StatusOK, struct {
					Matched bool        `json:"matched"`
					Flow    *types.Flow `json:"flow"`
				}{Matched: true, Flow: f})
				return
			}
		}
		if time.Now().After(deadline) {
			writeJSON(w, http.StatusOK, struct {
				Matched bool `json:"matched"`
			}{Matched: false})
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// handleFlowsSummary serves GET /api/v1/proxy/flows/summary.
func (s *Server) handleFlowsSummary(w http.ResponseWriter, r *http.Request) {
	sinceCursor := r.URL.Query().Get("since_cursor")
	ordinal, _ := summary.ParseFlowCursor(sinceCursor)
	flows := s.d.Proxy.Store.SinceStoreSeq(ordinal)
	digest := summary.Flows(flows, sinceCursor)
	writeJSON(w, http.StatusOK, digest)
}

// handleProxyStart serves POST /api/v1/proxy/start.
func (s *Server) handleProxyStart(w http.ResponseWriter, r *http.Request) {
	if err := s.d.StartProxy(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
	}{OK: true})
}

// handleProxyStop serves POST /api/v1/proxy/stop.
func (s *Server) handleProxyStop(w http.ResponseWriter, r *http.Request) {
	if err := s.d.StopProxy(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
	}{OK: true})
}

// handleInterceptGet serves GET /api/v1/proxy/intercept.
func (s *Server) handleInterceptGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Filter *types.InterceptRule `json:"filter"`
	}{Filter: s.d.Proxy.Intercept.Filter()})
}

type interceptSetRequest struct {
	Filter string `json:"filter"`
}

// handleInterceptSet serves POST /api/v1/proxy/intercept.
func (s *Server) handleInterceptSet(w http.ResponseWriter, r *http.Request) {
	var req interceptSetRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, qerrors.Wrap(qerrors.InvalidArgument, err, "invalid request body"))
		return
	}
	s.d.Proxy.Intercept.SetFilter(req.Filter)
	writeJSON(w, http.StatusOK, struct {
		Filter *types.InterceptRule `json:"filter"`
	}{Filter: s.d.Proxy.Intercept.Filter()})
}

// handleInterceptClear serves DELETE /api/v1/proxy/intercept.
func (s *Server) handleInterceptClear(w http.ResponseWriter, r *http.Request) {
	s.d.Proxy.Intercept.ClearFilter()
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
	}{OK: true})
}

// handleInterceptHeld serves GET /api/v1/proxy/intercept/held?timeout=.
func (s *Server) handleInterceptHeld(w http.ResponseWriter, r *http.Request) {
	timeout := clampTimeout(r.URL.Query(), "timeout", maxLongPollTimeout)
	held := s.d.Proxy.Intercept.ListHeld(r.Context(), timeout)
	writeJSON(w, http.StatusOK, struct {
		Flows []types.HeldFlow `json:"flows"`
	}{Flows: held})
}

type interceptReleaseRequest struct {
	ID            uint64                    `json:"id"`
	Modifications *types.FlowModifications `json:"modifications,omitempty"`
}

// handleInterceptRelease serves POST /api/v1/proxy/intercept/release.
func (s *Server) handleInterceptRelease(w http.ResponseWriter, r *http.Request) {
	var req interceptReleaseRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, qerrors.Wrap(qerrors.InvalidArgument, err, "invalid request body"))
		return
	}
	if err := s.d.Proxy.Intercept.Release(req.ID, req.Modifications); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
	}{OK: true})
}

// handleProxyReplay serves POST /api/v1/proxy/replay/{id}: re-issues the
// captured request over the wire and stores the result as a new flow with
// source=replay, so replays show up in the normal flow list alongside the
// originals.
func (s *Server) handleProxyReplay(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, qerrors.New(qerrors.InvalidArgument, "invalid flow id"))
		return
	}
	original, ok := s.d.Proxy.Store.Get(id)
	if !ok {
		writeError(w, qerrors.Newf(qerrors.NotFound, "flow %d not found", id))
		return
	}

	replayed, err := replayFlow(r.Context(), s.d.Proxy.Replay, original)
	if err != nil {
		writeError(w, qerrors.Wrap(qerrors.SubprocessFailed, err, "replay request failed"))
		return
	}
	s.d.Proxy.Store.Insert(replayed)
	writeJSON(w, http.StatusOK, replayed)
}

func replayFlow(ctx context.Context, client *proxy.ReplayClient, original *types.Flow) (*types.Flow, error) {
	scheme := original.Request.Scheme
	if scheme == "" {
		scheme = "https"
	}
	target := url.URL{Scheme: scheme, Host: original.Request.Host, Path: original.Request.Path}

	method := original.Request.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(original.Request.Body) > 0 {
		body = bytes.NewReader(original.Request.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	for k, v := range original.Request.Headers {
		req.Header.Set(k, v)
	}

	out := &types.Flow{
		ID:         nextReplayID(),
		StartedAt:  time.Now(),
		ClientIP:   original.ClientIP,
		DeviceUDID: original.DeviceUDID,
		Request:    original.Request,
		Source:     types.FlowReplay,
	}

	resp, err := client.Do(req)
	if err != nil {
		out.Error = err.Error()
		out.Completed = true
		out.EndedAt = time.Now()
		return out, nil
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	out.Response = types.FlowMessage{Status: resp.StatusCode, Headers: headers, Body: respBody}
	out.Completed = true
	out.EndedAt = time.Now()
	out.DurationMS = out.EndedAt.Sub(out.StartedAt).Milliseconds()
	return out, nil
}

// handleMocksList serves GET /api/v1/proxy/mocks.
func (s *Server) handleMocksList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Rules []types.MockRule `json:"rules"`
	}{Rules: s.d.Proxy.Mocks.List()})
}

type mockCreateRequest struct {
	Filter  string            `json:"filter"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body"`
}

// handleMocksCreate serves POST /api/v1/proxy/mocks.
func (s *Server) handleMocksCreate(w http.ResponseWriter, r *http.Request) {
	var req mockCreateRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, qerrors.Wrap(qerrors.InvalidArgument, err, "invalid request body"))
		return
	}
	if req.Status == 0 {
		req.Status = http.StatusOK
	}
	rule := s.d.Proxy.Mocks.Add(req.Filter, req.Status, req.Headers, req.Body)
	writeJSON(w, http.StatusOK, rule)
}

type mockUpdateRequest struct {
	Filter  *string           `json:"filter"`
	Status  *int              `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body"`
}

// handleMocksUpdate serves PATCH /api/v1/proxy/mocks/{rule_id}.
func (s *Server) handleMocksUpdate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["rule_id"]
	var req mockUpdateRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, qerrors.Wrap(qerrors.InvalidArgument, err, "invalid request body"))
		return
	}
	rule, err := s.d.Proxy.Mocks.Update(id, req.Filter, req.Status, req.Headers, req.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// handleMocksDelete serves DELETE /api/v1/proxy/mocks/{rule_id}.
func (s *Server) handleMocksDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["rule_id"]
	if err := s.d.Proxy.Mocks.Remove(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
	}{OK: true})
}

// addonFlowEnvelope is the wire shape the mitmproxy addon posts to
// POST /api/v1/proxy/internal/flow, mirroring Engine's two lifecycle calls.
type addonFlowEnvelope struct {
	Phase      string           `json:"phase"` // "begin" | "complete"
	ID         uint64           `json:"id"`
	ClientIP   string           `json:"client_ip"`
	DeviceUDID string           `json:"device_udid"`
	Request    types.FlowMessage `json:"request"`
	Response   types.FlowMessage `json:"response"`
	Error      string           `json:"error"`
	DurationMS int64            `json:"duration_ms"`
}

type addonFlowResponse struct {
	Mock          *types.MockRule          `json:"mock,omitempty"`
	Modifications *types.FlowModifications `json:"modifications,omitempty"`
}

// handleProxyInternalFlow serves POST /api/v1/proxy/internal/flow, gated
// by the proxy control-file secret (see proxySecretMiddleware), not the
// normal API key. "begin" calls may block inside BeginRequest pending an
// intercept release; the addon is expected to hold its own connection open
// for up to the configured hold timeout.
func (s *Server) handleProxyInternalFlow(w http.ResponseWriter, r *http.Request) {
	var env addonFlowEnvelope
	if err := decodeJSONBody(r, &env); err != nil {
		writeError(w, qerrors.Wrap(qerrors.InvalidArgument, err, "invalid flow envelope"))
		return
	}

	switch env.Phase {
	case "begin":
		_, mock, mods := s.d.Proxy.BeginRequest(r.Context(), env.ID, env.Request, env.ClientIP, env.DeviceUDID)
		writeJSON(w, http.StatusOK, addonFlowResponse{Mock: mock, Modifications: mods})
	case "complete":
		if err := s.d.Proxy.CompleteRequest(env.ID, env.Response, env.Error, env.DurationMS); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			OK bool `json:"ok"`
		}{OK: true})
	default:
		writeError(w, qerrors.Newf(qerrors.InvalidArgument, "unknown phase %q", env.Phase))
	}
}
