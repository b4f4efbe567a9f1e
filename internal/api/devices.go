package api

import (
	"net/http"
	"time"

	"quern/pkg/qerrors"
	"quern/pkg/types"
)

// handleDevicesPool serves GET /api/v1/devices/pool.
func (s *Server) handleDevicesPool(w http.ResponseWriter, r *http.Request) {
	devices, err := s.d.Devices.Snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Devices []types.DeviceRecord `json:"devices"`
	}{Devices: devices})
}

type devicesClaimRequest struct {
	UDID      string `json:"udid"`
	SessionID string `json:"session_id"`
}

// handleDevicesClaim serves POST /api/v1/devices/claim. On a successful
// claim it also starts whichever devicelog adapters are configured for the
// claimed device, so a client that claims a device immediately gets its
// logs without a separate call.
func (s *Server) handleDevicesClaim(w http.ResponseWriter, r *http.Request) {
	var req devicesClaimRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, qerrors.Wrap(qerrors.InvalidArgument, err, "invalid request body"))
		return
	}
	dev, err := s.d.Devices.Claim(req.UDID, req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.startDeviceLogAdapters(r.Context(), dev)
	writeJSON(w, http.StatusOK, dev)
}

type devicesReleaseRequest struct {
	UDID      string `json:"udid"`
	SessionID string `json:"session_id"`
}

// handleDevicesRelease serves POST /api/v1/devices/release.
func (s *Server) handleDevicesRelease(w http.ResponseWriter, r *http.Request) {
	var req devicesReleaseRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, qerrors.Wrap(qerrors.InvalidArgument, err, "invalid request body"))
		return
	}
	if err := s.d.Devices.Release(req.UDID, req.SessionID); err != nil {
		writeError(w, err)
		return
	}
	s.stopDeviceLogAdapters(r.Context(), req.UDID)
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
	}{OK: true})
}

// handleDevicesCleanup serves POST /api/v1/devices/cleanup: releases every
// claim older than the pool's stale threshold.
func (s *Server) handleDevicesCleanup(w http.ResponseWriter, r *http.Request) {
	released, err := s.d.Devices.Cleanup()
	if err != nil {
		writeError(w, err)
		return
	}
	for _, udid := range released {
		s.stopDeviceLogAdapters(r.Context(), udid)
	}
	writeJSON(w, http.StatusOK, struct {
		Released []string `json:"released"`
	}{Released: released})
}

// handleDevicesRefresh serves POST /api/v1/devices/refresh: re-enumerates
// simulators and attached devices and reconciles the pool file.
func (s *Server) handleDevicesRefresh(w http.ResponseWriter, r *http.Request) {
	devices, err := s.d.Devices.Refresh(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Devices []types.DeviceRecord `json:"devices"`
	}{Devices: devices})
}

type devicesResolveRequest struct {
	Criteria    string  `json:"criteria"`
	Boot        bool    `json:"boot"`
	WaitSeconds float64 `json:"wait_seconds"`
	ClaimFor    string  `json:"claim_for"`
}

// handleDevicesResolve serves POST /api/v1/devices/resolve: finds (and
// optionally boots and claims) a single device matching criteria, waiting
// up to wait_seconds for one to become available.
func (s *Server) handleDevicesResolve(w http.ResponseWriter, r *http.Request) {
	var req devicesResolveRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, qerrors.Wrap(qerrors.InvalidArgument, err, "invalid request body"))
		return
	}
	wait := time.Duration(req.WaitSeconds * float64(time.Second))
	if wait > maxLongPollTimeout {
		wait = maxLongPollTimeout
	}
	dev, err := s.d.Devices.Resolve(r.Context(), req.Criteria, req.Boot, wait, req.ClaimFor)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.ClaimFor != "" {
		s.startDeviceLogAdapters(r.Context(), dev)
	}
	writeJSON(w, http.StatusOK, dev)
}

type devicesEnsureRequest struct {
	Count    int    `json:"count"`
	Criteria string `json:"criteria"`
	Boot     bool   `json:"boot"`
	ClaimFor string `json:"claim_for"`
}

// handleDevicesEnsure serves POST /api/v1/devices/ensure: resolves count
// devices matching criteria in one call, for multi-device test fan-out.
func (s *Server) handleDevicesEnsure(w http.ResponseWriter, r *http.Request) {
	var req devicesEnsureRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, qerrors.Wrap(qerrors.InvalidArgument, err, "invalid request body"))
		return
	}
	devices, err := s.d.Devices.Ensure(r.Context(), req.Count, req.Criteria, req.Boot, req.ClaimFor)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.ClaimFor != "" {
		for _, dev := range devices {
			s.startDeviceLogAdapters(r.Context(), dev)
		}
	}
	writeJSON(w, http.StatusOK, struct {
		Devices []types.DeviceRecord `json:"devices"`
	}{Devices: devices})
}
