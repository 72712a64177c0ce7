package api

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"strings"

	"github.com/nerrad567/indi-panel/internal/audit"
	"github.com/nerrad567/indi-panel/internal/indi"
)

// connectRequest is the request body for POST /indi/connect.
type connectRequest struct {
	Host string `json:"host"`
}

// commandRequest is the request body for POST /indi/command.
type commandRequest struct {
	Command string `json:"command"`
}

// exposureRequest is the request body for POST /indi/exposure.
type exposureRequest struct {
	CCD       string   `json:"ccd"`
	Exposure  float64  `json:"exposure"`
	FrameType string   `json:"frame_type"`
	Subfolder string   `json:"subfolder,omitempty"`
	ISO       *float64 `json:"iso,omitempty"`
}

// snapshotResponse is the body of GET /indi/snapshot.
type snapshotResponse struct {
	Devices           indi.Devices `json:"devices"`
	IsConnected       bool         `json:"is_connected"`
	Host              string       `json:"host,omitempty"`
	LastSavedArtifact *string      `json:"last_saved_artifact"`
}

// handleConnect opens the INDI connection. An empty host falls back to
// indi.default_host.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	host := strings.TrimSpace(req.Host)
	if host == "" {
		host = s.defaultHost
	}
	if host == "" {
		writeBadRequest(w, "host is required")
		return
	}

	err := s.engine.Connect(r.Context(), host)
	s.auditLog(r.Context(), audit.ActionConnect, host, "", nil, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"connected": true,
		"host":      host,
	})
}

// handleDisconnect closes the INDI connection. Always succeeds.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	err := s.engine.Disconnect()
	s.auditLog(r.Context(), audit.ActionDisconnect, "", "", nil, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connected": false})
}

// handleCommand writes a raw INDI command to the server.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	err := s.engine.SendRaw(r.Context(), req.Command)
	s.auditLog(r.Context(), audit.ActionCommand, "", "", map[string]any{"command": req.Command}, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": true})
}

// handleExposure runs the imaging command sequence and returns the job ID.
// The response is 202: the sequence has been sent, the exposure itself is
// still running on the device and its BLOB arrives as a blob_saved event.
//
// The sequence is not cancelled when the caller goes away; a half-sent
// sequence would leave the device partially configured.
func (s *Server) handleExposure(w http.ResponseWriter, r *http.Request) {
	var req exposureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.CCD) == "" {
		writeBadRequest(w, "ccd is required")
		return
	}
	if req.Exposure < 0 {
		writeBadRequest(w, "exposure must not be negative")
		return
	}

	subfolder, ok := sanitizeSubfolder(req.Subfolder)
	if !ok {
		writeBadRequest(w, "invalid subfolder")
		return
	}

	details := map[string]any{
		"exposure":   req.Exposure,
		"frame_type": req.FrameType,
	}
	if subfolder != "" {
		details["subfolder"] = subfolder
	}
	if req.ISO != nil {
		details["iso"] = *req.ISO
	}

	jobID, err := s.engine.StartImagingJob(context.WithoutCancel(r.Context()), indi.ImagingRequest{
		Device:    req.CCD,
		Exposure:  req.Exposure,
		FrameType: req.FrameType,
		Subfolder: subfolder,
		ISO:       req.ISO,
	})
	if jobID != "" {
		details["job_id"] = jobID
	}
	s.auditLog(r.Context(), audit.ActionExposure, "", req.CCD, details, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":    jobID,
		"device":    req.CCD,
		"subfolder": subfolder,
	})
}

// handleSnapshot returns a consistent view of the device tree.
func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	snap := s.engine.Snapshot()
	writeJSON(w, http.StatusOK, snapshotResponse{
		Devices:           snap.Devices,
		IsConnected:       snap.Connected,
		Host:              snap.Host,
		LastSavedArtifact: snap.LastSavedArtifact,
	})
}

// handleStats returns engine counters.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

// sanitizeSubfolder reduces a caller-supplied subfolder to a single path
// element of [A-Za-z0-9._-]. Other characters are dropped. ok is false when
// a non-empty input leaves nothing usable.
func sanitizeSubfolder(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", true
	}

	base := path.Base(strings.ReplaceAll(raw, `\`, "/"))
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		}
		return -1
	}, base)

	if clean == "" || strings.Trim(clean, ".") == "" {
		return "", false
	}
	return clean, true
}
