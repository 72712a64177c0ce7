package api

import (
	"net/http"

	"github.com/nerrad567/indi-panel/internal/capture"
)

// handleListCaptures lists saved BLOB artifacts, newest first.
//
// Query parameters:
//   - device: filter by device name
//   - job_id: filter by imaging job
//   - limit, offset: pagination
func (s *Server) handleListCaptures(w http.ResponseWriter, r *http.Request) {
	if s.captures == nil {
		writeServiceUnavailable(w, "capture catalog not configured")
		return
	}

	q := r.URL.Query()
	limit, offset := pagination(q.Get("limit"), q.Get("offset"))
	result, err := s.captures.List(r.Context(), capture.Filter{
		Device: q.Get("device"),
		JobID:  q.Get("job_id"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("failed to list captures", "error", err)
		writeInternalError(w, "failed to list captures")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
