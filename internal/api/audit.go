package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/indi-panel/internal/audit"
)

// auditChanSize is the buffer size for the async audit log channel.
// Entries beyond this are dropped (best-effort) to avoid back-pressure on requests.
const auditChanSize = 256

// auditLog enqueues an audit entry for asynchronous write (best-effort).
// A non-nil opErr marks the entry as a failure and records its message.
// If the channel is full the entry is dropped and a warning is logged.
func (s *Server) auditLog(ctx context.Context, action, host, device string, details map[string]any, opErr error) {
	if s.auditRepo == nil || s.auditCh == nil {
		return
	}

	outcome := audit.OutcomeSuccess
	if opErr != nil {
		outcome = audit.OutcomeFailure
		if details == nil {
			details = make(map[string]any, 1)
		}
		details["error"] = opErr.Error()
	}

	entry := &audit.Entry{
		Action:  action,
		Host:    host,
		Device:  device,
		Details: details,
		Outcome: outcome,
		Subject: subjectFromContext(ctx),
	}

	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit log channel full, dropping entry", "action", action)
	}
}

// drainAuditLog writes queued entries serially until the context is
// cancelled, then drains what is left.
func (s *Server) drainAuditLog(ctx context.Context) {
	for {
		select {
		case entry := <-s.auditCh:
			s.writeAuditEntry(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					s.writeAuditEntry(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) writeAuditEntry(entry *audit.Entry) {
	if err := s.auditRepo.Create(context.Background(), entry); err != nil {
		s.logger.Error("audit log write failed",
			"action", entry.Action,
			"error", err,
		)
	}
}

// handleListAuditLogs returns paginated audit entries, newest first.
//
// Query parameters:
//   - action: connect, disconnect, command, exposure
//   - device: filter by device name
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeServiceUnavailable(w, "audit trail not configured")
		return
	}

	q := r.URL.Query()
	limit, offset := pagination(q.Get("limit"), q.Get("offset"))
	result, err := s.auditRepo.List(r.Context(), audit.Filter{
		Action: q.Get("action"),
		Device: q.Get("device"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// pagination parses limit/offset query values; unparseable values are zero.
func pagination(limitRaw, offsetRaw string) (limit, offset int) {
	if v, err := strconv.Atoi(limitRaw); err == nil {
		limit = v
	}
	if v, err := strconv.Atoi(offsetRaw); err == nil {
		offset = v
	}
	return limit, offset
}
