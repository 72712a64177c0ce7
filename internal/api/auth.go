package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	tickets *xsync.MapOf[string, ticketEntry]
}

type ticketEntry struct {
	subject   string
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: xsync.NewMapOf[string, ticketEntry]()}
}

// issue creates a ticket for subject.
func (t *ticketStore) issue(subject string) string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	ticket := hex.EncodeToString(b)
	t.tickets.Store(ticket, ticketEntry{subject: subject, expiresAt: time.Now().Add(ticketTTL)})
	return ticket
}

// consume validates and removes a ticket (single-use).
func (t *ticketStore) consume(ticket string) (ticketEntry, bool) {
	entry, ok := t.tickets.LoadAndDelete(ticket)
	if !ok || time.Now().After(entry.expiresAt) {
		return ticketEntry{}, false
	}
	return entry, true
}

// cleanExpired removes expired tickets.
func (t *ticketStore) cleanExpired() {
	now := time.Now()
	t.tickets.Range(func(ticket string, entry ticketEntry) bool {
		if now.After(entry.expiresAt) {
			t.tickets.Delete(ticket)
		}
		return true
	})
}

// handleWSTicket generates a single-use WebSocket authentication ticket.
// The client passes it as ?ticket= so the JWT never appears in a URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	ticket := s.tickets.issue(subjectFromContext(r.Context()))

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// cleanTicketsLoop runs cleanExpired periodically until the context is cancelled.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickets.cleanExpired()
		}
	}
}
