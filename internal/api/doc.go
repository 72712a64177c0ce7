// Package api implements the HTTP REST API and WebSocket server for INDI Panel.
//
// This package provides:
//   - REST endpoints for the INDI boundary operations (connect, disconnect,
//     raw command, imaging job, state snapshot)
//   - WebSocket hub pushing engine events to browsers
//   - Capture catalog and audit trail listings
//   - JWT bearer authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Error Mapping
//
// Engine errors become structured JSON errors: an existing connection is 409,
// a missing connection is 503, transport failures are 502, and invalid input
// is 400.
//
// # Security
//
// Authentication is enabled when security.jwt.secret is set. Tokens are
// minted offline with `indipanel token`; viewers may read, operators may
// also drive the INDI connection.
package api
