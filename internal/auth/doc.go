// Package auth issues and validates the bearer tokens that guard the API.
//
// There is no user store: tokens are minted by `indipanel token` with the
// configured HS256 secret and carry a subject and a role. Viewers may read
// state; operators may also drive the INDI connection.
package auth
