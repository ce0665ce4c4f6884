/*
Package handlers implements the HTTP endpoints of the ragchat API.

  - ChatHandler    — POST /api/chat/stream, one conversation turn over SSE
  - SessionHandler — session CRUD and message listing
  - HealthHandler  — liveness and dependency readiness

All handlers follow standard net/http, share the Response envelope, and
map structured errors to HTTP statuses via WriteError.
*/
package handlers
