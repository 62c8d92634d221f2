// Package api implements the HTTP surface of the beacon control container.
//
// Two route families share one mux. The legacy /beacon routes keep the exact
// paths and response shapes that existing test automation depends on. The
// /api/v1 routes use the JSON envelope with result, data, code, message and
// correlationId, and carry health, status, the SSE event stream and payload
// previews.
package api
