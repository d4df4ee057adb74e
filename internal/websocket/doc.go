// Package websocket streams pipeline stage events to connected clients.
//
// The Hub implements the pipeline progress sink: every stage start,
// completion and failure is serialized once and fanned out to all clients.
// Slow clients are disconnected rather than allowed to stall a run.
package websocket
