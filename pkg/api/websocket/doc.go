// Package websocket provides real-time run event streaming via WebSocket.
//
// Clients connect to /api/v1/runs/:id/ws to receive status, thread and log
// events of one run as JSON messages.
package websocket
