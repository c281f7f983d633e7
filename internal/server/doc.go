// Package server implements the HTTP and WebSocket side of MiniChat.
//
// The implementation is organized into specialized files for configuration,
// origin checks, the WebSocket transport adapter, routing, uploads and HTTP
// handlers. Shared chat state lives in package chat; this package only
// adapts connections to it.
package server
