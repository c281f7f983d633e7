// Package server defines shared response types and utility helpers that are
// reused across the WebSocket and upload handlers.
package server

import "strings"

// UploadResult is the JSON body returned by a successful upload. URL is what
// a client then sends as the data of an image or file message.
type UploadResult struct {
	URL  string `json:"url"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	Name string `json:"name"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
