package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"exact match", []string{"http://localhost:8080"}, "http://localhost:8080", true},
		{"case and trailing path ignored", []string{"HTTP://LocalHost:8080/"}, "http://localhost:8080/app", true},
		{"different port", []string{"http://localhost:8080"}, "http://localhost:9090", false},
		{"missing origin", []string{"http://localhost:8080"}, "", false},
		{"malformed origin", []string{"http://localhost:8080"}, "localhost", false},
		{"wildcard", []string{"*"}, "https://anything.example", true},
		{"wildcard still needs a valid origin", []string{"*"}, "", false},
		{"invalid config entries skipped", []string{"not-a-url", " "}, "http://localhost:8080", false},
		{"empty list", nil, "http://localhost:8080", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := newOriginPolicy(tt.allowed)
			req := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, policy.checkOrigin(req))
		})
	}
}

func TestUploadOriginGuard(t *testing.T) {
	_, ts := startTestServer(t, nil)

	post := func(origin string) int {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/upload", strings.NewReader("x"))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "text/plain")
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusForbidden, post("http://evil.example"))
	// Allowed or absent origins reach the handler, which rejects the empty body.
	assert.Equal(t, http.StatusBadRequest, post(testOrigin))
	assert.Equal(t, http.StatusBadRequest, post(""))
}
