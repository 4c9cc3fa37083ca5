// Package testutil provides HTTP test helpers shared by the console's
// handler tests.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewRequest creates a test request with an optional body. remoteAddr
// replaces httptest's default documentation address when non-empty.
func NewRequest(method, target, body, remoteAddr string) *http.Request {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	r := httptest.NewRequest(method, target, rd)
	if remoteAddr != "" {
		r.RemoteAddr = remoteAddr
	}
	return r
}

// Serve runs one request through h and returns the recorded response.
func Serve(t testing.TB, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	return ServeFrom(t, h, method, target, body, "")
}

// ServeFrom is Serve with the request's RemoteAddr set to remoteAddr.
func ServeFrom(t testing.TB, h http.Handler, method, target, body, remoteAddr string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, NewRequest(method, target, body, remoteAddr))
	return rec
}
