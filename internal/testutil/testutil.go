// Package testutil provides shared test utilities and fixtures.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/banshee-data/magnetprobe/internal/reading"
)

// SamplePayload is the coordinates body used across handler tests.
const SamplePayload = `{"x_sonda":5,"y_sonda":10,"z_masurat":2,"magnet_length":30,"magnet_width":20,"magnet_height":5,"progress":50}`

// SampleReading is SamplePayload decoded.
func SampleReading() reading.Reading {
	return reading.Reading{
		ProbeX: 5, ProbeY: 10, ProbeDepth: 2,
		MagnetLength: 30, MagnetWidth: 20, MagnetHeight: 5,
		Progress: 50,
	}
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// NewTestRequest creates a test HTTP request with an optional body.
func NewTestRequest(method, path, body string) *http.Request {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// Serve runs a request against h and returns the recorded response.
func Serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, NewTestRequest(method, path, body))
	return rec
}

// DecodeJSON decodes the recorded body into v.
func DecodeJSON(t testing.TB, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content-type = %q, want application/json", ct)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}
