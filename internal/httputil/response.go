// Package httputil holds the JSON and image response helpers shared by the
// API handlers.
package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/banshee-data/magnetprobe/internal/monitoring"
)

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

// MessageBody is the payload of a bare acknowledgement.
type MessageBody struct {
	Message string `json:"message"`
}

// WriteJSONError writes {"error": msg} with the given status code.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorBody{Error: msg})
}

// WriteJSON writes data as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		monitoring.Logf("failed to encode json response: %v", err)
	}
}

// WriteJSONOK writes data as JSON with 200 OK.
func WriteJSONOK(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteMessage writes {"message": msg} with 200 OK.
func WriteMessage(w http.ResponseWriter, msg string) {
	WriteJSONOK(w, MessageBody{Message: msg})
}

// WritePNG writes encoded PNG bytes with 200 OK. The image is never cached
// since it reflects the latest reading.
func WritePNG(w http.ResponseWriter, img []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(img); err != nil {
		monitoring.Logf("failed to write png response: %v", err)
	}
}

// MethodNotAllowed writes a 405 response.
func MethodNotAllowed(w http.ResponseWriter) {
	WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// BadRequest writes a 400 response.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusBadRequest, msg)
}

// UnprocessableEntity writes a 422 response for a well-formed request whose
// body fails validation.
func UnprocessableEntity(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusUnprocessableEntity, msg)
}

// InternalServerError writes a 500 response.
func InternalServerError(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusInternalServerError, msg)
}

// NotFound writes a 404 response.
func NotFound(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusNotFound, msg)
}
