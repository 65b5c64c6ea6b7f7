package api

import (
	"encoding/base64"
	"net/http"

	"github.com/banshee-data/magnetprobe/internal/httputil"
	"github.com/banshee-data/magnetprobe/internal/monitoring"
	"github.com/banshee-data/magnetprobe/internal/probe"
	"github.com/banshee-data/magnetprobe/internal/reading"
	"github.com/banshee-data/magnetprobe/internal/render"
)

// ImageResponse is the body of a successful render request.
type ImageResponse struct {
	ImageBase64 string `json:"image_base64"`
}

func (s *Server) updateCoordinates(w http.ResponseWriter, r *http.Request) {
	rd, err := reading.DecodeFrom(r.Body, maxBodyBytes)
	if err != nil {
		httputil.UnprocessableEntity(w, err.Error())
		return
	}
	if err := s.svc.Update(r.Context(), probe.SourceHTTP, rd); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteMessage(w, updateSucceeded)
}

func (s *Server) latestCoordinates(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSONOK(w, s.svc.Latest())
}

// renderPosted renders the reading in the request body. Every failure,
// including a malformed body, is reported as 500 {"error": ...}.
func (s *Server) renderPosted(w http.ResponseWriter, r *http.Request) {
	style, ok := s.requestStyle(w, r)
	if !ok {
		return
	}
	rd, err := reading.DecodeFrom(r.Body, maxBodyBytes)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	s.writeBase64Image(w, rd, style)
}

func (s *Server) renderLatest(w http.ResponseWriter, r *http.Request) {
	style, ok := s.requestStyle(w, r)
	if !ok {
		return
	}
	s.writeBase64Image(w, s.svc.Latest(), style)
}

func (s *Server) latestImage(w http.ResponseWriter, r *http.Request) {
	style, ok := s.requestStyle(w, r)
	if !ok {
		return
	}
	img, err := s.svc.Render(s.svc.Latest(), style)
	if err != nil {
		monitoring.Logf("render failed: %v", err)
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WritePNG(w, img)
}

func (s *Server) writeBase64Image(w http.ResponseWriter, rd reading.Reading, style render.Style) {
	img, err := s.svc.Render(rd, style)
	if err != nil {
		monitoring.Logf("render failed: %v", err)
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, ImageResponse{ImageBase64: base64.StdEncoding.EncodeToString(img)})
}

// requestStyle reads ?style=, falling back to the configured style.
func (s *Server) requestStyle(w http.ResponseWriter, r *http.Request) (render.Style, bool) {
	name := r.URL.Query().Get("style")
	if name == "" {
		return s.svc.DefaultStyle(), true
	}
	style, err := render.ParseStyle(name)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return 0, false
	}
	return style, true
}
