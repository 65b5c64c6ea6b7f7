package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/magnetprobe/internal/broadcast"
	"github.com/banshee-data/magnetprobe/internal/httputil"
)

// tailBuffer is how many readings an SSE client may fall behind by before
// the broadcast deadline starts to apply.
const tailBuffer = 16

// AttachAdminRoutes attaches the reading tail and viewer list to the debug
// mux served at /debug/. These routes are only reachable from localhost or
// over Tailscale.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleSilentFunc("tail", s.tailReadings)
	debug.HandleFunc("viewers", "connected live viewers", s.listViewers)
}

// tailReadings streams every broadcast reading as server-sent events. The
// stream joins the same registry as WebSocket viewers.
func (s *Server) tailReadings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	q := broadcast.NewQueueChannel(tailBuffer)
	reg := s.svc.Registry()
	id := reg.Register(q)
	defer func() {
		reg.Unregister(id)
		_ = q.Close()
	}()

	// Send initial ping to establish connection
	if _, err := w.Write([]byte(": ping\n\n")); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case rd := <-q.Readings():
			payload, err := json.Marshal(rd)
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-q.Done():
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) listViewers(w http.ResponseWriter, _ *http.Request) {
	lastUpdate := ""
	if _, at := s.svc.LatestAt(); !at.IsZero() {
		lastUpdate = at.UTC().Format(time.RFC3339)
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"count":       s.svc.Registry().Len(),
		"ids":         s.svc.Registry().IDs(),
		"last_update": lastUpdate,
	})
}
