// Serialmux provides an abstraction over a serial port with the ability for
// multiple clients to subscribe to lines read from the port and send
// commands to the single device attached to it.
package serialmux

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"tailscale.com/tsweb"

	"github.com/banshee-data/magnetprobe/internal/monitoring"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

// subscriberBuffer is how many lines a subscriber may fall behind by before
// further lines are dropped for it.
const subscriberBuffer = 32

// maxLineBytes bounds a single line read from the device.
const maxLineBytes = 64 * 1024

// SerialMux is a generic serial port multiplexer that allows multiple clients to
// subscribe to lines from a single serial port.
type SerialMux[T SerialPorter] struct {
	port         T
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
}

// SerialMuxInterface is the surface shared by the real and disabled muxes.
type SerialMuxInterface interface {
	// Subscribe creates a new channel for receiving lines from the serial
	// port. The channel ID is used to identify the channel when
	// unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the provided command to the serial port.
	SendCommand(string) error
	// Monitor reads lines from the serial port and fans them out to
	// subscribers until ctx is done or the port fails.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux over an already opened port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.closing {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SendCommand sends a newline-terminated command to the serial port.
func (s *SerialMux[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads lines from the port and sends them to subscribers. Blank
// lines and trailing carriage returns are dropped, as is any line longer than
// maxLineBytes.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking read runs on its own goroutine so the loop below can
	// still observe cancellation.
	go func() {
		defer close(lineChan)
		if err := scanLines(ctx, s.port, lineChan); err != nil {
			scanErrChan <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return fmt.Errorf("serial read failed: %w", err)

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					return fmt.Errorf("serial read failed: %w", err)
				default:
					return nil
				}
			}
			line = strings.TrimRight(line, "\r")
			if strings.TrimSpace(line) == "" {
				continue
			}
			if !s.publish(line) {
				return nil
			}
		}
	}
}

// scanLines sends each newline-terminated line of r to out until EOF or ctx
// is done. An over-long line is discarded through its newline and reading
// carries on with the next one.
func scanLines(ctx context.Context, r io.Reader, out chan<- string) error {
	br := bufio.NewReaderSize(r, 4096)
	var (
		buf      []byte
		overlong bool
	)
	for {
		chunk, err := br.ReadSlice('\n')
		if !overlong {
			buf = append(buf, chunk...)
			if len(bytes.TrimSuffix(buf, []byte("\n"))) > maxLineBytes {
				overlong = true
				buf = buf[:0]
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if err == nil || (errors.Is(err, io.EOF) && (len(buf) > 0 || overlong)) {
			if overlong {
				monitoring.Logf("serialmux: dropped line longer than %d bytes", maxLineBytes)
			} else {
				select {
				case out <- string(bytes.TrimSuffix(buf, []byte("\n"))):
				case <-ctx.Done():
					return nil
				}
			}
			buf, overlong = buf[:0], false
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// publish fans line out without blocking. It reports false once the mux is
// closing.
func (s *SerialMux[T]) publish(line string) bool {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.closing {
		return false
	}
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
			// subscriber is full; skip so one reader cannot stall the port
		}
	}
	return true
}

func (s *SerialMux[T]) Close() error {
	s.subscriberMu.Lock()
	if s.closing {
		s.subscriberMu.Unlock()
		return nil
	}
	s.closing = true
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}

var consoleTemplate = template.Must(template.New("console").Parse(`<!doctype html>
<html>
<head><title>serial console</title></head>
<body>
<form method="post" action="/debug/serial-send">
  <input name="command" autofocus placeholder="command">
  <button type="submit">Send</button>
</form>
<pre id="tail"></pre>
<script>
const out = document.getElementById("tail");
const es = new EventSource("{{.TailPath}}");
es.onmessage = (e) => { out.textContent = e.data + "\n" + out.textContent; };
</script>
</body>
</html>
`))

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("serial", "serial console", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := consoleTemplate.Execute(w, struct{ TailPath string }{"/debug/serial-tail"}); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
		}
	})
	debug.HandleSilentFunc("serial-send", s.handleSendCommand)
	debug.HandleSilentFunc("serial-tail", func(w http.ResponseWriter, r *http.Request) {
		serveTail(s, w, r)
	})
}

func (s *SerialMux[T]) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return
	}
	if err := s.SendCommand(command); err != nil {
		http.Error(w, "Failed to write command", http.StatusInternalServerError)
		return
	}
	fmt.Fprintf(w, "Wrote command %q to serial port", command)
}

// serveTail streams lines from m as server-sent events.
func serveTail(m SerialMuxInterface, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := m.Subscribe()
	defer m.Unsubscribe(id)

	if _, err := w.Write([]byte(": ping\n\n")); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case payload, ok := <-c:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
