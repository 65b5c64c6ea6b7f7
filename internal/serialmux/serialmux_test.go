package serialmux

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// pipePort feeds Read from an io.Pipe and records writes.
type pipePort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu       sync.Mutex
	written  bytes.Buffer
	writeErr error
	shortBy  int
	closed   bool
}

func newPipePort() *pipePort {
	r, w := io.Pipe()
	return &pipePort{r: r, w: w}
}

func (p *pipePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *pipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	n, _ := p.written.Write(b)
	return n - p.shortBy, nil
}

func (p *pipePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.w.Close()
	return p.r.Close()
}

func (p *pipePort) feed(t *testing.T, s string) {
	t.Helper()
	_, err := p.w.Write([]byte(s))
	require.NoError(t, err)
}

func (p *pipePort) writtenString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func recv(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case line, ok := <-ch:
		require.True(t, ok, "channel closed")
		return line
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for line")
		return ""
	}
}

func startMonitor(t *testing.T, m *SerialMux[*pipePort]) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Monitor(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestMonitor_FansOutLines(t *testing.T) {
	port := newPipePort()
	m := NewSerialMux(port)
	_, a := m.Subscribe()
	_, b := m.Subscribe()
	startMonitor(t, m)

	port.feed(t, "first\r\n\n  \nsecond\n")

	assert.Equal(t, "first", recv(t, a))
	assert.Equal(t, "second", recv(t, a))
	assert.Equal(t, "first", recv(t, b))
	assert.Equal(t, "second", recv(t, b))
}

func TestMonitor_ContextCancel(t *testing.T) {
	port := newPipePort()
	m := NewSerialMux(port)
	cancel, done := startMonitor(t, m)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
	port.Close()
}

func TestMonitor_EOF(t *testing.T) {
	port := newPipePort()
	m := NewSerialMux(port)
	_, done := startMonitor(t, m)

	port.w.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Monitor did not return on EOF")
	}
}

func TestMonitor_ReadError(t *testing.T) {
	port := newPipePort()
	m := NewSerialMux(port)
	_, done := startMonitor(t, m)

	boom := errors.New("device unplugged")
	port.w.CloseWithError(boom)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
	case <-time.After(5 * time.Second):
		t.Fatal("Monitor did not return on read error")
	}
}

func TestMonitor_SkipsOverlongLine(t *testing.T) {
	port := newPipePort()
	m := NewSerialMux(port)
	_, lines := m.Subscribe()
	_, done := startMonitor(t, m)

	port.feed(t, strings.Repeat("x", maxLineBytes+100)+"\nafter\n")
	assert.Equal(t, "after", recv(t, lines))

	port.feed(t, "again\n")
	assert.Equal(t, "again", recv(t, lines))
	select {
	case err := <-done:
		t.Fatalf("Monitor stopped after an over-long line: %v", err)
	default:
	}
}

func TestScanLines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"plain", "a\nb\n", []string{"a", "b"}},
		{"unterminated tail", "a\nb", []string{"a", "b"}},
		{"limit is inclusive", strings.Repeat("y", maxLineBytes) + "\n", []string{strings.Repeat("y", maxLineBytes)}},
		{"overlong dropped", "a\n" + strings.Repeat("z", maxLineBytes+1) + "\nb\n", []string{"a", "b"}},
		{"overlong tail dropped", "a\n" + strings.Repeat("z", 3*maxLineBytes), []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := make(chan string, len(tt.want)+1)
			require.NoError(t, scanLines(context.Background(), strings.NewReader(tt.input), out))
			close(out)
			var got []string
			for line := range out {
				got = append(got, line)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMonitor_SlowSubscriberDoesNotBlock(t *testing.T) {
	port := newPipePort()
	m := NewSerialMux(port)
	_, slow := m.Subscribe()
	_, fast := m.Subscribe()
	startMonitor(t, m)

	total := subscriberBuffer + 10
	for i := 0; i < total; i++ {
		port.feed(t, "line\n")
		recv(t, fast)
	}
	assert.Equal(t, subscriberBuffer, len(slow))
}

func TestUnsubscribe(t *testing.T) {
	m := NewSerialMux(newPipePort())
	id, ch := m.Subscribe()
	m.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok)
	m.Unsubscribe(id)
}

func TestClose(t *testing.T) {
	port := newPipePort()
	m := NewSerialMux(port)
	_, ch := m.Subscribe()

	require.NoError(t, m.Close())
	_, ok := <-ch
	assert.False(t, ok)
	assert.True(t, port.closed)

	_, late := m.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing after Close yields a closed channel")
	assert.NoError(t, m.Close())
}

func TestSendCommand(t *testing.T) {
	port := newPipePort()
	m := NewSerialMux(port)

	require.NoError(t, m.SendCommand("RESET"))
	require.NoError(t, m.SendCommand("ZERO\n"))
	assert.Equal(t, "RESET\nZERO\n", port.writtenString())

	port.shortBy = 1
	assert.ErrorIs(t, m.SendCommand("X"), ErrWriteFailed)

	port.shortBy = 0
	port.writeErr = errors.New("io")
	assert.Error(t, m.SendCommand("X"))
}

func TestHandleSendCommand(t *testing.T) {
	port := newPipePort()
	m := NewSerialMux(port)

	tests := []struct {
		name   string
		method string
		form   string
		want   int
	}{
		{"ok", http.MethodPost, "command=PING", http.StatusOK},
		{"missing", http.MethodPost, "command=", http.StatusBadRequest},
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/debug/serial-send", strings.NewReader(tt.form))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()
			m.handleSendCommand(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Equal(t, "PING\n", port.writtenString())
}

func TestServeTail(t *testing.T) {
	port := newPipePort()
	m := NewSerialMux(port)
	startMonitor(t, m)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveTail(m, w, r)
	}))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	br := bufio.NewReader(resp.Body)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": ping\n", line)

	port.feed(t, `{"x_sonda":1}`+"\n")
	for {
		line, err = br.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	assert.Equal(t, `data: {"x_sonda":1}`+"\n", line)
}

func TestServeTail_ClosedMux(t *testing.T) {
	d := NewDisabledSerialMux()
	require.NoError(t, d.Close())

	rec := httptest.NewRecorder()
	serveTail(d, rec, httptest.NewRequest(http.MethodGet, "/debug/serial-tail", nil))
	assert.Equal(t, ": ping\n\n", rec.Body.String())
}

func TestDisabledSerialMux(t *testing.T) {
	d := NewDisabledSerialMux()
	id, ch := d.Subscribe()
	d.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)

	assert.ErrorIs(t, d.SendCommand("x"), ErrDisabled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Monitor(ctx), context.Canceled)

	_, open := d.Subscribe()
	require.NoError(t, d.Close())
	_, ok = <-open
	assert.False(t, ok)
	require.NoError(t, d.Close())

	mux := http.NewServeMux()
	d.AttachAdminRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/serial", nil))
	assert.Equal(t, "serial disabled", rec.Body.String())
}

func TestPortOptions_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		in      PortOptions
		want    PortOptions
		wantErr bool
	}{
		{"defaults", PortOptions{}, PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"}, false},
		{"even", PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "even"}, PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "E"}, false},
		{"odd", PortOptions{Parity: " o "}, PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "O"}, false},
		{"bad data bits", PortOptions{DataBits: 9}, PortOptions{}, true},
		{"bad stop bits", PortOptions{StopBits: 3}, PortOptions{}, true},
		{"bad parity", PortOptions{Parity: "mark"}, PortOptions{}, true},
		{"negative baud", PortOptions{BaudRate: -1}, PortOptions{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPortOptions_Equal(t *testing.T) {
	assert.True(t, PortOptions{}.Equal(PortOptions{BaudRate: DefaultBaudRate, Parity: "none"}))
	assert.False(t, PortOptions{}.Equal(PortOptions{BaudRate: 9600}))
	assert.False(t, PortOptions{DataBits: 9}.Equal(PortOptions{DataBits: 9}))
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 9600, StopBits: 2, Parity: "E"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 9600, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)

	mode, err = PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, serial.NoParity, mode.Parity)

	_, err = PortOptions{StopBits: 5}.SerialMode()
	assert.Error(t, err)
}

func TestNewRealSerialMux_MissingDevice(t *testing.T) {
	_, err := NewRealSerialMux("/dev/does-not-exist-magnetprobe", PortOptions{})
	assert.Error(t, err)

	_, err = NewRealSerialMux("/dev/null", PortOptions{Parity: "mark"})
	assert.Error(t, err)
}

func TestConsoleTemplate(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, consoleTemplate.Execute(&buf, struct{ TailPath string }{"/debug/serial-tail"}))
	assert.Contains(t, buf.String(), "new EventSource(")
	assert.Contains(t, buf.String(), "serial-tail")
	assert.Contains(t, buf.String(), `action="/debug/serial-send"`)
}
