package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crafthq/craft/internal/telemetry"
)

// recordingClient collects every event the relay hands it, optionally
// refusing them to exercise the retry path.
type recordingClient struct {
	mu   sync.Mutex
	sent []telemetry.Event
	fail bool
}

func (c *recordingClient) Send(_ context.Context, ev telemetry.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return &telemetry.TransportError{URL: "test", Status: 503}
	}
	c.sent = append(c.sent, ev)
	return nil
}

func (c *recordingClient) Close() error { return nil }

func (c *recordingClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *recordingClient) setFail(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = fail
}

// startTestServer runs a relay server on an OS-assigned port with a fast
// sweep and returns it with its base URL.
func startTestServer(t *testing.T, dir string, client telemetry.Client) (*Server, string) {
	t.Helper()
	srv := NewServer(ServerOptions{
		ID:            "craft-test",
		Dir:           dir,
		Port:          0,
		Client:        client,
		Logger:        log.New(io.Discard, "", 0),
		SweepInterval: 50 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.Run(ctx) }()
	waitFor(t, time.Second, func() bool { return srv.BoundPort() != 0 })
	return srv, fmt.Sprintf("http://127.0.0.1:%d", srv.BoundPort())
}

// bufferEvent writes one record file the way the foreground writer does.
func bufferEvent(t *testing.T, dir string, ev telemetry.Event) {
	t.Helper()
	w := telemetry.NewWriter("craft-test", dir, true)
	if err := w.Write(ev); err != nil {
		t.Fatalf("buffering event: %v", err)
	}
}

func recordFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		if telemetry.IsRecordFile(e.Name(), "craft-test") {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestRelayForwardsAndDeletes(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ev := telemetry.Event{StartTime: 1700000000, EndTime: 1700000002, Command: "craft version", ExitCode: 0}
	bufferEvent(t, dir, ev)

	client := &recordingClient{}
	startTestServer(t, dir, client)

	waitFor(t, 2*time.Second, func() bool { return client.count() == 1 })
	waitFor(t, time.Second, func() bool { return len(recordFiles(t, dir)) == 0 })

	client.mu.Lock()
	got := client.sent[0]
	client.mu.Unlock()
	if got != ev {
		t.Errorf("forwarded event = %+v, want %+v", got, ev)
	}
}

func TestRelayRetainsRecordOnTransportFailure(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	bufferEvent(t, dir, telemetry.Event{StartTime: 1, EndTime: 2, Command: "craft exec -- make", ExitCode: 1})

	client := &recordingClient{fail: true}
	startTestServer(t, dir, client)

	// Let several sweeps fail; the record must survive each one.
	time.Sleep(300 * time.Millisecond)
	if n := len(recordFiles(t, dir)); n != 1 {
		t.Fatalf("record files after failed sweeps = %d, want 1", n)
	}

	// Once the collector recovers the same record goes through and the
	// buffer empties.
	client.setFail(false)
	waitFor(t, 2*time.Second, func() bool { return client.count() == 1 })
	waitFor(t, time.Second, func() bool { return len(recordFiles(t, dir)) == 0 })
}

func TestRelayDiscardsMalformedRecord(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "craft-test_broken.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seeding malformed record: %v", err)
	}

	client := &recordingClient{}
	startTestServer(t, dir, client)

	waitFor(t, 2*time.Second, func() bool { return len(recordFiles(t, dir)) == 0 })
	if client.count() != 0 {
		t.Errorf("malformed record was forwarded %d times", client.count())
	}
}

func TestRelayIgnoresForeignFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	foreign := map[string][]byte{
		"craft-test.pid":                []byte("123"),
		"craft-test.log":                []byte("log line\n"),
		"craft-other_0001.json":         []byte(`{"start_time":1,"end_time":2,"command":"x","exit_code":0}`),
		".tmp-craft-test_inflight.json": []byte("partial"),
	}
	for name, body := range foreign {
		if err := os.WriteFile(filepath.Join(dir, name), body, 0o644); err != nil {
			t.Fatalf("seeding %s: %v", name, err)
		}
	}

	client := &recordingClient{}
	startTestServer(t, dir, client)

	time.Sleep(300 * time.Millisecond)
	if client.count() != 0 {
		t.Errorf("foreign files were forwarded %d times", client.count())
	}
	for name := range foreign {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("foreign file %s was touched: %v", name, err)
		}
	}
}

func TestSubmitBuffersAndForwards(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	client := &recordingClient{}
	_, base := startTestServer(t, dir, client)

	ev := telemetry.Event{StartTime: 1700000000, EndTime: 1700000005, Command: "craft exec -- go test ./...", ExitCode: 0}
	body, _ := json.Marshal(ev)
	resp, err := http.Post(base+"/api/events", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/events: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	waitFor(t, 2*time.Second, func() bool { return client.count() == 1 })
	client.mu.Lock()
	got := client.sent[0]
	client.mu.Unlock()
	if got != ev {
		t.Errorf("forwarded event = %+v, want %+v", got, ev)
	}
}

func TestSubmitRejectsBadInput(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	_, base := startTestServer(t, dir, &recordingClient{})

	cases := []struct {
		name string
		body string
	}{
		{"not json", "{nope"},
		{"empty command", `{"start_time":1,"end_time":2,"command":"","exit_code":0}`},
		{"end before start", `{"start_time":5,"end_time":2,"command":"craft","exit_code":0}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(base+"/api/events", "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}

	resp, err := http.Get(base + "/api/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", resp.StatusCode)
	}

	if n := len(recordFiles(t, dir)); n != 0 {
		t.Errorf("rejected submissions buffered %d records", n)
	}
}

func TestStatusEndpointCounts(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	client := &recordingClient{}
	_, base := startTestServer(t, dir, client)

	bufferEvent(t, dir, telemetry.Event{StartTime: 1, EndTime: 2, Command: "craft config show", ExitCode: 0})
	waitFor(t, 2*time.Second, func() bool { return client.count() == 1 })

	resp, err := http.Get(base + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()
	var st struct {
		ID        string `json:"id"`
		State     string `json:"state"`
		Pending   int    `json:"pending"`
		Forwarded int64  `json:"forwarded"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if st.ID != "craft-test" || st.State != "RUNNING" {
		t.Errorf("status = %+v", st)
	}
	if st.Forwarded < 1 {
		t.Errorf("forwarded = %d, want >= 1", st.Forwarded)
	}
	if st.Pending != 0 {
		t.Errorf("pending = %d, want 0", st.Pending)
	}
}

func TestLogLinesStreamToWatchers(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	_, base := startTestServer(t, dir, &recordingClient{})

	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing /ws: %v", err)
	}
	defer conn.Close()

	logEvents := make(chan string, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev map[string]any
			if json.Unmarshal(msg, &ev) == nil && ev["type"] == "log" {
				m, _ := ev["message"].(string)
				select {
				case logEvents <- m:
				default:
				}
			}
		}
	}()

	// Each malformed record produces a log line when the relay discards it;
	// keep producing them until one arrives after the watcher attached.
	deadline := time.After(3 * time.Second)
	for i := 0; ; i++ {
		name := fmt.Sprintf("craft-test_junk%d.json", i)
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{nope"), 0o644); err != nil {
			t.Fatalf("seeding malformed record: %v", err)
		}
		select {
		case m := <-logEvents:
			if m == "" {
				t.Error("log event carries an empty message")
			}
			return
		case <-deadline:
			t.Fatal("no log event reached the watcher")
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func TestRunReturnsBindErrorOnTakenPort(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	srv := NewServer(ServerOptions{
		ID:     "craft-test",
		Dir:    t.TempDir(),
		Port:   port,
		Client: telemetry.DisabledClient{},
		Logger: log.New(io.Discard, "", 0),
	})
	err = srv.Run(context.Background())
	var berr *BindError
	if !errors.As(err, &berr) {
		t.Fatalf("err = %v, want *BindError", err)
	}
	if berr.Port != port {
		t.Errorf("error names port %d, want %d", berr.Port, port)
	}
}
