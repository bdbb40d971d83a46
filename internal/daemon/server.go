package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/crafthq/craft/internal/stream"
	"github.com/crafthq/craft/internal/telemetry"
	"github.com/crafthq/craft/internal/version"
)

// ServerOptions holds everything the relay server needs from the caller.
type ServerOptions struct {
	ID            string
	Dir           string
	Port          int // zero lets the OS pick (tests)
	Client        telemetry.Client
	Logger        *log.Logger
	SweepInterval time.Duration
}

// Server is the daemon process proper: it binds the loopback endpoint,
// accepts event submissions, and relays buffered record files to the
// collector. One record file is deleted only after its send succeeded, so
// delivery is at-least-once; a failed send leaves the file for the next
// sweep.
type Server struct {
	id     string
	dir    string
	port   int
	client telemetry.Client
	log    *log.Logger
	sweep  time.Duration

	startedAt time.Time
	state     atomic.Value // lifecycle state string
	forwarded atomic.Int64
	failed    atomic.Int64

	hub  *stream.Hub
	http *http.Server

	// wakeup coalesces fsnotify events into relay passes.
	wakeup chan struct{}

	// boundPort is the actual listen port, for tests that pass port 0.
	boundPort atomic.Int64
}

// NewServer creates a relay server in the STARTING state. Call Run to bind
// and serve.
func NewServer(opts ServerOptions) *Server {
	sweep := opts.SweepInterval
	if sweep == 0 {
		sweep = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	s := &Server{
		id:        opts.ID,
		dir:       opts.Dir,
		port:      opts.Port,
		client:    opts.Client,
		sweep:     sweep,
		startedAt: time.Now(),
		hub:       stream.NewHub(),
		wakeup:    make(chan struct{}, 1),
	}
	s.state.Store("STARTING")
	// Every log line is mirrored onto the event stream so watchers see what
	// the log file sees.
	s.log = log.New(io.MultiWriter(logger.Writer(), logTee{s.hub}), logger.Prefix(), logger.Flags())
	return s
}

// logTee publishes each written log line as a stream event. Installed as a
// MultiWriter leg next to the daemon's primary log destination.
type logTee struct {
	hub *stream.Hub
}

func (t logTee) Write(p []byte) (int, error) {
	t.hub.Publish(stream.EventLog, map[string]any{
		"message": strings.TrimRight(string(p), "\n"),
	})
	return len(p), nil
}

// BoundPort returns the port the server actually listens on, once Run has
// bound it.
func (s *Server) BoundPort() int {
	return int(s.boundPort.Load())
}

// Run binds the loopback endpoint and serves until ctx is cancelled. The
// bind happens before anything else so a failed start surfaces as a
// *BindError and the parent's readiness probe never sees a half-up daemon.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return &BindError{Port: s.port, Err: err}
	}
	s.boundPort.Store(int64(ln.Addr().(*net.TCPAddr).Port))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/events", s.handleSubmit)
	mux.Handle("/ws", s.hub.Handler())

	s.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.log.Printf("telemetry daemon %s listening on %s", s.id, ln.Addr())

	go s.hub.Run(ctx)
	go s.relayLoop(ctx)
	s.transition("RUNNING")

	go func() {
		<-ctx.Done()
		s.transition("STOPPING")
		s.log.Printf("shutdown requested")
		_ = s.http.Shutdown(context.Background())
		_ = s.client.Close()
	}()

	err = s.http.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// transition updates the lifecycle state and broadcasts the change to any
// connected watchers.
func (s *Server) transition(next string) {
	prev, _ := s.state.Load().(string)
	if prev == next {
		return
	}
	s.state.Store(next)
	s.hub.Publish(stream.EventState, map[string]any{
		"from": prev,
		"to":   next,
	})
}

// relayLoop drives the drain: an fsnotify watcher wakes it when a record
// file lands, and a sweep ticker retries anything a failed send left
// behind. The first pass runs immediately to pick up files buffered while
// no daemon was alive.
func (s *Server) relayLoop(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Printf("fsnotify unavailable, relying on sweeps: %v", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(s.dir); err != nil {
			s.log.Printf("watching %s failed, relying on sweeps: %v", s.dir, err)
		}
		go s.forwardNotifications(ctx, watcher)
	}

	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()

	heartbeat := time.NewTicker(10 * time.Second)
	defer heartbeat.Stop()

	s.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wakeup:
			s.drain(ctx)
		case <-ticker.C:
			s.drain(ctx)
		case <-heartbeat.C:
			s.hub.Publish(stream.EventHeartbeat, map[string]any{
				"state":          s.state.Load(),
				"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
			})
		}
	}
}

// forwardNotifications coalesces watcher events into wakeup signals. Only
// newly visible record files matter: the writer stages under a dotted temp
// name and renames, so the create event is for a complete record.
func (s *Server) forwardNotifications(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !telemetry.IsRecordFile(filepath.Base(ev.Name), s.id) {
				continue
			}
			select {
			case s.wakeup <- struct{}{}:
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Printf("watch error: %v", err)
		}
	}
}

// drain relays every buffered record currently on disk. Order between
// records is not guaranteed and does not matter: each file is independent
// and the collector tolerates duplicates.
func (s *Server) drain(ctx context.Context) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Printf("reading buffer dir: %v", err)
		return
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		if !telemetry.IsRecordFile(e.Name(), s.id) {
			continue
		}
		s.relayFile(ctx, filepath.Join(s.dir, e.Name()))
	}
}

// relayFile forwards one buffered record and deletes it on success. A
// record that cannot parse can never succeed, so it is removed rather than
// retried forever; a transport failure leaves the file for the next cycle.
func (s *Server) relayFile(ctx context.Context, path string) {
	b, err := os.ReadFile(path)
	if err != nil {
		s.log.Printf("reading record %s: %v", path, err)
		return
	}

	var ev telemetry.Event
	if err := json.Unmarshal(b, &ev); err == nil {
		err = ev.Validate()
	}
	if err != nil {
		s.log.Printf("removing malformed record %s: %v", path, err)
		_ = os.Remove(path)
		return
	}

	if err := s.client.Send(ctx, ev); err != nil {
		s.failed.Add(1)
		s.log.Printf("forwarding %s: %v", filepath.Base(path), err)
		s.hub.Publish(stream.EventRecord, map[string]any{
			"outcome": "failed",
			"file":    filepath.Base(path),
			"error":   err.Error(),
		})
		return
	}

	_ = os.Remove(path)
	s.forwarded.Add(1)
	s.log.Printf("forwarded %s (%s, exit %d)", filepath.Base(path), ev.Command, ev.ExitCode)
	s.hub.Publish(stream.EventRecord, map[string]any{
		"outcome":   "forwarded",
		"file":      filepath.Base(path),
		"command":   ev.Command,
		"exit_code": ev.ExitCode,
	})
}

// pending counts the record files currently awaiting relay.
func (s *Server) pending() int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if telemetry.IsRecordFile(e.Name(), s.id) {
			n++
		}
	}
	return n
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"id":             s.id,
		"state":          s.state.Load(),
		"port":           s.BoundPort(),
		"pid":            os.Getpid(),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"pending":        s.pending(),
		"forwarded":      s.forwarded.Load(),
		"failed":         s.failed.Load(),
	}
	if du := diskUsage(s.dir); du != nil {
		resp["disk"] = du
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"version":    version.Version,
		"go_version": version.GoVersion,
		"built_at":   version.BuiltAt,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleSubmit accepts one event from a foreground CLI process and buffers
// it durably. Buffering instead of sending inline keeps the submission fast
// and preserves at-least-once semantics: the record survives a daemon crash
// between accept and forward.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var ev telemetry.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := ev.Validate(); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	writer := telemetry.NewWriter(s.id, s.dir, true)
	if err := writer.Write(ev); err != nil {
		s.log.Printf("buffering submitted event: %v", err)
		http.Error(w, "could not buffer event", http.StatusInternalServerError)
		return
	}

	s.hub.Publish(stream.EventRecord, map[string]any{
		"outcome": "received",
		"command": ev.Command,
	})
	w.WriteHeader(http.StatusAccepted)
}
