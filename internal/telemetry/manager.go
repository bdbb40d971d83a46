package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/crafthq/craft/internal/fsutil"
	"github.com/crafthq/craft/internal/netutil"
)

// consentFileName holds the recorded opt-in decision: "1" for consent,
// "0" for dissent. An absent file means telemetry is off.
const consentFileName = "consent.txt"

// forwardTimeout bounds the loopback submission to a running daemon. Short
// on purpose: a slow or absent daemon must not delay the foreground command,
// the event just gets buffered to disk instead.
const forwardTimeout = 500 * time.Millisecond

// ManagerOptions configures the telemetry facade.
type ManagerOptions struct {
	ID     string      // daemon identity, namespaces files and seeds the port
	Dir    string      // write directory holding consent, buffer, pid and log files
	Port   int         // daemon port; zero derives it from ID
	Logger *log.Logger // warnings only; nil discards
}

// Manager is the single object commands call into for telemetry: consent
// management, event recording, and log maintenance. Every failure inside it
// degrades to a warning, never an error on the command path.
type Manager struct {
	id   string
	dir  string
	port int
	log  *log.Logger
	http *http.Client
}

// NewManager builds the facade. The write directory is not created until
// something is actually stored in it.
func NewManager(opts ManagerOptions) *Manager {
	port := opts.Port
	if port == 0 {
		port = netutil.DerivePort(opts.ID)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "", 0)
	}
	return &Manager{
		id:   opts.ID,
		dir:  opts.Dir,
		port: port,
		log:  logger,
		http: &http.Client{Timeout: forwardTimeout},
	}
}

// ID returns the daemon identity this manager reports under.
func (m *Manager) ID() string { return m.id }

// Dir returns the telemetry write directory.
func (m *Manager) Dir() string { return m.dir }

// Port returns the daemon port derived from (or configured for) the identity.
func (m *Manager) Port() int { return m.port }

// LogFile returns the daemon's append-only log path.
func (m *Manager) LogFile() string {
	return filepath.Join(m.dir, m.id+".log")
}

// PIDFile returns the daemon's PID file path.
func (m *Manager) PIDFile() string {
	return filepath.Join(m.dir, m.id+".pid")
}

// Consent records the user's opt-in decision.
func (m *Manager) Consent() error {
	return m.writeConsent("1")
}

// Dissent records the user's opt-out decision.
func (m *Manager) Dissent() error {
	return m.writeConsent("0")
}

func (m *Manager) writeConsent(value string) error {
	if err := fsutil.EnsureDir(m.dir); err != nil {
		return err
	}
	return fsutil.WriteAtomic(filepath.Join(m.dir, consentFileName), []byte(value), 0o644)
}

// ConsentRecorded reports whether the user has made any decision at all.
func (m *Manager) ConsentRecorded() bool {
	_, err := os.Stat(filepath.Join(m.dir, consentFileName))
	return err == nil
}

// Enabled reports whether the user has consented to telemetry. No recorded
// decision means disabled.
func (m *Manager) Enabled() bool {
	b, err := os.ReadFile(filepath.Join(m.dir, consentFileName))
	if err != nil {
		return false
	}
	return string(b) == "1"
}

// Writer returns the durable event sink for this identity, enabled per the
// recorded consent.
func (m *Manager) Writer() *Writer {
	return NewWriter(m.id, m.dir, m.Enabled())
}

// Record emits one command-completion event. If a daemon is reachable on the
// derived loopback port the event is forwarded to it; otherwise it is
// buffered to disk for a later relay cycle. Record never fails: problems are
// logged as warnings because telemetry must not break the command that
// triggered it.
func (m *Manager) Record(ev Event) {
	if !m.Enabled() {
		return
	}
	if err := ev.Validate(); err != nil {
		m.log.Printf("warning: dropping invalid telemetry event: %v", err)
		return
	}

	if err := m.forward(ev); err == nil {
		return
	}

	if err := m.Writer().Write(ev); err != nil {
		m.log.Printf("warning: could not buffer telemetry event: %v", err)
	}
}

// forward submits the event to a running daemon over loopback HTTP.
func (m *Manager) forward(ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("http://127.0.0.1:%d/api/events", m.port)
	resp, err := m.http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("daemon rejected event: HTTP %d", resp.StatusCode)
	}
	return nil
}

// ClearLog removes the daemon log file. With buffer set, any buffered
// records for this identity are removed as well. Missing files are fine.
func (m *Manager) ClearLog(buffer bool) error {
	if err := os.Remove(m.LogFile()); err != nil && !os.IsNotExist(err) {
		return err
	}
	if !buffer {
		return nil
	}

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if IsRecordFile(e.Name(), m.id) {
			if err := os.Remove(filepath.Join(m.dir, e.Name())); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}

// PendingRecords returns the buffered record files awaiting relay for this
// identity, as bare file names.
func (m *Manager) PendingRecords() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if IsRecordFile(e.Name(), m.id) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
