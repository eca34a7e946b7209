// Package auditlog implements Robocurse's operational logging and audit
// trail: a structured logger for human-facing diagnostics, and a
// JSON-lines audit writer recording every lifecycle event a run
// produces.
//
// The operational logger wraps github.com/hashicorp/go-hclog, the
// structured logging library the gastrolog ingest pipeline uses
// throughout its own orchestrator and scheduler. hclog has no built-in
// equivalent of the SUCCESS/COUNT record kinds operators expect from a
// day-summary log, so this package preserves those as structured fields
// on an Info-level record instead, alongside a per-day rolling
// file-per-concern layout.
package auditlog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/pacepace/robocurse/internal/domain"
)

// LevelKind carries the SUCCESS/COUNT record distinctions through
// hclog's plain level set, attached as a structured field rather than a
// true hclog.Level (hclog has no such levels).
type LevelKind string

const (
	LevelKindSuccess LevelKind = "SUCCESS"
	LevelKindCount LevelKind = "COUNT"
)

// Logger wraps an hclog.Logger with extra SUCCESS/COUNT convenience
// methods.
type Logger struct {
	hclog.Logger
}

// New builds a Logger writing JSON-formatted structured logs to w (or,
// if w is nil, to a file under logDir named robocurse_YYYY-MM-DD.log for
// the date New is called; the file is not switched when the date changes).
func New(logDir string, w io.Writer) (*Logger, error) {
	if w == nil {
		if logDir == "" {
			return nil, fmt.Errorf("auditlog: logDir is empty and no writer was provided")
		}
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, fmt.Errorf("auditlog: create log dir: %w", err)
		}
		name := fmt.Sprintf("robocurse_%s.log", time.Now().Format("2006-01-02"))
		f, err := os.OpenFile(filepath.Join(logDir, name), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("auditlog: open log file: %w", err)
		}
		w = f
	}

	hl := hclog.New(&hclog.LoggerOptions{
		Name: "robocurse",
		Level: hclog.Info,
		Output: w,
		JSONFormat: true,
	})
	return &Logger{Logger: hl}, nil
}

// Success logs an Info-level record tagged with the SUCCESS kind.
func (l *Logger) Success(msg string, args...any) {
	l.Info(msg, append(args, "level_kind", LevelKindSuccess)...)
}

// Count logs an Info-level record tagged with the COUNT kind, used for
// end-of-run summary numbers.
func (l *Logger) Count(msg string, args...any) {
	l.Info(msg, append(args, "level_kind", LevelKindCount)...)
}

// auditRecord is one line of the JSON-lines audit trail. Every record
// carries sessionId/user/machine per spec.md §4.10/§6, even when the
// event-specific payload in Fields repeats none of them.
type auditRecord struct {
	Time time.Time `json:"timestamp"`
	Event domain.AuditEventType `json:"event"`
	SessionID string `json:"sessionId"`
	User string `json:"user"`
	Machine string `json:"machine"`
	Fields map[string]any `json:"fields,omitempty"`
}

// AuditWriter appends one JSON object per line to a session's audit log
// file. It satisfies orchestrator.Logger's Event method so it can be
// handed directly to orchestrator.New.
type AuditWriter struct {
	mu sync.Mutex
	f *os.File
	path string
	sessionID string
	user string
	machine string
}

// NewAuditWriter opens (creating if needed) <logRoot>/audit-<sessionID>.jsonl
// for appending.
func NewAuditWriter(logRoot, sessionID string) (*AuditWriter, error) {
	if err := os.MkdirAll(logRoot, 0o755); err != nil {
		return nil, fmt.Errorf("auditlog: create log dir: %w", err)
	}
	return NewAuditWriterAt(filepath.Join(logRoot, "audit-"+sessionID+".jsonl"), sessionID)
}

// NewAuditWriterAt opens (creating if needed) the audit file at an exact
// path, for callers that need the day-directory layout
// (<logRoot>/<date>/audit.jsonl) rather than the per-session default name.
// sessionID is stamped onto every record Event writes, alongside the
// current OS user and hostname, so a record is self-describing even when
// the caller's own fields payload doesn't repeat them.
func NewAuditWriterAt(path, sessionID string) (*AuditWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("auditlog: create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("auditlog: open audit file: %w", err)
	}
	return &AuditWriter{
		f: f,
		path: path,
		sessionID: sessionID,
		user: currentUser(),
		machine: currentMachine(),
	}, nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if v := os.Getenv("USERNAME"); v != "" {
		return v
	}
	return os.Getenv("USER")
}

func currentMachine() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}

// Event appends one record. Marshal/write errors are swallowed after being
// printed to stderr — the audit trail is diagnostic, not authoritative,
// and must never abort a run.
func (w *AuditWriter) Event(eventType domain.AuditEventType, fields map[string]any) {
	rec := auditRecord{
		Time: time.Now().UTC(),
		Event: eventType,
		SessionID: w.sessionID,
		User: w.user,
		Machine: w.machine,
		Fields: fields,
	}
	body, err := json.Marshal(rec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "auditlog: marshal event %s: %v\n", eventType, err)
		return
	}
	body = append(body, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.Write(body); err != nil {
		fmt.Fprintf(os.Stderr, "auditlog: write event %s: %v\n", eventType, err)
	}
}

// Path exposes the backing file path for diagnostics/tests.
func (w *AuditWriter) Path() string { return w.path }

// Close releases the underlying file handle.
func (w *AuditWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
