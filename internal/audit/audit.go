// Package audit implements the append-only supply-chain ledger described in
// spec.md §4.7: every knowledge-pack sign/install/rollback is durably
// recorded before the originating operation is reported as successful.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/denisbrodbeck/machineid"

	"github.com/entirecore/agentcore/internal/logging"
)

// Kind identifies the category of ledger entry. The ledger currently only
// carries supply-chain events (spec.md §4.5); the type exists so future
// kinds don't require a format change.
type Kind string

// SupplyChain is the only Kind emitted today, by the pipeline package.
const SupplyChain Kind = "supply_chain"

// Event is a single append-only ledger line.
type Event struct {
	Kind      Kind              `json:"kind"`
	Timestamp time.Time         `json:"timestamp"`
	Actor     string            `json:"actor"`
	Action    string            `json:"action"`
	Subject   string            `json:"subject"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewEvent builds an Event and stamps it with the shared device identifier,
// matching the original's per-event fingerprint/device metadata.
func NewEvent(kind Kind, actor, action, subject string) Event {
	e := Event{
		Kind:     kind,
		Actor:    actor,
		Action:   action,
		Subject:  subject,
		Metadata: map[string]string{},
	}
	if id, err := deviceID(); err == nil && id != "" {
		e.Metadata["device_id"] = id
	}
	return e
}

// WithMetadata sets a metadata key and returns the event for chaining.
func (e Event) WithMetadata(key, value string) Event {
	e.Metadata[key] = value
	return e
}

var (
	deviceOnce sync.Once
	deviceVal  string
	deviceErr  error
)

func deviceID() (string, error) {
	deviceOnce.Do(func() {
		deviceVal, deviceErr = machineid.ProtectedID("agentcore")
	})
	return deviceVal, deviceErr
}

// Ledger is an append-only, fsync-per-write JSON-lines file. Deletion or
// rewrite is forbidden by contract: Ledger exposes no method to do either.
type Ledger struct {
	path string
	mu   sync.Mutex
}

// Open returns a Ledger backed by path, creating parent directories as
// needed. It does not truncate or validate any existing content.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating audit ledger directory: %w", err)
	}
	return &Ledger{path: path}, nil
}

// Append writes one event as a JSON line, fsyncing before returning. The
// caller's operation (sign/install/rollback) must not be reported successful
// until Append returns nil.
func (l *Ledger) Append(event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("opening audit ledger: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("appending audit event: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("fsyncing audit ledger: %w", err)
	}

	logging.Info(logging.WithComponent(context.Background(), "audit"), "event appended",
		slog.String("action", event.Action), slog.String("subject", event.Subject))
	return nil
}

// Tail reads every event in the ledger in append order. Intended for
// diagnostics and tests; production readers should prefer streaming if the
// ledger grows large, which this simple implementation does not attempt.
func (l *Ledger) Tail() ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening audit ledger: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("parsing audit ledger line: %w", err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading audit ledger: %w", err)
	}
	return events, nil
}
