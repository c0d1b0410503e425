// Package telemetry is a sink for coarse, non-sensitive operational events
// posted to PostHog. The other packages of this module do not call it;
// events reach PostHog only where a caller holds a Sink and calls Emit.
// It is the trace-span half of the "Audit/Telemetry sink" row in
// spec.md §2 — the audit package (internal/audit) is the durable,
// security-relevant ledger; this package is best-effort and never blocks or
// fails an operation.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/posthog/posthog-go"

	"github.com/entirecore/agentcore/internal/logging"
)

// Sink emits named events with a small property bag. A nil *Sink (the zero
// value of a nil pointer) is valid and silently drops events, so components
// can hold a Sink unconditionally without a separate "enabled" check.
type Sink struct {
	mu     sync.Mutex
	client posthog.Client
	distID string
}

// New returns a Sink that posts to PostHog using apiKey, tagged with
// distinctID (the audit package's device identifier is a reasonable
// choice). If apiKey is empty, New returns nil and every call on the
// resulting *Sink becomes a no-op via the nil-receiver guards below.
func New(apiKey, distinctID string) (*Sink, error) {
	if apiKey == "" {
		return nil, nil
	}
	client, err := posthog.NewWithConfig(apiKey, posthog.Config{})
	if err != nil {
		return nil, err
	}
	return &Sink{client: client, distID: distinctID}, nil
}

// Close flushes and releases the underlying client.
func (s *Sink) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Emit records a named event with the given properties. Failures are
// logged and swallowed: telemetry must never fail an operation it
// observes.
func (s *Sink) Emit(event string, properties map[string]any) {
	if s == nil || s.client == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	props := posthog.NewProperties()
	for k, v := range properties {
		props.Set(k, v)
	}
	err := s.client.Enqueue(posthog.Capture{
		DistinctId: s.distID,
		Event:      event,
		Properties: props,
	})
	if err != nil {
		logging.Warn(context.Background(), "telemetry enqueue failed", slog.String("error", err.Error()))
	}
}
