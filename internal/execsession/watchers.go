package execsession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/entirecore/agentcore/internal/logging"
)

const idleWatchInterval = time.Second

// supervise starts the background goroutines that keep a ManagedSession
// alive and observed: a reader pumping PTY output into the byte/line
// buffers, a process-exit waiter, and idle/hard-deadline watchdogs. It
// returns once all four goroutines have been launched; they run until the
// session terminates.
func (s *ManagedSession) supervise(parent context.Context, onEvent func(Event)) {
	ctx, cancel := context.WithCancel(parent)
	s.cancelWatch = cancel

	go s.pumpOutput(ctx, onEvent)
	go s.waitForExit(cancel, onEvent)
	go s.watchIdle(ctx, onEvent)
	go s.watchHardDeadline(ctx, onEvent)
}

// pumpOutput continuously reads from the PTY master into both the
// OutputBuffer and LineBuffer, regardless of whether any caller is
// currently polling — output must never depend on a reader being present
// to avoid backpressure stalling the child process.
func (s *ManagedSession) pumpOutput(ctx context.Context, onEvent func(Event)) {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.outputBuf.Push(chunk)
			s.lineBuf.PushBytes(chunk)
			s.appendSpool(chunk)
			s.outputBytes.Add(uint64(n))
			s.touch()
			if onEvent != nil {
				onEvent(Event{Kind: EventUpdated, Descriptor: s.descriptor(2, 4096)})
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logging.Warn(ctx, "pty read error", slog.Int("session_id", int(s.id)), slog.String("error", err.Error()))
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// waitForExit blocks on the child process and marks the session terminated
// once it exits, recording the real exit code where the platform provides
// one.
func (s *ManagedSession) waitForExit(cancel context.CancelFunc, onEvent func(Event)) {
	err := s.proc.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	s.exitCode = code
	s.markTerminated(TerminationReason{Completed: true, ExitCode: code})
	cancel()
	if onEvent != nil {
		onEvent(Event{Kind: EventTerminated, Descriptor: s.descriptor(2, 4096)})
	}
}

// watchIdle wakes every idleWatchInterval; once the session has gone
// idleTimeout without write or output activity, it hands off to escalate
// to run the Grace -> Ctrl-C -> grace_period -> force_kill sequence,
// recording IdleTimeout as the triggering event.
func (s *ManagedSession) watchIdle(ctx context.Context, onEvent func(Event)) {
	ticker := time.NewTicker(idleWatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.IsTerminated() {
				return
			}
			if s.IdleRemaining() > 0 {
				continue
			}
			s.mu.Lock()
			timeout := s.idleTimeout
			s.mu.Unlock()
			s.escalate(ctx, onEvent, SessionEventIdleTimeout,
				fmt.Sprintf("idle for %s", timeout),
				TerminationReason{IdleTimeout: true, IdleDuration: timeout})
			return
		}
	}
}

// watchHardDeadline unconditionally terminates the session once its hard
// timeout elapses, regardless of ongoing activity — this is the ceiling
// idle-timeout resets cannot extend past. It runs the same Grace ->
// force_kill escalation as watchIdle, minus the idle-specific timeout
// check.
func (s *ManagedSession) watchHardDeadline(ctx context.Context, onEvent func(Event)) {
	s.mu.Lock()
	deadline := s.hardDeadline
	has := s.hasHardDeadline
	s.mu.Unlock()
	if !has {
		return
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		if s.IsTerminated() {
			return
		}
		s.escalate(ctx, onEvent, SessionEventHardDeadline, "hard timeout elapsed", TerminationReason{HardTimeout: true})
	}
}

// descriptor renders the session's current state as the summary surface a
// caller polls (spec.md §5).
func (s *ManagedSession) descriptor(recentLines, recentBytes int) Descriptor {
	lossy := s.lineBuf.HasLossyUTF8()
	return Descriptor{
		SessionID:        s.id,
		CommandPreview:   s.command,
		State:            s.State(),
		Uptime:           s.Uptime(),
		IdleRemaining:    s.IdleRemaining(),
		TotalOutputBytes: s.outputBytes.Load(),
		RecentOutput:     s.outputBuf.RecentLines(recentLines, recentBytes),
		Lossy:            lossy,
	}
}
