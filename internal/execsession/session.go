package execsession

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creack/pty"

	"github.com/entirecore/agentcore/internal/logging"
)

// Lifecycle is a session's coarse state machine: Running while the process
// is alive and reachable, Grace once termination has been requested but the
// grace period hasn't elapsed, Terminated once the process has actually
// exited.
type Lifecycle int

const (
	LifecycleRunning Lifecycle = iota
	LifecycleGrace
	LifecycleTerminated
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleRunning:
		return "running"
	case LifecycleGrace:
		return "grace"
	case LifecycleTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// TerminationReason records why a session stopped.
type TerminationReason struct {
	Completed    bool
	ExitCode     int
	IdleTimeout  bool
	IdleDuration time.Duration
	HardTimeout  bool
	UserRequested bool
	ForceKilled  bool
}

func (r TerminationReason) String() string {
	switch {
	case r.Completed:
		return fmt.Sprintf("completed (exit_code=%d)", r.ExitCode)
	case r.IdleTimeout:
		return fmt.Sprintf("idle_timeout (timeout=%ds)", int(r.IdleDuration.Seconds()))
	case r.HardTimeout:
		return "hard_timeout"
	case r.UserRequested:
		return "user_requested"
	case r.ForceKilled:
		return "force_killed"
	default:
		return "unknown"
	}
}

// patternWatch is a caller-registered regex watched against new output
// lines, with an optional action taken on match.
type patternWatch struct {
	regex         *regexp.Regexp
	pattern       string
	action        WatchAction
	persist       bool
	cooldown      time.Duration
	hasCooldown   bool
	lastFired     time.Time
	hasFired      bool
	autoSendCtrlC bool
}

// ManagedSession is one PTY-backed shell session under supervision: output
// and line buffers accumulate continuously in the background regardless of
// whether any caller is currently polling, and a set of watchdogs enforce
// idle/hard timeouts and deliver exit notification.
type ManagedSession struct {
	id         ID
	command    string
	ptmx       *os.File
	proc       *exec.Cmd
	writerMu   sync.Mutex
	createdAt  time.Time
	gracePeriod time.Duration

	mu              sync.Mutex
	lastActivity    time.Time
	idleTimeout     time.Duration
	hardDeadline    time.Time
	hasHardDeadline bool
	state           Lifecycle
	termination     *TerminationReason
	terminatedAt    time.Time

	outputBytes atomic.Uint64
	outputBuf   *OutputBuffer
	lineBuf     *LineBuffer

	watchersMu sync.Mutex
	watches    []patternWatch

	events eventLog

	spoolMu     sync.Mutex
	spoolFile   *os.File
	spoolFailed bool

	exited   chan struct{}
	exitOnce sync.Once
	exitCode int

	cancelWatch context.CancelFunc
}

// sessionOptions configures a new ManagedSession, mirroring the clamps the
// original enforces on caller-supplied timeouts (spec.md §5).
type sessionOptions struct {
	IdleTimeout       time.Duration
	HardTimeout       time.Duration
	HasHardTimeout    bool
	GracePeriod       time.Duration
	OutputRetention   int
	LineRetention     int
}

func defaultSessionOptions() sessionOptions {
	return sessionOptions{
		IdleTimeout:     5 * time.Minute,
		HardTimeout:     2 * time.Hour,
		HasHardTimeout:  true,
		GracePeriod:     2 * time.Second,
		OutputRetention: 1024 * 1024,
		LineRetention:   defaultLineRetention,
	}
}

// newManagedSession starts command under a PTY; output capture and the
// supervision watchdogs are started separately via supervise.
func newManagedSession(id ID, shell, command string, login bool, opts sessionOptions) (*ManagedSession, error) {
	args := []string{"-c", command}
	if login {
		args = append([]string{"-l"}, args...)
	}
	cmd := exec.Command(shell, args...)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("starting pty session: %w", err)
	}

	now := time.Now()
	s := &ManagedSession{
		id:          id,
		command:     command,
		ptmx:        ptmx,
		proc:        cmd,
		createdAt:   now,
		gracePeriod: opts.GracePeriod,

		lastActivity: now,
		idleTimeout:  opts.IdleTimeout,
		state:        LifecycleRunning,

		outputBuf: NewOutputBuffer(opts.OutputRetention),
		lineBuf:   NewLineBuffer(opts.LineRetention),

		exited: make(chan struct{}),
	}
	if opts.HasHardTimeout {
		s.hardDeadline = now.Add(opts.HardTimeout)
		s.hasHardDeadline = true
	}

	spool, err := os.CreateTemp("", fmt.Sprintf("execsession-%d-*.log", uint32(id)))
	if err != nil {
		s.spoolFailed = true
	} else {
		s.spoolFile = spool
	}
	return s, nil
}

// Write sends bytes to the session's PTY, refreshing its activity clock.
func (s *ManagedSession) Write(data []byte) (int, error) {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()
	s.touch()
	return s.ptmx.Write(data)
}

// SendCtrlC writes the interrupt byte (0x03) to the PTY.
func (s *ManagedSession) SendCtrlC() error {
	_, err := s.Write([]byte{0x03})
	return err
}

// Resize forwards a new controlling-terminal size to the PTY, e.g. when a
// caller attached to the session's own stdio reports a SIGWINCH.
func (s *ManagedSession) Resize(cols, rows uint16) error {
	return pty.Setsize(s.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

func (s *ManagedSession) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// State returns the session's current lifecycle state.
func (s *ManagedSession) State() Lifecycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IdleRemaining returns how long the session can stay idle before the idle
// watchdog terminates it.
func (s *ManagedSession) IdleRemaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := s.idleTimeout - time.Since(s.lastActivity)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Uptime returns how long the session has been alive.
func (s *ManagedSession) Uptime() time.Duration {
	return time.Since(s.createdAt)
}

// IsTerminated reports whether the session has finished (gracefully or by
// force).
func (s *ManagedSession) IsTerminated() bool {
	return s.State() == LifecycleTerminated
}

// AddWatch registers a pattern watcher against future output lines.
func (s *ManagedSession) AddWatch(pattern string, action WatchAction, persist bool, cooldown time.Duration, hasCooldown, autoSendCtrlC bool) (string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("invalid watch pattern: %w", err)
	}
	if !hasCooldown && persist {
		cooldown, hasCooldown = time.Second, true
	}
	if hasCooldown {
		cooldown = clampDuration(cooldown, 100*time.Millisecond, 60*time.Second)
	}

	s.watchersMu.Lock()
	s.watches = append(s.watches, patternWatch{
		regex: re, pattern: pattern, action: action, persist: persist,
		cooldown: cooldown, hasCooldown: hasCooldown, autoSendCtrlC: autoSendCtrlC,
	})
	s.watchersMu.Unlock()

	return fmt.Sprintf("watch registered for session #%d pattern `%s`", uint32(s.id), pattern), nil
}

// RemoveWatch removes a watcher by its exact pattern string, reporting
// whether one was found.
func (s *ManagedSession) RemoveWatch(pattern string) bool {
	s.watchersMu.Lock()
	defer s.watchersMu.Unlock()

	before := len(s.watches)
	kept := s.watches[:0]
	for _, w := range s.watches {
		if w.pattern != pattern {
			kept = append(kept, w)
		}
	}
	s.watches = kept
	return before != len(s.watches)
}

// applyWatchers checks newly produced lines against every registered
// pattern watcher and performs the configured action for each match not
// still in cooldown. It returns a human-readable summary of what fired.
func (s *ManagedSession) applyWatchers(ctx context.Context, lines []string, baseLine uint64) string {
	if len(lines) == 0 {
		return ""
	}

	s.watchersMu.Lock()
	now := time.Now()
	type firing struct {
		idx     int
		action  WatchAction
		pattern string
		lineNo  uint64
		hasLine bool
		text    string
		persist bool
		autoCtl bool
	}
	var matched []firing
	var toRemove []int

	for idx := range s.watches {
		w := &s.watches[idx]
		lineIdx := -1
		for i, line := range lines {
			if w.regex.MatchString(line) {
				lineIdx = i
				break
			}
		}
		if lineIdx < 0 {
			continue
		}
		if w.hasCooldown && w.hasFired && now.Sub(w.lastFired) < w.cooldown {
			continue
		}
		w.lastFired = now
		w.hasFired = true
		matched = append(matched, firing{
			idx: idx, action: w.action, pattern: w.pattern,
			lineNo: baseLine + uint64(lineIdx), hasLine: true,
			text: lines[lineIdx], persist: w.persist, autoCtl: w.autoSendCtrlC,
		})
		if !w.persist {
			toRemove = append(toRemove, idx)
		}
	}

	for i := len(toRemove) - 1; i >= 0; i-- {
		idx := toRemove[i]
		s.watches = append(s.watches[:idx], s.watches[idx+1:]...)
	}
	s.watchersMu.Unlock()

	if len(matched) == 0 {
		return ""
	}

	var notes []string
	for _, m := range matched {
		s.events.record(SessionEventEntry{
			Kind: SessionEventWatcherMatched, Source: SourceWatcher,
			Reason: fmt.Sprintf("watch matched `%s`", m.pattern), Action: ActionLog,
			Pattern: &PatternMatch{Pattern: m.pattern, MatchedLine: m.lineNo, HasLine: m.hasLine, MatchedText: m.text},
		})

		switch m.action {
		case WatchLog:
			notes = append(notes, fmt.Sprintf("watch matched `%s`", m.pattern))
			if m.autoCtl {
				_ = s.SendCtrlC()
				notes = append(notes, fmt.Sprintf("watch `%s` auto sent Ctrl-C", m.pattern))
				s.events.record(SessionEventEntry{Kind: SessionEventCtrlCSent, Source: SourceWatcher, Reason: "auto_send_ctrl_c", Action: ActionSendCtrlC})
			}
		case WatchSendCtrlC:
			_ = s.SendCtrlC()
			notes = append(notes, fmt.Sprintf("watch `%s` sent Ctrl-C", m.pattern))
			s.events.record(SessionEventEntry{Kind: SessionEventCtrlCSent, Source: SourceWatcher, Reason: fmt.Sprintf("pattern `%s`", m.pattern), Action: ActionSendCtrlC})
		case WatchForceKill:
			if err := s.forceKill(TerminationReason{ForceKilled: true}); err == nil {
				notes = append(notes, fmt.Sprintf("watch `%s` force-killed session", m.pattern))
				s.events.record(SessionEventEntry{Kind: SessionEventForceKill, Source: SourceWatcher, Reason: fmt.Sprintf("pattern `%s`", m.pattern), Action: ActionForceKill})
			} else {
				notes = append(notes, fmt.Sprintf("watch `%s` force-kill failed: %v", m.pattern, err))
			}
		}
	}

	logging.Info(ctx, "pattern watcher fired", slog.Int("session_id", int(s.id)), slog.Int("matches", len(matched)))
	return joinNotes(notes)
}

func joinNotes(notes []string) string {
	out := ""
	for i, n := range notes {
		if i > 0 {
			out += " | "
		}
		out += n
	}
	return out
}

// forceKill terminates the underlying process immediately.
func (s *ManagedSession) forceKill(reason TerminationReason) error {
	s.mu.Lock()
	if s.state == LifecycleTerminated {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if s.proc.Process != nil {
		if err := s.proc.Process.Kill(); err != nil {
			return err
		}
	}
	s.markTerminated(reason)
	return nil
}

// RequestStop asks the process to exit, giving it gracePeriod before a
// force kill.
func (s *ManagedSession) RequestStop(ctx context.Context) error {
	s.mu.Lock()
	s.state = LifecycleGrace
	s.mu.Unlock()

	if s.proc.Process != nil {
		_ = s.proc.Process.Signal(os.Interrupt)
	}

	select {
	case <-s.exited:
		return nil
	case <-time.After(s.gracePeriod):
		return s.forceKill(TerminationReason{UserRequested: true})
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ManagedSession) markTerminated(reason TerminationReason) {
	s.exitOnce.Do(func() {
		s.mu.Lock()
		s.state = LifecycleTerminated
		s.termination = &reason
		s.terminatedAt = time.Now()
		s.mu.Unlock()
		close(s.exited)
	})
}

// Prunable reports whether the session has been terminated long enough ago
// that the manager may drop it from its registry. Retention is measured
// from termination, not creation, so a long-lived session isn't evicted the
// instant it exits, leaving no window for a late poller to read its final
// state.
func (s *ManagedSession) Prunable(retention time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == LifecycleTerminated && time.Since(s.terminatedAt) > retention
}

// escalate drives the shared Grace -> Ctrl-C -> sleep -> force_kill
// sequence idle and hard-deadline supervision both use: it records the
// triggering event, sends Ctrl-C and records that as escalated from the
// trigger, waits out the grace period, and — unless the process already
// exited on its own — force-kills the session and records ForceKill and an
// EscalationSummary, both linked back to the Ctrl-C event.
func (s *ManagedSession) escalate(ctx context.Context, onEvent func(Event), triggerKind SessionEventKind, reason string, forceReason TerminationReason) {
	s.mu.Lock()
	s.state = LifecycleGrace
	s.mu.Unlock()

	triggerID := s.events.record(SessionEventEntry{Kind: triggerKind, Source: SourceSystem, Reason: reason, Action: ActionNone})

	_ = s.SendCtrlC()
	ctrlID := s.events.record(SessionEventEntry{
		Kind: SessionEventCtrlCSent, Source: SourceSystem, Reason: reason, Action: ActionSendCtrlC,
		EscalateFrom: triggerID, HasEscalation: true,
	})

	select {
	case <-s.exited:
		return
	case <-time.After(s.gracePeriod):
	case <-ctx.Done():
		return
	}

	if s.IsTerminated() {
		return
	}
	if err := s.forceKill(forceReason); err != nil {
		return
	}

	s.events.record(SessionEventEntry{
		Kind: SessionEventForceKill, Source: SourceSystem, Reason: reason, Action: ActionForceKill,
		EscalateFrom: ctrlID, HasEscalation: true,
	})
	s.events.record(SessionEventEntry{
		Kind:   SessionEventEscalationSummary,
		Source: SourceSystem,
		Reason: fmt.Sprintf("%s escalated to force_kill after %s grace period", reason, s.gracePeriod),
		Action: ActionSummary, EscalateFrom: ctrlID, HasEscalation: true,
	})
	if onEvent != nil {
		onEvent(Event{Kind: EventTerminated, Descriptor: s.descriptor(2, 4096)})
	}
}

// appendSpool best-effort copies chunk to the session's on-disk log
// tempfile. A single write failure latches spoolFailed permanently, so the
// rest of the session's output falls back to the in-memory ring alone
// rather than retrying a broken spool on every chunk.
func (s *ManagedSession) appendSpool(chunk []byte) {
	s.spoolMu.Lock()
	defer s.spoolMu.Unlock()
	if s.spoolFailed || s.spoolFile == nil {
		return
	}
	if _, err := s.spoolFile.Write(chunk); err != nil {
		s.spoolFailed = true
	}
}

// ExportLog copies the session's on-disk log spool byte-exact to dest,
// creating parent directories as needed.
func (s *ManagedSession) ExportLog(dest string) error {
	s.spoolMu.Lock()
	defer s.spoolMu.Unlock()
	if s.spoolFile == nil || s.spoolFailed {
		return fmt.Errorf("session #%d log spool is unavailable", uint32(s.id))
	}
	if err := s.spoolFile.Sync(); err != nil {
		return fmt.Errorf("syncing session log spool: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating export destination: %w", err)
	}

	src, err := os.Open(s.spoolFile.Name())
	if err != nil {
		return fmt.Errorf("reopening session log spool: %w", err)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating export destination: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("copying session log spool: %w", err)
	}
	return out.Sync()
}

// closeSpool removes the session's backing tempfile once it is no longer
// needed, typically when the manager prunes the session from its registry.
func (s *ManagedSession) closeSpool() {
	s.spoolMu.Lock()
	defer s.spoolMu.Unlock()
	if s.spoolFile == nil {
		return
	}
	name := s.spoolFile.Name()
	_ = s.spoolFile.Close()
	_ = os.Remove(name)
	s.spoolFile = nil
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
