package execsession

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"sync"
	"time"
)

const (
	defaultAutoPollCapTokens    = 160
	subsequentAutoPollCapTokens = 80
	pruneAfter                  = 65 * time.Minute
	// bytesPerToken approximates the token/byte ratio the original uses to
	// clamp auto-poll output size without a real tokenizer dependency.
	bytesPerToken = 4
	// archivedEventRetention is how long a pruned session's event history
	// stays queryable via SessionEvents after it leaves the live registry.
	archivedEventRetention = time.Hour

	stopPatternTailLabel = "[stop_pattern tail omitted]"
)

// CreateParams configures a new session (spec.md §5's exec_command
// request).
type CreateParams struct {
	Shell          string
	Command        string
	Login          bool
	IdleTimeoutMS  uint64
	HasIdleTimeout bool
	HardTimeoutMS  uint64
	HasHardTimeout bool
	GracePeriodMS  uint64
}

// archivedSession is what a pruned session leaves behind: its event
// history, kept queryable for archivedEventRetention past the prune so a
// late SessionEvents poller doesn't hit a permanent "no such session".
type archivedSession struct {
	events     []SessionEventEntry
	archivedAt time.Time
}

func (a archivedSession) expired(now time.Time) bool {
	return now.Sub(a.archivedAt) > archivedEventRetention
}

// Manager owns every live ManagedSession and fans out lifecycle events to
// subscribers (spec.md §5).
type Manager struct {
	ids      idGenerator
	mu       sync.Mutex
	byID     map[ID]*ManagedSession
	archived map[ID]archivedSession
	bus      *broadcaster
	doneC    chan struct{}
}

// NewManager returns an empty session registry.
func NewManager() *Manager {
	return &Manager{
		byID:     make(map[ID]*ManagedSession),
		archived: make(map[ID]archivedSession),
		bus:      newBroadcaster(),
		doneC:    make(chan struct{}),
	}
}

// Subscribe returns a channel of lifecycle events and a function to stop
// receiving them.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	return m.bus.subscribe()
}

// CreateSession starts a new PTY-backed session and begins supervising it
// immediately.
func (m *Manager) CreateSession(ctx context.Context, params CreateParams) (*ManagedSession, error) {
	m.pruneFinished()

	opts := defaultSessionOptions()
	if params.HasIdleTimeout {
		opts.IdleTimeout = clampDuration(time.Duration(params.IdleTimeoutMS)*time.Millisecond, time.Second, 24*time.Hour)
	}
	if params.HasHardTimeout {
		opts.HardTimeout = time.Duration(params.HardTimeoutMS) * time.Millisecond
		opts.HasHardTimeout = true
	}
	if params.GracePeriodMS > 0 {
		opts.GracePeriod = clampDuration(time.Duration(params.GracePeriodMS)*time.Millisecond, 500*time.Millisecond, 60*time.Second)
	}

	shell := params.Shell
	if shell == "" {
		shell = "/bin/bash"
	}

	id := m.ids.nextID()
	session, err := newManagedSession(id, shell, params.Command, params.Login, opts)
	if err != nil {
		return nil, fmt.Errorf("creating session %s: %w", id, err)
	}

	m.mu.Lock()
	m.byID[id] = session
	m.mu.Unlock()

	session.supervise(ctx, m.bus.publish)
	m.bus.publish(Event{Kind: EventStarted, Descriptor: session.descriptor(2, 4096)})

	return session, nil
}

// Get returns the session for id, if still tracked.
func (m *Manager) Get(id ID) (*ManagedSession, bool) {
	m.pruneFinished()
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	return s, ok
}

// ListDescriptors returns every tracked session's current descriptor,
// ordered by session ID.
func (m *Manager) ListDescriptors() []Descriptor {
	m.pruneFinished()
	m.mu.Lock()
	sessions := make([]*ManagedSession, 0, len(m.byID))
	for _, s := range m.byID {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	descriptors := make([]Descriptor, len(sessions))
	for i, s := range sessions {
		descriptors[i] = s.descriptor(2, 4096)
	}
	sortDescriptorsByID(descriptors)
	return descriptors
}

func sortDescriptorsByID(d []Descriptor) {
	for i := 1; i < len(d); i++ {
		for j := i; j > 0 && d[j-1].SessionID > d[j].SessionID; j-- {
			d[j-1], d[j] = d[j], d[j-1]
		}
	}
}

// pruneFinished evicts sessions that have been terminated for longer than
// pruneAfter, merging each one's event history into the archived ring
// before dropping it so SessionEvents keeps answering for archivedSession
// retention, and expires archived entries older than that in turn.
func (m *Manager) pruneFinished() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, s := range m.byID {
		if !s.Prunable(pruneAfter) {
			continue
		}
		m.archived[id] = archivedSession{events: s.events.since(0, 0), archivedAt: now}
		s.closeSpool()
		delete(m.byID, id)
	}
	for id, a := range m.archived {
		if a.expired(now) {
			delete(m.archived, id)
		}
	}
}

// PollOptions carries the stop_pattern output-shaping fields of spec.md
// §6.3's WriteStdinParams.
type PollOptions struct {
	StopPattern          string
	HasStopPattern       bool
	StopPatternCut       bool
	StopPatternLabelTail bool
}

// PollResult is what a caller gets back from polling a session for new
// output: decoded lines (possibly compressed), the new line cursor to pass
// back next time, and whether the session has since terminated.
type PollResult struct {
	Lines          []string
	NextLine       uint64
	Truncated      bool
	Terminated     bool
	Compression    CompressionResult
	PatternMatched bool
	MatchedText    string
	TailLabeled    bool
}

// Poll returns output lines the caller hasn't seen yet (tracked via
// fromLine), auto-capping the batch to the token budget the original
// enforces (160 tokens on a session's very first poll, 80 on every
// subsequent one), applying a stop_pattern if one is given, and applying
// smart compression when the batch is large.
func (m *Manager) Poll(id ID, fromLine uint64, firstPoll bool, compress bool, opts PollOptions) (PollResult, error) {
	session, ok := m.Get(id)
	if !ok {
		return PollResult{}, fmt.Errorf("no such session: %s", id)
	}

	total := session.lineBuf.TotalLines()
	lines := session.lineBuf.GetLines(fromLine, total)

	capTokens := subsequentAutoPollCapTokens
	if firstPoll {
		capTokens = defaultAutoPollCapTokens
	}
	capBytes := capTokens * bytesPerToken
	lines, truncated := capToByteBudget(lines, capBytes)

	var patternMatched, tailLabeled bool
	var matchedText string
	if opts.HasStopPattern {
		lines, patternMatched, matchedText = applyStopPattern(session, opts, lines)
		if patternMatched && opts.StopPatternLabelTail {
			lines = append(lines, stopPatternTailLabel)
			tailLabeled = true
			session.events.record(SessionEventEntry{
				Kind: SessionEventPatternTailLabeled, Source: SourceCaller,
				Reason: fmt.Sprintf("stop_pattern `%s`", opts.StopPattern), Action: ActionLog,
			})
		}
	}

	compression := CompressOutput(lines, compress)
	outLines := compression.Lines
	if patternMatched && matchedText != "" && !containsLine(outLines, matchedText) {
		outLines = append(outLines, matchedText)
	}

	session.applyWatchers(context.Background(), lines, fromLine)

	return PollResult{
		Lines:          outLines,
		NextLine:       total,
		Truncated:      truncated,
		Terminated:     session.IsTerminated(),
		Compression:    compression,
		PatternMatched: patternMatched,
		MatchedText:    matchedText,
		TailLabeled:    tailLabeled,
	}, nil
}

// applyStopPattern matches opts.StopPattern against the delivered window,
// including the not-yet-newline-terminated tail, per spec.md §4.3.3: on
// match it sends Ctrl-C and records linked StopPatternMatched/CtrlCSent
// events, then — if StopPatternCut is set — trims lines after the match
// and records OutputTrimmed.
func applyStopPattern(session *ManagedSession, opts PollOptions, lines []string) (out []string, matched bool, matchedText string) {
	re, err := regexp.Compile(opts.StopPattern)
	if err != nil {
		return lines, false, ""
	}

	out = lines
	matchIdx := -1
	for i, l := range out {
		if re.MatchString(l) {
			matchIdx = i
			matchedText = l
			break
		}
	}
	if matchIdx < 0 {
		if tail, ok := session.lineBuf.PartialTail(); ok && re.MatchString(tail) {
			out = append(out, tail)
			matchIdx = len(out) - 1
			matchedText = tail
		}
	}
	if matchIdx < 0 {
		return lines, false, ""
	}

	matchID := session.events.record(SessionEventEntry{
		Kind: SessionEventStopPatternMatched, Source: SourceCaller,
		Reason: fmt.Sprintf("stop_pattern `%s` matched", opts.StopPattern), Action: ActionNone,
		Pattern: &PatternMatch{Pattern: opts.StopPattern, MatchedLine: uint64(matchIdx), HasLine: true, MatchedText: matchedText},
	})
	_ = session.SendCtrlC()
	session.events.record(SessionEventEntry{
		Kind: SessionEventCtrlCSent, Source: SourceCaller,
		Reason: fmt.Sprintf("stop_pattern `%s`", opts.StopPattern), Action: ActionSendCtrlC,
		EscalateFrom: matchID, HasEscalation: true,
	})

	if opts.StopPatternCut {
		out = out[:matchIdx+1]
		session.events.record(SessionEventEntry{
			Kind: SessionEventOutputTrimmed, Source: SourceCaller,
			Reason: fmt.Sprintf("stop_pattern `%s` cut output after match", opts.StopPattern), Action: ActionLog,
		})
	}
	return out, true, matchedText
}

func containsLine(lines []string, target string) bool {
	for _, l := range lines {
		if l == target {
			return true
		}
	}
	return false
}

// capToByteBudget drops the oldest lines so their total encoded size stays
// within capBytes, keeping the most recent lines and reporting whether
// anything was dropped.
func capToByteBudget(lines []string, capBytes int) ([]string, bool) {
	if capBytes <= 0 {
		return lines, len(lines) > 0
	}
	total := 0
	for _, l := range lines {
		total += len(l) + 1
	}
	if total <= capBytes {
		return lines, false
	}

	kept := 0
	budget := capBytes
	for i := len(lines) - 1; i >= 0; i-- {
		cost := len(lines[i]) + 1
		if cost > budget {
			break
		}
		budget -= cost
		kept++
	}
	return lines[len(lines)-kept:], true
}

// Write sends bytes to a session's PTY.
func (m *Manager) Write(id ID, data []byte) error {
	session, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("no such session: %s", id)
	}
	_, err := session.Write(data)
	return err
}

// RequestStop asks a session to terminate, waiting up to its grace period.
func (m *Manager) RequestStop(ctx context.Context, id ID) error {
	session, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("no such session: %s", id)
	}
	return session.RequestStop(ctx)
}

// AddWatch registers a pattern watcher on a session.
func (m *Manager) AddWatch(id ID, pattern string, action WatchAction, persist bool, cooldown time.Duration, hasCooldown, autoCtrlC bool) (string, error) {
	session, ok := m.Get(id)
	if !ok {
		return "", fmt.Errorf("no such session: %s", id)
	}
	return session.AddWatch(pattern, action, persist, cooldown, hasCooldown, autoCtrlC)
}

// SessionEvents returns a session's own recent activity log entries. A
// session pruned from the live registry within archivedEventRetention is
// still served from its archived event history rather than erroring.
func (m *Manager) SessionEvents(id ID, sinceID uint64, limit int) ([]SessionEventEntry, error) {
	if session, ok := m.Get(id); ok {
		return session.events.since(sinceID, limit), nil
	}

	m.mu.Lock()
	archived, ok := m.archived[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no such session: %s", id)
	}

	if limit <= 0 {
		limit = sessionEventMax
	}
	var matched []SessionEventEntry
	for _, e := range archived.events {
		if e.ID > sinceID {
			matched = append(matched, e)
		}
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

// ExportSessionLog copies a session's on-disk log spool byte-exact to dest.
func (m *Manager) ExportSessionLog(id ID, dest string) error {
	session, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("no such session: %s", id)
	}
	return session.ExportLog(dest)
}

// Attach pumps stdin/stdout against a session's PTY for interactive use,
// putting the caller's own terminal into raw mode for the duration.
func (m *Manager) Attach(ctx context.Context, id ID, stdin *os.File, stdout io.Writer) error {
	session, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("no such session: %s", id)
	}
	return Attach(ctx, session, stdin, stdout)
}
