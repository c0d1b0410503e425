package execsession

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_CreateAndListDescriptors(t *testing.T) {
	t.Parallel()

	m := NewManager()
	ctx := context.Background()

	s1, err := m.CreateSession(ctx, CreateParams{Command: "echo one"})
	require.NoError(t, err)
	s2, err := m.CreateSession(ctx, CreateParams{Command: "echo two"})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s1.forceKill(TerminationReason{ForceKilled: true})
		_ = s2.forceKill(TerminationReason{ForceKilled: true})
	})

	descs := m.ListDescriptors()
	require.Len(t, descs, 2)
	assert.Less(t, descs[0].SessionID, descs[1].SessionID)
}

func TestManager_PollReturnsNewLinesAndAdvancesCursor(t *testing.T) {
	t.Parallel()

	m := NewManager()
	ctx := context.Background()
	s, err := m.CreateSession(ctx, CreateParams{Command: "cat"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.forceKill(TerminationReason{ForceKilled: true}) })

	require.NoError(t, m.Write(s.id, []byte("line-one\n")))
	require.Eventually(t, func() bool {
		return s.lineBuf.TotalLines() >= 1
	}, 2*time.Second, 20*time.Millisecond)

	result, err := m.Poll(s.id, 0, true, false, PollOptions{})
	require.NoError(t, err)
	require.Contains(t, result.Lines, "line-one")
	assert.Equal(t, uint64(1), result.NextLine)
	assert.False(t, result.Terminated)

	second, err := m.Poll(s.id, result.NextLine, false, false, PollOptions{})
	require.NoError(t, err)
	assert.Empty(t, second.Lines)
}

func TestManager_PollUnknownSessionErrors(t *testing.T) {
	t.Parallel()

	m := NewManager()
	_, err := m.Poll(ID(999), 0, true, false, PollOptions{})
	assert.Error(t, err)
}

func TestManager_RequestStopAndSessionEvents(t *testing.T) {
	t.Parallel()

	m := NewManager()
	ctx := context.Background()
	s, err := m.CreateSession(ctx, CreateParams{Command: "cat"})
	require.NoError(t, err)

	_, err = m.AddWatch(s.id, "^ping$", WatchLog, false, 0, false, false)
	require.NoError(t, err)
	require.NoError(t, m.Write(s.id, []byte("ping\n")))

	// Watchers are evaluated over the window a poll returns.
	require.Eventually(t, func() bool {
		if _, err := m.Poll(s.id, 0, false, false, PollOptions{}); err != nil {
			return false
		}
		events, err := m.SessionEvents(s.id, 0, 10)
		return err == nil && len(events) > 0
	}, 2*time.Second, 20*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.RequestStop(stopCtx, s.id))
}

func TestManager_PollStopPatternSendsCtrlCAndCutsOutput(t *testing.T) {
	t.Parallel()

	m := NewManager()
	ctx := context.Background()
	s, err := m.CreateSession(ctx, CreateParams{Command: "cat"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.forceKill(TerminationReason{ForceKilled: true}) })

	require.NoError(t, m.Write(s.id, []byte("line-one\nEnter password:\nline-three\n")))
	require.Eventually(t, func() bool {
		return s.lineBuf.TotalLines() >= 3
	}, 2*time.Second, 20*time.Millisecond)

	result, err := m.Poll(s.id, 0, true, false, PollOptions{
		StopPattern: "^Enter password:$", HasStopPattern: true, StopPatternCut: true,
	})
	require.NoError(t, err)
	assert.True(t, result.PatternMatched)
	assert.Equal(t, "Enter password:", result.MatchedText)
	assert.Equal(t, []string{"line-one", "Enter password:"}, result.Lines)

	events, err := m.SessionEvents(s.id, 0, 10)
	require.NoError(t, err)
	var sawMatch, sawCtrlC bool
	for _, e := range events {
		if e.Kind == SessionEventStopPatternMatched {
			sawMatch = true
		}
		if e.Kind == SessionEventCtrlCSent {
			sawCtrlC = true
		}
	}
	assert.True(t, sawMatch)
	assert.True(t, sawCtrlC)
}

func TestManager_PollStopPatternMatchesPartialTail(t *testing.T) {
	t.Parallel()

	m := NewManager()
	ctx := context.Background()
	s, err := m.CreateSession(ctx, CreateParams{Command: "cat"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.forceKill(TerminationReason{ForceKilled: true}) })

	require.NoError(t, m.Write(s.id, []byte("Enter ")))
	require.NoError(t, m.Write(s.id, []byte("password:")))
	require.Eventually(t, func() bool {
		tail, ok := s.lineBuf.PartialTail()
		return ok && tail == "Enter password:"
	}, 2*time.Second, 20*time.Millisecond)

	result, err := m.Poll(s.id, 0, true, false, PollOptions{
		StopPattern: "^Enter password:$", HasStopPattern: true,
	})
	require.NoError(t, err)
	assert.True(t, result.PatternMatched)
	assert.Equal(t, "Enter password:", result.MatchedText)
}

func TestManager_PruneFinishedArchivesEventsForLateSessionEventsCalls(t *testing.T) {
	t.Parallel()

	m := NewManager()
	ctx := context.Background()
	s, err := m.CreateSession(ctx, CreateParams{Command: "exit 0"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.IsTerminated() }, 2*time.Second, 20*time.Millisecond)
	s.events.record(SessionEventEntry{Kind: SessionEventWatcherMatched, Source: SourceSystem, Reason: "test"})
	s.terminatedAt = time.Now().Add(-2 * pruneAfter)

	m.pruneFinished()

	_, ok := m.Get(s.id)
	assert.False(t, ok)

	events, err := m.SessionEvents(s.id, 0, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}

func TestCapToByteBudget_KeepsMostRecentLines(t *testing.T) {
	t.Parallel()

	lines := []string{"aaaa", "bbbb", "cccc"}
	kept, truncated := capToByteBudget(lines, 6)
	assert.True(t, truncated)
	assert.Equal(t, []string{"cccc"}, kept)
}

func TestCapToByteBudget_UnderBudgetPassesThrough(t *testing.T) {
	t.Parallel()

	lines := []string{"a", "b"}
	kept, truncated := capToByteBudget(lines, 100)
	assert.False(t, truncated)
	assert.Equal(t, lines, kept)
}
