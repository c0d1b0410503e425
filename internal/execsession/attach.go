package execsession

import (
	"context"
	"io"
	"os"
	"time"

	"golang.org/x/term"
)

const attachPollInterval = 20 * time.Millisecond

// Attach pumps stdin into the session's PTY and the session's output back
// out to stdout, putting the calling terminal into raw mode for the
// duration so keystrokes (including Ctrl-C) pass through untranslated. It
// blocks until the session terminates or ctx is canceled.
//
// When stdin is not an interactive terminal (the common case in tests, or
// when a caller pipes input), raw-mode and size-forwarding are skipped and
// Attach degrades to a plain copy loop.
func Attach(ctx context.Context, session *ManagedSession, stdin *os.File, stdout io.Writer) error {
	fd := int(stdin.Fd())
	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return err
		}
		defer func() { _ = term.Restore(fd, oldState) }()

		if cols, rows, err := term.GetSize(fd); err == nil {
			_ = session.Resize(uint16(cols), uint16(rows))
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go pumpStdin(ctx, session, stdin)

	return pumpSessionOutput(ctx, session, stdout)
}

// pumpStdin copies raw bytes from stdin into the session until ctx is
// canceled or the read fails (e.g. the caller closed stdin).
func pumpStdin(ctx context.Context, session *ManagedSession, stdin *os.File) {
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := stdin.Read(buf)
		if n > 0 {
			if _, writeErr := session.Write(buf[:n]); writeErr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// pumpSessionOutput polls the session's retained output starting from the
// current high-water mark (replaying history is the job of Poll, not
// Attach) and writes newly produced bytes to stdout until the session
// terminates or ctx is canceled.
func pumpSessionOutput(ctx context.Context, session *ManagedSession, stdout io.Writer) error {
	_, _, cursor := session.outputBuf.CollectSince(0)

	ticker := time.NewTicker(attachPollInterval)
	defer ticker.Stop()

	for {
		data, _, next := session.outputBuf.CollectSince(cursor)
		cursor = next
		if len(data) > 0 {
			if _, err := stdout.Write(data); err != nil {
				return err
			}
		}

		if session.IsTerminated() {
			data, _, _ = session.outputBuf.CollectSince(cursor)
			if len(data) > 0 {
				_, _ = stdout.Write(data)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-session.exited:
		case <-ticker.C:
		}
	}
}
