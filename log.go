package s4pp

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// ANSI colour escapes, used only when the log writer is a terminal. Same
// palette as a CLI status reporter would use for step success/failure.
const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
)

// SessionLogger is the structured text logger shared by both role
// engines. It never receives the shared key material or the raw challenge
// token — only lengths, identifiers and counts.
type SessionLogger struct {
	out   io.Writer
	color bool
}

// NewSessionLogger builds a logger writing to w, auto-detecting ANSI
// colour support via isatty when w is backed by an *os.File.
func NewSessionLogger(w io.Writer) *SessionLogger {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &SessionLogger{out: w, color: color}
}

func (l *SessionLogger) line(level, colorCode, sessionID, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	ts := time.Now().Format(time.RFC3339)
	if l.color {
		fmt.Fprintf(l.out, "ts=%s level=%s%s%s%s session=%s msg=%q\n", ts, colorCode, ansiBold, level, ansiReset, sessionID, msg)
		return
	}
	fmt.Fprintf(l.out, "ts=%s level=%s session=%s msg=%q\n", ts, level, sessionID, msg)
}

// Debugf logs a low-level trace line.
func (l *SessionLogger) Debugf(sessionID, format string, args ...any) {
	l.line("debug", ansiDim, sessionID, format, args...)
}

// Infof logs a routine event, e.g. a successful commit.
func (l *SessionLogger) Infof(sessionID, format string, args ...any) {
	l.line("info", ansiGreen, sessionID, format, args...)
}

// Warnf logs a recoverable anomaly, e.g. a dropped notification or a
// swallowed audit-export failure.
func (l *SessionLogger) Warnf(sessionID, format string, args ...any) {
	l.line("warn", ansiYellow, sessionID, format, args...)
}

// Errorf logs a fatal session-ending condition.
func (l *SessionLogger) Errorf(sessionID, format string, args ...any) {
	l.line("error", ansiRed, sessionID, format, args...)
}

// CommitSummary renders a human-readable commit line using humanize for
// sample counts and elapsed duration, e.g. for an Infof call site.
func CommitSummary(seqID int64, sampleCount int, elapsed time.Duration) string {
	return fmt.Sprintf("seq=%d samples=%s elapsed=%s", seqID, humanize.Comma(int64(sampleCount)), humanize.RelTime(time.Now().Add(-elapsed), time.Now(), "", ""))
}
