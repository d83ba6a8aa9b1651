package s4pp

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestLineFramer_ReadLine(t *testing.T) {
	f := NewLineFramer(strings.NewReader("one\ntwo\n\nthree\n"))

	want := []string{"one", "two", "", "three"}
	for _, w := range want {
		line, err := f.ReadLine()
		if err != nil {
			t.Fatal(err)
		}
		if string(line) != w {
			t.Errorf("got %q, want %q", line, w)
		}
	}

	if _, err := f.ReadLine(); err != io.EOF {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestLineFramer_RejectsCR(t *testing.T) {
	f := NewLineFramer(strings.NewReader("good\nbad\r\n"))

	if _, err := f.ReadLine(); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ReadLine(); !errors.Is(err, ErrFraming) {
		t.Errorf("expected ErrFraming for a CR-containing line, got %v", err)
	}
}

func TestLineFramer_PartialTrailingLine(t *testing.T) {
	f := NewLineFramer(strings.NewReader("complete\nno newline here"))

	if _, err := f.ReadLine(); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ReadLine(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected io.ErrUnexpectedEOF for a partial trailing line, got %v", err)
	}
}

func TestLineFramer_MaxLineLength(t *testing.T) {
	f := NewLineFramer(strings.NewReader("short\nthis-line-is-too-long\n"))
	f.SetMaxLineLength(10)

	if _, err := f.ReadLine(); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ReadLine(); !errors.Is(err, ErrLineTooLong) {
		t.Errorf("expected ErrLineTooLong, got %v", err)
	}
}

func TestLineFramer_ReadLineContext_Cancellation(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	f := NewLineFramer(pr)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.ReadLineContext(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestLineFramer_ReadLineContext_Success(t *testing.T) {
	f := NewLineFramer(strings.NewReader("ready\n"))

	line, err := f.ReadLineContext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if string(line) != "ready" {
		t.Errorf("got %q, want %q", line, "ready")
	}
}
