package imapwire

import (
	"bytes"
	"testing"
)

func TestLineScannerSimpleLine(t *testing.T) {
	s := NewLineScanner()
	if err := s.Write([]byte("* OK greeting\r\n")); err != nil {
		t.Fatal(err)
	}
	line, err := s.Peek()
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if string(line) != "* OK greeting\r\n" {
		t.Fatalf("got %q", line)
	}
	s.Commit()
	if s.Buffered() != 0 {
		t.Fatalf("expected empty buffer after commit, got %d bytes", s.Buffered())
	}
}

func TestLineScannerShortRead(t *testing.T) {
	s := NewLineScanner()
	if err := s.Write([]byte("* OK partial")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Peek(); err != ErrShortRead {
		t.Fatalf("expected ErrShortRead, got %v", err)
	}
	if err := s.Write([]byte(" line\r\n")); err != nil {
		t.Fatal(err)
	}
	line, err := s.Peek()
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if string(line) != "* OK partial line\r\n" {
		t.Fatalf("got %q", line)
	}
}

func TestLineScannerLiteralEmbeddedCRLF(t *testing.T) {
	s := NewLineScanner()
	// A literal body that itself contains a CRLF must not be mistaken
	// for the logical line terminator.
	if err := s.Write([]byte("* 1 FETCH (BODY[] {7}\r\nhi\r\nbye)\r\n")); err != nil {
		t.Fatal(err)
	}
	line, err := s.Peek()
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	want := "* 1 FETCH (BODY[] {7}\r\nhi\r\nbye)\r\n"
	if string(line) != want {
		t.Fatalf("got %q, want %q", line, want)
	}
	s.Commit()
}

func TestLineScannerLiteralShortRead(t *testing.T) {
	s := NewLineScanner()
	if err := s.Write([]byte("* 1 FETCH (BODY[] {7}\r\nhi\r\nby")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Peek(); err != ErrShortRead {
		t.Fatalf("expected ErrShortRead, got %v", err)
	}
	if err := s.Write([]byte("e)\r\n")); err != nil {
		t.Fatal(err)
	}
	line, err := s.Peek()
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if !bytes.HasSuffix(line, []byte(")\r\n")) {
		t.Fatalf("got %q", line)
	}
}

func TestLineScannerMultipleLiterals(t *testing.T) {
	s := NewLineScanner()
	if err := s.Write([]byte("a1 LOGIN {5}\r\nadmin {8}\r\npassword\r\n")); err != nil {
		t.Fatal(err)
	}
	line, err := s.Peek()
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if string(line) != "a1 LOGIN {5}\r\nadmin {8}\r\npassword\r\n" {
		t.Fatalf("got %q", line)
	}
}

func TestLineScannerCommitWithoutPeekPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewLineScanner().Commit()
}

func TestLineScannerPeekIsIdempotent(t *testing.T) {
	s := NewLineScanner()
	s.Write([]byte("* OK hi\r\n"))
	l1, _ := s.Peek()
	l2, _ := s.Peek()
	if string(l1) != string(l2) {
		t.Fatalf("Peek not idempotent: %q vs %q", l1, l2)
	}
}
