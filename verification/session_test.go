package verification

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func enterDigits(t *testing.T, tab *SessionTable, id int64, digits string) {
	t.Helper()
	for i := 0; i < len(digits); i++ {
		if _, err := tab.AppendDigit(id, digits[i]); err != nil {
			t.Fatalf("AppendDigit(%q): %v", digits[i], err)
		}
	}
}

func TestSessionSubmitIncomplete(t *testing.T) {
	tab := NewSessionTable(SessionOptions{})
	tab.Open(1, "12345")
	enterDigits(t, tab, 1, "123")

	for i := 0; i < 3; i++ {
		res, err := tab.Submit(1)
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if res != Incomplete {
			t.Fatalf("Submit = %v, want Incomplete", res)
		}
	}
	entered, length, err := tab.Snapshot(1)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if entered != 3 || length != 5 {
		t.Fatalf("Snapshot = (%d, %d), want (3, 5); incomplete submit must not touch the buffer", entered, length)
	}
}

func TestSessionIncorrectClearsBufferKeepsCode(t *testing.T) {
	tab := NewSessionTable(SessionOptions{})
	tab.Open(1, "12345")
	enterDigits(t, tab, 1, "12346")

	res, err := tab.Submit(1)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res != Incorrect {
		t.Fatalf("Submit = %v, want Incorrect", res)
	}
	entered, _, err := tab.Snapshot(1)
	if err != nil {
		t.Fatalf("Snapshot after incorrect: %v", err)
	}
	if entered != 0 {
		t.Fatalf("entered = %d after incorrect, want 0", entered)
	}

	// A correct entry after a wrong one still succeeds against the same code.
	enterDigits(t, tab, 1, "12345")
	res, err = tab.Submit(1)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res != Correct {
		t.Fatalf("Submit = %v, want Correct", res)
	}
}

func TestSessionAppendBeyondLengthIsNoop(t *testing.T) {
	tab := NewSessionTable(SessionOptions{})
	tab.Open(1, "1234")
	enterDigits(t, tab, 1, "1234")

	n, err := tab.AppendDigit(1, '9')
	if err != nil {
		t.Fatalf("AppendDigit on full buffer: %v", err)
	}
	if n != 4 {
		t.Fatalf("length = %d, want 4", n)
	}
	res, err := tab.Submit(1)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res != Correct {
		t.Fatalf("Submit = %v, want Correct; overflow digit must be swallowed", res)
	}
}

func TestSessionBackspace(t *testing.T) {
	tab := NewSessionTable(SessionOptions{})
	tab.Open(7, "999")

	// Empty buffer: no-op.
	if err := tab.Backspace(7); err != nil {
		t.Fatalf("Backspace on empty buffer: %v", err)
	}

	enterDigits(t, tab, 7, "98")
	if err := tab.Backspace(7); err != nil {
		t.Fatalf("Backspace: %v", err)
	}
	entered, _, _ := tab.Snapshot(7)
	if entered != 1 {
		t.Fatalf("entered = %d after backspace, want 1", entered)
	}
}

func TestSessionNotFound(t *testing.T) {
	tab := NewSessionTable(SessionOptions{})

	if _, err := tab.AppendDigit(42, '1'); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("AppendDigit err = %v, want ErrSessionNotFound", err)
	}
	if err := tab.Backspace(42); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Backspace err = %v, want ErrSessionNotFound", err)
	}
	if _, _, err := tab.Snapshot(42); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Snapshot err = %v, want ErrSessionNotFound", err)
	}
	if _, err := tab.Submit(42); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Submit err = %v, want ErrSessionNotFound", err)
	}
	if _, err := tab.Code(42); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Code err = %v, want ErrSessionNotFound", err)
	}

	// Close on an absent id is a no-op, not an error.
	tab.Close(42)
}

func TestSessionCodeReturnsIssuedValue(t *testing.T) {
	tab := NewSessionTable(SessionOptions{})
	tab.Open(1, "90210")

	code, err := tab.Code(1)
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	if code != "90210" {
		t.Fatalf("Code = %q, want %q", code, "90210")
	}
}

func TestSessionReopenReplaces(t *testing.T) {
	tab := NewSessionTable(SessionOptions{})
	tab.Open(1, "11111")
	enterDigits(t, tab, 1, "111")

	tab.Open(1, "22222")
	entered, length, err := tab.Snapshot(1)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if entered != 0 || length != 5 {
		t.Fatalf("Snapshot = (%d, %d) after reopen, want (0, 5)", entered, length)
	}
	if tab.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tab.Len())
	}
}

func TestSessionTTLExpiry(t *testing.T) {
	tab := NewSessionTable(SessionOptions{TTL: 10 * time.Millisecond})
	tab.Open(1, "12345")
	time.Sleep(25 * time.Millisecond)

	if _, err := tab.AppendDigit(1, '1'); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("AppendDigit after TTL err = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionMaxAttempts(t *testing.T) {
	tab := NewSessionTable(SessionOptions{MaxAttempts: 2})
	tab.Open(1, "123")

	for attempt := 0; attempt < 2; attempt++ {
		enterDigits(t, tab, 1, "124")
		res, err := tab.Submit(1)
		if err != nil {
			t.Fatalf("Submit attempt %d: %v", attempt, err)
		}
		if res != Incorrect {
			t.Fatalf("Submit = %v, want Incorrect", res)
		}
	}
	if _, err := tab.Submit(1); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Submit after lockout err = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionConcurrentRequesters(t *testing.T) {
	tab := NewSessionTable(SessionOptions{})
	const n = 32
	for i := int64(0); i < n; i++ {
		tab.Open(i, "1234")
	}

	var wg sync.WaitGroup
	for i := int64(0); i < n; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			for _, d := range []byte("1234") {
				if _, err := tab.AppendDigit(id, d); err != nil {
					t.Errorf("AppendDigit(%d): %v", id, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	for i := int64(0); i < n; i++ {
		res, err := tab.Submit(i)
		if err != nil {
			t.Fatalf("Submit(%d): %v", i, err)
		}
		if res != Correct {
			t.Fatalf("Submit(%d) = %v, want Correct", i, res)
		}
	}
}
