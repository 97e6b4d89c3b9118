package verification

import (
	"sync"
	"time"
)

// MatchResult is the outcome of a code submission. Incomplete and
// Incorrect are expected control states, not errors.
type MatchResult int

const (
	// Incomplete means fewer digits were entered than the code length.
	// The buffer is left untouched so the requester can keep typing.
	Incomplete MatchResult = iota
	// Incorrect means a full buffer did not match. The buffer is cleared
	// for a full re-entry; the session and issued code stay alive.
	Incorrect
	// Correct means the entry matched. The caller must close the session.
	Correct
)

func (r MatchResult) String() string {
	switch r {
	case Incomplete:
		return "incomplete"
	case Incorrect:
		return "incorrect"
	case Correct:
		return "correct"
	}
	return "unknown"
}

// Sessions is the ephemeral code-entry state contract, keyed by requester id.
type Sessions interface {
	Open(requesterID int64, issuedCode string)
	// AppendDigit adds one digit and returns the new entered length.
	// A full buffer swallows further digits without error.
	AppendDigit(requesterID int64, digit byte) (int, error)
	Backspace(requesterID int64) error
	// Snapshot reports entry progress without exposing the code value.
	Snapshot(requesterID int64) (entered, length int, err error)
	// Code returns the issued code of a live session.
	Code(requesterID int64) (string, error)
	Submit(requesterID int64) (MatchResult, error)
	Close(requesterID int64)
}

type session struct {
	code     string
	entered  []byte
	openedAt time.Time
	attempts int
}

// SessionTable is the in-memory Sessions implementation. One session per
// requester; reopening replaces any in-flight entry. The zero knobs keep
// the permissive defaults: codes never expire and retries are unlimited.
type SessionTable struct {
	mu       sync.Mutex
	sessions map[int64]*session

	ttl         time.Duration
	maxAttempts int
}

// SessionOptions tune optional hardening. Zero values disable each limit.
type SessionOptions struct {
	// TTL expires a session this long after it was opened.
	TTL time.Duration
	// MaxAttempts closes the session after this many Incorrect submissions.
	MaxAttempts int
}

// NewSessionTable builds an empty session table.
func NewSessionTable(opts SessionOptions) *SessionTable {
	return &SessionTable{
		sessions:    make(map[int64]*session),
		ttl:         opts.TTL,
		maxAttempts: opts.MaxAttempts,
	}
}

// Open creates a fresh session, overwriting any prior one for the same id.
// A new code issuance invalidates an older in-flight entry.
func (t *SessionTable) Open(requesterID int64, issuedCode string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[requesterID] = &session{
		code:     issuedCode,
		entered:  make([]byte, 0, len(issuedCode)),
		openedAt: time.Now(),
	}
}

// get returns a live session, reaping it first if the TTL has passed.
// Callers must hold t.mu.
func (t *SessionTable) get(requesterID int64) (*session, error) {
	s, ok := t.sessions[requesterID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if t.ttl > 0 && time.Since(s.openedAt) > t.ttl {
		delete(t.sessions, requesterID)
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (t *SessionTable) AppendDigit(requesterID int64, digit byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.get(requesterID)
	if err != nil {
		return 0, err
	}
	if len(s.entered) >= len(s.code) {
		// Full buffer: extra digits are swallowed, not an error.
		return len(s.entered), nil
	}
	s.entered = append(s.entered, digit)
	return len(s.entered), nil
}

func (t *SessionTable) Backspace(requesterID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.get(requesterID)
	if err != nil {
		return err
	}
	if len(s.entered) > 0 {
		s.entered = s.entered[:len(s.entered)-1]
	}
	return nil
}

func (t *SessionTable) Snapshot(requesterID int64) (int, int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.get(requesterID)
	if err != nil {
		return 0, 0, err
	}
	return len(s.entered), len(s.code), nil
}

func (t *SessionTable) Code(requesterID int64) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.get(requesterID)
	if err != nil {
		return "", err
	}
	return s.code, nil
}

func (t *SessionTable) Submit(requesterID int64) (MatchResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.get(requesterID)
	if err != nil {
		return Incomplete, err
	}
	if len(s.entered) != len(s.code) {
		return Incomplete, nil
	}
	if string(s.entered) != s.code {
		s.entered = s.entered[:0]
		s.attempts++
		if t.maxAttempts > 0 && s.attempts >= t.maxAttempts {
			delete(t.sessions, requesterID)
		}
		return Incorrect, nil
	}
	return Correct, nil
}

// Close removes the session. Closing an absent id is a no-op.
func (t *SessionTable) Close(requesterID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, requesterID)
}

// Len reports the number of live sessions.
func (t *SessionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
