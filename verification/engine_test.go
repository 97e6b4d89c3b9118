package verification

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- fakes and mocks ---

type fakeStore struct {
	mu       sync.Mutex
	pending  map[int64]PendingVerification
	verified map[int64]VerifiedUser
	upserts  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pending:  make(map[int64]PendingVerification),
		verified: make(map[int64]VerifiedUser),
	}
}

func (s *fakeStore) GetVerified(_ context.Context, id int64) (*VerifiedUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.verified[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (s *fakeStore) GetPending(_ context.Context, id int64) (*PendingVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.pending[id]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (s *fakeStore) UpsertPending(_ context.Context, rec *PendingVerification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[rec.UserID] = *rec
	s.upserts++
	return nil
}

func (s *fakeStore) FinalizeVerified(_ context.Context, rec *VerifiedUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verified[rec.UserID] = *rec
	p := s.pending[rec.UserID]
	p.UserID = rec.UserID
	p.Status = StatusVerified
	s.pending[rec.UserID] = p
	return nil
}

func (s *fakeStore) ListPending(_ context.Context, statuses ...Status) ([]PendingVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PendingVerification
	for _, rec := range s.pending {
		for _, st := range statuses {
			if rec.Status == st {
				out = append(out, rec)
				break
			}
		}
	}
	// Same ordering as the SQL store: newest submission first.
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out, nil
}

func (s *fakeStore) CountVerified(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.verified), nil
}

func (s *fakeStore) CountPendingExcluding(_ context.Context, status Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.pending {
		if status == "" || rec.Status != status {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) CountByStatus(_ context.Context, status Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.pending {
		if rec.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) RecentVerified(_ context.Context, n int) ([]VerifiedUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []VerifiedUser
	for _, u := range s.verified {
		out = append(out, u)
	}
	// Same ordering as the SQL store: newest verification first.
	sort.Slice(out, func(i, j int) bool {
		return out[i].VerifiedAt.After(out[j].VerifiedAt)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// recordingNotifier captures notification intents without a transport.
type recordingNotifier struct {
	mu               sync.Mutex
	requesterTexts   map[int64][]string
	moderatorTexts   []string
	contactRequests  []int64
	padPresentations []int64
	padCodes         []string
	padUpdates       [][2]int
	moderatorActions [][]PendingVerification
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{requesterTexts: make(map[int64][]string)}
}

func (r *recordingNotifier) SendToRequester(_ context.Context, id int64, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requesterTexts[id] = append(r.requesterTexts[id], text)
}

func (r *recordingNotifier) SendToModerator(_ context.Context, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moderatorTexts = append(r.moderatorTexts, text)
}

func (r *recordingNotifier) PresentContactRequest(_ context.Context, id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contactRequests = append(r.contactRequests, id)
}

func (r *recordingNotifier) PresentDigitPad(_ context.Context, id int64, code string, length int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.padPresentations = append(r.padPresentations, id)
	r.padCodes = append(r.padCodes, code)
}

func (r *recordingNotifier) UpdateDigitPad(_ context.Context, _ int64, entered, length int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.padUpdates = append(r.padUpdates, [2]int{entered, length})
}

func (r *recordingNotifier) PresentModeratorActions(_ context.Context, pending []PendingVerification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moderatorActions = append(r.moderatorActions, pending)
}

type mockApprover struct{ mock.Mock }

func (m *mockApprover) ApproveJoin(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

// --- fixture ---

const (
	moderatorID = int64(1000)
	aliceID     = int64(42)
)

type fixture struct {
	engine   *Engine
	store    *fakeStore
	sessions *SessionTable
	notify   *recordingNotifier
	approver *mockApprover
}

func newFixture(t *testing.T, mode Mode, code string) *fixture {
	t.Helper()
	f := &fixture{
		store:    newFakeStore(),
		sessions: NewSessionTable(SessionOptions{}),
		notify:   newRecordingNotifier(),
		approver: &mockApprover{},
	}
	f.engine = NewEngine(Config{
		ModeratorID: moderatorID,
		CodeLength:  len(code),
		Mode:        mode,
	}, f.store, f.sessions, f.notify, f.approver)
	f.engine.genCode = func(int) (string, error) { return code, nil }
	return f
}

func alice() Requester {
	return Requester{ID: aliceID, Username: "alice", FirstName: "Alice"}
}

func (f *fixture) enter(t *testing.T, ctx context.Context, digits string) {
	t.Helper()
	for i := 0; i < len(digits); i++ {
		require.NoError(t, f.engine.OnDigitEntry(ctx, aliceID, digits[i]))
	}
}

// --- tests ---

func TestJoinRequestOpensPendingRecord(t *testing.T) {
	f := newFixture(t, ModeModerator, "12345")
	ctx := context.Background()

	require.NoError(t, f.engine.OnJoinRequest(ctx, alice()))

	rec, err := f.store.GetPending(ctx, aliceID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusAwaitingContact, rec.Status)
	assert.Equal(t, []int64{aliceID}, f.notify.contactRequests)
	assert.Len(t, f.notify.moderatorTexts, 1)
	f.approver.AssertNotCalled(t, "ApproveJoin", mock.Anything, mock.Anything)
}

func TestJoinRequestIdempotentBeforeVerification(t *testing.T) {
	f := newFixture(t, ModeModerator, "12345")
	ctx := context.Background()

	require.NoError(t, f.engine.OnJoinRequest(ctx, alice()))
	require.NoError(t, f.engine.OnContactSubmitted(ctx, alice(), aliceID, "+15550001"))

	// A repeated join request re-prompts without losing the shared phone
	// or regressing the status.
	require.NoError(t, f.engine.OnJoinRequest(ctx, alice()))

	rec, err := f.store.GetPending(ctx, aliceID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusContactShared, rec.Status)
	assert.Equal(t, "+15550001", rec.PhoneNumber)
	assert.Equal(t, []int64{aliceID, aliceID}, f.notify.contactRequests)
}

func TestJoinRequestFastAcceptsVerifiedUser(t *testing.T) {
	f := newFixture(t, ModeModerator, "12345")
	ctx := context.Background()
	f.store.verified[aliceID] = VerifiedUser{UserID: aliceID, FirstName: "Alice"}
	f.approver.On("ApproveJoin", mock.Anything, aliceID).Return(nil).Once()

	require.NoError(t, f.engine.OnJoinRequest(ctx, alice()))

	rec, err := f.store.GetPending(ctx, aliceID)
	require.NoError(t, err)
	assert.Nil(t, rec, "fast accept must not create a pending record")
	f.approver.AssertExpectations(t)
	assert.NotEmpty(t, f.notify.requesterTexts[aliceID])
}

func TestContactMismatchRejectedWithoutStateChange(t *testing.T) {
	f := newFixture(t, ModeModerator, "12345")
	ctx := context.Background()
	require.NoError(t, f.engine.OnJoinRequest(ctx, alice()))

	err := f.engine.OnContactSubmitted(ctx, alice(), aliceID+1, "+15550002")
	require.ErrorIs(t, err, ErrContactMismatch)

	rec, err := f.store.GetPending(ctx, aliceID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusAwaitingContact, rec.Status)
	assert.Empty(t, rec.PhoneNumber)
}

func TestModeratorModeContactShareDefersIssuance(t *testing.T) {
	f := newFixture(t, ModeModerator, "12345")
	ctx := context.Background()
	require.NoError(t, f.engine.OnJoinRequest(ctx, alice()))

	require.NoError(t, f.engine.OnContactSubmitted(ctx, alice(), aliceID, "+15550001"))

	rec, _ := f.store.GetPending(ctx, aliceID)
	require.NotNil(t, rec)
	assert.Equal(t, StatusContactShared, rec.Status)
	assert.Empty(t, rec.IssuedCode)
	assert.Equal(t, 0, f.sessions.Len(), "no session before the moderator acts")
	require.Len(t, f.notify.moderatorActions, 1)
	require.Len(t, f.notify.moderatorActions[0], 1)
	assert.Equal(t, aliceID, f.notify.moderatorActions[0][0].UserID)
}

func TestAutomaticModeIssuesCodeOnContactShare(t *testing.T) {
	f := newFixture(t, ModeAutomatic, "654321")
	ctx := context.Background()
	require.NoError(t, f.engine.OnJoinRequest(ctx, alice()))

	require.NoError(t, f.engine.OnContactSubmitted(ctx, alice(), aliceID, "+15550001"))

	rec, _ := f.store.GetPending(ctx, aliceID)
	require.NotNil(t, rec)
	assert.Equal(t, StatusCodeSent, rec.Status)
	assert.Equal(t, "654321", rec.IssuedCode)
	assert.Equal(t, 1, f.sessions.Len())
	assert.Equal(t, []string{"654321"}, f.notify.padCodes)
	assert.Empty(t, f.notify.moderatorActions)
}

func TestCodeIssuanceRequiresOperator(t *testing.T) {
	f := newFixture(t, ModeModerator, "12345")
	ctx := context.Background()
	require.NoError(t, f.engine.OnJoinRequest(ctx, alice()))
	require.NoError(t, f.engine.OnContactSubmitted(ctx, alice(), aliceID, "+15550001"))

	err := f.engine.OnCodeIssuanceRequested(ctx, aliceID, aliceID)
	require.ErrorIs(t, err, ErrUnauthorized)

	rec, _ := f.store.GetPending(ctx, aliceID)
	require.NotNil(t, rec)
	assert.Equal(t, StatusContactShared, rec.Status, "unauthorized calls must not mutate state")
	assert.Empty(t, rec.IssuedCode)
	assert.Equal(t, 0, f.sessions.Len())
}

func TestCodeIssuanceUnknownRequester(t *testing.T) {
	f := newFixture(t, ModeModerator, "12345")
	err := f.engine.OnCodeIssuanceRequested(context.Background(), moderatorID, int64(999))
	require.ErrorIs(t, err, ErrRequesterNotPending)
}

func TestCodeIssuanceOpensSession(t *testing.T) {
	f := newFixture(t, ModeModerator, "12345")
	ctx := context.Background()
	require.NoError(t, f.engine.OnJoinRequest(ctx, alice()))
	require.NoError(t, f.engine.OnContactSubmitted(ctx, alice(), aliceID, "+15550001"))

	require.NoError(t, f.engine.OnCodeIssuanceRequested(ctx, moderatorID, aliceID))

	rec, _ := f.store.GetPending(ctx, aliceID)
	require.NotNil(t, rec)
	assert.Equal(t, StatusCodeSent, rec.Status)
	assert.Equal(t, "12345", rec.IssuedCode)
	assert.Equal(t, 1, f.sessions.Len())
	assert.Equal(t, []int64{aliceID}, f.notify.padPresentations)
}

func TestDigitEntryWithoutSession(t *testing.T) {
	f := newFixture(t, ModeModerator, "12345")
	ctx := context.Background()

	require.ErrorIs(t, f.engine.OnDigitEntry(ctx, aliceID, '1'), ErrSessionExpired)
	require.ErrorIs(t, f.engine.OnBackspace(ctx, aliceID), ErrSessionExpired)
	_, err := f.engine.OnSubmit(ctx, aliceID)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestCodeRevealReturnsIssuedCode(t *testing.T) {
	f := newFixture(t, ModeAutomatic, "654321")
	ctx := context.Background()

	require.NoError(t, f.engine.OnContactSubmitted(ctx, alice(), aliceID, "+111"))
	f.enter(t, ctx, "65")

	code, err := f.engine.OnCodeReveal(ctx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, "654321", code, "reveal returns the live session's code")

	entered, _, err := f.sessions.Snapshot(aliceID)
	require.NoError(t, err)
	assert.Equal(t, 2, entered, "reveal leaves entry progress alone")
}

func TestCodeRevealWithoutSession(t *testing.T) {
	f := newFixture(t, ModeAutomatic, "654321")

	_, err := f.engine.OnCodeReveal(context.Background(), aliceID)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestEndToEndCorrectCode(t *testing.T) {
	f := newFixture(t, ModeModerator, "12345")
	ctx := context.Background()
	require.NoError(t, f.engine.OnJoinRequest(ctx, alice()))
	require.NoError(t, f.engine.OnContactSubmitted(ctx, alice(), aliceID, "+15550001"))
	require.NoError(t, f.engine.OnCodeIssuanceRequested(ctx, moderatorID, aliceID))
	f.approver.On("ApproveJoin", mock.Anything, aliceID).Return(nil).Once()

	f.enter(t, ctx, "12345")
	res, err := f.engine.OnSubmit(ctx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, Correct, res)

	ver, err := f.store.GetVerified(ctx, aliceID)
	require.NoError(t, err)
	require.NotNil(t, ver)
	assert.Equal(t, "+15550001", ver.PhoneNumber)

	rec, _ := f.store.GetPending(ctx, aliceID)
	require.NotNil(t, rec)
	assert.Equal(t, StatusVerified, rec.Status)
	assert.Equal(t, 0, f.sessions.Len(), "session closed after success")
	f.approver.AssertExpectations(t)
	f.approver.AssertNumberOfCalls(t, "ApproveJoin", 1)
}

func TestEndToEndIncorrectThenCorrect(t *testing.T) {
	f := newFixture(t, ModeModerator, "12345")
	ctx := context.Background()
	require.NoError(t, f.engine.OnJoinRequest(ctx, alice()))
	require.NoError(t, f.engine.OnContactSubmitted(ctx, alice(), aliceID, "+15550001"))
	require.NoError(t, f.engine.OnCodeIssuanceRequested(ctx, moderatorID, aliceID))
	f.approver.On("ApproveJoin", mock.Anything, aliceID).Return(nil).Once()

	f.enter(t, ctx, "12346")
	res, err := f.engine.OnSubmit(ctx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, Incorrect, res)

	// The wrong attempt never advances nor regresses the status and keeps
	// the issued code.
	rec, _ := f.store.GetPending(ctx, aliceID)
	require.NotNil(t, rec)
	assert.Equal(t, StatusCodeSent, rec.Status)
	assert.Equal(t, "12345", rec.IssuedCode)

	f.enter(t, ctx, "12345")
	res, err = f.engine.OnSubmit(ctx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, Correct, res)
	f.approver.AssertExpectations(t)
}

func TestSubmitIncompleteKeepsEverything(t *testing.T) {
	f := newFixture(t, ModeModerator, "12345")
	ctx := context.Background()
	require.NoError(t, f.engine.OnJoinRequest(ctx, alice()))
	require.NoError(t, f.engine.OnContactSubmitted(ctx, alice(), aliceID, "+15550001"))
	require.NoError(t, f.engine.OnCodeIssuanceRequested(ctx, moderatorID, aliceID))

	f.enter(t, ctx, "123")
	res, err := f.engine.OnSubmit(ctx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, Incomplete, res)

	entered, length, err := f.sessions.Snapshot(aliceID)
	require.NoError(t, err)
	assert.Equal(t, 3, entered)
	assert.Equal(t, 5, length)
	f.approver.AssertNotCalled(t, "ApproveJoin", mock.Anything, mock.Anything)
}

func TestApprovalFailureDoesNotUndoVerification(t *testing.T) {
	f := newFixture(t, ModeModerator, "12345")
	ctx := context.Background()
	require.NoError(t, f.engine.OnJoinRequest(ctx, alice()))
	require.NoError(t, f.engine.OnContactSubmitted(ctx, alice(), aliceID, "+15550001"))
	require.NoError(t, f.engine.OnCodeIssuanceRequested(ctx, moderatorID, aliceID))
	f.approver.On("ApproveJoin", mock.Anything, aliceID).Return(ErrNoJoinRequest).Once()

	f.enter(t, ctx, "12345")
	res, err := f.engine.OnSubmit(ctx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, Correct, res)

	ver, err := f.store.GetVerified(ctx, aliceID)
	require.NoError(t, err)
	require.NotNil(t, ver, "verification stands despite the approval failure")

	// The requester is asked to re-request rather than told they failed.
	texts := f.notify.requesterTexts[aliceID]
	require.NotEmpty(t, texts)
	assert.Contains(t, texts[len(texts)-1], "request to join again")
}

func TestDigitEntryUpdatesProgress(t *testing.T) {
	f := newFixture(t, ModeAutomatic, "1234")
	ctx := context.Background()
	require.NoError(t, f.engine.OnStart(ctx, alice()))
	require.NoError(t, f.engine.OnContactSubmitted(ctx, alice(), aliceID, "+15550001"))

	f.enter(t, ctx, "12")
	require.NoError(t, f.engine.OnBackspace(ctx, aliceID))

	require.Equal(t, [][2]int{{1, 4}, {2, 4}, {1, 4}}, f.notify.padUpdates)
}

func TestPendingListAndStatsRequireOperator(t *testing.T) {
	f := newFixture(t, ModeModerator, "12345")
	ctx := context.Background()

	_, err := f.engine.PendingList(ctx, aliceID)
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.engine.Stats(ctx, aliceID)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestPendingListMostRecentFirst(t *testing.T) {
	f := newFixture(t, ModeModerator, "12345")
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []int64{201, 202, 203} {
		require.NoError(t, f.store.UpsertPending(ctx, &PendingVerification{
			UserID:      id,
			Status:      StatusAwaitingContact,
			SubmittedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	pending, err := f.engine.PendingList(ctx, moderatorID)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, int64(203), pending[0].UserID)
	assert.Equal(t, int64(202), pending[1].UserID)
	assert.Equal(t, int64(201), pending[2].UserID)
}

func TestRecentVerifiedMostRecentFirst(t *testing.T) {
	f := newFixture(t, ModeModerator, "12345")
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []int64{301, 302, 303} {
		require.NoError(t, f.store.FinalizeVerified(ctx, &VerifiedUser{
			UserID:     id,
			VerifiedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	stats, err := f.engine.Stats(ctx, moderatorID)
	require.NoError(t, err)
	require.Len(t, stats.Recent, 3)
	assert.Equal(t, int64(303), stats.Recent[0].UserID)
	assert.Equal(t, int64(302), stats.Recent[1].UserID)
	assert.Equal(t, int64(301), stats.Recent[2].UserID)
}

func TestStatsCounts(t *testing.T) {
	f := newFixture(t, ModeModerator, "12345")
	ctx := context.Background()
	require.NoError(t, f.engine.OnJoinRequest(ctx, alice()))
	bob := Requester{ID: 77, Username: "bob", FirstName: "Bob"}
	require.NoError(t, f.engine.OnJoinRequest(ctx, bob))
	require.NoError(t, f.engine.OnContactSubmitted(ctx, bob, bob.ID, "+15550009"))
	require.NoError(t, f.engine.OnCodeIssuanceRequested(ctx, moderatorID, bob.ID))
	f.approver.On("ApproveJoin", mock.Anything, bob.ID).Return(nil).Once()
	for _, d := range []byte("12345") {
		require.NoError(t, f.engine.OnDigitEntry(ctx, bob.ID, d))
	}
	_, err := f.engine.OnSubmit(ctx, bob.ID)
	require.NoError(t, err)

	stats, err := f.engine.Stats(ctx, moderatorID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Verified)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 2, stats.TotalProcessed)
	require.Len(t, stats.Recent, 1)
	assert.Equal(t, bob.ID, stats.Recent[0].UserID)

	pending, err := f.engine.PendingList(ctx, moderatorID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, aliceID, pending[0].UserID)
}
