package verification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"gatebot/core/logger"
)

// Mode selects who triggers code issuance after a contact is shared.
type Mode string

const (
	// ModeModerator relays issuance through the operator: the contact share
	// notifies the moderator, who triggers the code from an inline action.
	ModeModerator Mode = "moderator"
	// ModeAutomatic issues the code immediately on contact submission.
	ModeAutomatic Mode = "auto"
)

// Requester identifies the person attempting to join.
type Requester struct {
	ID        int64
	Username  string
	FirstName string
}

// DisplayName returns the best human-readable name for notifications.
func (r Requester) DisplayName() string {
	if r.FirstName != "" {
		return r.FirstName
	}
	if r.Username != "" {
		return "@" + r.Username
	}
	return fmt.Sprintf("id %d", r.ID)
}

// Notifier delivers prompts and progress to the requester and moderator.
// Calls are best-effort: implementations log failures, the engine never
// rolls back state because a notification did not land.
type Notifier interface {
	SendToRequester(ctx context.Context, requesterID int64, text string)
	SendToModerator(ctx context.Context, text string)
	// PresentContactRequest shows the share-contact keyboard to the requester.
	PresentContactRequest(ctx context.Context, requesterID int64)
	// PresentDigitPad shows a fresh entry pad for a code of the given length.
	// The code is passed so the implementation can deliver it alongside or
	// ahead of the pad; it must never appear in progress updates.
	PresentDigitPad(ctx context.Context, requesterID int64, code string, length int)
	// UpdateDigitPad re-renders entry progress on the live pad message.
	UpdateDigitPad(ctx context.Context, requesterID int64, entered, length int)
	// PresentModeratorActions shows pending requesters with issue-code actions.
	PresentModeratorActions(ctx context.Context, pending []PendingVerification)
}

// Approver performs the join approval against the restricted destination.
type Approver interface {
	// ApproveJoin returns nil on success, ErrAlreadyResolved when the
	// request was handled elsewhere, ErrNoJoinRequest when none is
	// outstanding. Both non-nil outcomes are non-fatal to verification.
	ApproveJoin(ctx context.Context, requesterID int64) error
}

// Config parameterizes the flow engine.
type Config struct {
	// ModeratorID is the single principal allowed moderator-only operations.
	ModeratorID int64
	CodeLength  int
	Mode        Mode
}

// Stats is the read-only reporting surface for the moderator.
type Stats struct {
	Verified       int
	Pending        int
	TotalProcessed int
	Recent         []VerifiedUser
}

// Engine is the verification state machine. Events for the same requester
// are serialized through a per-key mutex; different requesters proceed
// concurrently. Notifications and the approval action run after the lock
// is released and after durable writes have landed.
type Engine struct {
	cfg      Config
	store    RecordStore
	sessions Sessions
	notify   Notifier
	approver Approver

	genCode func(length int) (string, error)

	keysMu sync.Mutex
	keys   map[int64]*sync.Mutex
}

// NewEngine wires the engine with its collaborators.
func NewEngine(cfg Config, store RecordStore, sessions Sessions, notify Notifier, approver Approver) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    store,
		sessions: sessions,
		notify:   notify,
		approver: approver,
		genCode:  Generate,
		keys:     make(map[int64]*sync.Mutex),
	}
}

// lock acquires the per-requester mutex and returns its release func.
func (e *Engine) lock(requesterID int64) func() {
	e.keysMu.Lock()
	m, ok := e.keys[requesterID]
	if !ok {
		m = &sync.Mutex{}
		e.keys[requesterID] = m
	}
	e.keysMu.Unlock()
	m.Lock()
	return m.Unlock
}

func runAll(fns *[]func()) {
	for _, fn := range *fns {
		fn()
	}
}

// OnJoinRequest handles a join request against the restricted destination.
// Already-verified requesters fast-accept without touching the pending
// table; everyone else gets an awaiting-contact record and a contact
// prompt. Repeated requests before verification just re-send the prompt.
func (e *Engine) OnJoinRequest(ctx context.Context, req Requester) error {
	var after []func()
	defer runAll(&after)
	unlock := e.lock(req.ID)
	defer unlock()

	v, err := e.store.GetVerified(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("check verified: %w", err)
	}
	if v != nil {
		logger.Info(ctx, "service.verify", "join.fast_accept",
			slog.Int64("requester_id", req.ID),
			slog.String("flow_state", string(StatusVerified)),
		)
		after = append(after, func() {
			e.approveAndNotify(ctx, req.ID)
			e.notify.SendToModerator(ctx, fmt.Sprintf(
				"%s requested to join and was auto-approved (already verified).", req.DisplayName()))
		})
		return nil
	}

	cur, err := e.store.GetPending(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("read pending: %w", err)
	}
	rec := mergePending(cur, req, StatusAwaitingContact)
	if err := e.store.UpsertPending(ctx, rec); err != nil {
		return fmt.Errorf("upsert pending: %w", err)
	}

	logger.Info(ctx, "service.verify", "join.request",
		slog.Int64("requester_id", req.ID),
		slog.String("flow_state", string(rec.Status)),
	)
	after = append(after, func() {
		e.notify.PresentContactRequest(ctx, req.ID)
		e.notify.SendToModerator(ctx, fmt.Sprintf(
			"%s requested to join. Verification started.", req.DisplayName()))
	})
	return nil
}

// OnStart handles an explicit conversation start with the bot. It behaves
// like a join request minus the moderator notification.
func (e *Engine) OnStart(ctx context.Context, req Requester) error {
	var after []func()
	defer runAll(&after)
	unlock := e.lock(req.ID)
	defer unlock()

	v, err := e.store.GetVerified(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("check verified: %w", err)
	}
	if v != nil {
		after = append(after, func() {
			e.notify.SendToRequester(ctx, req.ID,
				"You are already verified. Request to join and you will be approved automatically.")
		})
		return nil
	}

	cur, err := e.store.GetPending(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("read pending: %w", err)
	}
	rec := mergePending(cur, req, StatusAwaitingContact)
	if err := e.store.UpsertPending(ctx, rec); err != nil {
		return fmt.Errorf("upsert pending: %w", err)
	}

	logger.Info(ctx, "service.verify", "flow.start",
		slog.Int64("requester_id", req.ID),
		slog.String("flow_state", string(rec.Status)),
	)
	after = append(after, func() {
		e.notify.PresentContactRequest(ctx, req.ID)
	})
	return nil
}

// OnContactSubmitted records a shared contact. The contact must belong to
// the requester. In moderator mode the operator is asked to trigger
// issuance; in automatic mode the code is issued in the same transition.
func (e *Engine) OnContactSubmitted(ctx context.Context, req Requester, contactOwnerID int64, phoneNumber string) error {
	if contactOwnerID != req.ID {
		logger.Warn(ctx, "service.verify", "contact.mismatch",
			slog.Int64("requester_id", req.ID),
			slog.Int64("owner_id", contactOwnerID),
		)
		return ErrContactMismatch
	}

	var after []func()
	defer runAll(&after)
	unlock := e.lock(req.ID)
	defer unlock()

	cur, err := e.store.GetPending(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("read pending: %w", err)
	}
	rec := mergePending(cur, req, StatusContactShared)
	rec.PhoneNumber = phoneNumber

	if e.cfg.Mode == ModeAutomatic {
		code, err := e.genCode(e.cfg.CodeLength)
		if err != nil {
			return fmt.Errorf("generate code: %w", err)
		}
		rec.IssuedCode = code
		rec.Status = MaxStatus(rec.Status, StatusCodeSent)
		if err := e.store.UpsertPending(ctx, rec); err != nil {
			return fmt.Errorf("upsert pending: %w", err)
		}
		e.sessions.Open(req.ID, code)
		logger.Info(ctx, "service.verify", "code.issued",
			slog.Int64("requester_id", req.ID),
			slog.String("flow_state", string(rec.Status)),
			slog.String("delivery_mode", string(e.cfg.Mode)),
			slog.Int("code_len", len(code)),
		)
		after = append(after, func() {
			e.notify.PresentDigitPad(ctx, req.ID, code, len(code))
		})
		return nil
	}

	if err := e.store.UpsertPending(ctx, rec); err != nil {
		return fmt.Errorf("upsert pending: %w", err)
	}
	logger.Info(ctx, "service.verify", "contact.shared",
		slog.Int64("requester_id", req.ID),
		slog.String("flow_state", string(rec.Status)),
		slog.String("delivery_mode", string(e.cfg.Mode)),
	)
	snapshot := *rec
	after = append(after, func() {
		e.notify.SendToRequester(ctx, req.ID,
			"Thanks! The moderator will send you a verification code shortly.")
		e.notify.PresentModeratorActions(ctx, []PendingVerification{snapshot})
	})
	return nil
}

// OnCodeIssuanceRequested issues a code from a moderator action. Only the
// configured operator may call it; a missing pending record means the
// action message is stale.
func (e *Engine) OnCodeIssuanceRequested(ctx context.Context, callerID, requesterID int64) error {
	if callerID != e.cfg.ModeratorID {
		return ErrUnauthorized
	}

	var after []func()
	defer runAll(&after)
	unlock := e.lock(requesterID)
	defer unlock()

	rec, err := e.store.GetPending(ctx, requesterID)
	if err != nil {
		return fmt.Errorf("read pending: %w", err)
	}
	if rec == nil {
		return ErrRequesterNotPending
	}

	code, err := e.genCode(e.cfg.CodeLength)
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	rec.IssuedCode = code
	rec.Status = MaxStatus(rec.Status, StatusCodeSent)
	if err := e.store.UpsertPending(ctx, rec); err != nil {
		return fmt.Errorf("upsert pending: %w", err)
	}
	e.sessions.Open(requesterID, code)

	logger.Info(ctx, "service.verify", "code.issued",
		slog.Int64("requester_id", requesterID),
		slog.String("flow_state", string(rec.Status)),
		slog.String("delivery_mode", string(e.cfg.Mode)),
		slog.Int("code_len", len(code)),
	)
	after = append(after, func() {
		e.notify.PresentDigitPad(ctx, requesterID, code, len(code))
	})
	return nil
}

// OnDigitEntry appends one digit to the requester's entry buffer and
// refreshes the progress indicator.
func (e *Engine) OnDigitEntry(ctx context.Context, requesterID int64, digit byte) error {
	var after []func()
	defer runAll(&after)
	unlock := e.lock(requesterID)
	defer unlock()

	if _, err := e.sessions.AppendDigit(requesterID, digit); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return ErrSessionExpired
		}
		return err
	}
	entered, length, err := e.sessions.Snapshot(requesterID)
	if err != nil {
		return err
	}
	after = append(after, func() {
		e.notify.UpdateDigitPad(ctx, requesterID, entered, length)
	})
	return nil
}

// OnBackspace removes the last entered digit, if any.
func (e *Engine) OnBackspace(ctx context.Context, requesterID int64) error {
	var after []func()
	defer runAll(&after)
	unlock := e.lock(requesterID)
	defer unlock()

	if err := e.sessions.Backspace(requesterID); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return ErrSessionExpired
		}
		return err
	}
	entered, length, err := e.sessions.Snapshot(requesterID)
	if err != nil {
		return err
	}
	after = append(after, func() {
		e.notify.UpdateDigitPad(ctx, requesterID, entered, length)
	})
	return nil
}

// OnCodeReveal returns the issued code for a live session, so the
// requester can see it again after the pad message was edited over.
func (e *Engine) OnCodeReveal(ctx context.Context, requesterID int64) (string, error) {
	unlock := e.lock(requesterID)
	defer unlock()

	code, err := e.sessions.Code(requesterID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return "", ErrSessionExpired
		}
		return "", err
	}
	logger.Info(ctx, "service.verify", "code.reveal",
		slog.Int64("requester_id", requesterID),
	)
	return code, nil
}

// OnSubmit compares the entry buffer against the issued code. A correct
// match finalizes the durable records, closes the session, and invokes
// the approval action; an approval failure is reported to the requester
// as recoverable and never undoes the verification.
func (e *Engine) OnSubmit(ctx context.Context, requesterID int64) (MatchResult, error) {
	var after []func()
	defer runAll(&after)
	unlock := e.lock(requesterID)
	defer unlock()

	res, err := e.sessions.Submit(requesterID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return res, ErrSessionExpired
		}
		return res, err
	}

	switch res {
	case Incomplete, Incorrect:
		logger.Info(ctx, "service.verify", "code.submit",
			slog.Int64("requester_id", requesterID),
			slog.String("result", res.String()),
		)
		return res, nil
	}

	rec, err := e.store.GetPending(ctx, requesterID)
	if err != nil {
		return res, fmt.Errorf("read pending: %w", err)
	}
	if rec == nil {
		// Session without a pending row should not happen; treat the
		// entry state as stale.
		e.sessions.Close(requesterID)
		return res, ErrRequesterNotPending
	}

	verified := &VerifiedUser{
		UserID:      rec.UserID,
		Username:    rec.Username,
		FirstName:   rec.FirstName,
		PhoneNumber: rec.PhoneNumber,
		VerifiedAt:  time.Now().UTC(),
	}
	if err := e.store.FinalizeVerified(ctx, verified); err != nil {
		return res, fmt.Errorf("finalize verified: %w", err)
	}
	e.sessions.Close(requesterID)

	logger.Info(ctx, "service.verify", "code.submit",
		slog.Int64("requester_id", requesterID),
		slog.String("result", res.String()),
		slog.String("flow_state", string(StatusVerified)),
	)
	name := Requester{ID: rec.UserID, Username: rec.Username, FirstName: rec.FirstName}.DisplayName()
	after = append(after, func() {
		e.approveAndNotify(ctx, requesterID)
		e.notify.SendToModerator(ctx, fmt.Sprintf("%s verified successfully.", name))
	})
	return res, nil
}

// PendingList returns every not-yet-verified record for the moderator,
// most recent first.
func (e *Engine) PendingList(ctx context.Context, callerID int64) ([]PendingVerification, error) {
	if callerID != e.cfg.ModeratorID {
		return nil, ErrUnauthorized
	}
	return e.store.ListPending(ctx, StatusAwaitingContact, StatusContactShared, StatusCodeSent)
}

// Stats builds the moderator reporting snapshot.
func (e *Engine) Stats(ctx context.Context, callerID int64) (*Stats, error) {
	if callerID != e.cfg.ModeratorID {
		return nil, ErrUnauthorized
	}

	verified, err := e.store.CountVerified(ctx)
	if err != nil {
		return nil, fmt.Errorf("count verified: %w", err)
	}
	pending, err := e.store.CountPendingExcluding(ctx, StatusVerified)
	if err != nil {
		return nil, fmt.Errorf("count pending: %w", err)
	}
	total, err := e.store.CountPendingExcluding(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("count processed: %w", err)
	}
	recent, err := e.store.RecentVerified(ctx, 5)
	if err != nil {
		return nil, fmt.Errorf("recent verified: %w", err)
	}

	logger.Info(ctx, "service.stats", "stats.read",
		slog.Int("verified_count", verified),
		slog.Int("pending_count", pending),
	)
	return &Stats{
		Verified:       verified,
		Pending:        pending,
		TotalProcessed: total,
		Recent:         recent,
	}, nil
}

// approveAndNotify runs the approval action and tells the requester the
// outcome. Approval failures are secondary: the verification stands and
// the requester is asked to re-request to join.
func (e *Engine) approveAndNotify(ctx context.Context, requesterID int64) {
	err := e.approver.ApproveJoin(ctx, requesterID)
	switch {
	case err == nil:
		e.notify.SendToRequester(ctx, requesterID,
			"You are verified and your join request has been approved. Welcome!")
	case errors.Is(err, ErrAlreadyResolved), errors.Is(err, ErrNoJoinRequest):
		logger.Warn(ctx, "service.verify", "approve.skipped",
			slog.Int64("requester_id", requesterID),
			slog.String("err", err.Error()),
		)
		e.notify.SendToRequester(ctx, requesterID,
			"You are verified. Please request to join again and you will be approved.")
	default:
		logger.Error(ctx, "service.verify", "approve.fail",
			slog.Int64("requester_id", requesterID),
			slog.String("err", err.Error()),
		)
		e.notify.SendToRequester(ctx, requesterID,
			"You are verified. Please request to join again and you will be approved.")
	}
}

// mergePending builds the next pending row from the current one, keeping
// fields set at earlier stages and never regressing the status.
func mergePending(cur *PendingVerification, req Requester, next Status) *PendingVerification {
	rec := &PendingVerification{
		UserID:      req.ID,
		Username:    req.Username,
		FirstName:   req.FirstName,
		SubmittedAt: time.Now().UTC(),
		Status:      next,
	}
	if cur != nil {
		rec.PhoneNumber = cur.PhoneNumber
		rec.IssuedCode = cur.IssuedCode
		rec.Status = MaxStatus(cur.Status, next)
		if rec.Username == "" {
			rec.Username = cur.Username
		}
		if rec.FirstName == "" {
			rec.FirstName = cur.FirstName
		}
	}
	return rec
}
