package bot

import (
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"gatebot/core/telegram/callbacks"
	tghelpers "gatebot/core/telegram/helpers"
	"gatebot/core/telegram/keyboard"
	"gatebot/verification"
)

// handleStats reports verification totals and the most recent approvals.
// Registered admin-only; the engine re-checks the caller regardless.
func (a *App) handleStats(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	stats, err := a.engine.Stats(ctx, c.Sender().ID)
	if errors.Is(err, verification.ErrUnauthorized) {
		return nil
	}
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Verification stats\n\n")
	fmt.Fprintf(&b, "Verified: %d\n", stats.Verified)
	fmt.Fprintf(&b, "Pending: %d\n", stats.Pending)
	fmt.Fprintf(&b, "Total processed: %d\n", stats.TotalProcessed)
	if len(stats.Recent) > 0 {
		b.WriteString("\nRecently verified:\n")
		for _, u := range stats.Recent {
			r := verification.Requester{ID: u.UserID, Username: u.Username, FirstName: u.FirstName}
			fmt.Fprintf(&b, "• %s (%s)\n", r.DisplayName(), u.VerifiedAt.Format("2006-01-02 15:04"))
		}
	}

	markup := keyboard.InlineButtons([]keyboard.InlineBtn{
		{Text: "📋 View pending", Unique: cbViewPending},
	})
	return c.Send(b.String(), markup)
}

// cbIssueCode triggers code issuance for the requester in the payload.
func (a *App) cbIssueCode(c tele.Context) error {
	requesterID, err := callbacks.PayloadInt64(c)
	if err != nil {
		return respondAlert(c, "Malformed action payload.")
	}
	ctx := tghelpers.BuildContext(c)

	err = a.engine.OnCodeIssuanceRequested(ctx, c.Sender().ID, requesterID)
	switch {
	case errors.Is(err, verification.ErrUnauthorized):
		return respondAlert(c, "Not allowed.")
	case errors.Is(err, verification.ErrRequesterNotPending):
		return respondAlert(c, "No pending verification for this user; the list may be stale.")
	case err != nil:
		return err
	}
	return c.Respond(&tele.CallbackResponse{Text: "Code sent."})
}

// cbPendingList shows every not-yet-verified requester.
func (a *App) cbPendingList(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	pending, err := a.engine.PendingList(ctx, c.Sender().ID)
	if errors.Is(err, verification.ErrUnauthorized) {
		return respondAlert(c, "Not allowed.")
	}
	if err != nil {
		return err
	}
	a.notifier.PresentModeratorActions(ctx, pending)
	return nil
}
