package bot

import (
	"errors"
	"fmt"

	tele "gopkg.in/telebot.v4"

	"gatebot/core/telegram/callbacks"
	tghelpers "gatebot/core/telegram/helpers"
	"gatebot/core/telegram/keyboard"
	"gatebot/verification"
)

func requesterFrom(u *tele.User) verification.Requester {
	if u == nil {
		return verification.Requester{}
	}
	return verification.Requester{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
	}
}

// handleStart begins or resumes the flow for a requester who opened a
// private chat with the bot.
func (a *App) handleStart(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	return a.engine.OnStart(ctx, requesterFrom(c.Sender()))
}

// handleJoinRequest reacts to a join request against the gated channel.
func (a *App) handleJoinRequest(c tele.Context) error {
	jr := c.Update().ChatJoinRequest
	if jr == nil || jr.Sender == nil {
		return nil
	}
	ctx := tghelpers.BuildContext(c)
	return a.engine.OnJoinRequest(ctx, requesterFrom(jr.Sender))
}

// handleContact records a shared contact. Contacts belonging to another
// account are rejected and the requester is asked for their own.
func (a *App) handleContact(c tele.Context) error {
	msg := c.Message()
	if msg == nil || msg.Contact == nil {
		return nil
	}
	ctx := tghelpers.BuildContext(c)
	req := requesterFrom(c.Sender())

	err := a.engine.OnContactSubmitted(ctx, req, msg.Contact.UserID, msg.Contact.PhoneNumber)
	if errors.Is(err, verification.ErrContactMismatch) {
		return tghelpers.SendKeyboard(c,
			"That contact belongs to someone else. Please share your own contact.",
			keyboard.RemoveKeyboard())
	}
	if err != nil {
		return err
	}
	return tghelpers.SendKeyboard(c, "Contact received.", keyboard.RemoveKeyboard())
}

// cbDigitEntry appends the pressed digit to the entry buffer.
func (a *App) cbDigitEntry(c tele.Context) error {
	data := callbacks.CallbackPayload(c)
	if len(data) != 1 || data[0] < '0' || data[0] > '9' {
		return nil
	}
	ctx := tghelpers.BuildContext(c)
	err := a.engine.OnDigitEntry(ctx, c.Sender().ID, data[0])
	if errors.Is(err, verification.ErrSessionExpired) {
		return respondAlert(c, "This code entry has expired. Please request a new code.")
	}
	return err
}

// cbBackspaceEntry removes the last entered digit.
func (a *App) cbBackspaceEntry(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	err := a.engine.OnBackspace(ctx, c.Sender().ID)
	if errors.Is(err, verification.ErrSessionExpired) {
		return respondAlert(c, "This code entry has expired. Please request a new code.")
	}
	return err
}

// cbSubmitEntry compares the buffer against the issued code.
func (a *App) cbSubmitEntry(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	res, err := a.engine.OnSubmit(ctx, c.Sender().ID)
	switch {
	case errors.Is(err, verification.ErrSessionExpired):
		return respondAlert(c, "This code entry has expired. Please request a new code.")
	case errors.Is(err, verification.ErrRequesterNotPending):
		return respondAlert(c, "Verification state is out of date. Please start over with /start.")
	case err != nil:
		return err
	}

	switch res {
	case verification.Incomplete:
		return respondAlert(c, "Please enter all digits before submitting.")
	case verification.Incorrect:
		return respondAlert(c, "Wrong code. Enter it again from the beginning.")
	}
	return nil
}

// cbShowCode re-displays the issued code as a callback alert. The pad
// message loses the code line once progress edits start; this is the way
// back to it.
func (a *App) cbShowCode(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	code, err := a.engine.OnCodeReveal(ctx, c.Sender().ID)
	if errors.Is(err, verification.ErrSessionExpired) {
		return respondAlert(c, "This code entry has expired. Please request a new code.")
	}
	if err != nil {
		return err
	}
	return respondAlert(c, fmt.Sprintf("Your verification code: %s", code))
}

func respondAlert(c tele.Context, text string) error {
	return c.Respond(&tele.CallbackResponse{Text: text, ShowAlert: true})
}
