package bot

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"log/slog"

	"gatebot/core/logger"
	"gatebot/core/telegram/keyboard"
	"gatebot/core/telegram/sender"
	"gatebot/verification"

	tele "gopkg.in/telebot.v4"
)

// Notifier implements verification.Notifier on the Telegram transport.
// Every delivery is best-effort: failures are logged and swallowed, the
// flow engine never sees them.
type Notifier struct {
	bot         atomic.Pointer[tele.Bot]
	disp        atomic.Pointer[sender.Dispatcher]
	moderatorID int64
	moderated   bool

	// Last pad message per requester, so progress updates edit in place.
	padMu sync.Mutex
	pads  map[int64]*tele.Message
}

// NewNotifier builds a notifier that relays to the given moderator.
// moderated selects the two-message code presentation of the relayed flow.
func NewNotifier(moderatorID int64, moderated bool) *Notifier {
	return &Notifier{
		moderatorID: moderatorID,
		moderated:   moderated,
		pads:        make(map[int64]*tele.Message),
	}
}

// SetTransport wires the live bot and the async sender once the runtime is up.
// The dispatcher is optional; without it every send happens inline.
func (n *Notifier) SetTransport(b *tele.Bot, d *sender.Dispatcher) {
	n.bot.Store(b)
	if d != nil {
		n.disp.Store(d)
	}
}

func (n *Notifier) send(ctx context.Context, to int64, what interface{}, opts ...interface{}) *tele.Message {
	b := n.bot.Load()
	if b == nil {
		logger.Warn(ctx, "tg", "notify.skip",
			slog.Int64("chat_id", to),
			slog.String("err", "bot not started"),
		)
		return nil
	}
	msg, err := b.Send(tele.ChatID(to), what, opts...)
	if err != nil {
		logger.Warn(ctx, "tg", "notify.fail",
			slog.Int64("chat_id", to),
			slog.String("err", err.Error()),
		)
		return nil
	}
	return msg
}

// sendText delivers plain text through the async dispatcher when one is
// wired, falling back to an inline send otherwise.
func (n *Notifier) sendText(ctx context.Context, to int64, text string) {
	d := n.disp.Load()
	if d == nil {
		n.send(ctx, to, text)
		return
	}
	run := func() error {
		b := n.bot.Load()
		if b == nil {
			return nil
		}
		_, err := b.Send(tele.ChatID(to), text)
		return err
	}
	if err := d.Enqueue(ctx, "notify.text", "sendMessage", run); err != nil {
		logger.Warn(ctx, "tg", "notify.queue.fallback",
			slog.Int64("chat_id", to),
			slog.String("err", err.Error()),
		)
		n.send(ctx, to, text)
	}
}

func (n *Notifier) SendToRequester(ctx context.Context, requesterID int64, text string) {
	n.sendText(ctx, requesterID, text)
}

func (n *Notifier) SendToModerator(ctx context.Context, text string) {
	n.sendText(ctx, n.moderatorID, text)
}

func (n *Notifier) PresentContactRequest(ctx context.Context, requesterID int64) {
	n.send(ctx, requesterID,
		"Welcome! To join the channel you need to verify your account.\n\n"+
			"Tap the button below to share your contact.",
		keyboard.ContactRequest("📱 Share my contact"))
}

func (n *Notifier) PresentDigitPad(ctx context.Context, requesterID int64, code string, length int) {
	if n.moderated {
		// Code first, pad second, as separate messages. The code message
		// stays in the chat, so no reveal button is needed.
		n.send(ctx, requesterID, fmt.Sprintf("Your verification code: %s", code))
		n.storePad(requesterID, n.send(ctx, requesterID, padText(0, length), digitPad(false)))
		return
	}
	text := fmt.Sprintf("Your verification code: %s\n\n%s", code, padText(0, length))
	n.storePad(requesterID, n.send(ctx, requesterID, text, digitPad(true)))
}

func (n *Notifier) UpdateDigitPad(ctx context.Context, requesterID int64, entered, length int) {
	n.padMu.Lock()
	msg := n.pads[requesterID]
	n.padMu.Unlock()
	if msg == nil {
		return
	}
	b := n.bot.Load()
	if b == nil {
		return
	}
	if _, err := b.Edit(msg, padText(entered, length), digitPad(!n.moderated)); err != nil {
		// Identical progress produces "message is not modified"; not worth
		// surfacing above debug.
		logger.Debug(ctx, "tg", "pad.edit.fail",
			slog.Int64("chat_id", requesterID),
			slog.String("err", err.Error()),
		)
	}
}

func (n *Notifier) PresentModeratorActions(ctx context.Context, pending []verification.PendingVerification) {
	if len(pending) == 0 {
		n.sendText(ctx, n.moderatorID, "No pending verifications.")
		return
	}

	text := "Pending verifications:\n"
	var buttons []keyboard.InlineBtn
	for _, rec := range pending {
		text += fmt.Sprintf("\n%s (%s)", pendingName(rec), rec.Status)
		if rec.Status == verification.StatusContactShared || rec.Status == verification.StatusCodeSent {
			buttons = append(buttons, keyboard.InlineBtn{
				Text:   fmt.Sprintf("🔑 Send code to %s", pendingName(rec)),
				Unique: cbSendCode,
				Data:   strconv.FormatInt(rec.UserID, 10),
			})
		}
	}
	buttons = append(buttons, keyboard.InlineBtn{Text: "🔄 Refresh", Unique: cbViewPending})
	n.send(ctx, n.moderatorID, text, keyboard.InlineButtons(buttons))
}

func (n *Notifier) storePad(requesterID int64, msg *tele.Message) {
	if msg == nil {
		return
	}
	n.padMu.Lock()
	n.pads[requesterID] = msg
	n.padMu.Unlock()
}

func pendingName(rec verification.PendingVerification) string {
	r := verification.Requester{ID: rec.UserID, Username: rec.Username, FirstName: rec.FirstName}
	return r.DisplayName()
}
