package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"gatebot/verification"

	tele "gopkg.in/telebot.v4"
)

// channelRef is a Recipient for either a numeric chat id or an @username.
type channelRef string

func (r channelRef) Recipient() string { return string(r) }

// Approver implements verification.Approver against one restricted channel.
type Approver struct {
	bot     atomic.Pointer[tele.Bot]
	channel channelRef
}

// NewApprover accepts the channel reference from configuration, either a
// numeric id ("-1002565132160") or an "@username".
func NewApprover(channel string) *Approver {
	ref := strings.TrimSpace(channel)
	if _, err := strconv.ParseInt(ref, 10, 64); err != nil && !strings.HasPrefix(ref, "@") {
		ref = "@" + ref
	}
	return &Approver{channel: channelRef(ref)}
}

// SetBot wires the live bot instance once the runtime is up.
func (a *Approver) SetBot(b *tele.Bot) {
	a.bot.Store(b)
}

// ApproveJoin approves the requester's outstanding join request. Telegram
// rejections for a missing or already-handled request map to the
// non-fatal sentinels the engine expects.
func (a *Approver) ApproveJoin(ctx context.Context, requesterID int64) error {
	b := a.bot.Load()
	if b == nil {
		return fmt.Errorf("approve join: bot not started")
	}
	err := b.ApproveJoinRequest(a.channel, &tele.User{ID: requesterID})
	if err == nil {
		return nil
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		desc := strings.ToUpper(apiErr.Description)
		switch {
		case strings.Contains(desc, "USER_ALREADY_PARTICIPANT"),
			strings.Contains(desc, "ALREADY"):
			return verification.ErrAlreadyResolved
		case strings.Contains(desc, "HIDE_REQUESTER_MISSING"),
			strings.Contains(desc, "USER_NOT_FOUND"):
			return verification.ErrNoJoinRequest
		}
	}
	return fmt.Errorf("approve join: %w", err)
}
