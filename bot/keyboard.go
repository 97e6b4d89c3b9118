package bot

import (
	"fmt"
	"strings"

	"gatebot/core/telegram/keyboard"

	tele "gopkg.in/telebot.v4"
)

// Callback keys routed through the registry.
const (
	cbDigit       = "verify_digit"
	cbBackspace   = "verify_backspace"
	cbSubmit      = "verify_submit"
	cbSendCode    = "send_code"
	cbViewPending = "view_pending"
	cbShowCode    = "show_code"
)

// digitPad builds the code entry keyboard: a 3x3 digit grid, then zero
// between backspace and submit. withShowCode appends a row that reveals
// the issued code again, for the mode where the code shares the pad
// message and gets edited away by progress updates.
func digitPad(withShowCode bool) *tele.ReplyMarkup {
	rows := [][]keyboard.InlineBtn{
		{digitBtn('1'), digitBtn('2'), digitBtn('3')},
		{digitBtn('4'), digitBtn('5'), digitBtn('6')},
		{digitBtn('7'), digitBtn('8'), digitBtn('9')},
		{
			{Text: "⌫", Unique: cbBackspace},
			digitBtn('0'),
			{Text: "✅ Submit", Unique: cbSubmit},
		},
	}
	if withShowCode {
		rows = append(rows, []keyboard.InlineBtn{
			{Text: "🔢 Show code again", Unique: cbShowCode},
		})
	}
	return keyboard.InlineButtonsRows(rows...)
}

func digitBtn(d byte) keyboard.InlineBtn {
	return keyboard.InlineBtn{Text: string(d), Unique: cbDigit, Data: string(d)}
}

// progressLine renders entry progress as filled and hollow dots with a
// counter. The code value itself never appears here.
func progressLine(entered, length int) string {
	var b strings.Builder
	for i := 0; i < length; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		if i < entered {
			b.WriteRune('●')
		} else {
			b.WriteRune('○')
		}
	}
	return fmt.Sprintf("%s  (%d/%d)", b.String(), entered, length)
}

func padText(entered, length int) string {
	return "Enter the verification code:\n\n" + progressLine(entered, length)
}
