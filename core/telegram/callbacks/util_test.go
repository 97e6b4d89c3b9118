package callbacks

import (
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestParseCallbackData(t *testing.T) {
	cases := []struct {
		name    string
		data    string
		unique  string
		payload string
	}{
		{"unique only", "\\fverify_submit", "verify_submit", ""},
		{"unique with payload", "\\fverify_digit|7", "verify_digit", "7"},
		{"payload with separator", "\\fsend_code|42|extra", "send_code", "42|extra"},
		{"no prefix", "view_pending|", "view_pending", ""},
		{"empty", "", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			unique, payload := ParseCallbackData(&tele.Callback{Data: tc.data})
			if unique != tc.unique || payload != tc.payload {
				t.Fatalf("ParseCallbackData(%q) = (%q, %q), want (%q, %q)",
					tc.data, unique, payload, tc.unique, tc.payload)
			}
		})
	}
}

func TestParseCallbackDataNil(t *testing.T) {
	unique, payload := ParseCallbackData(nil)
	if unique != "" || payload != "" {
		t.Fatalf("ParseCallbackData(nil) = (%q, %q), want empty", unique, payload)
	}
}
