package bot

import "testing"

func TestDigitPadLayout(t *testing.T) {
	markup := digitPad(false)
	rows := markup.InlineKeyboard
	if len(rows) != 4 {
		t.Fatalf("pad has %d rows, want 4", len(rows))
	}
	for i, row := range rows {
		if len(row) != 3 {
			t.Fatalf("row %d has %d buttons, want 3", i, len(row))
		}
	}

	want := [][]string{
		{"1", "2", "3"},
		{"4", "5", "6"},
		{"7", "8", "9"},
		{"⌫", "0", "✅ Submit"},
	}
	for i, row := range rows {
		for j, btn := range row {
			if btn.Text != want[i][j] {
				t.Errorf("button [%d][%d] = %q, want %q", i, j, btn.Text, want[i][j])
			}
		}
	}
}

func TestDigitPadShowCodeRow(t *testing.T) {
	rows := digitPad(true).InlineKeyboard
	if len(rows) != 5 {
		t.Fatalf("pad has %d rows, want 5", len(rows))
	}
	last := rows[4]
	if len(last) != 1 || last[0].Text != "🔢 Show code again" {
		t.Fatalf("unexpected show-code row: %+v", last)
	}
	if last[0].Unique != cbShowCode {
		t.Errorf("show-code button unique = %q, want %q", last[0].Unique, cbShowCode)
	}
}

func TestProgressLine(t *testing.T) {
	cases := []struct {
		entered, length int
		want            string
	}{
		{0, 5, "○ ○ ○ ○ ○  (0/5)"},
		{2, 5, "● ● ○ ○ ○  (2/5)"},
		{5, 5, "● ● ● ● ●  (5/5)"},
		{0, 6, "○ ○ ○ ○ ○ ○  (0/6)"},
	}
	for _, tc := range cases {
		if got := progressLine(tc.entered, tc.length); got != tc.want {
			t.Errorf("progressLine(%d, %d) = %q, want %q", tc.entered, tc.length, got, tc.want)
		}
	}
}
