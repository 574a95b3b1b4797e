package history

import (
	"strings"
	"testing"
	"time"
)

func TestResultTag(t *testing.T) {
	cases := []struct {
		outcome, role, want string
	}{
		{"win", "host", "1-0"},
		{"win", "joiner", "0-1"},
		{"loss", "host", "0-1"},
		{"loss", "joiner", "1-0"},
		{"draw", "host", "1/2-1/2"},
		{"draw", "joiner", "1/2-1/2"},
		{"unknown", "host", "*"},
	}
	for _, c := range cases {
		if got := resultTag(c.outcome, c.role); got != c.want {
			t.Errorf("resultTag(%s, %s) = %s, want %s", c.outcome, c.role, got, c.want)
		}
	}
}

func TestBuildPGN(t *testing.T) {
	res := &Result{
		GameID:   "g1",
		Role:     "host",
		Outcome:  "win",
		Method:   "checkmate",
		MovesSAN: []string{"e4", "e5", "Qh5", "Nc6", "Bc4", "Nf6", "Qxf7#"},
		EndedAt:  time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
	pgn := BuildPGN(res)

	for _, want := range []string{
		`[Result "1-0"]`,
		`[Date "2026.03.14"]`,
		"1. e4 e5 2. Qh5 Nc6 3. Bc4 Nf6 4. Qxf7# 1-0",
	} {
		if !strings.Contains(pgn, want) {
			t.Errorf("pgn missing %q:\n%s", want, pgn)
		}
	}
}

func TestSanitizeTag(t *testing.T) {
	if got := sanitizeTag("a\"b\nc"); got != "ab c" {
		t.Errorf("sanitizeTag = %q", got)
	}
}
