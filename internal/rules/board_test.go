package rules

import "testing"

func TestApplyUCIAndSAN(t *testing.T) {
	b := NewBoard()

	applied, err := b.Apply("e2e4")
	if err != nil {
		t.Fatalf("apply uci: %v", err)
	}
	if applied.SAN != "e4" || applied.UCI != "e2e4" {
		t.Fatalf("applied = %+v", applied)
	}

	applied, err = b.Apply("Nf6")
	if err != nil {
		t.Fatalf("apply san: %v", err)
	}
	if applied.UCI != "g8f6" {
		t.Fatalf("san move uci = %s, want g8f6", applied.UCI)
	}
}

func TestApplyIllegalLeavesBoardUntouched(t *testing.T) {
	b := NewBoard()
	fen := b.FEN()

	for _, move := range []string{"e2e5", "Ke2", "", "zzz"} {
		if _, err := b.Apply(move); err == nil {
			t.Fatalf("move %q accepted", move)
		}
	}
	if b.FEN() != fen {
		t.Fatal("rejected moves mutated the position")
	}
	if b.Turn() != White {
		t.Fatalf("turn = %s, want white", b.Turn())
	}
}

func TestTurnAlternates(t *testing.T) {
	b := NewBoard()
	if b.Turn() != White {
		t.Fatal("game must start with white")
	}
	if _, err := b.Apply("e2e4"); err != nil {
		t.Fatal(err)
	}
	if b.Turn() != Black {
		t.Fatal("turn did not pass to black")
	}
}

func TestCheckmateOutcome(t *testing.T) {
	b := NewBoard()
	for _, move := range []string{"f2f3", "e7e5", "g2g4", "d8h4"} {
		if _, err := b.Apply(move); err != nil {
			t.Fatalf("apply %s: %v", move, err)
		}
	}
	if b.Outcome() != OutcomeBlackWon {
		t.Fatalf("outcome = %s, want black_won", b.Outcome())
	}
	if b.Method() != "checkmate" {
		t.Fatalf("method = %s, want checkmate", b.Method())
	}
	san := b.MovesSAN()
	if san[len(san)-1] != "Qh4#" {
		t.Fatalf("last san = %s, want Qh4#", san[len(san)-1])
	}
}

func TestReset(t *testing.T) {
	b := NewBoard()
	start := b.FEN()
	if _, err := b.Apply("e2e4"); err != nil {
		t.Fatal(err)
	}
	b.Reset()
	if b.FEN() != start {
		t.Fatal("reset did not restore the start position")
	}
	if len(b.MovesUCI()) != 0 {
		t.Fatal("reset kept move history")
	}
}
