package rules

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Outcome is the terminal state of a board.
type Outcome string

const (
	OutcomeNone     Outcome = "none"
	OutcomeWhiteWon Outcome = "white_won"
	OutcomeBlackWon Outcome = "black_won"
	OutcomeDraw     Outcome = "draw"
)

// Applied describes a successfully applied move in both notations.
type Applied struct {
	UCI string
	SAN string
}

// Board is a local, authoritative game state. Pure and synchronous:
// every mutation goes through Apply and fails without side effects.
type Board struct {
	game *nchess.Game
}

func NewBoard() *Board {
	return &Board{game: nchess.NewGame()}
}

// Apply validates and plays a move. UCI is tried first, SAN as a
// fallback. On error the position is unchanged.
func (b *Board) Apply(move string) (*Applied, error) {
	raw := strings.TrimSpace(move)
	if raw == "" {
		return nil, fmt.Errorf("rules: empty move")
	}
	pos := b.game.Position()

	uci := strings.ToLower(raw)
	if mv, derr := (nchess.UCINotation{}).Decode(pos, uci); derr == nil {
		san := nchess.AlgebraicNotation{}.Encode(pos, mv)
		if err := b.game.Move(mv, nil); err != nil {
			return nil, fmt.Errorf("rules: illegal move %q: %w", raw, err)
		}
		return &Applied{UCI: uci, SAN: san}, nil
	}

	if err := b.game.PushNotationMove(raw, nchess.AlgebraicNotation{}, nil); err != nil {
		return nil, fmt.Errorf("rules: illegal move %q: %w", raw, err)
	}
	moves := b.game.Moves()
	last := moves[len(moves)-1]
	return &Applied{UCI: last.String(), SAN: nchess.AlgebraicNotation{}.Encode(pos, last)}, nil
}

// Turn reports the side to move.
func (b *Board) Turn() Color {
	if b.game.Position().Turn() == nchess.White {
		return White
	}
	return Black
}

// Outcome reports the terminal state reached by the applied moves.
func (b *Board) Outcome() Outcome {
	switch b.game.Outcome() {
	case nchess.WhiteWon:
		return OutcomeWhiteWon
	case nchess.BlackWon:
		return OutcomeBlackWon
	case nchess.Draw:
		return OutcomeDraw
	default:
		return OutcomeNone
	}
}

// Method names how the game ended ("checkmate", "stalemate", ...).
func (b *Board) Method() string {
	return strings.ToLower(b.game.Method().String())
}

func (b *Board) FEN() string { return b.game.FEN() }

func (b *Board) MovesUCI() []string {
	moves := b.game.Moves()
	out := make([]string, 0, len(moves))
	for _, mv := range moves {
		out = append(out, mv.String())
	}
	return out
}

func (b *Board) MovesSAN() []string {
	// Re-encode from the start position so SAN carries check/mate marks.
	replay := nchess.NewGame()
	var out []string
	for _, mv := range b.game.Moves() {
		pos := replay.Position()
		out = append(out, nchess.AlgebraicNotation{}.Encode(pos, mv))
		if err := replay.Move(mv, nil); err != nil {
			break
		}
	}
	return out
}

// Reset drops the position back to the standard start.
func (b *Board) Reset() { b.game = nchess.NewGame() }
