// Package render produces PNG snapshots of a position for sharing a
// finished or in-progress game. Everything is drawn locally; no network
// or font assets are involved.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"

	nchess "github.com/corentings/chess/v2"
	xdraw "golang.org/x/image/draw"
)

type Options struct {
	// SquareSize in pixels; defaults to 72.
	SquareSize int
	// LastMove highlights the from and to squares of a UCI move.
	LastMove string
	// TargetSize scales the final image to this width and height when
	// positive. Scaling uses Catmull-Rom resampling.
	TargetSize int
	// FlipBoard renders from Black's point of view.
	FlipBoard bool
}

var (
	lightSquare   = color.RGBA{233, 207, 163, 255}
	darkSquare    = color.RGBA{187, 136, 96, 255}
	highlightFill = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
)

// RenderPNG draws the position described by fen into a PNG image.
func RenderPNG(ctx context.Context, fen string, opts Options) ([]byte, error) {
	squareSize := opts.SquareSize
	if squareSize <= 0 {
		squareSize = 72
	}
	boardSize := squareSize * 8

	var game *nchess.Game
	if strings.TrimSpace(fen) == "" {
		game = nchess.NewGame()
	} else {
		option, err := nchess.FEN(fen)
		if err != nil {
			return nil, fmt.Errorf("render: parse fen %q: %w", fen, err)
		}
		game = nchess.NewGame(option)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	img := image.NewRGBA(image.Rect(0, 0, boardSize, boardSize))
	drawSquares(img, squareSize, opts.FlipBoard)
	drawHighlight(img, opts.LastMove, squareSize, opts.FlipBoard)
	if err := drawPieces(img, game.Position().Board(), squareSize, opts.FlipBoard); err != nil {
		return nil, err
	}

	out := image.Image(img)
	if opts.TargetSize > 0 && opts.TargetSize != boardSize {
		scaled := image.NewRGBA(image.Rect(0, 0, opts.TargetSize, opts.TargetSize))
		xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), img, img.Bounds(), xdraw.Src, nil)
		out = scaled
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("render: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func drawSquares(dst imagedraw.Image, squareSize int, flip bool) {
	for file := 0; file < 8; file++ {
		for rank := 0; rank < 8; rank++ {
			sq := nchess.NewSquare(nchess.File(file), nchess.Rank(rank))
			rect := squareRect(sq, squareSize, flip)
			imagedraw.Draw(dst, rect, image.NewUniform(squareColor(sq)), image.Point{}, imagedraw.Src)
		}
	}
}

func drawPieces(dst imagedraw.Image, board *nchess.Board, squareSize int, flip bool) error {
	for sq, piece := range board.SquareMap() {
		if piece == nchess.NoPiece {
			continue
		}
		img, err := pieceImage(piece, squareSize)
		if err != nil {
			return err
		}
		imagedraw.Draw(dst, squareRect(sq, squareSize, flip), img, image.Point{}, imagedraw.Over)
	}
	return nil
}

func drawHighlight(dst imagedraw.Image, uci string, squareSize int, flip bool) {
	uci = strings.ToLower(strings.TrimSpace(uci))
	if len(uci) < 4 {
		return
	}
	for _, part := range []string{uci[0:2], uci[2:4]} {
		sq, ok := parseSquare(part)
		if !ok {
			return
		}
		imagedraw.Draw(dst, squareRect(sq, squareSize, flip), image.NewUniform(highlightFill), image.Point{}, imagedraw.Over)
	}
}

func parseSquare(s string) (nchess.Square, bool) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return 0, false
	}
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1')), true
}

func squareRect(sq nchess.Square, squareSize int, flip bool) image.Rectangle {
	col := int(sq.File())
	row := 7 - int(sq.Rank())
	if flip {
		col = 7 - col
		row = 7 - row
	}
	x := col * squareSize
	y := row * squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func squareColor(sq nchess.Square) color.Color {
	if (int(sq.File())+int(sq.Rank()))%2 == 0 {
		return darkSquare
	}
	return lightSquare
}
