package render

import (
	"bytes"
	"context"
	"image/png"
	"testing"
)

func TestRenderStartPosition(t *testing.T) {
	data, err := RenderPNG(context.Background(), "", Options{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if got := img.Bounds().Dx(); got != 576 {
		t.Fatalf("width = %d, want 576", got)
	}
}

func TestRenderWithHighlightAndScale(t *testing.T) {
	fen := "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"
	data, err := RenderPNG(context.Background(), fen, Options{
		LastMove:   "e2e4",
		TargetSize: 256,
		FlipBoard:  true,
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if got := img.Bounds().Dx(); got != 256 {
		t.Fatalf("scaled width = %d, want 256", got)
	}
}

func TestRenderRejectsBadFEN(t *testing.T) {
	if _, err := RenderPNG(context.Background(), "not a position", Options{}); err == nil {
		t.Fatal("expected error for bad fen")
	}
}

func TestPieceSVGParses(t *testing.T) {
	// Every piece type in both colors must rasterize.
	pieces := []struct{ fen string }{
		{"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"},
	}
	for _, p := range pieces {
		if _, err := RenderPNG(context.Background(), p.fen, Options{SquareSize: 32}); err != nil {
			t.Fatalf("render full board: %v", err)
		}
	}
}
