package render

import (
	"fmt"
	"image"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

type glyphKey struct {
	piece nchess.Piece
	size  int
}

var (
	glyphCache   = map[glyphKey]image.Image{}
	glyphCacheMu sync.RWMutex
)

// pieceImage rasterizes the vector glyph for a piece at the given
// square size. Rendered glyphs are cached per piece and size.
func pieceImage(piece nchess.Piece, size int) (image.Image, error) {
	key := glyphKey{piece: piece, size: size}

	glyphCacheMu.RLock()
	if img, ok := glyphCache[key]; ok {
		glyphCacheMu.RUnlock()
		return img, nil
	}
	glyphCacheMu.RUnlock()

	icon, err := oksvg.ReadIconStream(strings.NewReader(pieceSVG(piece)))
	if err != nil {
		return nil, fmt.Errorf("render: parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	glyphCacheMu.Lock()
	glyphCache[key] = img
	glyphCacheMu.Unlock()

	return img, nil
}

// pieceSVG builds a geometric glyph for the piece. The shapes are
// deliberately simple vector primitives; no font or external asset is
// involved.
func pieceSVG(piece nchess.Piece) string {
	fill, stroke := "#f5f2e9", "#2c2c2c"
	if piece.Color() == nchess.Black {
		fill, stroke = "#3d3d3d", "#0f0f0f"
	}

	var body string
	switch piece.Type() {
	case nchess.Pawn:
		body = `<circle cx="22.5" cy="13" r="6"/>` +
			`<path d="M18 20 L27 20 L29 33 L16 33 Z"/>` +
			`<rect x="12" y="33" width="21" height="5" rx="2"/>`
	case nchess.Rook:
		body = `<path d="M12 12 L12 7 L16 7 L16 10 L20 10 L20 7 L25 7 L25 10 L29 10 L29 7 L33 7 L33 12 L30 15 L30 30 L33 33 L12 33 L15 30 L15 15 Z"/>` +
			`<rect x="10" y="33" width="25" height="5" rx="2"/>`
	case nchess.Knight:
		body = `<path d="M14 38 L14 33 C14 26 17 24 19 21 C15 22 12 21 12 18 C12 16 16 10 22 8 C29 6 33 12 33 20 L33 38 Z"/>` +
			`<circle cx="20" cy="14" r="1.5" fill="` + stroke + `"/>` +
			`<rect x="11" y="36" width="25" height="4" rx="2"/>`
	case nchess.Bishop:
		body = `<circle cx="22.5" cy="8" r="2.5"/>` +
			`<path d="M22.5 11 C28 15 30 20 30 25 C30 30 27 32 22.5 32 C18 32 15 30 15 25 C15 20 17 15 22.5 11 Z"/>` +
			`<rect x="12" y="32" width="21" height="5" rx="2"/>`
	case nchess.Queen:
		body = `<path d="M11 32 L9 14 L16 22 L22.5 10 L29 22 L36 14 L34 32 Z"/>` +
			`<circle cx="9" cy="12" r="2"/><circle cx="22.5" cy="8" r="2"/><circle cx="36" cy="12" r="2"/>` +
			`<rect x="9" y="32" width="27" height="5" rx="2"/>`
	case nchess.King:
		body = `<rect x="20.5" y="5" width="4" height="10"/>` +
			`<rect x="17.5" y="8" width="10" height="4"/>` +
			`<path d="M13 18 C13 14 18 13 22.5 16 C27 13 32 14 32 18 C32 23 28 26 28 31 L17 31 C17 26 13 23 13 18 Z"/>` +
			`<rect x="12" y="31" width="21" height="6" rx="2"/>`
	default:
		return `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45"></svg>`
	}

	return `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45">` +
		`<g fill="` + fill + `" stroke="` + stroke + `" stroke-width="1.5">` +
		body + `</g></svg>`
}
