// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: surfacetcell/surface.go
// Summary: A graphics.Surface backed by a tcell.Screen, rendered as half-block mosaics.

package surfacetcell

import (
	"sync"

	"github.com/gdamore/tcell/v2"

	"github.com/framegrace/texelation/graphics"
)

// upperHalfBlock renders as two independently colorable pixels per cell:
// its foreground paints the top half, its background the bottom half.
const upperHalfBlock = '▀'

// pixmap is the concrete handle AllocatePixmap/Composite/InvertCopy hand
// back and forth. pix is premultiplied-alpha RGBA, row-major.
type pixmap struct {
	w, h int
	pix  []byte
}

// Surface composites kitty image placements into an offscreen ARGB
// framebuffer sized to the terminal's full pixel extent, then downsamples
// that framebuffer into half-block glyphs on Render. It never touches the
// screen outside the cells a placement actually covers, leaving text-mode
// output the core never draws to untouched.
type Surface struct {
	screen tcell.Screen

	mu        sync.Mutex
	cols      int
	rows      int
	cellW     int
	cellH     int
	fb        []byte // premultiplied ARGB framebuffer, len == cols*cellW*rows*cellH*4
	fbW, fbH  int
	dirtyRows map[int]struct{}
}

// New wraps screen. cellW and cellH are the terminal's reported pixel
// dimensions of a single cell (from a TIOCGWINSZ or similar probe); Resize
// must be called once before any Composite to size the framebuffer.
func New(screen tcell.Screen, cellW, cellH int) *Surface {
	return &Surface{
		screen:    screen,
		cellW:     cellW,
		cellH:     cellH,
		dirtyRows: make(map[int]struct{}),
	}
}

// Resize reallocates the framebuffer for a cols x rows cell grid. Called
// whenever the terminal is resized.
func (s *Surface) Resize(cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cols == s.cols && rows == s.rows && s.fb != nil {
		return
	}
	s.cols, s.rows = cols, rows
	s.fbW, s.fbH = cols*s.cellW, rows*s.cellH
	s.fb = make([]byte, s.fbW*s.fbH*4)
}

// AllocatePixmap implements graphics.Surface.
func (s *Surface) AllocatePixmap(w, h int) graphics.PixmapHandle {
	return &pixmap{w: w, h: h, pix: make([]byte, w*h*4)}
}

// UploadRGBAPremultiplied implements graphics.Surface.
func (s *Surface) UploadRGBAPremultiplied(p graphics.PixmapHandle, pix []byte, w, h int) {
	pm, ok := p.(*pixmap)
	if !ok {
		return
	}
	if pm.w != w || pm.h != h || len(pm.pix) != len(pix) {
		pm.pix = make([]byte, w*h*4)
		pm.w, pm.h = w, h
	}
	copy(pm.pix, pix)
}

// Composite implements graphics.Surface, blending srcRect of src onto
// dstRect of the offscreen framebuffer. OpSrc overwrites; OpOver blends
// using src's premultiplied alpha. Both rects are clipped to their
// respective bounds.
func (s *Surface) Composite(src graphics.PixmapHandle, srcRect, dstRect graphics.Rect, op graphics.CompositeOp) {
	pm, ok := src.(*pixmap)
	if !ok || pm == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fb == nil {
		return
	}

	w := minInt(srcRect.W, dstRect.W)
	h := minInt(srcRect.H, dstRect.H)
	for row := 0; row < h; row++ {
		sy := srcRect.Y + row
		dy := dstRect.Y + row
		if sy < 0 || sy >= pm.h || dy < 0 || dy >= s.fbH {
			continue
		}
		for col := 0; col < w; col++ {
			sx := srcRect.X + col
			dx := dstRect.X + col
			if sx < 0 || sx >= pm.w || dx < 0 || dx >= s.fbW {
				continue
			}
			si := (sy*pm.w + sx) * 4
			di := (dy*s.fbW + dx) * 4
			r, g, b, a := pm.pix[si], pm.pix[si+1], pm.pix[si+2], pm.pix[si+3]
			if op == graphics.OpSrc || a == 255 {
				s.fb[di], s.fb[di+1], s.fb[di+2], s.fb[di+3] = r, g, b, a
				continue
			}
			inv := 255 - uint32(a)
			s.fb[di] = byte(uint32(r) + uint32(s.fb[di])*inv/255)
			s.fb[di+1] = byte(uint32(g) + uint32(s.fb[di+1])*inv/255)
			s.fb[di+2] = byte(uint32(b) + uint32(s.fb[di+2])*inv/255)
			s.fb[di+3] = byte(uint32(a) + uint32(s.fb[di+3])*inv/255)
		}
		s.dirtyRows[dy/s.cellH] = struct{}{}
	}
}

// InvertCopy implements graphics.Surface.
func (s *Surface) InvertCopy(src graphics.PixmapHandle, w, h int) graphics.PixmapHandle {
	pm, ok := src.(*pixmap)
	if !ok {
		return &pixmap{w: w, h: h, pix: make([]byte, w*h*4)}
	}
	out := &pixmap{w: w, h: h, pix: make([]byte, w*h*4)}
	n := minInt(len(pm.pix), len(out.pix))
	for i := 0; i+3 < n; i += 4 {
		out.pix[i] = 255 - pm.pix[i]
		out.pix[i+1] = 255 - pm.pix[i+1]
		out.pix[i+2] = 255 - pm.pix[i+2]
		out.pix[i+3] = pm.pix[i+3]
	}
	return out
}

// FreePixmap implements graphics.Surface. The framebuffer holds no
// reference to src's backing slice after Composite returns, so there is
// nothing left to release beyond letting the handle become unreachable.
func (s *Surface) FreePixmap(p graphics.PixmapHandle) {}

// Render downsamples every cell row touched since the last Render into
// half-block glyphs and pushes them to the wrapped tcell.Screen. It does
// not call Show; the caller composes this with whatever else it draws in
// the same frame before flushing.
func (s *Surface) Render() {
	s.mu.Lock()
	rows := s.dirtyRows
	s.dirtyRows = make(map[int]struct{})
	fb, fbW, cellW, cellH, cols := s.fb, s.fbW, s.cellW, s.cellH, s.cols
	s.mu.Unlock()

	for row := range rows {
		topY := row*cellH
		botY := topY + cellH/2
		for col := 0; col < cols; col++ {
			x0 := col * cellW
			top, topOK := averageColor(fb, fbW, x0, topY, cellW, cellH/2)
			bot, botOK := averageColor(fb, fbW, x0, botY, cellW, cellH-cellH/2)
			if !topOK && !botOK {
				continue // nothing composited here; leave the cell as it is
			}
			style := tcell.StyleDefault.
				Foreground(tcell.NewRGBColor(int32(top.r), int32(top.g), int32(top.b))).
				Background(tcell.NewRGBColor(int32(bot.r), int32(bot.g), int32(bot.b)))
			s.screen.SetContent(col, row, upperHalfBlock, nil, style)
		}
	}
}

type rgb struct{ r, g, b int32 }

// averageColor samples a w x h block of the premultiplied framebuffer
// starting at (x0, y0) and returns its un-premultiplied mean color. ok is
// false when the block is fully transparent (or empty); the color is then
// zero.
func averageColor(fb []byte, fbW, x0, y0, w, h int) (c rgb, ok bool) {
	var sumR, sumG, sumB, sumA, n int64
	for y := y0; y < y0+h; y++ {
		if y < 0 || y*fbW*4 >= len(fb) {
			continue
		}
		for x := x0; x < x0+w; x++ {
			i := (y*fbW + x) * 4
			if i+3 >= len(fb) {
				continue
			}
			a := int64(fb[i+3])
			sumA += a
			sumR += int64(fb[i])
			sumG += int64(fb[i+1])
			sumB += int64(fb[i+2])
			n++
		}
	}
	if n == 0 || sumA == 0 {
		return rgb{}, false
	}
	// fb is premultiplied; undo the premultiplication using the averaged
	// alpha so partially transparent edges don't darken toward black.
	avgA := sumA / n
	unpremult := func(sum int64) int32 {
		v := sum * 255 / (avgA * n)
		if v > 255 {
			v = 255
		}
		return int32(v)
	}
	return rgb{r: unpremult(sumR), g: unpremult(sumG), b: unpremult(sumB)}, true
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

var _ graphics.Surface = (*Surface)(nil)
