// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: surfacetcell/surface_test.go
// Summary: Exercises pixel compositing and half-block downsampling against a simulation screen.

package surfacetcell

import (
	"testing"

	"github.com/gdamore/tcell/v2"

	"github.com/framegrace/texelation/graphics"
)

func newTestSurface(t *testing.T, cols, rows, cellW, cellH int) (*Surface, tcell.SimulationScreen) {
	t.Helper()
	screen := tcell.NewSimulationScreen("UTF-8")
	if err := screen.Init(); err != nil {
		t.Fatalf("screen.Init: %v", err)
	}
	t.Cleanup(screen.Fini)
	screen.SetSize(cols, rows)

	s := New(screen, cellW, cellH)
	s.Resize(cols, rows)
	return s, screen
}

func solidPixmap(w, h int, r, g, b, a byte) []byte {
	pix := make([]byte, w*h*4)
	for i := 0; i < w*h; i++ {
		pix[i*4], pix[i*4+1], pix[i*4+2], pix[i*4+3] = r, g, b, a
	}
	return pix
}

func TestCompositeOpSrcPaintsExactColor(t *testing.T) {
	s, screen := newTestSurface(t, 4, 4, 10, 20)

	h := s.AllocatePixmap(10, 20)
	s.UploadRGBAPremultiplied(h, solidPixmap(10, 20, 200, 50, 10, 255), 10, 20)
	s.Composite(h, graphics.Rect{X: 0, Y: 0, W: 10, H: 20}, graphics.Rect{X: 10, Y: 0, W: 10, H: 20}, graphics.OpSrc)
	s.Render()
	screen.Show()

	mainc, _, style, _ := screen.GetContent(1, 0)
	if mainc != upperHalfBlock {
		t.Fatalf("expected half-block glyph, got %q", mainc)
	}
	fg, bg, _ := style.Decompose()
	fr, fg2, fb := fg.RGB()
	br, bg2, bb := bg.RGB()
	if fr != 200 || fg2 != 50 || fb != 10 {
		t.Fatalf("unexpected foreground color %d,%d,%d", fr, fg2, fb)
	}
	if br != 200 || bg2 != 50 || bb != 10 {
		t.Fatalf("unexpected background color %d,%d,%d", br, bg2, bb)
	}
}

func TestCompositeOpOverBlendsWithExistingFramebuffer(t *testing.T) {
	s, _ := newTestSurface(t, 2, 2, 10, 10)

	opaque := s.AllocatePixmap(10, 10)
	s.UploadRGBAPremultiplied(opaque, solidPixmap(10, 10, 100, 100, 100, 255), 10, 10)
	s.Composite(opaque, graphics.Rect{X: 0, Y: 0, W: 10, H: 10}, graphics.Rect{X: 0, Y: 0, W: 10, H: 10}, graphics.OpSrc)

	// premultiplied 50% white over the opaque gray base should brighten it.
	translucent := s.AllocatePixmap(10, 10)
	s.UploadRGBAPremultiplied(translucent, solidPixmap(10, 10, 127, 127, 127, 128), 10, 10)
	s.Composite(translucent, graphics.Rect{X: 0, Y: 0, W: 10, H: 10}, graphics.Rect{X: 0, Y: 0, W: 10, H: 10}, graphics.OpOver)

	s.mu.Lock()
	idx := 0 * s.fbW * 4
	r := s.fb[idx]
	s.mu.Unlock()

	if r <= 100 {
		t.Fatalf("expected blended red channel to exceed opaque base 100, got %d", r)
	}
}

func TestInvertCopyFlipsColorChannels(t *testing.T) {
	s, _ := newTestSurface(t, 2, 2, 10, 10)
	h := s.AllocatePixmap(2, 2)
	s.UploadRGBAPremultiplied(h, solidPixmap(2, 2, 10, 20, 30, 255), 2, 2)

	inv := s.InvertCopy(h, 2, 2)
	pm := inv.(*pixmap)
	if pm.pix[0] != 245 || pm.pix[1] != 235 || pm.pix[2] != 225 {
		t.Fatalf("unexpected inverted pixel %v", pm.pix[:4])
	}
	if pm.pix[3] != 255 {
		t.Fatalf("expected alpha to survive inversion, got %d", pm.pix[3])
	}
}

func TestResizeIsIdempotentForUnchangedDimensions(t *testing.T) {
	s, _ := newTestSurface(t, 4, 4, 8, 16)
	s.mu.Lock()
	fbBefore := s.fb
	s.mu.Unlock()

	s.Resize(4, 4)

	s.mu.Lock()
	defer s.mu.Unlock()
	if &s.fb[0] != &fbBefore[0] {
		t.Fatalf("expected Resize with unchanged dimensions to keep the same framebuffer")
	}
}
