// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: graphics/rects.go
// Summary: Coalesces pending draw rectangles and drives the per-cycle draw loop (components J + K).

package graphics

import "time"

// DrawStats summarizes one finished draw cycle, folded from the
// original's debug-mode render-time banner (spec.md §4, SPEC_FULL.md §4)
// into data the host can render however it likes.
type DrawStats struct {
	RenderTime      time.Duration
	DiskBytes       int64
	RAMBytes        int64
	ImageCount      int
	CellW, CellH    int
	NextRedrawDelay time.Duration
}

// StartDrawing begins a draw cycle, sampling now as the scheduling anchor
// for every animation advanced during it, per spec.md §5's ordering
// guarantee that all placements of one image drawn in one cycle show the
// same frame.
func (s *Store) StartDrawing(cw, ch int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drawingStart = time.Now()
	s.drawingCW, s.drawingCH = cw, ch
	s.pendingRects = s.pendingRects[:0]
}

// MarkDirtyAnimations sets dirty[row] = true for every row whose
// registered next-redraw time has already passed, so the host re-requests
// its rects this cycle. It must be called right after StartDrawing.
func (s *Store) MarkDirtyAnimations(dirty map[int]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.drawingStart
	for row, t := range s.rowNextRedraw {
		if !t.IsZero() && !t.After(now) {
			dirty[row] = true
		}
	}
}

// AppendImageRect enqueues a rectangle of a placement to be drawn this
// cycle, per spec.md §4.J. It attempts to extend an existing pending rect
// that is a vertically adjacent stripe of the same placement before
// occupying a new slot; if the pending set is full, it evicts (draws
// immediately) whichever pending rect has the lowest bottom coordinate.
func (s *Store) AppendImageRect(surface Surface, imageID, placementID uint32, startCol, endCol, startRow, endRow, screenX, screenY, cw, ch int, reverse bool) {
	s.mu.Lock()
	for _, r := range s.pendingRects {
		if r.ImageID != imageID || r.PlacementID != placementID || r.CellW != cw || r.CellH != ch || r.Reverse != reverse {
			continue
		}
		if r.StartCol == startCol && r.EndCol == endCol && r.EndRow == startRow && r.ScreenXPix == screenX {
			bottomMatches := r.ScreenYPix+(r.EndRow-r.StartRow)*ch == screenY
			if bottomMatches {
				r.EndRow = endRow
				s.mu.Unlock()
				return
			}
		}
	}

	rect := &ImageRect{
		ImageID: imageID, PlacementID: placementID,
		StartCol: startCol, EndCol: endCol, StartRow: startRow, EndRow: endRow,
		ScreenXPix: screenX, ScreenYPix: screenY,
		CellW: cw, CellH: ch, Reverse: reverse,
	}

	if len(s.pendingRects) >= maxPendingRects {
		worst := 0
		worstBottom := s.pendingRects[0].ScreenYPix + (s.pendingRects[0].EndRow-s.pendingRects[0].StartRow)*s.pendingRects[0].CellH
		for i, r := range s.pendingRects {
			bottom := r.ScreenYPix + (r.EndRow-r.StartRow)*r.CellH
			if bottom < worstBottom {
				worst, worstBottom = i, bottom
			}
		}
		evicted := s.pendingRects[worst]
		s.pendingRects = append(s.pendingRects[:worst], s.pendingRects[worst+1:]...)
		s.mu.Unlock()
		s.drawRect(surface, evicted)
		s.mu.Lock()
	}

	s.pendingRects = append(s.pendingRects, rect)
	s.mu.Unlock()
}

// FinishDrawing renders every pending rect, clears the pending set, and
// returns a summary of the cycle.
func (s *Store) FinishDrawing(surface Surface) DrawStats {
	s.mu.Lock()
	rects := s.pendingRects
	s.pendingRects = nil
	start := s.drawingStart
	cw, ch := s.drawingCW, s.drawingCH
	diskBytes, ramBytes := s.DiskBytes, s.RamBytes
	imageCount := len(s.images)
	s.mu.Unlock()

	for _, r := range rects {
		s.drawRect(surface, r)
	}

	var nextRedrawDelay time.Duration
	s.mu.Lock()
	now, found := time.Now(), false
	for _, t := range s.rowNextRedraw {
		if t.IsZero() {
			continue
		}
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		if !found || d < nextRedrawDelay {
			nextRedrawDelay, found = d, true
		}
	}
	s.mu.Unlock()

	s.RunEviction(surface)

	return DrawStats{
		RenderTime:      time.Since(start),
		DiskBytes:       diskBytes,
		RAMBytes:        ramBytes,
		ImageCount:      imageCount,
		CellW:           cw, CellH: ch,
		NextRedrawDelay: nextRedrawDelay,
	}
}

// drawRect renders one pending rect, advancing its image's animation
// scheduler against the cycle's fixed start time; once the image's frame
// time has reached that start, later rects of the same cycle skip the
// advance, so multiple placements of the same image show the same frame,
// per spec.md §5.
func (s *Store) drawRect(surface Surface, r *ImageRect) {
	img := s.Image(r.ImageID)
	if img == nil {
		return
	}
	p := img.Placements[r.PlacementID]
	if p == nil {
		return
	}

	s.mu.Lock()
	alreadyAdvanced := !img.CurrentFrameTime.Before(s.drawingStart) && img.CurrentFrame != 0
	s.mu.Unlock()
	if !alreadyAdvanced {
		s.Advance(img, s.drawingStart)
	}

	s.mu.Lock()
	for row := r.StartRow; row < r.EndRow; row++ {
		s.rowNextRedraw[row] = img.NextRedraw
	}
	s.mu.Unlock()

	handle, err := s.BuildPixmap(surface, img, p, img.CurrentFrame, r.CellW, r.CellH)
	if err != nil {
		Logger.Printf("graphics: draw: %v", err)
		return
	}

	srcRect := Rect{X: r.StartCol * r.CellW, Y: r.StartRow * r.CellH, W: (r.EndCol - r.StartCol) * r.CellW, H: (r.EndRow - r.StartRow) * r.CellH}
	dstRect := Rect{X: r.ScreenXPix, Y: r.ScreenYPix, W: srcRect.W, H: srcRect.H}

	if r.Reverse {
		inv := surface.InvertCopy(handle, srcRect.W, srcRect.H)
		surface.Composite(inv, Rect{0, 0, srcRect.W, srcRect.H}, dstRect, OpSrc)
		surface.FreePixmap(inv)
		return
	}
	surface.Composite(handle, srcRect, dstRect, OpOver)
}
