// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: graphics/placements.go
// Summary: Placement lifecycle and cell-size inference (component D).

package graphics

import (
	"time"
)

// NewPlacement creates and registers a placement on img. If id is 0 a
// random 24-bit id is generated.
func (s *Store) NewPlacement(img *Image, id uint32) *Placement {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == 0 {
		id = s.randID24(func(c uint32) bool { _, ok := img.Placements[c]; return ok })
	} else if old, exists := img.Placements[id]; exists {
		s.freePlacementPixmapsLocked(old)
	}
	p := newPlacement(id, img)
	p.Atime = time.Now()
	img.Placements[id] = p
	if img.DefaultPlacementID == 0 {
		img.DefaultPlacementID = id
	}
	Logger.Printf("graphics: new placement image=%d placement=%d", img.ImageID, id)
	return p
}

// DeletePlacement removes a placement (and its pixmaps) from img.
func (s *Store) DeletePlacement(img *Image, id uint32, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := img.Placements[id]
	if !ok {
		return
	}
	s.freePlacementPixmapsLocked(p)
	delete(img.Placements, id)
	if img.DefaultPlacementID == id {
		img.DefaultPlacementID = 0
	}
	if s.EvictionLog != nil {
		s.EvictionLog.RecordEviction("placement", img.ImageID, id, reason)
	}
}

// defaultScaleMode derives the scale mode a placement should use when the
// caller left it unspecified, per spec.md's Design Notes: virtual
// placements default to contain; both rows&cols specified => fill; one of
// them => contain; neither => none.
func defaultScaleMode(virtual bool, haveCols, haveRows bool) ScaleMode {
	if virtual {
		return ScaleContain
	}
	switch {
	case haveCols && haveRows:
		return ScaleFill
	case haveCols || haveRows:
		return ScaleContain
	default:
		return ScaleNone
	}
}

// ceilDiv is integer ceiling division for non-negative b > 0.
func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// InferPlacementSize runs the size-inference algorithm of spec.md §4.D. It
// is idempotent and safe to call repeatedly: at put-time, and again before
// each pixmap build. cw/ch are the current cell pixel dimensions; if
// either is 0 (no draw cycle has started yet) the call is a no-op, per
// spec.md §9's deferred-inference note.
func (s *Store) InferPlacementSize(img *Image, p *Placement, cw, ch int) {
	if cw <= 0 || ch <= 0 {
		return
	}

	// Clamp / default the source rectangle to image bounds.
	if p.SrcRect.X < 0 {
		p.SrcRect.X = 0
	}
	if p.SrcRect.Y < 0 {
		p.SrcRect.Y = 0
	}
	if p.SrcRect.W <= 0 || p.SrcRect.H <= 0 {
		p.SrcRect.W = img.PixWidth
		p.SrcRect.H = img.PixHeight
		p.SrcRect.X = 0
		p.SrcRect.Y = 0
	}
	if p.SrcRect.X+p.SrcRect.W > img.PixWidth {
		p.SrcRect.W = img.PixWidth - p.SrcRect.X
	}
	if p.SrcRect.Y+p.SrcRect.H > img.PixHeight {
		p.SrcRect.H = img.PixHeight - p.SrcRect.Y
	}
	if p.SrcRect.W < 0 {
		p.SrcRect.W = 0
	}
	if p.SrcRect.H < 0 {
		p.SrcRect.H = 0
	}

	srcW, srcH := p.SrcRect.W, p.SrcRect.H

	switch {
	case p.Cols == 0 && p.Rows == 0:
		p.Cols = ceilDiv(srcW, cw)
		p.Rows = ceilDiv(srcH, ch)
	case p.Cols == 0:
		p.Cols = s.inferOtherDimension(p.ScaleMode, srcW, srcH, p.Rows, ch, cw, true)
	case p.Rows == 0:
		p.Rows = s.inferOtherDimension(p.ScaleMode, srcH, srcW, p.Cols, cw, ch, false)
	}
}

// inferOtherDimension derives the missing placement dimension. known is
// the already-fixed dimension (in cells, along knownAxisCellSize); it
// returns the derived dimension along the axis whose cell size is
// wantAxisCellSize. When mode is contain, the aspect ratio of the full
// source rectangle is preserved; otherwise the derived dimension comes
// straight from the source pixel size along its own axis.
func (s *Store) inferOtherDimension(mode ScaleMode, wantAxisSrc, knownAxisSrc, known, knownAxisCellSize, wantAxisCellSize int, wantIsCols bool) int {
	if mode == ScaleContain && knownAxisSrc > 0 {
		knownAxisPix := known * knownAxisCellSize
		derivedPix := wantAxisSrc * knownAxisPix / knownAxisSrc
		return ceilDiv(derivedPix, wantAxisCellSize)
	}
	return ceilDiv(wantAxisSrc, wantAxisCellSize)
}
