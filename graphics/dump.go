// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: graphics/dump.go
// Summary: Human-readable state dump and a manual RAM-reduction escape hatch (supplemented from the reference implementation's debug tooling).

package graphics

import (
	"fmt"
	"io"
	"sort"
	"time"
)

// ago renders a duration as the reference implementation's debug dumps
// did, e.g. "3.2s ago".
func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%.1fs ago", time.Since(t).Seconds())
}

// DumpState writes a tree of every live image, its frames and
// placements, with ages, to w. It is a debugging aid, not part of the
// protocol surface.
func (s *Store) DumpState(w io.Writer) {
	images := s.AllImages()
	sort.Slice(images, func(i, j int) bool { return images[i].ImageID < images[j].ImageID })

	fmt.Fprintf(w, "graphics store: %d images, disk=%d bytes, ram=%d bytes\n", len(images), s.DiskBytes, s.RamBytes)
	for _, img := range images {
		s.dumpImage(w, img)
	}
}

func (s *Store) dumpImage(w io.Writer, img *Image) {
	fmt.Fprintf(w, "image id=%d number=%d atime=%s size=%dx%d frames=%d duration=%dms state=%v current=%d\n",
		img.ImageID, img.ImageNumber, ago(img.Atime), img.PixWidth, img.PixHeight,
		len(img.Frames), img.TotalDuration, img.AnimationState, img.CurrentFrame)

	for i, f := range img.Frames {
		s.dumpFrame(w, i+1, f)
	}

	placementIDs := make([]uint32, 0, len(img.Placements))
	for id := range img.Placements {
		placementIDs = append(placementIDs, id)
	}
	sort.Slice(placementIDs, func(i, j int) bool { return placementIDs[i] < placementIDs[j] })
	for _, id := range placementIDs {
		s.dumpPlacement(w, img.Placements[id])
	}
}

// dumpFrame writes one frame line; index is the frame's 1-based position
// in its image's Frames slice.
func (s *Store) dumpFrame(w io.Writer, index int, f *ImageFrame) {
	fmt.Fprintf(w, "  frame #%d atime=%s status=%v gap=%dms size=%dx%d disk=%d decoded=%v\n",
		index, ago(f.Atime), f.Status, f.GapMs, f.DataPixWidth, f.DataPixHeight,
		f.DiskSize, f.DecodedBitmap != nil)
}

func (s *Store) dumpPlacement(w io.Writer, p *Placement) {
	fmt.Fprintf(w, "  placement id=%d atime=%s mode=%v rows=%d cols=%d pixmaps=%d virtual=%v\n",
		p.PlacementID, ago(p.Atime), p.ScaleMode, p.Rows, p.Cols, len(p.pixmaps), p.Virtual)
}

// UnloadAllToReduceRAM drops every decoded bitmap and placement pixmap
// across the whole store, respecting ProtectedFrame, as a manual escape
// hatch distinct from the automatic eviction engine (spec.md §4 is
// supplemented by this per SPEC_FULL.md §4).
func (s *Store) UnloadAllToReduceRAM(surface Surface) {
	for _, img := range s.AllImages() {
		for _, f := range img.Frames {
			if f.DecodedBitmap == nil {
				continue
			}
			s.mu.Lock()
			s.RamBytes -= int64(f.DecodedBitmap.Bytes())
			f.DecodedBitmap = nil
			f.Status = StatusUploadSuccess
			s.mu.Unlock()
		}
		for _, p := range img.Placements {
			for idx := range p.pixmapFrameIndicesSafe() {
				frameIdx := idx
				if p.ProtectedFrame == frameIdx {
					continue
				}
				s.mu.Lock()
				handle := p.pixmaps[frameIdx]
				s.freePlacementPixmapLocked(p, frameIdx, "manual unload")
				s.mu.Unlock()
				if handle != nil && surface != nil {
					surface.FreePixmap(handle)
				}
			}
		}
	}
}

// pixmapFrameIndicesSafe returns a stable snapshot of frame indices with a
// live pixmap, safe to iterate while the caller mutates p.pixmaps.
func (p *Placement) pixmapFrameIndicesSafe() map[int]struct{} {
	out := make(map[int]struct{}, len(p.pixmaps))
	for idx := range p.pixmaps {
		out[idx] = struct{}{}
	}
	return out
}
