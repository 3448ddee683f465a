// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: graphics/eviction.go
// Summary: Computes per-object unload scores and enforces the four independent cache budgets (component F).

package graphics

import (
	"sort"
	"time"
)

// Budgets holds the four independent cache limits, tolerance-scaled per
// spec.md §4.F, plus the per-image single-resource caps, which are applied
// as-is. It is loaded from JSON by the config package.
type Budgets struct {
	MaxImages     int
	MaxPlacements int
	MaxDiskBytes  int64
	MaxRAMBytes   int64

	ExcessToleranceRatio float64 // default 0.05

	MaxSingleImageFileSize int64
	MaxSingleImageRAMSize  int64

	AnimationMinDelay time.Duration
}

// DefaultBudgets returns the limits the core starts with if no
// configuration file is present, chosen to be generous enough for
// interactive use without unbounded growth.
func DefaultBudgets() Budgets {
	return Budgets{
		MaxImages:              200,
		MaxPlacements:          400,
		MaxDiskBytes:           320 << 20,
		MaxRAMBytes:            320 << 20,
		ExcessToleranceRatio:   0.05,
		MaxSingleImageFileSize: 400 << 20,
		MaxSingleImageRAMSize:  400 << 20 * 4, // matches the total_pixels*4 check of spec.md §4.B
		AnimationMinDelay:      1 * time.Millisecond,
	}
}

func (b Budgets) enforced(limit int64) int64 {
	return int64(float64(limit) * (1 + b.ExcessToleranceRatio))
}

func (b Budgets) enforcedInt(limit int) int {
	return int(float64(limit) * (1 + b.ExcessToleranceRatio))
}

// unloadableObject is either a decoded frame bitmap or a single
// placement pixmap, scored for eviction per spec.md §4.F.
type unloadableObject struct {
	score    float64
	isFrame  bool
	img      *Image
	frame    *ImageFrame
	frameIdx int
	place    *Placement
}

// recencyWindow is "2*total_duration + 1000ms", the threshold under which
// an object is considered part of an active animation for scoring.
func recencyWindow(img *Image) time.Duration {
	return time.Duration(2*img.TotalDuration+1000) * time.Millisecond
}

func (s *Store) scoreFrame(img *Image, f *ImageFrame, now time.Time) float64 {
	base := float64(f.Atime.UnixNano())
	if now.Sub(f.Atime) < recencyWindow(img) {
		base = float64(now.Add(1 * time.Second).UnixNano())
	}
	base += s.rng.Float64() * 1000 // jitter so reload order isn't pathological
	return base
}

func (s *Store) scorePixmap(img *Image, p *Placement, frameIdx int, now time.Time) float64 {
	f := img.Frame(frameIdx)
	atime := p.Atime
	if f != nil && f.Atime.Before(atime) {
		atime = f.Atime
	}
	base := float64(atime.UnixNano())
	if now.Sub(atime) < recencyWindow(img) {
		base = float64(now.Add(1 * time.Second).UnixNano())
	}

	// Favor unloading frames far from the current frame, and weight by the
	// ratio between the decoded bitmap size and the pixmap size so
	// whichever resource dominates is preferred for eviction.
	n := len(img.Frames)
	if n > 0 {
		dist := distanceMod(frameIdx, img.CurrentFrame, n)
		base -= float64(dist) * 10

		if f != nil && f.DecodedBitmap != nil && p.ScaledCellW > 0 {
			decodedSize := float64(f.DecodedBitmap.Bytes())
			pixmapSize := float64(p.Cols*p.ScaledCellW*p.Rows*p.ScaledCellH) * bytesPerPixel
			if pixmapSize > 0 {
				ratio := decodedSize / pixmapSize
				shift := (ratio - 1) * 500
				if shift > 1000 {
					shift = 1000
				}
				if shift < -1000 {
					shift = -1000
				}
				base += shift
			}
		}
	}
	return base
}

func distanceMod(a, b, n int) int {
	if n <= 0 {
		return 0
	}
	d := a - b
	if d < 0 {
		d = -d
	}
	d = d % n
	if d > n-d {
		d = n - d
	}
	return d
}

// RunEviction enforces all four budgets in order: image count, placement
// count, disk bytes, ram bytes, firing after any successful upload, after
// any pixmap build, and at the end of each draw cycle per spec.md §4.F.
func (s *Store) RunEviction(surface Surface) {
	s.mu.Lock()
	budgets := s.Budgets
	images := make([]*Image, 0, len(s.images))
	for _, img := range s.images {
		images = append(images, img)
	}
	s.mu.Unlock()

	s.enforceImageCount(images, budgets)
	s.enforcePlacementCount(images, budgets)
	s.enforceDiskBytes(images, budgets)
	s.enforceRAMBytes(surface, images, budgets)
}

func (s *Store) enforceImageCount(images []*Image, b Budgets) {
	limit := b.enforcedInt(b.MaxImages)
	if b.MaxImages <= 0 || len(images) <= limit {
		return
	}
	sort.Slice(images, func(i, j int) bool {
		return lessByAtimeThenIndex(images[i].Atime, images[i].GlobalCommandIndex, images[j].Atime, images[j].GlobalCommandIndex)
	})
	excess := len(images) - b.MaxImages
	for i := 0; i < excess && i < len(images); i++ {
		s.DeleteImage(images[i].ImageID, "image count budget")
	}
}

func lessByAtimeThenIndex(at time.Time, ai int64, bt time.Time, bi int64) bool {
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	return ai < bi
}

type placementRef struct {
	img *Image
	p   *Placement
}

func (s *Store) enforcePlacementCount(images []*Image, b Budgets) {
	var refs []placementRef
	for _, img := range images {
		for _, p := range img.Placements {
			refs = append(refs, placementRef{img, p})
		}
	}
	limit := b.enforcedInt(b.MaxPlacements)
	if b.MaxPlacements <= 0 || len(refs) <= limit {
		return
	}
	sort.Slice(refs, func(i, j int) bool {
		if !refs[i].p.Atime.Equal(refs[j].p.Atime) {
			return refs[i].p.Atime.Before(refs[j].p.Atime)
		}
		return refs[i].img.GlobalCommandIndex < refs[j].img.GlobalCommandIndex
	})
	excess := len(refs) - b.MaxPlacements
	for i := 0; i < excess && i < len(refs); i++ {
		s.DeletePlacement(refs[i].img, refs[i].p.PlacementID, "placement count budget")
	}
}

type frameRef struct {
	img *Image
	f   *ImageFrame
}

func (s *Store) enforceDiskBytes(images []*Image, b Budgets) {
	limit := b.enforced(b.MaxDiskBytes)
	if b.MaxDiskBytes <= 0 || s.DiskBytes <= limit {
		return
	}
	var refs []frameRef
	for _, img := range images {
		for _, f := range img.Frames {
			if f.DiskSize > 0 {
				refs = append(refs, frameRef{img, f})
			}
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if !refs[i].f.Atime.Equal(refs[j].f.Atime) {
			return refs[i].f.Atime.Before(refs[j].f.Atime)
		}
		return refs[i].img.GlobalCommandIndex < refs[j].img.GlobalCommandIndex
	})
	for _, r := range refs {
		if s.DiskBytes <= limit {
			break
		}
		s.mu.Lock()
		s.freeFrameLocked(r.img, r.f)
		s.mu.Unlock()
		if s.EvictionLog != nil {
			s.EvictionLog.RecordEviction("frame-disk", r.img.ImageID, 0, "disk budget")
		}
	}
}

func (s *Store) enforceRAMBytes(surface Surface, images []*Image, b Budgets) {
	limit := b.enforced(b.MaxRAMBytes)
	if b.MaxRAMBytes <= 0 || s.RamBytes <= limit {
		return
	}
	now := time.Now()
	var objs []unloadableObject
	for _, img := range images {
		for _, f := range img.Frames {
			if f.DecodedBitmap != nil {
				objs = append(objs, unloadableObject{score: s.scoreFrame(img, f, now), isFrame: true, img: img, frame: f})
			}
		}
		for _, p := range img.Placements {
			for idx := range p.pixmaps {
				if p.ProtectedFrame == idx {
					continue
				}
				objs = append(objs, unloadableObject{score: s.scorePixmap(img, p, idx, now), img: img, frameIdx: idx, place: p})
			}
		}
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].score < objs[j].score })

	for _, o := range objs {
		if s.RamBytes <= limit {
			break
		}
		if o.isFrame {
			s.mu.Lock()
			if o.frame.DecodedBitmap != nil {
				s.RamBytes -= int64(o.frame.DecodedBitmap.Bytes())
				o.frame.DecodedBitmap = nil
				o.frame.Status = StatusUploadSuccess
			}
			s.mu.Unlock()
			if s.EvictionLog != nil {
				s.EvictionLog.RecordEviction("frame-ram", o.img.ImageID, 0, "ram budget")
			}
			continue
		}
		s.mu.Lock()
		handle := o.place.pixmaps[o.frameIdx]
		s.freePlacementPixmapLocked(o.place, o.frameIdx, "ram budget")
		s.mu.Unlock()
		if handle != nil && surface != nil {
			surface.FreePixmap(handle)
		}
	}
}
