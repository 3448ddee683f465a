// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: graphics/animation.go
// Summary: Advances an image's current frame given wall time (component G).

package graphics

import "time"

// Advance implements spec.md §4.G. It mutates img.CurrentFrame,
// img.CurrentFrameTime and img.NextRedraw in place.
//
// Loop-termination guard: if a single call visits the frame it started
// from again (every frame in the sequence is gapless), this
// implementation resets CurrentFrameTime to now and recomputes
// NextRedraw from the frame landed on *after* the forced advance, rather
// than the frame it started from. This keeps NextRedraw consistent with
// the just-reset CurrentFrameTime in the all-gapless case, at the cost of
// deviating from the original for that single edge case; see
// SPEC_FULL.md §6.
func (s *Store) Advance(img *Image, now time.Time) {
	n := len(img.Frames)
	if n == 0 {
		img.NextRedraw = time.Time{}
		return
	}
	if img.CurrentFrame == 0 {
		img.CurrentFrame = 1
		img.CurrentFrameTime = now
	}

	if img.AnimationState == AnimationUnset || img.AnimationState == AnimationStopped {
		img.NextRedraw = time.Time{}
		return
	}

	lastUploaded := img.LastUploadedFrameIndex()
	if img.AnimationState == AnimationLoading && img.CurrentFrame == lastUploaded {
		img.NextRedraw = time.Time{}
		return
	}

	frameTime := img.CurrentFrameTime
	passedMs := now.Sub(frameTime).Milliseconds()

	if img.AnimationState == AnimationLooping && img.TotalDuration > 0 && passedMs >= img.TotalDuration {
		cycles := passedMs / img.TotalDuration
		frameTime = frameTime.Add(time.Duration(cycles*img.TotalDuration) * time.Millisecond)
		passedMs -= cycles * img.TotalDuration
	}

	startFrame := img.CurrentFrame
	visited := make(map[int]bool)
	forcedAdvance := false

	for {
		f := img.Frame(img.CurrentFrame)
		gap := int64(maxInt(0, f.GapMs))

		if f.GapMs < 0 {
			// Gapless frame: always skipped, contributes no time.
			if !s.stepFrame(img, lastUploaded) {
				break
			}
			if visited[img.CurrentFrame] {
				forcedAdvance = true
				break
			}
			visited[img.CurrentFrame] = true
			if img.CurrentFrame == startFrame {
				forcedAdvance = true
				break
			}
			continue
		}

		if gap > passedMs {
			break
		}
		passedMs -= gap
		frameTime = frameTime.Add(time.Duration(gap) * time.Millisecond)
		if !s.stepFrame(img, lastUploaded) {
			break
		}
		if img.CurrentFrame == startFrame {
			forcedAdvance = true
			break
		}
	}

	if forcedAdvance {
		s.stepFrame(img, lastUploaded)
		img.CurrentFrameTime = now
		f := img.Frame(img.CurrentFrame)
		img.NextRedraw = now.Add(time.Duration(maxInt64(1, int64(maxInt(0, f.GapMs)))) * time.Millisecond)
		return
	}

	img.CurrentFrameTime = frameTime
	f := img.Frame(img.CurrentFrame)
	img.NextRedraw = frameTime.Add(time.Duration(maxInt64(1, int64(maxInt(0, f.GapMs)))) * time.Millisecond)
}

// stepFrame advances img.CurrentFrame by one, honoring loop/stop
// semantics at the last frame. It returns false if there is no frame to
// advance to (animation has settled).
func (s *Store) stepFrame(img *Image, lastUploaded int) bool {
	n := len(img.Frames)
	if img.CurrentFrame >= n {
		switch img.AnimationState {
		case AnimationLooping:
			img.CurrentFrame = 1
			return true
		case AnimationLoading:
			img.CurrentFrame = lastUploaded
			img.NextRedraw = time.Time{}
			return false
		default:
			return false
		}
	}
	img.CurrentFrame++
	return true
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
