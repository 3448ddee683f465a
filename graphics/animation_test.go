// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: graphics/animation_test.go
// Summary: Exercises the looping-animation scheduler against its literal scenario and invariants.

package graphics

import (
	"testing"
	"time"
)

func newAnimatedImage(gaps []int) *Image {
	img := newImage(2)
	img.Placements = make(map[uint32]*Placement)
	for _, g := range gaps {
		f := &ImageFrame{Status: StatusUploadSuccess, GapMs: g}
		img.Frames = append(img.Frames, f)
	}
	var total int64
	for _, g := range gaps {
		total += int64(maxInt(0, g))
	}
	img.TotalDuration = total
	img.AnimationState = AnimationLooping
	return img
}

// Scenario 4: gaps 100/200/50ms, looping, total_duration=350.
func TestScenarioAnimationLoopStepping(t *testing.T) {
	s := &Store{}
	img := newAnimatedImage([]int{100, 200, 50})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.Advance(img, base)
	if img.CurrentFrame != 1 {
		t.Fatalf("t=0: got frame %d, want 1", img.CurrentFrame)
	}
	if got := img.NextRedraw.Sub(base).Milliseconds(); got != 100 {
		t.Fatalf("t=0: next_redraw at +%dms, want +100ms", got)
	}

	s.Advance(img, base.Add(150*time.Millisecond))
	if img.CurrentFrame != 2 {
		t.Fatalf("t=150: got frame %d, want 2", img.CurrentFrame)
	}
	if got := img.NextRedraw.Sub(base).Milliseconds(); got != 300 {
		t.Fatalf("t=150: next_redraw at +%dms, want +300ms", got)
	}

	s.Advance(img, base.Add(360*time.Millisecond))
	if img.CurrentFrame != 1 {
		t.Fatalf("t=360: got frame %d, want 1", img.CurrentFrame)
	}
	if shift := img.CurrentFrameTime.Sub(base).Milliseconds(); shift != 350 {
		t.Fatalf("t=360: current_frame_time shifted by %dms, want 350ms", shift)
	}
}

// P3: total_duration is the sum of max(0, gap) across frames, and stays
// consistent as gaps are folded in one at a time via AddFrameGap.
func TestInvariantTotalDurationSum(t *testing.T) {
	img := newImage(3)
	gaps := []int{100, -1, 50, 0, 25}
	var want int64
	for _, g := range gaps {
		f := &ImageFrame{}
		img.Frames = append(img.Frames, f)
		AddFrameGap(img, 0, g)
		f.GapMs = g
		want += int64(maxInt(0, g))
	}
	if img.TotalDuration != want {
		t.Fatalf("got total_duration=%d, want %d", img.TotalDuration, want)
	}
}

// P7: calling Advance twice with the same now is idempotent.
func TestInvariantAdvanceIdempotentAtSameTime(t *testing.T) {
	s := &Store{}
	img := newAnimatedImage([]int{100, 200, 50})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base.Add(150 * time.Millisecond)

	s.Advance(img, now)
	frame1 := img.CurrentFrame
	frameTime1 := img.CurrentFrameTime
	redraw1 := img.NextRedraw

	s.Advance(img, now)
	if img.CurrentFrame != frame1 || !img.CurrentFrameTime.Equal(frameTime1) || !img.NextRedraw.Equal(redraw1) {
		t.Fatalf("second Advance at same now changed state: frame %d->%d, next_redraw %v->%v",
			frame1, img.CurrentFrame, redraw1, img.NextRedraw)
	}
}

// A stopped or unset animation never requests a redraw.
func TestAnimationStoppedNeverRedraws(t *testing.T) {
	s := &Store{}
	img := newAnimatedImage([]int{100, 200})
	img.AnimationState = AnimationStopped
	s.Advance(img, time.Now())
	if !img.NextRedraw.IsZero() {
		t.Fatalf("expected no redraw for a stopped animation")
	}
}

// A loading animation parked on its last uploaded frame stops requesting
// redraws rather than spinning on a frame that never arrives.
func TestAnimationLoadingParksOnLastUploadedFrame(t *testing.T) {
	s := &Store{}
	img := newAnimatedImage([]int{100, 200})
	img.AnimationState = AnimationLoading
	img.CurrentFrame = 2
	img.CurrentFrameTime = time.Now()
	s.Advance(img, time.Now().Add(time.Second))
	if !img.NextRedraw.IsZero() {
		t.Fatalf("expected no redraw while loading is parked on the last uploaded frame")
	}
}
