// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: graphics/placements_test.go
// Summary: Exercises placement cell-size inference across the unset/cols-only/rows-only/neither cases.

package graphics

import "testing"

func newSizedImage(w, h int) *Image {
	img := newImage(1)
	img.PixWidth, img.PixHeight = w, h
	return img
}

func TestInferPlacementSizeNoOpBeforeFirstDraw(t *testing.T) {
	s := newTestStore(t)
	img := newSizedImage(100, 50)
	p := newPlacement(1, img)

	s.InferPlacementSize(img, p, 0, 0)

	if p.Cols != 0 || p.Rows != 0 {
		t.Fatalf("expected no inference before a draw cycle starts, got cols=%d rows=%d", p.Cols, p.Rows)
	}
}

func TestInferPlacementSizeNeitherDimensionGiven(t *testing.T) {
	s := newTestStore(t)
	img := newSizedImage(100, 50)
	p := newPlacement(1, img)

	s.InferPlacementSize(img, p, 10, 20)

	if p.Cols != 10 || p.Rows != 3 {
		t.Fatalf("got cols=%d rows=%d, want cols=10 rows=3", p.Cols, p.Rows)
	}
}

func TestInferPlacementSizeColsGivenContain(t *testing.T) {
	s := newTestStore(t)
	img := newSizedImage(200, 100) // 2:1 aspect
	p := newPlacement(1, img)
	p.Cols = 10
	p.ScaleMode = ScaleContain

	s.InferPlacementSize(img, p, 10, 20) // 10 cols * 10px = 100px wide

	// width 100px at 2:1 aspect implies height 50px => ceil(50/20) = 3 rows.
	if p.Rows != 3 {
		t.Fatalf("got rows=%d, want 3", p.Rows)
	}
}

func TestInferPlacementSizeRowsGivenContain(t *testing.T) {
	s := newTestStore(t)
	img := newSizedImage(200, 100) // 2:1 aspect
	p := newPlacement(1, img)
	p.Rows = 5
	p.ScaleMode = ScaleContain

	s.InferPlacementSize(img, p, 10, 20) // 5 rows * 20px = 100px tall

	// height 100px at 2:1 aspect implies width 200px => ceil(200/10) = 20 cols.
	if p.Cols != 20 {
		t.Fatalf("got cols=%d, want 20", p.Cols)
	}
}

func TestInferPlacementSizeClampsSrcRectToBounds(t *testing.T) {
	s := newTestStore(t)
	img := newSizedImage(100, 100)
	p := newPlacement(1, img)
	p.SrcRect = Rect{X: 80, Y: 80, W: 50, H: 50}

	s.InferPlacementSize(img, p, 10, 10)

	if p.SrcRect.W != 20 || p.SrcRect.H != 20 {
		t.Fatalf("got clamped src rect %dx%d, want 20x20", p.SrcRect.W, p.SrcRect.H)
	}
}
