// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: graphics/dispatcher_test.go
// Summary: Exercises the literal scenarios and invariants from the dispatcher's command contract.

package graphics

import (
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Scenario 1: direct upload happy path.
func TestScenarioDirectUploadHappyPath(t *testing.T) {
	s := newTestStore(t)
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12} // 2x2 RGB

	r1 := s.HandleCommand("i=1,f=24,s=2,v=2,t=d,m=1;"+string(Base64Encode(payload)), nil)
	if r1.Response != "" {
		t.Fatalf("expected no response for in-progress chunk, got %q", r1.Response)
	}

	r2 := s.HandleCommand("i=1,m=0;"+string(Base64Encode(nil)), nil)
	if r2.Response != "i=1;OK" {
		t.Fatalf("got response %q, want %q", r2.Response, "i=1;OK")
	}

	img := s.Image(1)
	if img == nil {
		t.Fatalf("image 1 not found")
	}
	if img.PixWidth != 2 || img.PixHeight != 2 {
		t.Fatalf("got size %dx%d, want 2x2", img.PixWidth, img.PixHeight)
	}
	if len(img.Frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(img.Frames))
	}
	f := img.Frames[0]
	if f.Status != StatusRAMLoadingSuccess {
		t.Fatalf("got status %v, want ram-loading-success", f.Status)
	}
	if f.DiskSize != 12 {
		t.Fatalf("got disk size %d, want 12", f.DiskSize)
	}
	if s.DiskBytes != 12 {
		t.Fatalf("got global disk_bytes %d, want 12", s.DiskBytes)
	}
}

// Scenario 2: size-limit abort.
func TestScenarioSizeLimitAbort(t *testing.T) {
	s := newTestStore(t)
	s.Budgets.MaxSingleImageFileSize = 16

	chunk := make([]byte, 10)
	r1 := s.HandleCommand("i=2,f=24,s=4,v=1,t=d,m=1;"+string(Base64Encode(chunk)), nil)
	if r1.Response != "" {
		t.Fatalf("expected no response for first chunk, got %q", r1.Response)
	}
	r2 := s.HandleCommand("i=2,m=0;"+string(Base64Encode(chunk)), nil)
	if !strings.Contains(r2.Response, "EFBIG") {
		t.Fatalf("got response %q, want an EFBIG error", r2.Response)
	}

	img := s.Image(2)
	if img == nil {
		t.Fatalf("image 2 not found")
	}
	f := img.Frames[0]
	if f.Status != StatusUploadError {
		t.Fatalf("got status %v, want upload-error", f.Status)
	}
	if f.DiskPath != "" {
		t.Fatalf("expected disk file to be removed")
	}
}

// Scenario 3: transmit-and-display synthesises a placeholder.
func TestScenarioTransmitAndDisplayPlaceholder(t *testing.T) {
	s := newTestStore(t)
	s.StartDrawing(8, 16)

	payload := []byte{1, 2, 3, 4}
	r1 := s.HandleCommand("a=T,f=24,s=1,v=1,i=7,p=9,c=3,r=2,t=d,m=1;"+string(Base64Encode(payload)), nil)
	if r1.Response != "" {
		t.Fatalf("expected no response for first chunk, got %q", r1.Response)
	}

	r2 := s.HandleCommand("i=7,m=0;"+string(Base64Encode(nil)), nil)
	if r2.Response != "i=7,p=9;OK" {
		t.Fatalf("got response %q, want %q", r2.Response, "i=7,p=9;OK")
	}
	if r2.CreatePlaceholder == nil {
		t.Fatalf("expected a create_placeholder result")
	}
	ph := r2.CreatePlaceholder
	if ph.ImageID != 7 || ph.PlacementID != 9 || ph.Cols != 3 || ph.Rows != 2 {
		t.Fatalf("got placeholder %+v", ph)
	}
}

// Scenario 5: query mode never leaves a resident image.
func TestScenarioQueryMode(t *testing.T) {
	s := newTestStore(t)
	payload := []byte{9, 9, 9, 9}

	r1 := s.HandleCommand("a=q,i=42,f=32,s=1,v=1,t=d,m=1;"+string(Base64Encode(payload)), nil)
	if r1.Response != "" {
		t.Fatalf("expected no response for first chunk, got %q", r1.Response)
	}
	r2 := s.HandleCommand("i=42,m=0;"+string(Base64Encode(nil)), nil)
	if r2.Response != "i=42;OK" {
		t.Fatalf("got response %q, want %q", r2.Response, "i=42;OK")
	}
	if s.Image(42) != nil {
		t.Fatalf("expected image 42 to be discarded after query")
	}
}

// Scenario 6: delete-by-number uppercase only deletes the newest image.
func TestScenarioDeleteByNumberUppercase(t *testing.T) {
	s := newTestStore(t)
	older := s.NewImage(0)
	older.ImageNumber = 5
	s.NewPlacement(older, 0)

	newer := s.NewImage(0)
	newer.ImageNumber = 5
	s.NewPlacement(newer, 0)

	s.HandleCommand("a=d,d=N,I=5", nil)

	if s.Image(newer.ImageID) != nil {
		t.Fatalf("expected newer image to be deleted")
	}
	if s.Image(older.ImageID) == nil {
		t.Fatalf("expected older image to survive")
	}
}

// P1/P2: disk_bytes tracks the sum of frame and image disk sizes.
func TestInvariantDiskBytesSum(t *testing.T) {
	s := newTestStore(t)
	payload := make([]byte, 20)
	s.HandleCommand("i=1,f=24,s=5,v=1,t=d,m=0;"+string(Base64Encode(payload)), nil)

	var sumFrames int64
	var sumImages int64
	for _, img := range s.AllImages() {
		sumImages += img.TotalDiskSize
		for _, f := range img.Frames {
			sumFrames += f.DiskSize
		}
	}
	if sumFrames != s.DiskBytes || sumImages != s.DiskBytes {
		t.Fatalf("disk_bytes=%d sumFrames=%d sumImages=%d", s.DiskBytes, sumFrames, sumImages)
	}
}

// P4: after deletion, nothing contributes stale budget entries.
func TestInvariantBudgetsAfterDelete(t *testing.T) {
	s := newTestStore(t)
	payload := make([]byte, 20)
	s.HandleCommand("i=1,f=24,s=5,v=1,t=d,m=0;"+string(Base64Encode(payload)), nil)
	s.DeleteImage(1, "test")
	if s.DiskBytes != 0 {
		t.Fatalf("got disk_bytes=%d after delete, want 0", s.DiskBytes)
	}
}
