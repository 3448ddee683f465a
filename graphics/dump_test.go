// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: graphics/dump_test.go
// Summary: Exercises the debug dump and the manual RAM-reduction escape hatch.

package graphics

import (
	"bytes"
	"strings"
	"testing"
)

func TestDumpStateListsImagesFramesAndPlacements(t *testing.T) {
	s := newTestStore(t)
	img := s.NewImage(7)
	img.PixWidth, img.PixHeight = 4, 4
	f := &ImageFrame{Status: StatusUploadSuccess, DataPixWidth: 4, DataPixHeight: 4}
	img.Frames = append(img.Frames, f)
	s.NewPlacement(img, 9)

	var buf bytes.Buffer
	s.DumpState(&buf)

	out := buf.String()
	for _, want := range []string{"image id=7", "frame #1", "placement id=9"} {
		if !strings.Contains(out, want) {
			t.Fatalf("dump missing %q in:\n%s", want, out)
		}
	}
}

func TestUnloadAllToReduceRAMRespectsProtectedFrame(t *testing.T) {
	s := newTestStore(t)
	img := s.NewImage(0)
	f := &ImageFrame{DecodedBitmap: NewARGBBuffer(2, 2)}
	img.Frames = append(img.Frames, f)
	s.RamBytes += int64(f.DecodedBitmap.Bytes())

	p := s.NewPlacement(img, 0)
	p.ProtectedFrame = 1
	p.setPixmap(1, &fakePixmap{w: 2, h: 2})

	surf := newFakeSurface()
	s.UnloadAllToReduceRAM(surf)

	if f.DecodedBitmap != nil {
		t.Fatalf("expected decoded bitmap to be unloaded")
	}
	if p.Pixmap(1) == nil {
		t.Fatalf("expected protected frame's pixmap to survive manual unload")
	}
}
