// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: graphics/rawpixel_test.go
// Summary: Raw pixel loader round-trip checks for raw-24/32, with and without zlib (property P6).

package graphics

import (
	"bytes"
	"compress/zlib"
	"testing"
)

func TestLoadRawPixelsRaw32(t *testing.T) {
	w, h := 2, 2
	src := []byte{
		1, 2, 3, 255, 4, 5, 6, 128,
		7, 8, 9, 0, 10, 11, 12, 64,
	}
	buf, err := LoadRawPixels(bytes.NewReader(src), FormatRaw32, CompressionNone, w, h, 0)
	if err != nil {
		t.Fatalf("LoadRawPixels: %v", err)
	}
	for i := 0; i < w*h; i++ {
		r, g, b, a := src[i*4], src[i*4+1], src[i*4+2], src[i*4+3]
		got := buf.Pix[i*4 : i*4+4]
		if got[0] != b || got[1] != g || got[2] != r || got[3] != a {
			t.Fatalf("pixel %d: got %v want B=%d G=%d R=%d A=%d", i, got, b, g, r, a)
		}
	}
}

func TestLoadRawPixelsRaw24OpaqueAlpha(t *testing.T) {
	src := []byte{10, 20, 30, 40, 50, 60, 70, 80, 90, 100, 110, 120}
	buf, err := LoadRawPixels(bytes.NewReader(src), FormatRaw24, CompressionNone, 2, 2, 0)
	if err != nil {
		t.Fatalf("LoadRawPixels: %v", err)
	}
	for i := 0; i < 4; i++ {
		if buf.Pix[i*4+3] != 0xFF {
			t.Fatalf("pixel %d alpha = %d, want 0xFF", i, buf.Pix[i*4+3])
		}
	}
}

func TestLoadRawPixelsZlibCompressed(t *testing.T) {
	w, h := 4, 1
	raw := []byte{1, 2, 3, 255, 4, 5, 6, 255, 7, 8, 9, 255, 10, 11, 12, 255}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	zw.Write(raw)
	zw.Close()

	buf, err := LoadRawPixels(bytes.NewReader(compressed.Bytes()), FormatRaw32, CompressionZlib, w, h, 0)
	if err != nil {
		t.Fatalf("LoadRawPixels: %v", err)
	}
	for i := 0; i < w*h; i++ {
		r, g, b, a := raw[i*4], raw[i*4+1], raw[i*4+2], raw[i*4+3]
		got := buf.Pix[i*4 : i*4+4]
		if got[0] != b || got[1] != g || got[2] != r || got[3] != a {
			t.Fatalf("pixel %d mismatch after zlib inflate", i)
		}
	}
}

func TestLoadRawPixelsExceedsRAMLimit(t *testing.T) {
	_, err := LoadRawPixels(bytes.NewReader(nil), FormatRaw32, CompressionNone, 1000, 1000, 100)
	if err == nil {
		t.Fatalf("expected ram-limit error")
	}
}
