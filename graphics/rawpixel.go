// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: graphics/rawpixel.go
// Summary: Streams raw RGB/RGBA (optionally zlib-inflated) pixel data into an ARGB32 buffer (component B).

package graphics

import (
	"compress/zlib"
	"io"
)

const bytesPerPixel = 4 // allocation is always 4 bytes/pixel, regardless of declared format; see SPEC_FULL.md §6

// LoadRawPixels reads width*height pixels from r, in the given format and
// optional compression, into a freshly allocated ARGB32 buffer. format
// must be FormatRaw24 or FormatRaw32; any other value is a caller error.
//
// The per-image RAM limit is checked against width*height*4 before any
// allocation happens, uniformly regardless of the declared format -- this
// matches the original's limit check, which computes the same total even
// though a raw-24 source only has 3 bytes/pixel on the wire.
func LoadRawPixels(r io.Reader, format PixelFormat, compression Compression, width, height int, ramLimit int64) (*ARGBBuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, newProtoErr(ErrInval, "invalid raw pixel dimensions %dx%d", width, height)
	}
	totalPixels := int64(width) * int64(height)
	if ramLimit > 0 && totalPixels*bytesPerPixel > ramLimit {
		return nil, newProtoErr(ErrFBig, "raw pixel data %dx%d exceeds ram limit", width, height)
	}

	srcBytesPerPixel := 3
	if format == FormatRaw32 {
		srcBytesPerPixel = 4
	} else if format != FormatRaw24 {
		return nil, newProtoErr(ErrInval, "unsupported raw pixel format %v", format)
	}

	var src io.Reader = r
	var zr io.ReadCloser
	if compression == CompressionZlib {
		var err error
		zr, err = zlib.NewReader(newWhitespaceTolerantReader(r))
		if err != nil {
			return nil, wrapProtoErr(ErrBadFD, err, "zlib header")
		}
		defer zr.Close()
		src = zr
	}

	return loadRawPixelsInto(src, srcBytesPerPixel, width, height)
}

// newWhitespaceTolerantReader exists only to keep the zlib.NewReader call
// site symmetric with the rest of the decode pipeline; zlib streams are
// binary and need no tolerance, so this is a transparent passthrough.
func newWhitespaceTolerantReader(r io.Reader) io.Reader { return r }

// loadRawPixelsInto streams exactly width*height pixels of srcBPP bytes
// each from src, expanding to ARGB32 (0xAARRGGBB little-endian in Pix:
// B,G,R,A byte order) with opaque alpha when srcBPP==3. It truncates
// cleanly if the stream ends early, leaving the remainder of the buffer
// zeroed, and terminates without error on simultaneous EOF and zero
// progress, matching the streaming-inflater contract in SPEC_FULL.md §4.B.
func loadRawPixelsInto(src io.Reader, srcBPP, width, height int) (*ARGBBuffer, error) {
	out := NewARGBBuffer(width, height)
	npix := width * height

	const chunkPixels = 4096 // >= 16KiB output window for 4 bytes/pixel
	buf := make([]byte, chunkPixels*srcBPP)

	pixelsWritten := 0
	for pixelsWritten < npix {
		want := chunkPixels
		if npix-pixelsWritten < want {
			want = npix - pixelsWritten
		}
		n, err := io.ReadFull(src, buf[:want*srcBPP])
		full := n / srcBPP
		copyPixelsInto(out.Pix, pixelsWritten, buf[:full*srcBPP], srcBPP)
		pixelsWritten += full

		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				if full == 0 {
					break // no progress and nothing left: clean termination
				}
				if n < want*srcBPP {
					break // short read at end of stream
				}
				continue
			}
			return nil, wrapProtoErr(ErrBadFD, err, "raw pixel stream")
		}
	}
	return out, nil
}

// copyPixelsInto expands srcBPP-byte pixels from src into dst (4
// bytes/pixel ARGB, B,G,R,A order) starting at pixel offset startPixel.
func copyPixelsInto(dst []byte, startPixel int, src []byte, srcBPP int) {
	n := len(src) / srcBPP
	for i := 0; i < n; i++ {
		so := i * srcBPP
		do := (startPixel + i) * bytesPerPixel
		r, g, b := src[so], src[so+1], src[so+2]
		a := byte(0xFF)
		if srcBPP == 4 {
			a = src[so+3]
		}
		dst[do+0] = b
		dst[do+1] = g
		dst[do+2] = r
		dst[do+3] = a
	}
}
