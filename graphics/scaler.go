// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: graphics/scaler.go
// Summary: Composes a frame over its background, scales it for a placement, and uploads the pixmap (component E).

package graphics

// EnsureDecoded builds f.DecodedBitmap if not already present, applying
// the background composition rule of spec.md §4.C. It is idempotent, and
// uses StatusRAMLoadingInProgress as a re-entrancy guard against
// background-frame reference cycles.
func (s *Store) EnsureDecoded(img *Image, f *ImageFrame) error {
	if f.Status == StatusRAMLoadingSuccess && f.DecodedBitmap != nil {
		return nil
	}
	if f.Status < StatusUploadSuccess {
		return newProtoErr(ErrBadFD, "frame not uploaded")
	}
	if f.DiskSize == 0 && f.DataPixWidth > 0 {
		return newProtoErr(ErrBadFD, "frame data evicted")
	}
	if f.Status == StatusRAMLoadingInProgress {
		return newProtoErr(ErrInval, "recursive loading")
	}

	f.Status = StatusRAMLoadingInProgress
	bitmap, err := s.decodeFrameLocked(img, f)
	if err != nil {
		f.Status = StatusRAMLoadingError
		return err
	}

	needsCompose := f.BackgroundColor != 0 || f.BackgroundFrameIndex != 0 ||
		f.DataPixWidth != img.PixWidth || f.DataPixHeight != img.PixHeight

	if needsCompose {
		canvas := NewARGBBuffer(img.PixWidth, img.PixHeight)
		if f.BackgroundFrameIndex != 0 {
			bg := img.Frame(f.BackgroundFrameIndex)
			if bg == nil {
				f.Status = StatusRAMLoadingError
				return newProtoErr(ErrInval, "background frame %d does not exist", f.BackgroundFrameIndex)
			}
			if err := s.EnsureDecoded(img, bg); err != nil {
				f.Status = StatusRAMLoadingError
				return err
			}
			copy(canvas.Pix, bg.DecodedBitmap.Pix)
		} else if f.BackgroundColor != 0 {
			fillColor(canvas, f.BackgroundColor)
		}
		blitOver(canvas, bitmap, f.OffsetX, f.OffsetY, f.Blend)
		bitmap = canvas
	}

	f.DecodedBitmap = bitmap
	f.Status = StatusRAMLoadingSuccess
	s.RamBytes += int64(bitmap.Bytes())
	return nil
}

func (s *Store) decodeFrameLocked(img *Image, f *ImageFrame) (*ARGBBuffer, error) {
	file, err := openCacheFile(f.DiskPath)
	if err != nil {
		return nil, wrapProtoErr(ErrBadFD, err, "open frame data")
	}
	defer file.Close()
	return LoadRawPixels(file, f.Format, f.Compression, f.DataPixWidth, f.DataPixHeight, s.Budgets.MaxSingleImageRAMSize)
}

// fillColor fills an ARGB buffer with a 0xRRGGBBAA color, expanding to the
// buffer's internal B,G,R,A byte order.
func fillColor(buf *ARGBBuffer, rgba uint32) {
	r := byte(rgba >> 24)
	g := byte(rgba >> 16)
	b := byte(rgba >> 8)
	a := byte(rgba)
	for i := 0; i < len(buf.Pix); i += 4 {
		buf.Pix[i+0] = b
		buf.Pix[i+1] = g
		buf.Pix[i+2] = r
		buf.Pix[i+3] = a
	}
}

// blitOver pastes src onto dst at (ox, oy). When blend is true it composes
// with Porter-Duff OVER; otherwise it replaces (SRC) the covered region.
func blitOver(dst, src *ARGBBuffer, ox, oy int, blend bool) {
	for y := 0; y < src.Height; y++ {
		dy := y + oy
		if dy < 0 || dy >= dst.Height {
			continue
		}
		for x := 0; x < src.Width; x++ {
			dx := x + ox
			if dx < 0 || dx >= dst.Width {
				continue
			}
			so := (y*src.Width + x) * 4
			do := (dy*dst.Width + dx) * 4
			if !blend {
				copy(dst.Pix[do:do+4], src.Pix[so:so+4])
				continue
			}
			sa := src.Pix[so+3]
			if sa == 0 {
				continue
			}
			if sa == 0xFF {
				copy(dst.Pix[do:do+4], src.Pix[so:so+4])
				continue
			}
			for c := 0; c < 4; c++ {
				sv := int(src.Pix[so+c])
				dv := int(dst.Pix[do+c])
				dst.Pix[do+c] = byte((sv*int(sa) + dv*(255-int(sa))) / 255)
			}
		}
	}
}

// BuildPixmap implements the full algorithm of spec.md §4.E: invalidate a
// stale cell-size generation, reuse an existing pixmap, ensure decode,
// infer placement size, scale, premultiply, and upload. cw/ch are the
// current terminal cell pixel dimensions.
func (s *Store) BuildPixmap(surface Surface, img *Image, p *Placement, frameIndex, cw, ch int) (PixmapHandle, error) {
	s.mu.Lock()
	var stale []PixmapHandle
	if p.ScaledCellW != cw || p.ScaledCellH != ch {
		for idx, h := range p.pixmaps {
			stale = append(stale, h)
			s.freePlacementPixmapLocked(p, idx, "cell size changed")
		}
		p.ScaledCellW, p.ScaledCellH = cw, ch
	}
	h, ok := p.pixmaps[frameIndex]
	s.mu.Unlock()
	for _, sh := range stale {
		surface.FreePixmap(sh)
	}
	if ok {
		return h, nil
	}

	f := img.Frame(frameIndex)
	if f == nil {
		return nil, newProtoErr(ErrNoEnt, "frame %d not found", frameIndex)
	}
	if err := s.EnsureDecoded(img, f); err != nil {
		return nil, err
	}
	s.InferPlacementSize(img, p, cw, ch)

	dstW, dstH := p.Cols*cw, p.Rows*ch
	if dstW <= 0 || dstH <= 0 {
		return nil, newProtoErr(ErrInval, "placement has zero extent")
	}
	if int64(dstW)*int64(dstH)*bytesPerPixel > s.Budgets.MaxSingleImageRAMSize && s.Budgets.MaxSingleImageRAMSize > 0 {
		return nil, newProtoErr(ErrFBig, "pixmap %dx%d exceeds ram limit", dstW, dstH)
	}

	canvas := NewARGBBuffer(dstW, dstH)
	scaleBlit(canvas, f.DecodedBitmap, p.SrcRect, p.ScaleMode)
	premultiplyAlpha(canvas)
	// The surface takes R,G,B,A byte order; ARGBBuffer holds B,G,R,A.
	for i := 0; i < len(canvas.Pix); i += 4 {
		canvas.Pix[i], canvas.Pix[i+2] = canvas.Pix[i+2], canvas.Pix[i]
	}

	handle := surface.AllocatePixmap(dstW, dstH)
	surface.UploadRGBAPremultiplied(handle, canvas.Pix, dstW, dstH)

	s.mu.Lock()
	p.ProtectedFrame = frameIndex
	p.pixmaps[frameIndex] = handle
	s.RamBytes += int64(dstW * dstH * bytesPerPixel)
	s.mu.Unlock()

	s.RunEviction(surface)

	s.mu.Lock()
	p.ProtectedFrame = 0
	s.mu.Unlock()

	return handle, nil
}

// scaleBlit composites srcRect of src into dst according to mode.
func scaleBlit(dst, src *ARGBBuffer, srcRect Rect, mode ScaleMode) {
	srcW, srcH := srcRect.W, srcRect.H
	if srcW <= 0 || srcH <= 0 || src == nil {
		return
	}
	switch mode {
	case ScaleFill:
		stretchBlit(dst, src, srcRect, 0, 0, dst.Width, dst.Height)
	case ScaleNone:
		copyBlit(dst, src, srcRect, 0, 0)
	case ScaleNoneOrContain:
		if dst.Width < srcW || dst.Height < srcH {
			containBlit(dst, src, srcRect)
		} else {
			copyBlit(dst, src, srcRect, 0, 0)
		}
	default: // ScaleContain, ScaleUnset
		containBlit(dst, src, srcRect)
	}
}

// containBlit letterboxes/pillarboxes src to fit dst while preserving
// aspect ratio. The test scaledW*srcH > srcW*scaledH (per spec.md §4.E)
// picks fit-height vs fit-width when computing the candidate scaled size.
func containBlit(dst, src *ARGBBuffer, srcRect Rect) {
	srcW, srcH := srcRect.W, srcRect.H
	scaledW, scaledH := dst.Width, dst.Height
	var fitW, fitH int
	if scaledW*srcH > srcW*scaledH {
		fitH = scaledH
		fitW = srcW * scaledH / srcH
	} else {
		fitW = scaledW
		fitH = srcH * scaledW / srcW
	}
	if fitW <= 0 {
		fitW = 1
	}
	if fitH <= 0 {
		fitH = 1
	}
	offX := (dst.Width - fitW) / 2
	offY := (dst.Height - fitH) / 2
	stretchBlit(dst, src, srcRect, offX, offY, fitW, fitH)
}

func copyBlit(dst, src *ARGBBuffer, srcRect Rect, dstX, dstY int) {
	for y := 0; y < srcRect.H; y++ {
		dy := dstY + y
		if dy < 0 || dy >= dst.Height {
			continue
		}
		sy := srcRect.Y + y
		if sy < 0 || sy >= src.Height {
			continue
		}
		for x := 0; x < srcRect.W; x++ {
			dx := dstX + x
			if dx < 0 || dx >= dst.Width {
				continue
			}
			sx := srcRect.X + x
			if sx < 0 || sx >= src.Width {
				continue
			}
			so := (sy*src.Width + sx) * 4
			do := (dy*dst.Width + dx) * 4
			copy(dst.Pix[do:do+4], src.Pix[so:so+4])
		}
	}
}

// stretchBlit nearest-neighbor scales srcRect of src into a fitW x fitH
// region of dst at (dstX, dstY).
func stretchBlit(dst, src *ARGBBuffer, srcRect Rect, dstX, dstY, fitW, fitH int) {
	if fitW <= 0 || fitH <= 0 {
		return
	}
	for y := 0; y < fitH; y++ {
		dy := dstY + y
		if dy < 0 || dy >= dst.Height {
			continue
		}
		sy := srcRect.Y + y*srcRect.H/fitH
		if sy < 0 || sy >= src.Height {
			continue
		}
		for x := 0; x < fitW; x++ {
			dx := dstX + x
			if dx < 0 || dx >= dst.Width {
				continue
			}
			sx := srcRect.X + x*srcRect.W/fitW
			if sx < 0 || sx >= src.Width {
				continue
			}
			so := (sy*src.Width + sx) * 4
			do := (dy*dst.Width + dx) * 4
			copy(dst.Pix[do:do+4], src.Pix[so:so+4])
		}
	}
}

// premultiplyAlpha converts a straight-alpha ARGB buffer in place to the
// premultiplied form the surface compositor requires.
func premultiplyAlpha(buf *ARGBBuffer) {
	for i := 0; i < len(buf.Pix); i += 4 {
		a := int(buf.Pix[i+3])
		if a == 255 {
			continue
		}
		buf.Pix[i+0] = byte(int(buf.Pix[i+0]) * a / 255)
		buf.Pix[i+1] = byte(int(buf.Pix[i+1]) * a / 255)
		buf.Pix[i+2] = byte(int(buf.Pix[i+2]) * a / 255)
	}
}

// freePlacementPixmapLocked releases the surface pixmap for a single
// frame index and retires its contribution to RamBytes. It only drops the
// Go-side bookkeeping: callers holding a live Surface (eviction.go,
// dump.go, BuildPixmap) capture the handle first and pass it to
// FreePixmap themselves; when an image or placement is deleted wholesale
// no surface is available and the handle is not freed on the surface.
func (s *Store) freePlacementPixmapLocked(p *Placement, frameIndex int, reason string) {
	if _, ok := p.pixmaps[frameIndex]; !ok {
		return
	}
	if p.ScaledCellW > 0 && p.ScaledCellH > 0 {
		s.RamBytes -= int64(p.Cols*p.ScaledCellW*p.Rows*p.ScaledCellH) * bytesPerPixel
	}
	delete(p.pixmaps, frameIndex)
	if s.EvictionLog != nil {
		s.EvictionLog.RecordEviction("pixmap", p.image.ImageID, p.PlacementID, reason)
	}
}
