// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: graphics/dispatcher.go
// Summary: Executes transmit/append/put/display/delete/animation-control commands and builds responses (component I).

package graphics

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Placeholder describes a grid region the host should reserve for a
// placement, per spec.md §1's "create placeholder" contract.
type Placeholder struct {
	ImageID         uint32
	PlacementID     uint32
	Rows, Cols      int
	DoNotMoveCursor bool
}

// CommandResult is returned by HandleCommand for each processed command.
type CommandResult struct {
	Response        string // empty if suppressed by quiet level
	Redraw          bool
	CreatePlaceholder *Placeholder
}

// HandleCommand parses and executes one command string (the body of a
// graphics escape sequence, without the envelope) against the store.
// surface may be nil for commands that never touch pixmaps (anything but
// a successful upload that completes compose-on-upload for an image with
// a placement already registered; those calls defer pixmap building to
// the draw loop in practice, so a nil surface is normally fine here too).
func (s *Store) HandleCommand(raw string, surface Surface) *CommandResult {
	cmd := ParseCommand(raw)
	return s.dispatch(cmd, surface)
}

func (s *Store) dispatch(cmd *Command, surface Surface) *CommandResult {
	res := &CommandResult{}

	if !cmd.HasAction && cmd.HasMore && s.activeUploadFrame != nil {
		// "A command with m= and no a= continues a direct-upload in
		// progress." per spec.md §4.I.
		s.continueDirectUpload(cmd, res)
		return res
	}

	switch cmd.Action {
	case 't':
		s.handleTransmit(cmd, res)
	case 'q':
		s.handleQuery(cmd, res)
	case 'f':
		s.handleFrameTransmit(cmd, res)
	case 'p':
		s.handlePut(cmd, res)
	case 'T':
		s.handleTransmitAndDisplay(cmd, res)
	case 'd':
		s.handleDelete(cmd, res)
	case 'a':
		s.handleAnimationControl(cmd, res)
	default:
		s.reportError(cmd, res, newProtoErr(ErrInval, "unknown action %q", string(cmd.Action)))
	}

	for _, e := range cmd.Errors {
		s.reportError(cmd, res, e)
	}

	return res
}

// --- response construction -------------------------------------------

func (s *Store) buildResponsePrefix(cmd *Command) string {
	var b strings.Builder
	b.WriteString("i=")
	fmt.Fprintf(&b, "%d", cmd.ImageID)
	if cmd.ImageNumber != 0 {
		fmt.Fprintf(&b, ",I=%d", cmd.ImageNumber)
	}
	if cmd.PlacementID != 0 {
		fmt.Fprintf(&b, ",p=%d", cmd.PlacementID)
	}
	return b.String()
}

func (s *Store) reportSuccess(cmd *Command, res *CommandResult) {
	if cmd.Quiet >= 1 {
		return
	}
	res.Response = fmt.Sprintf("%s;OK", s.buildResponsePrefix(cmd))
}

func (s *Store) reportError(cmd *Command, res *CommandResult, err *ProtocolError) {
	Logger.Printf("graphics: command error: %v", err)
	if cmd.Quiet >= 2 {
		return
	}
	res.Response = fmt.Sprintf("%s;%s", s.buildResponsePrefix(cmd), err.WireString())
}

// --- transmit -----------------------------------------------------------

func (s *Store) resolveOrCreateImage(cmd *Command) *Image {
	img := s.Image(cmd.ImageID)
	if img == nil {
		img = s.NewImage(cmd.ImageID)
		if cmd.ImageID == 0 {
			cmd.ImageID = img.ImageID
		}
	}
	if cmd.ImageNumber != 0 {
		img.ImageNumber = cmd.ImageNumber
	}
	return img
}

func (s *Store) handleTransmit(cmd *Command, res *CommandResult) {
	img := s.resolveOrCreateImage(cmd)
	s.uploadFirstFrame(img, cmd, res)
}

// uploadFirstFrame appends (or reuses) the image's first frame and
// dispatches the upload. It never reads or writes cmd.ImageID, so callers
// control exactly what id is echoed back in the response -- the real
// caller-supplied id for a query, the resolved id otherwise.
func (s *Store) uploadFirstFrame(img *Image, cmd *Command, res *CommandResult) {
	var f *ImageFrame
	if img.LastFrameIndex() == 0 {
		f = s.AppendFrame(img, cmd.Quiet)
	} else {
		f = img.Frame(img.LastFrameIndex())
	}
	s.populateFrameMeta(img, f, cmd)

	switch cmd.Transmission {
	case 0, 'd':
		s.startDirectUpload(img, f, cmd, res)
	case 'f', 't':
		s.handleFileTransmission(img, f, cmd, res)
	default:
		s.reportError(cmd, res, newProtoErr(ErrInval, "unknown transmission medium %q", string(cmd.Transmission)))
	}
}

// handleQuery implements the "a=q" action of spec.md §4.I: it must never
// leak a real image, so the upload runs against a fresh internal id while
// every response stays keyed by the caller-supplied id; the internal
// image is deleted once the upload actually finishes (which may be on a
// later chunk).
func (s *Store) handleQuery(cmd *Command, res *CommandResult) {
	img := s.NewImage(0)
	s.queryInternalID = img.ImageID
	s.queryRealID = cmd.ImageID
	s.uploadFirstFrame(img, cmd, res)
}

func (s *Store) populateFrameMeta(img *Image, f *ImageFrame, cmd *Command) {
	switch cmd.Format {
	case 24:
		f.Format = FormatRaw24
	case 32:
		f.Format = FormatRaw32
	case 0, 100:
		f.Format = FormatDecoderOnly
	default:
		f.Format = FormatAuto
	}
	if cmd.Compression == 'z' {
		f.Compression = CompressionZlib
	}
	if cmd.KeyS > 0 {
		f.DataPixWidth = cmd.KeyS
	}
	if cmd.KeyV > 0 {
		f.DataPixHeight = cmd.KeyV
	}
	if cmd.ExpectedSize > 0 {
		f.ExpectedSize = cmd.ExpectedSize
	}
	f.Quiet = cmd.Quiet

	if img.PixWidth == 0 && f.DataPixWidth > 0 {
		img.PixWidth = f.DataPixWidth
		img.PixHeight = f.DataPixHeight
	}
}

// startDirectUpload opens (or continues) the frame's cache file and
// appends the command's payload, per spec.md §4.I's direct transmission.
func (s *Store) startDirectUpload(img *Image, f *ImageFrame, cmd *Command, res *CommandResult) {
	if err := s.ensureCacheDir(); err != nil {
		f.UploadingFailure = FailureCannotOpenCache
		f.Status = StatusUploadError
		s.reportError(cmd, res, wrapProtoErr(ErrIO, err, "cache dir"))
		return
	}

	if f.openUploadHandle == nil {
		path := s.framePath(img.ImageID, f.Index())
		file, err := os.Create(path)
		if err != nil {
			f.UploadingFailure = FailureCannotOpenCache
			f.Status = StatusUploadError
			s.reportError(cmd, res, wrapProtoErr(ErrIO, err, "create cache file"))
			return
		}
		f.openUploadHandle = file
		f.DiskPath = path
		f.Status = StatusUploading
		s.activeUploadImage = img
		s.activeUploadFrame = f
	}

	s.appendUploadData(img, f, cmd, res)
}

func (s *Store) continueDirectUpload(cmd *Command, res *CommandResult) {
	img, f := s.activeUploadImage, s.activeUploadFrame
	if img == nil || f == nil || f.openUploadHandle == nil {
		s.reportError(cmd, res, newProtoErr(ErrInval, "no upload in progress"))
		return
	}
	if s.queryRealID != 0 {
		cmd.ImageID = s.queryRealID
	} else {
		cmd.ImageID = img.ImageID
	}
	s.appendUploadData(img, f, cmd, res)
}

// appendUploadData writes cmd.Payload to the open upload file, handling
// the per-file size limit, and closes + finalizes the frame when
// cmd.More == 0.
func (s *Store) appendUploadData(img *Image, f *ImageFrame, cmd *Command, res *CommandResult) {
	limit := s.Budgets.MaxSingleImageFileSize
	if limit > 0 && f.DiskSize+int64(len(cmd.Payload)) > limit {
		f.openUploadHandle.Close()
		os.Remove(f.DiskPath)
		s.mu.Lock()
		s.DiskBytes -= f.DiskSize
		img.TotalDiskSize -= f.DiskSize
		s.mu.Unlock()
		f.DiskSize = 0
		f.DiskPath = ""
		f.openUploadHandle = nil
		f.UploadingFailure = FailureOverSizeLimit
		f.Status = StatusUploadError
		s.activeUploadImage, s.activeUploadFrame = nil, nil
		s.reportError(cmd, res, newProtoErr(ErrFBig, "upload exceeds per-file limit"))
		return
	}

	n, err := f.openUploadHandle.Write(cmd.Payload)
	if err != nil {
		s.reportError(cmd, res, wrapProtoErr(ErrIO, err, "write cache file"))
		return
	}
	s.mu.Lock()
	s.recordDiskWrite(img, f, int64(n))
	s.mu.Unlock()

	if cmd.More != 0 {
		return // upload continues, no response for this chunk
	}

	f.openUploadHandle.Close()
	f.openUploadHandle = nil
	s.activeUploadImage, s.activeUploadFrame = nil, nil

	if f.ExpectedSize > 0 && f.DiskSize != f.ExpectedSize {
		f.UploadingFailure = FailureUnexpectedSize
		f.Status = StatusUploadError
		s.reportError(cmd, res, newProtoErr(ErrBadFD, "unexpected upload size: got %d want %d", f.DiskSize, f.ExpectedSize))
		return
	}

	f.Status = StatusUploadSuccess
	s.finishUpload(img, f, cmd, res)
}

// handleFileTransmission implements spec.md §4.I's file transmission: the
// payload is a base64-encoded absolute path, stat'd, size-checked, and
// copied into the cache directory.
func (s *Store) handleFileTransmission(img *Image, f *ImageFrame, cmd *Command, res *CommandResult) {
	path := string(cmd.Payload)
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() || fi.Size() == 0 {
		f.UploadingFailure = FailureCannotOpenCache
		f.Status = StatusUploadError
		s.reportError(cmd, res, newProtoErr(ErrBadFD, "cannot stat source file %q", path))
		return
	}
	limit := s.Budgets.MaxSingleImageFileSize
	if limit > 0 && fi.Size() > limit {
		f.UploadingFailure = FailureOverSizeLimit
		f.Status = StatusUploadError
		s.reportError(cmd, res, newProtoErr(ErrFBig, "source file exceeds per-file limit"))
		return
	}

	if err := s.ensureCacheDir(); err != nil {
		f.UploadingFailure = FailureCannotOpenCache
		f.Status = StatusUploadError
		s.reportError(cmd, res, wrapProtoErr(ErrIO, err, "cache dir"))
		return
	}

	dst := s.framePath(img.ImageID, f.Index())
	if err := copyFileViaTempSymlink(path, dst); err != nil {
		f.UploadingFailure = FailureCannotCopyFile
		f.Status = StatusUploadError
		s.reportError(cmd, res, wrapProtoErr(ErrBadFD, err, "copy source file"))
		return
	}

	f.DiskPath = dst
	s.mu.Lock()
	s.recordDiskWrite(img, f, fi.Size())
	s.mu.Unlock()
	f.Status = StatusUploadSuccess

	if cmd.Transmission == 't' && isGraphicsTempFile(path) {
		os.Remove(path)
	}

	s.finishUpload(img, f, cmd, res)
}

// copyFileViaTempSymlink copies src to dst directly in Go. It creates no
// symlink and runs no shell command, so no file name is ever interpolated
// into a command line; the original's symlink+cp step is not reproduced.
func copyFileViaTempSymlink(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func isGraphicsTempFile(path string) bool {
	tmpDir := os.Getenv("TMPDIR")
	if tmpDir == "" {
		tmpDir = "/tmp"
	}
	clean := filepath.Clean(path)
	return strings.HasPrefix(clean, filepath.Clean(tmpDir)) && strings.Contains(clean, "tty-graphics-protocol")
}

// finishUpload decodes+composes the frame, registers pending placeholder
// placements for a first frame, and builds the response.
func (s *Store) finishUpload(img *Image, f *ImageFrame, cmd *Command, res *CommandResult) {
	if err := s.EnsureDecoded(img, f); err != nil {
		s.reportError(cmd, res, wrapProtoErr(ErrBadFD, err, "decode frame"))
		return
	}
	res.Redraw = true
	s.RunEviction(nil)

	if pd := s.pendingDisplayCmd; pd != nil && pd.ImageID == img.ImageID {
		s.pendingDisplayCmd = nil
		p := s.buildPlacementFromCommand(img, pd)
		img.InitialPlacementID = p.PlacementID
		res.CreatePlaceholder = &Placeholder{
			ImageID: img.ImageID, PlacementID: p.PlacementID,
			Rows: p.Rows, Cols: p.Cols, DoNotMoveCursor: p.DoNotMoveCursor,
		}
		cmd.PlacementID = p.PlacementID
		s.reportSuccess(cmd, res)
		return
	}

	s.reportSuccess(cmd, res)

	if s.queryInternalID != 0 && s.queryInternalID == img.ImageID {
		s.queryInternalID, s.queryRealID = 0, 0
		s.DeleteImage(img.ImageID, "query")
	}
}

// --- frame-transmit (append frame) --------------------------------------

func (s *Store) handleFrameTransmit(cmd *Command, res *CommandResult) {
	img := s.Image(cmd.ImageID)
	if img == nil {
		s.reportError(cmd, res, newProtoErr(ErrNoEnt, "image %d not found", cmd.ImageID))
		return
	}
	var f *ImageFrame
	if cmd.KeyR > 0 {
		f = img.Frame(cmd.KeyR)
		if f == nil {
			s.reportError(cmd, res, newProtoErr(ErrNoEnt, "frame %d not found", cmd.KeyR))
			return
		}
	} else {
		f = s.AppendFrame(img, cmd.Quiet)
	}

	f.OffsetX = cmd.KeyX
	f.OffsetY = cmd.KeyY
	oldGap := f.GapMs
	f.GapMs = cmd.KeyZ
	AddFrameGap(img, oldGap, f.GapMs)
	if cmd.KeyC > 0 {
		f.BackgroundFrameIndex = cmd.KeyC
	} else if cmd.KeyXUpper != 0 || cmd.KeyYUpper != 0 {
		f.BackgroundColor = uint32(cmd.KeyXUpper)<<16 | uint32(cmd.KeyYUpper)
	}
	f.Blend = cmd.KeyXUpper&1 == 0

	s.populateFrameMeta(img, f, cmd)

	switch cmd.Transmission {
	case 0, 'd':
		s.startDirectUpload(img, f, cmd, res)
	case 'f', 't':
		s.handleFileTransmission(img, f, cmd, res)
	default:
		s.reportError(cmd, res, newProtoErr(ErrInval, "unknown transmission medium %q", string(cmd.Transmission)))
	}
}

// --- put / transmit-and-display ----------------------------------------

func (s *Store) handlePut(cmd *Command, res *CommandResult) {
	img := s.Image(cmd.ImageID)
	if img == nil && cmd.ImageNumber != 0 {
		img = s.ImageByNumber(cmd.ImageNumber)
	}
	if img == nil {
		s.reportError(cmd, res, newProtoErr(ErrNoEnt, "image not found"))
		return
	}
	p := s.buildPlacementFromCommand(img, cmd)
	res.CreatePlaceholder = &Placeholder{
		ImageID: img.ImageID, PlacementID: p.PlacementID,
		Rows: p.Rows, Cols: p.Cols, DoNotMoveCursor: p.DoNotMoveCursor,
	}
	res.Redraw = true
	s.reportSuccess(cmd, res)
}

func (s *Store) handleTransmitAndDisplay(cmd *Command, res *CommandResult) {
	s.handleTransmit(cmd, res)
	if res.Response != "" && strings.Contains(res.Response, ";E") {
		return // transmit failed; don't also create a placement
	}
	img := s.Image(cmd.ImageID)
	if img == nil {
		return
	}

	idx := img.LastFrameIndex()
	f := img.Frame(idx)
	if f == nil || f.Status < StatusUploadSuccess {
		// Upload is still chunking; defer placement creation until the
		// frame actually finishes, per spec.md §4.I's "if the frame is
		// the first, creates all placement placeholders previously
		// registered by put commands".
		s.pendingDisplayCmd = cmd
		return
	}

	p := s.buildPlacementFromCommand(img, cmd)
	img.InitialPlacementID = p.PlacementID
	res.CreatePlaceholder = &Placeholder{
		ImageID: img.ImageID, PlacementID: p.PlacementID,
		Rows: p.Rows, Cols: p.Cols, DoNotMoveCursor: p.DoNotMoveCursor,
	}
	res.Redraw = true
	s.reportSuccess(cmd, res)
}

func (s *Store) buildPlacementFromCommand(img *Image, cmd *Command) *Placement {
	p := s.NewPlacement(img, cmd.PlacementID)
	cmd.PlacementID = p.PlacementID
	p.Virtual = cmd.KeyU != 0
	p.DoNotMoveCursor = cmd.KeyCUpper != 0
	p.Cols = cmd.KeyC
	p.Rows = cmd.KeyR
	p.SrcRect = Rect{X: cmd.KeyX, Y: cmd.KeyY}
	p.ScaleMode = defaultScaleMode(p.Virtual, cmd.HaveCols(), cmd.HaveRows())
	s.InferPlacementSize(img, p, s.drawingCW, s.drawingCH)
	return p
}

// --- delete --------------------------------------------------------------

func (s *Store) handleDelete(cmd *Command, res *CommandResult) {
	spec := cmd.Delete
	if spec == 0 {
		spec = 'a'
	}
	deleteImageToo := spec >= 'A' && spec <= 'Z'
	lower := spec
	if deleteImageToo {
		lower = spec - 'A' + 'a'
	}

	switch lower {
	case 'a':
		s.deleteAllVisiblePlacements(deleteImageToo)
	case 'i':
		img := s.Image(cmd.ImageID)
		if img == nil {
			return
		}
		if cmd.PlacementID != 0 {
			s.DeletePlacement(img, cmd.PlacementID, "delete command")
		} else {
			for id := range img.Placements {
				s.DeletePlacement(img, id, "delete command")
			}
		}
		if deleteImageToo && len(img.Placements) == 0 {
			s.DeleteImage(img.ImageID, "delete command")
		}
	case 'n':
		if img := s.ImageByNumber(cmd.ImageNumber); img != nil {
			if cmd.PlacementID != 0 {
				s.DeletePlacement(img, cmd.PlacementID, "delete command")
			} else {
				for id := range img.Placements {
					s.DeletePlacement(img, id, "delete command")
				}
			}
			if deleteImageToo && len(img.Placements) == 0 {
				s.DeleteImage(img.ImageID, "delete command")
			}
		}
	default:
		Logger.Printf("graphics: unknown delete specifier %q, ignored", string(spec))
	}
	res.Redraw = true
}

func (s *Store) deleteAllVisiblePlacements(deleteImageToo bool) {
	for _, img := range s.AllImages() {
		for id, p := range img.Placements {
			if p.Virtual {
				continue // classic placements only, not Unicode-placeholder-driven
			}
			s.DeletePlacement(img, id, "delete all")
		}
		if deleteImageToo && len(img.Placements) == 0 {
			s.DeleteImage(img.ImageID, "delete all")
		}
	}
}

// --- animation control ----------------------------------------------------

func (s *Store) handleAnimationControl(cmd *Command, res *CommandResult) {
	img := s.Image(cmd.ImageID)
	if img == nil {
		s.reportError(cmd, res, newProtoErr(ErrNoEnt, "image %d not found", cmd.ImageID))
		return
	}
	if cmd.KeyR > 0 {
		if f := img.Frame(cmd.KeyR); f != nil {
			oldGap := f.GapMs
			f.GapMs = cmd.KeyZ
			AddFrameGap(img, oldGap, f.GapMs)
		}
	}
	if cmd.KeyC > 0 {
		img.CurrentFrame = cmd.KeyC
		img.CurrentFrameTime = time.Now()
	}
	switch cmd.KeyS {
	case 1:
		img.AnimationState = AnimationStopped
	case 2:
		img.AnimationState = AnimationLoading
	case 3:
		img.AnimationState = AnimationLooping
	}
	img.Loops = cmd.KeyV
	res.Redraw = true
	s.reportSuccess(cmd, res)
}
