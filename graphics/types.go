// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: graphics/types.go
// Summary: Data model for images, frames, placements and draw rectangles.

package graphics

import "time"

// ScaleMode controls how a placement's source rectangle is fit into its
// cell extent.
type ScaleMode int

const (
	ScaleUnset ScaleMode = iota
	ScaleFill
	ScaleContain
	ScaleNone
	ScaleNoneOrContain
)

func (m ScaleMode) String() string {
	switch m {
	case ScaleFill:
		return "fill"
	case ScaleContain:
		return "contain"
	case ScaleNone:
		return "none"
	case ScaleNoneOrContain:
		return "none-or-contain"
	default:
		return "unset"
	}
}

// AnimationState is the per-image animation mode.
type AnimationState int

const (
	AnimationUnset AnimationState = iota
	AnimationStopped
	AnimationLoading
	AnimationLooping
)

// FrameStatus tracks an ImageFrame through upload and decode.
type FrameStatus int

const (
	StatusUninitialized FrameStatus = iota
	StatusUploading
	StatusUploadError
	StatusUploadSuccess
	StatusRAMLoadingInProgress
	StatusRAMLoadingError
	StatusRAMLoadingSuccess
)

// imageStatusStrings mirrors the original implementation's debug string
// table, which is one entry shorter than the FrameStatus enum. Indexing it
// with StatusRAMLoadingSuccess therefore panics in the original and is
// guarded here rather than silently padded; see SPEC_FULL.md §6.
var imageStatusStrings = []string{
	"uninitialized",
	"uploading",
	"upload error",
	"upload success",
	"ram loading in progress",
	"ram loading error",
	// NOTE: "ram loading success" deliberately omitted; upstream quirk.
}

// String renders a FrameStatus for logging, reproducing the upstream
// off-by-one: StatusRAMLoadingSuccess falls through to "?" rather than
// indexing out of range.
func (s FrameStatus) String() string {
	i := int(s)
	if i >= 0 && i < len(imageStatusStrings) {
		return imageStatusStrings[i]
	}
	return "?"
}

// UploadingFailure records why a direct or file transmission failed.
type UploadingFailure int

const (
	FailureNone UploadingFailure = iota
	FailureOverSizeLimit
	FailureCannotOpenCache
	FailureUnexpectedSize
	FailureCannotCopyFile
)

// PixelFormat is the declared pixel layout of raw frame data.
type PixelFormat int

const (
	FormatAuto PixelFormat = iota // decoder-detected container format
	FormatRaw24
	FormatRaw32
	FormatDecoderOnly
)

// Compression is the declared compression of raw frame data.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionZlib
)

// CompositeOp selects how a pixmap is blitted onto the output surface.
type CompositeOp int

const (
	OpOver CompositeOp = iota
	OpSrc
)

// PixmapHandle is an opaque surface-side resource returned by a Surface
// implementation.
type PixmapHandle interface{}

// Rect is an integer pixel or cell rectangle, origin top-left.
type Rect struct {
	X, Y, W, H int
}

// ARGBBuffer is a packed little-endian 0xAARRGGBB pixel buffer.
type ARGBBuffer struct {
	Pix    []byte // 4 bytes per pixel
	Width  int
	Height int
}

func NewARGBBuffer(w, h int) *ARGBBuffer {
	return &ARGBBuffer{Pix: make([]byte, w*h*4), Width: w, Height: h}
}

func (b *ARGBBuffer) Bytes() int { return len(b.Pix) }

// ImageFrame is a single uploaded or composed frame belonging to an Image.
type ImageFrame struct {
	index int // 1-based position within Image.Frames

	Atime time.Time

	GapMs         int // 0 => default, negative => gapless
	ExpectedSize  int64
	Format        PixelFormat
	Compression   Compression
	DataPixWidth  int
	DataPixHeight int
	OffsetX       int
	OffsetY       int

	BackgroundColor       uint32 // 0xRRGGBBAA, 0 if unused
	BackgroundFrameIndex  int    // 1-based, 0 => use BackgroundColor
	Blend                 bool

	Status            FrameStatus
	UploadingFailure  UploadingFailure
	Quiet             int

	DiskSize         int64
	DiskPath         string
	openUploadHandle uploadHandle // non-nil only while Status == StatusUploading

	DecodedBitmap *ARGBBuffer // present iff Status == StatusRAMLoadingSuccess

	loops int // unused; the animation-control loop count is kept in Image.Loops
}

// Index returns the frame's 1-based position within its owning Image.
func (f *ImageFrame) Index() int { return f.index }

// Placement is a declaration that an Image should be displayed at some
// cell extent.
type Placement struct {
	PlacementID uint32
	Atime       time.Time

	Virtual          bool
	ScaleMode        ScaleMode
	Rows, Cols       int
	SrcRect          Rect // clipped to image bounds; zero W/H means full image
	DoNotMoveCursor  bool

	ScaledCellW, ScaledCellH int // cell size pixmaps were built for; 0 => none built

	pixmaps map[int]PixmapHandle // frame index -> pixmap

	ProtectedFrame int // transient: frame index whose pixmap must survive this eviction pass

	image *Image
}

func newPlacement(id uint32, img *Image) *Placement {
	return &Placement{
		PlacementID: id,
		pixmaps:     make(map[int]PixmapHandle),
		image:       img,
	}
}

// Pixmap returns the cached pixmap for a frame index, or nil.
func (p *Placement) Pixmap(frameIndex int) PixmapHandle {
	return p.pixmaps[frameIndex]
}

func (p *Placement) setPixmap(frameIndex int, h PixmapHandle) {
	p.pixmaps[frameIndex] = h
}

func (p *Placement) clearPixmap(frameIndex int) {
	delete(p.pixmaps, frameIndex)
}

// pixmapFrameIndices returns the set of frame indices with a live pixmap,
// in unspecified order.
func (p *Placement) pixmapFrameIndices() []int {
	out := make([]int, 0, len(p.pixmaps))
	for idx := range p.pixmaps {
		out = append(out, idx)
	}
	return out
}

// Image is the top-level cached object keyed by a non-zero 32-bit id.
type Image struct {
	ImageID      uint32
	ImageNumber  uint32
	QueryID      uint32 // non-zero only for query-action images

	Atime time.Time

	PixWidth, PixHeight int // canonical size, set by the first decoded frame

	CurrentFrame     int // 1-based, 0 => uninitialised
	CurrentFrameTime time.Time
	NextRedraw       time.Time
	LastRedraw       time.Time

	AnimationState AnimationState
	Loops          int // reserved; never consulted by advance()

	TotalDuration  int64 // milliseconds, sum of frame gaps (negatives as 0)
	TotalDiskSize  int64

	Frames []*ImageFrame

	Placements          map[uint32]*Placement
	DefaultPlacementID  uint32
	InitialPlacementID  uint32

	GlobalCommandIndex int64
}

func newImage(id uint32) *Image {
	return &Image{
		ImageID:    id,
		Placements: make(map[uint32]*Placement),
	}
}

// Frame returns the frame at the given 1-based index, or nil.
func (img *Image) Frame(index int) *ImageFrame {
	if index < 1 || index > len(img.Frames) {
		return nil
	}
	return img.Frames[index-1]
}

// LastFrameIndex returns the index of the last appended frame, 0 if none.
func (img *Image) LastFrameIndex() int { return len(img.Frames) }

// LastUploadedFrameIndex returns the last frame index whose status has
// reached at least StatusUploadSuccess, excluding a trailing in-progress
// frame. Returns 0 if no frame qualifies.
func (img *Image) LastUploadedFrameIndex() int {
	for i := len(img.Frames); i >= 1; i-- {
		if img.Frames[i-1].Status >= StatusUploadSuccess {
			return i
		}
	}
	return 0
}

// ImageRect is an ephemeral per-draw-cycle pending rectangle. At most
// maxPendingRects are held at once; see rects.go.
type ImageRect struct {
	ImageID     uint32
	PlacementID uint32

	StartCol, EndCol int
	StartRow, EndRow int

	ScreenXPix, ScreenYPix int

	CellW, CellH int

	Reverse bool
}

const maxPendingRects = 20
