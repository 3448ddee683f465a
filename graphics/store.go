// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: graphics/store.go
// Summary: Owns Image/ImageFrame lifecycle, the cache directory, and the global byte counters (component C).

package graphics

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger is used for every mutating operation's one-line trace, the same
// texture as the rest of this codebase's log.Printf-at-decision-points
// convention. It defaults to the standard logger.
var Logger = log.Default()

// uploadHandle is the file kept open while a frame's status is
// StatusUploading.
type uploadHandle = *os.File

// Store is the process-wide singleton described in spec.md's Design Notes:
// images map, counters, cache dir, pending rects and per-row redraw state.
// An implementation encapsulates this in a single context object passed to
// every entry point; tests instantiate independent Stores.
type Store struct {
	mu sync.Mutex

	images map[uint32]*Image

	DiskBytes int64
	RamBytes  int64

	cacheDir   string
	initTime   time.Time
	nextCmdIdx int64

	Budgets Budgets

	DebugMode bool

	EvictionLog EvictionSink // optional, nil-safe

	rng *rand.Rand

	// drawing state, owned by rects.go
	pendingRects  []*ImageRect
	rowNextRedraw map[int]time.Time
	drawingStart  time.Time
	drawingCW     int
	drawingCH     int

	// direct-upload continuation state, owned by dispatcher.go
	activeUploadImage *Image
	activeUploadFrame *ImageFrame
	pendingDisplayCmd *Command

	// query-action bookkeeping: the internal image id never leaks to the
	// wire; responses are always keyed by queryRealID while a query
	// upload is chunking.
	queryInternalID uint32
	queryRealID     uint32
}

// EvictionSink receives a one-line record each time the eviction engine
// unloads an object or the dispatcher deletes an image/placement. Used by
// cachedb for an optional persisted audit trail; nil is a valid no-op sink.
type EvictionSink interface {
	RecordEviction(kind string, imageID, placementID uint32, reason string)
}

// NewStore creates an empty Store with default budgets and its own cache
// directory under os.TempDir(), mirroring the mkdtemp-style directory the
// original process created per spec.md §6.3.
func NewStore() (*Store, error) {
	dir, err := os.MkdirTemp("", "kittycore-cache-*")
	if err != nil {
		return nil, fmt.Errorf("graphics: create cache dir: %w", err)
	}
	s := &Store{
		images:        make(map[uint32]*Image),
		cacheDir:      dir,
		initTime:      time.Now(),
		Budgets:       DefaultBudgets(),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		rowNextRedraw: make(map[int]time.Time),
	}
	return s, nil
}

// Close removes the cache directory, the behavior the original performed
// at shutdown (spec.md §6.3).
func (s *Store) Close() error {
	s.mu.Lock()
	dir := s.cacheDir
	s.mu.Unlock()
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}

// ensureCacheDir recreates the cache directory if it vanished underneath
// us, re-checked before each upload per spec.md §5.
func (s *Store) ensureCacheDir() error {
	if _, err := os.Stat(s.cacheDir); err == nil {
		return nil
	}
	if err := os.MkdirAll(s.cacheDir, 0o700); err != nil {
		return fmt.Errorf("graphics: recreate cache dir: %w", err)
	}
	return nil
}

// openCacheFile opens a frame's on-disk data file for reading.
func openCacheFile(path string) (*os.File, error) {
	return os.Open(path)
}

func (s *Store) framePath(imageID uint32, frameIndex int) string {
	return filepath.Join(s.cacheDir, fmt.Sprintf("img-%03d-%03d", imageID, frameIndex))
}

func (s *Store) nextCommandIndex() int64 {
	s.nextCmdIdx++
	return s.nextCmdIdx
}

// randID32 generates a random 32-bit id whose low 24 bits have a non-zero
// middle byte, reserving ids needed for full 32-bit Unicode-placeholder
// color encoding, per spec.md's Design Notes.
func (s *Store) randID32() uint32 {
	for {
		id := s.rng.Uint32()
		if id == 0 {
			continue
		}
		if (id & 0x0000FF00) == 0 {
			continue
		}
		if _, exists := s.images[id]; exists {
			continue
		}
		return id
	}
}

// randID24 generates a random 24-bit id (placement ids) whose middle byte
// is non-zero, colliding against an arbitrary existing-id predicate.
func (s *Store) randID24(exists func(uint32) bool) uint32 {
	for {
		id := s.rng.Uint32() & 0x00FFFFFF
		if id == 0 {
			continue
		}
		if (id & 0x0000FF00) == 0 {
			continue
		}
		if exists(id) {
			continue
		}
		return id
	}
}

// NewImage creates and registers a new Image. If id is 0 a random id is
// generated. If an image with id already exists, it is deleted first.
func (s *Store) NewImage(id uint32) *Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newImageLocked(id)
}

func (s *Store) newImageLocked(id uint32) *Image {
	if id == 0 {
		id = s.randID32()
	} else if _, exists := s.images[id]; exists {
		s.deleteImageLocked(id, "recreated")
	}
	img := newImage(id)
	img.Atime = time.Now()
	img.GlobalCommandIndex = s.nextCommandIndex()
	s.images[id] = img
	Logger.Printf("graphics: new image id=%d", id)
	return img
}

// Image looks up an image by id.
func (s *Store) Image(id uint32) *Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.images[id]
}

// ImageByNumber returns the image with the highest GlobalCommandIndex
// among all images carrying the given image_number, per the disambiguation
// rule in spec.md §3.
func (s *Store) ImageByNumber(number uint32) *Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *Image
	for _, img := range s.images {
		if img.ImageNumber != number {
			continue
		}
		if best == nil || img.GlobalCommandIndex > best.GlobalCommandIndex {
			best = img
		}
	}
	return best
}

// AllImages returns a snapshot slice of every live image, used by
// dump.go and the eviction/animation passes.
func (s *Store) AllImages() []*Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Image, 0, len(s.images))
	for _, img := range s.images {
		out = append(out, img)
	}
	return out
}

// DeleteImage removes an image, its frames, its placements, its disk
// files and its decoded bitmaps, and retires its contribution to the
// global counters.
func (s *Store) DeleteImage(id uint32, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteImageLocked(id, reason)
}

func (s *Store) deleteImageLocked(id uint32, reason string) {
	img, ok := s.images[id]
	if !ok {
		return
	}
	delete(s.images, id) // null the owning entry before freeing descendants
	for _, ph := range img.Placements {
		s.freePlacementPixmapsLocked(ph)
	}
	for _, f := range img.Frames {
		s.freeFrameLocked(img, f)
	}
	if s.EvictionLog != nil {
		s.EvictionLog.RecordEviction("image", id, 0, reason)
	}
	Logger.Printf("graphics: deleted image id=%d reason=%s", id, reason)
}

// freeFrameLocked removes a frame's disk file and decoded bitmap and
// retires its contribution to DiskBytes/RamBytes. It does not remove the
// frame from img.Frames; callers either delete the whole image (slice
// dropped with it) or are replacing the frame in place.
func (s *Store) freeFrameLocked(img *Image, f *ImageFrame) {
	if f.DiskPath != "" {
		os.Remove(f.DiskPath)
	}
	s.DiskBytes -= f.DiskSize
	img.TotalDiskSize -= f.DiskSize
	f.DiskSize = 0
	f.DiskPath = ""
	if f.DecodedBitmap != nil {
		s.RamBytes -= int64(f.DecodedBitmap.Bytes())
		f.DecodedBitmap = nil
		f.Status = StatusUploadSuccess
	}
}

func (s *Store) freePlacementPixmapsLocked(p *Placement) {
	for idx := range p.pixmaps {
		s.freePlacementPixmapLocked(p, idx, "image deleted")
	}
}

// AppendFrame appends a new frame to img and returns it. O(1); the first
// frame populates the image's canonical dimensions once decoded.
func (s *Store) AppendFrame(img *Image, quiet int) *ImageFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := &ImageFrame{index: len(img.Frames) + 1, Atime: time.Now(), Quiet: quiet}
	img.Frames = append(img.Frames, f)
	return f
}

// TouchFrame bumps a frame's atime and propagates it to the owning image.
func (s *Store) TouchFrame(img *Image, f *ImageFrame) {
	now := time.Now()
	f.Atime = now
	img.Atime = now
}

// TouchPlacement bumps a placement's atime and propagates it to the
// owning image.
func (s *Store) TouchPlacement(img *Image, p *Placement) {
	now := time.Now()
	p.Atime = now
	img.Atime = now
}

// AddFrameGap folds a frame's gap into the image's TotalDuration,
// treating negative (gapless) gaps as zero for the running sum, per
// invariant P3.
func AddFrameGap(img *Image, oldGap, newGap int) {
	img.TotalDuration -= int64(maxInt(0, oldGap))
	img.TotalDuration += int64(maxInt(0, newGap))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// recordDiskWrite grows both the frame's and the running global disk
// counters by delta bytes, maintaining invariants P1/P2.
func (s *Store) recordDiskWrite(img *Image, f *ImageFrame, delta int64) {
	f.DiskSize += delta
	img.TotalDiskSize += delta
	s.DiskBytes += delta
}
