// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: cmd/kittycore-demo/main.go
// Summary: End-to-end smoke test: generates an image, round-trips its upload through a pty, and paints it via surfacetcell.

package main

import (
	"bytes"
	"encoding/base64"
	"flag"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/creack/pty"
	"github.com/gdamore/tcell/v2"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/framegrace/texelation/cachedb"
	"github.com/framegrace/texelation/config"
	"github.com/framegrace/texelation/graphics"
	"github.com/framegrace/texelation/surfacetcell"
)

const apcChunkSize = 4096

func main() {
	shellCmd := flag.String("pty-cmd", "stty raw -echo; cat", "shell command run inside the pty the upload is echoed through")
	flag.Parse()

	cellW, cellH := probeCellSize()

	cfg := config.App("kittycore")
	budgets := graphics.LoadBudgets(cfg)

	store, err := graphics.NewStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "kittycore-demo: new store: %v\n", err)
		os.Exit(1)
	}
	store.Budgets = budgets
	defer store.Close()

	logPath := filepath.Join(os.TempDir(), "kittycore-demo-evictions.db")
	evictionLog, err := cachedb.Open(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kittycore-demo: eviction log: %v\n", err)
		os.Exit(1)
	}
	defer evictionLog.Close()
	store.EvictionLog = evictionLog

	screen, err := tcell.NewScreen()
	if err != nil {
		fmt.Fprintf(os.Stderr, "kittycore-demo: new screen: %v\n", err)
		os.Exit(1)
	}
	if err := screen.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "kittycore-demo: init screen: %v\n", err)
		os.Exit(1)
	}
	defer screen.Fini()

	cols, rows := screen.Size()
	surface := surfacetcell.New(screen, cellW, cellH)
	surface.Resize(cols, rows)

	apc := encodeTransmitAndDisplay(generateTestPattern(160, 120), 20, 10)

	// StartDrawing must run before the upload is dispatched: placement
	// sizing is inferred against the cell geometry it records.
	store.StartDrawing(cellW, cellH)

	placeholder, err := roundTripThroughPty(*shellCmd, apc, store, surface)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kittycore-demo: %v\n", err)
		os.Exit(1)
	}
	if placeholder == nil {
		fmt.Fprintln(os.Stderr, "kittycore-demo: upload never produced a placement")
		os.Exit(1)
	}

	originCol, originRow := 2, 1
	store.AppendImageRect(surface, placeholder.ImageID, placeholder.PlacementID,
		0, placeholder.Cols, 0, placeholder.Rows,
		originCol*cellW, originRow*cellH, cellW, cellH, false)
	stats := store.FinishDrawing(surface)
	surface.Render()

	banner := fmt.Sprintf(" kittycore-demo: %dx%d image, %d bytes ram, %d bytes disk — press any key to exit ",
		placeholder.Cols, placeholder.Rows, stats.RAMBytes, stats.DiskBytes)
	for i, r := range banner {
		screen.SetContent(i, rows-1, r, nil, tcell.StyleDefault.Reverse(true))
	}
	screen.Show()

	screen.PollEvent()
}

// probeCellSize divides the terminal's pixel geometry by its character
// geometry to get a cell's pixel size. The character geometry comes from
// term.GetSize (the terminal-size probe a real host would also use to
// size its grid); the pixel geometry needs the fuller TIOCGWINSZ ioctl,
// which term.GetSize doesn't expose. Falls back to a conservative
// default when either probe fails or pixel fields are unreported.
func probeCellSize() (cellW, cellH int) {
	cols, rows, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || cols == 0 || rows == 0 {
		return 9, 18
	}
	ws, err := unix.IoctlGetWinsize(int(os.Stdout.Fd()), unix.TIOCGWINSZ)
	if err != nil || ws.Xpixel == 0 || ws.Ypixel == 0 {
		return 9, 18
	}
	return int(ws.Xpixel) / cols, int(ws.Ypixel) / rows
}

// generateTestPattern draws a simple diagonal gradient so the demo has
// something visibly non-trivial to push through the upload path.
func generateTestPattern(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(255 * x / w),
				G: uint8(255 * y / h),
				B: uint8(255 - 255*x/w),
				A: 255,
			})
		}
	}
	return img
}

// encodeTransmitAndDisplay builds the escape-sequence body chunks (sans
// APC envelope, matching HandleCommand's expected input) for a
// transmit-and-display of img at cols x rows cells.
func encodeTransmitAndDisplay(img *image.RGBA, cols, rows int) []string {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	b64 := base64.StdEncoding.EncodeToString(img.Pix)

	var chunks []string
	for i := 0; i < len(b64); i += apcChunkSize {
		end := i + apcChunkSize
		if end > len(b64) {
			end = len(b64)
		}
		more := 0
		if end < len(b64) {
			more = 1
		}
		if i == 0 {
			chunks = append(chunks, fmt.Sprintf("a=T,f=32,s=%d,v=%d,c=%d,r=%d,m=%d;%s", w, h, cols, rows, more, b64[i:end]))
		} else {
			chunks = append(chunks, fmt.Sprintf("m=%d;%s", more, b64[i:end]))
		}
	}
	return chunks
}

// roundTripThroughPty writes each APC body to a pty running shellName
// (wrapped in the escape envelope a real terminal emitter would use),
// reads the echoed bytes back, and re-extracts the bodies to dispatch
// against store, exercising the same framing a host terminal would see
// on its read side rather than calling HandleCommand directly in-process.
func roundTripThroughPty(shellCmd string, bodies []string, store *graphics.Store, surface graphics.Surface) (*graphics.Placeholder, error) {
	cmd := exec.Command("sh", "-c", shellCmd)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}
	defer func() {
		ptmx.Close()
		cmd.Process.Kill()
		cmd.Wait()
	}()

	go func() {
		for _, body := range bodies {
			fmt.Fprintf(ptmx, "\x1b_G%s\x1b\\", body)
		}
	}()

	var placeholder *graphics.Placeholder
	var pending bytes.Buffer
	buf := make([]byte, 65536)
	deadline := time.Now().Add(5 * time.Second)
	want := len(bodies)
	dispatched := 0

	for dispatched < want {
		ptmx.SetReadDeadline(deadline)
		n, err := ptmx.Read(buf)
		if n > 0 {
			pending.Write(buf[:n])
			for {
				body, rest, ok := extractAPCBody(pending.Bytes())
				if !ok {
					break
				}
				pending.Reset()
				pending.Write(rest)

				res := store.HandleCommand(string(body), surface)
				dispatched++
				if res.CreatePlaceholder != nil {
					placeholder = res.CreatePlaceholder
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return placeholder, fmt.Errorf("read from pty: %w", err)
		}
		if time.Now().After(deadline) {
			return placeholder, fmt.Errorf("timed out waiting for pty echo")
		}
	}
	return placeholder, nil
}

// extractAPCBody finds the first complete "\x1b_G...\x1b\\" sequence in
// buf and returns its inner body along with whatever bytes follow it.
func extractAPCBody(buf []byte) (body []byte, rest []byte, ok bool) {
	start := bytes.Index(buf, []byte("\x1b_G"))
	if start < 0 {
		return nil, buf, false
	}
	end := bytes.Index(buf[start:], []byte("\x1b\\"))
	if end < 0 {
		return nil, buf, false
	}
	bodyStart := start + len("\x1b_G")
	bodyEnd := start + end
	return buf[bodyStart:bodyEnd], buf[bodyEnd+2:], true
}
