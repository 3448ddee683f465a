// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: graphics/parser.go
// Summary: Tokenises "key=value,...;payload" command strings into a typed Command (component H).

package graphics

import (
	"strconv"
	"strings"
)

const maxCommandKeys = 32

// Command is the parsed form of one wire command. Several fields are
// polysemous: their meaning depends on Action, per the table in
// spec.md §4.H. Dispatcher code interprets them; the parser only
// populates them by wire key.
type Command struct {
	Action    byte // 'a' key, defaults to 't' if omitted
	HasAction bool // true iff a= was present on the wire

	ImageID      uint32 // i=
	ImageNumber  uint32 // I=
	PlacementID  uint32 // p=
	Quiet        int    // q=
	More         int    // m=
	HasMore      bool   // true iff m= was present on the wire
	ExpectedSize int64  // S=
	Transmission byte   // t=
	Compression  byte   // o=
	Format       int    // f=
	Delete       byte   // d=

	KeyS      int  // s= : frame data width (f) | animation state (a)
	KeyV      int  // v= : frame data height (f) | loops (a)
	KeyC      int  // c= : background frame (f) | current frame (a) | columns (p/T)
	KeyR      int  // r= : edit-frame index (f/a) | rows (p/T)
	KeyX      int  // x= : paste offset x (f) | src rect x (p/T)
	KeyY      int  // y= : paste offset y (f) | src rect y (p/T)
	KeyZ      int  // z= : gap ms (f/a)
	KeyXUpper int  // X= : replace flag / bg color high bits (f)
	KeyYUpper int  // Y= : bg color low bits (f)
	KeyU      int  // U= : virtual placement (p/T)
	KeyCUpper int  // C= : do-not-move-cursor (p/T)
	haveC     bool // whether c= was present, for rows/cols-unset detection
	haveR     bool

	Payload []byte // raw base64-decoded bytes after ';'

	Errors []*ProtocolError
}

// HaveCols reports whether c= was supplied (put/transmit-and-display
// columns).
func (c *Command) HaveCols() bool { return c.haveC }

// HaveRows reports whether r= was supplied (put/transmit-and-display
// rows).
func (c *Command) HaveRows() bool { return c.haveR }

func (c *Command) addError(kind ErrorKind, format string, args ...interface{}) {
	c.Errors = append(c.Errors, newProtoErr(kind, format, args...))
}

// ParseCommand tokenizes the body of a graphics escape sequence (the part
// between "G" and the terminator, i.e. "key=value,...[;payload]"). It
// never returns a nil Command: malformed keys are recorded in
// Command.Errors so the dispatcher can report EINVAL while still acting
// on whatever was parsed successfully.
func ParseCommand(raw string) *Command {
	header := raw
	var payloadStr string
	if idx := strings.IndexByte(raw, ';'); idx >= 0 {
		header = raw[:idx]
		payloadStr = raw[idx+1:]
	}

	cmd := &Command{Action: 't'}

	pairs := strings.Split(header, ",")
	if len(pairs) > maxCommandKeys {
		cmd.addError(ErrInval, "too many keys (%d)", len(pairs))
		pairs = pairs[:maxCommandKeys]
	}

	// First pass: a=, i=, I= so per-key parsing below can disambiguate
	// polysemous keys by action.
	for _, kv := range pairs {
		k, v, ok := splitKV(kv)
		if !ok {
			continue
		}
		switch k {
		case "a":
			if len(v) != 1 {
				cmd.addError(ErrInval, "bad value for a=")
				continue
			}
			cmd.Action = v[0]
			cmd.HasAction = true
		case "i":
			id, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				cmd.addError(ErrInval, "bad value for i=")
				continue
			}
			cmd.ImageID = uint32(id)
		case "I":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				cmd.addError(ErrInval, "bad value for I=")
				continue
			}
			cmd.ImageNumber = uint32(n)
		}
	}

	for _, kv := range pairs {
		k, v, ok := splitKV(kv)
		if !ok {
			cmd.addError(ErrInval, "malformed key/value %q", kv)
			continue
		}
		if k == "a" || k == "i" || k == "I" {
			continue // handled in first pass
		}
		cmd.setKeyValue(k, v)
	}

	if payloadStr != "" {
		cmd.Payload = Base64Decode([]byte(payloadStr))
	}

	return cmd
}

func splitKV(s string) (key, value string, ok bool) {
	idx := strings.IndexByte(s, '=')
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}

// setKeyValue assigns a single key, disambiguating polysemous keys by
// cmd.Action per the table in spec.md §4.H. Unknown keys fail the
// command (EINVAL) but parsing continues.
func (c *Command) setKeyValue(k, v string) {
	switch k {
	case "p":
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			c.addError(ErrInval, "bad value for p=")
			return
		}
		c.PlacementID = uint32(id)
	case "q":
		n, err := strconv.Atoi(v)
		if err != nil {
			c.addError(ErrInval, "bad value for q=")
			return
		}
		c.Quiet = n
	case "m":
		n, err := strconv.Atoi(v)
		if err != nil {
			c.addError(ErrInval, "bad value for m=")
			return
		}
		c.More = n
		c.HasMore = true
	case "S":
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.addError(ErrInval, "bad value for S=")
			return
		}
		c.ExpectedSize = n
	case "t":
		if len(v) != 1 {
			c.addError(ErrInval, "bad value for t=")
			return
		}
		c.Transmission = v[0]
	case "o":
		if len(v) != 1 {
			c.addError(ErrInval, "bad value for o=")
			return
		}
		c.Compression = v[0]
	case "f":
		n, err := strconv.Atoi(v)
		if err != nil {
			c.addError(ErrInval, "bad value for f=")
			return
		}
		c.Format = n
	case "d":
		if len(v) != 1 {
			c.addError(ErrInval, "bad value for d=")
			return
		}
		c.Delete = v[0]

	case "s":
		n, err := strconv.Atoi(v)
		if err != nil {
			c.addError(ErrInval, "bad value for s=")
			return
		}
		c.KeyS = n
	case "v":
		n, err := strconv.Atoi(v)
		if err != nil {
			c.addError(ErrInval, "bad value for v=")
			return
		}
		c.KeyV = n
	case "c":
		n, err := strconv.Atoi(v)
		if err != nil {
			c.addError(ErrInval, "bad value for c=")
			return
		}
		c.KeyC = n
		c.haveC = true
	case "r":
		n, err := strconv.Atoi(v)
		if err != nil {
			c.addError(ErrInval, "bad value for r=")
			return
		}
		c.KeyR = n
		c.haveR = true
	case "x":
		n, err := strconv.Atoi(v)
		if err != nil {
			c.addError(ErrInval, "bad value for x=")
			return
		}
		c.KeyX = n
	case "y":
		n, err := strconv.Atoi(v)
		if err != nil {
			c.addError(ErrInval, "bad value for y=")
			return
		}
		c.KeyY = n
	case "z":
		n, err := strconv.Atoi(v)
		if err != nil {
			c.addError(ErrInval, "bad value for z=")
			return
		}
		c.KeyZ = n
	case "X":
		n, err := strconv.Atoi(v)
		if err != nil {
			c.addError(ErrInval, "bad value for X=")
			return
		}
		c.KeyXUpper = n
	case "Y":
		n, err := strconv.Atoi(v)
		if err != nil {
			c.addError(ErrInval, "bad value for Y=")
			return
		}
		c.KeyYUpper = n
	case "U":
		n, err := strconv.Atoi(v)
		if err != nil {
			c.addError(ErrInval, "bad value for U=")
			return
		}
		c.KeyU = n
	case "C":
		n, err := strconv.Atoi(v)
		if err != nil {
			c.addError(ErrInval, "bad value for C=")
			return
		}
		c.KeyCUpper = n

	default:
		c.addError(ErrInval, "unknown key %q", k)
	}
}
