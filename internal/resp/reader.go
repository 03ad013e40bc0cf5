/*
   Copyright (C) 2012  Casey Marshall <casey.marshall@gmail.com>

   This program is free software: you can redistribute it and/or modify
   it under the terms of the GNU Affero General Public License as published by
   the Free Software Foundation, version 3.

   This program is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
   GNU Affero General Public License for more details.

   You should have received a copy of the GNU Affero General Public License
   along with this program.  If not, see <http://www.gnu.org/licenses/>.
*/

package resp

import (
	"bytes"
	"strconv"

	"gopkg.in/errgo.v1"
)

// MaxDepth bounds how many Arrays may nest inside one another. A top-level
// Array is depth 1; an Array eight levels deep is the deepest value this
// reader accepts, a ninth level is a protocol error.
const MaxDepth = 8

// MaxBulkLen is the largest bulk string body this reader accepts, 512MiB.
const MaxBulkLen = 512 * 1024 * 1024

// ErrProtocol is the cause of every malformed-input error this package
// returns; match it with errgo.Cause to tell protocol violations apart from
// I/O failures higher up the stack.
var ErrProtocol = errgo.New("resp: protocol error")

func protoErrorf(format string, args ...interface{}) error {
	return errgo.WithCausef(nil, ErrProtocol, format, args...)
}

var crlf = []byte("\r\n")

// frame tracks one value under construction. An Array frame stays on the
// stack, buried under its children, until its last element attaches; a
// leaf frame stays on top until its line or body is complete, which may
// take several Next calls.
type frame struct {
	typeKnown bool
	typ       byte

	lenKnown bool // true once the '$'/'*' length line has been consumed
	length   int  // bulk body length, or array element count
	null     bool

	node   *Reply   // the Array node under construction
	filled int      // elements attached so far
}

// Reader incrementally parses RESP values out of a Buffer. State persists
// across calls so a value split across multiple socket reads resumes where
// it left off instead of being re-parsed from the first byte every time the
// caller has more data.
type Reader struct {
	stack      []frame
	arrayDepth int // count of in-progress (pushed-child) Array frames
}

// NewReader returns a Reader ready to parse values as bytes arrive.
func NewReader() *Reader {
	return &Reader{stack: []frame{{}}}
}

// Next attempts to parse one complete top-level reply out of buf. It
// returns (nil, nil) if buf does not yet hold a complete value — the caller
// should Write more bytes and call Next again. A non-nil error is always
// caused by ErrProtocol; the Reader must not be reused afterward.
func (r *Reader) Next(buf *Buffer) (*Reply, error) {
	if len(r.stack) == 0 {
		r.stack = append(r.stack, frame{})
	}

	for {
		top := &r.stack[len(r.stack)-1]

		if !top.typeKnown {
			b := buf.Unread()
			if len(b) < 1 {
				return nil, nil
			}
			switch b[0] {
			case '+', '-', ':', '$', '*':
				top.typ = b[0]
			default:
				return nil, protoErrorf("unexpected type byte %q", b[0])
			}
			top.typeKnown = true
			buf.Advance(1)
		}

		var produced *Reply
		switch top.typ {
		case '+', '-', ':':
			line, ok, err := readLine(buf)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, nil
			}
			if top.typ == ':' {
				n, err := parseInt(line)
				if err != nil {
					return nil, err
				}
				produced = NewInteger(n)
			} else if top.typ == '+' {
				produced = NewSimpleString(string(line))
			} else {
				produced = NewError(string(line))
			}

		case '$':
			if !top.lenKnown {
				line, ok, err := readLine(buf)
				if err != nil {
					return nil, err
				}
				if !ok {
					return nil, nil
				}
				n, err := parseInt(line)
				if err != nil {
					return nil, err
				}
				switch {
				case n == -1:
					top.null = true
				case n < 0:
					return nil, protoErrorf("negative bulk length %d", n)
				case n > MaxBulkLen:
					return nil, protoErrorf("bulk length %d exceeds limit", n)
				default:
					top.length = int(n)
				}
				top.lenKnown = true
			}
			if top.null {
				produced = NewNilBulkString()
			} else {
				need := top.length + 2
				b := buf.Unread()
				if len(b) < need {
					return nil, nil
				}
				if b[top.length] != '\r' || b[top.length+1] != '\n' {
					return nil, protoErrorf("bulk string missing terminating CRLF")
				}
				body := make([]byte, top.length)
				copy(body, b[:top.length])
				buf.Advance(need)
				produced = NewBulkString(body)
			}

		case '*':
			if !top.lenKnown {
				line, ok, err := readLine(buf)
				if err != nil {
					return nil, err
				}
				if !ok {
					return nil, nil
				}
				n, err := parseInt(line)
				if err != nil {
					return nil, err
				}
				switch {
				case n == -1:
					top.null = true
				case n < 0:
					return nil, protoErrorf("negative array length %d", n)
				default:
					top.length = int(n)
				}
				top.lenKnown = true
			}
			switch {
			case top.null:
				produced = NewNilArray()
			case top.length == 0:
				produced = NewArray()
			default:
				// Non-empty array: create the node on first visit and
				// push a frame for the next unfilled element. This
				// frame stays buried under its children until the last
				// one attaches, so this branch runs at most once per
				// array (when top.node == nil).
				if r.arrayDepth+1 > MaxDepth {
					return nil, protoErrorf("array nesting exceeds %d levels", MaxDepth)
				}
				r.arrayDepth++
				top.node = &Reply{Kind: Array, Elems: make([]*Reply, top.length)}
				r.stack = append(r.stack, frame{})
				continue
			}
		}

		// produced holds a completed value; attach it to the parent
		// array, repeating while attaching completes an ancestor array
		// too.
		r.stack = r.stack[:len(r.stack)-1]
		for len(r.stack) > 0 {
			parent := &r.stack[len(r.stack)-1]
			parent.node.Elems[parent.filled] = produced
			parent.filled++
			if parent.filled < len(parent.node.Elems) {
				r.stack = append(r.stack, frame{})
				break
			}
			produced = parent.node
			r.arrayDepth--
			r.stack = r.stack[:len(r.stack)-1]
		}
		if len(r.stack) == 0 {
			return produced, nil
		}
	}
}

// readLine consumes a CRLF-terminated line from buf's unread bytes,
// returning (line, true, nil) and advancing past it, or (nil, false, nil)
// if no full line is present yet.
func readLine(buf *Buffer) ([]byte, bool, error) {
	b := buf.Unread()
	idx := bytes.Index(b, crlf)
	if idx < 0 {
		if len(b) > 64*1024 {
			return nil, false, protoErrorf("line exceeds maximum length without CRLF")
		}
		return nil, false, nil
	}
	line := make([]byte, idx)
	copy(line, b[:idx])
	buf.Advance(idx + 2)
	return line, true, nil
}

func parseInt(line []byte) (int64, error) {
	n, err := strconv.ParseInt(string(line), 10, 64)
	if err != nil {
		return 0, protoErrorf("invalid integer %q", line)
	}
	return n, nil
}
