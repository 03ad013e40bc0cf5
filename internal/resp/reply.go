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

// Package resp implements the RESP (REdis Serialization Protocol) reply
// tree and the incremental reader/writer that move it on and off the wire.
//
// The reply tree mirrors the tagged union described for the proxy's data
// model: SimpleString, Error, Integer, BulkString (nilable) and Array
// (nilable, owning its children). Unlike the C original this proxy is
// distilled from, nodes are ordinary garbage-collected values — a reply
// shared between a pending command and an error fan-out (see
// internal/proxylink) is simply the same *Reply pointer held by more than
// one owner, which Go's GC already tracks correctly. No manual refcounting
// is needed or attempted.
package resp

import "fmt"

// Kind identifies which RESP variant a Reply holds.
type Kind uint8

const (
	SimpleString Kind = iota
	ErrorReply
	Integer
	BulkString
	Array
)

func (k Kind) String() string {
	switch k {
	case SimpleString:
		return "SimpleString"
	case ErrorReply:
		return "Error"
	case Integer:
		return "Integer"
	case BulkString:
		return "BulkString"
	case Array:
		return "Array"
	default:
		return "Unknown"
	}
}

// Reply is one node of a reply tree. Arrays own their children exclusively.
type Reply struct {
	Kind Kind

	// Str holds the payload for SimpleString, Error and non-nil BulkString.
	Str []byte

	// Int holds the payload for Integer.
	Int int64

	// Elems holds the children for a non-nil Array.
	Elems []*Reply

	// Null is true for a nil BulkString ($-1) or nil Array (*-1).
	Null bool
}

func NewSimpleString(s string) *Reply {
	return &Reply{Kind: SimpleString, Str: []byte(s)}
}

func NewError(s string) *Reply {
	return &Reply{Kind: ErrorReply, Str: []byte(s)}
}

func NewErrorf(format string, args ...interface{}) *Reply {
	return NewError(fmt.Sprintf(format, args...))
}

func NewInteger(n int64) *Reply {
	return &Reply{Kind: Integer, Int: n}
}

func NewBulkString(b []byte) *Reply {
	return &Reply{Kind: BulkString, Str: b}
}

func NewNilBulkString() *Reply {
	return &Reply{Kind: BulkString, Null: true}
}

func NewArray(elems ...*Reply) *Reply {
	return &Reply{Kind: Array, Elems: elems}
}

func NewNilArray() *Reply {
	return &Reply{Kind: Array, Null: true}
}

// IsError reports whether the reply is an Error variant.
func (r *Reply) IsError() bool {
	return r != nil && r.Kind == ErrorReply
}

// IsNil reports whether the reply is a nil BulkString or nil Array.
func (r *Reply) IsNil() bool {
	return r != nil && (r.Kind == BulkString || r.Kind == Array) && r.Null
}

func (r *Reply) String() string {
	if r == nil {
		return "<nil>"
	}
	switch r.Kind {
	case SimpleString:
		return "+" + string(r.Str)
	case ErrorReply:
		return "-" + string(r.Str)
	case Integer:
		return fmt.Sprintf(":%d", r.Int)
	case BulkString:
		if r.Null {
			return "$-1"
		}
		return fmt.Sprintf("$%d %q", len(r.Str), r.Str)
	case Array:
		if r.Null {
			return "*-1"
		}
		return fmt.Sprintf("*%d %v", len(r.Elems), r.Elems)
	default:
		return "?"
	}
}

// Equal reports deep equality of two reply trees, used by the round-trip
// law: serialize(R) parsed back yields R.
func (r *Reply) Equal(o *Reply) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.Kind != o.Kind {
		return false
	}
	switch r.Kind {
	case SimpleString, ErrorReply:
		return string(r.Str) == string(o.Str)
	case Integer:
		return r.Int == o.Int
	case BulkString:
		if r.Null != o.Null {
			return false
		}
		return r.Null || string(r.Str) == string(o.Str)
	case Array:
		if r.Null != o.Null {
			return false
		}
		if r.Null {
			return true
		}
		if len(r.Elems) != len(o.Elems) {
			return false
		}
		for i := range r.Elems {
			if !r.Elems[i].Equal(o.Elems[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
