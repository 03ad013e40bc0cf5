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
	"strconv"
)

// Encode appends the wire representation of r to dst and returns the
// extended slice. It is the inverse of Reader.Next: for any Reply produced
// by the reader, feeding Encode's output back through a Reader yields an
// Equal tree.
func Encode(dst []byte, r *Reply) []byte {
	switch r.Kind {
	case SimpleString:
		dst = append(dst, '+')
		dst = append(dst, r.Str...)
		dst = append(dst, '\r', '\n')
	case ErrorReply:
		dst = append(dst, '-')
		dst = append(dst, r.Str...)
		dst = append(dst, '\r', '\n')
	case Integer:
		dst = append(dst, ':')
		dst = strconv.AppendInt(dst, r.Int, 10)
		dst = append(dst, '\r', '\n')
	case BulkString:
		if r.Null {
			return append(dst, '$', '-', '1', '\r', '\n')
		}
		dst = append(dst, '$')
		dst = strconv.AppendInt(dst, int64(len(r.Str)), 10)
		dst = append(dst, '\r', '\n')
		dst = append(dst, r.Str...)
		dst = append(dst, '\r', '\n')
	case Array:
		if r.Null {
			return append(dst, '*', '-', '1', '\r', '\n')
		}
		dst = append(dst, '*')
		dst = strconv.AppendInt(dst, int64(len(r.Elems)), 10)
		dst = append(dst, '\r', '\n')
		for _, e := range r.Elems {
			dst = Encode(dst, e)
		}
	}
	return dst
}

// EncodeRequest appends a RESP Array-of-BulkStrings command request built
// from the given string arguments, the form every client and backend link
// request takes on the wire.
func EncodeRequest(dst []byte, args ...string) []byte {
	dst = append(dst, '*')
	dst = strconv.AppendInt(dst, int64(len(args)), 10)
	dst = append(dst, '\r', '\n')
	for _, a := range args {
		dst = append(dst, '$')
		dst = strconv.AppendInt(dst, int64(len(a)), 10)
		dst = append(dst, '\r', '\n')
		dst = append(dst, a...)
		dst = append(dst, '\r', '\n')
	}
	return dst
}
