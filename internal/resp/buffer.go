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

// shrinkCapacity and compactThreshold govern Buffer's housekeeping: once
// consumed bytes at the front outgrow compactThreshold they are shifted out,
// and an oversized backing array that has drained completely is replaced
// rather than kept around, the same "don't let one huge bulk string pin a
// connection's memory forever" rule described for backend link buffers.
const (
	compactThreshold = 1024
	shrinkCapacity   = 4 * 1024 * 1024
)

// Buffer is an append-only byte accumulator with a read cursor. Bytes off
// the wire are appended with Write; the resp.Reader consumes them from the
// front with Advance. It is not safe for concurrent use — each backend link
// and each client connection owns exactly one.
type Buffer struct {
	buf []byte
	pos int
}

// Write appends data to the buffer. It never blocks and never fails.
func (b *Buffer) Write(data []byte) {
	b.buf = append(b.buf, data...)
}

// Unread returns the unconsumed tail of the buffer. The slice is only valid
// until the next Write or Advance call.
func (b *Buffer) Unread() []byte {
	return b.buf[b.pos:]
}

// Len reports the number of unconsumed bytes.
func (b *Buffer) Len() int {
	return len(b.buf) - b.pos
}

// Advance marks n unconsumed bytes as consumed and opportunistically
// compacts or shrinks the backing array.
func (b *Buffer) Advance(n int) {
	b.pos += n
	if b.pos == len(b.buf) {
		if cap(b.buf) > shrinkCapacity {
			b.buf = nil
		} else {
			b.buf = b.buf[:0]
		}
		b.pos = 0
		return
	}
	if b.pos >= compactThreshold {
		b.compact()
	}
}

func (b *Buffer) compact() {
	n := copy(b.buf, b.buf[b.pos:])
	b.buf = b.buf[:n]
	b.pos = 0
}
