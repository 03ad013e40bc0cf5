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

// Package proxylink implements the backend link state machine: the
// connection to one Redis Cluster node, its write queue, its reply
// callback FIFO and the RESP reader driving it.
//
// The C original drives a non-blocking socket through a before-sleep write
// drain with explicit short-write accounting (sent_offset, EAGAIN retry).
// This port keeps the same structural pieces — a write queue a caller
// flushes, a strictly-ordered callback FIFO, the same state machine — but
// relies on Go's ordinary blocking I/O per connection: a net.Conn.Write
// either completes a buffer fully or returns an error, so the short-write
// bookkeeping the C original needs for non-blocking sockets has no
// equivalent here and is dropped rather than translated.
package proxylink

import (
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xuguruogu/redis/internal/resp"
)

// State is one node of the backend link state machine described in
// spec.md §4.B.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateErrored
	StateClosingLazy
	StateFreed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateErrored:
		return "errored"
	case StateClosingLazy:
		return "closing_lazy"
	case StateFreed:
		return "freed"
	default:
		return "unknown"
	}
}

// Callback is invoked once per reply a Link dequeues, in the order the
// corresponding request was enqueued.
type Callback func(l *Link, reply *resp.Reply)

// Link is one connection to one backend instance.
type Link struct {
	Addr string

	conn         net.Conn
	state        State
	connectStart time.Time
	lazy         bool

	writeQueue [][]byte
	callbacks  []Callback

	readBuf Buffer
	reader  *resp.Reader

	replyOnFree *resp.Reply

	// OnConnect fires once, synchronously, right after the link reaches
	// StateConnected — the hook that sends AUTH/CLIENT SETNAME.
	OnConnect func(l *Link)
	// OnDisconnect fires once when a previously-Connected link errors.
	OnDisconnect func(l *Link)

	Log *logrus.Entry
}

// Buffer is an alias so callers outside this package don't need to import
// internal/resp directly just to hold a read buffer.
type Buffer = resp.Buffer

// New returns a Link in StateConnecting for addr ("ip:port").
func New(addr string, log *logrus.Entry) *Link {
	return &Link{
		Addr:         addr,
		state:        StateConnecting,
		connectStart: time.Now(),
		reader:       resp.NewReader(),
		Log:          log,
	}
}

// State reports the link's current state.
func (l *Link) State() State { return l.state }

// ConnectStart is when this Link instance began connecting, used by the
// instance-level reconnect policy to decide when to give up and replace it.
func (l *Link) ConnectStart() time.Time { return l.connectStart }

// Attach binds a successfully dialed connection to this Link, transitions
// it to Connected and fires OnConnect. Called from the run loop once a
// background dial goroutine reports success.
func (l *Link) Attach(conn net.Conn) {
	l.conn = conn
	l.state = StateConnected
	if l.OnConnect != nil {
		l.OnConnect(l)
	}
}

// MarkErrored transitions the link to Errored, builds the cached error
// reply every pending (and future, until freed) callback receives, fires
// OnDisconnect if the link had been Connected, and drains every callback
// currently queued. Spec.md §4.B describes draining as deferred to the
// next before-sleep tick; this port drains immediately since the run loop
// is already single-threaded and synchronous, so there is no observable
// difference in ordering and no reason to stage it.
func (l *Link) MarkErrored(err error) {
	if l.state == StateErrored || l.state == StateFreed {
		return
	}
	wasConnected := l.state == StateConnected
	l.state = StateErrored
	l.replyOnFree = resp.NewErrorf("ERR backend %s: %v", l.Addr, err)
	if l.conn != nil {
		l.conn.Close()
	}
	if wasConnected && l.OnDisconnect != nil {
		l.OnDisconnect(l)
	}
	l.drain()
}

func (l *Link) drain() {
	pending := l.callbacks
	l.callbacks = nil
	for _, cb := range pending {
		cb(l, l.replyOnFree)
	}
}

// EnqueueRequest appends data to the write queue and cb to the callback
// FIFO. It succeeds even on an Errored link — the callback fires
// immediately with the cached error reply, since an Errored link has
// already drained anything ahead of it. It reports whether the write
// queue was empty before this call, the signal the run loop uses to add
// the link to pending_write_links exactly once.
func (l *Link) EnqueueRequest(data []byte, cb Callback) (becameNonEmpty bool) {
	if l.state == StateErrored {
		cb(l, l.replyOnFree)
		return false
	}
	wasEmpty := len(l.writeQueue) == 0
	l.writeQueue = append(l.writeQueue, data)
	l.callbacks = append(l.callbacks, cb)
	return wasEmpty
}

// CloseLazy marks the link to be freed once every outstanding callback has
// fired, per spec.md §4.B's close_lazy contract.
func (l *Link) CloseLazy() {
	l.lazy = true
	l.maybeFree()
}

func (l *Link) maybeFree() {
	if l.lazy && len(l.callbacks) == 0 && l.state != StateFreed {
		if l.conn != nil {
			l.conn.Close()
		}
		l.state = StateFreed
	}
}

// Drained reports whether every enqueued callback has fired.
func (l *Link) Drained() bool { return len(l.callbacks) == 0 }

// PendingCount is how many requests on this link are still awaiting a
// reply, for the PROXY INSTANCES admin surface's link-pending-commands
// field.
func (l *Link) PendingCount() int { return len(l.callbacks) }

// PendingWrites reports whether the write queue has unflushed bytes.
func (l *Link) PendingWrites() bool { return len(l.writeQueue) > 0 }

// Flush writes every queued request buffer to w. Under Go's blocking I/O
// a Write either completes in full or errors — there is no short-write
// case to retry, so this is the whole of the write path spec.md §4.B
// devotes a state machine to.
func (l *Link) Flush(w io.Writer) error {
	for _, buf := range l.writeQueue {
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	l.writeQueue = nil
	return nil
}

// FlushPending writes every queued request buffer to the link's attached
// connection. A no-op if nothing is attached yet (Connecting) or nothing
// is queued; the run loop calls this from its before-sleep hook for every
// link with pending writes.
func (l *Link) FlushPending() error {
	if l.conn == nil {
		return nil
	}
	return l.Flush(l.conn)
}

// FeedRead appends data read from the connection and parses as many
// complete replies as are now available, each dequeuing the next callback
// off the FIFO and invoking it. It returns a protocol error (ErrProtocol
// caused) if the stream is malformed; the caller must MarkErrored the link
// in that case.
func (l *Link) FeedRead(data []byte) error {
	l.readBuf.Write(data)
	for {
		reply, err := l.reader.Next(&l.readBuf)
		if err != nil {
			return err
		}
		if reply == nil {
			return nil
		}
		cb, ok := l.dequeue()
		if !ok {
			// A reply arrived with no matching callback: a backend
			// protocol violation (more replies than requests).
			return resp.ErrProtocol
		}
		cb(l, reply)
		l.maybeFree()
	}
}

func (l *Link) dequeue() (Callback, bool) {
	if len(l.callbacks) == 0 {
		return nil, false
	}
	cb := l.callbacks[0]
	l.callbacks = l.callbacks[1:]
	return cb, true
}
