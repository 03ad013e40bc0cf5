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

package proxy

import (
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xuguruogu/redis/internal/command"
	"github.com/xuguruogu/redis/internal/resp"
)

// outQueueDepth bounds one client's outbound reply backlog. A client
// reading slower than this fills its queue is treated the same as a dead
// one: the spec only promises replies arrive in order, never that a slow
// reader can stall the run loop indefinitely (§5: "nothing else may
// block").
const outQueueDepth = 4096

// clientConn is one accepted client connection: its socket, its outbound
// write queue and the writer goroutine draining it. Reads happen on a
// second goroutine (see serveClient); both only ever touch proxy state
// by pushing closures onto p.events.
type clientConn struct {
	id   int64
	conn net.Conn
	log  *logrus.Entry

	out chan []byte
}

// acceptLoop mirrors recon/peer.go's Serve(): poll Accept with a short
// deadline so the loop can also notice the tomb dying, rather than
// blocking forever in a syscall Stop has no way to interrupt other than
// closing the listener (which this loop also honors).
func (p *Proxy) acceptLoop(ln net.Listener) error {
	tcpLn, _ := ln.(*net.TCPListener)
	for {
		select {
		case <-p.t.Dying():
			return nil
		default:
		}
		if tcpLn != nil {
			tcpLn.SetDeadline(time.Now().Add(time.Second))
		}
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-p.t.Dying():
				return nil
			default:
			}
			p.log.WithError(err).Warn("proxy: accept failed")
			continue
		}
		go p.serveClient(conn)
	}
}

// serveClient registers a new client with the run loop, then blocks
// reading requests off conn until it disconnects or sends malformed
// input, at which point it tears the client down.
func (p *Proxy) serveClient(conn net.Conn) {
	registered := make(chan *clientConn)
	p.events <- func() {
		p.nextClientID++
		id := p.nextClientID
		c := &clientConn{
			id:   id,
			conn: conn,
			log:  p.log.WithField("client", id),
			out:  make(chan []byte, outQueueDepth),
		}
		p.clients[id] = c
		go p.writeClient(c)
		registered <- c
	}
	c := <-registered

	p.readClient(c)

	done := make(chan struct{})
	p.events <- func() {
		p.dropClient(c)
		close(done)
	}
	<-done
}

// writeClient drains c.out to the socket. c.out is closed (by dropClient)
// once the client is gone; writeClient keeps draining whatever was already
// queued — including a final reply enqueued in the same breath as the
// drop, such as a CLOSE_AFTER_REPLY error — before closing the connection
// itself, so a close can never race an in-flight write of that reply.
func (p *Proxy) writeClient(c *clientConn) {
	for data := range c.out {
		if _, err := c.conn.Write(data); err != nil {
			break
		}
	}
	c.conn.Close()
}

// dropClient must run on the run loop goroutine: it frees the client's
// pipeline queue (in-flight backend replies stop being delivered, but
// still drain so backend FIFOs stay correct), removes it from the client
// map and closes c.out so writeClient drains whatever remains queued and
// closes the connection itself once it does (see writeClient).
func (p *Proxy) dropClient(c *clientConn) {
	if _, ok := p.clients[c.id]; !ok {
		return
	}
	delete(p.clients, c.id)
	p.pipeline.FreeClient(c.id)
	close(c.out)
}

// deliver is the pipeline.Deliver implementation: encode and hand one
// reply to its client's write queue. A full queue means the client isn't
// keeping up; the connection is dropped rather than risk blocking the
// run loop.
func (p *Proxy) deliver(clientID int64, reply *resp.Reply) {
	c, ok := p.clients[clientID]
	if !ok {
		return
	}
	data := resp.Encode(nil, reply)
	select {
	case c.out <- data:
	default:
		c.log.Warn("proxy: client write queue full, dropping connection")
		p.dropClient(c)
	}
}

// readClient owns the client's incoming byte stream: it distinguishes
// RESP multibulk requests from inline ones (spec.md §6 — inline is only
// accepted for no-route local commands) and submits each parsed request
// to the run loop.
func (p *Proxy) readClient(c *clientConn) {
	var buf resp.Buffer
	reader := resp.NewReader()
	raw := make([]byte, 16*1024)

	for {
		argv, inline, protoErr := nextRequest(&buf, reader)
		if protoErr != nil {
			p.sendProtocolError(c, protoErr)
			return
		}
		if argv == nil {
			n, err := c.conn.Read(raw)
			if n > 0 {
				buf.Write(append([]byte(nil), raw[:n]...))
				continue
			}
			if err != nil {
				return
			}
			continue
		}
		if len(argv) == 0 {
			continue
		}
		closeAfter := false
		done := make(chan struct{})
		p.events <- func() {
			closeAfter = p.handleRequest(c.id, argv, inline)
			close(done)
		}
		<-done
		if closeAfter {
			return
		}
	}
}

// nextRequest extracts one complete request from buf if available:
// either a full RESP multibulk array (decoded into argv strings) or,
// failing that, one inline command line — reporting which it was, since
// spec.md §6 only allows inline framing for no-route local commands.
// Returns a nil argv and a nil error when buf doesn't yet hold a complete
// request.
func nextRequest(buf *resp.Buffer, reader *resp.Reader) ([]string, bool, error) {
	b := buf.Unread()
	if len(b) == 0 {
		return nil, false, nil
	}
	if b[0] == '*' {
		reply, err := reader.Next(buf)
		if err != nil {
			return nil, false, err
		}
		if reply == nil {
			return nil, false, nil
		}
		argv, err := replyToArgv(reply)
		return argv, false, err
	}
	argv, err := nextInlineRequest(buf)
	return argv, true, err
}

// replyToArgv converts a parsed multibulk Array reply into a request's
// argv, requiring every element be a non-nil BulkString.
func replyToArgv(reply *resp.Reply) ([]string, error) {
	if reply.Kind != resp.Array || reply.Null {
		return nil, resp.ErrProtocol
	}
	argv := make([]string, len(reply.Elems))
	for i, e := range reply.Elems {
		if e.Kind != resp.BulkString || e.Null {
			return nil, resp.ErrProtocol
		}
		argv[i] = string(e.Str)
	}
	return argv, nil
}

func nextInlineRequest(buf *resp.Buffer) ([]string, error) {
	b := buf.Unread()
	idx := -1
	for i, c := range b {
		if c == '\n' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil
	}
	line := string(b[:idx])
	buf.Advance(idx + 1)
	line = strings.TrimRight(line, "\r")
	return strings.Fields(line), nil
}

// sendProtocolError queues the taxonomy's client-link protocol error
// reply on the client's write queue (spec.md §7's CLOSE_AFTER_REPLY). The
// caller then returns and serveClient drops the client, so writeClient
// sends the reply before it closes the connection.
func (p *Proxy) sendProtocolError(c *clientConn, cause error) {
	reply := resp.NewErrorf("ERR Protocol error: %v", cause)
	done := make(chan struct{})
	p.events <- func() {
		p.deliver(c.id, reply)
		close(done)
	}
	<-done
}

// handleRequest runs on the run loop: it looks up the command, enforces
// arity and the inline-vs-multibulk routing restriction, answers
// no-route commands locally, and otherwise forwards to the pipeline.
// Every path ends in Enqueue+Complete (directly or via Dispatch) so
// replies keep strict per-client FIFO order regardless of how the
// request was actually satisfied. Returns whether the client connection
// must now be closed (an inline request for a routed command, spec.md
// §6/§7's CLOSE_AFTER_REPLY).
func (p *Proxy) handleRequest(clientID int64, argv []string, inline bool) bool {
	spec, ok := command.Lookup(argv[0])
	if inline && (!ok || spec.Router != command.NoRoute) {
		cmd := p.pipeline.Enqueue(clientID, argv, command.Spec{})
		p.pipeline.Complete(cmd, resp.NewError("ERR Protocol error: inline commands are only supported for local commands"))
		if c, ok := p.clients[clientID]; ok {
			p.dropClient(c)
		}
		return true
	}
	if !ok {
		cmd := p.pipeline.Enqueue(clientID, argv, command.Spec{})
		p.pipeline.Complete(cmd, resp.NewErrorf("ERR unknown command '%s'", argv[0]))
		return false
	}
	if !spec.CheckArity(len(argv)) {
		cmd := p.pipeline.Enqueue(clientID, argv, command.Spec{})
		p.pipeline.Complete(cmd, resp.NewErrorf("ERR wrong number of arguments for '%s' command", argv[0]))
		return false
	}
	if spec.Router == command.NoRoute {
		cmd := p.pipeline.Enqueue(clientID, argv, spec)
		p.pipeline.Complete(cmd, p.handleNoRoute(clientID, argv, spec))
		return false
	}
	p.pipeline.Dispatch(clientID, argv, spec)
	return false
}
