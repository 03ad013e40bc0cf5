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
	"time"

	"github.com/xuguruogu/redis/internal/instance"
	"github.com/xuguruogu/redis/internal/proxylink"
	"github.com/xuguruogu/redis/internal/resp"
	"github.com/xuguruogu/redis/internal/snapshot"
)

// beforeSleep is spec.md §4.G's event-loop hook, always run on the run
// loop goroutine: it runs a flagged topology refresh, flushes config if
// dirty, drains pending_write_links, and applies the reconnect policy.
func (p *Proxy) beforeSleep(now time.Time) {
	p.directory.Tick(now)
	if p.directory.DueForRefresh(now) {
		p.refreshTopology(now)
	}

	if p.settings.Dirty() {
		if err := p.settings.Flush(); err != nil {
			p.log.WithError(err).Warn("proxy: config flush failed")
		}
	}

	for l := range p.pendingWriteLinks {
		if err := l.FlushPending(); err != nil {
			l.MarkErrored(err)
		}
		delete(p.pendingWriteLinks, l)
	}

	for _, inst := range p.directory.Instances() {
		for _, fresh := range inst.ReconnectPolicy(now) {
			p.dialLink(inst, fresh)
		}
	}
}

// refreshTopology sends CLUSTER NODES to an arbitrary known instance and
// applies the reply once it arrives. The request is itself dispatched
// through the ordinary link write path, so its reply is fed back through
// the same events channel as any other backend byte.
func (p *Proxy) refreshTopology(now time.Time) {
	self := p.directory.AnyInstance()
	if self == nil {
		p.directory.MarkRefreshed(now)
		return
	}
	link := self.LinkFor(0)
	data := resp.EncodeRequest(nil, "CLUSTER", "NODES")
	becameNonEmpty := link.EnqueueRequest(data, func(_ *proxylink.Link, reply *resp.Reply) {
		p.applyClusterNodesReply(self, reply)
	})
	if becameNonEmpty {
		p.markLinkPendingWrite(link)
	}
	p.directory.MarkRefreshed(now)
}

func (p *Proxy) applyClusterNodesReply(self *instance.Instance, reply *resp.Reply) {
	if reply.IsError() || reply.Kind != resp.BulkString || reply.Null {
		p.log.Warn("proxy: CLUSTER NODES refresh got an unusable reply")
		return
	}
	if err := p.directory.ApplyClusterNodes(string(reply.Str), self); err != nil {
		p.log.WithError(err).Warn("proxy: CLUSTER NODES refresh failed to parse")
		return
	}
	if p.snapStore != nil {
		p.snapStore.Save(snapshot.FromDirectory(p.directory))
	}
}

// dialLink dials inst's address on a fresh goroutine and, once it either
// succeeds or fails, reports back to the run loop via the events channel
// — the same "do the blocking part off-goroutine, resolve the proxy
// state change on the run loop" pattern the client and backend read
// loops use.
func (p *Proxy) dialLink(inst *instance.Instance, l *proxylink.Link) {
	go func() {
		conn, err := inst.Dial()
		if err != nil {
			p.events <- func() { l.MarkErrored(err) }
			return
		}
		p.events <- func() {
			l.Attach(conn)
			// Requests queued while the link was connecting, and the
			// AUTH/CLIENT SETNAME OnConnect just queued, go out on the
			// next before-sleep flush.
			if l.PendingWrites() {
				p.markLinkPendingWrite(l)
			}
			go p.readBackend(l, conn)
		}
	}()
}

// readBackend is the per-link goroutine that blocks on conn.Read and
// feeds every chunk to the run loop as a closure, so FeedRead (which
// dequeues callbacks and may run arbitrary pipeline logic) only ever
// runs on the single run loop goroutine.
func (p *Proxy) readBackend(l *proxylink.Link, conn net.Conn) {
	buf := make([]byte, 16*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			done := make(chan struct{})
			p.events <- func() {
				if ferr := l.FeedRead(chunk); ferr != nil {
					l.MarkErrored(ferr)
				}
				close(done)
			}
			<-done
		}
		if err != nil {
			p.events <- func() { l.MarkErrored(err) }
			return
		}
	}
}
