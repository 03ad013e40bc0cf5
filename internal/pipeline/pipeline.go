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

package pipeline

import (
	"strconv"
	"strings"

	"github.com/xuguruogu/redis/internal/command"
	"github.com/xuguruogu/redis/internal/instance"
	"github.com/xuguruogu/redis/internal/proxylink"
	"github.com/xuguruogu/redis/internal/resp"
	"github.com/xuguruogu/redis/internal/routing"
)

// Deliver hands a completed command's reply to whatever owns the client
// connection. It is not called for a client that has been freed (see
// FreeClient).
type Deliver func(clientID int64, reply *resp.Reply)

// Pipeline is the run loop's single point of command dispatch: every
// client request, whether answered locally or forwarded, passes through
// Enqueue/Complete so replies drain in arrival order (spec.md §4.F).
type Pipeline struct {
	clients     map[int64]*clientQueue
	directory   *routing.Directory
	redirectMax int
	deliver     Deliver

	// onLinkWrite, if set, fires every time a request is enqueued onto a
	// link that was previously empty — the run loop's signal to add that
	// link to pending_write_links for the next before-sleep flush
	// (spec.md §4.G). Nil in tests that drive links synchronously.
	onLinkWrite func(*proxylink.Link)
}

// SetOnLinkWrite installs the run loop's pending_write_links hook.
func (p *Pipeline) SetOnLinkWrite(f func(*proxylink.Link)) {
	p.onLinkWrite = f
}

// New returns a Pipeline. redirectMax bounds both MOVED and ASK
// redirections per command — spec.md §4.F only names the counter for
// MOVED, but its stated purpose, preventing infinite bouncing during a
// migration storm, applies just as much to a flapping ASK target, so this
// implementation shares one cap across both (see DESIGN.md).
func New(directory *routing.Directory, redirectMax int, deliver Deliver) *Pipeline {
	return &Pipeline{
		clients:     make(map[int64]*clientQueue),
		directory:   directory,
		redirectMax: redirectMax,
		deliver:     deliver,
	}
}

func (p *Pipeline) queueFor(clientID int64) *clientQueue {
	cq, ok := p.clients[clientID]
	if !ok {
		cq = &clientQueue{id: clientID}
		p.clients[clientID] = cq
	}
	return cq
}

// Enqueue appends a new command, in arrival order, to clientID's FIFO.
// Its Reply is nil until Complete is called.
func (p *Pipeline) Enqueue(clientID int64, argv []string, spec command.Spec) *Command {
	cq := p.queueFor(clientID)
	cmd := &Command{queue: cq, Argv: argv, Spec: spec}
	cq.pending = append(cq.pending, cmd)
	return cmd
}

// Complete sets cmd's final reply and drains as much of its client's FIFO
// as is now contiguous.
func (p *Pipeline) Complete(cmd *Command, reply *resp.Reply) {
	cmd.Reply = reply
	p.drain(cmd.queue)
}

func (p *Pipeline) drain(cq *clientQueue) {
	for len(cq.pending) > 0 && cq.pending[0].Reply != nil {
		cmd := cq.pending[0]
		cq.pending = cq.pending[1:]
		if !cq.freed {
			p.deliver(cq.id, cmd.Reply)
		}
	}
	if cq.freed && len(cq.pending) == 0 {
		delete(p.clients, cq.id)
	}
}

// FreeClient marks clientID's queue so future completions are dropped
// instead of delivered, while still draining — in-flight commands keep
// consuming their backend callback, they just stop reaching a socket that
// no longer exists (spec.md §4.F, "client death").
func (p *Pipeline) FreeClient(clientID int64) {
	cq, ok := p.clients[clientID]
	if !ok {
		return
	}
	cq.freed = true
	p.drain(cq)
}

// Dispatch routes one parsed request for clientID according to its
// command.Spec. NotSupported and Select are answered synchronously;
// FirstKeyRoute and MultiKeyFanOut forward to a backend and complete
// asynchronously via their link callback. NoRoute commands (PING, AUTH,
// PROXY admin, …) are not handled here — the caller still calls Enqueue
// and Complete directly so strict FIFO ordering covers them too, but the
// actual reply computation has nothing to do with routing.
func (p *Pipeline) Dispatch(clientID int64, argv []string, spec command.Spec) {
	cmd := p.Enqueue(clientID, argv, spec)
	switch spec.Router {
	case command.NotSupported:
		p.Complete(cmd, resp.NewError("ERR not supported"))
	case command.Select:
		if len(argv) == 2 && argv[1] == "0" {
			p.Complete(cmd, resp.NewSimpleString("OK"))
		} else {
			p.Complete(cmd, resp.NewError("ERR the proxy exposes a single logical database, SELECT 0 only"))
		}
	case command.FirstKeyRoute:
		p.dispatchFirstKey(cmd)
	case command.MultiKeyFanOut:
		p.dispatchFanOut(cmd)
	default:
		p.Complete(cmd, resp.NewError("ERR command not handled by this pipeline"))
	}
}

func (p *Pipeline) dispatchFirstKey(cmd *Command) {
	key, err := command.FirstKey(cmd.Argv)
	if err != nil {
		p.Complete(cmd, resp.NewErrorf("ERR %v", err))
		return
	}
	redirects := 0
	p.routeToKey(cmd.ClientID(), key, cmd.Argv, &redirects, func(reply *resp.Reply) {
		p.Complete(cmd, reply)
	})
}

func (p *Pipeline) dispatchFanOut(cmd *Command) {
	children, err := command.Split(cmd.Spec, cmd.Argv)
	if err != nil {
		p.Complete(cmd, resp.NewErrorf("ERR %v", err))
		return
	}
	subs := make([]*subCommand, len(children))
	for i, c := range children {
		subs[i] = &subCommand{parent: cmd, key: c.Key}
	}
	cmd.Children = subs
	clientID := cmd.ClientID()
	for i, c := range children {
		i, c := i, c
		redirects := 0
		p.routeToKey(clientID, c.Key, c.Argv, &redirects, func(reply *resp.Reply) {
			subs[i].reply = reply
			cmd.arrivedCount++
			if cmd.arrivedCount == len(subs) {
				replies := make([]*resp.Reply, len(subs))
				for j, s := range subs {
					replies[j] = s.reply
				}
				p.Complete(cmd, command.Coalesce(cmd.Spec.Coalescer, replies))
			}
		})
	}
}

// subCommand is one key's backend round trip within a MultiKeyFanOut
// parent; it never appears in any clientQueue directly.
type subCommand struct {
	parent *Command
	key    string
	reply  *resp.Reply
}

// routeToKey hashes key, looks up its owning instance and pool member,
// and forwards argv, invoking onFinal once a non-redirected reply (or a
// redirect-cap-exhausted error) is known.
func (p *Pipeline) routeToKey(clientID int64, key string, argv []string, redirects *int, onFinal func(*resp.Reply)) {
	slot := command.Slot(key)
	inst := p.directory.Slot(slot)
	if inst == nil {
		onFinal(resp.NewErrorf("CLUSTERDOWN no instance assigned to slot %d", slot))
		return
	}
	p.sendTo(inst, clientID, argv, redirects, onFinal)
}

func (p *Pipeline) sendTo(inst *instance.Instance, clientID int64, argv []string, redirects *int, onFinal func(*resp.Reply)) {
	link := inst.LinkFor(clientID)
	data := resp.EncodeRequest(nil, argv...)
	becameNonEmpty := link.EnqueueRequest(data, func(_ *proxylink.Link, reply *resp.Reply) {
		p.handleReply(clientID, argv, reply, redirects, onFinal)
	})
	if becameNonEmpty && p.onLinkWrite != nil {
		p.onLinkWrite(link)
	}
}

func (p *Pipeline) handleReply(clientID int64, argv []string, reply *resp.Reply, redirects *int, onFinal func(*resp.Reply)) {
	if reply.IsError() {
		if host, port, ok := parseRedirect(reply, "MOVED"); ok {
			p.directory.FlagRefresh()
			p.redirect(host, port, clientID, argv, redirects, reply, onFinal)
			return
		}
		if host, port, ok := parseRedirect(reply, "ASK"); ok {
			p.redirectAsk(host, port, clientID, argv, redirects, reply, onFinal)
			return
		}
	}
	onFinal(reply)
}

func (p *Pipeline) redirect(host string, port int, clientID int64, argv []string, redirects *int, raw *resp.Reply, onFinal func(*resp.Reply)) {
	if *redirects >= p.redirectMax {
		onFinal(raw)
		return
	}
	*redirects++
	inst, err := p.directory.EnsureInstance(host, port)
	if err != nil {
		onFinal(resp.NewErrorf("ERR redirect target %s:%d: %v", host, port, err))
		return
	}
	p.sendTo(inst, clientID, argv, redirects, onFinal)
}

func (p *Pipeline) redirectAsk(host string, port int, clientID int64, argv []string, redirects *int, raw *resp.Reply, onFinal func(*resp.Reply)) {
	if *redirects >= p.redirectMax {
		onFinal(raw)
		return
	}
	*redirects++
	inst, err := p.directory.EnsureInstance(host, port)
	if err != nil {
		onFinal(resp.NewErrorf("ERR redirect target %s:%d: %v", host, port, err))
		return
	}
	link := inst.LinkFor(clientID)
	if link.EnqueueRequest(resp.EncodeRequest(nil, "ASKING"), func(*proxylink.Link, *resp.Reply) {}) && p.onLinkWrite != nil {
		p.onLinkWrite(link)
	}
	p.sendTo(inst, clientID, argv, redirects, onFinal)
}

// parseRedirect matches a "<kind> <slot> <host>:<port>" error reply, e.g.
// "MOVED 12182 127.0.0.1:7002" or "ASK 12182 127.0.0.1:7003".
func parseRedirect(reply *resp.Reply, kind string) (host string, port int, ok bool) {
	fields := strings.Fields(string(reply.Str))
	if len(fields) != 3 || fields[0] != kind {
		return "", 0, false
	}
	idx := strings.LastIndexByte(fields[2], ':')
	if idx < 0 {
		return "", 0, false
	}
	port, err := strconv.Atoi(fields[2][idx+1:])
	if err != nil {
		return "", 0, false
	}
	return fields[2][:idx], port, true
}
