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

// Package pipeline implements the per-client request FIFO, dispatch,
// MOVED/ASK redirection and multi-key coalescing described in spec.md
// §4.F. A Pipeline is, like every other piece of core state, touched only
// from the run loop goroutine.
package pipeline

import (
	"github.com/xuguruogu/redis/internal/command"
	"github.com/xuguruogu/redis/internal/resp"
)

// clientQueue holds one client's outstanding commands in enqueue order.
// Replies drain strictly in that order regardless of which backend
// answered first (spec.md §4.F).
type clientQueue struct {
	id      int64
	pending []*Command
	freed   bool
}

// Command is one request in flight: either a single backend-facing
// command, or a MultiKeyFanOut parent whose Children carry the real
// backend requests.
type Command struct {
	queue *clientQueue

	Argv []string
	Spec command.Spec

	// Children is non-nil only for a MultiKeyFanOut parent.
	Children     []*subCommand
	arrivedCount int

	// Reply is set once this command's final answer to the client is
	// known — either because it completed locally, or because its
	// backend round trip (and any redirects) concluded.
	Reply *resp.Reply

	redirects int
}

// ClientID reports which client this command belongs to.
func (c *Command) ClientID() int64 { return c.queue.id }
