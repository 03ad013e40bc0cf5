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

// Package command holds the static command table that drives the request
// pipeline's dispatch decision for every incoming RESP request (spec.md
// §4.E): arity, a key-step for multi-key commands, and which of the five
// router categories applies.
package command

import "strings"

// Router categorizes how a command is dispatched.
type Router int

const (
	// NotSupported commands always draw "-ERR not supported".
	NotSupported Router = iota
	// NoRoute commands are answered locally, never touching a backend.
	NoRoute
	// Select accepts only "SELECT 0"; anything else is an error.
	Select
	// FirstKeyRoute commands hash their first key and forward verbatim to
	// one backend.
	FirstKeyRoute
	// MultiKeyFanOut commands split into one sub-command per key, fan out
	// to each key's backend, and recombine with a Coalescer.
	MultiKeyFanOut
)

// Coalescer identifies how a multi-key command's per-key replies are
// recombined into the single reply the client sees.
type Coalescer int

const (
	// CoalesceNone applies to every non-fan-out router.
	CoalesceNone Coalescer = iota
	// CoalesceIntegerSum propagates the first error, else sums Integer
	// replies (EXISTS, DEL).
	CoalesceIntegerSum
	// CoalesceStatusAnd propagates the first non-OK status or error, else
	// replies +OK (MSET).
	CoalesceStatusAnd
	// CoalesceArrayConcat concatenates each child's single-element Array
	// reply, in key order, into one Array (MGET).
	CoalesceArrayConcat
)

// Spec is one command table entry.
type Spec struct {
	Name string

	// Arity is the exact argument count including the command name; a
	// negative value means "at least -Arity". Mirrors Redis's own
	// COMMAND INFO convention.
	Arity int

	Router    Router
	Coalescer Coalescer

	// KeyStep is how many argv entries make up one "key unit" for
	// MultiKeyFanOut commands: 1 for DEL/EXISTS/MGET, 2 for MSET's
	// key-value pairs. Unused by other routers.
	KeyStep int
}

// table is keyed by upper-cased command name. Built once at init time;
// never mutated afterward, so concurrent reads from multiple client
// goroutines parsing requests need no locking.
var table map[string]Spec

func init() {
	table = make(map[string]Spec, len(specs))
	for _, s := range specs {
		table[s.Name] = s
	}
}

var specs = []Spec{
	// not supported: anything cross-slot, stateful-per-connection, or
	// requiring a capability the proxy doesn't expose (spec.md §4.E).
	{Name: "KEYS", Arity: -2, Router: NotSupported},
	{Name: "SCAN", Arity: -2, Router: NotSupported},
	{Name: "MULTI", Arity: 1, Router: NotSupported},
	{Name: "EXEC", Arity: 1, Router: NotSupported},
	{Name: "DISCARD", Arity: 1, Router: NotSupported},
	{Name: "WATCH", Arity: -2, Router: NotSupported},
	{Name: "UNWATCH", Arity: 1, Router: NotSupported},
	{Name: "SUBSCRIBE", Arity: -2, Router: NotSupported},
	{Name: "UNSUBSCRIBE", Arity: -1, Router: NotSupported},
	{Name: "PSUBSCRIBE", Arity: -2, Router: NotSupported},
	{Name: "PUNSUBSCRIBE", Arity: -1, Router: NotSupported},
	{Name: "PUBLISH", Arity: 3, Router: NotSupported},
	{Name: "FLUSHDB", Arity: -1, Router: NotSupported},
	{Name: "FLUSHALL", Arity: -1, Router: NotSupported},
	{Name: "MIGRATE", Arity: -6, Router: NotSupported},
	{Name: "CLUSTER", Arity: -2, Router: NotSupported},
	{Name: "SYNC", Arity: 1, Router: NotSupported},
	{Name: "PSYNC", Arity: -1, Router: NotSupported},
	{Name: "RENAME", Arity: 3, Router: NotSupported},
	{Name: "RENAMENX", Arity: 3, Router: NotSupported},
	{Name: "MSETNX", Arity: -3, Router: NotSupported},

	// handled locally, never forwarded.
	{Name: "PING", Arity: -1, Router: NoRoute},
	{Name: "ECHO", Arity: 2, Router: NoRoute},
	{Name: "AUTH", Arity: 2, Router: NoRoute},
	{Name: "TIME", Arity: 1, Router: NoRoute},
	{Name: "COMMAND", Arity: -1, Router: NoRoute},
	{Name: "WAIT", Arity: 3, Router: NoRoute},
	{Name: "PROXY", Arity: -2, Router: NoRoute},

	// the proxy exposes one logical database.
	{Name: "SELECT", Arity: 2, Router: Select},

	// single-key commands: key is always argv[1].
	{Name: "GET", Arity: 2, Router: FirstKeyRoute},
	{Name: "SET", Arity: -3, Router: FirstKeyRoute},
	{Name: "SETEX", Arity: 4, Router: FirstKeyRoute},
	{Name: "SETNX", Arity: 3, Router: FirstKeyRoute},
	{Name: "GETSET", Arity: 3, Router: FirstKeyRoute},
	{Name: "APPEND", Arity: 3, Router: FirstKeyRoute},
	{Name: "STRLEN", Arity: 2, Router: FirstKeyRoute},
	{Name: "INCR", Arity: 2, Router: FirstKeyRoute},
	{Name: "DECR", Arity: 2, Router: FirstKeyRoute},
	{Name: "INCRBY", Arity: 3, Router: FirstKeyRoute},
	{Name: "DECRBY", Arity: 3, Router: FirstKeyRoute},
	{Name: "EXPIRE", Arity: 3, Router: FirstKeyRoute},
	{Name: "TTL", Arity: 2, Router: FirstKeyRoute},
	{Name: "PERSIST", Arity: 2, Router: FirstKeyRoute},
	{Name: "TYPE", Arity: 2, Router: FirstKeyRoute},
	{Name: "DUMP", Arity: 2, Router: FirstKeyRoute},
	{Name: "RESTORE", Arity: -4, Router: FirstKeyRoute},
	{Name: "HSET", Arity: 4, Router: FirstKeyRoute},
	{Name: "HGET", Arity: 3, Router: FirstKeyRoute},
	{Name: "HDEL", Arity: -3, Router: FirstKeyRoute},
	{Name: "HGETALL", Arity: 2, Router: FirstKeyRoute},
	{Name: "HMSET", Arity: -4, Router: FirstKeyRoute},
	{Name: "HMGET", Arity: -3, Router: FirstKeyRoute},
	{Name: "LPUSH", Arity: -3, Router: FirstKeyRoute},
	{Name: "RPUSH", Arity: -3, Router: FirstKeyRoute},
	{Name: "LPOP", Arity: -2, Router: FirstKeyRoute},
	{Name: "RPOP", Arity: -2, Router: FirstKeyRoute},
	{Name: "LLEN", Arity: 2, Router: FirstKeyRoute},
	{Name: "LRANGE", Arity: 4, Router: FirstKeyRoute},
	{Name: "SADD", Arity: -3, Router: FirstKeyRoute},
	{Name: "SREM", Arity: -3, Router: FirstKeyRoute},
	{Name: "SMEMBERS", Arity: 2, Router: FirstKeyRoute},
	{Name: "SCARD", Arity: 2, Router: FirstKeyRoute},
	{Name: "ZADD", Arity: -4, Router: FirstKeyRoute},
	{Name: "ZRANGE", Arity: -4, Router: FirstKeyRoute},
	{Name: "ZSCORE", Arity: 3, Router: FirstKeyRoute},

	// multi-key fan-out commands.
	{Name: "EXISTS", Arity: -2, Router: MultiKeyFanOut, Coalescer: CoalesceIntegerSum, KeyStep: 1},
	{Name: "DEL", Arity: -2, Router: MultiKeyFanOut, Coalescer: CoalesceIntegerSum, KeyStep: 1},
	{Name: "MSET", Arity: -3, Router: MultiKeyFanOut, Coalescer: CoalesceStatusAnd, KeyStep: 2},
	{Name: "MGET", Arity: -2, Router: MultiKeyFanOut, Coalescer: CoalesceArrayConcat, KeyStep: 1},
}

// Lookup finds a command's Spec by name, case-insensitively, as RESP
// requests always arrive. The bool is false for unrecognized commands,
// which the caller replies to with "-ERR unknown command".
func Lookup(name string) (Spec, bool) {
	s, ok := table[strings.ToUpper(name)]
	return s, ok
}

// CheckArity reports whether argc (including the command name itself)
// satisfies spec.Arity.
func (s Spec) CheckArity(argc int) bool {
	if s.Arity >= 0 {
		return argc == s.Arity
	}
	return argc >= -s.Arity
}
