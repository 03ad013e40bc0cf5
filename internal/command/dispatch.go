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

package command

import (
	"gopkg.in/errgo.v1"

	"github.com/xuguruogu/redis/internal/clusterhash"
	"github.com/xuguruogu/redis/internal/resp"
)

// ErrBadRequest is the cause of every request-shape failure: wrong arity, a
// multi-key command whose trailing args don't divide evenly by KeyStep, and
// so on.
var ErrBadRequest = errgo.New("command: bad request")

// FirstKey extracts the routing key of a FirstKeyRoute command, always
// argv[1] for every entry in this table.
func FirstKey(argv []string) (string, error) {
	if len(argv) < 2 {
		return "", errgo.WithCausef(nil, ErrBadRequest, "%s: missing key", argv[0])
	}
	return argv[1], nil
}

// Slot reports the hash slot a key routes to.
func Slot(key string) int {
	return clusterhash.Slot([]byte(key))
}

// Child is one sub-command produced by splitting a MultiKeyFanOut request:
// its own argv and the key it routes on.
type Child struct {
	Argv []string
	Key  string
}

// Split breaks a MultiKeyFanOut request into one Child per key, preserving
// argv order (spec.md §4.F: "N children, each with its own argv — original
// arg0 + step-many args per key").
func Split(s Spec, argv []string) ([]Child, error) {
	rest := argv[1:]
	if s.KeyStep <= 0 || len(rest)%s.KeyStep != 0 {
		return nil, errgo.WithCausef(nil, ErrBadRequest, "%s: args don't divide by key step %d", argv[0], s.KeyStep)
	}
	n := len(rest) / s.KeyStep
	children := make([]Child, n)
	for i := 0; i < n; i++ {
		group := rest[i*s.KeyStep : (i+1)*s.KeyStep]
		childArgv := make([]string, 0, 1+s.KeyStep)
		childArgv = append(childArgv, argv[0])
		childArgv = append(childArgv, group...)
		children[i] = Child{Argv: childArgv, Key: group[0]}
	}
	return children, nil
}

// Coalesce recombines the per-child replies of a MultiKeyFanOut command,
// in key order, into the single reply the client receives (spec.md §4.F).
func Coalesce(c Coalescer, replies []*resp.Reply) *resp.Reply {
	switch c {
	case CoalesceIntegerSum:
		return coalesceIntegerSum(replies)
	case CoalesceStatusAnd:
		return coalesceStatusAnd(replies)
	case CoalesceArrayConcat:
		return coalesceArrayConcat(replies)
	default:
		return resp.NewErrorf("ERR no coalescer for this command")
	}
}

func coalesceIntegerSum(replies []*resp.Reply) *resp.Reply {
	var sum int64
	for _, r := range replies {
		if r.IsError() {
			return r
		}
		if r.Kind != resp.Integer {
			return resp.NewErrorf("ERR unexpected reply type from backend")
		}
		sum += r.Int
	}
	return resp.NewInteger(sum)
}

func coalesceStatusAnd(replies []*resp.Reply) *resp.Reply {
	for _, r := range replies {
		if r.IsError() {
			return r
		}
		if r.Kind != resp.SimpleString {
			return resp.NewErrorf("ERR unexpected reply from backend")
		}
		if string(r.Str) != "OK" {
			return r
		}
	}
	return resp.NewSimpleString("OK")
}

func coalesceArrayConcat(replies []*resp.Reply) *resp.Reply {
	out := make([]*resp.Reply, 0, len(replies))
	for _, r := range replies {
		if r.IsError() {
			return r
		}
		if r.Kind != resp.Array || len(r.Elems) != 1 {
			return resp.NewErrorf("ERR unexpected reply shape from backend")
		}
		out = append(out, r.Elems[0])
	}
	return resp.NewArray(out...)
}
