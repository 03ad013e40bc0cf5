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

package routing

import (
	"strconv"
	"strings"

	"gopkg.in/errgo.v1"

	"github.com/xuguruogu/redis/internal/instance"
)

// ErrMalformedNodeLine is the cause of every CLUSTER NODES parse failure.
var ErrMalformedNodeLine = errgo.New("routing: malformed CLUSTER NODES line")

// nodeLine is one parsed row of a CLUSTER NODES reply.
type nodeLine struct {
	addr       string // "ip:port", empty for a "myself" line on old servers
	isSlave    bool
	slotRanges [][2]int
}

// parseClusterNodes parses the full CLUSTER NODES reply body. Slot tokens
// describing a migrating/importing slot (bracketed, e.g.
// "[1234-<-abcdef]") are skipped per spec.md §4.D — MOVED/ASK handle
// mid-migration traffic instead; the other slot ranges on the same line
// still apply.
func parseClusterNodes(body string) ([]nodeLine, error) {
	var out []nodeLine
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		nl, err := parseNodeLine(line)
		if err != nil {
			return nil, err
		}
		out = append(out, nl)
	}
	return out, nil
}

func parseNodeLine(line string) (nodeLine, error) {
	fields := strings.Fields(line)
	if len(fields) < 8 {
		return nodeLine{}, errgo.WithCausef(nil, ErrMalformedNodeLine, "%q", line)
	}
	addrField := fields[1]
	if at := strings.IndexByte(addrField, '@'); at >= 0 {
		addrField = addrField[:at]
	}
	flags := fields[2]
	nl := nodeLine{
		addr:    addrField,
		isSlave: hasFlag(flags, "slave"),
	}
	for _, tok := range fields[8:] {
		if strings.HasPrefix(tok, "[") {
			continue
		}
		lo, hi, err := parseSlotToken(tok)
		if err != nil {
			return nodeLine{}, err
		}
		nl.slotRanges = append(nl.slotRanges, [2]int{lo, hi})
	}
	return nl, nil
}

func hasFlag(flags, want string) bool {
	for _, f := range strings.Split(flags, ",") {
		if f == want {
			return true
		}
	}
	return false
}

func parseSlotToken(tok string) (int, int, error) {
	if dash := strings.IndexByte(tok, '-'); dash > 0 {
		lo, err1 := strconv.Atoi(tok[:dash])
		hi, err2 := strconv.Atoi(tok[dash+1:])
		if err1 != nil || err2 != nil {
			return 0, 0, errgo.WithCausef(nil, ErrMalformedNodeLine, "slot range %q", tok)
		}
		return lo, hi, nil
	}
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, 0, errgo.WithCausef(nil, ErrMalformedNodeLine, "slot %q", tok)
	}
	return n, n, nil
}

// ApplyClusterNodes parses body and applies every non-slave node's slot
// ranges to the directory's slot table, creating instances as needed. A
// node line with no address (some server versions omit it on the
// "myself" row) is attributed to self, the instance the link that
// produced this CLUSTER NODES reply belongs to. After applying, instances
// left holding zero slots are garbage-collected. Applying the same body
// twice is a no-op beyond the first call, satisfying the re-entrant
// refresh law (spec.md §8).
func (d *Directory) ApplyClusterNodes(body string, self *instance.Instance) error {
	lines, err := parseClusterNodes(body)
	if err != nil {
		return errgo.Mask(err)
	}
	for _, nl := range lines {
		if nl.isSlave {
			continue
		}
		var inst *instance.Instance
		if nl.addr == "" {
			inst = self
		} else {
			host, portStr, err := splitHostPort(nl.addr)
			if err != nil {
				return errgo.Mask(err)
			}
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return errgo.WithCausef(nil, ErrMalformedNodeLine, "bad port in %q", nl.addr)
			}
			inst, err = d.EnsureInstance(host, port)
			if err != nil {
				return errgo.Mask(err)
			}
		}
		if inst == nil {
			continue
		}
		for _, r := range nl.slotRanges {
			for s := r[0]; s <= r[1]; s++ {
				d.SetSlot(s, inst)
			}
		}
	}
	d.CollectGarbage()
	return nil
}

func splitHostPort(addr string) (host, port string, err error) {
	idx := strings.LastIndexByte(addr, ':')
	if idx < 0 {
		return "", "", errgo.WithCausef(nil, ErrMalformedNodeLine, "no port in %q", addr)
	}
	return addr[:idx], addr[idx+1:], nil
}
