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

package snapshot

import (
	"net"
	"strconv"

	"gopkg.in/errgo.v1"

	"github.com/xuguruogu/redis/internal/clusterhash"
	"github.com/xuguruogu/redis/internal/routing"
)

// Table is the serialized form of a routing.Directory's slot table: one
// "ip:port" per slot, empty for an unassigned slot. It carries no Instance
// pointers of its own — ApplyTo recreates them via the Directory's Factory.
type Table struct {
	Slots [clusterhash.NumSlots]string
}

// FromDirectory captures d's current slot→instance assignment.
func FromDirectory(d *routing.Directory) Table {
	var t Table
	for s := 0; s < clusterhash.NumSlots; s++ {
		if inst := d.Slot(s); inst != nil {
			t.Slots[s] = inst.Name
		}
	}
	return t
}

// ApplyTo seeds d's slot table from t, creating instances as needed via
// d's Factory. Called once at startup, before the first live refresh.
func (t Table) ApplyTo(d *routing.Directory) error {
	for s, addr := range t.Slots {
		if addr == "" {
			continue
		}
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return errgo.Notef(err, "snapshot: bad address %q", addr)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return errgo.Notef(err, "snapshot: bad port in %q", addr)
		}
		inst, err := d.EnsureInstance(host, port)
		if err != nil {
			return errgo.Mask(err)
		}
		d.SetSlot(s, inst)
	}
	return nil
}
