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

// Package routing owns the slot table, the instance directory, and the
// CLUSTER NODES-driven topology refresh (spec.md §4.D). Like the rest of
// the proxy's state, a Directory is only ever touched from the run loop
// goroutine — it has no internal locking.
package routing

import (
	"math/rand"
	"strconv"
	"time"

	"github.com/xuguruogu/redis/internal/clusterhash"
	"github.com/xuguruogu/redis/internal/instance"
)

// Factory creates a new Instance for a node discovered during a topology
// refresh. Supplied by the proxy package, which closes over the
// configured pool-default-size, auth passwords and dialer.
type Factory func(ip string, port int) (*instance.Instance, error)

// Directory is the single source of truth for slot→instance dispatch and
// the exclusive owner of every Instance it holds.
type Directory struct {
	slots       [clusterhash.NumSlots]*instance.Instance
	byName      map[string]*instance.Instance
	factory     Factory
	minInterval time.Duration
	lastRefresh time.Time
	dirty       bool
}

// NewDirectory returns an empty Directory. minInterval is
// update_slots_min_limit, spec.md §4.D's default 1s.
func NewDirectory(minInterval time.Duration, factory Factory) *Directory {
	return &Directory{
		byName:      make(map[string]*instance.Instance),
		factory:     factory,
		minInterval: minInterval,
	}
}

// Slot returns the instance currently assigned slot s, or nil.
func (d *Directory) Slot(s int) *instance.Instance {
	if s < 0 || s >= clusterhash.NumSlots {
		return nil
	}
	return d.slots[s]
}

// Instance looks up an already-known instance by "ip:port".
func (d *Directory) Instance(name string) *instance.Instance {
	return d.byName[name]
}

// Instances returns every instance currently in the directory, for admin
// reporting (PROXY INSTANCES), the reconnect scan and the startup random
// assignment.
func (d *Directory) Instances() []*instance.Instance {
	out := make([]*instance.Instance, 0, len(d.byName))
	for _, inst := range d.byName {
		out = append(out, inst)
	}
	return out
}

// EnsureInstance returns the existing instance for ip:port, or creates and
// registers one via the Factory.
func (d *Directory) EnsureInstance(ip string, port int) (*instance.Instance, error) {
	name := ip + ":" + strconv.Itoa(port)
	if inst, ok := d.byName[name]; ok {
		return inst, nil
	}
	inst, err := d.factory(ip, port)
	if err != nil {
		return nil, err
	}
	d.byName[inst.Name] = inst
	return inst, nil
}

// SetSlot assigns slot s to inst, adjusting both instances'
// slots_held_count. Applying the same assignment twice is a no-op, which
// is what makes topology refresh idempotent (spec.md §8, re-entrant
// refresh law).
func (d *Directory) SetSlot(s int, inst *instance.Instance) {
	if s < 0 || s >= clusterhash.NumSlots {
		return
	}
	old := d.slots[s]
	if old == inst {
		return
	}
	if old != nil {
		old.SlotsHeld--
	}
	d.slots[s] = inst
	if inst != nil {
		inst.SlotsHeld++
	}
}

// CollectGarbage removes every instance whose slots_held_count has
// reached zero from the directory, marking their links for lazy close.
// Called after every applied refresh per spec.md §4.D.
func (d *Directory) CollectGarbage() {
	for name, inst := range d.byName {
		if inst.SlotsHeld == 0 {
			for _, l := range inst.Links() {
				l.CloseLazy()
			}
			delete(d.byName, name)
		}
	}
}

// RandomAssignment assigns every slot to a uniformly random member of
// instances, spec.md §4.D's initial-population policy so the proxy is
// functional before the first CLUSTER NODES refresh lands.
func (d *Directory) RandomAssignment(instances []*instance.Instance) {
	if len(instances) == 0 {
		return
	}
	for s := 0; s < clusterhash.NumSlots; s++ {
		d.SetSlot(s, instances[rand.Intn(len(instances))])
	}
}

// FlagRefresh marks the directory as needing a topology refresh, the
// effect of receiving a MOVED redirection.
func (d *Directory) FlagRefresh() { d.dirty = true }

// Tick is the rate-limited timer trigger: once minInterval has elapsed
// since the last refresh, it flags one, mirroring MOVED's effect.
func (d *Directory) Tick(now time.Time) {
	if now.Sub(d.lastRefresh) >= d.minInterval {
		d.dirty = true
	}
}

// DueForRefresh reports whether a refresh is both flagged and not
// rate-limited. The run loop's before-sleep hook checks this.
func (d *Directory) DueForRefresh(now time.Time) bool {
	return d.dirty && now.Sub(d.lastRefresh) >= d.minInterval
}

// MarkRefreshed clears the flag and resets the rate-limit window. Call
// this once a refresh attempt — successful or not — has been made, so a
// broken seed node can't be hammered faster than minInterval either.
func (d *Directory) MarkRefreshed(now time.Time) {
	d.dirty = false
	d.lastRefresh = now
}

// AnyInstance returns an arbitrary instance to target CLUSTER NODES at,
// or nil if the directory is empty.
func (d *Directory) AnyInstance() *instance.Instance {
	for _, inst := range d.byName {
		return inst
	}
	return nil
}
