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

// Package instance models one backend Redis Cluster node: its address, its
// fixed pool of links and the slot-count that gates when the directory may
// release it. The reconnect policy (give up on a long-Errored link and
// replace it) lives here too, as an Instance-level concern exactly as
// spec.md §4.B's last paragraph describes it.
package instance

import (
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/errgo.v1"

	"github.com/xuguruogu/redis/internal/proxylink"
	"github.com/xuguruogu/redis/internal/proxylog"
	"github.com/xuguruogu/redis/internal/resp"
)

// RecoveryPeriod is how long a link may sit Errored before the pool
// discards and replaces it, spec.md §4.B's default of 1s.
const RecoveryPeriod = time.Second

// Dialer abstracts outbound connection establishment so tests can swap in
// a fake; production wiring uses net.Dialer.
type Dialer interface {
	Dial(network, address string) (net.Conn, error)
}

// Instance is a backend node: ip:port, its auth password if configured,
// and a fixed-size pool of Links. It exclusively owns its links; the
// routing table only ever holds a non-owning reference to an Instance.
type Instance struct {
	Name string // "ip:port"
	IP   string
	Port int

	authPass string

	pool []*proxylink.Link

	// SlotsHeld is the number of routing-table slots currently assigned
	// to this instance. An instance is garbage-collectable exactly when
	// this reaches zero (invariant 1, spec.md §8).
	SlotsHeld int

	dialer Dialer
	log    *logrus.Entry
}

// New creates an Instance with a pool of the given size. Hostname
// resolution happens synchronously here, matching spec.md §4.C; a
// resolution failure is returned immediately rather than deferred.
func New(ip string, port int, poolSize int, authPass string, dialer Dialer) (*Instance, error) {
	if poolSize < 1 {
		poolSize = 1
	}
	name := net.JoinHostPort(ip, strconv.Itoa(port))
	if _, err := net.ResolveTCPAddr("tcp", name); err != nil {
		return nil, errgo.Notef(err, "instance: resolving %s", name)
	}
	inst := &Instance{
		Name:     name,
		IP:       ip,
		Port:     port,
		authPass: authPass,
		dialer:   dialer,
		log:      proxylog.For(proxylog.ComponentInstance).WithField("instance", name),
	}
	inst.pool = make([]*proxylink.Link, poolSize)
	for i := range inst.pool {
		inst.pool[i] = inst.newLink()
	}
	return inst, nil
}

func (inst *Instance) newLink() *proxylink.Link {
	l := proxylink.New(inst.Name, inst.log)
	l.OnConnect = inst.onConnect
	return l
}

// onConnect sends AUTH (if configured) and CLIENT SETNAME with a synthetic
// name, each with a no-op callback, matching spec.md §4.B's connect hook.
func (inst *Instance) onConnect(l *proxylink.Link) {
	noop := func(*proxylink.Link, *resp.Reply) {}
	if inst.authPass != "" {
		data := resp.EncodeRequest(nil, "AUTH", inst.authPass)
		l.EnqueueRequest(data, noop)
	}
	data := resp.EncodeRequest(nil, "CLIENT", "SETNAME", "proxy-"+l.Addr)
	l.EnqueueRequest(data, noop)
}

// PoolSize reports the configured pool size.
func (inst *Instance) PoolSize() int { return len(inst.pool) }

// LinkFor deterministically routes a client to one pool member: clientID
// mod poolsize, so one client's interleaved commands stay on one
// connection and thus in order, per spec.md §4.C.
func (inst *Instance) LinkFor(clientID int64) *proxylink.Link {
	n := len(inst.pool)
	idx := int(((clientID % int64(n)) + int64(n)) % int64(n))
	return inst.pool[idx]
}

// Links returns every pool member, for admin reporting and reconnect scans.
func (inst *Instance) Links() []*proxylink.Link {
	return append([]*proxylink.Link(nil), inst.pool...)
}

// ConnectedCount reports how many pool members are currently Connected,
// for PROXY INSTANCES/INSTANCE admin output.
func (inst *Instance) ConnectedCount() int {
	n := 0
	for _, l := range inst.pool {
		if l.State() == proxylink.StateConnected {
			n++
		}
	}
	return n
}

// ReconnectPolicy replaces any pool member that has sat Errored longer
// than RecoveryPeriod with a fresh Link in Connecting state. It does not
// dial — that is the run loop's job once it notices the new link — it
// only decides which slots need a fresh Link. Returns the replacement
// links so the caller can kick off their dials.
func (inst *Instance) ReconnectPolicy(now time.Time) []*proxylink.Link {
	var fresh []*proxylink.Link
	for i, l := range inst.pool {
		if l.State() == proxylink.StateErrored && now.Sub(l.ConnectStart()) > RecoveryPeriod {
			nl := inst.newLink()
			inst.pool[i] = nl
			fresh = append(fresh, nl)
		}
	}
	return fresh
}

// Dial opens a new connection to this instance using the dialer supplied
// at construction. The run loop calls this from a background goroutine
// for each fresh Link and feeds the result back in as a closure, per
// SPEC_FULL.md §5's "ordinary blocking goroutine-per-connection I/O".
func (inst *Instance) Dial() (net.Conn, error) {
	return inst.dialer.Dial("tcp", inst.Name)
}
