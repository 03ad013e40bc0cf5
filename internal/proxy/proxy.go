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

// Package proxy wires the command table, request pipeline, routing
// directory, backend links and client connections into the single
// process spec.md describes: one run-loop goroutine owns all of that
// state, and every other goroutine (client readers, backend readers,
// backend dialers, the reconnect/before-sleep ticker) reaches it only by
// pushing a closure onto one buffered channel. The snapshot store's
// writer goroutine never touches that state; the run loop hands it
// finished Tables through Store.Save.
//
// The pattern is the teacher's own: recon/peer.go serializes every
// prefix-tree mutation through Peer.handleCmds(), a goroutine that reads
// closures off a reconCmdReq channel and runs them one at a time while
// callers block on a response channel. This package generalizes that to
// a fire-and-forget events channel (callers that need to observe a
// result close a completion channel from inside their closure instead
// of receiving a value back), because most of proxy's closures — a
// parsed client request, a chunk of backend bytes — have nothing useful
// to hand back to the goroutine that read them off the wire.
package proxy

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"

	"github.com/xuguruogu/redis/internal/config"
	"github.com/xuguruogu/redis/internal/instance"
	"github.com/xuguruogu/redis/internal/pipeline"
	"github.com/xuguruogu/redis/internal/proxylink"
	"github.com/xuguruogu/redis/internal/proxylog"
	"github.com/xuguruogu/redis/internal/routing"
	"github.com/xuguruogu/redis/internal/snapshot"
)

// BeforeSleepInterval is how often the run loop's before-sleep hook and
// reconnect policy run, spec.md §4.G/§5's "periodic tick".
const BeforeSleepInterval = 100 * time.Millisecond

// eventQueueDepth bounds how many pending closures the run loop will
// buffer before a sender blocks. Generous enough that a burst of client
// requests or backend bytes never stalls their goroutine waiting for the
// run loop to catch up under ordinary load.
const eventQueueDepth = 4096

// Proxy is the top-level object: one per process. It owns the listener,
// the directory, the pipeline, the snapshot store and every backend
// instance, and runs its single-threaded core on the goroutine started
// by Start.
type Proxy struct {
	settings *config.Settings
	snapStore *snapshot.Store

	directory *routing.Directory
	pipeline  *pipeline.Pipeline

	log *logrus.Entry

	events chan func()

	clients      map[int64]*clientConn
	nextClientID int64

	pendingWriteLinks map[*proxylink.Link]struct{}

	listenAddr string
	listener   net.Listener

	t tomb.Tomb
}

// netDialer adapts net.Dialer to instance.Dialer so production Instances
// open real TCP connections; the instance, pipeline and routing tests
// supply their own fake Dialer.
type netDialer struct {
	d net.Dialer
}

func (n netDialer) Dial(network, address string) (net.Conn, error) {
	return n.d.Dial(network, address)
}

// New builds a Proxy from loaded settings and an opened snapshot store.
// listenAddr is the client-facing "host:port" to bind in Start.
func New(settings *config.Settings, snapStore *snapshot.Store, listenAddr string) *Proxy {
	log := proxylog.For(proxylog.ComponentProxy)
	p := &Proxy{
		settings:          settings,
		snapStore:         snapStore,
		log:               log,
		events:            make(chan func(), eventQueueDepth),
		clients:           make(map[int64]*clientConn),
		pendingWriteLinks: make(map[*proxylink.Link]struct{}),
		listenAddr:        listenAddr,
	}
	p.directory = routing.NewDirectory(settings.UpdateSlotsMinLimit(), p.newInstance)
	p.pipeline = pipeline.New(p.directory, settings.RedirectMax(), p.deliver)
	p.pipeline.SetOnLinkWrite(p.markLinkPendingWrite)
	return p
}

// newInstance is the routing.Factory every EnsureInstance call uses,
// whether driven by a CLUSTER NODES refresh, a MOVED/ASK redirect or a
// PROXY ROUTER admin command. It always runs on the run loop goroutine.
func (p *Proxy) newInstance(ip string, port int) (*instance.Instance, error) {
	authPass, _ := p.settings.AuthPass(ip, port)
	poolSize := p.settings.PoolDefaultSize()
	for _, r := range p.settings.Routers() {
		if r.Host == ip && r.Port == port {
			poolSize = r.PoolSize
			break
		}
	}
	inst, err := instance.New(ip, port, poolSize, authPass, netDialer{})
	if err != nil {
		return nil, err
	}
	for _, l := range inst.Links() {
		p.dialLink(inst, l)
	}
	return inst, nil
}

// markLinkPendingWrite is the pipeline's onLinkWrite hook: add link to
// pending_write_links so the next before-sleep tick flushes it.
func (p *Proxy) markLinkPendingWrite(l *proxylink.Link) {
	p.pendingWriteLinks[l] = struct{}{}
}

// Start seeds the directory from the snapshot cache (or random
// assignment if none exists), binds the listener, and launches the
// accept loop, the before-sleep ticker and the run loop itself under one
// tomb.
func (p *Proxy) Start() error {
	seeded, err := p.seedDirectory()
	if err != nil {
		return err
	}

	for _, r := range p.settings.Routers() {
		if _, err := p.directory.EnsureInstance(r.Host, r.Port); err != nil {
			p.log.WithError(err).WithField("router", r.Host).Warn("proxy: seed router failed")
		}
	}

	// If nothing seeded the slot table from a snapshot, spread it
	// randomly across whatever instances configured routers gave us —
	// spec.md §9's Open Question resolution: accept traffic immediately
	// and let MOVED correct misrouted slots, rather than waiting for the
	// first live CLUSTER NODES refresh.
	if !seeded {
		if instances := p.directory.Instances(); len(instances) > 0 {
			p.directory.RandomAssignment(instances)
		}
	}

	ln, err := net.Listen("tcp", p.listenAddr)
	if err != nil {
		return err
	}
	p.listener = ln

	p.t.Go(p.runLoop)
	p.t.Go(func() error { return p.acceptLoop(ln) })
	p.t.Go(p.tickerLoop)
	return nil
}

// Stop kills the tomb, closes the listener and waits for every goroutine
// it owns to exit.
func (p *Proxy) Stop() error {
	p.t.Kill(nil)
	p.listener.Close()
	return p.t.Wait()
}

// seedDirectory loads the last snapshot (if any) before the first live
// CLUSTER NODES refresh lands, matching SPEC_FULL.md §4.I. A missing
// snapshot isn't an error — the directory simply starts empty and waits
// for configured routers/refreshes to populate it, per the spec's Open
// Question resolution to accept traffic immediately rather than block on
// the first refresh. The returned bool reports whether a snapshot was
// actually applied, so Start knows whether it still needs to fall back to
// RandomAssignment.
func (p *Proxy) seedDirectory() (bool, error) {
	if p.snapStore == nil {
		return false, nil
	}
	table, ok, err := p.snapStore.Load()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := table.ApplyTo(p.directory); err != nil {
		return false, err
	}
	return true, nil
}

// runLoop is the single goroutine that owns every piece of proxy state.
// It does nothing but pull closures off events and run them — the exact
// generalization of recon/peer.go's handleCmds().
func (p *Proxy) runLoop() error {
	for {
		select {
		case <-p.t.Dying():
			return nil
		case fn := <-p.events:
			fn()
		}
	}
}

// tickerLoop drives the before-sleep hook and the reconnect policy on a
// fixed period, submitting each as a closure so the work itself still
// runs on the run loop goroutine.
func (p *Proxy) tickerLoop() error {
	ticker := time.NewTicker(BeforeSleepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.t.Dying():
			return nil
		case now := <-ticker.C:
			done := make(chan struct{})
			select {
			case p.events <- func() { p.beforeSleep(now); close(done) }:
				<-done
			case <-p.t.Dying():
				return nil
			}
		}
	}
}
