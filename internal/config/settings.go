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

// Package config loads and persists the proxy's directive file: one
// directive per line, `proxy myid`/`proxy router`/`proxy auth-pass`. The
// grammar is fixed and small enough that, like the teacher's settings
// layer, it gets a typed-getter struct over parsed state rather than a
// generic marshaler.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"gopkg.in/errgo.v1"
)

// Defaults, named the way the teacher names its DefaultX constants.
const (
	DefaultPoolSize           = 1
	DefaultRedirectMax        = 3
	DefaultUpdateSlotsMinLimit = time.Second
)

// RouterEntry is one `proxy router <host> <port> [<poolsize>]` line: a
// cluster seed node the proxy may contact for CLUSTER NODES refreshes, and
// the pool size the Instance for that node gets. An instance discovered by
// refresh rather than declared directly gets PoolDefaultSize instead.
type RouterEntry struct {
	Host     string
	Port     int
	PoolSize int
}

// AuthEntry is one `proxy auth-pass <host> <port> <password>` line.
type AuthEntry struct {
	Host     string
	Port     int
	Password string
}

// Settings is the proxy's parsed, typed configuration, loaded from and
// re-serializable back to a directive file.
type Settings struct {
	path string

	myID    string
	routers []RouterEntry
	auth    []AuthEntry

	poolDefaultSize     int
	redirectMax         int
	updateSlotsMinLimit time.Duration

	dirty bool
}

func newSettings() *Settings {
	return &Settings{
		poolDefaultSize:     DefaultPoolSize,
		redirectMax:         DefaultRedirectMax,
		updateSlotsMinLimit: DefaultUpdateSlotsMinLimit,
	}
}

// MyID is the proxy's 40-hex-character identity, generated once on first
// run and persisted thereafter.
func (s *Settings) MyID() string { return s.myID }

// Routers lists the configured seed nodes in file order.
func (s *Settings) Routers() []RouterEntry { return append([]RouterEntry(nil), s.routers...) }

// AuthPass returns the configured password for host:port, and whether one
// was configured.
func (s *Settings) AuthPass(host string, port int) (string, bool) {
	for _, a := range s.auth {
		if a.Host == host && a.Port == port {
			return a.Password, true
		}
	}
	return "", false
}

// AddRouter implements `PROXY ROUTER <ip> <port> [<poolsize>]`, appending
// a new seed-node entry. Callers must check for a duplicate host:port
// themselves; this method doesn't, since the directory is the source of
// truth for what's already known.
func (s *Settings) AddRouter(host string, port int, poolSize int) {
	s.routers = append(s.routers, RouterEntry{Host: host, Port: port, PoolSize: poolSize})
	s.dirty = true
}

// SetAuthPass implements `PROXY SET auth-pass`, replacing any existing
// entry for host:port.
func (s *Settings) SetAuthPass(host string, port int, password string) {
	for i, a := range s.auth {
		if a.Host == host && a.Port == port {
			s.auth[i].Password = password
			s.dirty = true
			return
		}
	}
	s.auth = append(s.auth, AuthEntry{Host: host, Port: port, Password: password})
	s.dirty = true
}

// Dirty reports whether settings have changed in memory since the last
// Flush, the signal the run loop's before-sleep hook uses to decide
// whether `PROXY FLUSHCONFIG` work is due.
func (s *Settings) Dirty() bool { return s.dirty }

// PoolDefaultSize is the pool size new instances get when the config
// doesn't say otherwise.
func (s *Settings) PoolDefaultSize() int { return s.poolDefaultSize }

// RedirectMax is the cap on MOVED/ASK re-dispatches for a single command.
func (s *Settings) RedirectMax() int { return s.redirectMax }

// UpdateSlotsMinLimit is the minimum interval between topology refreshes.
func (s *Settings) UpdateSlotsMinLimit() time.Duration { return s.updateSlotsMinLimit }

func generateMyID() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", errgo.Notef(err, "config: generating myid")
	}
	return hex.EncodeToString(buf), nil
}
