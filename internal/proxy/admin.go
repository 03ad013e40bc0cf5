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

package proxy

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuguruogu/redis/internal/command"
	"github.com/xuguruogu/redis/internal/instance"
	"github.com/xuguruogu/redis/internal/resp"
)

// handleNoRoute computes the reply for every command answered locally —
// both the ordinary no-route Redis commands (PING, ECHO, …) and the
// PROXY admin surface, spec.md §6. Always runs on the run loop.
func (p *Proxy) handleNoRoute(clientID int64, argv []string, spec command.Spec) *resp.Reply {
	switch strings.ToUpper(argv[0]) {
	case "PING":
		if len(argv) == 2 {
			return resp.NewBulkString([]byte(argv[1]))
		}
		return resp.NewSimpleString("PONG")
	case "ECHO":
		return resp.NewBulkString([]byte(argv[1]))
	case "AUTH":
		// The proxy authenticates to backends itself (instance auth-pass);
		// it has no client-facing password of its own to check.
		return resp.NewSimpleString("OK")
	case "TIME":
		now := time.Now()
		return resp.NewArray(
			resp.NewBulkString([]byte(strconv.FormatInt(now.Unix(), 10))),
			resp.NewBulkString([]byte(strconv.FormatInt(int64(now.Nanosecond()/1000), 10))),
		)
	case "COMMAND":
		return resp.NewArray()
	case "WAIT":
		return resp.NewInteger(0)
	case "PROXY":
		return p.handleProxyAdmin(argv[1:])
	default:
		return resp.NewErrorf("ERR not supported")
	}
}

func (p *Proxy) handleProxyAdmin(args []string) *resp.Reply {
	if len(args) == 0 {
		return resp.NewErrorf("ERR PROXY requires a subcommand")
	}
	switch strings.ToUpper(args[0]) {
	case "INSTANCES":
		return p.adminInstances()
	case "INSTANCE":
		if len(args) != 3 {
			return resp.NewErrorf("ERR PROXY INSTANCE requires <ip> <port>")
		}
		return p.adminInstance(args[1], args[2])
	case "ROUTER":
		if len(args) != 3 && len(args) != 4 {
			return resp.NewErrorf("ERR PROXY ROUTER requires <ip> <port> [<poolsize>]")
		}
		return p.adminRouter(args[1:])
	case "FLUSHCONFIG":
		if err := p.settings.Flush(); err != nil {
			return resp.NewErrorf("ERR %v", err)
		}
		return resp.NewSimpleString("OK")
	case "SET":
		if len(args) != 5 || strings.ToUpper(args[1]) != "AUTH-PASS" {
			return resp.NewErrorf("ERR PROXY SET auth-pass requires <ip> <port> <pass>")
		}
		return p.adminSetAuthPass(args[2], args[3], args[4])
	case "INFO":
		section := ""
		if len(args) == 2 {
			section = strings.ToLower(args[1])
		}
		return resp.NewBulkString([]byte(p.adminInfo(section)))
	default:
		return resp.NewErrorf("ERR unknown PROXY subcommand %q", args[0])
	}
}

func instanceStruct(inst *instance.Instance) *resp.Reply {
	links := inst.Links()
	pending := make([]*resp.Reply, len(links))
	for i, l := range links {
		pending[i] = resp.NewInteger(int64(l.PendingCount()))
	}
	return resp.NewArray(
		resp.NewBulkString([]byte(inst.Name)),
		resp.NewBulkString([]byte(inst.IP)),
		resp.NewInteger(int64(inst.Port)),
		resp.NewInteger(int64(inst.PoolSize())),
		resp.NewInteger(int64(inst.ConnectedCount())),
		resp.NewArray(pending...),
	)
}

func (p *Proxy) adminInstances() *resp.Reply {
	instances := p.directory.Instances()
	elems := make([]*resp.Reply, len(instances))
	for i, inst := range instances {
		elems[i] = instanceStruct(inst)
	}
	return resp.NewArray(elems...)
}

func (p *Proxy) adminInstance(ip, portStr string) *resp.Reply {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return resp.NewErrorf("ERR Invalid port %q", portStr)
	}
	inst := p.directory.Instance(ip + ":" + strconv.Itoa(port))
	if inst == nil {
		return resp.NewErrorf("ERR no such instance %s:%d", ip, port)
	}
	return instanceStruct(inst)
}

func (p *Proxy) adminRouter(args []string) *resp.Reply {
	ip := args[0]
	port, err := strconv.Atoi(args[1])
	if err != nil {
		return resp.NewErrorf("ERR Invalid port %q", args[1])
	}
	name := ip + ":" + strconv.Itoa(port)
	if p.directory.Instance(name) != nil {
		return resp.NewErrorf("ERR Duplicated instance %s", name)
	}
	poolSize := p.settings.PoolDefaultSize()
	if len(args) == 3 {
		poolSize, err = strconv.Atoi(args[2])
		if err != nil {
			return resp.NewErrorf("ERR Invalid poolsize %q", args[2])
		}
	}
	p.settings.AddRouter(ip, port, poolSize)
	if _, err := p.directory.EnsureInstance(ip, port); err != nil {
		return resp.NewErrorf("ERR %v", err)
	}
	return resp.NewSimpleString("OK")
}

func (p *Proxy) adminSetAuthPass(ip, portStr, pass string) *resp.Reply {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return resp.NewErrorf("ERR Invalid port %q", portStr)
	}
	p.settings.SetAuthPass(ip, port, pass)
	return resp.NewSimpleString("OK")
}

func (p *Proxy) adminInfo(section string) string {
	var b strings.Builder
	want := func(name string) bool { return section == "" || section == name }

	if want("server") {
		fmt.Fprintf(&b, "# Server\r\nredis_proxy_myid:%s\r\n\r\n", p.settings.MyID())
	}
	if want("clients") {
		fmt.Fprintf(&b, "# Clients\r\nconnected_clients:%d\r\n\r\n", len(p.clients))
	}
	if want("cpu") {
		fmt.Fprintf(&b, "# CPU\r\n\r\n")
	}
	if want("stats") {
		instances := p.directory.Instances()
		fmt.Fprintf(&b, "# Stats\r\ninstances:%d\r\n\r\n", len(instances))
	}
	if want("proxy") {
		fmt.Fprintf(&b, "# Proxy\r\nredirect_max:%d\r\nupdate_slots_min_limit_ms:%d\r\n\r\n",
			p.settings.RedirectMax(), p.settings.UpdateSlotsMinLimit().Milliseconds())
	}
	return b.String()
}
