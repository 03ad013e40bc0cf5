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
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/xuguruogu/redis/internal/config"
	"github.com/xuguruogu/redis/internal/proxy"
	"github.com/xuguruogu/redis/internal/proxylog"
	"github.com/xuguruogu/redis/internal/snapshot"
)

func main() {
	listenAddr := flag.String("listen", ":6380", "client-facing address to bind")
	configPath := flag.String("config", "redis-proxy.conf", "path to the directive config file")
	snapshotPath := flag.String("snapshot", "", "path to the topology snapshot leveldb directory (empty disables it)")
	logLevel := flag.String("log-level", "info", "logrus level: debug, info, warn, error")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis-proxy: invalid -log-level %q: %v\n", *logLevel, err)
		os.Exit(1)
	}
	proxylog.SetLevel(level)
	log := proxylog.For(proxylog.ComponentProxy)

	settings, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis-proxy: loading config %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	var snapStore *snapshot.Store
	if *snapshotPath != "" {
		snapStore, err = snapshot.Open(*snapshotPath, proxylog.For(proxylog.ComponentSnapshot))
		if err != nil {
			fmt.Fprintf(os.Stderr, "redis-proxy: opening snapshot store %s: %v\n", *snapshotPath, err)
			os.Exit(1)
		}
		defer snapStore.Close()
	}

	p := proxy.New(settings, snapStore, *listenAddr)
	if err := p.Start(); err != nil {
		log.WithError(err).Error("redis-proxy: failed to start")
		os.Exit(1)
	}
	log.WithField("listen", *listenAddr).Info("redis-proxy: started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("redis-proxy: shutting down")
	if err := p.Stop(); err != nil {
		log.WithError(err).Error("redis-proxy: shutdown error")
		os.Exit(1)
	}
}
