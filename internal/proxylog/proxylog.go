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

// Package proxylog sets up the proxy's component-tagged logrus loggers.
// The teacher's recon package logs through a hockeypuck-flavored wrapper
// around logrus with a per-call component-name argument
// (log.Debug(p.logName(GOSSIP), ...)); this repo depends on
// sirupsen/logrus directly and replaces the string-prefix convention with
// a "component" field, attached once per sub-logger at construction
// instead of threaded through every call site.
package proxylog

import "github.com/sirupsen/logrus"

// Component names, the equivalents of the teacher's GOSSIP/SERVE tags.
const (
	ComponentProxy    = "proxy"
	ComponentLink     = "link"
	ComponentInstance = "instance"
	ComponentRouting  = "routing"
	ComponentPipeline = "pipeline"
	ComponentAdmin    = "admin"
	ComponentSnapshot = "snapshot"
)

// Base is the root logger every component sub-logger derives from. It is a
// package-level var, like the teacher's bare `log` import, so call sites
// elsewhere in the proxy don't need to plumb a logger through every
// constructor explicitly — callers that do want one injected still can via
// For().
var Base = logrus.StandardLogger()

// For returns a logger tagged with the given component name.
func For(component string) *logrus.Entry {
	return Base.WithField("component", component)
}

// SetLevel adjusts the base logger's verbosity, used by the command-line
// entrypoint's -log-level flag.
func SetLevel(level logrus.Level) {
	Base.SetLevel(level)
}
