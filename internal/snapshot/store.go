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

// Package snapshot persists the last-applied routing table to a small
// leveldb database so the proxy can seed its slot table from something
// better than a coin flip across a restart, while the first live CLUSTER
// NODES refresh remains authoritative (SPEC_FULL.md §4.I). Writes happen
// on a dedicated goroutine fed by a one-slot mailbox so Save never blocks
// the run loop that calls it.
package snapshot

import (
	"bytes"
	"encoding/gob"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	"gopkg.in/errgo.v1"
)

// snapshotKey is the single leveldb key this package ever touches — there
// is exactly one logical row, the latest topology.
var snapshotKey = []byte("topology")

// Store owns the leveldb handle and the async writer goroutine.
type Store struct {
	db  *leveldb.DB
	log *logrus.Entry

	mu      sync.Mutex
	pending *Table
	signal  chan struct{}
	done    chan struct{}
}

// Open opens (creating if necessary) the leveldb database at path and
// starts its writer goroutine.
func Open(path string, log *logrus.Entry) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errgo.Notef(err, "snapshot: opening %s", path)
	}
	s := &Store{
		db:     db,
		log:    log,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.writeLoop()
	return s, nil
}

// Load returns the last persisted Table, or ok=false if none exists yet —
// the caller falls back to random assignment in that case, exactly as
// spec.md describes for a fresh cluster.
func (s *Store) Load() (Table, bool, error) {
	data, err := s.db.Get(snapshotKey, nil)
	if err == leveldb.ErrNotFound {
		return Table{}, false, nil
	}
	if err != nil {
		return Table{}, false, errgo.Notef(err, "snapshot: reading")
	}
	var t Table
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&t); err != nil {
		return Table{}, false, errgo.Notef(err, "snapshot: decoding")
	}
	return t, true, nil
}

// Save enqueues t for asynchronous persistence. If a save is already
// pending when another arrives, the newer Table simply replaces it in the
// mailbox — only the latest topology is ever worth writing, so there is
// nothing to queue.
func (s *Store) Save(t Table) {
	s.mu.Lock()
	s.pending = &t
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Store) writeLoop() {
	defer close(s.done)
	for range s.signal {
		s.mu.Lock()
		t := s.pending
		s.pending = nil
		s.mu.Unlock()
		if t == nil {
			continue
		}
		if err := s.persist(*t); err != nil && s.log != nil {
			s.log.WithError(err).Warn("snapshot: persist failed")
		}
	}
}

func (s *Store) persist(t Table) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(t); err != nil {
		return errgo.Notef(err, "snapshot: encoding")
	}
	return s.db.Put(snapshotKey, buf.Bytes(), nil)
}

// Close stops the writer goroutine and closes the database. A save still
// in the mailbox when Close is called is written before the writer exits.
func (s *Store) Close() error {
	close(s.signal)
	<-s.done
	return s.db.Close()
}
