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

package config

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/errgo.v1"
)

var myIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)

// ErrInvalidDirective is the cause of every malformed directive-line error.
var ErrInvalidDirective = errgo.New("config: invalid directive")

// Load reads the directive file at path, generating and persisting a new
// `proxy myid` line if one is not already present. The config file must
// already exist and be writable — a missing or non-writable file is fatal,
// the same `access(path, W_OK)` check the original proxy makes at startup,
// rather than something Load silently papers over by creating one.
func Load(path string) (*Settings, error) {
	s := newSettings()
	s.path = path

	wf, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, errgo.Notef(err, "config: %s must exist and be writable", path)
	}
	wf.Close()

	f, err := os.Open(path)
	if err != nil {
		return nil, errgo.Notef(err, "config: opening %s", path)
	}
	defer f.Close()
	if err := s.parse(f); err != nil {
		return nil, errgo.Mask(err)
	}

	if s.myID == "" {
		id, err := generateMyID()
		if err != nil {
			return nil, errgo.Mask(err)
		}
		s.myID = id
	}

	if err := s.Flush(); err != nil {
		return nil, errgo.Mask(err)
	}
	return s, nil
}

func (s *Settings) parse(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := s.parseLine(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errgo.Notef(err, "config: reading directive file")
	}
	return nil
}

func (s *Settings) parseLine(line string) error {
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "proxy" {
		return errgo.WithCausef(nil, ErrInvalidDirective, "%q", line)
	}
	switch fields[1] {
	case "myid":
		if len(fields) != 3 || !myIDPattern.MatchString(fields[2]) {
			return errgo.WithCausef(nil, ErrInvalidDirective, "proxy myid: %q", line)
		}
		s.myID = strings.ToLower(fields[2])

	case "router":
		if len(fields) < 4 || len(fields) > 5 {
			return errgo.WithCausef(nil, ErrInvalidDirective, "proxy router: %q", line)
		}
		port, err := strconv.Atoi(fields[3])
		if err != nil {
			return errgo.WithCausef(nil, ErrInvalidDirective, "proxy router: bad port %q", fields[3])
		}
		poolSize := s.poolDefaultSize
		if len(fields) == 5 {
			poolSize, err = strconv.Atoi(fields[4])
			if err != nil {
				return errgo.WithCausef(nil, ErrInvalidDirective, "proxy router: bad poolsize %q", fields[4])
			}
		}
		s.routers = append(s.routers, RouterEntry{Host: fields[2], Port: port, PoolSize: poolSize})

	case "auth-pass":
		if len(fields) != 5 {
			return errgo.WithCausef(nil, ErrInvalidDirective, "proxy auth-pass: %q", line)
		}
		port, err := strconv.Atoi(fields[3])
		if err != nil {
			return errgo.WithCausef(nil, ErrInvalidDirective, "proxy auth-pass: bad port %q", fields[3])
		}
		s.SetAuthPass(fields[2], port, fields[4])

	default:
		return errgo.WithCausef(nil, ErrInvalidDirective, "unknown directive %q", line)
	}
	return nil
}

// Flush re-serializes the settings to their backing file in the same
// directive grammar they were parsed from. This is `PROXY FLUSHCONFIG`.
func (s *Settings) Flush() error {
	f, err := os.Create(s.path)
	if err != nil {
		return errgo.Notef(err, "config: creating %s", s.path)
	}
	defer f.Close()
	if err := s.write(f); err != nil {
		return errgo.Mask(err)
	}
	s.dirty = false
	return nil
}

func (s *Settings) write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("proxy myid " + s.myID + "\n"); err != nil {
		return errgo.Mask(err)
	}
	for _, r := range s.routers {
		if _, err := bw.WriteString("proxy router " + r.Host + " " + strconv.Itoa(r.Port) + " " + strconv.Itoa(r.PoolSize) + "\n"); err != nil {
			return errgo.Mask(err)
		}
	}
	for _, a := range s.auth {
		if _, err := bw.WriteString("proxy auth-pass " + a.Host + " " + strconv.Itoa(a.Port) + " " + a.Password + "\n"); err != nil {
			return errgo.Mask(err)
		}
	}
	return errgo.Mask(bw.Flush())
}
