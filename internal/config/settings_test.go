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
	"os"
	"path/filepath"
	"testing"

	"github.com/bmizerany/assert"
)

func TestLoadGeneratesMyIDOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxy.conf")
	assert.Equal(t, nil, os.WriteFile(path, nil, 0644))

	s, err := Load(path)
	assert.Equal(t, nil, err)
	assert.Equal(t, 40, len(s.MyID()))

	data, err := os.ReadFile(path)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, len(data) > 0)

	// Loading again must reuse the persisted id, not regenerate it.
	s2, err := Load(path)
	assert.Equal(t, nil, err)
	assert.Equal(t, s.MyID(), s2.MyID())
}

func TestLoadMissingFileIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.conf")

	_, err := Load(path)
	assert.NotEqual(t, nil, err)

	_, statErr := os.Stat(path)
	assert.Equal(t, true, os.IsNotExist(statErr))
}

func TestLoadNonWritableFileIsFatal(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores file permission bits")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "proxy.conf")
	assert.Equal(t, nil, os.WriteFile(path, []byte("proxy myid "+repeat("ab", 20)+"\n"), 0444))

	_, err := Load(path)
	assert.NotEqual(t, nil, err)
}

func TestParseRouterAndAuth(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxy.conf")
	contents := "proxy myid " + "ab" + repeat("cd", 19) + "\n" +
		"proxy router 10.0.0.1 7000 4\n" +
		"proxy router 10.0.0.2 7001\n" +
		"proxy auth-pass 10.0.0.1 7000 s3cret\n"
	assert.Equal(t, nil, os.WriteFile(path, []byte(contents), 0644))

	s, err := Load(path)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(s.Routers()))
	assert.Equal(t, "10.0.0.1", s.Routers()[0].Host)
	assert.Equal(t, 4, s.Routers()[0].PoolSize)
	assert.Equal(t, DefaultPoolSize, s.Routers()[1].PoolSize)

	pass, ok := s.AuthPass("10.0.0.1", 7000)
	assert.Equal(t, true, ok)
	assert.Equal(t, "s3cret", pass)

	_, ok = s.AuthPass("10.0.0.2", 7001)
	assert.Equal(t, false, ok)
}

func TestFlushConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxy.conf")
	assert.Equal(t, nil, os.WriteFile(path, nil, 0644))
	s, err := Load(path)
	assert.Equal(t, nil, err)

	s.SetAuthPass("10.0.0.5", 7000, "hunter2")
	assert.Equal(t, nil, s.Flush())

	s2, err := Load(path)
	assert.Equal(t, nil, err)
	pass, ok := s2.AuthPass("10.0.0.5", 7000)
	assert.Equal(t, true, ok)
	assert.Equal(t, "hunter2", pass)
	assert.Equal(t, s.MyID(), s2.MyID())
}

func TestInvalidDirectiveRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxy.conf")
	assert.Equal(t, nil, os.WriteFile(path, []byte("proxy bogus thing\n"), 0644))
	_, err := Load(path)
	assert.NotEqual(t, nil, err)
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
