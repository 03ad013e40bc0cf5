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

package instance

import (
	"errors"
	"net"
	"testing"

	"github.com/bmizerany/assert"

	"github.com/xuguruogu/redis/internal/proxylink"
)

type fakeDialer struct{}

func (fakeDialer) Dial(network, address string) (net.Conn, error) {
	return nil, errors.New("fake dialer: no network in tests")
}

func TestNewResolvesAndBuildsPool(t *testing.T) {
	inst, err := New("127.0.0.1", 7000, 3, "", fakeDialer{})
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, inst.PoolSize())
	assert.Equal(t, "127.0.0.1:7000", inst.Name)
}

func TestNewRejectsBadHost(t *testing.T) {
	_, err := New("not a host!!", 7000, 1, "", fakeDialer{})
	assert.NotEqual(t, nil, err)
}

func TestLinkForIsDeterministic(t *testing.T) {
	inst, err := New("127.0.0.1", 7000, 4, "", fakeDialer{})
	assert.Equal(t, nil, err)
	l1 := inst.LinkFor(101)
	l2 := inst.LinkFor(101)
	assert.Equal(t, true, l1 == l2)

	// Different client ids congruent mod poolsize land on the same link.
	l3 := inst.LinkFor(5)
	l4 := inst.LinkFor(9)
	assert.Equal(t, true, l3 == l4)
}

func TestReconnectPolicyReplacesStaleErroredLinks(t *testing.T) {
	inst, err := New("127.0.0.1", 7000, 1, "", fakeDialer{})
	assert.Equal(t, nil, err)

	original := inst.pool[0]
	original.MarkErrored(errors.New("boom"))

	// Not yet past the recovery period.
	fresh := inst.ReconnectPolicy(original.ConnectStart().Add(RecoveryPeriod / 2))
	assert.Equal(t, 0, len(fresh))
	assert.Equal(t, true, inst.pool[0] == original)

	fresh = inst.ReconnectPolicy(original.ConnectStart().Add(2 * RecoveryPeriod))
	assert.Equal(t, 1, len(fresh))
	assert.Equal(t, true, inst.pool[0] != original)
	assert.Equal(t, proxylink.StateConnecting, inst.pool[0].State())
}

func TestConnectedCount(t *testing.T) {
	inst, err := New("127.0.0.1", 7000, 2, "", fakeDialer{})
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, inst.ConnectedCount())

	// Simulate a successful dial by attaching one end of an in-memory pipe;
	// Attach only needs something satisfying net.Conn.
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	inst.pool[0].Attach(c1)
	assert.Equal(t, 1, inst.ConnectedCount())
}
