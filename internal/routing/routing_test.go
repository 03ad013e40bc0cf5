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

package routing

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/bmizerany/assert"

	"github.com/xuguruogu/redis/internal/instance"
)

type fakeDialer struct{}

func (fakeDialer) Dial(network, address string) (net.Conn, error) {
	return nil, errors.New("fake dialer: no network in tests")
}

func newTestDirectory() *Directory {
	factory := func(ip string, port int) (*instance.Instance, error) {
		return instance.New(ip, port, 1, "", fakeDialer{})
	}
	return NewDirectory(time.Second, factory)
}

const threeNodeOutput = `07c37dfeb235213a872192d90877d0cd55635b91 127.0.0.1:7000@17000 myself,master - 0 0 1 connected 0-5460
67ed2db8d677e59ec4a4cefb06858cf2a1a89fa1 127.0.0.1:7001@17001 master - 0 1426238316232 2 connected 5461-10922
292f8b365bb7edb5e285caf0b7e6ddc7265d2f4f 127.0.0.1:7002@17002 master - 0 1426238317741 3 connected 10923-16383
6ec23923021cf3ffec47632106199cb7f496ce01 127.0.0.1:7003@17003 slave 67ed2db8d677e59ec4a4cefb06858cf2a1a89fa1 0 1426238318245 2 connected
`

func TestApplyClusterNodesAssignsSlotRanges(t *testing.T) {
	d := newTestDirectory()
	self, err := instance.New("127.0.0.1", 7000, 1, "", fakeDialer{})
	assert.Equal(t, nil, err)

	err = d.ApplyClusterNodes(threeNodeOutput, self)
	assert.Equal(t, nil, err)

	assert.Equal(t, "127.0.0.1:7000", d.Slot(0).Name)
	assert.Equal(t, "127.0.0.1:7000", d.Slot(5460).Name)
	assert.Equal(t, "127.0.0.1:7001", d.Slot(5461).Name)
	assert.Equal(t, "127.0.0.1:7002", d.Slot(16383).Name)

	// The slave line contributed no slot ranges and no instance.
	assert.Equal(t, (*instance.Instance)(nil), d.Instance("127.0.0.1:7003"))
	assert.Equal(t, 3, len(d.Instances()))
}

func TestApplyClusterNodesIsIdempotent(t *testing.T) {
	d := newTestDirectory()
	self, err := instance.New("127.0.0.1", 7000, 1, "", fakeDialer{})
	assert.Equal(t, nil, err)

	assert.Equal(t, nil, d.ApplyClusterNodes(threeNodeOutput, self))
	before := d.Slot(0)
	beforeHeld := before.SlotsHeld

	assert.Equal(t, nil, d.ApplyClusterNodes(threeNodeOutput, self))
	assert.Equal(t, true, before == d.Slot(0))
	assert.Equal(t, beforeHeld, d.Slot(0).SlotsHeld)
	assert.Equal(t, 3, len(d.Instances()))
}

func TestApplyClusterNodesSkipsMigratingImportingSlots(t *testing.T) {
	const output = `07c37dfeb235213a872192d90877d0cd55635b91 127.0.0.1:7000@17000 myself,master - 0 0 1 connected 0-100 [101-<-67ed2db8d677e59ec4a4cefb06858cf2a1a89fa1]
`
	d := newTestDirectory()
	self, err := instance.New("127.0.0.1", 7000, 1, "", fakeDialer{})
	assert.Equal(t, nil, err)

	assert.Equal(t, nil, d.ApplyClusterNodes(output, self))
	assert.Equal(t, "127.0.0.1:7000", d.Slot(100).Name)
	assert.Equal(t, (*instance.Instance)(nil), d.Slot(101))
}

func TestApplyClusterNodesMyselfEmptyAddressUsesSelf(t *testing.T) {
	const output = `07c37dfeb235213a872192d90877d0cd55635b91 @0 myself,master - 0 0 1 connected 0-100
`
	d := newTestDirectory()
	self, err := instance.New("127.0.0.1", 7000, 1, "", fakeDialer{})
	assert.Equal(t, nil, err)

	assert.Equal(t, nil, d.ApplyClusterNodes(output, self))
	assert.Equal(t, true, self == d.Slot(50))
}

func TestCollectGarbageRemovesZeroSlotInstances(t *testing.T) {
	d := newTestDirectory()
	self, err := instance.New("127.0.0.1", 7000, 1, "", fakeDialer{})
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, d.ApplyClusterNodes(threeNodeOutput, self))

	const reassigned = `07c37dfeb235213a872192d90877d0cd55635b91 127.0.0.1:7000@17000 myself,master - 0 0 1 connected 0-16383
`
	assert.Equal(t, nil, d.ApplyClusterNodes(reassigned, self))
	assert.Equal(t, 1, len(d.Instances()))
	assert.Equal(t, (*instance.Instance)(nil), d.Instance("127.0.0.1:7001"))
}

func TestRandomAssignmentCoversEveryInstance(t *testing.T) {
	d := newTestDirectory()
	a, err := instance.New("127.0.0.1", 7000, 1, "", fakeDialer{})
	assert.Equal(t, nil, err)
	b, err := instance.New("127.0.0.1", 7001, 1, "", fakeDialer{})
	assert.Equal(t, nil, err)

	d.RandomAssignment([]*instance.Instance{a, b})
	seen := map[string]bool{}
	for s := 0; s < 16384; s++ {
		seen[d.Slot(s).Name] = true
	}
	assert.Equal(t, true, seen["127.0.0.1:7000"] && seen["127.0.0.1:7001"])
}

func TestRefreshFlagAndRateLimit(t *testing.T) {
	d := newTestDirectory()
	now := time.Unix(1000, 0)

	assert.Equal(t, false, d.DueForRefresh(now))
	d.FlagRefresh()
	assert.Equal(t, true, d.DueForRefresh(now))

	d.MarkRefreshed(now)
	assert.Equal(t, false, d.DueForRefresh(now))

	d.FlagRefresh()
	assert.Equal(t, false, d.DueForRefresh(now.Add(500*time.Millisecond)))
	assert.Equal(t, true, d.DueForRefresh(now.Add(2*time.Second)))
}
