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

package pipeline

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/bmizerany/assert"

	"github.com/xuguruogu/redis/internal/command"
	"github.com/xuguruogu/redis/internal/instance"
	"github.com/xuguruogu/redis/internal/resp"
	"github.com/xuguruogu/redis/internal/routing"
)

type fakeDialer struct{}

func (fakeDialer) Dial(network, address string) (net.Conn, error) {
	return nil, errors.New("fake dialer: no network in tests")
}

func newTestDirectory() *routing.Directory {
	factory := func(ip string, port int) (*instance.Instance, error) {
		return instance.New(ip, port, 1, "", fakeDialer{})
	}
	return routing.NewDirectory(time.Millisecond, factory)
}

func encodeReply(r *resp.Reply) []byte {
	return resp.Encode(nil, r)
}

func TestDispatchNotSupported(t *testing.T) {
	d := newTestDirectory()
	var delivered []*resp.Reply
	p := New(d, 3, func(_ int64, r *resp.Reply) { delivered = append(delivered, r) })

	spec, _ := command.Lookup("CLUSTER")
	p.Dispatch(1, []string{"CLUSTER", "NODES"}, spec)

	assert.Equal(t, 1, len(delivered))
	assert.Equal(t, true, delivered[0].IsError())
}

func TestDispatchSelect(t *testing.T) {
	d := newTestDirectory()
	var delivered []*resp.Reply
	p := New(d, 3, func(_ int64, r *resp.Reply) { delivered = append(delivered, r) })

	spec, _ := command.Lookup("SELECT")
	p.Dispatch(1, []string{"SELECT", "0"}, spec)
	assert.Equal(t, "OK", string(delivered[0].Str))

	p.Dispatch(1, []string{"SELECT", "1"}, spec)
	assert.Equal(t, true, delivered[1].IsError())
}

func TestDispatchFirstKeyRouteSuccess(t *testing.T) {
	d := newTestDirectory()
	inst, err := d.EnsureInstance("127.0.0.1", 7000)
	assert.Equal(t, nil, err)
	d.SetSlot(command.Slot("foo"), inst)

	var delivered *resp.Reply
	p := New(d, 3, func(_ int64, r *resp.Reply) { delivered = r })

	spec, _ := command.Lookup("GET")
	p.Dispatch(42, []string{"GET", "foo"}, spec)

	link := inst.LinkFor(42)
	assert.Equal(t, true, link.PendingWrites())
	err = link.FeedRead(encodeReply(resp.NewBulkString([]byte("bar"))))
	assert.Equal(t, nil, err)

	assert.Equal(t, resp.BulkString, delivered.Kind)
	assert.Equal(t, "bar", string(delivered.Str))
}

func TestDispatchFirstKeyRouteNoInstanceAssigned(t *testing.T) {
	d := newTestDirectory()
	var delivered *resp.Reply
	p := New(d, 3, func(_ int64, r *resp.Reply) { delivered = r })

	spec, _ := command.Lookup("GET")
	p.Dispatch(1, []string{"GET", "unassigned-key"}, spec)
	assert.Equal(t, true, delivered.IsError())
}

func TestMultiKeyFanOutIntegerSum(t *testing.T) {
	d := newTestDirectory()
	instA, err := d.EnsureInstance("127.0.0.1", 7000)
	assert.Equal(t, nil, err)
	instB, err := d.EnsureInstance("127.0.0.1", 7001)
	assert.Equal(t, nil, err)
	d.SetSlot(command.Slot("k1"), instA)
	d.SetSlot(command.Slot("k2"), instB)

	var delivered *resp.Reply
	p := New(d, 3, func(_ int64, r *resp.Reply) { delivered = r })

	spec, _ := command.Lookup("DEL")
	p.Dispatch(7, []string{"DEL", "k1", "k2"}, spec)

	assert.Equal(t, nil, instA.LinkFor(7).FeedRead(encodeReply(resp.NewInteger(1))))
	assert.Equal(t, (*resp.Reply)(nil), delivered)
	assert.Equal(t, nil, instB.LinkFor(7).FeedRead(encodeReply(resp.NewInteger(0))))

	assert.Equal(t, resp.Integer, delivered.Kind)
	assert.Equal(t, int64(1), delivered.Int)
}

func TestMovedRedirectRedispatchesAndFlagsRefresh(t *testing.T) {
	d := newTestDirectory()
	instA, err := d.EnsureInstance("127.0.0.1", 7000)
	assert.Equal(t, nil, err)
	d.SetSlot(command.Slot("foo"), instA)

	var delivered *resp.Reply
	p := New(d, 3, func(_ int64, r *resp.Reply) { delivered = r })

	spec, _ := command.Lookup("GET")
	p.Dispatch(1, []string{"GET", "foo"}, spec)

	moved := resp.NewError("MOVED 100 127.0.0.1:7001")
	assert.Equal(t, nil, instA.LinkFor(1).FeedRead(encodeReply(moved)))
	assert.Equal(t, (*resp.Reply)(nil), delivered)
	assert.Equal(t, true, d.DueForRefresh(time.Now().Add(time.Second)))

	instB := d.Instance("127.0.0.1:7001")
	assert.NotEqual(t, nil, instB)
	assert.Equal(t, nil, instB.LinkFor(1).FeedRead(encodeReply(resp.NewBulkString([]byte("bar")))))
	assert.Equal(t, "bar", string(delivered.Str))
}

func TestRedirectCapExhaustedSurfacesRawError(t *testing.T) {
	d := newTestDirectory()
	instA, err := d.EnsureInstance("127.0.0.1", 7000)
	assert.Equal(t, nil, err)
	d.SetSlot(command.Slot("foo"), instA)

	var delivered *resp.Reply
	p := New(d, 1, func(_ int64, r *resp.Reply) { delivered = r })

	spec, _ := command.Lookup("GET")
	p.Dispatch(1, []string{"GET", "foo"}, spec)

	moved1 := resp.NewError("MOVED 100 127.0.0.1:7001")
	assert.Equal(t, nil, instA.LinkFor(1).FeedRead(encodeReply(moved1)))

	instB := d.Instance("127.0.0.1:7001")
	moved2 := resp.NewError("MOVED 100 127.0.0.1:7002")
	assert.Equal(t, nil, instB.LinkFor(1).FeedRead(encodeReply(moved2)))

	assert.Equal(t, true, delivered.IsError())
	assert.Equal(t, "MOVED 100 127.0.0.1:7002", string(delivered.Str))
}

// TestMGETFanOutPreservesKeyOrder is scenario S3: two of three keys share
// a backend, replies arrive interleaved with the third key's backend, and
// the client must still see one Array in original key order.
func TestMGETFanOutPreservesKeyOrder(t *testing.T) {
	d := newTestDirectory()
	instA, err := d.EnsureInstance("127.0.0.1", 7000)
	assert.Equal(t, nil, err)
	instB, err := d.EnsureInstance("127.0.0.1", 7001)
	assert.Equal(t, nil, err)
	d.SetSlot(command.Slot("a"), instA)
	d.SetSlot(command.Slot("c"), instA)
	d.SetSlot(command.Slot("b"), instB)

	var delivered *resp.Reply
	p := New(d, 3, func(_ int64, r *resp.Reply) { delivered = r })

	spec, _ := command.Lookup("MGET")
	p.Dispatch(1, []string{"MGET", "a", "b", "c"}, spec)

	linkA := instA.LinkFor(1)
	linkB := instB.LinkFor(1)

	// A's two requests (for "a" then "c") arrive in FIFO order on the
	// same connection; B's single request replies in between.
	assert.Equal(t, nil, linkA.FeedRead(encodeReply(resp.NewArray(resp.NewBulkString([]byte("1"))))))
	assert.Equal(t, (*resp.Reply)(nil), delivered)
	assert.Equal(t, nil, linkB.FeedRead(encodeReply(resp.NewArray(resp.NewBulkString([]byte("2"))))))
	assert.Equal(t, (*resp.Reply)(nil), delivered)
	assert.Equal(t, nil, linkA.FeedRead(encodeReply(resp.NewArray(resp.NewBulkString([]byte("3"))))))

	assert.Equal(t, resp.Array, delivered.Kind)
	assert.Equal(t, 3, len(delivered.Elems))
	assert.Equal(t, "1", string(delivered.Elems[0].Str))
	assert.Equal(t, "2", string(delivered.Elems[1].Str))
	assert.Equal(t, "3", string(delivered.Elems[2].Str))
}

// TestPipelineOrderingAcrossBackends is scenario S5: a pipelined client
// sends GET a (routed to a slow backend) then GET b (routed to a fast
// one). B's reply must wait behind A's in the delivered order.
func TestPipelineOrderingAcrossBackends(t *testing.T) {
	d := newTestDirectory()
	instA, err := d.EnsureInstance("127.0.0.1", 7000)
	assert.Equal(t, nil, err)
	instB, err := d.EnsureInstance("127.0.0.1", 7001)
	assert.Equal(t, nil, err)
	d.SetSlot(command.Slot("a"), instA)
	d.SetSlot(command.Slot("b"), instB)

	var delivered []*resp.Reply
	p := New(d, 3, func(_ int64, r *resp.Reply) { delivered = append(delivered, r) })

	spec, _ := command.Lookup("GET")
	p.Dispatch(1, []string{"GET", "a"}, spec)
	p.Dispatch(1, []string{"GET", "b"}, spec)

	// B (fast) replies first; nothing may be delivered yet since A's
	// reply, enqueued first, hasn't arrived.
	assert.Equal(t, nil, instB.LinkFor(1).FeedRead(encodeReply(resp.NewBulkString([]byte("vb")))))
	assert.Equal(t, 0, len(delivered))

	// A (slow) finally replies; both drain now, in enqueue order.
	assert.Equal(t, nil, instA.LinkFor(1).FeedRead(encodeReply(resp.NewBulkString([]byte("va")))))
	assert.Equal(t, 2, len(delivered))
	assert.Equal(t, "va", string(delivered[0].Str))
	assert.Equal(t, "vb", string(delivered[1].Str))
}

// TestASKRedirectSendsASKingThenRetriesOnce is scenario S6.
func TestASKRedirectSendsASKingThenRetriesOnce(t *testing.T) {
	d := newTestDirectory()
	instA, err := d.EnsureInstance("127.0.0.1", 7000)
	assert.Equal(t, nil, err)
	d.SetSlot(command.Slot("foo"), instA)

	var delivered *resp.Reply
	p := New(d, 3, func(_ int64, r *resp.Reply) { delivered = r })

	spec, _ := command.Lookup("GET")
	p.Dispatch(1, []string{"GET", "foo"}, spec)

	ask := resp.NewError("ASK 77 127.0.0.1:7001")
	assert.Equal(t, nil, instA.LinkFor(1).FeedRead(encodeReply(ask)))

	instB := d.Instance("127.0.0.1:7001")
	assert.NotEqual(t, nil, instB)
	linkB := instB.LinkFor(1)
	// ASKING was enqueued ahead of the re-sent GET on the new link.
	assert.Equal(t, nil, linkB.FeedRead(encodeReply(resp.NewSimpleString("OK"))))
	assert.Equal(t, (*resp.Reply)(nil), delivered)
	assert.Equal(t, nil, linkB.FeedRead(encodeReply(resp.NewBulkString([]byte("bar")))))
	assert.Equal(t, "bar", string(delivered.Str))
}

func TestFreeClientDropsDelivery(t *testing.T) {
	d := newTestDirectory()
	inst, err := d.EnsureInstance("127.0.0.1", 7000)
	assert.Equal(t, nil, err)
	d.SetSlot(command.Slot("foo"), inst)

	delivered := false
	p := New(d, 3, func(_ int64, r *resp.Reply) { delivered = true })

	spec, _ := command.Lookup("GET")
	p.Dispatch(9, []string{"GET", "foo"}, spec)
	p.FreeClient(9)

	err = inst.LinkFor(9).FeedRead(encodeReply(resp.NewBulkString([]byte("bar"))))
	assert.Equal(t, nil, err)
	assert.Equal(t, false, delivered)
}
