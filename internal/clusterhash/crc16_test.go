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

package clusterhash

import (
	"testing"

	"github.com/bmizerany/assert"
)

func TestSlotWithoutHashtag(t *testing.T) {
	s1 := Slot([]byte("foo"))
	s2 := Slot([]byte("foo"))
	assert.Equal(t, s1, s2)
	assert.Equal(t, true, s1 >= 0 && s1 < NumSlots)
}

// TestSlotHashtagPinning is invariant 3 from spec.md §8: two keys sharing
// the same {tag} always land in the same slot.
func TestSlotHashtagPinning(t *testing.T) {
	a := Slot([]byte("{user1000}.following"))
	b := Slot([]byte("{user1000}.followers"))
	assert.Equal(t, a, b)
}

func TestSlotEmptyHashtagFallsBackToWholeKey(t *testing.T) {
	withEmptyTag := Slot([]byte("foo{}bar"))
	whole := int(CRC16([]byte("foo{}bar"))) % NumSlots
	assert.Equal(t, whole, withEmptyTag)
}

func TestSlotUnbalancedBraceFallsBackToWholeKey(t *testing.T) {
	a := Slot([]byte("foo{bar"))
	b := int(CRC16([]byte("foo{bar"))) % NumSlots
	assert.Equal(t, a, b)
}

func TestSlotRange(t *testing.T) {
	for _, k := range []string{"", "a", "hello world", "{tag}rest", "123456789"} {
		s := Slot([]byte(k))
		if s < 0 || s >= NumSlots {
			t.Fatalf("slot %d out of range for key %q", s, k)
		}
	}
}
