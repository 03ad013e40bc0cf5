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

// Package clusterhash computes the hash-slot a key belongs to, the
// hashtag-aware CRC16 mod 16384 scheme every Redis Cluster-compatible
// client implements in-package (there is no standalone ecosystem crc16
// module worth depending on for this one polynomial).
package clusterhash

// NumSlots is the fixed size of the cluster hash-slot space.
const NumSlots = 16384

var crc16Table [256]uint16

// polynomial is CRC-CCITT (XMODEM), 0x1021, unreflected — the variant the
// cluster protocol specifies.
const polynomial = 0x1021

func init() {
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for b := 0; b < 8; b++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ polynomial
			} else {
				crc <<= 1
			}
		}
		crc16Table[i] = crc
	}
}

// CRC16 computes the CRC-CCITT checksum of data.
func CRC16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = (crc << 8) ^ crc16Table[byte(crc>>8)^b]
	}
	return crc
}

// Slot returns the hash slot a key maps to: if key contains a balanced
// "{tag}" substring, only the tag between the braces is hashed (so related
// keys can be pinned to one slot); otherwise the whole key is hashed.
func Slot(key []byte) int {
	tagged := hashtag(key)
	return int(CRC16(tagged)) % NumSlots
}

// hashtag extracts the "{...}" substring used for hashing, per the
// standard rule: the first '{' and the first '}' after it, non-empty and
// balanced. A missing or empty tag falls back to the whole key.
func hashtag(key []byte) []byte {
	start := -1
	for i, c := range key {
		if c == '{' {
			start = i
			break
		}
	}
	if start < 0 {
		return key
	}
	for i := start + 1; i < len(key); i++ {
		if key[i] == '}' {
			if i == start+1 {
				return key
			}
			return key[start+1 : i]
		}
	}
	return key
}
