// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package checkpoint

import (
	"encoding/binary"
	"fmt"
)

// BCSReader is a minimal reader over Move's binary canonical serialization:
// fixed-width little-endian integers and ULEB128-prefixed byte strings.
// It is not a general BCS implementation; it covers exactly the struct
// shapes this indexer needs to pull out of Move object contents (system
// state, SystemEpochInfoEvent, dynamic field wrappers).
type BCSReader struct {
	buf []byte
	pos int
}

func NewBCSReader(buf []byte) *BCSReader { return &BCSReader{buf: buf} }

func (r *BCSReader) Remaining() int { return len(r.buf) - r.pos }

func (r *BCSReader) need(n int) error {
	if r.Remaining() < n {
		return fmt.Errorf("bcs: need %d bytes, have %d", n, r.Remaining())
	}
	return nil
}

func (r *BCSReader) ReadU64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *BCSReader) ReadU32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *BCSReader) ReadU8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

// ReadULEB128 reads a length prefix as used before variable-length byte
// strings and vectors in BCS.
func (r *BCSReader) ReadULEB128() (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.ReadU8()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, fmt.Errorf("bcs: uleb128 overflow")
		}
	}
}

func (r *BCSReader) ReadBytes() ([]byte, error) {
	n, err := r.ReadULEB128()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	out := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return out, nil
}

func (r *BCSReader) ReadAddress() (ObjectID, error) {
	var id ObjectID
	if err := r.need(32); err != nil {
		return id, err
	}
	copy(id[:], r.buf[r.pos:r.pos+32])
	r.pos += 32
	return id, nil
}
