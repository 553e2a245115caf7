// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"
)

// StringTable is the per-segment deduplicating string store: one blob of
// UTF-8 bytes plus an insertion-ordered offsets array. A string's length is
// the distance from its offset to the next greater offset (or to the end of
// the blob), so offsets alone fully describe the table.
//
// A fresh table reserves offset 0 with a one-byte NUL sentinel so columns
// that store raw offsets can use 0 for "absent" without colliding with a
// real value.
type StringTable struct {
	data    []byte
	offsets []uint32
	index   map[string]uint32
}

// sentinel occupies offset 0 in every table built by NewStringTable.
const sentinel = "\x00"

// NewStringTable creates an empty table with the offset-0 sentinel reserved.
func NewStringTable() *StringTable {
	st := &StringTable{index: make(map[string]uint32)}
	st.Intern(sentinel)
	return st
}

// Intern adds a string and returns its offset. Interning the same string
// twice returns the same offset.
func (st *StringTable) Intern(s string) uint32 {
	if off, ok := st.index[s]; ok {
		return off
	}
	off := uint32(len(st.data))
	st.data = append(st.data, s...)
	st.offsets = append(st.offsets, off)
	st.index[s] = off
	return off
}

// Get returns the string stored at offset. It fails (ok=false) when the
// offset is past the end of the blob or the slice is not valid UTF-8.
func (st *StringTable) Get(offset uint32) (string, bool) {
	start := int(offset)
	if start >= len(st.data) {
		return "", false
	}
	// The terminator is the next greater offset, or the blob end.
	end := len(st.data)
	for _, o := range st.offsets {
		if o > offset && int(o) < end {
			end = int(o)
		}
	}
	s := st.data[start:end]
	if !utf8.Valid(s) {
		return "", false
	}
	return string(s), true
}

// Len returns the number of interned strings, sentinel included.
func (st *StringTable) Len() int {
	return len(st.offsets)
}

// DataLen returns the blob size in bytes.
func (st *StringTable) DataLen() int {
	return len(st.data)
}

// WriteTo serializes the table: data_len u64 | data | n u64 | offsets n×u32,
// all little-endian, offsets in insertion order.
func (st *StringTable) WriteTo(w io.Writer) (int64, error) {
	var n int64
	var buf [8]byte

	binary.LittleEndian.PutUint64(buf[:], uint64(len(st.data)))
	m, err := w.Write(buf[:])
	n += int64(m)
	if err != nil {
		return n, err
	}
	m, err = w.Write(st.data)
	n += int64(m)
	if err != nil {
		return n, err
	}
	binary.LittleEndian.PutUint64(buf[:], uint64(len(st.offsets)))
	m, err = w.Write(buf[:])
	n += int64(m)
	if err != nil {
		return n, err
	}
	for _, off := range st.offsets {
		binary.LittleEndian.PutUint32(buf[:4], off)
		m, err = w.Write(buf[:4])
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// LoadStringTable decodes a table from a byte slice (typically a sub-slice
// of a memory-mapped segment, starting at the header's string-table offset).
func LoadStringTable(b []byte) (*StringTable, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("%w: string table too small", ErrInvalidFormat)
	}
	dataLen := binary.LittleEndian.Uint64(b[0:8])
	pos := 8
	if uint64(len(b)-pos) < dataLen {
		return nil, fmt.Errorf("%w: string table data truncated", ErrInvalidFormat)
	}
	data := make([]byte, dataLen)
	copy(data, b[pos:pos+int(dataLen)])
	pos += int(dataLen)

	if len(b)-pos < 8 {
		return nil, fmt.Errorf("%w: string table missing offsets count", ErrInvalidFormat)
	}
	count := binary.LittleEndian.Uint64(b[pos : pos+8])
	pos += 8
	if uint64(len(b)-pos) < count*4 {
		return nil, fmt.Errorf("%w: string table offsets truncated", ErrInvalidFormat)
	}
	offsets := make([]uint32, count)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint32(b[pos : pos+4])
		pos += 4
	}

	st := &StringTable{
		data:    data,
		offsets: offsets,
		index:   make(map[string]uint32, count),
	}
	// Rebuild the intern index so a loaded table can keep interning.
	for i, off := range offsets {
		end := uint32(len(data))
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		if int(off) <= len(data) && int(end) <= len(data) && off <= end {
			st.index[string(data[off:end])] = off
		}
	}
	return st, nil
}
