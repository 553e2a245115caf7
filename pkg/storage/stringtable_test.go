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
	"bytes"
	"testing"
)

func TestStringTable_InternIdempotent(t *testing.T) {
	st := NewStringTable()
	off1 := st.Intern("src/api/users.js")
	off2 := st.Intern("src/api/users.js")
	if off1 != off2 {
		t.Errorf("interning twice returned %d and %d", off1, off2)
	}
	off3 := st.Intern("src/api/orders.js")
	if off3 == off1 {
		t.Errorf("distinct strings share offset %d", off1)
	}
}

func TestStringTable_SentinelReservesOffsetZero(t *testing.T) {
	st := NewStringTable()
	off := st.Intern("FUNCTION")
	if off == 0 {
		t.Fatal("first real string landed on offset 0")
	}
	got, ok := st.Get(off)
	if !ok || got != "FUNCTION" {
		t.Errorf("Get(%d) = %q, %v", off, got, ok)
	}
}

func TestStringTable_GetLengthFromNextOffset(t *testing.T) {
	st := NewStringTable()
	offs := []uint32{
		st.Intern("alpha"),
		st.Intern("bb"),
		st.Intern("c"),
	}
	for i, want := range []string{"alpha", "bb", "c"} {
		got, ok := st.Get(offs[i])
		if !ok || got != want {
			t.Errorf("Get(%d) = %q, %v; want %q", offs[i], got, ok, want)
		}
	}
}

func TestStringTable_GetOutOfRange(t *testing.T) {
	st := NewStringTable()
	st.Intern("only")
	if _, ok := st.Get(uint32(st.DataLen())); ok {
		t.Error("Get past end of data succeeded")
	}
	if _, ok := st.Get(1 << 30); ok {
		t.Error("Get far past end of data succeeded")
	}
}

func TestStringTable_WriteLoadRoundTrip(t *testing.T) {
	st := NewStringTable()
	strings := []string{"FUNCTION", "src/a.js", "doStuff", "main", `{"async":true}`}
	offs := make([]uint32, len(strings))
	for i, s := range strings {
		offs[i] = st.Intern(s)
	}

	var buf bytes.Buffer
	if _, err := st.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}

	loaded, err := LoadStringTable(buf.Bytes())
	if err != nil {
		t.Fatalf("LoadStringTable failed: %v", err)
	}
	for i, s := range strings {
		got, ok := loaded.Get(offs[i])
		if !ok || got != s {
			t.Errorf("loaded Get(%d) = %q, %v; want %q", offs[i], got, ok, s)
		}
	}
	// The loaded table keeps deduplicating against existing entries.
	if off := loaded.Intern("FUNCTION"); off != offs[0] {
		t.Errorf("re-intern after load: got %d, want %d", off, offs[0])
	}
}

func TestLoadStringTable_Truncated(t *testing.T) {
	st := NewStringTable()
	st.Intern("payload")
	var buf bytes.Buffer
	if _, err := st.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	full := buf.Bytes()

	for _, cut := range []int{0, 4, 8, len(full) / 2, len(full) - 1} {
		if _, err := LoadStringTable(full[:cut]); err == nil {
			t.Errorf("LoadStringTable with %d/%d bytes succeeded", cut, len(full))
		}
	}
}
