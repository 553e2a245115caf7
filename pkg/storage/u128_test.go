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

import "testing"

func TestU128_StringRoundTrip(t *testing.T) {
	cases := []U128{
		{Lo: 0, Hi: 0},
		{Lo: 1, Hi: 0},
		{Lo: 123456789, Hi: 0},
		{Lo: ^uint64(0), Hi: 0},
		{Lo: 0, Hi: 1},
		{Lo: ^uint64(0), Hi: ^uint64(0)},
		{Lo: 0xdeadbeefcafebabe, Hi: 0x0123456789abcdef},
	}
	for _, want := range cases {
		s := want.String()
		got, err := ParseU128(s)
		if err != nil {
			t.Fatalf("ParseU128(%q) failed: %v", s, err)
		}
		if got != want {
			t.Errorf("round trip %q: got %+v, want %+v", s, got, want)
		}
	}
}

func TestU128_KnownValues(t *testing.T) {
	// 2^64 = 18446744073709551616
	u := U128{Lo: 0, Hi: 1}
	if got := u.String(); got != "18446744073709551616" {
		t.Errorf("2^64: got %q", got)
	}
	// 2^128-1 = 340282366920938463463374607431768211455
	max := U128{Lo: ^uint64(0), Hi: ^uint64(0)}
	if got := max.String(); got != "340282366920938463463374607431768211455" {
		t.Errorf("2^128-1: got %q", got)
	}
}

func TestParseU128_Errors(t *testing.T) {
	for _, input := range []string{
		"",
		"abc",
		"12x4",
		"-5",
		"340282366920938463463374607431768211456", // 2^128
		"999999999999999999999999999999999999999999",
	} {
		if _, err := ParseU128(input); err == nil {
			t.Errorf("ParseU128(%q): expected error", input)
		}
	}
}

func TestU128_BytesRoundTrip(t *testing.T) {
	u := U128{Lo: 0x0807060504030201, Hi: 0x100f0e0d0c0b0a09}
	var buf [16]byte
	u.PutLE(buf[:])
	// Little-endian: byte 0 is the lowest byte of Lo.
	for i := 0; i < 16; i++ {
		if buf[i] != byte(i+1) {
			t.Fatalf("byte %d: got %#x, want %#x", i, buf[i], i+1)
		}
	}
	if got := U128FromLE(buf[:]); got != u {
		t.Errorf("U128FromLE: got %+v, want %+v", got, u)
	}
}

func TestMatchesType(t *testing.T) {
	cases := []struct {
		pattern, nodeType string
		want              bool
	}{
		{"FUNCTION", "FUNCTION", true},
		{"FUNCTION", "CLASS", false},
		{"http:*", "http:route", true},
		{"http:*", "http:endpoint", true},
		{"http:*", "db:query", false},
		{"*", "anything", true},
		{"*", "", true},
		{"http:route", "http:route", true},
		{"", "", true},
		{"", "FUNCTION", false},
	}
	for _, tc := range cases {
		if got := MatchesType(tc.pattern, tc.nodeType); got != tc.want {
			t.Errorf("MatchesType(%q, %q) = %v, want %v", tc.pattern, tc.nodeType, got, tc.want)
		}
	}
}
