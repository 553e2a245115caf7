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

package graph

import (
	"testing"

	"lukechampine.com/blake3"

	"github.com/kraklabs/rfdb/pkg/storage"
)

func TestComputeNodeID_Deterministic(t *testing.T) {
	id1 := ComputeNodeID("FUNCTION", "getUserById", "MODULE:users.js", "src/api/users.js")
	id2 := ComputeNodeID("FUNCTION", "getUserById", "MODULE:users.js", "src/api/users.js")
	if id1 != id2 {
		t.Errorf("same inputs produced %v and %v", id1, id2)
	}
	if id1.IsZero() {
		t.Error("id is zero")
	}
}

func TestComputeNodeID_DifferentInputs(t *testing.T) {
	base := ComputeNodeID("FUNCTION", "handler", "MODULE:api.js", "src/api.js")
	cases := []storage.U128{
		ComputeNodeID("http:route", "handler", "MODULE:api.js", "src/api.js"),
		ComputeNodeID("FUNCTION", "other", "MODULE:api.js", "src/api.js"),
		ComputeNodeID("FUNCTION", "handler", "MODULE:other.js", "src/api.js"),
		ComputeNodeID("FUNCTION", "handler", "MODULE:api.js", "src/other.js"),
	}
	for i, id := range cases {
		if id == base {
			t.Errorf("case %d collided with base id", i)
		}
	}
}

func TestComputeNodeID_SeparatorPreventsShifting(t *testing.T) {
	// Without the separator these would hash identical byte streams.
	a := ComputeNodeID("AB", "C", "", "")
	b := ComputeNodeID("A", "BC", "", "")
	if a == b {
		t.Error("field shifting collided")
	}
}

func TestComputeNodeID_MatchesFlatDigest(t *testing.T) {
	// The id equals the truncated digest of the joined byte stream, which
	// is what wire-level helpers compute.
	sum := blake3.Sum256([]byte("FUNCTION|foo|mod|f.js"))
	want := storage.U128FromLE(sum[:16])
	got := ComputeNodeID("FUNCTION", "foo", "mod", "f.js")
	if got != want {
		t.Errorf("engine id %v != wire id %v", got, want)
	}
}

func TestStringID(t *testing.T) {
	id1 := StringID("SERVICE:my-service")
	id2 := StringID("SERVICE:my-service")
	if id1 != id2 {
		t.Errorf("same string produced %v and %v", id1, id2)
	}
	if id1 == StringID("SERVICE:other-service") {
		t.Error("distinct strings collided")
	}
}

func TestStableID(t *testing.T) {
	if got := StableID("FUNCTION", "getUserById", "src/api/users.js"); got != "FUNCTION#getUserById#src/api/users.js" {
		t.Errorf("FUNCTION stable id: %q", got)
	}
	if got := StableID("VARIABLE", "count", "src/a.js"); got != "VARIABLE#count#src/a.js#??" {
		t.Errorf("VARIABLE stable id: %q", got)
	}
	// '#' separator keeps namespaced types unambiguous.
	if got := StableID("http:route", "/api/users", "src/routes.js"); got != "http:route#src/routes.js#/api/users#??" {
		t.Errorf("namespaced stable id: %q", got)
	}
}
