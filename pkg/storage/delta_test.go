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

func TestDeltaLog_OrderAndClear(t *testing.T) {
	log := NewDeltaLog()
	if !log.Empty() {
		t.Error("fresh log not empty")
	}

	log.Push(AddNode{Node: NodeRecord{ID: U128{Lo: 1}, Version: "main"}})
	log.Push(DeleteNode{ID: U128{Lo: 1}})
	log.Push(AddEdge{Edge: EdgeRecord{Src: U128{Lo: 1}, Dst: U128{Lo: 2}, Version: "main"}})
	log.Push(DeleteEdge{Src: U128{Lo: 1}, Dst: U128{Lo: 2}, Type: "CALLS"})
	log.Push(UpdateNodeVersion{ID: U128{Lo: 1}, Version: "__local"})

	if log.Len() != 5 {
		t.Fatalf("Len = %d, want 5", log.Len())
	}

	ops := log.Ops()
	if _, ok := ops[0].(AddNode); !ok {
		t.Errorf("op 0 is %T, want AddNode", ops[0])
	}
	if _, ok := ops[1].(DeleteNode); !ok {
		t.Errorf("op 1 is %T, want DeleteNode", ops[1])
	}
	if _, ok := ops[4].(UpdateNodeVersion); !ok {
		t.Errorf("op 4 is %T, want UpdateNodeVersion", ops[4])
	}

	log.Clear()
	if !log.Empty() || log.Len() != 0 {
		t.Error("Clear did not empty the log")
	}
}
