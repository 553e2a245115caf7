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

	"github.com/kraklabs/rfdb/pkg/storage"
)

func id(n uint64) storage.U128 {
	return storage.U128{Lo: n}
}

func adjacencyFunc(edges map[uint64][]uint64) func(storage.U128) []storage.U128 {
	return func(node storage.U128) []storage.U128 {
		var out []storage.U128
		for _, dst := range edges[node.Lo] {
			out = append(out, id(dst))
		}
		return out
	}
}

func contains(ids []storage.U128, want storage.U128) bool {
	for _, got := range ids {
		if got == want {
			return true
		}
	}
	return false
}

func TestBFS_SimpleGraph(t *testing.T) {
	// 1 -> 2 -> 3, 1 -> 4
	next := adjacencyFunc(map[uint64][]uint64{
		1: {2, 4},
		2: {3},
	})
	result := BFS([]storage.U128{id(1)}, 10, next)
	if len(result) != 4 {
		t.Fatalf("visited %d nodes, want 4: %v", len(result), result)
	}
	for _, n := range []uint64{1, 2, 3, 4} {
		if !contains(result, id(n)) {
			t.Errorf("missing node %d", n)
		}
	}
	if result[0] != id(1) {
		t.Errorf("first visited is %v, want start node", result[0])
	}
}

func TestBFS_MaxDepth(t *testing.T) {
	// Chain 1 -> 2 -> 3 -> 4; depth 2 reaches 1, 2, 3.
	next := adjacencyFunc(map[uint64][]uint64{
		1: {2}, 2: {3}, 3: {4},
	})
	result := BFS([]storage.U128{id(1)}, 2, next)
	if len(result) != 3 {
		t.Fatalf("visited %d nodes, want 3: %v", len(result), result)
	}
	if contains(result, id(4)) {
		t.Error("depth bound exceeded: node 4 visited")
	}
}

func TestBFS_DepthZeroIsStartOnly(t *testing.T) {
	next := adjacencyFunc(map[uint64][]uint64{1: {2}})
	result := BFS([]storage.U128{id(1)}, 0, next)
	if len(result) != 1 || result[0] != id(1) {
		t.Errorf("bfs depth 0 = %v, want just the start node", result)
	}
}

func TestBFS_CycleTerminatesAndVisitsOnce(t *testing.T) {
	next := adjacencyFunc(map[uint64][]uint64{
		1: {2}, 2: {3}, 3: {1},
	})
	result := BFS([]storage.U128{id(1)}, 100, next)
	if len(result) != 3 {
		t.Fatalf("cycle visited %d nodes, want 3: %v", len(result), result)
	}
	seen := make(map[storage.U128]int)
	for _, n := range result {
		seen[n]++
		if seen[n] > 1 {
			t.Errorf("node %v visited twice", n)
		}
	}
}

func TestDFS_VisitsReachableOnce(t *testing.T) {
	next := adjacencyFunc(map[uint64][]uint64{
		1: {2, 4}, 2: {3}, 4: {3}, 3: {1},
	})
	result := DFS([]storage.U128{id(1)}, 10, next)
	if len(result) != 4 {
		t.Fatalf("visited %d nodes, want 4: %v", len(result), result)
	}
	seen := make(map[storage.U128]bool)
	for _, n := range result {
		if seen[n] {
			t.Errorf("node %v visited twice", n)
		}
		seen[n] = true
	}
}

func TestDFS_MaxDepth(t *testing.T) {
	next := adjacencyFunc(map[uint64][]uint64{
		1: {2}, 2: {3}, 3: {4},
	})
	result := DFS([]storage.U128{id(1)}, 1, next)
	if contains(result, id(3)) || contains(result, id(4)) {
		t.Errorf("depth bound exceeded: %v", result)
	}
	if !contains(result, id(1)) || !contains(result, id(2)) {
		t.Errorf("missing shallow nodes: %v", result)
	}
}

func TestBFS_MultipleStarts(t *testing.T) {
	next := adjacencyFunc(map[uint64][]uint64{
		1: {3}, 2: {3},
	})
	result := BFS([]storage.U128{id(1), id(2)}, 5, next)
	if len(result) != 3 {
		t.Fatalf("visited %d nodes, want 3: %v", len(result), result)
	}
}
