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

import "github.com/kraklabs/rfdb/pkg/storage"

// BFS visits nodes breadth-first starting from start at depth 0, following
// neighbors supplied by next. Each node appears at most once, in
// first-discovery order; traversal stops when the frontier empties or the
// depth exceeds maxDepth. Start nodes are always included, even at
// maxDepth 0. The neighbor function is injected so the same walk serves
// forward and backward traversal.
func BFS(start []storage.U128, maxDepth int, next func(storage.U128) []storage.U128) []storage.U128 {
	visited := make(map[storage.U128]struct{})
	queue := make([]storage.U128, len(start))
	copy(queue, start)
	var result []storage.U128

	for depth := 0; len(queue) > 0 && depth <= maxDepth; depth++ {
		levelSize := len(queue)
		for i := 0; i < levelSize; i++ {
			node := queue[0]
			queue = queue[1:]
			if _, seen := visited[node]; seen {
				continue
			}
			visited[node] = struct{}{}
			result = append(result, node)

			for _, nb := range next(node) {
				if _, seen := visited[nb]; !seen {
					queue = append(queue, nb)
				}
			}
		}
	}
	return result
}

// DFS visits nodes depth-first with the same depth bound and visit-once
// semantics as BFS, using a stack with per-entry depth bookkeeping.
func DFS(start []storage.U128, maxDepth int, next func(storage.U128) []storage.U128) []storage.U128 {
	type entry struct {
		id    storage.U128
		depth int
	}
	visited := make(map[storage.U128]struct{})
	stack := make([]entry, 0, len(start))
	for _, id := range start {
		stack = append(stack, entry{id: id})
	}
	var result []storage.U128

	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if e.depth > maxDepth {
			continue
		}
		if _, seen := visited[e.id]; seen {
			continue
		}
		visited[e.id] = struct{}{}
		result = append(result, e.id)

		for _, nb := range next(e.id) {
			if _, seen := visited[nb]; !seen {
				stack = append(stack, entry{id: nb, depth: e.depth + 1})
			}
		}
	}
	return result
}
