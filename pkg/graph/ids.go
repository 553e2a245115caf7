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
	"fmt"

	"lukechampine.com/blake3"

	"github.com/kraklabs/rfdb/pkg/storage"
)

// ComputeNodeID derives the deterministic 128-bit id of a node:
// the first 16 bytes of BLAKE3(type | "|" | name | "|" | scope | "|" | path),
// interpreted little-endian. The literal "|" separator prevents cross-field
// collisions; identical inputs collide intentionally.
func ComputeNodeID(nodeType, name, scope, path string) storage.U128 {
	h := blake3.New(32, nil)
	h.Write([]byte(nodeType))
	h.Write([]byte("|"))
	h.Write([]byte(name))
	h.Write([]byte("|"))
	h.Write([]byte(scope))
	h.Write([]byte("|"))
	h.Write([]byte(path))
	sum := h.Sum(nil)
	return storage.U128FromLE(sum[:16])
}

// StringID hashes an opaque identifier ("SERVICE:billing", "MODULE:a1b2...")
// into a 128-bit id with the same digest truncation as ComputeNodeID.
func StringID(s string) storage.U128 {
	sum := blake3.Sum256([]byte(s))
	return storage.U128FromLE(sum[:16])
}

// StableID builds the human-readable stable identifier used for staged
// edits across versions. '#' separates components so colon-namespaced
// types stay unambiguous.
func StableID(nodeType, name, file string) string {
	switch nodeType {
	case "FUNCTION", "CLASS":
		return fmt.Sprintf("%s#%s#%s", nodeType, name, file)
	case "VARIABLE":
		return fmt.Sprintf("%s#%s#%s#??", nodeType, name, file)
	default:
		return fmt.Sprintf("%s#%s#%s#??", nodeType, file, name)
	}
}
