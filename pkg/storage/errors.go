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

import "errors"

// Sentinel errors for the storage layer. Read accessors never return
// errors; these surface only from open, flush, and decode paths.
var (
	// ErrInvalidFormat reports a magic mismatch, unsupported format
	// version, truncated segment, or unreadable string table.
	ErrInvalidFormat = errors.New("invalid segment format")

	// ErrCompaction reports a failed flush/compact cycle.
	ErrCompaction = errors.New("compaction failed")

	// ErrDeltaLogOverflow is reserved for future enforcement of a bounded
	// delta log.
	ErrDeltaLogOverflow = errors.New("delta log overflow")
)
