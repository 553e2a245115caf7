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

// Package sysmem exposes a best-effort system memory probe used by the
// auto-flush heuristic. Readings are cached for five seconds so hot write
// paths never pay for a /proc scan; probe failures report 0% and must not
// block or fail the caller.
package sysmem

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
)

const refreshInterval = 5 * time.Second

var (
	mu          sync.Mutex
	lastCheck   time.Time
	lastPercent float64
)

// UsedPercent returns the system memory utilization in percent. The value
// refreshes at most once per refreshInterval.
func UsedPercent() float64 {
	mu.Lock()
	defer mu.Unlock()

	if !lastCheck.IsZero() && time.Since(lastCheck) < refreshInterval {
		return lastPercent
	}
	lastCheck = time.Now()

	vm, err := mem.VirtualMemory()
	if err != nil {
		lastPercent = 0
		return 0
	}
	lastPercent = vm.UsedPercent
	return lastPercent
}
