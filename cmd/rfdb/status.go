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

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/kraklabs/rfdb/internal/ui"
	"github.com/kraklabs/rfdb/pkg/graph"
)

type statusOutput struct {
	Path      string         `json:"path"`
	NodeCount int            `json:"node_count"`
	EdgeCount int            `json:"edge_count"`
	NodeTypes map[string]int `json:"node_types"`
	EdgeTypes map[string]int `json:"edge_types"`
}

// runStatus opens the database read-only and prints its statistics.
func runStatus(args []string, globals GlobalFlags) int {
	if len(args) < 1 {
		ui.Errorf("usage: rfdb status <db-path> [--json]")
		return 2
	}
	dbPath := args[0]
	for _, arg := range args[1:] {
		if arg == "--json" {
			globals.JSON = true
		}
	}

	engine, err := graph.Open(dbPath)
	if err != nil {
		ui.Errorf("open database: %v", err)
		return 1
	}
	defer engine.Close()

	out := statusOutput{
		Path:      engine.Path(),
		NodeCount: engine.NodeCount(),
		EdgeCount: engine.EdgeCount(),
		NodeTypes: engine.CountNodesByType(nil),
		EdgeTypes: engine.CountEdgesByType(nil),
	}

	if globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			ui.Errorf("encode status: %v", err)
			return 1
		}
		return 0
	}

	ui.Infof("Database: %s", out.Path)
	fmt.Printf("  Nodes: %d\n", out.NodeCount)
	fmt.Printf("  Edges: %d\n", out.EdgeCount)
	printTypeCounts("Node types", out.NodeTypes)
	printTypeCounts("Edge types", out.EdgeTypes)
	return 0
}

func printTypeCounts(label string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	fmt.Printf("  %s:\n", label)
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Printf("    %-24s %d\n", t, counts[t])
	}
}
