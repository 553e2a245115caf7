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
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/kraklabs/rfdb/internal/ui"
	"github.com/kraklabs/rfdb/pkg/graph"
	"github.com/kraklabs/rfdb/pkg/storage"
)

// importLine is one NDJSON record of the bulk-load format. kind selects
// "node" or "edge". IDs follow the wire convention: decimal strings are
// u128 values; anything else is hashed.
type importLine struct {
	Kind     string `json:"kind"`
	ID       string `json:"id,omitempty"`
	Src      string `json:"src,omitempty"`
	Dst      string `json:"dst,omitempty"`
	Type     string `json:"type,omitempty"`
	Version  string `json:"version,omitempty"`
	Exported bool   `json:"exported,omitempty"`
	Name     string `json:"name,omitempty"`
	File     string `json:"file,omitempty"`
	Metadata string `json:"metadata,omitempty"`
}

// importBatchSize is the number of records buffered per engine call.
const importBatchSize = 1000

// runImport bulk-loads an NDJSON file into the database, creating it if
// needed, and flushes once at the end.
func runImport(args []string, globals GlobalFlags) int {
	skipValidation := false
	var positional []string
	for _, arg := range args {
		switch arg {
		case "--skip-validation":
			skipValidation = true
		case "--help", "-h":
			fmt.Println("usage: rfdb import <db-path> <file.ndjson> [--skip-validation]")
			return 0
		default:
			positional = append(positional, arg)
		}
	}
	if len(positional) != 2 {
		ui.Errorf("usage: rfdb import <db-path> <file.ndjson> [--skip-validation]")
		return 2
	}
	dbPath, filePath := positional[0], positional[1]

	f, err := os.Open(filePath)
	if err != nil {
		ui.Errorf("open input: %v", err)
		return 1
	}
	defer f.Close()

	engine, err := openOrCreate(dbPath)
	if err != nil {
		ui.Errorf("open database: %v", err)
		return 1
	}
	defer engine.Close()

	info, _ := f.Stat()
	var bar *progressbar.ProgressBar
	if !globals.Quiet && info != nil {
		bar = progressbar.DefaultBytes(info.Size(), "importing")
	}

	var nodes []storage.NodeRecord
	var edges []storage.EdgeRecord
	nodeTotal, edgeTotal := 0, 0

	flushBatch := func() {
		if len(nodes) > 0 {
			engine.AddNodes(nodes)
			nodeTotal += len(nodes)
			nodes = nodes[:0]
		}
		if len(edges) > 0 {
			engine.AddEdges(edges, skipValidation)
			edgeTotal += len(edges)
			edges = edges[:0]
		}
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 16<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if bar != nil {
			bar.Add(len(raw) + 1)
		}
		if len(raw) == 0 {
			continue
		}

		var line importLine
		if err := json.Unmarshal(raw, &line); err != nil {
			ui.Warnf("line %d: skipping malformed record: %v", lineNo, err)
			continue
		}

		switch line.Kind {
		case "node":
			version := line.Version
			if version == "" {
				version = "main"
			}
			nodes = append(nodes, storage.NodeRecord{
				ID:       parseImportID(line.ID, line),
				Type:     line.Type,
				Version:  version,
				Exported: line.Exported,
				Name:     line.Name,
				File:     line.File,
				Metadata: line.Metadata,
			})
		case "edge":
			version := line.Version
			if version == "" {
				version = "main"
			}
			edges = append(edges, storage.EdgeRecord{
				Src:      parseImportID(line.Src, line),
				Dst:      parseImportID(line.Dst, line),
				Type:     line.Type,
				Version:  version,
				Metadata: line.Metadata,
			})
		default:
			ui.Warnf("line %d: unknown kind %q", lineNo, line.Kind)
		}

		if len(nodes)+len(edges) >= importBatchSize {
			flushBatch()
		}
	}
	if err := scanner.Err(); err != nil {
		ui.Errorf("read input: %v", err)
		return 1
	}
	flushBatch()

	if err := engine.Flush(); err != nil {
		ui.Errorf("flush: %v", err)
		return 1
	}

	if !globals.Quiet {
		ui.Successf("Imported %d nodes and %d edges into %s", nodeTotal, edgeTotal, engine.Path())
	}
	return 0
}

// parseImportID resolves a record id: an explicit id follows the wire
// convention; a node without one gets the content-addressed hash of its
// fields.
func parseImportID(s string, line importLine) storage.U128 {
	if s != "" {
		if id, err := storage.ParseU128(s); err == nil {
			return id
		}
		return graph.StringID(s)
	}
	return graph.ComputeNodeID(line.Type, line.Name, "", line.File)
}

// openOrCreate opens an existing database or creates a fresh one.
func openOrCreate(path string) (*graph.Engine, error) {
	normalized := graph.NormalizeDBPath(path)
	if _, err := os.Stat(normalized); os.IsNotExist(err) {
		return graph.Create(path)
	}
	return graph.Open(path)
}
