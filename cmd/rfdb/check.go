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

	"github.com/kraklabs/rfdb/internal/ui"
	"github.com/kraklabs/rfdb/pkg/datalog"
	"github.com/kraklabs/rfdb/pkg/graph"
	"github.com/kraklabs/rfdb/pkg/storage"
)

// runCheck evaluates the violation rules in a file against the graph.
// Exit code 0 means no violations, 1 means violations were found, 2 a
// usage or evaluation error.
func runCheck(args []string, globals GlobalFlags) int {
	if len(args) != 2 {
		ui.Errorf("usage: rfdb check <db-path> <rules-file>")
		return 2
	}
	dbPath, rulesPath := args[0], args[1]

	source, err := os.ReadFile(rulesPath)
	if err != nil {
		ui.Errorf("read rules: %v", err)
		return 2
	}

	engine, err := graph.Open(dbPath)
	if err != nil {
		ui.Errorf("open database: %v", err)
		return 2
	}
	defer engine.Close()

	bindings, err := datalog.EvaluateGuarantee(engine, string(source))
	if err != nil {
		ui.Errorf("%v", err)
		return 2
	}

	var violations []string
	for _, b := range bindings {
		if v, ok := b["X"]; ok {
			violations = append(violations, v.String())
		}
	}

	if globals.JSON {
		out, _ := json.Marshal(map[string]interface{}{"violations": violations})
		fmt.Println(string(out))
	} else if len(violations) == 0 {
		if !globals.Quiet {
			ui.Successf("OK: no violations")
		}
	} else {
		ui.Errorf("%d violation(s):", len(violations))
		for _, v := range violations {
			ident := v
			if id, err := storage.ParseU128(v); err == nil {
				if readable, ok := engine.NodeIdentifier(id); ok {
					ident = fmt.Sprintf("%s (%s)", readable, v)
				}
			}
			fmt.Printf("  %s\n", ident)
		}
	}

	if len(violations) > 0 {
		return 1
	}
	return 0
}
