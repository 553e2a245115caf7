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
	"github.com/kraklabs/rfdb/pkg/datalog"
	"github.com/kraklabs/rfdb/pkg/graph"
)

// runQuery evaluates a Datalog program given inline or via @file, printing
// one binding set per line. --explain switches to the profiling evaluator.
func runQuery(args []string, globals GlobalFlags) int {
	explain := false
	var positional []string
	for _, arg := range args {
		switch arg {
		case "--explain":
			explain = true
		case "--help", "-h":
			fmt.Println("usage: rfdb query <db-path> <program | @file> [--explain]")
			return 0
		default:
			positional = append(positional, arg)
		}
	}
	if len(positional) != 2 {
		ui.Errorf("usage: rfdb query <db-path> <program | @file> [--explain]")
		return 2
	}
	dbPath, source := positional[0], positional[1]

	if len(source) > 0 && source[0] == '@' {
		data, err := os.ReadFile(source[1:])
		if err != nil {
			ui.Errorf("read program: %v", err)
			return 1
		}
		source = string(data)
	}

	engine, err := graph.Open(dbPath)
	if err != nil {
		ui.Errorf("open database: %v", err)
		return 1
	}
	defer engine.Close()

	program, err := datalog.ParseProgram(source)
	if err != nil {
		ui.Errorf("%v", err)
		return 1
	}

	if explain {
		return runQueryExplain(engine, program, globals)
	}

	ev := datalog.NewEvaluator(engine)
	if err := ev.LoadRules(program); err != nil {
		ui.Errorf("%v", err)
		return 1
	}

	for pred := range program.DefinedPredicates() {
		for _, bindings := range ev.Query(goalFor(program, pred)) {
			printBindings(pred, bindings, globals)
		}
	}
	return 0
}

func runQueryExplain(engine *graph.Engine, program datalog.Program, globals GlobalFlags) int {
	ev := datalog.NewExplainEvaluator(engine, true)
	if err := ev.LoadRules(program); err != nil {
		ui.Errorf("%v", err)
		return 1
	}
	for pred := range program.DefinedPredicates() {
		result := ev.Query(goalFor(program, pred))
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			ui.Errorf("encode result: %v", err)
			return 1
		}
	}
	return 0
}

// goalFor builds a most-general goal for a defined predicate.
func goalFor(program datalog.Program, predicate string) datalog.Atom {
	rules := program.RulesFor(predicate)
	arity := 0
	if len(rules) > 0 {
		arity = rules[0].Head.Arity()
	}
	args := make([]datalog.Term, arity)
	for i := range args {
		args[i] = datalog.Var(fmt.Sprintf("V%d", i))
	}
	return datalog.Atom{Predicate: predicate, Args: args}
}

func printBindings(pred string, bindings datalog.Bindings, globals GlobalFlags) {
	if globals.JSON {
		m := make(map[string]string, len(bindings))
		for k, v := range bindings {
			m[k] = v.String()
		}
		out, _ := json.Marshal(map[string]interface{}{"predicate": pred, "bindings": m})
		fmt.Println(string(out))
		return
	}
	vars := make([]string, 0, len(bindings))
	for k := range bindings {
		vars = append(vars, k)
	}
	sort.Strings(vars)
	line := pred + ":"
	for _, v := range vars {
		line += fmt.Sprintf(" %s=%s", v, bindings[v])
	}
	fmt.Println(line)
}
