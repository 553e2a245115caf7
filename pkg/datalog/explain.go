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

package datalog

import "time"

// QueryStats aggregates counters collected while a query runs.
type QueryStats struct {
	NodeCalls          int   `json:"node_calls"`
	EdgeCalls          int   `json:"edge_calls"`
	IncomingCalls      int   `json:"incoming_calls"`
	AttrCalls          int   `json:"attr_calls"`
	PathCalls          int   `json:"path_calls"`
	StringCalls        int   `json:"string_calls"`
	RuleEvaluations    int   `json:"rule_evaluations"`
	TotalResults       int   `json:"total_results"`
	IntermediateCounts []int `json:"intermediate_counts"`
}

// ExplainStep is one entry of the optional step log.
type ExplainStep struct {
	Step        int      `json:"step"`
	Predicate   string   `json:"predicate"`
	Args        []string `json:"args"`
	ResultCount int      `json:"result_count"`
	DurationUS  int64    `json:"duration_us"`
}

// QueryProfile carries per-predicate elapsed time.
type QueryProfile struct {
	TotalDurationUS int64            `json:"total_duration_us"`
	PredicateTimes  map[string]int64 `json:"predicate_times"`
}

// QueryResult is the full answer of the profiling evaluator: the bindings
// (identical to the plain evaluator's), statistics, timing, and the step
// log when explain mode is on.
type QueryResult struct {
	Bindings     []map[string]string `json:"bindings"`
	Stats        QueryStats          `json:"stats"`
	Profile      QueryProfile        `json:"profile"`
	ExplainSteps []ExplainStep       `json:"explain_steps,omitempty"`
}

// trace is the recorder hooked into Evaluator.evalAtom.
type trace struct {
	explain        bool
	stats          QueryStats
	steps          []ExplainStep
	stepCounter    int
	predicateTimes map[string]time.Duration
}

func (t *trace) record(atom Atom, resultCount int, d time.Duration) {
	switch atom.Predicate {
	case "node":
		t.stats.NodeCalls++
	case "edge":
		t.stats.EdgeCalls++
	case "incoming":
		t.stats.IncomingCalls++
	case "attr":
		t.stats.AttrCalls++
	case "path":
		t.stats.PathCalls++
	case "neq", "starts_with", "not_starts_with":
		t.stats.StringCalls++
	default:
		t.stats.RuleEvaluations++
	}
	t.stats.IntermediateCounts = append(t.stats.IntermediateCounts, resultCount)
	t.predicateTimes[atom.Predicate] += d

	if t.explain {
		t.stepCounter++
		args := make([]string, len(atom.Args))
		for i, term := range atom.Args {
			args[i] = term.String()
		}
		t.steps = append(t.steps, ExplainStep{
			Step:        t.stepCounter,
			Predicate:   atom.Predicate,
			Args:        args,
			ResultCount: resultCount,
			DurationUS:  d.Microseconds(),
		})
	}
}

// ExplainEvaluator is the profiling variant of Evaluator. It produces
// identical bindings and additionally reports invocation counters,
// per-predicate timing, intermediate result counts, and (in explain mode)
// a step log.
type ExplainEvaluator struct {
	*Evaluator
	explainMode bool
}

// NewExplainEvaluator creates a profiling evaluator over the graph.
func NewExplainEvaluator(g Graph, explainMode bool) *ExplainEvaluator {
	return &ExplainEvaluator{
		Evaluator:   NewEvaluator(g),
		explainMode: explainMode,
	}
}

// Query evaluates the goal and packages bindings with the collected
// statistics and profile.
func (ev *ExplainEvaluator) Query(goal Atom) QueryResult {
	ev.trace = &trace{
		explain:        ev.explainMode,
		predicateTimes: make(map[string]time.Duration),
	}
	defer func() { ev.trace = nil }()

	start := time.Now()
	bindings := ev.evalAtom(goal)
	total := time.Since(start)

	out := make([]map[string]string, len(bindings))
	for i, b := range bindings {
		m := make(map[string]string, len(b))
		for k, v := range b {
			m[k] = v.String()
		}
		out[i] = m
	}

	stats := ev.trace.stats
	stats.TotalResults = len(bindings)

	times := make(map[string]int64, len(ev.trace.predicateTimes))
	for pred, d := range ev.trace.predicateTimes {
		times[pred] = d.Microseconds()
	}

	return QueryResult{
		Bindings: out,
		Stats:    stats,
		Profile: QueryProfile{
			TotalDurationUS: total.Microseconds(),
			PredicateTimes:  times,
		},
		ExplainSteps: ev.trace.steps,
	}
}
