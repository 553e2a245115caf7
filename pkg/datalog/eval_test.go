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

package datalog_test

import (
	"path/filepath"
	"testing"

	"github.com/kraklabs/rfdb/pkg/datalog"
	"github.com/kraklabs/rfdb/pkg/graph"
	"github.com/kraklabs/rfdb/pkg/storage"
)

func newTestGraph(t *testing.T) *graph.Engine {
	t.Helper()
	engine, err := graph.Create(filepath.Join(t.TempDir(), "dlgraph"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func addNode(t *testing.T, e *graph.Engine, lo uint64, nodeType, name, metadata string) storage.U128 {
	t.Helper()
	id := storage.U128{Lo: lo}
	e.AddNodes([]storage.NodeRecord{{
		ID:       id,
		Type:     nodeType,
		Version:  "main",
		Name:     name,
		File:     "test.js",
		Metadata: metadata,
	}})
	return id
}

func addEdge(t *testing.T, e *graph.Engine, src, dst storage.U128, edgeType string) {
	t.Helper()
	e.AddEdges([]storage.EdgeRecord{{
		Src: src, Dst: dst, Type: edgeType, Version: "main",
	}}, false)
}

func violationIDs(t *testing.T, e *graph.Engine, source string) map[string]bool {
	t.Helper()
	bindings, err := datalog.EvaluateGuarantee(e, source)
	if err != nil {
		t.Fatalf("EvaluateGuarantee failed: %v", err)
	}
	out := make(map[string]bool)
	for _, b := range bindings {
		if v, ok := b["X"]; ok {
			out[v.String()] = true
		}
	}
	return out
}

// S5: orphan publisher guarantee.
func TestGuarantee_OrphanPublisher(t *testing.T) {
	e := newTestGraph(t)
	n1 := addNode(t, e, 1, "queue:publish", "p1", "")
	n2 := addNode(t, e, 2, "queue:publish", "p2", "")
	n3 := addNode(t, e, 3, "queue:consume", "c1", "")
	addEdge(t, e, n1, n3, "CALLS")

	got := violationIDs(t, e, `violation(X) :- node(X, "queue:publish"), \+ path(X, _).`)
	if len(got) != 1 || !got[n2.String()] {
		t.Errorf("violations = %v, want exactly {%s}", got, n2)
	}
}

// S6: negation over metadata attributes and edges.
func TestGuarantee_NegationWithAttr(t *testing.T) {
	e := newTestGraph(t)
	withMeta := addNode(t, e, 1, "CALL", "mapCall", `{"object":"arr","method":"map"}`)
	bare := addNode(t, e, 2, "CALL", "bareCall", "")
	sink := addNode(t, e, 3, "FUNCTION", "sink", "")
	addEdge(t, e, withMeta, sink, "CALLS")

	got := violationIDs(t, e, `violation(X) :- node(X, "CALL"), \+ attr(X, "object", _), \+ edge(X, _, "CALLS").`)
	if len(got) != 1 || !got[bare.String()] {
		t.Errorf("violations = %v, want exactly {%s}", got, bare)
	}
}

// Property 13: nodes with no outgoing paths.
func TestGuarantee_NoOutgoingPath(t *testing.T) {
	e := newTestGraph(t)
	a := addNode(t, e, 1, "FUNCTION", "a", "")
	b := addNode(t, e, 2, "FUNCTION", "b", "")
	c := addNode(t, e, 3, "FUNCTION", "c", "")
	addEdge(t, e, a, b, "CALLS")

	got := violationIDs(t, e, `violation(X) :- node(X, T), \+ path(X, _).`)
	if len(got) != 2 || !got[b.String()] || !got[c.String()] {
		t.Errorf("violations = %v, want {%s %s}", got, b, c)
	}
}

func TestEvalNode_Modes(t *testing.T) {
	e := newTestGraph(t)
	fn := addNode(t, e, 10, "FUNCTION", "f", "")
	addNode(t, e, 11, "CLASS", "k", "")

	ev := datalog.NewEvaluator(e)

	// (Var, Const)
	results := ev.Query(datalog.NewAtom("node", datalog.Var("X"), datalog.Const("FUNCTION")))
	if len(results) != 1 {
		t.Fatalf("node(X, FUNCTION) = %d results", len(results))
	}
	if id, ok := results[0]["X"].AsID(); !ok || id != fn {
		t.Errorf("bound X = %v", results[0]["X"])
	}

	// (Const, Var)
	results = ev.Query(datalog.NewAtom("node", datalog.Const(fn.String()), datalog.Var("T")))
	if len(results) != 1 || results[0]["T"].String() != "FUNCTION" {
		t.Errorf("node(id, T) = %v", results)
	}

	// (Const, Const) membership
	results = ev.Query(datalog.NewAtom("node", datalog.Const(fn.String()), datalog.Const("FUNCTION")))
	if len(results) != 1 || len(results[0]) != 0 {
		t.Errorf("node(id, FUNCTION) = %v", results)
	}
	results = ev.Query(datalog.NewAtom("node", datalog.Const(fn.String()), datalog.Const("CLASS")))
	if len(results) != 0 {
		t.Errorf("node(id, CLASS) = %v, want none", results)
	}

	// (Var, Var) enumerates everything.
	results = ev.Query(datalog.NewAtom("node", datalog.Var("X"), datalog.Var("T")))
	if len(results) != 2 {
		t.Errorf("node(X, T) = %d results, want 2", len(results))
	}
}

func TestEvalEdge_Modes(t *testing.T) {
	e := newTestGraph(t)
	a := addNode(t, e, 1, "FUNCTION", "a", "")
	b := addNode(t, e, 2, "FUNCTION", "b", "")
	c := addNode(t, e, 3, "FUNCTION", "c", "")
	addEdge(t, e, a, b, "CALLS")
	addEdge(t, e, a, c, "IMPORTS")

	ev := datalog.NewEvaluator(e)

	// Bound src, variable dst and type.
	results := ev.Query(datalog.NewAtom("edge", datalog.Const(a.String()), datalog.Var("D"), datalog.Var("T")))
	if len(results) != 2 {
		t.Fatalf("edge(a, D, T) = %d results", len(results))
	}

	// Type filter.
	results = ev.Query(datalog.NewAtom("edge", datalog.Const(a.String()), datalog.Var("D"), datalog.Const("CALLS")))
	if len(results) != 1 {
		t.Fatalf("edge(a, D, CALLS) = %d results", len(results))
	}
	if id, ok := results[0]["D"].AsID(); !ok || id != b {
		t.Errorf("D = %v", results[0]["D"])
	}

	// Unbound src yields nothing.
	results = ev.Query(datalog.NewAtom("edge", datalog.Var("S"), datalog.Var("D")))
	if len(results) != 0 {
		t.Errorf("edge(S, D) = %v, want none", results)
	}

	// incoming/3 is symmetric.
	results = ev.Query(datalog.NewAtom("incoming", datalog.Const(b.String()), datalog.Var("S")))
	if len(results) != 1 {
		t.Fatalf("incoming(b, S) = %d results", len(results))
	}
	if id, ok := results[0]["S"].AsID(); !ok || id != a {
		t.Errorf("S = %v", results[0]["S"])
	}
}

func TestEvalAttr(t *testing.T) {
	e := newTestGraph(t)
	id := addNode(t, e, 1, "CALL", "mapCall", `{"object":"arr","count":3,"flag":true}`)

	ev := datalog.NewEvaluator(e)

	// Built-in attribute.
	results := ev.Query(datalog.NewAtom("attr", datalog.Const(id.String()), datalog.Const("name"), datalog.Var("V")))
	if len(results) != 1 || results[0]["V"].String() != "mapCall" {
		t.Errorf("attr name = %v", results)
	}

	// Metadata string, number, and boolean stringification.
	for attr, want := range map[string]string{"object": "arr", "count": "3", "flag": "true"} {
		results = ev.Query(datalog.NewAtom("attr", datalog.Const(id.String()), datalog.Const(attr), datalog.Var("V")))
		if len(results) != 1 || results[0]["V"].String() != want {
			t.Errorf("attr %s = %v, want %q", attr, results, want)
		}
	}

	// Constant value match and mismatch.
	results = ev.Query(datalog.NewAtom("attr", datalog.Const(id.String()), datalog.Const("object"), datalog.Const("arr")))
	if len(results) != 1 {
		t.Errorf("attr exact match = %v", results)
	}
	results = ev.Query(datalog.NewAtom("attr", datalog.Const(id.String()), datalog.Const("object"), datalog.Const("other")))
	if len(results) != 0 {
		t.Errorf("attr mismatch = %v", results)
	}

	// Missing attribute.
	results = ev.Query(datalog.NewAtom("attr", datalog.Const(id.String()), datalog.Const("missing"), datalog.Var("V")))
	if len(results) != 0 {
		t.Errorf("missing attr = %v", results)
	}
}

func TestEvalPath(t *testing.T) {
	e := newTestGraph(t)
	a := addNode(t, e, 1, "FUNCTION", "a", "")
	b := addNode(t, e, 2, "FUNCTION", "b", "")
	c := addNode(t, e, 3, "FUNCTION", "c", "")
	addEdge(t, e, a, b, "CALLS")
	addEdge(t, e, b, c, "CALLS")

	ev := datalog.NewEvaluator(e)

	// Exists.
	if got := ev.Query(datalog.NewAtom("path", datalog.Const(a.String()), datalog.Const(c.String()))); len(got) != 1 {
		t.Errorf("path(a, c) = %v", got)
	}
	// Does not exist.
	if got := ev.Query(datalog.NewAtom("path", datalog.Const(c.String()), datalog.Const(a.String()))); len(got) != 0 {
		t.Errorf("path(c, a) = %v", got)
	}
	// Trivial self path is excluded.
	if got := ev.Query(datalog.NewAtom("path", datalog.Const(a.String()), datalog.Const(a.String()))); len(got) != 0 {
		t.Errorf("path(a, a) without cycle = %v", got)
	}
	// Variable destination enumerates reachable nodes minus the start.
	got := ev.Query(datalog.NewAtom("path", datalog.Const(a.String()), datalog.Var("D")))
	if len(got) != 2 {
		t.Errorf("path(a, D) = %v", got)
	}
	// Wildcard: any outgoing path.
	if got := ev.Query(datalog.NewAtom("path", datalog.Const(a.String()), datalog.Wildcard())); len(got) != 1 {
		t.Errorf("path(a, _) = %v", got)
	}
	if got := ev.Query(datalog.NewAtom("path", datalog.Const(c.String()), datalog.Wildcard())); len(got) != 0 {
		t.Errorf("path(c, _) = %v", got)
	}
}

func TestEvalPath_SelfCycle(t *testing.T) {
	e := newTestGraph(t)
	a := addNode(t, e, 1, "FUNCTION", "a", "")
	b := addNode(t, e, 2, "FUNCTION", "b", "")
	addEdge(t, e, a, b, "CALLS")
	addEdge(t, e, b, a, "CALLS")

	ev := datalog.NewEvaluator(e)
	if got := ev.Query(datalog.NewAtom("path", datalog.Const(a.String()), datalog.Const(a.String()))); len(got) != 1 {
		t.Errorf("path(a, a) with real cycle = %v", got)
	}
}

func TestStringBuiltins(t *testing.T) {
	e := newTestGraph(t)
	ev := datalog.NewEvaluator(e)

	cases := []struct {
		atom datalog.Atom
		want int
	}{
		{datalog.NewAtom("neq", datalog.Const("a"), datalog.Const("b")), 1},
		{datalog.NewAtom("neq", datalog.Const("a"), datalog.Const("a")), 0},
		{datalog.NewAtom("starts_with", datalog.Const("http:route"), datalog.Const("http:")), 1},
		{datalog.NewAtom("starts_with", datalog.Const("db:query"), datalog.Const("http:")), 0},
		{datalog.NewAtom("not_starts_with", datalog.Const("db:query"), datalog.Const("http:")), 1},
		{datalog.NewAtom("not_starts_with", datalog.Const("http:route"), datalog.Const("http:")), 0},
		// Unbound arguments are unsupported modes: no bindings.
		{datalog.NewAtom("neq", datalog.Var("X"), datalog.Const("a")), 0},
		{datalog.NewAtom("starts_with", datalog.Var("X"), datalog.Const("a")), 0},
	}
	for _, tc := range cases {
		if got := ev.Query(tc.atom); len(got) != tc.want {
			t.Errorf("%v = %d results, want %d", tc.atom, len(got), tc.want)
		}
	}
}

// Property 14, runtime branch: a derived rule projects only variables
// bound by positive literals; LoadRules rejects unsafe programs outright.
func TestLoadRules_RejectsUnsafe(t *testing.T) {
	e := newTestGraph(t)
	program, err := datalog.ParseProgram(`v(X) :- \+ node(X, "T").`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ev := datalog.NewEvaluator(e)
	if err := ev.LoadRules(program); err == nil {
		t.Error("LoadRules accepted an unsafe rule")
	}
}

func TestDerivedRule_ChainsBindings(t *testing.T) {
	e := newTestGraph(t)
	a := addNode(t, e, 1, "http:route", "r", "")
	b := addNode(t, e, 2, "FUNCTION", "h", "")
	addEdge(t, e, a, b, "http:routes_to")

	program, err := datalog.ParseProgram(`handler(X, Y) :- node(X, "http:route"), edge(X, Y, "http:routes_to").`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ev := datalog.NewEvaluator(e)
	if err := ev.LoadRules(program); err != nil {
		t.Fatalf("LoadRules: %v", err)
	}

	results := ev.Query(datalog.NewAtom("handler", datalog.Var("R"), datalog.Var("H")))
	if len(results) != 1 {
		t.Fatalf("handler(R, H) = %d results", len(results))
	}
	r, _ := results[0]["R"].AsID()
	h, _ := results[0]["H"].AsID()
	if r != a || h != b {
		t.Errorf("bindings = R:%v H:%v", r, h)
	}
}

func TestDerivedRule_CyclicRulesTerminate(t *testing.T) {
	e := newTestGraph(t)
	addNode(t, e, 1, "FUNCTION", "a", "")

	// Mutually recursive rules would diverge without the goal-stack cut.
	program, err := datalog.ParseProgram(`
p(X) :- q(X).
q(X) :- p(X).
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ev := datalog.NewEvaluator(e)
	if err := ev.LoadRules(program); err != nil {
		t.Fatalf("LoadRules: %v", err)
	}

	results := ev.Query(datalog.NewAtom("p", datalog.Var("X")))
	if len(results) != 0 {
		t.Errorf("cyclic query = %v, want none", results)
	}
}

func TestExplainEvaluator_MatchesPlainResults(t *testing.T) {
	e := newTestGraph(t)
	n1 := addNode(t, e, 1, "queue:publish", "p1", "")
	n2 := addNode(t, e, 2, "queue:publish", "p2", "")
	n3 := addNode(t, e, 3, "queue:consume", "c1", "")
	addEdge(t, e, n1, n3, "CALLS")

	source := `violation(X) :- node(X, "queue:publish"), \+ path(X, _).`
	program, err := datalog.ParseProgram(source)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	ev := datalog.NewExplainEvaluator(e, true)
	if err := ev.LoadRules(program); err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	result := ev.Query(datalog.NewAtom("violation", datalog.Var("X")))

	if len(result.Bindings) != 1 || result.Bindings[0]["X"] != n2.String() {
		t.Errorf("explain bindings = %v, want X=%s", result.Bindings, n2)
	}
	if result.Stats.TotalResults != 1 {
		t.Errorf("TotalResults = %d", result.Stats.TotalResults)
	}
	if result.Stats.NodeCalls == 0 || result.Stats.PathCalls == 0 {
		t.Errorf("builtin counters empty: %+v", result.Stats)
	}
	if len(result.ExplainSteps) == 0 {
		t.Error("explain mode produced no steps")
	}
	if len(result.Profile.PredicateTimes) == 0 {
		t.Error("profile has no predicate times")
	}
}
