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

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kraklabs/rfdb/pkg/storage"
)

// pathMaxDepth bounds the BFS behind the path/2 built-in.
const pathMaxDepth = 100

// Graph is the read surface the evaluator needs from the engine.
type Graph interface {
	GetNode(id storage.U128) (storage.NodeRecord, bool)
	FindByType(nodeType string) []storage.U128
	OutgoingEdges(id storage.U128, edgeTypes []string) []storage.EdgeRecord
	IncomingEdges(id storage.U128, edgeTypes []string) []storage.EdgeRecord
	BFS(start []storage.U128, maxDepth int, edgeTypes []string) []storage.U128
	CountNodesByType(types []string) map[string]int
}

// Value is a binding value: a node id or a string.
type Value struct {
	id   storage.U128
	str  string
	isID bool
}

// IDValue wraps a node id.
func IDValue(id storage.U128) Value { return Value{id: id, isID: true} }

// StrValue wraps a string.
func StrValue(s string) Value { return Value{str: s} }

// ValueFromConst interprets a constant term: all-decimal strings become
// ids, anything else stays a string.
func ValueFromConst(s string) Value {
	if id, err := storage.ParseU128(s); err == nil {
		return IDValue(id)
	}
	return StrValue(s)
}

// AsID returns the value as a node id when possible.
func (v Value) AsID() (storage.U128, bool) {
	if v.isID {
		return v.id, true
	}
	id, err := storage.ParseU128(v.str)
	return id, err == nil
}

// String returns the wire representation: decimal for ids.
func (v Value) String() string {
	if v.isID {
		return v.id.String()
	}
	return v.str
}

// Bindings maps variable names to values.
type Bindings map[string]Value

// Extend merges other into a copy of b. It fails when a shared variable
// binds to different values.
func (b Bindings) Extend(other Bindings) (Bindings, bool) {
	result := make(Bindings, len(b)+len(other))
	for k, v := range b {
		result[k] = v
	}
	for k, v := range other {
		if existing, ok := result[k]; ok {
			if existing != v {
				return nil, false
			}
			continue
		}
		result[k] = v
	}
	return result, true
}

// Evaluator answers goal atoms against a live graph, top-down. Built-in
// predicates delegate to the graph; user-defined predicates iterate their
// rules with left-to-right body evaluation and accumulating bindings.
//
// The evaluator never returns errors: unsupported modes and invalid
// arguments yield empty binding sets.
type Evaluator struct {
	graph Graph
	rules map[string][]Rule

	// goalStack holds substituted derived goals currently being evaluated;
	// re-entering one is a cycle and is cut to guarantee termination.
	goalStack map[string]bool

	// trace, when set, records per-atom timing and result counts for the
	// explain/profile variant. A nil trace adds no overhead.
	trace *trace
}

// NewEvaluator creates an evaluator over the graph.
func NewEvaluator(g Graph) *Evaluator {
	return &Evaluator{
		graph:     g,
		rules:     make(map[string][]Rule),
		goalStack: make(map[string]bool),
	}
}

// AddRule registers one rule under its head predicate.
func (ev *Evaluator) AddRule(rule Rule) {
	ev.rules[rule.Head.Predicate] = append(ev.rules[rule.Head.Predicate], rule)
}

// LoadRules validates and registers a program. Unsafe rules and non-ground
// facts are rejected.
func (ev *Evaluator) LoadRules(p Program) error {
	if err := p.Validate(); err != nil {
		return err
	}
	for _, rule := range p.Rules {
		ev.AddRule(rule)
	}
	return nil
}

// Query returns every binding satisfying the goal atom.
func (ev *Evaluator) Query(goal Atom) []Bindings {
	return ev.evalAtom(goal)
}

func (ev *Evaluator) evalAtom(atom Atom) []Bindings {
	if ev.trace == nil {
		return ev.dispatchAtom(atom)
	}
	start := time.Now()
	results := ev.dispatchAtom(atom)
	ev.trace.record(atom, len(results), time.Since(start))
	return results
}

func (ev *Evaluator) dispatchAtom(atom Atom) []Bindings {
	switch atom.Predicate {
	case "node":
		return ev.evalNode(atom)
	case "edge":
		return ev.evalEdge(atom)
	case "incoming":
		return ev.evalIncoming(atom)
	case "path":
		return ev.evalPath(atom)
	case "attr":
		return ev.evalAttr(atom)
	case "neq":
		return ev.evalNeq(atom)
	case "starts_with":
		return ev.evalStartsWith(atom)
	case "not_starts_with":
		return ev.evalNotStartsWith(atom)
	default:
		return ev.evalDerived(atom)
	}
}

// constID resolves a constant term to a node id; only all-decimal
// constants qualify.
func constID(t Term) (storage.U128, bool) {
	if !t.IsConst() {
		return storage.U128{}, false
	}
	id, err := storage.ParseU128(t.Value)
	return id, err == nil
}

// evalNode handles node(Id, Type) in all four modes.
func (ev *Evaluator) evalNode(atom Atom) []Bindings {
	if atom.Arity() < 2 {
		return nil
	}
	idTerm, typeTerm := atom.Args[0], atom.Args[1]

	switch {
	case idTerm.IsVar() && typeTerm.IsConst():
		// node(X, "type"): enumerate nodes of the type.
		ids := ev.graph.FindByType(typeTerm.Value)
		results := make([]Bindings, 0, len(ids))
		for _, id := range ids {
			results = append(results, Bindings{idTerm.Value: IDValue(id)})
		}
		return results

	case idTerm.IsConst() && typeTerm.IsVar():
		// node("id", T): look up the type of one node.
		id, ok := constID(idTerm)
		if !ok {
			return nil
		}
		node, ok := ev.graph.GetNode(id)
		if !ok || node.Type == "" {
			return nil
		}
		return []Bindings{{typeTerm.Value: StrValue(node.Type)}}

	case idTerm.IsConst() && typeTerm.IsConst():
		// node("id", "type"): membership check.
		id, ok := constID(idTerm)
		if !ok {
			return nil
		}
		node, ok := ev.graph.GetNode(id)
		if ok && node.Type == typeTerm.Value {
			return []Bindings{{}}
		}
		return nil

	case idTerm.IsVar() && typeTerm.IsVar():
		// node(X, T): enumerate everything. O(graph).
		var results []Bindings
		for nodeType := range ev.graph.CountNodesByType(nil) {
			for _, id := range ev.graph.FindByType(nodeType) {
				results = append(results, Bindings{
					idTerm.Value:   IDValue(id),
					typeTerm.Value: StrValue(nodeType),
				})
			}
		}
		return results

	default:
		return nil
	}
}

// edgeTypeFilter extracts the optional third argument as a filter slice.
func edgeTypeFilter(t *Term) []string {
	if t != nil && t.IsConst() {
		return []string{t.Value}
	}
	return nil
}

// evalEdge handles edge(Src, Dst, Type?). Src must be bound.
func (ev *Evaluator) evalEdge(atom Atom) []Bindings {
	if atom.Arity() < 2 {
		return nil
	}
	srcTerm, dstTerm := atom.Args[0], atom.Args[1]
	var typeTerm *Term
	if atom.Arity() >= 3 {
		typeTerm = &atom.Args[2]
	}

	src, ok := constID(srcTerm)
	if !ok {
		return nil
	}

	edges := ev.graph.OutgoingEdges(src, edgeTypeFilter(typeTerm))
	var results []Bindings
	for _, e := range edges {
		b := Bindings{}
		switch dstTerm.Kind {
		case TermVar:
			b[dstTerm.Value] = IDValue(e.Dst)
		case TermConst:
			if want, ok := constID(dstTerm); !ok || want != e.Dst {
				continue
			}
		}
		if typeTerm != nil && typeTerm.IsVar() && e.Type != "" {
			b[typeTerm.Value] = StrValue(e.Type)
		}
		results = append(results, b)
	}
	return results
}

// evalIncoming handles incoming(Dst, Src, Type?). Dst must be bound.
func (ev *Evaluator) evalIncoming(atom Atom) []Bindings {
	if atom.Arity() < 2 {
		return nil
	}
	dstTerm, srcTerm := atom.Args[0], atom.Args[1]
	var typeTerm *Term
	if atom.Arity() >= 3 {
		typeTerm = &atom.Args[2]
	}

	dst, ok := constID(dstTerm)
	if !ok {
		return nil
	}

	edges := ev.graph.IncomingEdges(dst, edgeTypeFilter(typeTerm))
	var results []Bindings
	for _, e := range edges {
		b := Bindings{}
		switch srcTerm.Kind {
		case TermVar:
			b[srcTerm.Value] = IDValue(e.Src)
		case TermConst:
			if want, ok := constID(srcTerm); !ok || want != e.Src {
				continue
			}
		}
		if typeTerm != nil && typeTerm.IsVar() && e.Type != "" {
			b[typeTerm.Value] = StrValue(e.Type)
		}
		results = append(results, b)
	}
	return results
}

// nodeAttr reads a built-in attribute or a field of the metadata JSON
// document. Numbers and booleans are stringified.
func nodeAttr(node storage.NodeRecord, name string) (string, bool) {
	switch name {
	case "name":
		if node.Name == "" {
			return "", false
		}
		return node.Name, true
	case "file":
		if node.File == "" {
			return "", false
		}
		return node.File, true
	case "type":
		if node.Type == "" {
			return "", false
		}
		return node.Type, true
	}
	if node.Metadata == "" {
		return "", false
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(node.Metadata), &doc); err != nil {
		return "", false
	}
	raw, ok := doc[name]
	if !ok {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		return v, true
	case bool:
		return fmt.Sprintf("%t", v), true
	case float64:
		// json.Unmarshal without UseNumber decodes numbers as float64;
		// render integers without a fraction.
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v)), true
		}
		return fmt.Sprintf("%v", v), true
	default:
		return "", false
	}
}

// evalAttr handles attr(Id, Name, Value). Id and Name must be bound.
func (ev *Evaluator) evalAttr(atom Atom) []Bindings {
	if atom.Arity() < 3 {
		return nil
	}
	idTerm, attrTerm, valueTerm := atom.Args[0], atom.Args[1], atom.Args[2]

	id, ok := constID(idTerm)
	if !ok {
		return nil
	}
	node, ok := ev.graph.GetNode(id)
	if !ok {
		return nil
	}
	if !attrTerm.IsConst() {
		return nil
	}
	value, ok := nodeAttr(node, attrTerm.Value)
	if !ok {
		return nil
	}

	switch valueTerm.Kind {
	case TermVar:
		return []Bindings{{valueTerm.Value: StrValue(value)}}
	case TermConst:
		if value == valueTerm.Value {
			return []Bindings{{}}
		}
		return nil
	default:
		// Wildcard matches whenever the attribute exists.
		return []Bindings{{}}
	}
}

// evalPath handles path(Src, Dst) via BFS with depth 100 and no edge-type
// filter. "Path exists" excludes the trivial zero-length path.
func (ev *Evaluator) evalPath(atom Atom) []Bindings {
	if atom.Arity() < 2 {
		return nil
	}
	srcTerm, dstTerm := atom.Args[0], atom.Args[1]

	src, ok := constID(srcTerm)
	if !ok {
		return nil
	}
	reachable := ev.graph.BFS([]storage.U128{src}, pathMaxDepth, nil)

	switch dstTerm.Kind {
	case TermConst:
		dst, ok := constID(dstTerm)
		if !ok {
			return nil
		}
		for _, id := range reachable {
			if id == dst && id != src {
				return []Bindings{{}}
			}
		}
		// Src = Dst needs a real cycle, not the trivial path; the BFS
		// start node is always included, so restart from its successors.
		if dst == src {
			var successors []storage.U128
			for _, e := range ev.graph.OutgoingEdges(src, nil) {
				successors = append(successors, e.Dst)
			}
			for _, id := range ev.graph.BFS(successors, pathMaxDepth, nil) {
				if id == src {
					return []Bindings{{}}
				}
			}
		}
		return nil
	case TermVar:
		var results []Bindings
		for _, id := range reachable {
			if id == src {
				continue
			}
			results = append(results, Bindings{dstTerm.Value: IDValue(id)})
		}
		return results
	default:
		for _, id := range reachable {
			if id != src {
				return []Bindings{{}}
			}
		}
		return nil
	}
}

// evalNeq handles neq(X, Y): both arguments must be bound; succeeds when
// the string representations differ.
func (ev *Evaluator) evalNeq(atom Atom) []Bindings {
	if atom.Arity() < 2 {
		return nil
	}
	left, right := atom.Args[0], atom.Args[1]
	if !left.IsConst() || !right.IsConst() {
		return nil
	}
	if left.Value != right.Value {
		return []Bindings{{}}
	}
	return nil
}

// evalStartsWith handles starts_with(X, Prefix); both must be bound.
func (ev *Evaluator) evalStartsWith(atom Atom) []Bindings {
	if atom.Arity() < 2 {
		return nil
	}
	value, prefix := atom.Args[0], atom.Args[1]
	if !value.IsConst() || !prefix.IsConst() {
		return nil
	}
	if strings.HasPrefix(value.Value, prefix.Value) {
		return []Bindings{{}}
	}
	return nil
}

// evalNotStartsWith handles not_starts_with(X, Prefix); both must be bound.
func (ev *Evaluator) evalNotStartsWith(atom Atom) []Bindings {
	if atom.Arity() < 2 {
		return nil
	}
	value, prefix := atom.Args[0], atom.Args[1]
	if !value.IsConst() || !prefix.IsConst() {
		return nil
	}
	if !strings.HasPrefix(value.Value, prefix.Value) {
		return []Bindings{{}}
	}
	return nil
}

// evalDerived evaluates a user-defined predicate by iterating its rules.
// A goal already on the evaluation stack is a cycle and yields nothing,
// which guarantees termination over finite graphs.
func (ev *Evaluator) evalDerived(atom Atom) []Bindings {
	rules, ok := ev.rules[atom.Predicate]
	if !ok {
		return nil
	}

	goalKey := atom.String()
	if ev.goalStack[goalKey] {
		return nil
	}
	ev.goalStack[goalKey] = true
	defer delete(ev.goalStack, goalKey)

	var results []Bindings
	for _, rule := range rules {
		for _, bindings := range ev.evalRuleBody(rule) {
			results = append(results, projectToHead(rule, atom, bindings))
		}
	}
	return results
}

// evalRuleBody evaluates body literals left to right with accumulating
// bindings. Negation-as-failure: a negated atom is substituted under the
// current bindings and must yield no solutions for the bindings to pass.
func (ev *Evaluator) evalRuleBody(rule Rule) []Bindings {
	current := []Bindings{{}}

	for _, lit := range rule.Body {
		var next []Bindings
		for _, bindings := range current {
			substituted := substituteAtom(lit.Atom, bindings)
			if lit.Negated {
				if len(ev.evalAtom(substituted)) == 0 {
					next = append(next, bindings)
				}
				continue
			}
			for _, result := range ev.evalAtom(substituted) {
				if merged, ok := bindings.Extend(result); ok {
					next = append(next, merged)
				}
			}
		}
		current = next
		if len(current) == 0 {
			break
		}
	}
	return current
}

// substituteAtom replaces bound variables with constant terms.
func substituteAtom(atom Atom, bindings Bindings) Atom {
	args := make([]Term, len(atom.Args))
	for i, t := range atom.Args {
		if t.IsVar() {
			if value, ok := bindings[t.Value]; ok {
				args[i] = Const(value.String())
				continue
			}
		}
		args[i] = t
	}
	return Atom{Predicate: atom.Predicate, Args: args}
}

// projectToHead maps body bindings onto the query's variables at matching
// head positions.
func projectToHead(rule Rule, query Atom, bindings Bindings) Bindings {
	result := Bindings{}
	for i, t := range rule.Head.Args {
		if !t.IsVar() {
			continue
		}
		value, ok := bindings[t.Value]
		if !ok {
			continue
		}
		if i < len(query.Args) && query.Args[i].IsVar() {
			result[query.Args[i].Value] = value
		}
	}
	return result
}

// EvaluateGuarantee parses and loads a guarantee program and returns the
// bindings of violation(X): the graph elements failing the guarantee.
func EvaluateGuarantee(g Graph, source string) ([]Bindings, error) {
	program, err := ParseProgram(source)
	if err != nil {
		return nil, err
	}
	ev := NewEvaluator(g)
	if err := ev.LoadRules(program); err != nil {
		return nil, err
	}
	return ev.Query(NewAtom("violation", Var("X"))), nil
}
