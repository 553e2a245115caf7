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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProgram_GuaranteeRule(t *testing.T) {
	program, err := ParseProgram(`violation(X) :- node(X, "queue:publish"), \+ path(X, _).`)
	require.NoError(t, err)
	require.Len(t, program.Rules, 1)

	rule := program.Rules[0]
	assert.Equal(t, "violation", rule.Head.Predicate)
	require.Len(t, rule.Head.Args, 1)
	assert.Equal(t, Var("X"), rule.Head.Args[0])

	require.Len(t, rule.Body, 2)
	assert.False(t, rule.Body[0].Negated)
	assert.Equal(t, "node", rule.Body[0].Atom.Predicate)
	assert.Equal(t, Const("queue:publish"), rule.Body[0].Atom.Args[1])

	assert.True(t, rule.Body[1].Negated)
	assert.Equal(t, "path", rule.Body[1].Atom.Predicate)
	assert.Equal(t, Wildcard(), rule.Body[1].Atom.Args[1])
}

func TestParseProgram_Fact(t *testing.T) {
	program, err := ParseProgram(`trusted("12345").`)
	require.NoError(t, err)
	require.Len(t, program.Rules, 1)
	assert.True(t, program.Rules[0].IsFact())
	assert.Equal(t, Const("12345"), program.Rules[0].Head.Args[0])
}

func TestParseProgram_ZeroArity(t *testing.T) {
	program, err := ParseProgram(`failing :- node(X, "CALL").`)
	require.NoError(t, err)
	assert.Equal(t, 0, program.Rules[0].Head.Arity())
}

func TestParseProgram_CommentsAndWhitespace(t *testing.T) {
	src := `
% guarantees for queue publishers
violation(X) :-
    node(X, "queue:publish"),   % every publisher
    \+ path(X, _).              % must reach something

% a second rule
reachable(X) :- node(X, "FUNCTION"), path(X, _).
`
	program, err := ParseProgram(src)
	require.NoError(t, err)
	assert.Len(t, program.Rules, 2)
}

func TestParseProgram_BareConstantsAndNamespacedTypes(t *testing.T) {
	program, err := ParseProgram(`p(X) :- node(X, http:route).`)
	require.NoError(t, err)
	arg := program.Rules[0].Body[0].Atom.Args[1]
	assert.Equal(t, Const("http:route"), arg)
}

func TestParseProgram_WildcardVsUnderscoreVar(t *testing.T) {
	program, err := ParseProgram(`p(X) :- edge(X, _, _type), node(_type, "T").`)
	require.NoError(t, err)
	body := program.Rules[0].Body
	assert.Equal(t, Wildcard(), body[0].Atom.Args[1])
	assert.Equal(t, Var("_type"), body[0].Atom.Args[2])
}

func TestParseProgram_Errors(t *testing.T) {
	cases := []string{
		`violation(X)`,                // missing period
		`violation(X :- node(X).`,     // unbalanced paren
		`violation(X) :- node(X, ").`, // unterminated string
		`:- node(X).`,                 // missing head
		`violation(X) :- .`,           // empty body
		`violation(X) :- node(X),,.`,  // double comma
	}
	for _, src := range cases {
		_, err := ParseProgram(src)
		if err == nil {
			t.Errorf("ParseProgram(%q) succeeded", src)
			continue
		}
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Errorf("ParseProgram(%q): error is not *ParseError: %v", src, err)
		}
	}
}

func TestParseError_ReportsPosition(t *testing.T) {
	_, err := ParseProgram(`violation(X`)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Greater(t, perr.Position, 0)
	assert.Contains(t, perr.Error(), "parse error at")
}

func TestParseAtom(t *testing.T) {
	atom, err := ParseAtom(`violation(X)`)
	require.NoError(t, err)
	assert.Equal(t, "violation", atom.Predicate)
	assert.Equal(t, []Term{Var("X")}, atom.Args)

	_, err = ParseAtom(`violation(X) trailing`)
	assert.Error(t, err)
}

func TestRuleSafety(t *testing.T) {
	safe, err := ParseProgram(`v(X) :- node(X, "T"), \+ path(X, _).`)
	require.NoError(t, err)
	assert.True(t, safe.Rules[0].Safe())
	assert.NoError(t, safe.Validate())

	// Head variable only bound by a negated literal.
	unsafe, err := ParseProgram(`v(X) :- \+ node(X, "T").`)
	require.NoError(t, err)
	assert.False(t, unsafe.Rules[0].Safe())
	assert.Error(t, unsafe.Validate())

	// Non-ground fact.
	badFact, err := ParseProgram(`v(X).`)
	require.NoError(t, err)
	assert.Error(t, badFact.Validate())
}
