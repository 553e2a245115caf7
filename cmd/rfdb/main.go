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

// Package main implements the RFDB operator CLI.
//
// Usage:
//
//	rfdb status <db-path> [--json]      Show database statistics
//	rfdb import <db-path> <file>        Bulk-load NDJSON nodes and edges
//	rfdb query <db-path> <program>      Evaluate a Datalog program
//	rfdb check <db-path> <rules-file>   Check guarantees (violation rules)
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/rfdb/internal/ui"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "unknown"
)

// GlobalFlags holds the flags that apply to all commands.
type GlobalFlags struct {
	JSON    bool
	NoColor bool
	Quiet   bool
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format (for applicable commands)")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output")
	)

	// Stop parsing at the first non-flag argument so subcommand flags
	// reach the subcommand handlers instead of the global parser.
	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `RFDB - embedded graph database for code-analysis artifacts

Usage:
  rfdb <command> [arguments]

Commands:
  status    Show database statistics
  import    Bulk-load NDJSON nodes and edges
  query     Evaluate a Datalog program against the graph
  check     Check guarantees (violation rules) against the graph

Global flags:
%s`, flag.CommandLine.FlagUsages())
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("rfdb %s (%s)\n", version, commit)
		os.Exit(0)
	}

	globals := GlobalFlags{
		JSON:    *jsonOutput,
		NoColor: *noColor,
		Quiet:   *quiet,
	}
	ui.InitColors(globals.NoColor)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var code int
	switch args[0] {
	case "status":
		code = runStatus(args[1:], globals)
	case "import":
		code = runImport(args[1:], globals)
	case "query":
		code = runQuery(args[1:], globals)
	case "check":
		code = runCheck(args[1:], globals)
	default:
		ui.Errorf("unknown command %q", args[0])
		flag.Usage()
		code = 2
	}
	os.Exit(code)
}
