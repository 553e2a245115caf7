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

// Package ui provides colored terminal output for the CLI. Colors are
// disabled when stdout is not a TTY or when the user passes --no-color.
package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var (
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	warnColor    = color.New(color.FgYellow)
)

// InitColors configures color output. Pass noColor=true to force plain
// text; otherwise colors stay enabled only for interactive terminals.
func InitColors(noColor bool) {
	if noColor || !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

// Successf prints a green success line to stdout.
func Successf(format string, args ...interface{}) {
	successColor.Printf(format+"\n", args...)
}

// Errorf prints a red error line to stderr.
func Errorf(format string, args ...interface{}) {
	fmt.Fprintln(os.Stderr, errorColor.Sprintf(format, args...))
}

// Infof prints a cyan informational line to stdout.
func Infof(format string, args ...interface{}) {
	infoColor.Printf(format+"\n", args...)
}

// Warnf prints a yellow warning line to stderr.
func Warnf(format string, args ...interface{}) {
	fmt.Fprintln(os.Stderr, warnColor.Sprintf(format, args...))
}
