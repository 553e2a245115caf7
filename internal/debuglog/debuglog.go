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

// Package debuglog is the NAVI_DEBUG-gated verbose logging channel. It
// reports internal engine decisions (delta application, flush triggers,
// query fan-out) to stderr and is silent unless the NAVI_DEBUG environment
// variable is set to any value.
package debuglog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var logger *logrus.Logger

func init() {
	logger = logrus.New()
	logger.SetOutput(os.Stderr)
	if _, ok := os.LookupEnv("NAVI_DEBUG"); ok {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}
	logger.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})
}

// Enabled reports whether verbose debug output is active.
func Enabled() bool {
	return logger.IsLevelEnabled(logrus.DebugLevel)
}

// Logf emits a debug line when NAVI_DEBUG is set.
func Logf(format string, args ...interface{}) {
	logger.Debugf(format, args...)
}

// WithFields emits a structured debug entry when NAVI_DEBUG is set.
func WithFields(fields map[string]interface{}, msg string) {
	logger.WithFields(logrus.Fields(fields)).Debug(msg)
}
