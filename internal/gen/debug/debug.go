// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build gendebug

package debug

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

const Enabled = true

// Depth of nested structured blocks, for trace indentation.
var Depth int

var log = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return l
}()

func Printf(format string, args ...any) {
	if Depth > 0 {
		format = strings.Repeat("  ", Depth) + format
	}
	log.Debugf(format, args...)
}
