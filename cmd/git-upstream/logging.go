// Copyright 2024 The git-upstream Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// newLogger builds the process logger: messages up to the console
// verbosity go to stdout unadorned, errors always go to stderr with
// their level, and an optional log file records everything at the
// --log-level threshold with timestamps.
func newLogger(pctx *processContext, quiet bool, verbose int, logLevel, logFile string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	consoleLevel := verbosityLevel(verbose)
	fileLevel, err := parseLevel(logLevel)
	if err != nil {
		return nil, err
	}

	// The logger itself runs at the most detailed level any sink
	// wants; the hooks narrow it down per destination.
	max := consoleLevel
	if logFile != "" && fileLevel > max {
		max = fileLevel
	}
	log.SetLevel(max)

	if !quiet {
		log.AddHook(&consoleHook{
			w:      pctx.stdout,
			levels: levelsUpTo(consoleLevel, logrus.WarnLevel),
		})
	}
	log.AddHook(&consoleHook{
		w:          pctx.stderr,
		levels:     []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel},
		showLevels: true,
	})
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o666)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		log.AddHook(&fileHook{f: f, levels: levelsUpTo(fileLevel, logrus.PanicLevel)})
	}
	return log, nil
}

// verbosityLevel maps the -v count to a console level. The default of
// one shows progress messages; each extra -v digs deeper.
func verbosityLevel(verbose int) logrus.Level {
	switch {
	case verbose <= 1:
		return logrus.InfoLevel
	case verbose == 2:
		return logrus.DebugLevel
	default:
		return logrus.TraceLevel
	}
}

// parseLevel maps the historical --log-level names onto logrus levels.
func parseLevel(name string) (logrus.Level, error) {
	switch strings.ToLower(name) {
	case "", "notset":
		return logrus.InfoLevel, nil
	case "critical":
		return logrus.FatalLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	case "warning":
		return logrus.WarnLevel, nil
	case "notice", "info":
		return logrus.InfoLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	default:
		return 0, usagef("invalid log level %q", name)
	}
}

// levelsUpTo returns all levels from most severe down to max, bounded
// above by ceil (levels more severe than ceil are excluded).
func levelsUpTo(max, ceil logrus.Level) []logrus.Level {
	var levels []logrus.Level
	for _, l := range logrus.AllLevels {
		if l < ceil || l > max {
			continue
		}
		levels = append(levels, l)
	}
	return levels
}

// consoleHook writes bare messages, optionally prefixed with their
// level the way the stderr stream formats them.
type consoleHook struct {
	w          io.Writer
	levels     []logrus.Level
	showLevels bool
}

func (h *consoleHook) Levels() []logrus.Level {
	return h.levels
}

func (h *consoleHook) Fire(entry *logrus.Entry) error {
	if h.showLevels {
		_, err := fmt.Fprintf(h.w, "%-8s: %s\n", strings.ToUpper(entry.Level.String()), entry.Message)
		return err
	}
	_, err := fmt.Fprintln(h.w, entry.Message)
	return err
}

// fileHook records timestamped entries to the --log-file destination.
type fileHook struct {
	f      *os.File
	levels []logrus.Level
}

func (h *fileHook) Levels() []logrus.Level {
	return h.levels
}

func (h *fileHook) Fire(entry *logrus.Entry) error {
	_, err := fmt.Fprintf(h.f, "%s - git-upstream - %s: %s\n",
		entry.Time.Format("2006-01-02 15:04:05"),
		strings.ToUpper(entry.Level.String()),
		entry.Message)
	return err
}
