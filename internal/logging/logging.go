// SPDX-License-Identifier: Apache-2.0

// Package logging configures the process-wide logger: a leveled pterm logger
// writing to stdout, optionally teed into a rotating file when a log
// directory is configured.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logger = &pterm.DefaultLogger

// Options control the logging sink.
type Options struct {
	Level     string
	Directory string
	Filename  string
}

// Setup installs the process logger. When Directory is set, log lines are
// also written to Directory/Filename_<run>.log, where <run> is a short
// per-run suffix so repeated runs never clobber each other's logs.
func Setup(opts Options) {
	logger = logger.WithLevel(parseLevel(opts.Level))

	if opts.Directory != "" {
		name := opts.Filename
		if name == "" {
			name = "databaser"
		}
		name = fmt.Sprintf("%s_%s.log", name, uuid.New().String()[:8])

		file := &lumberjack.Logger{
			Filename:   filepath.Join(opts.Directory, name),
			MaxSize:    100, // megabytes
			MaxBackups: 3,
		}
		logger = logger.WithWriter(io.MultiWriter(os.Stdout, file))
	}
}

func parseLevel(level string) pterm.LogLevel {
	switch strings.ToUpper(level) {
	case "TRACE":
		return pterm.LogLevelTrace
	case "DEBUG":
		return pterm.LogLevelDebug
	case "WARNING", "WARN":
		return pterm.LogLevelWarn
	case "ERROR":
		return pterm.LogLevelError
	default:
		return pterm.LogLevelInfo
	}
}

// L returns the process logger.
func L() *pterm.Logger {
	return logger
}
