// Package logging configures the global zerolog logger of gocomet CLI.
package logging

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/centrifugal/gocomet/internal/configtypes"
	"github.com/centrifugal/gocomet/internal/logutils"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var logLevelMatches = map[string]zerolog.Level{
	"NONE":  zerolog.Disabled,
	"TRACE": zerolog.TraceLevel,
	"DEBUG": zerolog.DebugLevel,
	"INFO":  zerolog.InfoLevel,
	"WARN":  zerolog.WarnLevel,
	"ERROR": zerolog.ErrorLevel,
	"FATAL": zerolog.FatalLevel,
}

// ParseLevel matches level string to zerolog level. Empty string is info.
func ParseLevel(level string) (zerolog.Level, error) {
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	l, ok := logLevelMatches[strings.ToUpper(level)]
	if !ok {
		return zerolog.NoLevel, fmt.Errorf("unknown log level: %s", level)
	}
	return l, nil
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:                 out,
		TimeFormat:          "2006-01-02 15:04:05",
		FormatLevel:         logutils.ConsoleFormatLevel(),
		FormatErrFieldName:  logutils.ConsoleFormatErrFieldName(),
		FormatErrFieldValue: logutils.ConsoleFormatErrFieldValue(),
	}
}

func isTerminalAttached() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) && runtime.GOOS != "windows"
}

// Setup configures global logger. Returned func releases log file if any.
func Setup(cfg configtypes.Log) (func(), error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zerolog.SetGlobalLevel(level)
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("error opening log file: %w", err)
		}
		log.Logger = log.Output(f)
		return func() { _ = f.Close() }, nil
	}
	if isTerminalAttached() {
		log.Logger = log.Output(consoleWriter(os.Stdout))
	}
	return func() {}, nil
}

// Enabled checks if a specific logging level is enabled.
func Enabled(level zerolog.Level) bool {
	return level >= zerolog.GlobalLevel()
}
