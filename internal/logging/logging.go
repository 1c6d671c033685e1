// Package logging builds the ldlog.Loggers used by both binaries.
//
// Output goes to stdout, except Error level which goes to stderr.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
)

// Levels in ascending order of severity.
var Levels = []ldlog.LogLevel{ldlog.Debug, ldlog.Info, ldlog.Warn, ldlog.Error, ldlog.None}

// ParseLevel matches a level name ("debug", "info", "warn", "error", "none")
// case-insensitively.
func ParseLevel(name string) (ldlog.LogLevel, error) {
	for _, level := range Levels {
		if strings.EqualFold(level.Name(), strings.TrimSpace(name)) {
			return level, nil
		}
	}
	return 0, fmt.Errorf("%q is not a valid log level", name)
}

// MakeLoggers returns loggers that print to stdout/stderr with an optional
// "[category]" prefix.
func MakeLoggers(category string, level ldlog.LogLevel) ldlog.Loggers {
	return MakeLoggersWithWriters(category, level, os.Stdout, os.Stderr)
}

func MakeLoggersWithWriters(category string, level ldlog.LogLevel, out, errOut io.Writer) ldlog.Loggers {
	loggers := ldlog.Loggers{}
	loggers.SetBaseLoggerForLevel(ldlog.Debug, makeLog(out))
	loggers.SetBaseLoggerForLevel(ldlog.Info, makeLog(out))
	loggers.SetBaseLoggerForLevel(ldlog.Warn, makeLog(out))
	loggers.SetBaseLoggerForLevel(ldlog.Error, makeLog(errOut))
	loggers.SetMinLevel(level)
	if category != "" {
		loggers.SetPrefix(fmt.Sprintf("[%s]", category))
	}
	return loggers
}

func makeLog(w io.Writer) *log.Logger {
	return log.New(w, "", log.Ldate|log.Ltime|log.Lmicroseconds)
}
