// Package rlog is the structured-logging facade shared by the reliability
// engine, transport and driver (logrus, the hot path) and the listener
// (log/slog, the orchestration layer). Keeping two backends mirrors the
// mixed logrus/slog stack the engine's own packages use depending on
// whether the code is close to the wire or close to process orchestration.
package rlog

import (
	"log/slog"
	"os"

	"github.com/sirupsen/logrus"
)

// Level controls verbosity across both backends.
type Level int

const (
	LevelQuiet Level = iota // warnings and above only
	LevelInfo               // default
	LevelDebug               // -v
)

// Conn returns a logrus logger tagged for one connection, used by the
// reliability engine, transport and driver.
func Conn(level Level, peer string) *logrus.Entry {
	base := logrus.New()
	base.SetLevel(toLogrusLevel(level))
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return base.WithField("peer", peer)
}

func toLogrusLevel(level Level) logrus.Level {
	switch level {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelQuiet:
		return logrus.WarnLevel
	default:
		return logrus.InfoLevel
	}
}

// Server returns a slog.Logger used by the listener/demux orchestration
// layer.
func Server(level Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: toSlogLevel(level),
	}))
}

func toSlogLevel(level Level) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelQuiet:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// FromFlags resolves -v/-q into a Level, rejecting the case where both are
// set; callers at the CLI boundary turn that rejection into a ConfigError.
func FromFlags(verbose, quiet bool) (Level, bool) {
	if verbose && quiet {
		return LevelInfo, false
	}
	if verbose {
		return LevelDebug, true
	}
	if quiet {
		return LevelQuiet, true
	}
	return LevelInfo, true
}
