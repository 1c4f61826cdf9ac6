// Package logging provides the structured, component-tagged zerolog setup
// used across the player core, adapted from cartographus's internal/logging
// (global level + Init + named sub-loggers) down to what this daemon needs:
// one logger per component (transport, downloader, store, resolver,
// collector) plus the remote logLevel → zerolog level mapping §6 describes
// ("structured log records tagged by component").
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// RemoteLevel is the CMS-assigned verbosity from the register() settings
// map (§6): "error", "audit", "info", or "debug".
type RemoteLevel string

const (
	LevelError RemoteLevel = "error"
	LevelAudit RemoteLevel = "audit"
	LevelInfo  RemoteLevel = "info"
	LevelDebug RemoteLevel = "debug"
)

var (
	mu   sync.RWMutex
	root zerolog.Logger
)

func init() {
	root = zerolog.New(os.Stderr).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// Init configures the root logger's output and starting level.
func Init(w io.Writer, level RemoteLevel) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	root = zerolog.New(w).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(toZerolog(level))
}

// SetRemoteLevel re-gates the global level from a CMS-pushed logLevel
// setting, without otherwise touching logger configuration.
func SetRemoteLevel(level RemoteLevel) {
	zerolog.SetGlobalLevel(toZerolog(level))
}

func toZerolog(level RemoteLevel) zerolog.Level {
	switch RemoteLevel(strings.ToLower(string(level))) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelAudit:
		// Audit entries are operationally significant but not failures;
		// map to Warn so they survive at the CMS's "quiet" setting too.
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Component returns a logger tagged with the given component name, e.g.
// "transport", "downloader", "store", "resolver", "collector".
func Component(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.With().Str("component", name).Logger()
}

// Root returns the untagged root logger, for the entrypoint's own logging.
func Root() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}
