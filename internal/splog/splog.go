// Package splog is the filter's only logging surface: every line is
// prefixed with the fixed "SP" tag spec.md §6 calls for, so operators can
// grep a mixed proxy log for this plugin's output alone. Mirrors the
// teacher's fixed-tag convention (its capture package prefixed every line
// with "[gasoline]") and the higress wrapper's per-plugin Log interface.
package splog

import (
	"fmt"

	"github.com/softprobe/sp-istio-wasm-go/internal/hostabi"
)

const tag = "SP"

// Logger writes tagged lines through a hostabi.Host. Debug lines are gated
// behind an explicit flag since the sandbox has no runtime log-level
// toggle of its own.
type Logger struct {
	host  hostabi.Host
	debug bool
}

// New constructs a Logger. debugEnabled should come from the plugin's own
// config (spec.md's "Debug ... gated behind a config flag").
func New(host hostabi.Host, debugEnabled bool) *Logger {
	return &Logger{host: host, debug: debugEnabled}
}

func (l *Logger) Criticalf(format string, args ...any) {
	l.host.LogCritical(tag + ": " + fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.host.LogError(tag + ": " + fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...any) {
	l.host.LogWarn(tag + ": " + fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...any) {
	l.host.LogInfo(tag + ": " + fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...any) {
	if !l.debug {
		return
	}
	l.host.LogDebug(tag + ": " + fmt.Sprintf(format, args...))
}
