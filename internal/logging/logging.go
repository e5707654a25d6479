// Package logging centralizes the stack's diagnostic output behind
// github.com/charmbracelet/log, the structured logger already declared in
// the teacher's go.mod (used there for little beyond its pflag-driven CLI
// output). Every layer logs through a per-component handle instead of
// direwolf's global text_color_set/dw_printf sink, trading ANSI severity
// colors for structured key/value fields.
package logging

import (
	"os"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	mu      sync.Mutex
	base    = log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	byName  = make(map[string]*log.Logger)
)

// SetLevel adjusts the verbosity of every component logger.
func SetLevel(level log.Level) {
	mu.Lock()
	defer mu.Unlock()
	base.SetLevel(level)
	for _, l := range byName {
		l.SetLevel(level)
	}
}

// Component returns the named logger, e.g. logging.Component("link") or
// logging.Component("net.join"). Loggers are cached so repeated calls with
// the same name share configuration.
func Component(name string) *log.Logger {
	mu.Lock()
	defer mu.Unlock()
	if l, ok := byName[name]; ok {
		return l
	}
	var l = base.With("component", name)
	byName[name] = l
	return l
}
