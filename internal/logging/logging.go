// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger setup
type Options struct {
	// Level is a logrus level name (debug, info, warn, error)
	Level string

	// File enables rotating file output in addition to stderr
	File string

	// Verbose forces debug level
	Verbose bool

	// JSON switches to the JSON formatter, used in CI
	JSON bool

	// Stderr overrides the console writer
	Stderr io.Writer
}

var (
	mu      sync.Mutex
	console io.Writer = os.Stderr
	file    *lumberjack.Logger
)

// Setup configures the standard logrus logger and returns a function that
// closes the log file, if any
func Setup(opts Options) (func() error, error) {
	level := log.WarnLevel
	if opts.Level != "" {
		parsed, err := log.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q\n  → Use one of: %s", opts.Level, strings.Join(levelNames(), ", "))
		}
		level = parsed
	}
	if opts.Verbose {
		level = log.DebugLevel
	}

	var lj *lumberjack.Logger
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("cannot create log dir: %w", err)
		}
		lj = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
	}

	log.SetLevel(level)
	if opts.JSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05",
		})
	}

	mu.Lock()
	console = opts.Stderr
	if console == nil {
		console = os.Stderr
	}
	file = lj
	mu.Unlock()
	log.SetOutput(writer(true))

	if lj == nil {
		return func() error { return nil }, nil
	}
	log.Debugf("created rotating log file %q with max size %d MB and max backups %d",
		lj.Filename, lj.MaxSize, lj.MaxBackups)
	return lj.Close, nil
}

// Silence stops console output while keeping file output, for full screen
// UIs. The returned function restores console output.
func Silence() func() {
	log.SetOutput(writer(false))
	return func() { log.SetOutput(writer(true)) }
}

func writer(withConsole bool) io.Writer {
	mu.Lock()
	defer mu.Unlock()

	switch {
	case withConsole && file != nil:
		return io.MultiWriter(console, file)
	case withConsole:
		return console
	case file != nil:
		return file
	default:
		return io.Discard
	}
}

func levelNames() []string {
	var names []string
	for _, l := range log.AllLevels {
		names = append(names, l.String())
	}
	return names
}
