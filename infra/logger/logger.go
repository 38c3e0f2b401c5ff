package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	corelogger "github.com/kilianp07/evstation/core/logger"
)

// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// Options selects the level and destination of every logger built by New.
// An empty Path keeps the output on stdout.
type Options struct {
	Level      string `json:"level"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// SetDefaults fills the rotation settings.
func (o *Options) SetDefaults() {
	if o.Level == "" {
		o.Level = "info"
	}
	if o.MaxSizeMB == 0 {
		o.MaxSizeMB = 50
	}
	if o.MaxBackups == 0 {
		o.MaxBackups = 3
	}
	if o.MaxAgeDays == 0 {
		o.MaxAgeDays = 28
	}
}

// Validate checks the level name and the rotation settings.
func (o Options) Validate() error {
	if _, err := zerolog.ParseLevel(o.Level); err != nil {
		return fmt.Errorf("logging level: %w", err)
	}
	if o.MaxSizeMB < 0 || o.MaxBackups < 0 || o.MaxAgeDays < 0 {
		return fmt.Errorf("logging rotation settings must not be negative")
	}
	return nil
}

var (
	mu  sync.RWMutex
	out io.Writer = os.Stdout
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Configure applies o to the loggers created afterwards. The returned closer
// releases the rotating file when one is used.
func Configure(o Options) (io.Closer, error) {
	o.SetDefaults()
	if err := o.Validate(); err != nil {
		return nil, err
	}
	lvl, _ := zerolog.ParseLevel(o.Level)
	zerolog.SetGlobalLevel(lvl)

	mu.Lock()
	defer mu.Unlock()
	if o.Path == "" {
		out = os.Stdout
		return nopCloser{}, nil
	}
	lj := &lumberjack.Logger{
		Filename:   o.Path,
		MaxSize:    o.MaxSizeMB,
		MaxBackups: o.MaxBackups,
		MaxAge:     o.MaxAgeDays,
	}
	out = lj
	return lj, nil
}

func writer() io.Writer {
	mu.RLock()
	defer mu.RUnlock()
	return out
}

// New returns a Logger for the given component. The environment is detected via
// the APP_ENV variable.
func New(component string) Logger {
	return NewZerologLogger(component)
}
