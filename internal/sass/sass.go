// Package sass compiles SCSS sources using the Dart Sass embedded protocol.
package sass

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bep/godartsass/v2"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by Compile after Close.
var ErrClosed = errors.New("sass compiler is closed")

// Transpiler compiles a single SCSS source into CSS.
type Transpiler interface {
	Compile(source, path string, includePaths []string) (string, error)
}

type executor interface {
	Execute(args godartsass.Args) (godartsass.Result, error)
	Close() error
}

type Options struct {
	// Binary is the dart-sass executable, resolved from PATH when empty.
	Binary  string
	Timeout time.Duration
}

// Compiler starts the dart-sass process on first use and reuses it for
// every later compile.
type Compiler struct {
	opts   Options
	logger zerolog.Logger
	start  func() (executor, error)

	mu     sync.Mutex
	exec   executor
	closed bool
}

var _ Transpiler = (*Compiler)(nil)

func New(opts Options, logger zerolog.Logger) *Compiler {
	c := &Compiler{opts: opts, logger: logger}
	c.start = c.startDartSass
	return c
}

func (c *Compiler) startDartSass() (executor, error) {
	t, err := godartsass.Start(godartsass.Options{
		DartSassEmbeddedFilename: c.opts.Binary,
		Timeout:                  c.opts.Timeout,
		LogEventHandler: func(event godartsass.LogEvent) {
			c.logger.Warn().Str("message", event.Message).Msg("sass")
		},
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Compile turns SCSS into expanded CSS. Imports resolve against includePaths.
func (c *Compiler) Compile(source, path string, includePaths []string) (string, error) {
	exec, err := c.executor()
	if err != nil {
		return "", err
	}

	res, err := exec.Execute(godartsass.Args{
		Source:       source,
		URL:          "file://" + path,
		OutputStyle:  godartsass.OutputStyleExpanded,
		SourceSyntax: godartsass.SourceSyntaxSCSS,
		IncludePaths: includePaths,
	})
	if err != nil {
		return "", fmt.Errorf("failed to compile %s: %w", path, err)
	}
	return res.CSS, nil
}

func (c *Compiler) executor() (executor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.exec != nil {
		return c.exec, nil
	}

	exec, err := c.start()
	if err != nil {
		return nil, fmt.Errorf("failed to start dart-sass: %w", err)
	}
	c.logger.Debug().Str("binary", c.opts.Binary).Msg("Started sass compiler")
	c.exec = exec
	return exec, nil
}

// Close stops the dart-sass process if it was started.
func (c *Compiler) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.exec == nil {
		return nil
	}
	err := c.exec.Close()
	c.exec = nil
	return err
}
