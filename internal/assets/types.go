package assets

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/appbundle/internal/config"
	"github.com/wolfeidau/appbundle/internal/sass"
)

// ErrBuildFailed is wrapped by every BuildError.
var ErrBuildFailed = errors.New("build failed")

// BuildError carries the messages reported by esbuild or a processing step.
type BuildError struct {
	Step     string
	Messages []api.Message
}

func (e *BuildError) Error() string {
	var sb strings.Builder
	if e.Step != "" {
		fmt.Fprintf(&sb, "%s: ", e.Step)
	}
	sb.WriteString("esbuild errors:")
	for _, msg := range e.Messages {
		sb.WriteString("\n")
		if msg.Location != nil {
			fmt.Fprintf(&sb, "%s:%d:%d: ", msg.Location.File, msg.Location.Line, msg.Location.Column)
		}
		sb.WriteString(msg.Text)
	}
	return sb.String()
}

func (e *BuildError) Unwrap() error {
	return ErrBuildFailed
}

type BuildMetadata struct {
	Inputs  map[string]InputInfo  `json:"inputs"`
	Outputs map[string]OutputInfo `json:"outputs"`
}

type InputInfo struct {
	Bytes int `json:"bytes"`
}

type OutputInfo struct {
	Bytes      int          `json:"bytes"`
	EntryPoint string       `json:"entryPoint"`
	Imports    []ImportInfo `json:"imports"`
}

type ImportInfo struct {
	Path string `json:"path"`
}

// Asset is an emitted file. Name is slash separated and relative to the
// output directory.
type Asset struct {
	Name     string
	Contents []byte

	// origin is the name esbuild emitted the asset under, used to keep
	// relative source map paths valid after the asset is moved.
	origin string
}

// Bundle is the in-memory set of assets passed through the processing steps.
type Bundle struct {
	Assets []*Asset
}

// Find returns the asset with the given name or nil.
func (b *Bundle) Find(name string) *Asset {
	for _, a := range b.Assets {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// Remove drops the asset with the given name.
func (b *Bundle) Remove(name string) {
	b.Assets = slices.DeleteFunc(b.Assets, func(a *Asset) bool {
		return a.Name == name
	})
}

// Put replaces the asset with the same name or appends it.
func (b *Bundle) Put(asset *Asset) {
	for i, a := range b.Assets {
		if a.Name == asset.Name {
			b.Assets[i] = asset
			return
		}
	}
	b.Assets = append(b.Assets, asset)
}

// ByExt returns assets with the extension, in bundle order.
func (b *Bundle) ByExt(ext string) []*Asset {
	var out []*Asset
	for _, a := range b.Assets {
		if path.Ext(a.Name) == ext {
			out = append(out, a)
		}
	}
	return out
}

// OutputFile describes an asset in a build result.
type OutputFile struct {
	Name    string
	Path    string
	Size    int
	Written bool
}

// Result summarises a build.
type Result struct {
	ID          uuid.UUID
	Mode        config.Mode
	Files       []OutputFile
	Inputs      []string
	Warnings    []string
	Fingerprint string
	Duration    time.Duration
}

// File returns the output file with the given name.
func (r *Result) File(name string) (OutputFile, bool) {
	for _, f := range r.Files {
		if f.Name == name {
			return f, true
		}
	}
	return OutputFile{}, false
}

// Changed returns the names of the files rewritten by this build.
func (r *Result) Changed() []string {
	var names []string
	for _, f := range r.Files {
		if f.Written {
			names = append(names, f.Name)
		}
	}
	return names
}

// Pipeline turns the build configuration into bundles on disk.
type Pipeline struct {
	cfg    *config.Config
	logger zerolog.Logger
	sass   sass.Transpiler
	steps  []Step

	mu       sync.Mutex
	bctx     api.BuildContext
	metadata *BuildMetadata
	written  map[string]uint64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used for build output.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithSass sets the compiler used for .scss files.
func WithSass(t sass.Transpiler) Option {
	return func(p *Pipeline) {
		p.sass = t
	}
}

// New creates an asset pipeline for the configuration. The configuration is
// validated and its plugin list turned into processing steps.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:     cfg,
		logger:  zerolog.Nop(),
		written: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(p)
	}

	steps, err := newSteps(cfg.Plugins, scriptTarget(cfg), p.logger)
	if err != nil {
		return nil, err
	}
	p.steps = steps

	return p, nil
}

// Config returns the configuration the pipeline was built with.
func (p *Pipeline) Config() *config.Config {
	return p.cfg
}

// Close releases the esbuild context kept between builds.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dispose()
}

func (p *Pipeline) dispose() {
	if p.bctx != nil {
		p.bctx.Dispose()
		p.bctx = nil
	}
}
