// Package config describes how the client-side assets of an application are
// compiled: entry, output layout, module resolution, transformation rules and
// the mode-specific list of post-processing steps.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EnvVar selects the build mode.
const EnvVar = "NODE_ENV"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid build configuration")

// Mode selects between the development and production branches.
type Mode int

const (
	ModeProduction Mode = iota
	ModeDevelopment
)

// ModeFromEnv returns development only for the exact value "development".
func ModeFromEnv(value string) Mode {
	if value == "development" {
		return ModeDevelopment
	}
	return ModeProduction
}

func (m Mode) String() string {
	if m == ModeDevelopment {
		return "development"
	}
	return "production"
}

func (m Mode) MarshalYAML() (any, error) {
	return m.String(), nil
}

// Devtool values.
const (
	DevtoolSourceMap = "source-map"
	DevtoolNone      = ""
)

type Output struct {
	Path              string `yaml:"path"`
	PublicPath        string `yaml:"public_path"`
	Filename          string `yaml:"filename"`
	SourceMapFilename string `yaml:"source_map_filename"`
}

type Resolve struct {
	Modules          []string `yaml:"modules"`
	Extensions       []string `yaml:"extensions"`
	DescriptionFiles []string `yaml:"description_files"`
}

type WatchOptions struct {
	AggregateTimeout time.Duration `yaml:"aggregate_timeout"`
	Poll             bool          `yaml:"poll"`
}

type DevServer struct {
	ContentBase string `yaml:"content_base"`
	Compress    bool   `yaml:"compress"`
	Inline      bool   `yaml:"inline"`
	Port        int    `yaml:"port"`
}

// Config is the build configuration. It is built once per invocation and
// not changed by the pipeline.
type Config struct {
	Mode         Mode         `yaml:"mode"`
	Paths        Paths        `yaml:"paths"`
	Context      string       `yaml:"context"`
	Entry        string       `yaml:"entry"`
	Output       Output       `yaml:"output"`
	Resolve      Resolve      `yaml:"resolve"`
	Devtool      string       `yaml:"devtool"`
	Target       string       `yaml:"target"`
	Cache        bool         `yaml:"cache"`
	WatchOptions WatchOptions `yaml:"watch_options"`
	DevServer    DevServer    `yaml:"dev_server"`
	Module       Module       `yaml:"module"`
	Plugins      []Plugin     `yaml:"plugins"`
}

// Load resolves the project directory and reads the mode from the environment.
func Load(projectDir string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	return New(projectDir, ModeFromEnv(getenv(EnvVar)))
}

// New builds the configuration for the project rooted at projectDir.
func New(projectDir string, mode Mode) (*Config, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}

	paths := NewPaths(filepath.Join(abs, "app"))

	devtool := DevtoolNone
	if mode == ModeDevelopment {
		devtool = DevtoolSourceMap
	}

	return &Config{
		Mode:    mode,
		Paths:   paths,
		Context: abs,
		Entry:   paths.Entry,
		Output: Output{
			Path:              paths.DistDir,
			PublicPath:        PublicPath,
			Filename:          ScriptBundleFile,
			SourceMapFilename: SourceMapFilename,
		},
		Resolve: Resolve{
			Modules:          []string{"node_modules", paths.AppDir},
			Extensions:       []string{".js", ".json", ".jsx", ".css", ".scss"},
			DescriptionFiles: []string{"package.json"},
		},
		Devtool: devtool,
		Target:  "web",
		Cache:   false,
		WatchOptions: WatchOptions{
			AggregateTimeout: time.Second,
			Poll:             true,
		},
		DevServer: DevServer{
			ContentBase: paths.AppDir,
			Compress:    true,
			Inline:      true,
			Port:        3030,
		},
		Module:  Module{Rules: DefaultRules(paths)},
		Plugins: Plugins(mode),
	}, nil
}

// SourceMaps reports whether source maps are emitted.
func (c *Config) SourceMaps() bool {
	return c.Devtool == DevtoolSourceMap
}

// ExtractsStylesheets reports whether an enabled extract step is present.
// Without one, stylesheets are injected by the script bundle at runtime.
func (c *Config) ExtractsStylesheets() bool {
	for _, p := range c.Plugins {
		if p.Kind == PluginExtractStylesheet && p.Extract != nil && !p.Extract.Disable {
			return true
		}
	}
	return false
}

// ScriptBundle returns the absolute path of the compiled script.
func (c *Config) ScriptBundle() string {
	return filepath.Join(c.Output.Path, filepath.FromSlash(c.Output.Filename))
}

// Validate checks the configuration against the shape the pipeline expects.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Paths.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Entry == "" {
		errs = append(errs, errors.New("entry is required"))
	} else if !Within(c.Paths.AppDir, c.Entry) {
		errs = append(errs, fmt.Errorf("entry %q is outside the app directory", c.Entry))
	}
	if !Within(c.Paths.AppDir, c.Output.Path) {
		errs = append(errs, fmt.Errorf("output path %q is outside the app directory", c.Output.Path))
	}
	if err := validateRelative(c.Output.Filename); err != nil {
		errs = append(errs, fmt.Errorf("output filename: %w", err))
	}
	if !strings.Contains(c.Output.SourceMapFilename, "[file]") {
		errs = append(errs, errors.New("source map filename must contain [file]"))
	}
	if !strings.HasPrefix(c.Output.PublicPath, "/") || !strings.HasSuffix(c.Output.PublicPath, "/") {
		errs = append(errs, fmt.Errorf("public path %q must start and end with /", c.Output.PublicPath))
	}
	if c.Devtool != DevtoolNone && c.Devtool != DevtoolSourceMap {
		errs = append(errs, fmt.Errorf("unsupported devtool %q", c.Devtool))
	}
	if c.Target != "web" {
		errs = append(errs, fmt.Errorf("unsupported target %q", c.Target))
	}
	if c.DevServer.Port < 1 || c.DevServer.Port > 65535 {
		errs = append(errs, fmt.Errorf("dev server port %d out of range", c.DevServer.Port))
	}
	if c.WatchOptions.AggregateTimeout < 0 {
		errs = append(errs, errors.New("aggregate timeout must not be negative"))
	}
	if len(c.Module.Rules) == 0 {
		errs = append(errs, errors.New("at least one module rule is required"))
	}
	for i, rule := range c.Module.Rules {
		if rule.Test.IsZero() {
			errs = append(errs, fmt.Errorf("rule %d has no test pattern", i))
		}
	}
	if err := ValidatePluginOrder(c.Plugins); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func validateRelative(name string) error {
	if name == "" {
		return errors.New("must not be empty")
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return fmt.Errorf("%q must be relative", name)
	}
	clean := filepath.ToSlash(filepath.Clean(name))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%q escapes the output directory", name)
	}
	return nil
}
