package config

import (
	"errors"
	"fmt"
)

// PluginKind names a post-processing step.
type PluginKind string

const (
	PluginDefine             PluginKind = "define"
	PluginOccurrenceOrder    PluginKind = "occurrence-order"
	PluginMinifyScript       PluginKind = "minify-script"
	PluginExtractStylesheet  PluginKind = "extract-stylesheet"
	PluginOptimizeStylesheet PluginKind = "optimize-stylesheet"
)

// Plugin describes one post-processing step. Only the options matching Kind are set.
type Plugin struct {
	Kind     PluginKind        `yaml:"kind"`
	Define   map[string]string `yaml:"define,omitempty"`
	Minify   *MinifyOptions    `yaml:"minify,omitempty"`
	Extract  *ExtractOptions   `yaml:"extract,omitempty"`
	Optimize *OptimizeOptions  `yaml:"optimize,omitempty"`
}

type MinifyOptions struct {
	SourceMap bool `yaml:"source_map"`
	Mangle    bool `yaml:"mangle"`
}

type ExtractOptions struct {
	// Filename is relative to the output path.
	Filename  string `yaml:"filename"`
	Disable   bool   `yaml:"disable"`
	AllChunks bool   `yaml:"all_chunks"`
}

type OptimizeOptions struct {
	AssetPattern      Pattern `yaml:"asset_pattern"`
	RemoveAllComments bool    `yaml:"remove_all_comments"`
	CanPrint          bool    `yaml:"can_print"`
}

// Plugins selects the plugin list for the mode. It has no side effects.
func Plugins(mode Mode) []Plugin {
	if mode == ModeDevelopment {
		return DevelopmentPlugins()
	}
	return ProductionPlugins()
}

// DevelopmentPlugins extracts stylesheets into the combined file on every rebuild.
func DevelopmentPlugins() []Plugin {
	return []Plugin{
		extractStylesheet(),
	}
}

// ProductionPlugins inlines the environment marker, stabilises ordering,
// minifies scripts, then extracts and optimises the stylesheet. The whole
// process.env object is defined so other reads become undefined instead of
// referencing a missing global.
func ProductionPlugins() []Plugin {
	return []Plugin{
		{
			Kind: PluginDefine,
			Define: map[string]string{
				"process.env": `{"NODE_ENV":"production"}`,
			},
		},
		{Kind: PluginOccurrenceOrder},
		{
			Kind:   PluginMinifyScript,
			Minify: &MinifyOptions{SourceMap: false, Mangle: false},
		},
		extractStylesheet(),
		{
			Kind: PluginOptimizeStylesheet,
			Optimize: &OptimizeOptions{
				AssetPattern:      MustPattern(`(^|/)bundle\.css$`),
				RemoveAllComments: true,
				CanPrint:          true,
			},
		},
	}
}

func extractStylesheet() Plugin {
	return Plugin{
		Kind: PluginExtractStylesheet,
		Extract: &ExtractOptions{
			Filename:  StylesheetBundlePath,
			Disable:   false,
			AllChunks: true,
		},
	}
}

// ValidatePluginOrder checks the ordering constraints between steps that
// depend on each other's output.
func ValidatePluginOrder(plugins []Plugin) error {
	first := map[PluginKind]int{}
	var errs []error

	for i, p := range plugins {
		if err := p.validate(); err != nil {
			errs = append(errs, fmt.Errorf("plugin %d: %w", i, err))
			continue
		}
		if _, ok := first[p.Kind]; !ok {
			first[p.Kind] = i
		}
	}

	if d, ok := first[PluginDefine]; ok {
		if m, ok := first[PluginMinifyScript]; ok && m < d {
			errs = append(errs, errors.New("define must run before minify-script"))
		}
	}

	if o, ok := first[PluginOptimizeStylesheet]; ok {
		e, ok := first[PluginExtractStylesheet]
		switch {
		case !ok:
			errs = append(errs, errors.New("optimize-stylesheet requires an extract-stylesheet step"))
		case o < e:
			errs = append(errs, errors.New("extract-stylesheet must run before optimize-stylesheet"))
		}
	}

	return errors.Join(errs...)
}

func (p Plugin) validate() error {
	switch p.Kind {
	case PluginDefine:
		if len(p.Define) == 0 {
			return errors.New("define has no definitions")
		}
	case PluginOccurrenceOrder:
	case PluginMinifyScript:
		if p.Minify == nil {
			return errors.New("minify-script is missing options")
		}
	case PluginExtractStylesheet:
		if p.Extract == nil || p.Extract.Filename == "" {
			return errors.New("extract-stylesheet requires a filename")
		}
		if err := validateRelative(p.Extract.Filename); err != nil {
			return fmt.Errorf("extract-stylesheet: %w", err)
		}
	case PluginOptimizeStylesheet:
		if p.Optimize == nil || p.Optimize.AssetPattern.IsZero() {
			return errors.New("optimize-stylesheet requires an asset pattern")
		}
	default:
		return fmt.Errorf("unknown plugin kind %q", p.Kind)
	}
	return nil
}
