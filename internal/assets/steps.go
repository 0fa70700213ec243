package assets

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/appbundle/internal/config"
)

// Step is one post-processing plugin. Configure runs before esbuild is
// invoked, Process runs on the emitted assets. Steps run in list order.
type Step interface {
	Name() string
	Configure(opts *api.BuildOptions)
	Process(b *Bundle) error
}

func newSteps(plugins []config.Plugin, target api.Target, logger zerolog.Logger) ([]Step, error) {
	steps := make([]Step, 0, len(plugins))
	for _, p := range plugins {
		switch p.Kind {
		case config.PluginDefine:
			steps = append(steps, &defineStep{values: maps.Clone(p.Define)})
		case config.PluginOccurrenceOrder:
			steps = append(steps, &orderStep{})
		case config.PluginMinifyScript:
			steps = append(steps, &minifyScriptStep{opts: *p.Minify, target: target})
		case config.PluginExtractStylesheet:
			steps = append(steps, &extractStylesheetStep{opts: *p.Extract})
		case config.PluginOptimizeStylesheet:
			steps = append(steps, &optimizeStylesheetStep{opts: *p.Optimize, logger: logger})
		default:
			return nil, fmt.Errorf("unknown plugin kind %q", p.Kind)
		}
	}
	return steps, nil
}

// defineStep replaces global identifiers with constant values.
type defineStep struct {
	values map[string]string
}

func (s *defineStep) Name() string { return string(config.PluginDefine) }

func (s *defineStep) Configure(opts *api.BuildOptions) {
	if opts.Define == nil {
		opts.Define = make(map[string]string, len(s.values))
	}
	maps.Copy(opts.Define, s.values)
}

func (s *defineStep) Process(*Bundle) error { return nil }

// orderStep drops unused code and emits assets in a stable order.
type orderStep struct{}

func (s *orderStep) Name() string { return string(config.PluginOccurrenceOrder) }

func (s *orderStep) Configure(opts *api.BuildOptions) {
	opts.TreeShaking = api.TreeShakingTrue
}

func (s *orderStep) Process(b *Bundle) error {
	slices.SortStableFunc(b.Assets, func(x, y *Asset) int {
		return strings.Compare(x.Name, y.Name)
	})
	return nil
}

// minifyScriptStep minifies every script asset after bundling.
type minifyScriptStep struct {
	opts   config.MinifyOptions
	target api.Target
}

func (s *minifyScriptStep) Name() string { return string(config.PluginMinifyScript) }

func (s *minifyScriptStep) Configure(opts *api.BuildOptions) {
	if !s.opts.SourceMap {
		opts.Sourcemap = api.SourceMapNone
	}
}

func (s *minifyScriptStep) Process(b *Bundle) error {
	for _, asset := range b.ByExt(".js") {
		result := api.Transform(string(asset.Contents), api.TransformOptions{
			Loader:            api.LoaderJS,
			Target:            s.target,
			MinifyWhitespace:  true,
			MinifySyntax:      true,
			MinifyIdentifiers: s.opts.Mangle,
		})
		if len(result.Errors) > 0 {
			return &BuildError{Step: s.Name(), Messages: result.Errors}
		}
		asset.Contents = result.Code
	}
	return nil
}

// extractStylesheetStep combines the emitted stylesheets into one file.
type extractStylesheetStep struct {
	opts config.ExtractOptions
}

func (s *extractStylesheetStep) Name() string { return string(config.PluginExtractStylesheet) }

func (s *extractStylesheetStep) Configure(*api.BuildOptions) {}

func (s *extractStylesheetStep) Process(b *Bundle) error {
	if s.opts.Disable {
		return nil
	}

	sheets := b.ByExt(".css")
	if len(sheets) == 0 {
		return nil
	}
	if !s.opts.AllChunks {
		sheets = sheets[:1]
	}

	if len(sheets) == 1 {
		sheet := sheets[0]
		if m := b.Find(sheet.Name + ".map"); m != nil {
			m.Name = s.opts.Filename + ".map"
		}
		b.Remove(sheet.Name)
		b.Put(&Asset{Name: s.opts.Filename, Contents: sheet.Contents, origin: sheet.origin})
		return nil
	}

	// source maps of separate chunks cannot be carried over to the combined file
	var combined bytes.Buffer
	for _, sheet := range sheets {
		combined.Write(sheet.Contents)
		if !bytes.HasSuffix(sheet.Contents, []byte("\n")) {
			combined.WriteByte('\n')
		}
		b.Remove(sheet.Name)
		b.Remove(sheet.Name + ".map")
	}
	b.Put(&Asset{Name: s.opts.Filename, Contents: combined.Bytes(), origin: s.opts.Filename})
	return nil
}

// optimizeStylesheetStep minifies matching stylesheets and strips comments.
type optimizeStylesheetStep struct {
	opts   config.OptimizeOptions
	logger zerolog.Logger
}

func (s *optimizeStylesheetStep) Name() string { return string(config.PluginOptimizeStylesheet) }

func (s *optimizeStylesheetStep) Configure(*api.BuildOptions) {}

func (s *optimizeStylesheetStep) Process(b *Bundle) error {
	for _, asset := range b.ByExt(".css") {
		if !s.opts.AssetPattern.Match(asset.Name) {
			continue
		}

		result := api.Transform(string(asset.Contents), api.TransformOptions{
			Loader:           api.LoaderCSS,
			MinifyWhitespace: true,
			MinifySyntax:     true,
			LegalComments:    cond(s.opts.RemoveAllComments, api.LegalCommentsNone, api.LegalCommentsInline),
		})
		if len(result.Errors) > 0 {
			return &BuildError{Step: s.Name(), Messages: result.Errors}
		}

		if s.opts.CanPrint {
			s.logger.Info().
				Str("asset", asset.Name).
				Int("before", len(asset.Contents)).
				Int("after", len(result.Code)).
				Msg("Optimized stylesheet")
		}
		asset.Contents = result.Code
	}
	return nil
}
