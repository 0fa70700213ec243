package assets

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/wolfeidau/appbundle/internal/config"
)

// buildOptions translates the configuration into esbuild options. Steps
// adjust the result afterwards through Configure.
func (p *Pipeline) buildOptions() api.BuildOptions {
	cfg := p.cfg

	opts := api.BuildOptions{
		EntryPoints:       []string{cfg.Entry},
		Outfile:           cfg.ScriptBundle(),
		Bundle:            true,
		Write:             false,
		Metafile:          true,
		AbsWorkingDir:     cfg.Context,
		Platform:          api.PlatformBrowser,
		Format:            api.FormatIIFE,
		Target:            scriptTarget(cfg),
		JSX:               api.JSXTransform,
		ResolveExtensions: cfg.Resolve.Extensions,
		NodePaths:         nodePaths(cfg),
		PublicPath:        cfg.Output.PublicPath,
		Sourcemap:         cond(cfg.SourceMaps(), api.SourceMapExternal, api.SourceMapNone),
		LogLevel:          api.LogLevelSilent,
		Plugins:           []api.Plugin{p.rulesPlugin()},
	}

	for _, step := range p.steps {
		step.Configure(&opts)
	}

	return opts
}

// nodePaths returns the absolute resolve directories. Bare names such as
// node_modules are searched hierarchically by esbuild already.
func nodePaths(cfg *config.Config) []string {
	var paths []string
	for _, dir := range cfg.Resolve.Modules {
		if filepath.IsAbs(dir) {
			paths = append(paths, dir)
		}
	}
	return paths
}

// scriptTarget maps the script rule presets onto an esbuild language target.
func scriptTarget(cfg *config.Config) api.Target {
	rule, ok := cfg.Module.Rule(config.ChainScript)
	if ok && slices.Contains(rule.Presets, "es2015") {
		return api.ES2015
	}
	return api.ESNext
}

// rulesFilter joins the rule test patterns into one esbuild plugin filter.
func rulesFilter(rules []config.Rule) string {
	parts := make([]string, 0, len(rules))
	for _, r := range rules {
		parts = append(parts, r.Test.String())
	}
	return strings.Join(parts, "|")
}

func cond[T any](condition bool, trueVal, falseVal T) T {
	if condition {
		return trueVal
	}
	return falseVal
}
