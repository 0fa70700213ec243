package config

import (
	"path/filepath"
)

// Chain identifies the processing chain a rule routes files through.
type Chain string

const (
	ChainScript     Chain = "script"
	ChainStylesheet Chain = "stylesheet"
)

// FallbackStyleLoader injects stylesheets at runtime when they are not extracted.
const FallbackStyleLoader = "style-loader"

// Rule maps a file pattern onto a processing chain. PublicPath records where
// extracted stylesheets are served from; emitted URLs use Output.PublicPath.
type Rule struct {
	Test       Pattern  `yaml:"test"`
	Chain      Chain    `yaml:"chain"`
	Include    []string `yaml:"include,omitempty"`
	Exclude    Pattern  `yaml:"exclude,omitempty"`
	Loaders    []string `yaml:"loaders"`
	Presets    []string `yaml:"presets,omitempty"`
	Fallback   string   `yaml:"fallback,omitempty"`
	PublicPath string   `yaml:"public_path,omitempty"`
}

// Applies reports whether the rule handles path: the test pattern must match,
// the path must be inside one of the include directories (when any are set)
// and must not match the exclude pattern.
func (r Rule) Applies(path string) bool {
	slashed := filepath.ToSlash(path)
	if !r.Test.Match(slashed) {
		return false
	}
	if r.Exclude.Match(slashed) {
		return false
	}
	if len(r.Include) == 0 {
		return true
	}
	for _, dir := range r.Include {
		if Within(dir, path) {
			return true
		}
	}
	return false
}

// Module holds the ordered rule list.
type Module struct {
	Rules []Rule `yaml:"rules"`
}

// Match returns the first rule whose test pattern matches path. Include and
// exclude are not consulted, so a file always lands in exactly one chain.
func (m Module) Match(path string) (Rule, bool) {
	slashed := filepath.ToSlash(path)
	for _, rule := range m.Rules {
		if rule.Test.Match(slashed) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Rule returns the first rule for the given chain.
func (m Module) Rule(chain Chain) (Rule, bool) {
	for _, rule := range m.Rules {
		if rule.Chain == chain {
			return rule, true
		}
	}
	return Rule{}, false
}

// DefaultRules returns the script and stylesheet rules for the application.
func DefaultRules(paths Paths) []Rule {
	return []Rule{
		{
			Test:    MustPattern(`\.(js|jsx)$`),
			Chain:   ChainScript,
			Include: []string{paths.AppDir},
			Exclude: MustPattern(`node_modules`),
			Loaders: []string{"babel-loader"},
			Presets: []string{"es2015", "react", "stage-2"},
		},
		{
			Test:       MustPattern(`\.(css|scss)$`),
			Chain:      ChainStylesheet,
			Loaders:    []string{"css-loader", "sass-loader"},
			Fallback:   FallbackStyleLoader,
			PublicPath: paths.DistStyleDir,
		},
	}
}
