package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// ScriptBundleFile is the script bundle location relative to the dist directory.
	ScriptBundleFile = "js/bundle.js"
	// StylesheetBundleFile is the combined stylesheet name inside the style directory.
	StylesheetBundleFile = "bundle.css"
	// StylesheetBundlePath is the stylesheet bundle location relative to the dist directory.
	StylesheetBundlePath = "style/" + StylesheetBundleFile
	// SourceMapFilename is the template for emitted source maps, [file] is the asset name.
	SourceMapFilename = "sourcemaps/[file].map"
	// PublicPath is the URL prefix for emitted assets.
	PublicPath = "/dist/"
)

// Paths holds every directory and file location used by the build, all
// derived from a single application directory.
type Paths struct {
	AppDir       string `yaml:"app_dir"`
	DistDir      string `yaml:"dist_dir"`
	DistStyleDir string `yaml:"dist_style_dir"`
	SrcDir       string `yaml:"src_dir"`
	Entry        string `yaml:"entry"`
}

// NewPaths derives the build paths from the application directory.
func NewPaths(appDir string) Paths {
	appDir = filepath.Clean(appDir)
	dist := filepath.Join(appDir, "dist")
	src := filepath.Join(appDir, "src")

	return Paths{
		AppDir:       appDir,
		DistDir:      dist,
		DistStyleDir: filepath.Join(dist, "style"),
		SrcDir:       src,
		Entry:        filepath.Join(src, "index.js"),
	}
}

// ScriptBundle returns the absolute path of the compiled script bundle.
func (p Paths) ScriptBundle() string {
	return filepath.Join(p.DistDir, filepath.FromSlash(ScriptBundleFile))
}

// StylesheetBundle returns the absolute path of the compiled stylesheet bundle.
func (p Paths) StylesheetBundle() string {
	return filepath.Join(p.DistDir, filepath.FromSlash(StylesheetBundlePath))
}

// Validate checks that every derived path stays inside the application directory.
func (p Paths) Validate() error {
	for name, path := range map[string]string{
		"dist":              p.DistDir,
		"dist style":        p.DistStyleDir,
		"src":               p.SrcDir,
		"entry":             p.Entry,
		"script bundle":     p.ScriptBundle(),
		"stylesheet bundle": p.StylesheetBundle(),
	} {
		if !Within(p.AppDir, path) {
			return fmt.Errorf("%s path %q escapes app directory %q", name, path, p.AppDir)
		}
	}
	return nil
}

// Within reports whether path is root itself or located below it.
func Within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
