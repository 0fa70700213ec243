package assets

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/wolfeidau/appbundle/internal/config"
)

// styleModuleTemplate injects a stylesheet into the page when extraction is
// disabled. The data-file attribute lets a reload replace the same tag.
const styleModuleTemplate = `(function() {
  var file = %s;
  var s = document.querySelector('style[data-file="' + file + '"]');
  if (!s) { s = document.createElement("style"); s.setAttribute("data-file", file); document.head.appendChild(s); }
  s.textContent = %s;
})();
`

var errNoSass = errors.New("no sass compiler configured")

// rulesPlugin routes files through the chain of the first matching rule.
func (p *Pipeline) rulesPlugin() api.Plugin {
	return api.Plugin{
		Name: "appbundle-rules",
		Setup: func(build api.PluginBuild) {
			build.OnLoad(api.OnLoadOptions{
				Filter:    rulesFilter(p.cfg.Module.Rules),
				Namespace: "file",
			}, p.load)
		},
	}
}

func (p *Pipeline) load(args api.OnLoadArgs) (api.OnLoadResult, error) {
	rule, ok := p.cfg.Module.Match(args.Path)
	if !ok || !rule.Applies(args.Path) {
		// leave it to esbuild's default loader for the extension
		return api.OnLoadResult{}, nil
	}

	switch rule.Chain {
	case config.ChainScript:
		return p.loadScript(rule, args.Path)
	case config.ChainStylesheet:
		return p.loadStylesheet(rule, args.Path)
	default:
		return api.OnLoadResult{}, nil
	}
}

func (p *Pipeline) loadScript(rule config.Rule, path string) (api.OnLoadResult, error) {
	contents, err := os.ReadFile(path) //nolint:gosec // G304: path comes from esbuild's resolver
	if err != nil {
		return api.OnLoadResult{}, err
	}

	text := string(contents)
	return api.OnLoadResult{
		Contents:   &text,
		ResolveDir: filepath.Dir(path),
		Loader:     cond(slices.Contains(rule.Presets, "react"), api.LoaderJSX, api.LoaderJS),
	}, nil
}

func (p *Pipeline) loadStylesheet(rule config.Rule, path string) (api.OnLoadResult, error) {
	contents, err := os.ReadFile(path) //nolint:gosec // G304: path comes from esbuild's resolver
	if err != nil {
		return api.OnLoadResult{}, err
	}

	css := string(contents)
	if filepath.Ext(path) == ".scss" && slices.Contains(rule.Loaders, "sass-loader") {
		if p.sass == nil {
			return api.OnLoadResult{}, fmt.Errorf("%s: %w", path, errNoSass)
		}
		css, err = p.sass.Compile(css, path, []string{filepath.Dir(path), p.cfg.Paths.SrcDir, p.cfg.Paths.AppDir})
		if err != nil {
			return api.OnLoadResult{}, err
		}
	}

	// without an extractor or a style-loader fallback esbuild emits the
	// stylesheet next to the script bundle
	if p.cfg.ExtractsStylesheets() || rule.Fallback != config.FallbackStyleLoader {
		return api.OnLoadResult{
			Contents:   &css,
			ResolveDir: filepath.Dir(path),
			Loader:     api.LoaderCSS,
		}, nil
	}

	module, err := styleModule(p.cfg.Paths.AppDir, path, css)
	if err != nil {
		return api.OnLoadResult{}, err
	}
	return api.OnLoadResult{
		Contents:   &module,
		ResolveDir: filepath.Dir(path),
		Loader:     api.LoaderJS,
	}, nil
}

// styleModule wraps css in a script that injects it at runtime.
func styleModule(appDir, path, css string) (string, error) {
	name, err := filepath.Rel(appDir, path)
	if err != nil {
		name = filepath.Base(path)
	}

	quotedName, err := json.Marshal(filepath.ToSlash(name))
	if err != nil {
		return "", err
	}
	quotedCSS, err := json.Marshal(css)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(styleModuleTemplate, quotedName, quotedCSS), nil
}
