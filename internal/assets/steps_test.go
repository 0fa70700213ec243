package assets

import (
	"testing"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/appbundle/internal/config"
)

func names(b *Bundle) []string {
	out := make([]string, 0, len(b.Assets))
	for _, a := range b.Assets {
		out = append(out, a.Name)
	}
	return out
}

func TestNewSteps_followsPluginOrder(t *testing.T) {
	steps, err := newSteps(config.ProductionPlugins(), api.ES2015, zerolog.Nop())
	require.NoError(t, err)

	var got []string
	for _, s := range steps {
		got = append(got, s.Name())
	}
	require.Equal(t, []string{
		"define",
		"occurrence-order",
		"minify-script",
		"extract-stylesheet",
		"optimize-stylesheet",
	}, got)
}

func TestNewSteps_unknownKind(t *testing.T) {
	_, err := newSteps([]config.Plugin{{Kind: "bogus"}}, api.ESNext, zerolog.Nop())
	require.ErrorContains(t, err, `unknown plugin kind "bogus"`)
}

func TestDefineStep_configure(t *testing.T) {
	s := &defineStep{values: map[string]string{"process.env.NODE_ENV": `"production"`}}
	opts := api.BuildOptions{Define: map[string]string{"DEBUG": "false"}}

	s.Configure(&opts)

	require.Equal(t, map[string]string{
		"DEBUG":                "false",
		"process.env.NODE_ENV": `"production"`,
	}, opts.Define)
}

func TestOrderStep(t *testing.T) {
	s := &orderStep{}
	opts := api.BuildOptions{}
	s.Configure(&opts)
	require.Equal(t, api.TreeShakingTrue, opts.TreeShaking)

	b := &Bundle{Assets: []*Asset{{Name: "style/bundle.css"}, {Name: "js/bundle.js"}, {Name: "js/a.js"}}}
	require.NoError(t, s.Process(b))
	require.Equal(t, []string{"js/a.js", "js/bundle.js", "style/bundle.css"}, names(b))
}

func TestMinifyScriptStep_keepsNamesWithoutMangle(t *testing.T) {
	src := `(() => {
  // say hello
  function sayHello(personName) {
    return "hello " + personName;
  }
  console.log(sayHello("x"));
})();
`
	b := &Bundle{Assets: []*Asset{{Name: "js/bundle.js", Contents: []byte(src)}}}
	s := &minifyScriptStep{opts: config.MinifyOptions{Mangle: false}, target: api.ES2015}

	require.NoError(t, s.Process(b))

	out := string(b.Assets[0].Contents)
	require.Contains(t, out, "sayHello")
	require.Contains(t, out, "personName")
	require.NotContains(t, out, "say hello")
	require.Less(t, len(out), len(src))
}

func TestMinifyScriptStep_mangle(t *testing.T) {
	src := `(() => { function sayHello(personName) { return personName + personName; } console.log(sayHello(1)); })();`
	b := &Bundle{Assets: []*Asset{{Name: "js/bundle.js", Contents: []byte(src)}}}
	s := &minifyScriptStep{opts: config.MinifyOptions{Mangle: true}, target: api.ES2015}

	require.NoError(t, s.Process(b))
	require.NotContains(t, string(b.Assets[0].Contents), "personName")
}

func TestMinifyScriptStep_disablesSourceMaps(t *testing.T) {
	s := &minifyScriptStep{opts: config.MinifyOptions{SourceMap: false}}
	opts := api.BuildOptions{Sourcemap: api.SourceMapExternal}
	s.Configure(&opts)
	require.Equal(t, api.SourceMapNone, opts.Sourcemap)
}

func TestExtractStylesheetStep_singleSheet(t *testing.T) {
	b := &Bundle{Assets: []*Asset{
		{Name: "js/bundle.js", Contents: []byte("x")},
		{Name: "js/bundle.css", Contents: []byte("body{}"), origin: "js/bundle.css"},
		{Name: "js/bundle.css.map", Contents: []byte("{}"), origin: "js/bundle.css.map"},
	}}
	s := &extractStylesheetStep{opts: config.ExtractOptions{Filename: "style/bundle.css", AllChunks: true}}

	require.NoError(t, s.Process(b))
	require.ElementsMatch(t, []string{"js/bundle.js", "style/bundle.css", "style/bundle.css.map"}, names(b))
	require.Equal(t, "body{}", string(b.Find("style/bundle.css").Contents))
	require.Equal(t, "js/bundle.css.map", b.Find("style/bundle.css.map").origin)
}

func TestExtractStylesheetStep_allChunks(t *testing.T) {
	b := &Bundle{Assets: []*Asset{
		{Name: "js/a.css", Contents: []byte("a{}")},
		{Name: "js/a.css.map", Contents: []byte("{}")},
		{Name: "js/b.css", Contents: []byte("b{}\n")},
	}}
	s := &extractStylesheetStep{opts: config.ExtractOptions{Filename: "style/bundle.css", AllChunks: true}}

	require.NoError(t, s.Process(b))
	require.Equal(t, []string{"style/bundle.css"}, names(b))
	require.Equal(t, "a{}\nb{}\n", string(b.Assets[0].Contents))
}

func TestExtractStylesheetStep_firstChunkOnly(t *testing.T) {
	b := &Bundle{Assets: []*Asset{
		{Name: "js/a.css", Contents: []byte("a{}")},
		{Name: "js/b.css", Contents: []byte("b{}")},
	}}
	s := &extractStylesheetStep{opts: config.ExtractOptions{Filename: "style/bundle.css", AllChunks: false}}

	require.NoError(t, s.Process(b))
	require.ElementsMatch(t, []string{"js/b.css", "style/bundle.css"}, names(b))
	require.Equal(t, "a{}", string(b.Find("style/bundle.css").Contents))
}

func TestExtractStylesheetStep_disabled(t *testing.T) {
	b := &Bundle{Assets: []*Asset{{Name: "js/bundle.css", Contents: []byte("a{}")}}}
	s := &extractStylesheetStep{opts: config.ExtractOptions{Filename: "style/bundle.css", Disable: true}}

	require.NoError(t, s.Process(b))
	require.Equal(t, []string{"js/bundle.css"}, names(b))
}

func TestOptimizeStylesheetStep(t *testing.T) {
	src := "/* plain */\n/*! legal */\nbody {\n  color: red;\n}\n"
	b := &Bundle{Assets: []*Asset{
		{Name: "style/bundle.css", Contents: []byte(src)},
		{Name: "style/other.css", Contents: []byte(src)},
	}}
	s := &optimizeStylesheetStep{
		opts: config.OptimizeOptions{
			AssetPattern:      config.MustPattern(`(^|/)bundle\.css$`),
			RemoveAllComments: true,
			CanPrint:          true,
		},
		logger: zerolog.Nop(),
	}

	require.NoError(t, s.Process(b))

	optimized := string(b.Find("style/bundle.css").Contents)
	require.Contains(t, optimized, "body{color:red}")
	require.NotContains(t, optimized, "/*")
	require.Equal(t, src, string(b.Find("style/other.css").Contents))
}

func TestOptimizeStylesheetStep_keepsLegalComments(t *testing.T) {
	b := &Bundle{Assets: []*Asset{{Name: "style/bundle.css", Contents: []byte("/*! legal */\nbody { color: red; }\n")}}}
	s := &optimizeStylesheetStep{
		opts:   config.OptimizeOptions{AssetPattern: config.MustPattern(`bundle\.css$`)},
		logger: zerolog.Nop(),
	}

	require.NoError(t, s.Process(b))
	require.Contains(t, string(b.Assets[0].Contents), "legal")
}

func TestBundle(t *testing.T) {
	b := &Bundle{}
	b.Put(&Asset{Name: "a.js", Contents: []byte("1")})
	b.Put(&Asset{Name: "b.css"})
	b.Put(&Asset{Name: "a.js", Contents: []byte("2")})

	require.Equal(t, []string{"a.js", "b.css"}, names(b))
	require.Equal(t, "2", string(b.Find("a.js").Contents))
	require.Len(t, b.ByExt(".css"), 1)

	b.Remove("a.js")
	require.Nil(t, b.Find("a.js"))
}

func TestLinkSourceMaps(t *testing.T) {
	b := &Bundle{Assets: []*Asset{
		{Name: "js/bundle.js", Contents: []byte("x();\n"), origin: "js/bundle.js"},
		{Name: "js/bundle.js.map", Contents: []byte(`{"version":3,"sources":["../../src/index.js"]}`), origin: "js/bundle.js.map"},
	}}

	err := linkSourceMaps(b, config.Output{PublicPath: "/dist/", SourceMapFilename: "sourcemaps/[file].map"})
	require.NoError(t, err)

	require.Equal(t, "x();\n//# sourceMappingURL=/dist/sourcemaps/js/bundle.js.map\n", string(b.Find("js/bundle.js").Contents))
	m := b.Find("sourcemaps/js/bundle.js.map")
	require.NotNil(t, m)
	require.JSONEq(t, `{"version":3,"sources":["../../src/index.js"],"sourceRoot":"../../js/"}`, string(m.Contents))
}
