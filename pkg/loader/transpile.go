package loader

import (
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/rari-build/rari-go/internal/errors"
)

// Transpiler converts a TS/TSX/JSX source to plain JavaScript. The path is
// only used to pick the loader and label diagnostics.
type Transpiler func(path, source string) (string, error)

// loaders maps file extensions to esbuild loaders.
var loaders = map[string]api.Loader{
	".js":  api.LoaderJS,
	".mjs": api.LoaderJS,
	".jsx": api.LoaderJSX,
	".ts":  api.LoaderTS,
	".mts": api.LoaderTS,
	".tsx": api.LoaderTSX,
}

// DefaultTranspiler transpiles through esbuild's Transform API, keeping the
// output as ES modules with the automatic JSX runtime.
func DefaultTranspiler(path, source string) (string, error) {
	loader, ok := loaders[strings.ToLower(filepath.Ext(path))]
	if !ok {
		loader = api.LoaderJS
	}

	result := api.Transform(source, api.TransformOptions{
		Loader:     loader,
		Format:     api.FormatESModule,
		Target:     api.ESNext,
		JSX:        api.JSXAutomatic,
		Sourcefile: filepath.Base(path),
		SourceRoot: filepath.Dir(path),
	})

	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return "", errors.New("E024").WithDetailf("%s: %s", path, strings.Join(msgs, "; "))
	}

	return string(result.Code), nil
}

// LowerToCommonJS converts ES-module output to CommonJS for script-level
// registration, where import/export syntax is illegal inside the wrapper
// function.
func LowerToCommonJS(path, source string) (string, error) {
	result := api.Transform(source, api.TransformOptions{
		Loader:     api.LoaderJS,
		Format:     api.FormatCommonJS,
		Target:     api.ES2020,
		Sourcefile: filepath.Base(path),
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return "", errors.New("E024").WithDetailf("%s: %s", path, strings.Join(msgs, "; "))
	}
	return string(result.Code), nil
}
