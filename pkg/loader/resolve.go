package loader

import (
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rari-build/rari-go/internal/errors"
)

const nodeModulesSegment = "/node_modules/"

// packageJSON is the subset of package.json consulted during resolution.
type packageJSON struct {
	Main    string          `json:"main"`
	Module  string          `json:"module"`
	Exports json.RawMessage `json:"exports"`
}

// Resolve turns an import specifier into a canonical module specifier,
// following the engine's resolution order: absolute file URLs, node
// builtins, internal stubs, relative paths, then bare package names.
func (l *Loader) Resolve(specifier, referrer string) (string, error) {
	switch {
	case strings.HasPrefix(specifier, fileProtocol):
		return specifier, nil

	case strings.HasPrefix(specifier, nodePrefix):
		return builtinSpecifier(strings.TrimPrefix(specifier, nodePrefix)), nil

	case strings.HasPrefix(specifier, "/node_builtin/"):
		return fileProtocol + specifier, nil

	case strings.HasPrefix(specifier, "/rari_internal/"):
		return fileProtocol + specifier, nil

	case specifier == "react" || specifier == "react/jsx-runtime" || specifier == "react/jsx-dev-runtime":
		return builtinSpecifier(strings.ReplaceAll(specifier, "/", "_")), nil

	case isBuiltinName(specifier):
		return builtinSpecifier(specifier), nil

	case strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../"):
		return l.resolveRelative(specifier, referrer)

	default:
		return l.resolvePackage(specifier)
	}
}

func builtinSpecifier(name string) string {
	return builtinPrefix + name + ".js"
}

// resolveRelative resolves ./ and ../ against the referrer. Referrers inside
// node_modules fall back to the containing package root when the direct
// join does not exist.
func (l *Loader) resolveRelative(specifier, referrer string) (string, error) {
	refPath := strings.TrimPrefix(referrer, fileProtocol)
	if refPath == "" {
		abs, err := filepath.Abs(specifier)
		if err != nil {
			return "", errors.New("E023").WithDetail(specifier).Wrap(err)
		}
		return fileProtocol + filepath.ToSlash(abs), nil
	}

	joined := path.Join(path.Dir(refPath), specifier)
	candidate := fileProtocol + joined

	if l.known(candidate) || fileExists(joined) {
		return candidate, nil
	}
	if resolved, ok := resolveWithExtensions(joined); ok {
		return fileProtocol + resolved, nil
	}

	// Inside node_modules, badly-behaved packages import relative to the
	// package root rather than the current file.
	if idx := strings.LastIndex(refPath, nodeModulesSegment); idx >= 0 {
		pkgRoot := packageRoot(refPath, idx)
		fromRoot := path.Join(pkgRoot, strings.TrimPrefix(strings.TrimPrefix(specifier, "./"), "../"))
		if l.known(fileProtocol+fromRoot) || fileExists(fromRoot) {
			return fileProtocol + fromRoot, nil
		}
		if resolved, ok := resolveWithExtensions(fromRoot); ok {
			return fileProtocol + resolved, nil
		}
	}

	return candidate, nil
}

// packageRoot returns the directory of the package containing refPath.
func packageRoot(refPath string, nodeModulesIdx int) string {
	rest := refPath[nodeModulesIdx+len(nodeModulesSegment):]
	parts := strings.SplitN(rest, "/", 3)
	root := refPath[:nodeModulesIdx+len(nodeModulesSegment)]
	if len(parts) > 0 && strings.HasPrefix(parts[0], "@") && len(parts) > 1 {
		return root + parts[0] + "/" + parts[1]
	}
	if len(parts) > 0 {
		return root + parts[0]
	}
	return root
}

// resolvePackage walks up from the working directory looking for
// node_modules/<pkg>, honoring exports, module, and main, then index
// fallbacks.
func (l *Loader) resolvePackage(specifier string) (string, error) {
	pkgName, subpath := splitPackageSpecifier(specifier)

	dir, err := os.Getwd()
	if err != nil {
		return "", errors.New("E023").WithDetail(specifier).Wrap(err)
	}

	for {
		pkgDir := filepath.Join(dir, "node_modules", filepath.FromSlash(pkgName))
		if dirExists(pkgDir) {
			entry, err := resolvePackageEntry(pkgDir, subpath)
			if err != nil {
				return "", err
			}
			return fileProtocol + filepath.ToSlash(entry), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", errors.New("E022").WithDetailf("bare specifier %q", specifier)
}

func splitPackageSpecifier(specifier string) (pkg, subpath string) {
	parts := strings.Split(specifier, "/")
	if strings.HasPrefix(specifier, "@") && len(parts) >= 2 {
		pkg = parts[0] + "/" + parts[1]
		subpath = strings.Join(parts[2:], "/")
		return pkg, subpath
	}
	pkg = parts[0]
	subpath = strings.Join(parts[1:], "/")
	return pkg, subpath
}

// resolvePackageEntry picks the entry file for a package directory.
func resolvePackageEntry(pkgDir, subpath string) (string, error) {
	if subpath != "" {
		candidate := filepath.Join(pkgDir, filepath.FromSlash(subpath))
		if fileExists(filepath.ToSlash(candidate)) {
			return candidate, nil
		}
		if resolved, ok := resolveWithExtensions(filepath.ToSlash(candidate)); ok {
			return filepath.FromSlash(resolved), nil
		}
		return "", errors.New("E022").WithDetailf("package subpath %q", subpath)
	}

	if data, err := os.ReadFile(filepath.Join(pkgDir, "package.json")); err == nil {
		var pkg packageJSON
		if json.Unmarshal(data, &pkg) == nil {
			if entry := exportsEntry(pkg.Exports); entry != "" {
				return filepath.Join(pkgDir, filepath.FromSlash(entry)), nil
			}
			if pkg.Module != "" {
				return filepath.Join(pkgDir, filepath.FromSlash(pkg.Module)), nil
			}
			if pkg.Main != "" {
				return filepath.Join(pkgDir, filepath.FromSlash(pkg.Main)), nil
			}
		}
	}

	for _, idx := range []string{"index.mjs", "index.ts", "index.js"} {
		candidate := filepath.Join(pkgDir, idx)
		if fileExists(filepath.ToSlash(candidate)) {
			return candidate, nil
		}
	}

	return "", errors.New("E022").WithDetailf("no entry point in %s", pkgDir)
}

// exportsEntry extracts the root export from a package.json exports field,
// handling the string, "." map, and conditional-object forms.
func exportsEntry(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}

	var m map[string]json.RawMessage
	if json.Unmarshal(raw, &m) != nil {
		return ""
	}
	if dot, ok := m["."]; ok {
		return exportsEntry(dot)
	}
	for _, cond := range []string{"import", "module", "default", "require"} {
		if v, ok := m[cond]; ok {
			return exportsEntry(v)
		}
	}
	return ""
}

// resolveWithExtensions tries known extensions and index files.
func resolveWithExtensions(p string) (string, bool) {
	for _, ext := range []string{".js", ".mjs", ".ts", ".tsx", ".jsx", ".json"} {
		if fileExists(p + ext) {
			return p + ext, true
		}
	}
	for _, idx := range []string{"/index.js", "/index.mjs", "/index.ts"} {
		if fileExists(p + idx) {
			return p + idx, true
		}
	}
	return "", false
}

func (l *Loader) known(specifier string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.modules[specifier]
	return ok
}

func fileExists(p string) bool {
	info, err := os.Stat(filepath.FromSlash(p))
	return err == nil && !info.IsDir()
}

func dirExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

// Load returns the source for a resolved specifier: stored modules first,
// then synthetic stubs, then the remote store, then the filesystem.
// Filesystem sources needing transpilation are transpiled and cached.
func (l *Loader) Load(specifier string) (string, error) {
	if src, ok := l.GetModule(specifier); ok {
		return src, nil
	}

	switch {
	case strings.HasPrefix(specifier, builtinPrefix):
		name := strings.TrimSuffix(strings.TrimPrefix(specifier, builtinPrefix), ".js")
		stub, err := builtinStub(name)
		if err != nil {
			return "", err
		}
		l.SetModuleCode(specifier, stub)
		return stub, nil

	case strings.HasPrefix(specifier, internalPrefix):
		name := strings.TrimSuffix(strings.TrimPrefix(specifier, internalPrefix), ".js")
		stub := internalStub(name)
		l.SetModuleCode(specifier, stub)
		return stub, nil

	case strings.HasPrefix(specifier, fileProtocol):
		if l.remote != nil {
			if src, err := l.remote.Fetch(specifier); err == nil {
				l.cacheFileSource(specifier, src)
				return l.mustGet(specifier), nil
			}
		}
		p := strings.TrimPrefix(specifier, fileProtocol)
		data, err := os.ReadFile(filepath.FromSlash(p))
		if err != nil {
			return "", errors.New("E022").WithDetail(specifier).Wrap(err)
		}
		l.cacheFileSource(specifier, string(data))
		return l.mustGet(specifier), nil

	default:
		return "", errors.New("E022").WithDetail(specifier)
	}
}

func (l *Loader) cacheFileSource(specifier, src string) {
	p := strings.TrimPrefix(specifier, fileProtocol)
	if needsTranspile(p) {
		if transpiled, err := l.transpiler(p, src); err == nil {
			src = transpiled
		}
	}
	l.SetModuleCode(specifier, src)
	// First store of a filesystem source is not a hot update.
	l.mu.Lock()
	if entry, ok := l.modules[specifier]; ok && entry.version == 1 {
		entry.hmr = false
	}
	l.mu.Unlock()
}

func (l *Loader) mustGet(specifier string) string {
	src, _ := l.GetModule(specifier)
	return src
}
