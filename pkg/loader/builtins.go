package loader

import (
	"fmt"
	"strings"

	"github.com/rari-build/rari-go/internal/errors"
)

// builtinAllowList is the fixed set of node builtins served as synthetic
// stubs. Anything else under node: resolves to a builtin specifier but
// fails to load.
var builtinAllowList = map[string]bool{
	"path":         true,
	"fs":           true,
	"os":           true,
	"util":         true,
	"process":      true,
	"url":          true,
	"crypto":       true,
	"stream":       true,
	"buffer":       true,
	"events":       true,
	"http":         true,
	"https":        true,
	"net":          true,
	"dns":          true,
	"zlib":         true,
	"assert":       true,
	"child_process": true,
	"querystring":  true,
	"readline":     true,
	"timers":       true,
	"console":      true,
	"_http_common": true,
}

func isBuiltinName(name string) bool {
	return builtinAllowList[name]
}

// builtinStub generates the synthetic module for an allow-listed builtin.
// Stubs satisfy import shapes without providing real I/O; the engine's own
// host functions back the few operations components legitimately use.
func builtinStub(name string) (string, error) {
	switch name {
	case "react", "react_jsx-runtime", "react_jsx-dev-runtime":
		return reactStub(name), nil
	}
	if !builtinAllowList[name] {
		return "", errors.New("E022").WithDetailf("node builtin %q is not allow-listed", name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "// synthetic stub for node:%s\n", name)
	b.WriteString("const unavailable = (fn) => () => { throw new Error(")
	fmt.Fprintf(&b, "%q + fn + %q", "node:"+name+".", " is not available in the render runtime")
	b.WriteString(") };\n")

	switch name {
	case "path":
		b.WriteString(`export const sep = "/";
export function join(...parts) { return parts.filter(Boolean).join("/").replace(/\/+/g, "/"); }
export function dirname(p) { const i = p.lastIndexOf("/"); return i <= 0 ? "." : p.slice(0, i); }
export function basename(p) { return p.slice(p.lastIndexOf("/") + 1); }
export function extname(p) { const b = basename(p); const i = b.lastIndexOf("."); return i <= 0 ? "" : b.slice(i); }
export function resolve(...parts) { return join(...parts); }
export default { sep, join, dirname, basename, extname, resolve };
`)
	case "process":
		b.WriteString(`export const env = globalThis.__rari_env || {};
export const platform = "linux";
export function cwd() { return "/"; }
export function nextTick(fn) { Promise.resolve().then(fn); }
export default { env, platform, cwd, nextTick };
`)
	case "url":
		b.WriteString(`export const URL = globalThis.URL;
export const URLSearchParams = globalThis.URLSearchParams;
export function fileURLToPath(u) { return String(u).replace(/^file:\/\//, ""); }
export function pathToFileURL(p) { return new URL("file://" + p); }
export default { URL, URLSearchParams, fileURLToPath, pathToFileURL };
`)
	case "events":
		b.WriteString(`export class EventEmitter {
  constructor() { this._l = new Map(); }
  on(ev, fn) { const a = this._l.get(ev) || []; a.push(fn); this._l.set(ev, a); return this; }
  off(ev, fn) { const a = this._l.get(ev) || []; this._l.set(ev, a.filter((f) => f !== fn)); return this; }
  once(ev, fn) { const w = (...args) => { this.off(ev, w); fn(...args); }; return this.on(ev, w); }
  emit(ev, ...args) { (this._l.get(ev) || []).forEach((fn) => fn(...args)); return true; }
}
export default { EventEmitter };
`)
	case "util":
		b.WriteString(`export function inspect(v) { try { return JSON.stringify(v); } catch { return String(v); } }
export function format(f, ...args) { let i = 0; return String(f).replace(/%[sdjO%]/g, (m) => m === "%%" ? "%" : String(args[i++])); }
export function promisify(fn) { return (...args) => new Promise((res, rej) => fn(...args, (err, v) => err ? rej(err) : res(v))); }
export default { inspect, format, promisify };
`)
	case "querystring":
		b.WriteString(`export function parse(s) { return Object.fromEntries(new URLSearchParams(s)); }
export function stringify(o) { return String(new URLSearchParams(o)); }
export default { parse, stringify };
`)
	case "timers":
		b.WriteString(`export const setTimeout = globalThis.setTimeout;
export const clearTimeout = globalThis.clearTimeout;
export const setInterval = globalThis.setInterval;
export const clearInterval = globalThis.clearInterval;
export default { setTimeout, clearTimeout, setInterval, clearInterval };
`)
	case "console":
		b.WriteString(`export default globalThis.console;
`)
	case "assert":
		b.WriteString(`export default function assert(v, msg) { if (!v) throw new Error(msg || "assertion failed"); }
export function ok(v, msg) { if (!v) throw new Error(msg || "assertion failed"); }
export function equal(a, b, msg) { if (a != b) throw new Error(msg || a + " != " + b); }
`)
	default:
		// I/O-heavy builtins export throwing shims for every common entry
		// point so imports succeed and misuse is loud.
		names := map[string][]string{
			"fs":            {"readFile", "readFileSync", "writeFile", "writeFileSync", "existsSync", "mkdirSync", "readdirSync", "statSync"},
			"os":            {"hostname", "tmpdir", "homedir", "cpus"},
			"crypto":        {"createHash", "createHmac", "randomBytes", "randomUUID"},
			"stream":        {"Readable", "Writable", "Transform", "pipeline"},
			"buffer":        {"Buffer"},
			"http":          {"request", "get", "createServer"},
			"https":         {"request", "get"},
			"net":           {"connect", "createServer"},
			"dns":           {"lookup", "resolve"},
			"zlib":          {"gzip", "gunzip", "deflate", "inflate"},
			"child_process": {"spawn", "exec", "execSync", "fork"},
			"readline":      {"createInterface"},
			"_http_common":  {"parsers"},
		}[name]
		for _, n := range names {
			fmt.Fprintf(&b, "export const %s = unavailable(%q);\n", n, n)
		}
		b.WriteString("export default { ")
		for i, n := range names {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(n)
		}
		b.WriteString(" };\n")
	}

	return b.String(), nil
}

// reactStub serves the engine-provided React binding as a module.
func reactStub(name string) string {
	if strings.HasPrefix(name, "react_jsx") {
		return `const React = globalThis.React;
export const jsx = (type, props, key) => React.createElement(type, key == null ? props : { ...props, key });
export const jsxs = jsx;
export const jsxDEV = jsx;
export const Fragment = React.Fragment;
`
	}
	return `const React = globalThis.React;
export default React;
export const createElement = React.createElement;
export const Fragment = React.Fragment;
export const Suspense = React.Suspense;
export const use = React.use;
export const useState = React.useState;
export const useMemo = React.useMemo;
export const useCallback = React.useCallback;
`
}

// internalStub generates a /rari_internal/ module. Loader stubs embed the
// component id in their name so per-component caches can be dropped
// independently.
func internalStub(name string) string {
	if strings.HasPrefix(name, loaderStubPrefix) {
		componentID := strings.TrimPrefix(name, loaderStubPrefix)
		return fmt.Sprintf(`// loader stub for component %q
export const __isStub = true;
export const __stubFor = %q;
export default globalThis.__rari_components ? globalThis.__rari_components[%q] : undefined;
`, componentID, componentID, componentID)
	}
	return fmt.Sprintf(`// internal stub %q
export const __isStub = true;
export const __stubFor = %q;
export default {};
`, name, name)
}
