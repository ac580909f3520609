package renderer

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rari-build/rari-go/internal/errors"
	"github.com/rari-build/rari-go/pkg/loader"
	"github.com/rari-build/rari-go/pkg/registry"
)

// candidateForms expands an unknown component id into the shapes it might
// have been registered under: with/without #export, with/without file
// extensions, and the bare basename.
func candidateForms(componentID string) []string {
	seen := map[string]bool{componentID: true}
	out := []string{componentID}

	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	if idx := strings.Index(componentID, "#"); idx > 0 {
		add(componentID[:idx])
	}
	for _, ext := range []string{".tsx", ".ts", ".jsx", ".js"} {
		add(strings.TrimSuffix(componentID, ext))
	}
	base := componentID
	if idx := strings.Index(base, "#"); idx > 0 {
		base = base[:idx]
	}
	base = filepath.Base(base)
	if dot := strings.Index(base, "."); dot > 0 {
		base = base[:dot]
	}
	add(base)

	return out
}

// resolveComponentID finds the registered id matching any candidate form.
func (o *Orchestrator) resolveComponentID(componentID string) (string, bool) {
	for _, candidate := range candidateForms(componentID) {
		if o.registry.IsRegistered(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// autoRegisterFromDisk probes the development search roots for a source
// file matching the component id and registers it. Development only.
func (o *Orchestrator) autoRegisterFromDisk(componentID string) (string, bool) {
	if !o.devMode {
		return "", false
	}

	name := componentID
	if idx := strings.Index(name, "#"); idx > 0 {
		name = name[:idx]
	}
	name = filepath.Base(name)
	if dot := strings.Index(name, "."); dot > 0 {
		name = name[:dot]
	}

	for _, root := range o.searchRoots {
		for _, ext := range []string{".tsx", ".jsx", ".ts", ".js"} {
			path := filepath.Join(root, name+ext)
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			transformed, err := loader.DefaultTranspiler(path, string(data))
			if err != nil {
				o.logger.Warn("auto-registration transpile failed", "path", path, "err", err)
				continue
			}
			if err := o.registry.Register(name, string(data), transformed, importSpecifiers(string(data))); err != nil {
				continue
			}
			o.logger.Info("auto-registered component from disk", "component", name, "path", path)
			return name, true
		}
	}
	return "", false
}

// importSpecifiers pulls textual import specifiers out of a source for
// dependency bookkeeping.
func importSpecifiers(source string) []string {
	var out []string
	for _, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "import ") && !strings.HasPrefix(line, "export ") {
			continue
		}
		idx := strings.Index(line, " from ")
		if idx < 0 {
			continue
		}
		rest := strings.TrimSpace(line[idx+len(" from "):])
		rest = strings.Trim(rest, ";")
		rest = strings.Trim(rest, `"'`)
		if rest != "" {
			out = append(out, rest)
		}
	}
	return out
}

// ensureComponentLoaded loads the component and its transitive local
// dependencies into the runtime, in dependency-consistent order.
func (o *Orchestrator) ensureComponentLoaded(ctx context.Context, componentID string) (string, error) {
	resolved, ok := o.resolveComponentID(componentID)
	if !ok {
		resolved, ok = o.autoRegisterFromDisk(componentID)
	}
	if !ok {
		return "", errors.New("E021").WithDetail(componentID)
	}

	if o.registry.IsLoaded(resolved) {
		return resolved, nil
	}

	wanted := transitiveSet(o.registry, resolved)
	for _, id := range o.registry.GetUnloadedComponentsInOrder() {
		if !wanted[id] {
			continue
		}
		if err := o.loadComponent(ctx, id); err != nil {
			return "", err
		}
	}

	if !o.registry.IsLoaded(resolved) {
		if err := o.loadComponent(ctx, resolved); err != nil {
			return "", err
		}
	}
	return resolved, nil
}

// transitiveSet collects the component and every locally registered
// dependency reachable from it. Cycles terminate because visited ids are
// skipped.
func transitiveSet(reg *registry.Registry, rootID string) map[string]bool {
	out := map[string]bool{}
	stack := []string{rootID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if out[id] {
			continue
		}
		out[id] = true
		entry, ok := reg.Get(id)
		if !ok {
			continue
		}
		for _, dep := range entry.Dependencies {
			if reg.IsRegistered(dep) && !out[dep] {
				stack = append(stack, dep)
			}
		}
	}
	return out
}

// loadComponent publishes the transformed source to the module loader and
// registers the component inside the runtime.
func (o *Orchestrator) loadComponent(ctx context.Context, id string) error {
	entry, ok := o.registry.Get(id)
	if !ok {
		return errors.New("E021").WithDetail(id)
	}
	if entry.ClientRef != nil {
		// Client references never execute server side.
		return nil
	}

	spec := loader.ComponentSpecifier(id)
	o.runtime.AddModuleToLoaderOnly(spec, entry.TransformedSource)

	lowered, err := loader.LowerToCommonJS(id+".js", entry.TransformedSource)
	if err != nil {
		return err
	}
	script := strings.NewReplacer(
		"{component_id}", jsonQuote(id),
		"{component_source}", lowered,
	).Replace(registerComponentScript)

	result, err := o.runtime.ExecuteScript(ctx, "<register_"+id+">", script)
	if err != nil {
		return errors.New("E023").WithDetail(id).Wrap(err)
	}
	data, err := decodeJSONResult(result)
	if err != nil {
		return errors.New("E023").WithDetail(id).Wrap(err)
	}
	if data["success"] != true {
		msg, _ := data["error"].(string)
		return errors.Newf(errors.CategoryModuleLoad, "registering %s failed: %s", id, msg)
	}

	o.registry.MarkLoaded(id)
	return nil
}
