package renderer

// bootstrapScript installs the runtime environment the engine requires:
// the React binding, renderToHTML, PromiseManager, registerModule, and
// ServerFunctions. Rendering refuses to start until these globals verify.
const bootstrapScript = `(function () {
  if (globalThis.__rari_bootstrapped) {
    return "ready";
  }

  const components = globalThis.__rari_components || Object.create(null);
  globalThis.__rari_components = components;

  const React = {
    Fragment: "react.fragment",
    Suspense: "react.suspense",
    createElement: function (type, props) {
      const children = Array.prototype.slice.call(arguments, 2);
      props = props || {};
      if (children.length === 1) {
        props = Object.assign({}, props, { children: children[0] });
      } else if (children.length > 1) {
        props = Object.assign({}, props, { children: children });
      }
      const key = props.key != null ? String(props.key) : null;
      return { type: type, props: props, key: key };
    },
    use: function (promise) {
      const tracked = PromiseManager.track(promise);
      if (tracked.settled) {
        if (tracked.failed) { throw tracked.error; }
        return tracked.value;
      }
      const suspend = new Error("suspend");
      suspend.__rari_promise_id = tracked.id;
      throw suspend;
    },
  };
  globalThis.React = React;

  const PromiseManager = {
    _seq: 0,
    _tracked: Object.create(null),
    track: function (promise) {
      if (promise.__rari_tracked) {
        return this._tracked[promise.__rari_tracked];
      }
      const id = "p" + (++this._seq);
      const entry = { id: id, settled: false, failed: false, value: undefined, error: undefined };
      this._tracked[id] = entry;
      promise.__rari_tracked = id;
      promise.then(
        function (v) { entry.settled = true; entry.value = v; },
        function (e) { entry.settled = true; entry.failed = true; entry.error = e; }
      );
      return entry;
    },
    get: function (id) { return this._tracked[id]; },
    awaitSettled: function (id) {
      const entry = this._tracked[id];
      if (!entry) { throw new Error("unknown promise " + id); }
      if (!entry.settled) {
        const err = new Error("promise " + id + " still pending");
        err.name = "PromisePending";
        throw err;
      }
      if (entry.failed) { throw entry.error; }
      return entry.value;
    },
    reset: function () { this._tracked = Object.create(null); this._seq = 0; },
  };
  globalThis.PromiseManager = PromiseManager;

  globalThis.registerModule = function (id, component) {
    components[id] = component;
    return true;
  };

  // Minimal require for script-level registration: component sources are
  // lowered to CommonJS and may only pull the React binding or an
  // already-registered component; full graphs go through the ES-module
  // loader.
  globalThis.__rari_require = function (spec) {
    if (spec === "react") {
      return Object.assign({ default: React, __esModule: true }, React);
    }
    if (spec === "react/jsx-runtime" || spec === "react/jsx-dev-runtime") {
      const jsx = function (type, props, key) {
        return React.createElement(type, key == null ? props : Object.assign({}, props, { key: key }));
      };
      return { __esModule: true, jsx: jsx, jsxs: jsx, jsxDEV: jsx, Fragment: React.Fragment };
    }
    const base = String(spec).split("/").pop().split(".")[0];
    if (components[base]) {
      return { __esModule: true, default: components[base] };
    }
    throw new Error("module not available at registration time: " + spec);
  };

  globalThis.ServerFunctions = {
    _fns: Object.create(null),
    register: function (id, exports) { this._fns[id] = exports; },
    resolve: function (id, exportName, args) {
      const mod = this._fns[id];
      if (!mod) { throw new Error("unknown server function module " + id); }
      const fn = mod[exportName || "default"];
      if (typeof fn !== "function") {
        throw new Error("export " + exportName + " of " + id + " is not a function");
      }
      return fn.apply(null, args || []);
    },
  };

  // Walks an element tree, extracting serializable content plus suspense
  // bookkeeping. Async children become tracked promises tied to their
  // enclosing boundary.
  function extract(element, state, path) {
    if (element == null || typeof element === "boolean") { return null; }
    if (typeof element === "string" || typeof element === "number") { return element; }
    if (Array.isArray(element)) {
      return element.map(function (child, i) { return extract(child, state, path.concat(i)); });
    }
    if (typeof element.then === "function") {
      const tracked = PromiseManager.track(element);
      state.pending.push({
        id: tracked.id,
        boundaryId: state.boundaryStack[state.boundaryStack.length - 1] || "root",
        componentPath: path.join("/") || state.componentId,
      });
      return "$@" + tracked.id;
    }
    if (typeof element.type === "function") {
      let rendered;
      try {
        rendered = element.type(element.props || {});
      } catch (err) {
        if (err && err.__rari_promise_id) {
          state.pending.push({
            id: err.__rari_promise_id,
            boundaryId: state.boundaryStack[state.boundaryStack.length - 1] || "root",
            componentPath: path.join("/") || state.componentId,
          });
          return "$@" + err.__rari_promise_id;
        }
        throw err;
      }
      return extract(rendered, state, path);
    }
    if (element.type === "react.suspense") {
      state.hasSuspense = true;
      const props = element.props || {};
      const boundaryId = props["~boundaryId"] || ("b" + (++state.boundarySeq));
      state.boundaryStack.push(boundaryId);
      const children = extract(props.children, state, path.concat("children"));
      state.boundaryStack.pop();
      state.boundaries.push({
        id: boundaryId,
        fallback: extract(props.fallback, state, path.concat("fallback")),
        parentId: state.boundaryStack[state.boundaryStack.length - 1] || null,
        parentPath: path.slice(),
        isInContentArea: state.inContentArea,
        domPath: state.domPath.slice(),
      });
      return {
        type: "react.suspense",
        props: {
          "~boundaryId": boundaryId,
          fallback: extract(props.fallback, state, path.concat("fallback")),
          children: children,
        },
      };
    }

    const props = element.props || {};
    const out = {};
    let childIndex = 0;
    for (const k in props) {
      if (k === "children") {
        const prevDom = state.domPath;
        state.domPath = state.domPath.concat(childIndex);
        const wasContent = state.inContentArea;
        if (props.id === "content" || props.role === "main" || element.type === "main") {
          state.inContentArea = true;
          state.contentSeen = true;
        }
        if (element.type === "nav") {
          state.navSeen = true;
          state.navBeforeContent = !state.contentSeen;
        }
        out.children = extract(props.children, state, path.concat("children"));
        state.inContentArea = wasContent;
        state.domPath = prevDom;
        childIndex++;
      } else if (k !== "key") {
        out[k] = props[k];
      }
    }
    return { type: element.type, props: out };
  }

  globalThis.renderToHTML = function (componentId, props) {
    const component = typeof componentId === "function" ? componentId : components[componentId];
    if (!component) {
      throw new Error("component not registered: " + componentId);
    }
    const element = React.createElement(component, props || {});
    return globalThis.renderToHTML.extract(element, String(componentId));
  };

  globalThis.renderToHTML.extract = function (element, componentId) {
    const state = {
      componentId: componentId || "root",
      pending: [],
      boundaries: [],
      boundaryStack: [],
      boundarySeq: 0,
      hasSuspense: false,
      inContentArea: false,
      contentSeen: false,
      navSeen: false,
      navBeforeContent: true,
      domPath: [],
    };
    const rsc = extract(element, state, []);
    return {
      rsc_data: rsc,
      pending_promises: state.pending,
      boundaries: state.boundaries,
      has_suspense: state.hasSuspense,
      layout_structure: {
        hasNavigation: state.navSeen,
        navigationBeforeContent: state.navBeforeContent,
        contentSeen: state.contentSeen,
      },
    };
  };

  globalThis.__rari_bootstrapped = true;
  return "ready";
})()`

// verifyGlobalsScript checks the runtime-visible globals the engine
// requires before any render.
const verifyGlobalsScript = `JSON.stringify({
  renderToHTML: typeof globalThis.renderToHTML === "function",
  promiseManager: typeof globalThis.PromiseManager === "object" && globalThis.PromiseManager !== null,
  registerModule: typeof globalThis.registerModule === "function",
  serverFunctions: !!(globalThis.ServerFunctions && typeof globalThis.ServerFunctions.resolve === "function"),
})`

// Setup batch sections. Each runs inside a try/catch that appends to
// globalThis.__batch_errors; the batch fails atomically if any section
// failed.

const sectionClearEnvironment = `globalThis.__rari_stream = null;
delete globalThis.__rari_render_state;`

const sectionPromiseHelpers = `if (!globalThis.PromiseManager) { throw new Error("PromiseManager missing"); }
globalThis.__rari_stream = globalThis.__rari_stream || { pending: Object.create(null), boundaries: [], deferred: [] };`

const sectionUseHookAugmentation = `if (globalThis.React && typeof globalThis.React.use !== "function") {
  throw new Error("React.use unavailable");
}`

const sectionServerFunctionResolver = `if (!globalThis.ServerFunctions || typeof globalThis.ServerFunctions.resolve !== "function") {
  throw new Error("ServerFunctions.resolve unavailable");
}`

const sectionIsolationNamespaces = `globalThis.__rari_isolation = globalThis.__rari_isolation || Object.create(null);
globalThis.__rari_isolation[{component_id}] = { env: Object.create(null) };`

// registerComponentScript evaluates a CommonJS-lowered component source
// and registers its default export under the component id. Sources run as
// plain scripts, so HMR re-registration never trips the engine's module
// re-evaluation guard.
const registerComponentScript = `(function () {
  try {
    const exportsObj = {};
    const moduleObj = { exports: exportsObj };
    (function (module, exports, require) {
      {component_source}
    })(moduleObj, exportsObj, globalThis.__rari_require);
    const component = moduleObj.exports.default || moduleObj.exports;
    globalThis.registerModule({component_id}, component);
    if (moduleObj.exports && typeof moduleObj.exports === "object") {
      globalThis.ServerFunctions.register({component_id}, moduleObj.exports);
    }
    return JSON.stringify({ success: true });
  } catch (err) {
    return JSON.stringify({ success: false, error: String(err && err.message || err) });
  }
})()`
