package streaming

// Scripts executed inside the runtime to drive partial rendering and
// background promise resolution. Placeholders in braces are substituted
// before execution.

// reactInitScript verifies the React binding streaming depends on.
const reactInitScript = `(function () {
  const available = typeof globalThis.React !== "undefined"
    && typeof globalThis.renderToHTML === "function";
  return JSON.stringify({ available: available });
})()`

// streamingInitScript installs the per-stream globals: the pending promise
// table, boundary bookkeeping, and the deferred component queue.
const streamingInitScript = `(function () {
  if (!globalThis.PromiseManager) {
    throw new Error("PromiseManager missing; runtime not initialized");
  }
  globalThis.__rari_stream = {
    pending: Object.create(null),
    boundaries: [],
    deferred: [],
    result: null,
    complete: false,
  };
  return "ready";
})()`

// renderSetupScript binds the component and props for the upcoming render.
const renderSetupScript = `(function () {
  globalThis.__rari_stream.componentId = {component_id};
  globalThis.__rari_stream.props = {props_json};
  return "ready";
})()`

// renderStartScript kicks off the asynchronous render; completion is
// observed by polling renderCheckCompleteScript.
const renderStartScript = `(function () {
  const stream = globalThis.__rari_stream;
  stream.complete = false;
  Promise.resolve(globalThis.renderToHTML(stream.componentId, stream.props))
    .then(function (result) {
      stream.result = { success: true,
        rsc_data: result.rsc_data,
        pending_promises: result.pending_promises || [],
        boundaries: result.boundaries || [],
        has_suspense: !!result.has_suspense };
      stream.complete = true;
    })
    .catch(function (err) {
      stream.result = { success: false, error: String(err && err.message || err) };
      stream.complete = true;
    });
  return "started";
})()`

// renderCheckCompleteScript polls for render completion.
const renderCheckCompleteScript = `JSON.stringify({ complete: !!(globalThis.__rari_stream && globalThis.__rari_stream.complete) })`

// renderFetchResultScript pulls the finished render result.
const renderFetchResultScript = `JSON.stringify(globalThis.__rari_stream.result)`

// promiseTrackingInitScript re-arms promise tracking for replayed streams,
// where boundaries were discovered from the wire format rather than a live
// render.
const promiseTrackingInitScript = `(function () {
  if (!globalThis.__rari_stream) {
    globalThis.__rari_stream = { pending: Object.create(null), boundaries: [], deferred: [] };
  }
  if (globalThis.PromiseManager && typeof globalThis.PromiseManager.reset === "function") {
    globalThis.PromiseManager.reset();
  }
  return "ready";
})()`

// deferredExecutionScript runs every queued deferred async component once,
// reporting per-component failures without aborting the batch.
const deferredExecutionScript = `(function () {
  const stream = globalThis.__rari_stream || {};
  const deferred = stream.deferred || [];
  stream.deferred = [];
  const results = [];
  for (const entry of deferred) {
    try {
      entry.execute();
      results.push({ success: true, promiseId: entry.promiseId, componentPath: entry.componentPath });
    } catch (err) {
      results.push({
        success: false,
        promiseId: entry.promiseId,
        componentPath: entry.componentPath,
        error: String(err && err.message || err),
        errorName: err && err.name || "UnknownError",
      });
    }
  }
  return JSON.stringify({ results: results });
})()`

// promiseResolutionScript awaits one tracked promise and serializes the
// resolved boundary content.
const promiseResolutionScript = `(function () {
  const promiseId = {promise_id};
  const boundaryId = {boundary_id};
  const componentPath = {component_path};
  const stream = globalThis.__rari_stream || {};
  const tracked = (stream.pending && stream.pending[promiseId])
    || (globalThis.PromiseManager && globalThis.PromiseManager.get(promiseId));
  if (!tracked) {
    return JSON.stringify({
      success: false,
      error: "unknown promise " + promiseId,
      errorName: "PromiseNotFound",
      errorContext: { phase: "lookup", promiseId: promiseId, componentPath: componentPath },
    });
  }
  try {
    const content = globalThis.PromiseManager.awaitSettled(promiseId);
    return JSON.stringify({ success: true, boundaryId: boundaryId, content: content });
  } catch (err) {
    return JSON.stringify({
      success: false,
      error: String(err && err.message || err),
      errorName: err && err.name || "UnknownError",
      errorStack: err && err.stack || "",
      errorContext: { phase: "await", promiseId: promiseId, componentPath: componentPath },
    });
  }
})()`
