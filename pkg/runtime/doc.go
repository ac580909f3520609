// Package runtime is the request/response façade over the embedded script
// engine. A single worker goroutine owns the engine; every operation
// crosses a multi-producer request channel, runs under a per-script
// deadline, and drains the engine's job queue afterwards.
//
// Critical engine failures tear the worker down and rebuild the engine
// from its factory; the in-flight requester receives one graceful-restart
// error. Module results the engine reports as "already evaluated" convert
// into synthetic successes, and hot updates go through
// AddModuleToLoaderOnly so the ES-module system never re-evaluates.
package runtime
