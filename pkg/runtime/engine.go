package runtime

// Engine is the embedded script executor. Implementations are single
// threaded and not safe for concurrent use; the Runtime serializes every
// call onto its worker goroutine. Interrupt is the one exception: it may be
// called from any goroutine to abort the current script.
type Engine interface {
	// ExecuteScript evaluates source as a classic script and returns its
	// completion value decoded into plain Go values.
	ExecuteScript(name, source string) (any, error)

	// CallFunction invokes a global function (dotted paths allowed, e.g.
	// "ServerFunctions.resolve") with JSON-compatible arguments.
	CallFunction(fn string, args []any) (any, error)

	// LoadModule loads an ES module graph rooted at specifier and returns
	// an engine-local module id. Loading does not evaluate.
	LoadModule(specifier string) (int, error)

	// EvaluateModule runs a loaded module's body.
	EvaluateModule(id int) (any, error)

	// ModuleNamespace returns the exported namespace of an evaluated
	// module as plain Go values.
	ModuleNamespace(id int) (any, error)

	// SetGlobal binds a value (or Go function) on globalThis.
	SetGlobal(name string, value any) error

	// Interrupt aborts the currently running script. Safe to call from
	// other goroutines.
	Interrupt(reason string)

	// ClearInterrupt re-arms the engine after an interrupt fired.
	ClearInterrupt()

	// RunMicrotasks drains the job queue (resolved promises, queued
	// timers that are due).
	RunMicrotasks()

	// Close releases the engine.
	Close()
}

// Factory builds a fresh engine. The Runtime calls it at startup and again
// after a critical engine error forces a rebuild.
type Factory func(sources SourceResolver) (Engine, error)

// SourceResolver is how an engine pulls module sources during LoadModule.
// The module loader implements it.
type SourceResolver interface {
	Resolve(specifier, referrer string) (string, error)
	Load(specifier string) (string, error)
}
