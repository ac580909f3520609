package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
	DocURL   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Runtime / engine errors (E001-E019)
	// ============================================

	"E001": {
		Category: CategoryNotInitialized,
		Message:  "Script engine not initialized",
		Detail:   "A render was requested before the runtime finished installing its globals (renderToHTML, PromiseManager, registerModule, ServerFunctions).",
		DocURL:   "https://rari.dev/docs/errors/E001",
	},
	"E002": {
		Category: CategoryScriptExecution,
		Message:  "Script execution failed",
		Detail:   "The embedded script engine threw while evaluating a script or function.",
		DocURL:   "https://rari.dev/docs/errors/E002",
	},
	"E003": {
		Category: CategoryTimeout,
		Message:  "Script execution timed out",
		Detail:   "The script exceeded the configured per-script deadline.",
		DocURL:   "https://rari.dev/docs/errors/E003",
	},
	"E004": {
		Category: CategoryRestart,
		Message:  "Script engine restarted",
		Detail:   "The engine hit an unrecoverable internal error and was rebuilt. The in-flight request was aborted; retrying is safe.",
		DocURL:   "https://rari.dev/docs/errors/E004",
	},
	"E005": {
		Category: CategoryScriptExecution,
		Message:  "Module evaluation failed",
		Detail:   "Evaluating an ES module inside the engine produced an error.",
		DocURL:   "https://rari.dev/docs/errors/E005",
	},

	// ============================================
	// Registry / loader errors (E020-E039)
	// ============================================

	"E020": {
		Category: CategoryValidation,
		Message:  "Invalid component registration",
		Detail:   "Component ids must be non-empty.",
		DocURL:   "https://rari.dev/docs/errors/E020",
	},
	"E021": {
		Category: CategoryNotFound,
		Message:  "Component not found",
		Detail:   "No component is registered under this id or any of its candidate forms.",
		DocURL:   "https://rari.dev/docs/errors/E021",
	},
	"E022": {
		Category: CategoryNotFound,
		Message:  "Module not found",
		Detail:   "The specifier did not resolve to a stored module, a filesystem path, or a node_modules package.",
		DocURL:   "https://rari.dev/docs/errors/E022",
	},
	"E023": {
		Category: CategoryModuleLoad,
		Message:  "Module resolution failed",
		DocURL:   "https://rari.dev/docs/errors/E023",
	},
	"E024": {
		Category: CategoryModuleLoad,
		Message:  "Transpilation failed",
		Detail:   "The TS/JSX source could not be transformed to JavaScript.",
		DocURL:   "https://rari.dev/docs/errors/E024",
	},
	"E025": {
		Category: CategoryModuleLoad,
		Message:  "Remote module fetch failed",
		Detail:   "The configured module source store could not serve the object.",
		DocURL:   "https://rari.dev/docs/errors/E025",
	},

	// ============================================
	// Serialization / wire errors (E040-E059)
	// ============================================

	"E040": {
		Category: CategorySerialization,
		Message:  "Wire serialization failed",
		DocURL:   "https://rari.dev/docs/errors/E040",
	},
	"E041": {
		Category: CategorySerialization,
		Message:  "Suspense boundary missing fallback or children",
		Detail:   "A react.suspense element must carry both a fallback prop and a children prop.",
		DocURL:   "https://rari.dev/docs/errors/E041",
	},
	"E042": {
		Category: CategorySerialization,
		Message:  "Wire format parse error",
		DocURL:   "https://rari.dev/docs/errors/E042",
	},
	"E043": {
		Category: CategoryValidation,
		Message:  "Prop failed serialization validation",
		Detail:   "Function sources, Symbol() strings, and circular references are not serializable; the offending value was replaced with null.",
		DocURL:   "https://rari.dev/docs/errors/E043",
	},

	// ============================================
	// Streaming errors (E060-E079)
	// ============================================

	"E060": {
		Category: CategoryStructure,
		Message:  "Invalid layout structure for streaming",
		Detail:   "Navigation must precede content and Suspense boundaries must sit inside the content area. The route falls back to a static render.",
		DocURL:   "https://rari.dev/docs/errors/E060",
	},
	"E061": {
		Category: CategoryBoundary,
		Message:  "Boundary resolution failed",
		Detail:   "A pending promise for a suspense boundary rejected; the stream continues with an error row for that boundary.",
		DocURL:   "https://rari.dev/docs/errors/E061",
	},
	"E062": {
		Category: CategoryTimeout,
		Message:  "Initial render did not complete",
		Detail:   "The composition did not signal completion within the polling ceiling.",
		DocURL:   "https://rari.dev/docs/errors/E062",
	},

	// ============================================
	// Reload errors (E080-E099)
	// ============================================

	"E080": {
		Category: CategoryModuleLoad,
		Message:  "Module reload failed",
		DocURL:   "https://rari.dev/docs/errors/E080",
	},
	"E081": {
		Category: CategoryTimeout,
		Message:  "Module reload timed out",
		DocURL:   "https://rari.dev/docs/errors/E081",
	},
	"E082": {
		Category: CategoryModuleLoad,
		Message:  "Component verification failed after reload",
		Detail:   "The re-imported module does not export the component, or the export is not a function.",
		DocURL:   "https://rari.dev/docs/errors/E082",
	},
	"E083": {
		Category: CategoryModuleLoad,
		Message:  "Build artifact never became fresh",
		Detail:   "The compiled output stayed older than the changed source for the whole polling window.",
		DocURL:   "https://rari.dev/docs/errors/E083",
	},

	// ============================================
	// Config / CLI errors (E100-E119)
	// ============================================

	"E100": {
		Category: CategoryConfig,
		Message:  "Invalid configuration file",
		DocURL:   "https://rari.dev/docs/errors/E100",
	},
	"E101": {
		Category: CategoryConfig,
		Message:  "Configuration file not found",
		DocURL:   "https://rari.dev/docs/errors/E101",
	},
	"E110": {
		Category: CategoryCLI,
		Message:  "Command failed",
		DocURL:   "https://rari.dev/docs/errors/E110",
	},
}

// Register adds a custom error template. Codes registered here shadow
// built-ins with the same code.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}

// Lookup returns the template for a code, if registered.
func Lookup(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
