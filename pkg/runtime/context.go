package runtime

// RequestContext is the immutable per-request value exposed to the script
// environment so runtime-side fetch interposition can see the original
// request.
type RequestContext struct {
	ID       string
	Pathname string
	Headers  map[string]string
}

// asGlobal converts the context to the plain map shape scripts read.
func (c RequestContext) asGlobal() map[string]any {
	headers := make(map[string]any, len(c.Headers))
	for k, v := range c.Headers {
		headers[k] = v
	}
	return map[string]any{
		"id":       c.ID,
		"pathname": c.Pathname,
		"headers":  headers,
	}
}
