package renderer

import (
	"regexp"
	"strings"
)

// Misbehaving user components occasionally stringify extraction internals
// into text nodes. The sanitizer strips those JSON-shaped fragments from
// rendered HTML text before the document leaves the server. It runs only
// at the HTML extraction boundary; wire output is never rewritten. Quotes
// match either literally or in their escaped &quot; form, since rendered
// text arrives HTML-escaped.
var jsonLeakPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\{(?:"|&quot;)id(?:"|&quot;):\s*(?:"|&quot;)[^"&]*(?:"|&quot;)\s*,\s*(?:"|&quot;)boundaryId(?:"|&quot;):[^}]*\}`),
	regexp.MustCompile(`\{(?:"|&quot;)rsc_data(?:"|&quot;):[^<>]*\}`),
	regexp.MustCompile(`\{(?:"|&quot;)type(?:"|&quot;):\s*(?:"|&quot;)[^"&]*(?:"|&quot;)\s*,\s*(?:"|&quot;)props(?:"|&quot;):[^<>]*\}`),
	regexp.MustCompile(`\[object Object\]`),
}

// sanitizeRenderedHTML removes JSON leakage patterns from the document.
// The patterns are not restricted to text nodes; a match inside an
// attribute value is removed as well.
func sanitizeRenderedHTML(html string) string {
	if !strings.ContainsAny(html, "{[") {
		return html
	}
	out := html
	for _, pattern := range jsonLeakPatterns {
		out = pattern.ReplaceAllString(out, "")
	}
	return out
}
