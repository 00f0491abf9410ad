package bridge

import "strings"

// RenderTemplate composes the bridging message from the counterpart's display
// name and an optional call summary. Placeholders: {name}, {summary}. A
// missing summary collapses cleanly, including its trailing space.
func RenderTemplate(tmpl, name, summary string) string {
	if name == "" {
		name = "there"
	}
	out := strings.ReplaceAll(tmpl, "{name}", name)

	summary = strings.TrimSpace(summary)
	if summary == "" {
		out = strings.ReplaceAll(out, "{summary} ", "")
		out = strings.ReplaceAll(out, "{summary}", "")
	} else {
		if !strings.HasSuffix(summary, ".") && !strings.HasSuffix(summary, "!") && !strings.HasSuffix(summary, "?") {
			summary += "."
		}
		// Trailing space keeps the summary from gluing onto the following
		// sentence; the Fields join below collapses it when {summary} ends
		// the template.
		out = strings.ReplaceAll(out, "{summary}", summary+" ")
	}
	return strings.Join(strings.Fields(out), " ")
}
