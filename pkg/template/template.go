// Package template renders message templates against a run's context.
package template

import (
	"fmt"
	"strings"
	"text/template"
)

// Render executes the template with the run context as root data, so
// authors write {{.first_name}} or {{.last_reply.text}}. Unknown keys
// render as empty strings rather than failing the send.
func Render(input string, context map[string]any) (string, error) {
	tmpl, err := template.New("message").Option("missingkey=zero").Parse(input)
	if err != nil {
		return "", fmt.Errorf("invalid message template: %w", err)
	}

	var out strings.Builder

	if err := tmpl.Execute(&out, context); err != nil {
		return "", fmt.Errorf("failed to render message template: %w", err)
	}

	// missingkey=zero prints "<no value>" for missing map keys; scrub it.
	return strings.ReplaceAll(out.String(), "<no value>", ""), nil
}
