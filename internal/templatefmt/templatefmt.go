package templatefmt

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"barrage/internal/domain"
)

// DefaultText is the body used by text channels without a configured template.
const DefaultText = `{{ severityIcon .Severity }} <b>{{ .Title }}</b>
{{- if .Description }}
{{ .Description }}
{{- end }}
{{ fields .Fields }}`

// FuncMap returns shared notification template helpers.
// Params: none.
// Returns: deterministic helper map used by config validation and runtime rendering.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"fmtDuration":  FormatDuration,
		"json":         MarshalJSON,
		"fields":       FormatFields,
		"severityIcon": SeverityIcon,
		"upper":        strings.ToUpper,
	}
}

// ParseNotificationTemplate parses one notification template with shared helpers.
// Params: template name and body.
// Returns: compiled template or parse error.
func ParseNotificationTemplate(name, body string) (*template.Template, error) {
	return template.New(name).Funcs(FuncMap()).Option("missingkey=error").Parse(body)
}

// Render executes compiled template against notification.
// Params: compiled template and payload.
// Returns: rendered text or execution error.
func Render(tmpl *template.Template, notification domain.Notification) (string, error) {
	var rendered strings.Builder
	if err := tmpl.Execute(&rendered, notification); err != nil {
		return "", err
	}
	return strings.TrimSpace(rendered.String()), nil
}

// FormatDuration renders duration in compact human form with one decimal precision.
// Params: template value expected as time.Duration or *time.Duration.
// Returns: formatted duration string.
func FormatDuration(value any) string {
	var duration time.Duration
	switch typed := value.(type) {
	case time.Duration:
		duration = typed
	case *time.Duration:
		if typed == nil {
			return "0.0s"
		}
		duration = *typed
	default:
		return "0.0s"
	}

	if duration < 0 {
		duration = -duration
	}
	seconds := duration.Seconds()
	switch {
	case seconds >= 3600:
		return fmt.Sprintf("%.1fh", seconds/3600)
	case seconds >= 60:
		return fmt.Sprintf("%.1fm", seconds/60)
	default:
		return fmt.Sprintf("%.1fs", seconds)
	}
}

// FormatFields renders structured fields one per line.
// Params: notification fields.
// Returns: "name: value" lines.
func FormatFields(fields []domain.Field) string {
	lines := make([]string, 0, len(fields))
	for _, field := range fields {
		lines = append(lines, field.Name+": "+field.Value)
	}
	return strings.Join(lines, "\n")
}

// SeverityIcon maps severity to a short prefix.
func SeverityIcon(severity domain.Severity) string {
	switch severity {
	case domain.SeverityCritical:
		return "[CRIT]"
	case domain.SeverityWarning:
		return "[WARN]"
	default:
		return "[INFO]"
	}
}

// MarshalJSON renders value into JSON string for template embedding.
// Params: template value of any type.
// Returns: marshaled JSON string or "null" on marshal failure.
func MarshalJSON(value any) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(encoded)
}
