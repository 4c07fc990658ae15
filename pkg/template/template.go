// Package template renders action configuration against a run context.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/kindred-org/kindred/pkg/models"
)

var funcs = template.FuncMap{
	"now": func() string {
		return time.Now().UTC().Format(time.RFC3339)
	},
	"rand": func(max int) int {
		if max <= 0 {
			return 0
		}

		num := make([]byte, 1)

		_, err := rand.Read(num)
		if err != nil {
			return 0
		}

		return int(num[0]) % max
	},
	"default": func(fallback, value any) any {
		if value == nil {
			return fallback
		}

		if s, ok := value.(string); ok && s == "" {
			return fallback
		}

		return value
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"json": func(v any) (string, error) {
		data, err := json.Marshal(v)

		return string(data), err
	},
	"date": func(layout string, v any) string {
		switch t := v.(type) {
		case time.Time:
			return t.Format(layout)
		case string:
			parsed, err := time.Parse(time.RFC3339, t)
			if err != nil {
				return t
			}

			return parsed.Format(layout)
		default:
			return fmt.Sprint(v)
		}
	},
}

// NeedsTemplating reports whether s contains a template action.
func NeedsTemplating(s string) bool {
	return strings.Contains(s, "{{")
}

// Render executes templateStr against data. Missing keys are errors so a
// misspelled field fails the action instead of sending "<no value>".
func Render(templateStr string, data any) (string, error) {
	tmpl, err := template.New("config").Option("missingkey=error").Funcs(funcs).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}

// RenderValue renders a string and decodes it when the output is a JSON object or array,
// so "{{json .member}}" yields a map rather than text.
func RenderValue(templateStr string, data any) (any, error) {
	result, err := Render(templateStr, data)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(result)
	if (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
		(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) {
		var jsonResult any

		if err := json.Unmarshal([]byte(trimmed), &jsonResult); err == nil {
			return jsonResult, nil
		}
	}

	return result, nil
}

// RenderConfig returns a copy of config with every templated string rendered against rc.
// Nested maps and slices are walked; non-string values pass through unchanged.
func RenderConfig(config map[string]any, rc *models.RunContext) (map[string]any, error) {
	if config == nil {
		return nil, nil
	}

	data := rc.TemplateData()

	rendered, err := renderAny(config, data, "")
	if err != nil {
		return nil, err
	}

	out, _ := rendered.(map[string]any)

	return out, nil
}

func renderAny(value any, data map[string]any, path string) (any, error) {
	switch v := value.(type) {
	case string:
		if !NeedsTemplating(v) {
			return v, nil
		}

		out, err := RenderValue(v, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))

		for key, item := range v {
			rendered, err := renderAny(item, data, join(path, key))
			if err != nil {
				return nil, err
			}

			out[key] = rendered
		}

		return out, nil
	case []any:
		out := make([]any, len(v))

		for i, item := range v {
			rendered, err := renderAny(item, data, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}

			out[i] = rendered
		}

		return out, nil
	default:
		return value, nil
	}
}

func join(path, key string) string {
	if path == "" {
		return key
	}

	return path + "." + key
}
