package rules

import (
	"regexp"

	"alerthub/internal/models"
)

var placeholder = regexp.MustCompile(`\{\{\s*([^{}\s]+)\s*\}\}`)

// Render substitutes every {{ path }} placeholder in text with the value found
// in data. Unknown paths render as the empty string. There is no other
// template syntax.
func Render(text string, data map[string]any) string {
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		path := placeholder.FindStringSubmatch(m)[1]
		v, ok := Lookup(data, path)
		if !ok {
			return ""
		}
		return textOf(v)
	})
}

// RenderValue renders strings and walks into maps and lists. Other values
// are returned untouched.
func RenderValue(v any, data map[string]any) any {
	switch t := v.(type) {
	case string:
		return Render(t, data)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = RenderValue(item, data)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = RenderValue(item, data)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, item := range t {
			out[k] = Render(item, data)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, item := range t {
			out[i] = Render(item, data)
		}
		return out
	default:
		return v
	}
}

// RenderAction returns a rendered copy of action; the type key is kept as is.
func RenderAction(action models.Action, data map[string]any) models.Action {
	out := make(models.Action, len(action))
	for k, v := range action {
		if k == "type" {
			out[k] = v
			continue
		}
		out[k] = RenderValue(v, data)
	}
	return out
}
