package rules

import (
	"testing"

	"alerthub/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	data := map[string]any{
		"title":    "Disk Full",
		"severity": "critical",
		"labels":   map[string]string{"instance": "db1"},
		"count":    3.0,
		"ok":       true,
		"kb":       []any{map[string]any{"title": "t"}},
	}

	assert.Equal(t, "[critical] Disk Full", Render("[{{ severity }}] {{title}}", data))
	assert.Equal(t, "on db1", Render("on {{ labels.instance }}", data))
	assert.Equal(t, "x= y", Render("x={{ missing }} y", data))
	assert.Equal(t, "3 true", Render("{{ count }} {{ ok }}", data))
	assert.Equal(t, `[{"title":"t"}]`, Render("{{ kb }}", data))
	assert.Equal(t, "{% if x %}", Render("{% if x %}", data), "only placeholders are interpreted")
}

func TestRenderActionWebhookJSON(t *testing.T) {
	action := models.Action{
		"type":    "webhook",
		"url":     "https://hooks.example.com/{{ labels.instance }}",
		"json":    map[string]any{"text": "{{ title }}"},
		"retries": 3.0,
	}
	data := Attributes(&models.AlertEvent{Title: "Disk Full", Labels: map[string]string{"instance": "db1"}})

	out := RenderAction(action, data)
	assert.Equal(t, "webhook", out.Type())
	assert.Equal(t, "https://hooks.example.com/db1", out["url"])
	assert.Equal(t, map[string]any{"text": "Disk Full"}, out["json"])
	assert.Equal(t, 3.0, out["retries"])

	assert.Equal(t, map[string]any{"text": "{{ title }}"}, action["json"], "input action is not mutated")
}

func TestRenderValueLists(t *testing.T) {
	data := map[string]any{"service": "api"}
	out := RenderValue([]any{"{{ service }}@example.com", 1.0}, data)
	assert.Equal(t, []any{"api@example.com", 1.0}, out)
}
