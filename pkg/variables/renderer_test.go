package variables_test

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tramite-io/tramite/pkg/variables"
)

func newRenderer() *variables.Renderer {
	return variables.NewRenderer(nil, slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func TestRenderSimplePath(t *testing.T) {
	renderer := newRenderer()

	bag := map[string]any{
		"user": map[string]any{"name": "Ana"},
	}

	assert.Equal(t, "Ana", renderer.Render("{{user.name}}", bag))
	assert.Equal(t, "Hola Ana!", renderer.Render("Hola {{user.name}}!", bag))
}

func TestRenderUnresolvedTokenLeftVerbatim(t *testing.T) {
	renderer := newRenderer()

	assert.Equal(t, "{{user.name}}", renderer.Render("{{user.name}}", map[string]any{}))
	assert.Equal(t, "{{a.b.c}}", renderer.Render("{{a.b.c}}", map[string]any{"a": "flat"}))
}

func TestRenderDefaultTable(t *testing.T) {
	renderer := newRenderer()

	// No document.status in the bag; the trailing-segment default applies.
	assert.Equal(t, "No especificado", renderer.Render("{{document.status}}", map[string]any{}))
	assert.Equal(t, "Sin fecha límite", renderer.Render("{{document.due_date}}", map[string]any{}))
}

func TestRenderExactPathDefaultWinsOverField(t *testing.T) {
	defaults := variables.NewDefaultTable()
	defaults.ByPath["invoice.status"] = "Pendiente de pago"

	renderer := variables.NewRenderer(defaults, slog.New(slog.NewTextHandler(os.Stderr, nil)))

	assert.Equal(t, "Pendiente de pago", renderer.Render("{{invoice.status}}", map[string]any{}))
	assert.Equal(t, "No especificado", renderer.Render("{{document.status}}", map[string]any{}))
}

func TestRenderEmptyStringFallsBackToDefault(t *testing.T) {
	renderer := newRenderer()

	bag := map[string]any{
		"document": map[string]any{"status": ""},
	}

	assert.Equal(t, "No especificado", renderer.Render("{{document.status}}", bag))
}

func TestRenderFormatters(t *testing.T) {
	renderer := newRenderer()

	bag := map[string]any{
		"amount":  12.5,
		"name":    "ana maría",
		"code":    "abc",
		"created": time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC),
	}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"currency", "{{amount|currency:USD}}", "USD 12.50"},
		{"currency default code", "{{amount|currency}}", "USD 12.50"},
		{"number with decimals", "{{amount|number:1}}", "12.5"},
		{"number default decimals", "{{amount|number}}", "12.50"},
		{"upper", "{{code|upper}}", "ABC"},
		{"lower", "{{name|lower}}", "ana maría"},
		{"capitalize", "{{name|capitalize}}", "Ana maría"},
		{"date layout", "{{created|date:02/01/2006}}", "15/03/2026"},
		{"date default layout", "{{created|date}}", "2026-03-15"},
		{"unknown formatter passes through", "{{amount|hex}}", "12.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderer.Render(tt.template, bag))
		})
	}
}

func TestRenderDateFromString(t *testing.T) {
	renderer := newRenderer()

	bag := map[string]any{"due": "2026-08-29T12:00:00Z"}

	assert.Equal(t, "29/08/2026", renderer.Render("{{due|date:02/01/2006}}", bag))
}

func TestRenderTwoPass(t *testing.T) {
	renderer := newRenderer()

	bag := map[string]any{
		"greeting": "Hola {{user.name}}",
		"user":     map[string]any{"name": "Ana"},
	}

	assert.Equal(t, "Hola Ana", renderer.Render("{{greeting}}", bag))
}

func TestRenderMapOfStrings(t *testing.T) {
	renderer := newRenderer()

	bag := map[string]any{
		"labels": map[string]string{"kind": "contrato"},
	}

	assert.Equal(t, "contrato", renderer.Render("{{labels.kind}}", bag))
}

func TestComposeBagPrecedence(t *testing.T) {
	global := map[string]any{"app_name": "tramite", "footer": "global"}
	session := map[string]any{"footer": "session"}
	entity := map[string]any{"document": map[string]any{"title": "Contrato"}}
	trigger := map[string]any{"trigger_event": "created", "footer": "trigger"}
	overrides := map[string]any{"footer": "override"}

	bag := variables.ComposeBag(global, session, entity, trigger, overrides)

	assert.Equal(t, "tramite", bag["app_name"])
	assert.Equal(t, "override", bag["footer"])
	assert.Equal(t, "created", bag["trigger_event"])
	assert.Contains(t, bag, "document")
}
