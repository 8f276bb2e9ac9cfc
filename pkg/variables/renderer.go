package variables

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*(?:\|\s*([^}]+?)\s*)?\}\}`)

// DefaultTable supplies fallback values for unresolved variables, keyed
// first by exact path, then by trailing field name.
type DefaultTable struct {
	ByPath  map[string]string
	ByField map[string]string
}

// NewDefaultTable returns the stock fallback table carried over from the
// original deployment's display defaults.
func NewDefaultTable() *DefaultTable {
	return &DefaultTable{
		ByPath: map[string]string{},
		ByField: map[string]string{
			"status":   "No especificado",
			"role":     "Sin rol asignado",
			"due_date": "Sin fecha límite",
			"name":     "Sin nombre",
		},
	}
}

// Lookup returns the fallback for a path, trying the exact path first and
// the trailing segment second.
func (d *DefaultTable) Lookup(path string) (string, bool) {
	if value, ok := d.ByPath[path]; ok {
		return value, true
	}

	segments := strings.Split(path, ".")
	trailing := segments[len(segments)-1]

	value, ok := d.ByField[trailing]

	return value, ok
}

// Renderer substitutes {{path}} and {{path|formatter}} tokens over a
// variable bag. Rendering is best-effort and never fails: tokens that stay
// unresolved after defaults are left verbatim in the output.
type Renderer struct {
	defaults *DefaultTable
	logger   *slog.Logger
}

// NewRenderer creates a template renderer with the given default table; nil
// uses the stock table.
func NewRenderer(defaults *DefaultTable, logger *slog.Logger) *Renderer {
	if defaults == nil {
		defaults = NewDefaultTable()
	}

	return &Renderer{
		defaults: defaults,
		logger:   logger.With("module", "renderer"),
	}
}

// Render substitutes tokens in two passes, so variable values that
// themselves contain tokens get one further expansion.
func (r *Renderer) Render(template string, bag map[string]any) string {
	result := r.renderPass(template, bag)
	if strings.Contains(result, "{{") {
		result = r.renderPass(result, bag)
	}

	return result
}

func (r *Renderer) renderPass(template string, bag map[string]any) string {
	return tokenPattern.ReplaceAllStringFunc(template, func(token string) string {
		match := tokenPattern.FindStringSubmatch(token)
		path, formatter := match[1], match[2]

		value := lookupBag(bag, path)

		if isEmpty(value) {
			fallback, ok := r.defaults.Lookup(path)
			if !ok {
				return token
			}

			value = fallback
		}

		if formatter == "" {
			return stringifyValue(value)
		}

		return r.applyFormatter(value, formatter)
	})
}

// applyFormatter applies one pipe formatter. Unknown formatters stringify
// the value unchanged.
func (r *Renderer) applyFormatter(value any, formatter string) string {
	name, arg := formatter, ""
	if idx := strings.Index(formatter, ":"); idx >= 0 {
		name, arg = formatter[:idx], formatter[idx+1:]
	}

	switch name {
	case "date":
		return formatDate(value, arg)
	case "number":
		return formatNumber(value, arg)
	case "currency":
		return formatCurrency(value, arg)
	case "upper":
		return strings.ToUpper(stringifyValue(value))
	case "lower":
		return strings.ToLower(stringifyValue(value))
	case "capitalize":
		return capitalize(stringifyValue(value))
	}

	r.logger.Debug("Unknown formatter", "formatter", name)

	return stringifyValue(value)
}

func formatDate(value any, layout string) string {
	if layout == "" {
		layout = "2006-01-02"
	}

	switch v := value.(type) {
	case time.Time:
		return v.Format(layout)
	case *time.Time:
		if v == nil {
			return ""
		}

		return v.Format(layout)
	case string:
		for _, parse := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(parse, v); err == nil {
				return t.Format(layout)
			}
		}

		return v
	default:
		return stringifyValue(value)
	}
}

func formatNumber(value any, arg string) string {
	number, ok := toNumber(value)
	if !ok {
		return stringifyValue(value)
	}

	decimals := 2
	if parsed, err := strconv.Atoi(arg); err == nil {
		decimals = parsed
	}

	return strconv.FormatFloat(number, 'f', decimals, 64)
}

func formatCurrency(value any, code string) string {
	number, ok := toNumber(value)
	if !ok {
		return stringifyValue(value)
	}

	if code == "" {
		code = "USD"
	}

	return fmt.Sprintf("%s %.2f", code, number)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}

	first, size := utf8.DecodeRuneInString(s)

	return string(unicode.ToUpper(first)) + s[size:]
}

// lookupBag traverses a dot-segmented path through nested maps, nil on any
// missing segment.
func lookupBag(bag map[string]any, path string) any {
	var current any = bag

	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			var ok bool

			current, ok = node[segment]
			if !ok {
				return nil
			}
		case map[string]string:
			value, ok := node[segment]
			if !ok {
				return nil
			}

			current = value
		default:
			return nil
		}
	}

	return current
}

func isEmpty(value any) bool {
	if value == nil {
		return true
	}

	s, ok := value.(string)

	return ok && s == ""
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}

		return parsed, true
	default:
		return 0, false
	}
}

func stringifyValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", v)
	}
}
