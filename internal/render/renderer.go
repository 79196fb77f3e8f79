// Package render implements the Template Renderer: subject/body are
// rendered against a resolved context with the external template
// engine, undefined variables render to a placeholder rather than
// raising, and the body is unconditionally post-processed through a
// markdown-to-HTML transform. Grounded on the teacher's
// pkg/notifuse_mjml/converter.go for the osteele/liquid call pattern
// (NewEngine, ParseAndRenderString against a map[string]interface{}).
package render

import (
	"bytes"
	"fmt"
	"html"
	"regexp"

	"github.com/osteele/liquid"
	"github.com/yuin/goldmark"

	"github.com/carpentries/amy-email-worker/internal/domain"
)

// variableRef matches {{ name }} and {{ name.field }} references so
// top-level identifiers absent from the context can be bound to a
// placeholder before rendering (osteele/liquid has no native
// debug-undefined mode, unlike the jinja2 DebugUndefined this emulates).
var variableRef = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)`)

// Renderer implements domain.TemplateRenderer.
type Renderer struct {
	engine *liquid.Engine
}

// New builds a Renderer with a fresh liquid engine.
func New() *Renderer {
	return &Renderer{engine: liquid.NewEngine()}
}

// RenderEmail implements domain.TemplateRenderer.
func (r *Renderer) RenderEmail(email domain.ScheduledEmail, context map[string]interface{}, recipients []string) (domain.RenderedEmail, error) {
	escaped := escapeContextValues(context)

	if err := validateDelimiters(email.Subject); err != nil {
		return domain.RenderedEmail{}, &domain.TemplateSyntaxError{Err: err}
	}
	bound := withUndefinedPlaceholders(email.Subject, escaped)
	subject, err := r.engine.ParseAndRenderString(email.Subject, bound)
	if err != nil {
		return domain.RenderedEmail{}, &domain.TemplateSyntaxError{Err: err}
	}

	if err := validateDelimiters(email.Body); err != nil {
		return domain.RenderedEmail{}, &domain.TemplateSyntaxError{Err: err}
	}
	bound = withUndefinedPlaceholders(email.Body, escaped)
	body, err := r.engine.ParseAndRenderString(email.Body, bound)
	if err != nil {
		return domain.RenderedEmail{}, &domain.TemplateSyntaxError{Err: err}
	}

	bodyHTML, err := toHTML(body)
	if err != nil {
		return domain.RenderedEmail{}, &domain.TemplateSyntaxError{Err: err}
	}

	var toHeaderRendered []string
	for _, recipient := range recipients {
		if recipient != "" {
			toHeaderRendered = append(toHeaderRendered, recipient)
		}
	}

	return domain.RenderedEmail{
		ScheduledEmail:   email,
		SubjectRendered:  subject,
		BodyRendered:     bodyHTML,
		ToHeaderRendered: toHeaderRendered,
	}, nil
}

// withUndefinedPlaceholders scans template for {{ name }} / {{ name.field }}
// references and, for every top-level identifier absent from context,
// returns a copy of context with that identifier bound to a
// recognizable placeholder string. The original context is never
// mutated, since it is shared across subject and body rendering.
func withUndefinedPlaceholders(template string, context map[string]interface{}) map[string]interface{} {
	matches := variableRef.FindAllStringSubmatch(template, -1)
	if len(matches) == 0 {
		return context
	}

	bound := make(map[string]interface{}, len(context)+len(matches))
	for k, v := range context {
		bound[k] = v
	}

	for _, m := range matches {
		name := m[1]
		if _, ok := bound[name]; !ok {
			bound[name] = fmt.Sprintf("[[ undefined: %s ]]", name)
		}
	}
	return bound
}

// escapeContextValues HTML-escapes every string leaf in context before
// substitution, the Go equivalent of jinja2's autoescape=True (spec
// §4.5): a resolved value like "<b>" lands in the rendered output as
// "&lt;b&gt;" rather than live markup, with the markdown pass still
// running afterward on the substituted template. liquid itself has no
// autoescape mode (Shopify-Liquid semantics), so escaping happens here
// rather than in the engine.
func escapeContextValues(context map[string]interface{}) map[string]interface{} {
	escaped := make(map[string]interface{}, len(context))
	for k, v := range context {
		escaped[k] = escapeValue(v)
	}
	return escaped
}

func escapeValue(v interface{}) interface{} {
	switch value := v.(type) {
	case string:
		return html.EscapeString(value)
	case []string:
		out := make([]string, len(value))
		for i, s := range value {
			out[i] = html.EscapeString(s)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(value))
		for i, s := range value {
			out[i] = escapeValue(s)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(value))
		for k, s := range value {
			out[k] = escapeValue(s)
		}
		return out
	default:
		return v
	}
}

// validateDelimiters rejects a template with an unterminated "{{"
// output delimiter. osteele/liquid's delimiter scanner treats a "{{"
// with no matching "}}" as literal text rather than a parse error, so
// without this check a malformed template like "{{ x }" would render
// (and send) instead of failing closed.
func validateDelimiters(template string) error {
	depth := 0
	for i := 0; i < len(template)-1; i++ {
		switch {
		case template[i] == '{' && template[i+1] == '{':
			if depth > 0 {
				return fmt.Errorf("unterminated '{{' delimiter before position %d", i)
			}
			depth++
			i++
		case template[i] == '}' && template[i+1] == '}':
			if depth == 0 {
				return fmt.Errorf("unmatched '}}' delimiter at position %d", i)
			}
			depth--
			i++
		}
	}
	if depth != 0 {
		return fmt.Errorf("unterminated '{{' delimiter")
	}
	return nil
}

// toHTML runs the markdown-to-HTML transform unconditionally, even when
// the rendered body contains no markdown syntax (spec §4.5 step 4).
func toHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var _ domain.TemplateRenderer = (*Renderer)(nil)
