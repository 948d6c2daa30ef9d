// Package render turns a named template plus a context into a message body.
// Rich HTML bodies are an external concern; adapters only need plain text.
package render

import (
	"fmt"
	"strings"
	"sync"
	"text/template"
)

const (
	TemplateEmailBody  = "email_body"
	TemplateSMSBody    = "sms_body"
	TemplateBotMessage = "bot_message"
)

var defaultTemplates = map[string]string{
	TemplateEmailBody:  "{{.Title}}\n\n{{.Message}}",
	TemplateSMSBody:    "{{.Title}}: {{.Message}}",
	TemplateBotMessage: "✉ {{.Title}}\n\n{{.Message}}",
}

// Renderer is a registry of named text templates, safe for concurrent use
// after registration.
type Renderer struct {
	mu        sync.RWMutex
	templates *template.Template
}

func New() (*Renderer, error) {
	r := &Renderer{templates: template.New("notify")}
	for name, text := range defaultTemplates {
		if err := r.Register(name, text); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register parses and stores a template under a name, replacing any previous
// definition.
func (r *Renderer) Register(name, text string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("template name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.templates.New(name).Parse(text); err != nil {
		return fmt.Errorf("failed to parse template %q: %w", name, err)
	}
	return nil
}

func (r *Renderer) Render(name string, data any) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tmpl := r.templates.Lookup(name)
	if tmpl == nil {
		return "", fmt.Errorf("unknown template %q", name)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render template %q: %w", name, err)
	}
	return sb.String(), nil
}
