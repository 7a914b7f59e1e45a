package scheduler

import (
	"fmt"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/leadmap-mailflow/internal/domain"
)

// Renderer expands liquid markup in a payload's subject and bodies using
// the payload's Data as bindings. Parsed templates are cached by source.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // source -> *liquid.Template
}

// NewRenderer returns a renderer with the stock liquid filters.
func NewRenderer() *Renderer {
	return &Renderer{engine: liquid.NewEngine()}
}

func (r *Renderer) parse(src string) (*liquid.Template, error) {
	if cached, ok := r.cache.Load(src); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := r.engine.ParseString(src)
	if err != nil {
		return nil, err
	}
	r.cache.Store(src, tpl)
	return tpl, nil
}

func (r *Renderer) render(field, src string, data map[string]any) (string, error) {
	if src == "" {
		return "", nil
	}
	tpl, err := r.parse(src)
	if err != nil {
		return "", fmt.Errorf("%w: parse %s: %v", ErrTemplate, field, err)
	}
	out, serr := tpl.RenderString(data)
	if serr != nil {
		return "", fmt.Errorf("%w: render %s: %v", ErrTemplate, field, serr)
	}
	return out, nil
}

// Render returns a copy of p with Subject, HTMLBody and TextBody rendered.
func (r *Renderer) Render(p domain.MessagePayload) (domain.MessagePayload, error) {
	data := p.Data
	if data == nil {
		data = map[string]any{}
	}
	out := p
	var err error
	if out.Subject, err = r.render("subject", p.Subject, data); err != nil {
		return p, err
	}
	if out.HTMLBody, err = r.render("html_body", p.HTMLBody, data); err != nil {
		return p, err
	}
	if out.TextBody, err = r.render("text_body", p.TextBody, data); err != nil {
		return p, err
	}
	return out, nil
}

// Validate parses every template field without rendering.
func (r *Renderer) Validate(p domain.MessagePayload) error {
	for field, src := range map[string]string{"subject": p.Subject, "html_body": p.HTMLBody, "text_body": p.TextBody} {
		if src == "" {
			continue
		}
		if _, err := r.parse(src); err != nil {
			return fmt.Errorf("%w: parse %s: %v", ErrTemplate, field, err)
		}
	}
	return nil
}
