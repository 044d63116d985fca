package sending

import (
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/campaign-engine/internal/domain"
)

// Renderer personalizes campaign subject and body with Liquid and appends
// the optional footer and unsubscribe link.
type Renderer struct {
	engine     *liquid.Engine
	cache      sync.Map // template source -> *liquid.Template
	footerHTML string
}

// NewRenderer creates a renderer. footerHTML is appended when a campaign
// has FooterIncluded set.
func NewRenderer(footerHTML string) *Renderer {
	engine := liquid.NewEngine()

	// Default value filter: {{ first_name | default: "there" }}
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})
	engine.RegisterFilter("escape", func(s string) string {
		return html.EscapeString(s)
	})

	return &Renderer{engine: engine, footerHTML: footerHTML}
}

// Rendered is the personalized content for one recipient.
type Rendered struct {
	Subject string
	HTML    string
}

// Render produces the subject and HTML body for one recipient. The
// unsubscribe URL is only used when the campaign includes the link.
func (r *Renderer) Render(c *domain.Campaign, rcpt domain.Recipient, unsubscribeURL string) (*Rendered, error) {
	vars := map[string]interface{}{
		"first_name":      rcpt.FirstName,
		"last_name":       rcpt.LastName,
		"email":           rcpt.Email,
		"unsubscribe_url": unsubscribeURL,
	}

	subject, err := r.render(c.Subject, vars)
	if err != nil {
		return nil, fmt.Errorf("render subject: %w", err)
	}
	body, err := r.render(c.MessageBody, vars)
	if err != nil {
		return nil, fmt.Errorf("render body: %w", err)
	}

	var b strings.Builder
	b.WriteString(body)
	if c.FooterIncluded && r.footerHTML != "" {
		b.WriteString("\n<div class=\"footer\">")
		b.WriteString(r.footerHTML)
		b.WriteString("</div>")
	}
	if c.UnsubscribeLinkIncluded && unsubscribeURL != "" {
		fmt.Fprintf(&b, "\n<p class=\"unsubscribe\"><a href=\"%s\">Unsubscribe</a></p>", html.EscapeString(unsubscribeURL))
	}
	return &Rendered{Subject: subject, HTML: b.String()}, nil
}

// render parses src once and caches it keyed by its own text, so edits to
// a draft never hit a stale template.
func (r *Renderer) render(src string, vars map[string]interface{}) (string, error) {
	if cached, ok := r.cache.Load(src); ok {
		return cached.(*liquid.Template).RenderString(vars)
	}
	tpl, err := r.engine.ParseString(src)
	if err != nil {
		return "", err
	}
	r.cache.Store(src, tpl)
	return tpl.RenderString(vars)
}
