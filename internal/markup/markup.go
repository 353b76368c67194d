// Package markup converts untrusted assistant text into sanitized display
// markup.
//
// Render escapes the raw text before any other stage runs; every later stage
// only inserts the renderer's own tags around text that is already escaped.
// Rendering is a pure function of its input, so a caller may re-render the
// whole accumulated answer after every streamed chunk.
package markup

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

const bulletMarker = "• "

var (
	escapedAnchor = regexp.MustCompile(`(?i)&lt;a(?:\s[^&]*(?:&(?:#34|#39|amp);[^&]*)*)?&gt;(.*?)&lt;/a&gt;`)

	strongStar  = regexp.MustCompile(`\*\*(.+?)\*\*`)
	strongUnder = regexp.MustCompile(`__(.+?)__`)
	emStar      = regexp.MustCompile(`\*(.+?)\*`)
	emUnder     = regexp.MustCompile(`_(.+?)_`)

	// Only these schemes become anchors; anything else stays literal text.
	explicitLink = regexp.MustCompile(`\[([^\[\]]+)\]\(((?:https?://|mailto:)[^\s()<>"]+)\)`)

	linkClass  = regexp.MustCompile(`^chatLink$`)
	linkTarget = regexp.MustCompile(`^_blank$`)
	linkRel    = regexp.MustCompile(`^noopener$`)
)

// Renderer holds the compiled link tables and the output policy. It is
// immutable after New and safe for concurrent use.
type Renderer struct {
	baseURL string
	early   []compiledLink
	late    []compiledLink
	policy  *bluemonday.Policy
}

type options struct {
	baseURL string
	early   []LinkRule
	late    []LinkRule
}

// Option configures a Renderer.
type Option func(*options)

// WithBaseURL prefixes every known-phrase destination, e.g. the site origin.
func WithBaseURL(baseURL string) Option {
	return func(o *options) { o.baseURL = baseURL }
}

// WithEarlyLinks replaces the table applied after emphasis conversion.
func WithEarlyLinks(rules []LinkRule) Option {
	return func(o *options) { o.early = rules }
}

// WithLateLinks replaces the table applied after line breaks.
func WithLateLinks(rules []LinkRule) Option {
	return func(o *options) { o.late = rules }
}

// New builds a Renderer. Without options it links known phrases to
// site-relative paths.
func New(opts ...Option) *Renderer {
	o := options{early: DefaultEarlyLinks, late: DefaultLateLinks}
	for _, opt := range opts {
		opt(&o)
	}
	return &Renderer{
		baseURL: o.baseURL,
		early:   compileLinks(o.baseURL, o.early),
		late:    compileLinks(o.baseURL, o.late),
		policy:  newPolicy(),
	}
}

// BaseURL returns the prefix used for known-phrase links.
func (r *Renderer) BaseURL() string {
	return r.baseURL
}

// Render maps raw assistant text to display markup.
func (r *Renderer) Render(raw string) string {
	return r.render(raw, true)
}

// RenderUser maps the visitor's own text to display markup. It runs the same
// stages as Render but keeps emoji.
func (r *Renderer) RenderUser(raw string) string {
	return r.render(raw, false)
}

func (r *Renderer) render(raw string, stripPictographic bool) string {
	s := html.EscapeString(strings.ReplaceAll(raw, "\r\n", "\n"))
	if stripPictographic {
		s = StripPictographic(s)
	}
	s = escapedAnchor.ReplaceAllString(s, "${1}")

	s = strongStar.ReplaceAllString(s, "<strong>${1}</strong>")
	s = strongUnder.ReplaceAllString(s, "<strong>${1}</strong>")
	s = emStar.ReplaceAllString(s, "<em>${1}</em>")
	s = emUnder.ReplaceAllString(s, "<em>${1}</em>")

	s = applyLinks(s, r.early)
	s = mapText(s, func(text string) string {
		return explicitLink.ReplaceAllString(text, `<a href="${2}" class="chatLink" target="_blank" rel="noopener">${1}</a>`)
	})

	s = wrapBullets(s)
	s = strings.ReplaceAll(s, "\n", "<br>")
	s = applyLinks(s, r.late)

	return r.policy.Sanitize(s)
}

// wrapBullets turns "• item" lines into list items and joins each run of
// consecutive items into one list.
func wrapBullets(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	var items []string
	flush := func() {
		if len(items) == 0 {
			return
		}
		out = append(out, "<ul>"+strings.Join(items, "")+"</ul>")
		items = items[:0]
	}
	for _, line := range lines {
		if body, ok := strings.CutPrefix(line, bulletMarker); ok && body != "" {
			items = append(items, "<li>"+body+"</li>")
			continue
		}
		flush()
		out = append(out, line)
	}
	flush()
	return strings.Join(out, "\n")
}

func newPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("strong", "em", "ul", "li", "br")
	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("class").Matching(linkClass).OnElements("a")
	p.AllowAttrs("target").Matching(linkTarget).OnElements("a")
	p.AllowAttrs("rel").Matching(linkRel).OnElements("a")
	p.AllowURLSchemes("http", "https", "mailto")
	p.AllowRelativeURLs(true)
	p.RequireParseableURLs(true)
	return p
}
