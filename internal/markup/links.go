package markup

import (
	"html"
	"regexp"
	"strings"
)

// LinkRule maps a set of phrase variants to one site destination.
type LinkRule struct {
	Phrases    []string
	Path       string
	IgnoreCase bool
}

// DefaultEarlyLinks is checked right after emphasis conversion. Earlier rules
// win when phrases overlap.
var DefaultEarlyLinks = []LinkRule{
	{Phrases: []string{"Contact Page", "contact page"}, Path: "/contact.html"},
	{Phrases: []string{"About Page", "about section"}, Path: "/about.html"},
	{Phrases: []string{"Projects Page", "project section"}, Path: "/projects.html"},
	{Phrases: []string{"Work Experience page", "work page"}, Path: "/work.html"},
}

// DefaultLateLinks runs after line breaks are inserted and matches whole
// words in any case.
var DefaultLateLinks = []LinkRule{
	{Phrases: []string{"contact page"}, Path: "/contact.html", IgnoreCase: true},
	{Phrases: []string{"about page"}, Path: "/about.html", IgnoreCase: true},
	{Phrases: []string{"projects page"}, Path: "/projects.html", IgnoreCase: true},
	{Phrases: []string{"work page"}, Path: "/work.html", IgnoreCase: true},
}

type compiledLink struct {
	re   *regexp.Regexp
	open string
}

func compileLinks(baseURL string, rules []LinkRule) []compiledLink {
	base := strings.TrimRight(baseURL, "/")
	links := make([]compiledLink, 0, len(rules))
	for _, rule := range rules {
		if len(rule.Phrases) == 0 {
			continue
		}
		alts := make([]string, len(rule.Phrases))
		for i, p := range rule.Phrases {
			// Phrases are matched against escaped text.
			alts[i] = regexp.QuoteMeta(html.EscapeString(p))
		}
		pattern := `\b(?:` + strings.Join(alts, "|") + `)\b`
		if rule.IgnoreCase {
			pattern = `(?i)` + pattern
		}
		links = append(links, compiledLink{
			re:   regexp.MustCompile(pattern),
			open: `<a href="` + html.EscapeString(base+rule.Path) + `" class="chatLink">`,
		})
	}
	return links
}

func applyLinks(s string, links []compiledLink) string {
	for _, l := range links {
		s = mapText(s, func(text string) string {
			return l.re.ReplaceAllStringFunc(text, func(m string) string {
				return l.open + m + "</a>"
			})
		})
	}
	return s
}

// mapText applies fn to the text between tags, skipping anything inside an
// anchor. Every tag in s was inserted by the renderer, raw input is escaped,
// so a literal '<' always starts a tag.
func mapText(s string, fn func(string) string) string {
	var out strings.Builder
	out.Grow(len(s))
	depth := 0
	for len(s) > 0 {
		i := strings.IndexByte(s, '<')
		if i < 0 {
			out.WriteString(textAt(depth, s, fn))
			break
		}
		out.WriteString(textAt(depth, s[:i], fn))

		j := strings.IndexByte(s[i:], '>')
		if j < 0 {
			out.WriteString(s[i:])
			break
		}
		tag := s[i : i+j+1]
		switch {
		case tag == "</a>":
			if depth > 0 {
				depth--
			}
		case strings.HasPrefix(tag, "<a ") || tag == "<a>":
			depth++
		}
		out.WriteString(tag)
		s = s[i+j+1:]
	}
	return out.String()
}

func textAt(depth int, text string, fn func(string) string) string {
	if depth > 0 || text == "" {
		return text
	}
	return fn(text)
}
