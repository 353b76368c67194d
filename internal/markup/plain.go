package markup

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strict = bluemonday.StrictPolicy()

	blockBreaks = strings.NewReplacer(
		"<br>", "\n",
		"<ul>", "",
		"</ul>", "\n",
		"<li>", bulletMarker,
		"</li>", "\n",
	)
)

// PlainText flattens rendered markup for text-only surfaces such as a
// terminal. Line structure is kept, all tags are dropped.
func PlainText(markup string) string {
	s := blockBreaks.Replace(markup)
	s = strict.Sanitize(s)
	return strings.TrimRight(html.UnescapeString(s), "\n")
}
