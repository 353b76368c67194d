package markup

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var rendererTags = regexp.MustCompile(`</?(?:strong|em|ul|li|br|a)(?:\s[^>]*)?>`)

func TestRenderStreamedEmphasisClosesInFinalState(t *testing.T) {
	t.Parallel()

	r := New()
	var acc strings.Builder
	var out string
	for _, chunk := range []string{"Hel", "lo **wor", "ld**!"} {
		acc.WriteString(chunk)
		out = r.Render(acc.String())
		require.Equal(t, strings.Count(out, "<strong>"), strings.Count(out, "</strong>"), "unbalanced after %q", acc.String())
	}
	require.Contains(t, out, "Hello <strong>world</strong>!")
}

func TestRenderIsIdempotent(t *testing.T) {
	t.Parallel()

	r := New()
	inputs := []string{
		"",
		"plain text",
		"**bold** and _it_ with [a link](https://example.com)",
		"See the contact page or the Contact Page\n• one\n• two",
		"<script>alert(1)</script>",
	}
	for _, in := range inputs {
		require.Equal(t, r.Render(in), r.Render(in), "input %q", in)
	}
}

func TestRenderIsInjectionSafe(t *testing.T) {
	t.Parallel()

	r := New()
	raw := `<script>alert("x")</script> & 'q' <img src=x onerror=alert(1)> **<b>bold</b>**`
	out := r.Render(raw)

	require.NotContains(t, out, "<script")
	require.NotContains(t, out, "<img")
	require.Contains(t, out, "&lt;script&gt;")

	textOnly := rendererTags.ReplaceAllString(out, "")
	require.NotContains(t, textOnly, "<")
	require.NotContains(t, textOnly, ">")
	require.NotContains(t, textOnly, `"`)
}

func TestRenderStripsPictographic(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Hi there", New().Render("👋 Hi there ✨"))
}

func TestRenderUserKeepsPictographic(t *testing.T) {
	t.Parallel()

	r := New()
	require.Equal(t, "👋 <strong>hi</strong> ✨", r.RenderUser("👋 **hi** ✨"))
	require.Equal(t, "&lt;b&gt;👋&lt;/b&gt;", r.RenderUser("<b>👋</b>"))
}

func TestRenderRemovesModelAnchors(t *testing.T) {
	t.Parallel()

	r := New()
	require.Equal(t, "See Contact Vetrivel now", r.Render(`See <a href="contact.html">Contact Vetrivel</a> now`))

	out := r.Render(`Go to the <A HREF='contact.html'>Contact Page</A>`)
	require.NotContains(t, out, "&lt;")
	require.Equal(t, 1, strings.Count(out, "<a "))
	require.Contains(t, out, `href="/contact.html"`)
}

func TestRenderEmphasisForms(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		"<strong>a</strong> <strong>b</strong> <em>c</em> <em>d</em>",
		New().Render("**a** __b__ *c* _d_"))
}

func TestRenderKnownPhrasesLinkOncePerOccurrence(t *testing.T) {
	t.Parallel()

	r := New()

	out := r.Render("Visit the contact page today")
	require.Equal(t, 1, strings.Count(out, "<a "))
	require.Contains(t, out, `href="/contact.html"`)
	require.Contains(t, out, ">contact page</a>")

	out = r.Render("See the CONTACT PAGE")
	require.Equal(t, 1, strings.Count(out, "<a "))
	require.Contains(t, out, ">CONTACT PAGE</a>")

	// Present in both tables; the late pass must not wrap it again.
	out = r.Render("Use the Contact Page, then the contact page again")
	require.Equal(t, 2, strings.Count(out, "<a "))
	require.Equal(t, 2, strings.Count(out, "</a>"))

	out = r.Render("recontact pages are not phrases")
	require.NotContains(t, out, "<a ")
}

func TestRenderPhraseTableOrderWins(t *testing.T) {
	t.Parallel()

	r := New(WithEarlyLinks([]LinkRule{
		{Phrases: []string{"work page"}, Path: "/first"},
		{Phrases: []string{"page"}, Path: "/second"},
	}), WithLateLinks(nil))

	out := r.Render("the work page")
	require.Equal(t, 1, strings.Count(out, "<a "))
	require.Contains(t, out, `href="/first"`)
	require.NotContains(t, out, `href="/second"`)
}

func TestRenderExplicitLinkSchemes(t *testing.T) {
	t.Parallel()

	r := New()

	out := r.Render("read [the docs](https://example.com/docs) please")
	require.Contains(t, out, `href="https://example.com/docs"`)
	require.Contains(t, out, ">the docs</a>")

	out = r.Render("[mail me](mailto:me@example.com)")
	require.Contains(t, out, `href="mailto:me@example.com"`)

	for _, raw := range []string{
		"[bad](javascript:alert(1))",
		"[files](ftp://example.com/x)",
		"[data](data:text/html;base64,AAAA)",
	} {
		out = r.Render(raw)
		require.NotContains(t, out, "<a ", "input %q", raw)
		require.Contains(t, out, "[", "input %q", raw)
	}
}

func TestRenderBulletRuns(t *testing.T) {
	t.Parallel()

	r := New()

	out := r.Render("Skills:\n• Go\n• Python\nDone")
	require.Contains(t, out, "<ul><li>Go</li><li>Python</li></ul>")
	require.Equal(t, 1, strings.Count(out, "<ul>"))

	out = r.Render("• a\ntext\n• b")
	require.Equal(t, 2, strings.Count(out, "<ul>"))
}

func TestRenderLineBreaks(t *testing.T) {
	t.Parallel()

	out := New().Render("first\r\nsecond\nthird")
	require.Equal(t, 2, strings.Count(out, "<br"))
	require.NotContains(t, out, "\n")
}

func TestRenderBaseURL(t *testing.T) {
	t.Parallel()

	r := New(WithBaseURL("https://folio.example/"))
	require.Equal(t, "https://folio.example/", r.BaseURL())
	require.Contains(t, r.Render("the about section"), `href="https://folio.example/about.html"`)
}

func TestIsPictographic(t *testing.T) {
	t.Parallel()

	for _, r := range []rune{'👋', '🚀', '✨', '©', '☀'} {
		require.True(t, IsPictographic(r), "%U", r)
	}
	for _, r := range []rune{'a', '•', '日', '1', ' '} {
		require.False(t, IsPictographic(r), "%U", r)
	}
}

func TestPlainText(t *testing.T) {
	t.Parallel()

	r := New()
	require.Equal(t, "Hi there\n• one\n• two", PlainText(r.Render("**Hi** there\n• one\n• two")))
	require.Equal(t, `a < b & "c"`, PlainText(r.Render(`a < b & "c"`)))
}
