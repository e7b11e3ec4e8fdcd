// Package sanitize holds the HTML allow-lists applied to every user supplied
// string before it is stored or rendered.
package sanitize

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxPlainTextLength is the rune limit for free-text fields.
const MaxPlainTextLength = 1000

// Profile selects a rich-text allow-list.
type Profile int

const (
	// ProfileText allows no tags at all.
	ProfileText Profile = iota
	// ProfileRichText allows block and inline formatting (obituary, life story).
	ProfileRichText
	// ProfileMessage allows p, br, b, strong, i, em and http(s) links.
	ProfileMessage
)

func (p Profile) String() string {
	switch p {
	case ProfileText:
		return "text"
	case ProfileRichText:
		return "richText"
	case ProfileMessage:
		return "message"
	}
	return "unknown"
}

var (
	textPolicy     = bluemonday.StrictPolicy()
	richTextPolicy = newRichTextPolicy()
	messagePolicy  = newMessagePolicy()
)

func newRichTextPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "br", "hr", "div", "span",
		"h2", "h3", "h4",
		"b", "strong", "i", "em", "u", "s", "sub", "sup", "small",
		"blockquote", "ul", "ol", "li",
	)
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https", "mailto")
	p.RequireParseableURLs(true)
	p.RequireNoFollowOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}

func newMessagePolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "b", "strong", "i", "em")
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https")
	p.RequireParseableURLs(true)
	p.RequireNoFollowOnLinks(true)
	return p
}

// PlainText strips all markup, collapses whitespace and truncates to
// MaxPlainTextLength runes. The result is unescaped text; callers that render
// it must escape it again (html/template does).
func PlainText(input string) string {
	return plain(input, MaxPlainTextLength)
}

// PlainTextLimit is PlainText with a custom rune limit. limit <= 0 disables truncation.
func PlainTextLimit(input string, limit int) string {
	return plain(input, limit)
}

func plain(input string, limit int) string {
	if input == "" {
		return ""
	}
	stripped := html.UnescapeString(textPolicy.Sanitize(input))
	collapsed := strings.Join(strings.Fields(stripped), " ")
	if limit > 0 && utf8.RuneCountInString(collapsed) > limit {
		runes := []rune(collapsed)
		collapsed = strings.TrimSpace(string(runes[:limit]))
	}
	return collapsed
}

// RichText removes every tag and attribute outside profile's allow-list.
// ProfileText behaves like PlainText without truncation.
func RichText(input string, profile Profile) string {
	if input == "" {
		return ""
	}
	switch profile {
	case ProfileRichText:
		return strings.TrimSpace(richTextPolicy.Sanitize(input))
	case ProfileMessage:
		return strings.TrimSpace(messagePolicy.Sanitize(input))
	default:
		return plain(input, 0)
	}
}
