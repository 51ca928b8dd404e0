// Package content normalises entry content before rule matching. Agents
// that browse log raw HTML; rules are written against what a person would
// read, so markup is reduced to text or Markdown first.
package content

import (
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/ppiankov/monmon/internal/eventlog"
)

// Mode selects how HTML content is rendered.
type Mode string

const (
	ModeRaw      Mode = "raw"      // no normalisation
	ModeText     Mode = "text"     // visible text, whitespace collapsed
	ModeMarkdown Mode = "markdown" // Markdown, keeps links and structure
)

// ParseMode validates a mode name. The empty string means ModeRaw.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case "":
		return ModeRaw, nil
	case ModeRaw, ModeText, ModeMarkdown:
		return m, nil
	default:
		return "", fmt.Errorf("unknown content mode %q (want raw, text, or markdown)", s)
	}
}

var tagPattern = regexp.MustCompile(`(?i)<\s*(html|body|head|div|p|a|span|form|input|button|script|table|ul|li|h[1-6])\b`)

// LooksLikeHTML reports whether s appears to contain HTML markup.
func LooksLikeHTML(s string) bool {
	return tagPattern.MatchString(s)
}

// Stringifier returns a stringify function for the given mode, suitable for
// evaluate.Local.Stringify. Non-HTML content and conversion failures fall
// back to eventlog.Stringify.
func Stringifier(mode Mode) func(any) string {
	switch mode {
	case ModeText:
		return func(c any) string { return normalize(c, Text) }
	case ModeMarkdown:
		return func(c any) string { return normalize(c, Markdown) }
	default:
		return eventlog.Stringify
	}
}

func normalize(c any, convert func(string) (string, error)) string {
	s := eventlog.Stringify(c)
	if !LooksLikeHTML(s) {
		return s
	}
	out, err := convert(s)
	if err != nil {
		return s
	}
	return out
}

// Text extracts the visible text of an HTML document or fragment.
func Text(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()

	var parts []string
	// Form controls carry their meaning in attributes, not text.
	doc.Find("input, button, img").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range []string{"placeholder", "value", "alt", "aria-label"} {
			if v, ok := s.Attr(attr); ok && v != "" {
				parts = append(parts, v)
			}
		}
	})

	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if len(parts) > 0 {
		text = strings.TrimSpace(text + " " + strings.Join(parts, " "))
	}
	return text, nil
}

// Markdown converts HTML to Markdown.
func Markdown(html string) (string, error) {
	converter := md.NewConverter("", true, nil)
	return converter.ConvertString(html)
}
