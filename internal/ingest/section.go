package ingest

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// MinSectionChars is the default floor below which a section body is
// discarded as boilerplate.
const MinSectionChars = 80

// boilerplateSelector lists elements stripped before sectioning.
const boilerplateSelector = "script, style, nav, footer, header, aside, noscript, form, iframe"

// headingSelector defines which headings delimit sections.
const headingSelector = "h1, h2, h3, h4"

// Section is one (heading, body) pair extracted from a document.
// Body is markdown.
type Section struct {
	Heading string
	Body    string
}

// SectionHTML cleans an HTML document and segments it by h1–h4 headings into
// (heading, body) pairs, dropping bodies shorter than minChars. If the page
// has no headings, the whole readable body becomes one section.
func SectionHTML(raw []byte, pageURL string, minChars int) (string, []Section, error) {
	if minChars <= 0 {
		minChars = MinSectionChars
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", nil, fmt.Errorf("parsing HTML: %w", err)
	}

	doc.Find(boilerplateSelector).Remove()
	for _, n := range doc.Nodes {
		removeComments(n)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())

	headings := doc.Find(headingSelector)
	if headings.Length() == 0 {
		return sectionWithoutHeadings(raw, pageURL, title, minChars)
	}

	var sections []Section
	headings.Each(func(_ int, h *goquery.Selection) {
		heading := normalizeWhitespace(h.Text())
		if heading == "" {
			return
		}

		var sb strings.Builder
		h.NextUntil(headingSelector).Each(func(_ int, s *goquery.Selection) {
			if frag, err := goquery.OuterHtml(s); err == nil {
				sb.WriteString(frag)
			}
		})

		body, err := htmltomarkdown.ConvertString(sb.String())
		if err != nil {
			return
		}
		body = strings.TrimSpace(body)
		if len(body) < minChars {
			return
		}
		sections = append(sections, Section{Heading: heading, Body: body})
	})

	return title, sections, nil
}

// sectionWithoutHeadings extracts the readable body of a heading-less page
// as a single section.
func sectionWithoutHeadings(raw []byte, pageURL, title string, minChars int) (string, []Section, error) {
	var u *url.URL
	if pageURL != "" {
		u, _ = url.Parse(pageURL)
	}

	article, err := readability.FromReader(bytes.NewReader(raw), u)
	if err != nil {
		return title, nil, nil // unreadable page yields zero sections, not an error
	}

	if title == "" {
		title = strings.TrimSpace(article.Title)
	}
	body := normalizeWhitespace(article.TextContent)
	if len(body) < minChars {
		return title, nil, nil
	}
	return title, []Section{{Heading: title, Body: body}}, nil
}

// markdownHeadingRe matches markdown h1–h4 lines.
var markdownHeadingRe = regexp.MustCompile(`^#{1,4}\s+(.+)$`)

// SectionMarkdown segments markdown (as returned by the PDF parser) by its
// h1–h4 headings, with the same minimum-body rule as HTML sectioning.
// Content before the first heading becomes a preamble section.
func SectionMarkdown(markdown string, minChars int) []Section {
	if minChars <= 0 {
		minChars = MinSectionChars
	}

	var sections []Section
	current := Section{}
	var body strings.Builder

	flush := func() {
		text := strings.TrimSpace(body.String())
		if len(text) >= minChars {
			current.Body = text
			sections = append(sections, current)
		}
		body.Reset()
	}

	for _, line := range strings.Split(markdown, "\n") {
		if m := markdownHeadingRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			flush()
			current = Section{Heading: strings.TrimSpace(m[1])}
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	flush()

	return sections
}

// removeComments strips HTML comment nodes in place.
func removeComments(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if c.Type == html.CommentNode {
			n.RemoveChild(c)
			continue
		}
		removeComments(c)
	}
}

var whitespaceRe = regexp.MustCompile(`[ \t]+`)
var blankLinesRe = regexp.MustCompile(`\n{3,}`)

// normalizeWhitespace collapses runs of spaces and excess blank lines.
func normalizeWhitespace(s string) string {
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Image is one illustrative figure found in an HTML document. Caption comes
// from alt text or an enclosing figcaption.
type Image struct {
	URL     string
	Caption string
}

// ExtractImages collects captioned images from an HTML document. Images
// without any caption text are skipped: an uncaptioned figure cannot be
// embedded or cited. Relative URLs are resolved against pageURL.
func ExtractImages(raw []byte, pageURL string) []Image {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil
	}
	doc.Find(boilerplateSelector).Remove()

	base, _ := url.Parse(pageURL)

	var images []Image
	seen := make(map[string]bool)
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok || src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		caption := strings.TrimSpace(img.AttrOr("alt", ""))
		if caption == "" {
			caption = normalizeWhitespace(img.Closest("figure").Find("figcaption").Text())
		}
		if caption == "" {
			return
		}

		resolved := src
		if base != nil {
			if ref, err := url.Parse(src); err == nil {
				resolved = base.ResolveReference(ref).String()
			}
		}
		if seen[resolved] {
			return
		}
		seen[resolved] = true
		images = append(images, Image{URL: resolved, Caption: caption})
	})
	return images
}
