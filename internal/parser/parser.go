package parser

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page is the text and media pulled out of one product page.
type Page struct {
	Title       string
	Text        string
	Description string
	Category    string
	Price       string
	MRP         string
	ImageURLs   []string
	Details     []Detail
}

// Detail is one row of a product-details table.
type Detail struct {
	Key   string
	Value string
}

// FullText renders the detail rows as "key: value" lines ahead of the body
// text so keyword patterns can anchor on them.
func (p *Page) FullText() string {
	if len(p.Details) == 0 {
		return p.Text
	}
	var b strings.Builder
	for _, d := range p.Details {
		b.WriteString(d.Key)
		b.WriteString(": ")
		b.WriteString(d.Value)
		b.WriteString("\n")
	}
	b.WriteString(p.Text)
	return b.String()
}

var whitespace = regexp.MustCompile(`[ \t\r\f\v\x{00a0}]+`)

// cutset strips the direction marks some marketplaces wrap table cells in.
const cutset = " :\u200e\u200f"

var blankLines = regexp.MustCompile(`\n\s*\n+`)

type Parser struct {
	maxImages int
}

func New() *Parser {
	return &Parser{maxImages: 30}
}

// Parse extracts a Page from html. baseURL resolves relative image links.
func (p *Parser) Parse(html, baseURL string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	base, _ := url.Parse(baseURL)

	page := &Page{
		Title:       p.extractTitle(doc),
		Description: p.extractDescription(doc),
		Category:    p.extractCategory(doc),
		Price:       firstText(doc, priceSelectors),
		MRP:         firstText(doc, mrpSelectors),
		Details:     p.extractDetails(doc),
		ImageURLs:   p.extractImages(doc, base),
	}
	page.Text = p.extractText(doc)

	return page, nil
}

func (p *Parser) extractTitle(doc *goquery.Document) string {
	if v, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(v) != "" {
		return clean(v)
	}
	if t := firstText(doc, titleSelectors); t != "" {
		return t
	}
	return clean(doc.Find("title").First().Text())
}

func (p *Parser) extractDescription(doc *goquery.Document) string {
	var parts []string
	doc.Find(strings.Join(descriptionSelectors, ", ")).Each(func(i int, s *goquery.Selection) {
		if t := clean(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		if v, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
			return clean(v)
		}
	}
	return strings.Join(parts, "\n")
}

func (p *Parser) extractCategory(doc *goquery.Document) string {
	for _, sel := range breadcrumbSelectors {
		var crumbs []string
		doc.Find(sel).Each(func(i int, s *goquery.Selection) {
			if t := clean(s.Text()); t != "" && t != "›" && t != ">" {
				crumbs = append(crumbs, t)
			}
		})
		if len(crumbs) > 0 {
			return strings.Join(crumbs, " > ")
		}
	}
	return ""
}

func (p *Parser) extractDetails(doc *goquery.Document) []Detail {
	var details []Detail
	seen := make(map[string]bool)

	add := func(key, value string) {
		key = strings.Trim(clean(key), cutset)
		value = strings.Trim(clean(value), cutset)
		if key == "" || value == "" || seen[strings.ToLower(key)] {
			return
		}
		seen[strings.ToLower(key)] = true
		details = append(details, Detail{Key: key, Value: value})
	}

	doc.Find(strings.Join(detailTableSelectors, ", ")).Find("tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("th, td")
		if cells.Length() >= 2 {
			add(cells.Eq(0).Text(), cells.Eq(1).Text())
		}
	})

	doc.Find("#detailBullets_feature_div li").Each(func(i int, li *goquery.Selection) {
		spans := li.Find("span > span")
		if spans.Length() >= 2 {
			add(spans.Eq(0).Text(), spans.Eq(1).Text())
		}
	})

	return details
}

func (p *Parser) extractText(doc *goquery.Document) string {
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	body = body.Clone()
	body.Find("script, style, noscript, template, svg, iframe").Remove()

	// Block elements get a newline so adjacent cells do not run together.
	body.Find("p, div, li, tr, br, h1, h2, h3, h4, h5, h6, td, th").Each(func(i int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	text := whitespace.ReplaceAllString(body.Text(), " ")
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return blankLines.ReplaceAllString(strings.Join(out, "\n"), "\n")
}

func (p *Parser) extractImages(doc *goquery.Document, base *url.URL) []string {
	var images []string
	seen := make(map[string]bool)

	add := func(raw string) {
		if len(images) >= p.maxImages {
			return
		}
		u := resolve(raw, base)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		images = append(images, u)
	}

	doc.Find(`meta[property="og:image"]`).Each(func(i int, s *goquery.Selection) {
		if v, ok := s.Attr("content"); ok {
			add(v)
		}
	})

	doc.Find("img").Each(func(i int, s *goquery.Selection) {
		if v, ok := s.Attr("data-a-dynamic-image"); ok {
			var m map[string]json.RawMessage
			if json.Unmarshal([]byte(v), &m) == nil {
				keys := make([]string, 0, len(m))
				for k := range m {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					add(k)
				}
			}
		}
		for _, attr := range imageAttrs {
			if v, ok := s.Attr(attr); ok {
				add(v)
			}
		}
	})

	return images
}

func resolve(raw string, base *url.URL) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "data:") {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if !u.IsAbs() && base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if t := clean(doc.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

func clean(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(strings.ReplaceAll(s, "\n", " "), " "))
}
