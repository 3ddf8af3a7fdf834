package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// blockElements get a line break in front so their text does not run
// together with the previous cell or paragraph
const blockElements = "p, div, br, h1, h2, h3, h4, h5, h6, li, tr, td, table"

// HTMLParser flattens HTML email bodies into plain text
type HTMLParser struct {
	spaces    *regexp.Regexp
	invisible *regexp.Regexp
}

// NewHTMLParser creates a new HTML parser
func NewHTMLParser() *HTMLParser {
	return &HTMLParser{
		spaces: regexp.MustCompile(`[^\S\n]+`),
		// Zero-width and other invisible characters used as preheader padding
		invisible: regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}\x{034F}\x{061C}\x{180E}\x{2060}-\x{2064}]+`),
	}
}

// Parse converts HTML to plain text, one non-empty line per block
func (p *HTMLParser) Parse(html string) (string, error) {
	if html == "" {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, head, title, meta, link").Remove()
	doc.Find(blockElements).Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n")
	})

	text := p.invisible.ReplaceAllString(doc.Text(), "")
	text = p.spaces.ReplaceAllString(text, " ")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	return strings.Join(lines, "\n"), nil
}
