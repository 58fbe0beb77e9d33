package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// NovelExtractor pulls story paragraphs out of scraped chapter HTML,
// dropping navigation, ads, and translator boilerplate.
type NovelExtractor struct{}

var removeTags = map[string]struct{}{
	"script": {}, "style": {}, "nav": {}, "footer": {}, "header": {},
	"aside": {}, "noscript": {}, "iframe": {}, "form": {}, "button": {},
	"input": {}, "select": {}, "textarea": {}, "svg": {}, "canvas": {},
	"video": {}, "audio": {}, "figure": {}, "figcaption": {}, "meta": {},
	"link": {},
}

var (
	junkClassRe    = regexp.MustCompile(`(?i)(ad|sidebar|widget|social|share|comment|footer|header|nav|menu)`)
	contentClassRe = regexp.MustCompile(`(?i)(content|chapter|reading|text|entry|article|post-content)`)
	whitespaceRe   = regexp.MustCompile(`\s+`)

	boilerplateRe = regexp.MustCompile(strings.Join([]string{
		`(?i)chapter\s+\d+\s*[-:]\s*$`,
		`(?i)^advertisement$`,
		`(?i)^sponsored\s+content$`,
		`(?i)^please\s+support\s+us`,
		`(?i)^join\s+our\s+discord`,
		`(?i)^read\s+more\s+at`,
		`(?i)^translator[:\s]`,
		`(?i)^editor[:\s]`,
		`(?i)^proofreader[:\s]`,
		`(?i)^tip\s+jar`,
		`(?i)^patreon`,
		`(?i)^ko-?fi`,
		`(?i)^copyright\s+\d{4}`,
		`(?i)all\s+rights\s+reserved`,
		`(?i)^next\s+chapter`,
		`(?i)^previous\s+chapter`,
		`(?i)^table\s+of\s+contents`,
		`(?i)^loading`,
		`(?i)^comments?\s*\(\d+\)`,
	}, "|"))
)

// MediaType implements Extractor.
func (e *NovelExtractor) MediaType() string { return MediaNovel }

// Extract implements Extractor. The first source is the chapter HTML.
func (e *NovelExtractor) Extract(sources []Source) (string, Stats, error) {
	stats := Stats{MediaType: MediaNovel}
	if len(sources) == 0 {
		return "", stats, errors.New("no html source")
	}

	doc, err := html.Parse(strings.NewReader(string(sources[0].Data)))
	if err != nil {
		return "", stats, fmt.Errorf("parse html: %w", err)
	}

	prune(doc)
	content := findContentArea(doc)
	if content == nil {
		content = doc
	}

	var paragraphs []string
	collectParagraphs(content, &paragraphs)
	cleaned := cleanParagraphs(paragraphs)
	stats.ParagraphCount = len(cleaned)

	if len(cleaned) == 0 {
		return "", stats, errors.New("no story text found in html")
	}
	return strings.Join(cleaned, "\n\n"), stats, nil
}

// prune removes non-content elements in place.
func prune(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if c.Type == html.ElementNode {
			if _, drop := removeTags[c.Data]; drop || junkClassRe.MatchString(nodeClass(c)) {
				n.RemoveChild(c)
				continue
			}
		}
		prune(c)
	}
}

// findContentArea locates the main story container: a node whose class
// looks like reading content, else article/main/body.
func findContentArea(doc *html.Node) *html.Node {
	if n := findNode(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && contentClassRe.MatchString(nodeClass(n))
	}); n != nil {
		return n
	}
	for _, tag := range []string{"article", "main", "body"} {
		if n := findNode(doc, func(n *html.Node) bool {
			return n.Type == html.ElementNode && n.Data == tag
		}); n != nil {
			return n
		}
	}
	return nil
}

func findNode(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, match); found != nil {
			return found
		}
	}
	return nil
}

// collectParagraphs gathers text from leaf p/div elements (those with no
// nested p/div, which are containers rather than paragraphs).
func collectParagraphs(n *html.Node, out *[]string) {
	if n.Type == html.ElementNode && (n.Data == "p" || n.Data == "div") {
		if !hasBlockChild(n) {
			text := strings.TrimSpace(nodeText(n))
			if len(text) > 10 {
				*out = append(*out, text)
			}
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectParagraphs(c, out)
	}
}

func hasBlockChild(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.Data == "p" || c.Data == "div") {
			return true
		}
		if hasBlockChild(c) {
			return true
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return whitespaceRe.ReplaceAllString(b.String(), " ")
}

func nodeClass(n *html.Node) string {
	for _, attr := range n.Attr {
		if attr.Key == "class" || attr.Key == "id" {
			return attr.Val
		}
	}
	return ""
}

// cleanParagraphs dedupes paragraphs and drops boilerplate lines.
func cleanParagraphs(paragraphs []string) []string {
	var cleaned []string
	seen := make(map[string]struct{})

	for _, para := range paragraphs {
		para = strings.TrimSpace(whitespaceRe.ReplaceAllString(para, " "))
		if para == "" || boilerplateRe.MatchString(para) {
			continue
		}
		if len(para) < 20 && !containsLetter(para) {
			continue
		}
		normalized := strings.ToLower(para)
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		cleaned = append(cleaned, para)
	}
	return cleaned
}

func containsLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
