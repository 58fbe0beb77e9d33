package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// OCRExtractor aggregates per-page OCR JSON documents into one reading-order
// text with page markers.
type OCRExtractor struct{}

var (
	pageNumRe     = regexp.MustCompile(`(?i)page[-_]?(\d+)`)
	jsonPageNumRe = regexp.MustCompile(`(\d+)\.json$`)
)

// MediaType implements Extractor.
func (e *OCRExtractor) MediaType() string { return MediaManhwa }

// Extract implements Extractor. Each source is one page's OCR JSON; pages
// are ordered by the page number embedded in their keys.
func (e *OCRExtractor) Extract(sources []Source) (string, Stats, error) {
	stats := Stats{MediaType: MediaManhwa, PageCount: len(sources)}
	if len(sources) == 0 {
		return "", stats, errors.New("no ocr sources")
	}

	type page struct {
		num   int
		lines []string
	}
	var pages []page

	for _, src := range sources {
		var doc any
		if err := json.Unmarshal(src.Data, &doc); err != nil {
			// A single corrupt page is skipped, not fatal for the chapter.
			continue
		}
		lines := ocrLines(doc)
		if len(lines) > 0 {
			pages = append(pages, page{num: pageNumber(src.Key), lines: lines})
		}
	}

	if len(pages) == 0 {
		return "", stats, errors.New("no usable text in ocr pages")
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].num < pages[j].num })

	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		parts = append(parts, fmt.Sprintf("[PAGE %04d]\n%s", p.num, strings.Join(p.lines, "\n")))
	}
	return strings.Join(parts, "\n\n"), stats, nil
}

// pageNumber extracts the page index from a content-store key.
func pageNumber(key string) int {
	if m := pageNumRe.FindStringSubmatch(key); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	if m := jsonPageNumRe.FindStringSubmatch(key); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}

// ocrLines extracts text lines from the common OCR output shapes:
// {"lines":[{"text":...}]}, {"blocks":[{"lines":[...]}]}, {"text":...},
// {"words":[...]}, or a bare array of line objects/strings.
func ocrLines(doc any) []string {
	var lines []string

	appendText := func(v any) {
		switch t := v.(type) {
		case string:
			lines = append(lines, t)
		case map[string]any:
			if s, ok := t["text"].(string); ok {
				lines = append(lines, s)
			}
		}
	}

	switch d := doc.(type) {
	case []any:
		for _, item := range d {
			appendText(item)
		}
	case map[string]any:
		switch {
		case d["lines"] != nil:
			if arr, ok := d["lines"].([]any); ok {
				for _, line := range arr {
					appendText(line)
				}
			}
		case d["blocks"] != nil:
			if blocks, ok := d["blocks"].([]any); ok {
				for _, b := range blocks {
					block, ok := b.(map[string]any)
					if !ok {
						continue
					}
					if inner, ok := block["lines"].([]any); ok {
						for _, line := range inner {
							appendText(line)
						}
					} else {
						appendText(block)
					}
				}
			}
		case d["text"] != nil:
			switch t := d["text"].(type) {
			case string:
				lines = append(lines, strings.Split(t, "\n")...)
			case []any:
				for _, line := range t {
					appendText(line)
				}
			}
		case d["words"] != nil:
			if arr, ok := d["words"].([]any); ok {
				var words []string
				for _, w := range arr {
					switch t := w.(type) {
					case string:
						words = append(words, t)
					case map[string]any:
						if s, ok := t["text"].(string); ok {
							words = append(words, s)
						}
					}
				}
				if len(words) > 0 {
					lines = append(lines, strings.Join(words, " "))
				}
			}
		}
	}

	cleaned := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return cleaned
}
