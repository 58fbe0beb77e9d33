package extract

import (
	"errors"
	"regexp"
	"strings"
)

// SubtitleExtractor parses SRT/VTT subtitle files into dialogue text.
type SubtitleExtractor struct{}

var (
	subtitleTagRe   = regexp.MustCompile(`<[^>]+>`)
	subtitleBraceRe = regexp.MustCompile(`\{[^}]+\}`)
	subtitleNoiseRe = regexp.MustCompile(`(?i)\[MUSIC\]|\[♪[^\]]*\]|♪[^♪]*♪|\[[^\]]*PLAYING\]|\([^)]*music[^)]*\)|\[SILENCE\]`)
)

// MediaType implements Extractor.
func (e *SubtitleExtractor) MediaType() string { return MediaAnime }

// Extract implements Extractor. The first source is the subtitle file;
// format (SRT vs VTT) is detected from content.
func (e *SubtitleExtractor) Extract(sources []Source) (string, Stats, error) {
	stats := Stats{MediaType: MediaAnime}
	if len(sources) == 0 {
		return "", stats, errors.New("no subtitle source")
	}

	content := string(sources[0].Data)
	var lines []string
	if strings.HasPrefix(strings.TrimSpace(content), "WEBVTT") {
		lines = parseVTT(content)
	} else {
		lines = parseSRT(content)
	}
	stats.SubtitleBlocks = len(lines)

	cleaned := cleanDialogueLines(lines)
	if len(cleaned) == 0 {
		return "", stats, errors.New("subtitle file contains no usable dialogue")
	}
	return strings.Join(cleaned, "\n"), stats, nil
}

func parseSRT(content string) []string {
	var (
		lines       []string
		currentText []string
		inTextBlock bool
	)
	flush := func() {
		if len(currentText) > 0 {
			lines = append(lines, strings.Join(currentText, " "))
			currentText = nil
		}
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)

		if line == "" {
			flush()
			inTextBlock = false
			continue
		}
		if isAllDigits(line) {
			inTextBlock = false
			continue
		}
		if strings.Contains(line, "-->") {
			inTextBlock = true
			continue
		}
		if inTextBlock {
			if cleaned := stripSubtitleMarkup(line); cleaned != "" {
				currentText = append(currentText, cleaned)
			}
		}
	}
	flush()
	return lines
}

func parseVTT(content string) []string {
	var (
		lines       []string
		currentText []string
		inCue       bool
	)
	flush := func() {
		if len(currentText) > 0 {
			lines = append(lines, strings.Join(currentText, " "))
			currentText = nil
		}
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)

		if strings.HasPrefix(line, "WEBVTT") || strings.HasPrefix(line, "NOTE") {
			continue
		}
		if strings.Contains(line, "-->") {
			inCue = true
			continue
		}
		if line == "" {
			flush()
			inCue = false
			continue
		}
		if inCue {
			if cleaned := stripSubtitleMarkup(line); cleaned != "" {
				currentText = append(currentText, cleaned)
			}
		}
	}
	flush()
	return lines
}

func stripSubtitleMarkup(line string) string {
	line = subtitleTagRe.ReplaceAllString(line, "")
	line = subtitleBraceRe.ReplaceAllString(line, "")
	return strings.TrimSpace(line)
}

// cleanDialogueLines removes noise patterns and duplicate lines.
func cleanDialogueLines(lines []string) []string {
	var cleaned []string
	seen := make(map[string]struct{})

	for _, line := range lines {
		line = strings.TrimSpace(subtitleNoiseRe.ReplaceAllString(line, ""))
		if len(line) < 2 {
			continue
		}
		normalized := strings.ToLower(line)
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		cleaned = append(cleaned, line)
	}
	return cleaned
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
