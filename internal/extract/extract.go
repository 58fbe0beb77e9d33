// Package extract turns raw story content (subtitles, HTML, OCR JSON) into
// plain text for inference. Extraction failure is content-fatal: malformed
// input does not get retried or repaired against the model.
package extract

import (
	"fmt"
)

// Media types handled by the pipeline.
const (
	MediaAnime  = "anime"
	MediaNovel  = "novel"
	MediaManhwa = "manhwa"
)

// Source is one raw input document with its content-store key.
type Source struct {
	Key  string
	Data []byte
}

// Stats describes what was extracted, reported in job output.
type Stats struct {
	MediaType      string `json:"media_type"`
	PageCount      int    `json:"page_count,omitempty"`
	ParagraphCount int    `json:"paragraph_count,omitempty"`
	SubtitleBlocks int    `json:"subtitle_blocks,omitempty"`
}

// Extractor produces plain text from raw sources for one media type.
type Extractor interface {
	MediaType() string
	Extract(sources []Source) (string, Stats, error)
}

// RawAssetType maps a media type to the asset type carrying its raw content.
func RawAssetType(mediaType string) (string, error) {
	switch mediaType {
	case MediaAnime:
		return "raw_subtitle", nil
	case MediaNovel:
		return "raw_html", nil
	case MediaManhwa:
		return "ocr_json", nil
	default:
		return "", fmt.Errorf("unknown media type %q", mediaType)
	}
}

// ForMediaType returns the extractor for a media type.
func ForMediaType(mediaType string) (Extractor, error) {
	switch mediaType {
	case MediaAnime:
		return &SubtitleExtractor{}, nil
	case MediaNovel:
		return &NovelExtractor{}, nil
	case MediaManhwa:
		return &OCRExtractor{}, nil
	default:
		return nil, fmt.Errorf("unknown media type %q", mediaType)
	}
}
