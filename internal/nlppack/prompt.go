package nlppack

import (
	"bytes"
	_ "embed"
	"text/template"
)

//go:embed system.tmpl
var systemPromptTmpl string

//go:embed user.tmpl
var userPromptTmpl string

var (
	systemTemplate = template.Must(template.New("system").Parse(systemPromptTmpl))
	userTemplate   = template.Must(template.New("user").Parse(userPromptTmpl))
)

// CharacterUpdatesInScope reports whether character_updates are produced
// for a media type. Character rosters are only maintained for novels.
func CharacterUpdatesInScope(mediaType string) bool {
	return mediaType == "novel"
}

// SystemPrompt builds the system prompt for a media type.
func SystemPrompt(mediaType string) string {
	var buf bytes.Buffer
	data := struct {
		MediaType         string
		IncludeCharacters bool
	}{
		MediaType:         mediaType,
		IncludeCharacters: CharacterUpdatesInScope(mediaType),
	}
	if err := systemTemplate.Execute(&buf, data); err != nil {
		return systemPromptTmpl
	}
	return buf.String()
}

// UserPrompt builds the user prompt around the extracted source text.
func UserPrompt(mediaType, sourceText string) string {
	var buf bytes.Buffer
	data := struct {
		MediaType  string
		SourceText string
	}{MediaType: mediaType, SourceText: sourceText}
	if err := userTemplate.Execute(&buf, data); err != nil {
		return userPromptTmpl
	}
	return buf.String()
}
