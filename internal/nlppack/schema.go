package nlppack

// SchemaName identifies the structured output format to the model backend.
const SchemaName = "nlp_pack_v1"

func stringList(description string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": description,
	}
}

// OutputSchema is the JSON schema for the NLP pack output. It is sent to
// the model for guided decoding and compiled locally for validation.
var OutputSchema = map[string]any{
	"type":     "object",
	"required": []string{"cleaned_text", "segment_summary", "segment_entities"},
	"properties": map[string]any{
		"cleaned_text": map[string]any{
			"type":        "string",
			"description": "Cleaned, deduped text with watermarks/boilerplate removed",
		},
		"segment_summary": map[string]any{
			"type":     "object",
			"required": []string{"summary", "summary_short", "events"},
			"properties": map[string]any{
				"summary": map[string]any{
					"type":        "string",
					"description": "Full narrative summary of what happened",
				},
				"summary_short": map[string]any{
					"type":        "string",
					"description": "1-2 sentence headline summary",
				},
				"events": stringList("Chronological list of key events"),
				"beats": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"type":        map[string]any{"type": "string"},
							"description": map[string]any{"type": "string"},
						},
					},
					"description": "Story beat objects (setup/conflict/twist/resolution)",
				},
				"key_dialogue": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type":     "object",
						"required": []string{"speaker", "text"},
						"properties": map[string]any{
							"speaker":    map[string]any{"type": "string"},
							"to":         map[string]any{"type": "string"},
							"text":       map[string]any{"type": "string"},
							"importance": map[string]any{"type": "string"},
						},
					},
					"description": "Important quotes with speaker and optional target",
				},
				"tone": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"primary":   map[string]any{"type": "string"},
						"secondary": stringList("Secondary tones"),
						"intensity": map[string]any{"type": "number"},
					},
				},
			},
		},
		"segment_entities": map[string]any{
			"type":     "object",
			"required": []string{"characters", "locations", "keywords"},
			"properties": map[string]any{
				"characters": stringList("Named characters appearing"),
				"locations":  stringList("Places mentioned"),
				"items":      stringList("Significant objects"),
				"time_refs":  stringList("Temporal references"),
				"time_context": map[string]any{
					"type":        "string",
					"description": "Temporal framing of the segment",
				},
				"organizations": stringList("Groups/institutions"),
				"factions":      stringList("Competing groups"),
				"titles_ranks":  stringList("Titles or ranks mentioned"),
				"skills":        stringList("Abilities/powers"),
				"creatures":     stringList("Non-human entities"),
				"concepts":      stringList("Abstract concepts important to the story"),
				"relationships": stringList("Connections between characters"),
				"emotions":      stringList("Emotional themes"),
				"keywords":      stringList("Important terms"),
			},
		},
		"character_updates": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []string{"name", "aliases", "character_facts"},
				"properties": map[string]any{
					"name":    map[string]any{"type": "string"},
					"aliases": stringList("Alternate names/titles used"),
					"character_facts": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type":     "object",
							"required": []string{"fact"},
							"properties": map[string]any{
								"fact":    map[string]any{"type": "string"},
								"chapter": map[string]any{"type": "string"},
							},
						},
					},
					"description": map[string]any{"type": "string"},
				},
			},
			"description": "Character updates (only for novel segments)",
		},
	},
}
