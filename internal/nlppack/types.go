// Package nlppack defines the structured output of the NLP pack task and
// validates/repairs raw model responses against it.
package nlppack

// TimeContext is the coarse temporal framing of a segment.
type TimeContext string

const (
	TimePresent TimeContext = "present"
	TimePast    TimeContext = "past"
	TimeFuture  TimeContext = "future"
	TimeMixed   TimeContext = "mixed"
	TimeUnknown TimeContext = "unknown"
)

var validTimeContexts = map[TimeContext]struct{}{
	TimePresent: {},
	TimePast:    {},
	TimeFuture:  {},
	TimeMixed:   {},
	TimeUnknown: {},
}

// Output is the full validated NLP pack result for one segment.
type Output struct {
	CleanedText      string            `json:"cleaned_text"`
	SegmentSummary   SegmentSummary    `json:"segment_summary"`
	SegmentEntities  SegmentEntities   `json:"segment_entities"`
	CharacterUpdates []CharacterUpdate `json:"character_updates"`
}

// SegmentSummary is the narrative analysis of a segment.
type SegmentSummary struct {
	Summary      string     `json:"summary"`
	SummaryShort string     `json:"summary_short"`
	Events       []string   `json:"events"`
	Beats        []Beat     `json:"beats"`
	KeyDialogue  []Dialogue `json:"key_dialogue"`
	Tone         Tone       `json:"tone"`
}

// Beat is one story-structure beat.
type Beat struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Dialogue is an important quote with attribution.
type Dialogue struct {
	Speaker    string `json:"speaker"`
	To         string `json:"to,omitempty"`
	Text       string `json:"text"`
	Importance string `json:"importance,omitempty"`
}

// Tone is the segment's tonal analysis.
type Tone struct {
	Primary   string   `json:"primary"`
	Secondary []string `json:"secondary"`
	Intensity float64  `json:"intensity"`
}

// SegmentEntities is the entity extraction for a segment.
type SegmentEntities struct {
	Characters    []string    `json:"characters"`
	Locations     []string    `json:"locations"`
	Items         []string    `json:"items"`
	TimeRefs      []string    `json:"time_refs"`
	TimeContext   TimeContext `json:"time_context"`
	Organizations []string    `json:"organizations"`
	Factions      []string    `json:"factions"`
	TitlesRanks   []string    `json:"titles_ranks"`
	Skills        []string    `json:"skills"`
	Creatures     []string    `json:"creatures"`
	Concepts      []string    `json:"concepts"`
	Relationships []string    `json:"relationships"`
	Emotions      []string    `json:"emotions"`
	Keywords      []string    `json:"keywords"`
}

// CharacterUpdate is the per-character extraction for novel segments.
type CharacterUpdate struct {
	Name        string       `json:"name"`
	Aliases     []string     `json:"aliases"`
	Facts       []UpdateFact `json:"character_facts"`
	Description string       `json:"description,omitempty"`
}

// UpdateFact is one extracted fact, optionally carrying a chapter reference
// from the model.
type UpdateFact struct {
	Fact    string `json:"fact"`
	Chapter string `json:"chapter,omitempty"`
}

// Normalize fills nil list fields with empty slices and coerces enum fields
// to valid values. Callers must never observe "missing" vs "empty"
// ambiguity, and an out-of-set enum value should not fail an otherwise
// valid extraction.
func (o *Output) Normalize() {
	s := &o.SegmentSummary
	if s.Events == nil {
		s.Events = []string{}
	}
	if s.Beats == nil {
		s.Beats = []Beat{}
	}
	if s.KeyDialogue == nil {
		s.KeyDialogue = []Dialogue{}
	}
	if s.Tone.Secondary == nil {
		s.Tone.Secondary = []string{}
	}

	e := &o.SegmentEntities
	for _, list := range []*[]string{
		&e.Characters, &e.Locations, &e.Items, &e.TimeRefs, &e.Organizations,
		&e.Factions, &e.TitlesRanks, &e.Skills, &e.Creatures, &e.Concepts,
		&e.Relationships, &e.Emotions, &e.Keywords,
	} {
		if *list == nil {
			*list = []string{}
		}
	}
	if _, ok := validTimeContexts[e.TimeContext]; !ok {
		e.TimeContext = TimeUnknown
	}

	if o.CharacterUpdates == nil {
		o.CharacterUpdates = []CharacterUpdate{}
	}
	for i := range o.CharacterUpdates {
		cu := &o.CharacterUpdates[i]
		if cu.Aliases == nil {
			cu.Aliases = []string{}
		}
		if cu.Facts == nil {
			cu.Facts = []UpdateFact{}
		}
	}
}
