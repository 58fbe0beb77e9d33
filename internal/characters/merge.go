// Package characters folds per-segment character extractions into the
// per-work roster. Matching is tolerant (aliases, accents, small typos) so
// the roster does not fracture into near-duplicate entries, and writes use
// the ledger's version check so concurrent workers never drop each other's
// facts.
package characters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/chapterbridge/packworker/internal/ledger"
	"github.com/chapterbridge/packworker/internal/nlppack"
)

// maxFuzzyDistance is the levenshtein budget for treating two names as the
// same character. Kept small: "Jinwoo"/"Jin-woo" should match, "Jinho"
// should not.
const maxFuzzyDistance = 2

// minFuzzyLength guards short names from fuzzy matching entirely; at 4
// runes or fewer a 2-edit distance reaches unrelated names.
const minFuzzyLength = 5

// conflictRetries bounds re-read-and-re-merge attempts after a version
// conflict. Conflicts only happen when another worker just wrote the same
// record, so a couple of retries is plenty.
const conflictRetries = 3

// boilerplateDescriptions are placeholder values the model emits when it has
// nothing to say; any real description beats them.
var boilerplateDescriptions = map[string]struct{}{
	"":                     {},
	"unknown":              {},
	"n/a":                  {},
	"none":                 {},
	"no description":       {},
	"to be determined":     {},
	"main character":       {},
	"protagonist":          {},
	"antagonist":           {},
	"supporting character": {},
}

// Store is the roster persistence the merger needs.
type Store interface {
	ListWorkCharacters(ctx context.Context, workID string) ([]*ledger.CharacterRecord, error)
	GetCharacter(ctx context.Context, id string) (*ledger.CharacterRecord, error)
	InsertCharacter(ctx context.Context, rec *ledger.CharacterRecord) error
	UpdateCharacter(ctx context.Context, rec *ledger.CharacterRecord) error
}

// Summary reports what a merge did, for job output.
type Summary struct {
	Inserted int `json:"characters_inserted"`
	Updated  int `json:"characters_updated"`
	Skipped  int `json:"characters_skipped"`
}

// Merger applies character updates from one segment to the work roster.
type Merger struct {
	store        Store
	modelVersion string
	logger       *slog.Logger
}

// NewMerger returns a merger stamping facts with the given model version.
func NewMerger(store Store, modelVersion string, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{store: store, modelVersion: modelVersion, logger: logger}
}

// Merge folds updates into the roster for workID. segmentLabel tags new
// facts with their provenance (e.g. "chapter 12") when the model did not
// supply a chapter reference; segmentNumber is stored alongside for sorting.
// Updates that add nothing are counted as skipped, not rewritten.
func (m *Merger) Merge(ctx context.Context, workID, segmentLabel string, segmentNumber int, updates []nlppack.CharacterUpdate) (Summary, error) {
	var sum Summary
	if len(updates) == 0 {
		return sum, nil
	}

	roster, err := m.store.ListWorkCharacters(ctx, workID)
	if err != nil {
		return sum, fmt.Errorf("load roster: %w", err)
	}

	for _, upd := range updates {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		name := strings.TrimSpace(upd.Name)
		if normalizeName(name) == "" {
			sum.Skipped++
			continue
		}

		match := findMatch(roster, upd)
		if match == nil {
			rec := newRecord(workID, name, upd, segmentLabel, segmentNumber, m.modelVersion)
			if err := m.store.InsertCharacter(ctx, rec); err != nil {
				return sum, fmt.Errorf("insert character %q: %w", name, err)
			}
			roster = append(roster, rec)
			sum.Inserted++
			m.logger.Debug("character inserted", "work_id", workID, "name", name)
			continue
		}

		updated, err := m.applyWithRetry(ctx, match, upd, segmentLabel, segmentNumber)
		if err != nil {
			return sum, fmt.Errorf("update character %q: %w", match.Name, err)
		}
		if updated {
			sum.Updated++
		} else {
			sum.Skipped++
		}
	}
	return sum, nil
}

// applyWithRetry merges upd into rec and writes it, re-reading and
// re-merging on version conflict so a concurrent worker's changes survive.
func (m *Merger) applyWithRetry(ctx context.Context, rec *ledger.CharacterRecord, upd nlppack.CharacterUpdate, segmentLabel string, segmentNumber int) (bool, error) {
	for attempt := 0; ; attempt++ {
		changed := applyUpdate(rec, upd, segmentLabel, segmentNumber, m.modelVersion)
		if !changed {
			return false, nil
		}
		err := m.store.UpdateCharacter(ctx, rec)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, ledger.ErrVersionConflict) || attempt >= conflictRetries {
			return false, err
		}
		m.logger.Debug("character version conflict, re-merging",
			"character_id", rec.ID, "attempt", attempt+1)
		fresh, err := m.store.GetCharacter(ctx, rec.ID)
		if err != nil {
			return false, fmt.Errorf("re-read after conflict: %w", err)
		}
		*rec = *fresh
	}
}

// findMatch locates the roster entry an update refers to: exact name or
// alias match in either direction first, then a small-edit fuzzy match on
// the canonical names.
func findMatch(roster []*ledger.CharacterRecord, upd nlppack.CharacterUpdate) *ledger.CharacterRecord {
	updNames := make(map[string]struct{})
	updNames[normalizeName(upd.Name)] = struct{}{}
	for _, a := range upd.Aliases {
		if n := normalizeName(a); n != "" {
			updNames[n] = struct{}{}
		}
	}

	for _, rec := range roster {
		recNames := []string{normalizeName(rec.Name)}
		for _, a := range rec.Aliases {
			if n := normalizeName(a); n != "" {
				recNames = append(recNames, n)
			}
		}
		for _, rn := range recNames {
			if _, ok := updNames[rn]; ok {
				return rec
			}
		}
	}

	target := normalizeName(upd.Name)
	if len([]rune(target)) < minFuzzyLength {
		return nil
	}
	var (
		best     *ledger.CharacterRecord
		bestDist = maxFuzzyDistance + 1
	)
	for _, rec := range roster {
		candidate := normalizeName(rec.Name)
		if len([]rune(candidate)) < minFuzzyLength {
			continue
		}
		if d := levenshtein.ComputeDistance(target, candidate); d < bestDist {
			best, bestDist = rec, d
		}
	}
	if bestDist <= maxFuzzyDistance {
		return best
	}
	return nil
}

func newRecord(workID, name string, upd nlppack.CharacterUpdate, segmentLabel string, segmentNumber int, modelVersion string) *ledger.CharacterRecord {
	rec := &ledger.CharacterRecord{
		WorkID:       workID,
		Name:         name,
		Aliases:      []string{},
		Facts:        []ledger.CharacterFact{},
		Description:  strings.TrimSpace(upd.Description),
		ModelVersion: modelVersion,
	}
	applyUpdate(rec, upd, segmentLabel, segmentNumber, modelVersion)
	return rec
}

// applyUpdate merges one update into rec in place and reports whether
// anything changed. Facts dedupe on normalized text plus chapter, aliases on
// normalized form, and the description only upgrades (boilerplate replaced,
// or a substantially richer one adopted).
func applyUpdate(rec *ledger.CharacterRecord, upd nlppack.CharacterUpdate, segmentLabel string, segmentNumber int, modelVersion string) bool {
	changed := false

	known := make(map[string]struct{})
	known[normalizeName(rec.Name)] = struct{}{}
	for _, a := range rec.Aliases {
		known[normalizeName(a)] = struct{}{}
	}
	for _, alias := range upd.Aliases {
		alias = strings.TrimSpace(alias)
		n := normalizeName(alias)
		if n == "" {
			continue
		}
		if _, ok := known[n]; ok {
			continue
		}
		known[n] = struct{}{}
		rec.Aliases = append(rec.Aliases, alias)
		changed = true
	}
	// The update's name becomes an alias when it differs from the canonical
	// record name, so future segments match on either form.
	if n := normalizeName(upd.Name); n != "" {
		if _, ok := known[n]; !ok {
			rec.Aliases = append(rec.Aliases, strings.TrimSpace(upd.Name))
			changed = true
		}
	}

	seenFacts := make(map[string]struct{})
	for _, f := range rec.Facts {
		seenFacts[factKey(f.Text, f.Chapter)] = struct{}{}
	}
	for _, f := range upd.Facts {
		text := strings.TrimSpace(f.Fact)
		if text == "" {
			continue
		}
		chapter := strings.TrimSpace(f.Chapter)
		if chapter == "" {
			chapter = segmentLabel
		}
		key := factKey(text, chapter)
		if _, ok := seenFacts[key]; ok {
			continue
		}
		seenFacts[key] = struct{}{}
		rec.Facts = append(rec.Facts, ledger.CharacterFact{
			Text:    text,
			Chapter: chapter,
			Segment: segmentNumber,
			Source:  modelVersion,
		})
		changed = true
	}

	if desc := strings.TrimSpace(upd.Description); desc != "" && shouldReplaceDescription(rec.Description, desc) {
		rec.Description = desc
		changed = true
	}

	if changed && rec.ModelVersion != modelVersion {
		rec.ModelVersion = modelVersion
	}
	return changed
}

func factKey(text, chapter string) string {
	return normalizeFact(text) + "|" + normalizeName(chapter)
}

// shouldReplaceDescription keeps the richer of the two: boilerplate always
// loses, and a new description must be meaningfully longer to displace a
// real existing one.
func shouldReplaceDescription(existing, candidate string) bool {
	if _, boiler := boilerplateDescriptions[strings.ToLower(strings.TrimSpace(candidate))]; boiler {
		return false
	}
	if _, boiler := boilerplateDescriptions[strings.ToLower(strings.TrimSpace(existing))]; boiler {
		return true
	}
	if normalizeFact(existing) == normalizeFact(candidate) {
		return false
	}
	return len(candidate) > 50 && len(candidate) > len(existing)*3/2
}
