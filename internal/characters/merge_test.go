package characters

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/chapterbridge/packworker/internal/ledger"
	"github.com/chapterbridge/packworker/internal/nlppack"
)

const testModelVersion = "qwen2.5-7b-awq_nlp_pack_v1"

func newTestMerger(t *testing.T) (*Merger, *ledger.Store) {
	t.Helper()
	store, err := ledger.Open("sqlite", filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewMerger(store, testModelVersion, nil), store
}

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Sung Jinwoo", "sung jinwoo"},
		{"  SUNG   JINWOO  ", "sung jinwoo"},
		{"Chae Ha-In", "chae ha-in"},
		{"Gérard", "gerard"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := normalizeName(tc.in); got != tc.want {
			t.Errorf("normalizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMergeInsertsNewCharacter(t *testing.T) {
	m, store := newTestMerger(t)
	ctx := context.Background()

	sum, err := m.Merge(ctx, "work-1", "chapter 1", 1, []nlppack.CharacterUpdate{{
		Name:        "Sung Jinwoo",
		Aliases:     []string{"Shadow Monarch"},
		Facts:       []nlppack.UpdateFact{{Fact: "Awakened as the weakest E-rank hunter."}},
		Description: "A hunter who gains the ability to level up without limit.",
	}})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if sum.Inserted != 1 || sum.Updated != 0 {
		t.Fatalf("summary = %+v, want 1 insert", sum)
	}

	roster, err := store.ListWorkCharacters(ctx, "work-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(roster) != 1 {
		t.Fatalf("roster size = %d, want 1", len(roster))
	}
	rec := roster[0]
	if rec.Name != "Sung Jinwoo" || rec.Version != 1 {
		t.Errorf("unexpected record: name=%q version=%d", rec.Name, rec.Version)
	}
	if len(rec.Aliases) != 1 || rec.Aliases[0] != "Shadow Monarch" {
		t.Errorf("aliases = %v", rec.Aliases)
	}
	if len(rec.Facts) != 1 || rec.Facts[0].Chapter != "chapter 1" || rec.Facts[0].Segment != 1 {
		t.Errorf("facts = %+v", rec.Facts)
	}
	if rec.Facts[0].Source != testModelVersion {
		t.Errorf("fact source = %q", rec.Facts[0].Source)
	}
}

func TestMergeMatchesByAlias(t *testing.T) {
	m, store := newTestMerger(t)
	ctx := context.Background()

	if _, err := m.Merge(ctx, "work-1", "chapter 1", 1, []nlppack.CharacterUpdate{{
		Name:    "Sung Jinwoo",
		Aliases: []string{"Shadow Monarch"},
		Facts:   []nlppack.UpdateFact{{Fact: "Cleared the double dungeon."}},
	}}); err != nil {
		t.Fatalf("first merge: %v", err)
	}

	// Later segment refers to him only by alias.
	sum, err := m.Merge(ctx, "work-1", "chapter 5", 5, []nlppack.CharacterUpdate{{
		Name:  "Shadow Monarch",
		Facts: []nlppack.UpdateFact{{Fact: "Commanded an army of shadows."}},
	}})
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if sum.Inserted != 0 || sum.Updated != 1 {
		t.Fatalf("summary = %+v, want 1 update", sum)
	}

	roster, _ := store.ListWorkCharacters(ctx, "work-1")
	if len(roster) != 1 {
		t.Fatalf("roster fractured: %d entries", len(roster))
	}
	if len(roster[0].Facts) != 2 {
		t.Errorf("facts = %+v, want 2", roster[0].Facts)
	}
}

func TestMergeFuzzyMatch(t *testing.T) {
	m, store := newTestMerger(t)
	ctx := context.Background()

	seed := []nlppack.CharacterUpdate{{Name: "Cha Hae-In"}}
	if _, err := m.Merge(ctx, "work-1", "chapter 1", 1, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Romanization drift within the edit budget.
	sum, err := m.Merge(ctx, "work-1", "chapter 2", 2, []nlppack.CharacterUpdate{{
		Name:  "Cha Hae In",
		Facts: []nlppack.UpdateFact{{Fact: "Sensed no mana scent from him."}},
	}})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if sum.Inserted != 0 {
		t.Fatalf("fuzzy match failed, summary = %+v", sum)
	}

	roster, _ := store.ListWorkCharacters(ctx, "work-1")
	if len(roster) != 1 {
		t.Fatalf("roster size = %d, want 1", len(roster))
	}

	// A genuinely different name must not fuzzy-match.
	sum, err = m.Merge(ctx, "work-1", "chapter 2", 2, []nlppack.CharacterUpdate{{Name: "Jinho"}})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if sum.Inserted != 1 {
		t.Fatalf("short name was fuzzy-matched, summary = %+v", sum)
	}
}

func TestMergeDedupesFacts(t *testing.T) {
	m, store := newTestMerger(t)
	ctx := context.Background()

	upd := []nlppack.CharacterUpdate{{
		Name: "Sung Jinwoo",
		Facts: []nlppack.UpdateFact{
			{Fact: "Became S-rank."},
			{Fact: "became S-rank"},
		},
	}}
	if _, err := m.Merge(ctx, "work-1", "chapter 10", 10, upd); err != nil {
		t.Fatalf("merge: %v", err)
	}

	// Replaying the same segment adds nothing and is reported as skipped.
	sum, err := m.Merge(ctx, "work-1", "chapter 10", 10, upd)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if sum.Updated != 0 || sum.Skipped != 1 {
		t.Fatalf("replay summary = %+v, want skip", sum)
	}

	roster, _ := store.ListWorkCharacters(ctx, "work-1")
	if got := len(roster[0].Facts); got != 1 {
		t.Errorf("facts = %d, want 1 after dedupe", got)
	}
	if roster[0].Version != 1 {
		t.Errorf("no-op replay bumped version to %d", roster[0].Version)
	}

	// Same fact from a different chapter is new provenance, kept.
	if _, err := m.Merge(ctx, "work-1", "chapter 11", 11, []nlppack.CharacterUpdate{{
		Name:  "Sung Jinwoo",
		Facts: []nlppack.UpdateFact{{Fact: "Became S-rank."}},
	}}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	roster, _ = store.ListWorkCharacters(ctx, "work-1")
	if got := len(roster[0].Facts); got != 2 {
		t.Errorf("facts = %d, want 2 across chapters", got)
	}
}

func TestMergeDescriptionUpgrade(t *testing.T) {
	m, store := newTestMerger(t)
	ctx := context.Background()

	if _, err := m.Merge(ctx, "work-1", "chapter 1", 1, []nlppack.CharacterUpdate{{
		Name:        "Go Gunhee",
		Description: "unknown",
	}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := m.Merge(ctx, "work-1", "chapter 2", 2, []nlppack.CharacterUpdate{{
		Name:        "Go Gunhee",
		Description: "Chairman of the Korean Hunters Association and an aging S-rank hunter.",
	}}); err != nil {
		t.Fatalf("upgrade: %v", err)
	}

	roster, _ := store.ListWorkCharacters(ctx, "work-1")
	if roster[0].Description == "unknown" {
		t.Error("boilerplate description not replaced")
	}

	// A later boilerplate value never downgrades a real description.
	if _, err := m.Merge(ctx, "work-1", "chapter 3", 3, []nlppack.CharacterUpdate{{
		Name:        "Go Gunhee",
		Description: "n/a",
	}}); err != nil {
		t.Fatalf("downgrade attempt: %v", err)
	}
	roster, _ = store.ListWorkCharacters(ctx, "work-1")
	if roster[0].Description == "n/a" {
		t.Error("description downgraded to boilerplate")
	}
}

func TestMergeSkipsEmptyName(t *testing.T) {
	m, store := newTestMerger(t)
	sum, err := m.Merge(context.Background(), "work-1", "chapter 1", 1, []nlppack.CharacterUpdate{
		{Name: "   "},
		{Name: ""},
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if sum.Skipped != 2 || sum.Inserted != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	roster, _ := store.ListWorkCharacters(context.Background(), "work-1")
	if len(roster) != 0 {
		t.Errorf("empty names created %d records", len(roster))
	}
}

func TestMergeConcurrentWorkersKeepAllFacts(t *testing.T) {
	m, store := newTestMerger(t)
	ctx := context.Background()

	if _, err := m.Merge(ctx, "work-1", "chapter 1", 1, []nlppack.CharacterUpdate{{
		Name: "Sung Jinwoo",
	}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Two workers merge different segments for the same character. The
	// version check plus re-merge must preserve both facts.
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, seg := range []struct {
		label string
		num   int
		fact  string
	}{
		{"chapter 20", 20, "Defeated Igris."},
		{"chapter 21", 21, "Extracted his first shadow."},
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Merge(ctx, "work-1", seg.label, seg.num, []nlppack.CharacterUpdate{{
				Name:  "Sung Jinwoo",
				Facts: []nlppack.UpdateFact{{Fact: seg.fact}},
			}})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent merge: %v", err)
		}
	}

	roster, err := store.ListWorkCharacters(ctx, "work-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(roster) != 1 {
		t.Fatalf("roster size = %d, want 1", len(roster))
	}
	if got := len(roster[0].Facts); got != 2 {
		t.Fatalf("facts = %d, want 2 (lost update)", got)
	}
}
