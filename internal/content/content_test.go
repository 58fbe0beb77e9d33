package content

import (
	"context"
	"errors"
	"testing"
)

func TestCleanedTextKey(t *testing.T) {
	cases := []struct {
		name        string
		mediaType   string
		segmentType string
		number      int
		want        string
	}{
		{
			name:        "novel chapter",
			mediaType:   "novel",
			segmentType: "chapter",
			number:      12,
			want:        "derived/novel/work-1/ed-1/chapter-0012/cleaned.txt",
		},
		{
			name:        "anime episode",
			mediaType:   "anime",
			segmentType: "episode",
			number:      3,
			want:        "derived/anime/work-1/ed-1/episode-0003/cleaned.txt",
		},
		{
			name:        "wide number",
			mediaType:   "manhwa",
			segmentType: "chapter",
			number:      12345,
			want:        "derived/manhwa/work-1/ed-1/chapter-12345/cleaned.txt",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CleanedTextKey(tc.mediaType, "work-1", "ed-1", tc.segmentType, tc.number)
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFSStoreRoundtrip(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}
	ctx := context.Background()
	key := "derived/novel/w/e/chapter-0001/cleaned.txt"

	if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	ok, err := s.Exists(ctx, key)
	if err != nil || ok {
		t.Fatalf("Exists before put = %v, %v", ok, err)
	}

	if err := s.Put(ctx, key, []byte("cleaned text"), "text/plain; charset=utf-8"); err != nil {
		t.Fatalf("put: %v", err)
	}
	data, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "cleaned text" {
		t.Fatalf("roundtrip mismatch: %q", data)
	}
	ok, err = s.Exists(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Exists after put = %v, %v", ok, err)
	}

	// Overwrite with equivalent bytes is safe.
	if err := s.Put(ctx, key, []byte("cleaned text"), "text/plain; charset=utf-8"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
}

func TestFSStoreRespectsContext(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Get(ctx, "any"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
