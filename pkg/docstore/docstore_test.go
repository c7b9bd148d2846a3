package docstore

import (
	"context"
	"errors"
	"testing"

	"github.com/isopen-io/meeshy-sub000/pkg/kv"
	"github.com/isopen-io/meeshy-sub000/pkg/wire"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mem := kv.NewMemory(nil)
	t.Cleanup(func() { mem.Close() })
	return NewStore(mem)
}

func TestSetTranscription(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	d, err := s.SetTranscription(ctx, "att1", "msg1", &wire.Transcription{Text: "bonjour", Language: "fr"})
	if err != nil {
		t.Fatalf("SetTranscription: %v", err)
	}
	if d.Transcription.Text != "bonjour" || d.MessageID != "msg1" {
		t.Fatalf("doc = %+v", d)
	}
	if d.CreatedAt == 0 || d.UpdatedAt == 0 {
		t.Fatal("timestamps must be set")
	}
}

func TestUpsertTranslationPreservesOtherLanguages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.UpsertTranslation(ctx, "att1", wire.TranslatedAudio{TargetLanguage: "fr", TranslatedText: "bonjour"}); err != nil {
		t.Fatalf("upsert fr: %v", err)
	}
	if _, err := s.UpsertTranslation(ctx, "att1", wire.TranslatedAudio{TargetLanguage: "es", TranslatedText: "hola"}); err != nil {
		t.Fatalf("upsert es: %v", err)
	}
	// Re-run fr with new content.
	d, err := s.UpsertTranslation(ctx, "att1", wire.TranslatedAudio{TargetLanguage: "fr", TranslatedText: "salut"})
	if err != nil {
		t.Fatalf("upsert fr again: %v", err)
	}

	if len(d.Translations) != 2 {
		t.Fatalf("translations = %d, want 2", len(d.Translations))
	}
	if d.Translations["fr"].TranslatedText != "salut" {
		t.Fatalf("fr = %+v, want replaced entry", d.Translations["fr"])
	}
	if d.Translations["es"].TranslatedText != "hola" {
		t.Fatalf("es = %+v, must be preserved", d.Translations["es"])
	}
}

func TestTranscriptionAndTranslationsCoexist(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.UpsertTranslation(ctx, "att1", wire.TranslatedAudio{TargetLanguage: "en", TranslatedText: "hello"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := s.SetTranscription(ctx, "att1", "", &wire.Transcription{Text: "bonjour"}); err != nil {
		t.Fatalf("set transcription: %v", err)
	}

	d, err := s.Get(ctx, "att1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d.Transcription == nil || d.Translations["en"].TranslatedText != "hello" {
		t.Fatalf("doc = %+v, both parts must survive merging", d)
	}
}

func TestUpsertTranslationRequiresLanguage(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.UpsertTranslation(context.Background(), "att1", wire.TranslatedAudio{}); err == nil {
		t.Fatal("expected error for missing target language")
	}
}

func TestSoftDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.UpsertTranslation(ctx, "att1", wire.TranslatedAudio{TargetLanguage: "fr"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.SoftDelete(ctx, "att1"); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	d, err := s.Get(ctx, "att1")
	if err != nil {
		t.Fatalf("Get after soft delete: %v", err)
	}
	if !d.Deleted() {
		t.Fatal("document must be marked deleted")
	}
	if d.Translations["fr"].TargetLanguage != "fr" {
		t.Fatal("soft delete must keep stored data")
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := s.SoftDelete(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("soft delete missing = %v, want ErrNotFound", err)
	}
}
