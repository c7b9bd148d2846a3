// Package docstore persists the per-attachment processing document: the
// transcription plus one translated-audio entry per target language.
// Updates merge into the stored document so that re-running one language
// never clobbers the others, and deletion is a soft marker rather than a
// destructive remove.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/isopen-io/meeshy-sub000/pkg/kv"
	"github.com/isopen-io/meeshy-sub000/pkg/wire"
)

// ErrNotFound is returned when no document exists for an attachment.
var ErrNotFound = errors.New("docstore: not found")

// Document is the stored state of one processed attachment.
type Document struct {
	AttachmentID  string                          `json:"attachmentId"`
	MessageID     string                          `json:"messageId,omitempty"`
	Transcription *wire.Transcription             `json:"transcription,omitempty"`
	Translations  map[string]wire.TranslatedAudio `json:"translations,omitempty"`
	CreatedAt     int64                           `json:"createdAt"`
	UpdatedAt     int64                           `json:"updatedAt"`
	DeletedAt     int64                           `json:"deletedAt,omitempty"`
}

// Deleted reports whether the document is soft-deleted.
func (d *Document) Deleted() bool { return d.DeletedAt != 0 }

// Store persists documents in a kv.Store.
type Store struct {
	kv  kv.Store
	now func() time.Time
}

// NewStore wraps a kv.Store.
func NewStore(store kv.Store) *Store {
	return &Store{kv: store, now: time.Now}
}

func key(attachmentID string) kv.Key {
	return kv.Key{"attachment", attachmentID}
}

// Get loads a document.
func (s *Store) Get(ctx context.Context, attachmentID string) (*Document, error) {
	data, err := s.kv.Get(ctx, key(attachmentID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("docstore: get %s: %w", attachmentID, err)
	}
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("docstore: decode %s: %w", attachmentID, err)
	}
	return &d, nil
}

// load returns the existing document or a fresh one.
func (s *Store) load(ctx context.Context, attachmentID string) (*Document, error) {
	d, err := s.Get(ctx, attachmentID)
	if errors.Is(err, ErrNotFound) {
		return &Document{
			AttachmentID: attachmentID,
			CreatedAt:    s.now().UnixMilli(),
		}, nil
	}
	return d, err
}

func (s *Store) save(ctx context.Context, d *Document) error {
	d.UpdatedAt = s.now().UnixMilli()
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("docstore: encode %s: %w", d.AttachmentID, err)
	}
	if err := s.kv.Set(ctx, key(d.AttachmentID), data); err != nil {
		return fmt.Errorf("docstore: save %s: %w", d.AttachmentID, err)
	}
	return nil
}

// SetTranscription merges a transcription into the document, leaving
// stored translations untouched.
func (s *Store) SetTranscription(ctx context.Context, attachmentID, messageID string, t *wire.Transcription) (*Document, error) {
	d, err := s.load(ctx, attachmentID)
	if err != nil {
		return nil, err
	}
	d.Transcription = t
	if messageID != "" {
		d.MessageID = messageID
	}
	if err := s.save(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// UpsertTranslation merges one language's translated audio into the
// document. Other languages are preserved; re-running a language replaces
// its prior entry.
func (s *Store) UpsertTranslation(ctx context.Context, attachmentID string, ta wire.TranslatedAudio) (*Document, error) {
	if ta.TargetLanguage == "" {
		return nil, errors.New("docstore: translation missing target language")
	}
	d, err := s.load(ctx, attachmentID)
	if err != nil {
		return nil, err
	}
	if d.Translations == nil {
		d.Translations = make(map[string]wire.TranslatedAudio)
	}
	if ta.CreatedAt == 0 {
		ta.CreatedAt = s.now().UnixMilli()
	}
	d.Translations[ta.TargetLanguage] = ta
	if err := s.save(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// SoftDelete marks the document deleted without removing stored data.
func (s *Store) SoftDelete(ctx context.Context, attachmentID string) error {
	d, err := s.Get(ctx, attachmentID)
	if err != nil {
		return err
	}
	if d.DeletedAt == 0 {
		d.DeletedAt = s.now().UnixMilli()
	}
	return s.save(ctx, d)
}
