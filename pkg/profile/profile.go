// Package profile persists voice profiles keyed by user id. A profile
// links a user to their voice fingerprint and embedding so the pipeline
// can recognize the sender in new recordings and reuse their voice model
// for cloning. Profiles expire after a retention period unless refreshed.
package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/isopen-io/meeshy-sub000/pkg/fingerprint"
	"github.com/isopen-io/meeshy-sub000/pkg/kv"
	"github.com/isopen-io/meeshy-sub000/pkg/wire"
)

// ErrNotFound is returned when a user has no stored profile.
var ErrNotFound = errors.New("profile: not found")

// DefaultTTL is how long a profile survives without being refreshed.
const DefaultTTL = 90 * 24 * time.Hour

// Profile is a stored voice profile.
type Profile struct {
	UserID          string                   `msgpack:"user_id"`
	ProfileID       string                   `msgpack:"profile_id"`
	QualityScore    float64                  `msgpack:"quality_score"`
	AudioCount      int                      `msgpack:"audio_count"`
	TotalDurationMs int                      `msgpack:"total_duration_ms"`
	Version         int                      `msgpack:"version"`
	Fingerprint     *fingerprint.Fingerprint `msgpack:"fingerprint"`
	CreatedAt       time.Time                `msgpack:"created_at"`
	UpdatedAt       time.Time                `msgpack:"updated_at"`
}

// Embedding returns the profile's speaker embedding, or nil.
func (p *Profile) Embedding() []float32 {
	if p == nil || p.Fingerprint == nil {
		return nil
	}
	return p.Fingerprint.Embedding
}

// Summary converts the profile to its wire representation.
func (p *Profile) Summary() wire.ProfileSummary {
	s := wire.ProfileSummary{
		UserID:          p.UserID,
		ProfileID:       p.ProfileID,
		QualityScore:    p.QualityScore,
		AudioCount:      p.AudioCount,
		TotalDurationMs: p.TotalDurationMs,
		Version:         p.Version,
	}
	if p.Fingerprint != nil {
		s.Fingerprint = p.Fingerprint.Signature
	}
	return s
}

// Store persists profiles in a kv.Store.
type Store struct {
	kv  kv.Store
	ttl time.Duration
	now func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithTTL overrides the retention period. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// NewStore wraps a kv.Store.
func NewStore(store kv.Store, opts ...Option) *Store {
	s := &Store{kv: store, ttl: DefaultTTL, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func key(userID string) kv.Key {
	return kv.Key{"voiceprofile", userID}
}

// Get loads a user's profile.
func (s *Store) Get(ctx context.Context, userID string) (*Profile, error) {
	data, err := s.kv.Get(ctx, key(userID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile: get %s: %w", userID, err)
	}
	var p Profile
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("profile: decode %s: %w", userID, err)
	}
	return &p, nil
}

// Put stores a profile, bumping its version and refreshing the retention
// window. A first write gets version 1 and a creation timestamp.
func (s *Store) Put(ctx context.Context, p *Profile) error {
	if p.UserID == "" {
		return errors.New("profile: missing user id")
	}
	prev, err := s.Get(ctx, p.UserID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	now := s.now().UTC()
	if prev != nil {
		p.Version = prev.Version + 1
		p.CreatedAt = prev.CreatedAt
	} else {
		p.Version = 1
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	data, err := msgpack.Marshal(p)
	if err != nil {
		return fmt.Errorf("profile: encode %s: %w", p.UserID, err)
	}
	if err := s.kv.SetTTL(ctx, key(p.UserID), data, s.ttl); err != nil {
		return fmt.Errorf("profile: put %s: %w", p.UserID, err)
	}
	return nil
}

// Delete removes a user's profile.
func (s *Store) Delete(ctx context.Context, userID string) error {
	return s.kv.Delete(ctx, key(userID))
}

// Verify compares a candidate fingerprint against the stored profile.
// Returns the similarity score and whether it clears the match threshold.
func (s *Store) Verify(ctx context.Context, userID string, candidate *fingerprint.Fingerprint) (match bool, similarity float64, err error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return false, 0, err
	}
	similarity = fingerprint.Similarity(p.Fingerprint, candidate)
	return similarity >= fingerprint.MatchThreshold, similarity, nil
}
