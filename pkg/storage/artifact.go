package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Artifacts lays out pipeline outputs on a FileStore and hands back the
// path and public URL that result events reference.
type Artifacts struct {
	fs      FileStore
	baseURL string
}

// NewArtifacts wraps a FileStore. baseURL, when non-empty, is the public
// prefix used to build artifact URLs (e.g. a CDN or bucket endpoint).
func NewArtifacts(fs FileStore, baseURL string) *Artifacts {
	return &Artifacts{fs: fs, baseURL: strings.TrimRight(baseURL, "/")}
}

// TranslatedAudioPath is the canonical location of a synthesized track.
func TranslatedAudioPath(attachmentID, lang string) string {
	return fmt.Sprintf("translated/%s/%s.wav", attachmentID, lang)
}

// CloneSamplePath is the canonical location of a voice-clone reference
// sample.
func CloneSamplePath(userID string) string {
	return fmt.Sprintf("voices/%s/sample.wav", userID)
}

// URL maps a storage path to its public URL, or "" without a base URL.
func (a *Artifacts) URL(path string) string {
	if a.baseURL == "" {
		return ""
	}
	return a.baseURL + "/" + path
}

// Put writes an artifact and returns its path and URL.
func (a *Artifacts) Put(ctx context.Context, path string, data []byte) (string, string, error) {
	w, err := a.fs.Write(ctx, path)
	if err != nil {
		return "", "", fmt.Errorf("storage: put %s: %w", path, err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", "", fmt.Errorf("storage: put %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", "", fmt.Errorf("storage: put %s: %w", path, err)
	}
	return path, a.URL(path), nil
}

// Get reads an artifact fully.
func (a *Artifacts) Get(ctx context.Context, path string) ([]byte, error) {
	r, err := a.fs.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("storage: get %s: %w", path, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("storage: get %s: %w", path, err)
	}
	return data, nil
}

// Delete removes an artifact.
func (a *Artifacts) Delete(ctx context.Context, path string) error {
	return a.fs.Delete(ctx, path)
}
