package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// apiError implements smithy.APIError for test assertions.
type apiError struct {
	code string
	msg  string
}

func (e *apiError) Error() string                 { return e.msg }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.msg }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

var errNoSuchKey = &apiError{code: "NoSuchKey", msg: "no such key"}
var errNotFound = &apiError{code: "NotFound", msg: "not found"}

// fakeBucket is an in-memory S3 backend recording object bodies and the
// Content-Type each upload carried.
type fakeBucket struct {
	mu           sync.Mutex
	objects      map[string][]byte
	contentTypes map[string]string

	getErr    error
	putErr    error
	deleteErr error
	headErr   error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{
		objects:      make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

func (m *fakeBucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*in.Key]
	if !ok {
		return nil, errNoSuchKey
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *fakeBucket) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*in.Key] = data
	if in.ContentType != nil {
		m.contentTypes[*in.Key] = *in.ContentType
	}
	return &s3.PutObjectOutput{}, nil
}

func (m *fakeBucket) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.deleteErr != nil {
		return nil, m.deleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *fakeBucket) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if m.headErr != nil {
		return nil, m.headErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[*in.Key]; !ok {
		return nil, errNotFound
	}
	return &s3.HeadObjectOutput{}, nil
}

func (m *fakeBucket) seed(key string, data []byte) {
	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
}

func TestS3RoundTrip(t *testing.T) {
	bucket := newFakeBucket()
	store := NewS3(bucket, "media", "")
	ctx := context.Background()

	key := TranslatedAudioPath("att-1", "en")
	w, err := store.Write(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("RIFF-ish")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	bucket.mu.Lock()
	ct := bucket.contentTypes[key]
	bucket.mu.Unlock()
	if ct != "audio/wav" {
		t.Fatalf("upload Content-Type = %q, want audio/wav", ct)
	}

	r, err := store.Read(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got, _ := io.ReadAll(r)
	if string(got) != "RIFF-ish" {
		t.Fatalf("got %q", got)
	}

	// Overwriting replaces the body.
	w, _ = store.Write(ctx, key)
	io.WriteString(w, "v2")
	w.Close()
	r, _ = store.Read(ctx, key)
	defer r.Close()
	got, _ = io.ReadAll(r)
	if string(got) != "v2" {
		t.Fatalf("after overwrite got %q, want v2", got)
	}
}

func TestS3ReadMissingKey(t *testing.T) {
	store := NewS3(newFakeBucket(), "media", "")

	_, err := store.Read(context.Background(), "translated/nope/en.wav")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("want os.ErrNotExist, got %v", err)
	}
}

func TestS3ReadTransportError(t *testing.T) {
	bucket := newFakeBucket()
	bucket.getErr = errors.New("network timeout")
	store := NewS3(bucket, "media", "")

	_, err := store.Read(context.Background(), "x")
	if err == nil || errors.Is(err, os.ErrNotExist) {
		t.Fatalf("transport errors must not map to ErrNotExist, got %v", err)
	}
}

func TestS3Exists(t *testing.T) {
	bucket := newFakeBucket()
	store := NewS3(bucket, "media", "")
	ctx := context.Background()

	if ok, err := store.Exists(ctx, "missing"); err != nil || ok {
		t.Fatalf("Exists(missing) = %v, %v", ok, err)
	}

	bucket.seed("voices/user-7/sample.wav", []byte("x"))
	if ok, err := store.Exists(ctx, "voices/user-7/sample.wav"); err != nil || !ok {
		t.Fatalf("Exists(present) = %v, %v", ok, err)
	}

	bucket.headErr = errors.New("network failure")
	if _, err := store.Exists(ctx, "x"); err == nil {
		t.Fatal("expected head error to surface")
	}
}

func TestS3DeleteIdempotent(t *testing.T) {
	bucket := newFakeBucket()
	store := NewS3(bucket, "media", "")
	ctx := context.Background()

	if err := store.Delete(ctx, "ghost"); err != nil {
		t.Fatalf("deleting a missing key should succeed: %v", err)
	}

	bucket.seed("tmp", []byte("x"))
	if err := store.Delete(ctx, "tmp"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := store.Exists(ctx, "tmp"); ok {
		t.Fatal("key should be gone after delete")
	}
}

func TestS3WriteUploadError(t *testing.T) {
	bucket := newFakeBucket()
	bucket.putErr = errors.New("upload failed")
	store := NewS3(bucket, "media", "")

	w, err := store.Write(context.Background(), "obj")
	if err != nil {
		t.Fatal(err)
	}
	// The pipe may reject the write depending on how fast the upload
	// goroutine fails; Close must surface the error either way.
	io.WriteString(w, "data")
	if err := w.Close(); err == nil {
		t.Fatal("expected upload error from Close")
	}
}

func TestS3KeyPrefix(t *testing.T) {
	bucket := newFakeBucket()
	store := NewS3(bucket, "media", "prod")

	w, _ := store.Write(context.Background(), "translated/att-1/es.wav")
	io.WriteString(w, "body")
	w.Close()

	bucket.mu.Lock()
	_, ok := bucket.objects["prod/translated/att-1/es.wav"]
	bucket.mu.Unlock()
	if !ok {
		t.Fatal("object should live under the prefixed key")
	}

	unprefixed := NewS3(bucket, "media", "")
	if got := unprefixed.key("a/b"); got != "a/b" {
		t.Fatalf("key = %q, want a/b", got)
	}
}

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"translated/att/en.wav", "audio/wav"},
		{"clip.mp3", "audio/mpeg"},
		{"clip.opus", "audio/ogg"},
		{"meta.json", "application/json"},
		{"blob", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := ContentTypeFor(tt.path); got != tt.want {
			t.Errorf("ContentTypeFor(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestIsS3NotFound(t *testing.T) {
	if !isS3NotFound(errNoSuchKey) || !isS3NotFound(errNotFound) {
		t.Fatal("NoSuchKey and NotFound should both count as missing")
	}
	if isS3NotFound(&apiError{code: "AccessDenied", msg: "denied"}) {
		t.Fatal("AccessDenied is not a missing-key error")
	}
	if isS3NotFound(errors.New("timeout")) || isS3NotFound(nil) {
		t.Fatal("plain errors are not missing-key errors")
	}
}
