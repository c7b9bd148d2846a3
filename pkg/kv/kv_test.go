package kv_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/isopen-io/meeshy-sub000/pkg/kv"
)

// The Store contract is exercised against both backends so the memory
// store used in tests and the badger store used by the worker cannot
// drift apart.
func forEachBackend(t *testing.T, opts *kv.Options, fn func(t *testing.T, s kv.Store)) {
	t.Helper()
	backends := map[string]func(t *testing.T) kv.Store{
		"memory": func(t *testing.T) kv.Store {
			s := kv.NewMemory(opts)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"badger": func(t *testing.T) kv.Store {
			s, err := kv.NewBadger(kv.BadgerOptions{Options: opts, InMemory: true})
			if err != nil {
				t.Fatalf("NewBadger: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, newStore(t))
		})
	}
}

func TestStoreGetSetDelete(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, s kv.Store) {
		ctx := context.Background()
		key := kv.Key{"profile", "user-7"}

		if _, err := s.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
			t.Fatalf("Get(missing) = %v, want ErrNotFound", err)
		}

		if err := s.Set(ctx, key, []byte("fp-v1")); err != nil {
			t.Fatalf("Set: %v", err)
		}
		got, err := s.Get(ctx, key)
		if err != nil || string(got) != "fp-v1" {
			t.Fatalf("Get = %q, %v", got, err)
		}

		// Overwrite wins.
		if err := s.Set(ctx, key, []byte("fp-v2")); err != nil {
			t.Fatalf("Set overwrite: %v", err)
		}
		got, _ = s.Get(ctx, key)
		if string(got) != "fp-v2" {
			t.Fatalf("Get after overwrite = %q", got)
		}

		if err := s.Delete(ctx, key); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := s.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
			t.Fatalf("Get after delete = %v, want ErrNotFound", err)
		}
		if err := s.Delete(ctx, kv.Key{"profile", "nobody"}); err != nil {
			t.Fatalf("Delete(missing) should be nil, got %v", err)
		}
	})
}

func TestStoreListByPrefix(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, s kv.Store) {
		ctx := context.Background()
		entries := []kv.Entry{
			{Key: kv.Key{"profile", "user-1"}, Value: []byte("p1")},
			{Key: kv.Key{"profile", "user-2"}, Value: []byte("p2")},
			{Key: kv.Key{"transcript", "msg-9", "en"}, Value: []byte("t1")},
			{Key: kv.Key{"transcript", "msg-9", "es"}, Value: []byte("t2")},
			{Key: kv.Key{"dedup", "task-42"}, Value: []byte("1")},
		}
		if err := s.BatchSet(ctx, entries); err != nil {
			t.Fatalf("BatchSet: %v", err)
		}

		var got []string
		for entry, err := range s.List(ctx, kv.Key{"profile"}) {
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			got = append(got, entry.Key.String()+"="+string(entry.Value))
		}
		want := []string{"profile:user-1=p1", "profile:user-2=p2"}
		if !slices.Equal(got, want) {
			t.Fatalf("List profile = %v, want %v", got, want)
		}

		got = nil
		for entry, err := range s.List(ctx, kv.Key{"transcript", "msg-9"}) {
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			got = append(got, entry.Key.String())
		}
		if len(got) != 2 {
			t.Fatalf("List transcript:msg-9 = %v, want 2 entries", got)
		}

		// Empty prefix walks the whole store.
		n := 0
		for _, err := range s.List(ctx, nil) {
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			n++
		}
		if n != len(entries) {
			t.Fatalf("List all = %d entries, want %d", n, len(entries))
		}
	})
}

func TestStoreListPrefixBoundary(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, s kv.Store) {
		ctx := context.Background()
		// Prefix "task" must not match the "tasks" family.
		entries := []kv.Entry{
			{Key: kv.Key{"task", "1"}, Value: []byte("yes")},
			{Key: kv.Key{"tasks", "2"}, Value: []byte("no")},
			{Key: kv.Key{"task", "3"}, Value: []byte("yes")},
		}
		if err := s.BatchSet(ctx, entries); err != nil {
			t.Fatalf("BatchSet: %v", err)
		}

		var got []string
		for entry, err := range s.List(ctx, kv.Key{"task"}) {
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			got = append(got, entry.Key.String())
		}
		want := []string{"task:1", "task:3"}
		if !slices.Equal(got, want) {
			t.Fatalf("List task = %v, want %v", got, want)
		}
	})
}

func TestStoreBatchDelete(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, s kv.Store) {
		ctx := context.Background()
		for i, id := range []string{"a", "b", "c"} {
			if err := s.Set(ctx, kv.Key{"dedup", id}, []byte{byte('0' + i)}); err != nil {
				t.Fatalf("Set: %v", err)
			}
		}

		if err := s.BatchDelete(ctx, []kv.Key{{"dedup", "a"}, {"dedup", "b"}}); err != nil {
			t.Fatalf("BatchDelete: %v", err)
		}
		for _, id := range []string{"a", "b"} {
			if _, err := s.Get(ctx, kv.Key{"dedup", id}); !errors.Is(err, kv.ErrNotFound) {
				t.Fatalf("dedup:%s should be deleted, got %v", id, err)
			}
		}
		if _, err := s.Get(ctx, kv.Key{"dedup", "c"}); err != nil {
			t.Fatalf("dedup:c should survive, got %v", err)
		}
	})
}

func TestStoreCustomSeparator(t *testing.T) {
	forEachBackend(t, &kv.Options{Separator: '/'}, func(t *testing.T, s kv.Store) {
		ctx := context.Background()
		key := kv.Key{"path", "to", "value"}

		if err := s.Set(ctx, key, []byte("data")); err != nil {
			t.Fatalf("Set: %v", err)
		}
		got, err := s.Get(ctx, key)
		if err != nil || string(got) != "data" {
			t.Fatalf("Get = %q, %v", got, err)
		}

		var keys []string
		for entry, err := range s.List(ctx, kv.Key{"path", "to"}) {
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			keys = append(keys, entry.Key.String())
		}
		// Key.String always uses ':' for display; the store encodes '/'.
		if len(keys) != 1 || keys[0] != "path:to:value" {
			t.Fatalf("List = %v, want [path:to:value]", keys)
		}
	})
}

func TestStoreValueIsolation(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, s kv.Store) {
		ctx := context.Background()
		key := kv.Key{"iso"}
		original := []byte("original")

		if err := s.Set(ctx, key, original); err != nil {
			t.Fatalf("Set: %v", err)
		}
		original[0] = 'X'
		got, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got[0] != 'o' {
			t.Fatal("store value mutated via caller's slice")
		}
		got[0] = 'Y'
		got2, _ := s.Get(ctx, key)
		if got2[0] != 'o' {
			t.Fatal("store value mutated via returned slice")
		}
	})
}

func TestStoreKeySegmentValidation(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, s kv.Store) {
		defer func() {
			r := recover()
			if r == nil {
				t.Fatal("expected panic for key segment containing separator")
			}
			if msg, ok := r.(string); !ok || !strings.Contains(msg, "contains separator") {
				t.Fatalf("unexpected panic: %v", r)
			}
		}()
		_ = s.Set(context.Background(), kv.Key{"bad:seg", "x"}, []byte("v"))
	})
}
