package store

import (
	"context"
	"errors"
	"os"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutThenHasAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "media", "1", []byte("hello world"), "text/plain"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	exists, size, err := s.Has(ctx, "media", "1")
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if !exists || size != 11 {
		t.Errorf("Has = (%v, %d), want (true, 11)", exists, size)
	}

	data, contentType, err := s.Get(ctx, "media", "1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "hello world" || contentType != "text/plain" {
		t.Errorf("Get = (%q, %q)", data, contentType)
	}
}

func TestHasOnMissingEntry(t *testing.T) {
	s := openTestStore(t)
	exists, _, err := s.Has(context.Background(), "media", "missing")
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if exists {
		t.Error("expected Has to report false for a never-written entry")
	}
}

func TestPutChunkAssemblesOnceAllChunksArrive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	chunks := [][]byte{[]byte("abc"), []byte("def"), []byte("ghi")}
	for i, c := range chunks {
		exists, _, _ := s.Has(ctx, "bundle", "b1")
		if exists {
			t.Fatalf("bundle should not be committed before all chunks arrive (chunk %d)", i)
		}
		if err := s.PutChunk(ctx, "bundle", "b1", i, len(chunks), c, "application/zip"); err != nil {
			t.Fatalf("PutChunk(%d): %v", i, err)
		}
	}

	exists, size, err := s.Has(ctx, "bundle", "b1")
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if !exists || size != 9 {
		t.Errorf("Has after assembly = (%v, %d), want (true, 9)", exists, size)
	}

	data, _, err := s.Get(ctx, "bundle", "b1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "abcdefghi" {
		t.Errorf("assembled data = %q, want %q", data, "abcdefghi")
	}
}

func TestPutChunkOutOfOrderStillAssemblesInIndexOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutChunk(ctx, "media", "m2", 1, 2, []byte("BB"), ""); err != nil {
		t.Fatal(err)
	}
	if err := s.PutChunk(ctx, "media", "m2", 0, 2, []byte("AA"), ""); err != nil {
		t.Fatal(err)
	}

	data, _, err := s.Get(ctx, "media", "m2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "AABB" {
		t.Errorf("assembled data = %q, want AABB", data)
	}
}

func TestRemoveDeletesEntryAndBlob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "layout", "l1", []byte("xml"), "application/xml"); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(ctx, "layout", "l1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	exists, _, err := s.Has(ctx, "layout", "l1")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("expected entry to be gone after Remove")
	}
}

func TestListReturnsOnlyCommittedEntries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "media", "1", []byte("one"), "text/plain"); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "media", "2", []byte("two"), "text/plain"); err != nil {
		t.Fatal(err)
	}
	// a partially-delivered chunked entry must not appear in List yet.
	if err := s.PutChunk(ctx, "bundle", "pending", 0, 2, []byte("x"), ""); err != nil {
		t.Fatal(err)
	}

	items, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("List returned %d items, want 2 (pending chunked entry must be excluded)", len(items))
	}
}

func TestGetRangeOnCommittedEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "media", "r1", []byte("0123456789"), "video/mp4"); err != nil {
		t.Fatal(err)
	}

	data, err := s.GetRange(ctx, "media", "r1", 2, 5)
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if string(data) != "2345" {
		t.Errorf("GetRange(2,5) = %q, want %q", data, "2345")
	}

	if _, err := s.GetRange(ctx, "media", "r1", 8, 20); err == nil {
		t.Error("expected error for range exceeding entry size")
	}
}

func TestGetRangeOnUncommittedEntryFailsDeterministically(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetRange(ctx, "media", "never-started", 0, 3); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRange on unknown entry = %v, want ErrNotFound", err)
	}

	// Two of three chunks have landed; a range entirely inside chunk 0
	// must succeed, one reaching into the un-arrived chunk 2 must not.
	if err := s.PutChunk(ctx, "media", "r2", 0, 3, []byte("AAAA"), ""); err != nil {
		t.Fatal(err)
	}
	if err := s.PutChunk(ctx, "media", "r2", 1, 3, []byte("BBBB"), ""); err != nil {
		t.Fatal(err)
	}

	data, err := s.GetRange(ctx, "media", "r2", 1, 3)
	if err != nil {
		t.Fatalf("GetRange within received chunk 0: %v", err)
	}
	if string(data) != "AAA" {
		t.Errorf("GetRange(1,3) = %q, want %q", data, "AAA")
	}

	data, err = s.GetRange(ctx, "media", "r2", 0, 7)
	if err != nil {
		t.Fatalf("GetRange spanning received chunks 0-1: %v", err)
	}
	if string(data) != "AAAABBBB" {
		t.Errorf("GetRange(0,7) = %q, want %q", data, "AAAABBBB")
	}

	if _, err := s.GetRange(ctx, "media", "r2", 4, 11); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRange reaching into un-arrived chunk = %v, want ErrNotFound", err)
	}
}

func TestCompositeWidgetIDIsSanitized(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id := "layout1/region2/media3"
	if err := s.Put(ctx, "widget", id, []byte("widget bytes"), "text/html"); err != nil {
		t.Fatalf("Put with composite id: %v", err)
	}
	data, _, err := s.Get(ctx, "widget", id)
	if err != nil {
		t.Fatalf("Get with composite id: %v", err)
	}
	if string(data) != "widget bytes" {
		t.Errorf("data = %q", data)
	}
}

func TestVerifyIntegrityDetectsOnDiskCorruption(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "media", "1", []byte("hello world"), "text/plain"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ok, err := s.VerifyIntegrity(ctx, "media", "1")
	if err != nil || !ok {
		t.Fatalf("VerifyIntegrity on untouched blob = (%v, %v), want (true, nil)", ok, err)
	}

	if err := os.WriteFile(s.blobPath("media", "1"), []byte("corrupted!!"), 0o644); err != nil {
		t.Fatalf("corrupt blob: %v", err)
	}

	ok, err = s.VerifyIntegrity(ctx, "media", "1")
	if err != nil {
		t.Fatalf("VerifyIntegrity after corruption: %v", err)
	}
	if ok {
		t.Error("VerifyIntegrity = true after on-disk corruption, want false")
	}
}
