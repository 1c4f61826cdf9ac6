package collector

import (
	"context"
	"testing"

	"github.com/skyline-signage/player-core/internal/downloader"
	"github.com/skyline-signage/player-core/internal/resolver"
	"github.com/skyline-signage/player-core/internal/store"
)

// fakePurgeStore is a hand-written in-memory stand-in satisfying both
// manifest.StoreChecker and the downloader.Store/removableStore
// interfaces, in the teacher's MockDHT style (pkg/content/provider_test.go).
type fakePurgeStore struct {
	items map[string]store.Item
}

func newFakePurgeStore(items ...store.Item) *fakePurgeStore {
	s := &fakePurgeStore{items: make(map[string]store.Item)}
	for _, it := range items {
		s.items[it.Kind+":"+it.ID] = it
	}
	return s
}

func (s *fakePurgeStore) Has(ctx context.Context, kind, id string) (bool, int64, error) {
	it, ok := s.items[kind+":"+id]
	if !ok {
		return false, 0, nil
	}
	return true, it.Size, nil
}

func (s *fakePurgeStore) List(ctx context.Context) ([]store.Item, error) {
	out := make([]store.Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	return out, nil
}

func (s *fakePurgeStore) Remove(ctx context.Context, kind, id string) error {
	delete(s.items, kind+":"+id)
	return nil
}

func (s *fakePurgeStore) Put(ctx context.Context, kind, id string, data []byte, contentType string) error {
	s.items[kind+":"+id] = store.Item{Kind: kind, ID: id, Size: int64(len(data))}
	return nil
}

func (s *fakePurgeStore) PutChunk(ctx context.Context, kind, id string, index int, total int, data []byte, contentType string) error {
	return nil
}

type noopFetcher struct{}

func (noopFetcher) Head(ctx context.Context, url string) (int64, string, error) { return 0, "", nil }
func (noopFetcher) Get(ctx context.Context, url string) ([]byte, string, error) { return nil, "", nil }
func (noopFetcher) GetRange(ctx context.Context, url string, start, end int64) ([]byte, bool, error) {
	return nil, false, nil
}

func TestPurgeAllClearsStore(t *testing.T) {
	ctx := context.Background()
	fakeStore := newFakePurgeStore(
		store.Item{Kind: "media", ID: "1", Size: 10},
		store.Item{Kind: "layout", ID: "l1", Size: 20},
	)
	manager := downloader.NewManager(ctx, fakeStore, noopFetcher{}, downloader.DefaultConfig())

	c := New(DefaultConfig(), nil, manager, fakeStore, resolver.New(), nil, nil)

	if err := c.purgeAll(ctx); err != nil {
		t.Fatalf("purgeAll: %v", err)
	}

	items, err := fakeStore.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected store to be empty after purgeAll, got %+v", items)
	}
}

func TestPurgeKeysRemovesOnlyListedEntries(t *testing.T) {
	ctx := context.Background()
	fakeStore := newFakePurgeStore(
		store.Item{Kind: "media", ID: "1", Size: 10},
		store.Item{Kind: "media", ID: "2", Size: 10},
	)
	c := &Collector{store: fakeStore}

	c.purgeKeys(ctx, []downloader.FileKey{{Kind: downloader.KindMedia, ID: "1"}})

	items, err := fakeStore.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 || items[0].ID != "2" {
		t.Fatalf("expected only id=2 to remain, got %+v", items)
	}
}
