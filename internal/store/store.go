// Package store implements the player's on-disk content store: files
// addressed by (kind, id), written either whole or as progressive
// chunks, with a durable metadata index so a restart can tell what is
// already cached without re-hashing every blob.
//
// The metadata index is grounded on cartographus's BadgerDB-backed
// stores (internal/auth/session_badger.go: one struct wrapping a
// *badger.DB, JSON-marshaled records via goccy/go-json, db.Update/db.View
// transactions keyed by string prefixes). Blobs themselves live as plain
// files on disk, since the CMS already gives each one a stable
// (kind,id) identity — there is no content-addressing to do, unlike the
// teacher's CID-keyed swarm store.
//
// Alongside the CMS-declared MD5 (used for manifest diffing against the
// server's own hash), every committed entry also gets a locally-computed
// BLAKE3 digest, the same hash pkg/content/cid.go uses to derive swarm
// CIDs. There is no CID to derive here, but the hash still earns its
// keep as a second, independent integrity check the store can run
// against its own blobs without trusting the CMS-declared hash alone.
package store

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"lukechampine.com/blake3"

	"github.com/skyline-signage/player-core/internal/metrics"
)

// ErrNotFound is returned when a (kind, id) entry has no committed blob.
var ErrNotFound = errors.New("store: entry not found")

// entry is the metadata record kept in the badger index for one
// (kind, id) file.
type entry struct {
	Kind        string `json:"kind"`
	ID          string `json:"id"`
	Size        int64  `json:"size"`
	MD5         string `json:"md5"`
	Blake3      string `json:"blake3"`
	ContentType string `json:"contentType"`
	Committed   bool   `json:"committed"`
	ChunksTotal int    `json:"chunksTotal,omitempty"`
}

func entryKey(kind, id string) []byte {
	return []byte("entry:" + kind + ":" + id)
}

// Store is the content store: a badger metadata index plus a blob tree
// on disk. It satisfies internal/downloader.Store.
type Store struct {
	db      *badger.DB
	blobDir string
	tmpDir  string

	chunkMu sync.Mutex
	pending map[string]*pendingEntry // "kind:id" -> in-flight progressive chunk state
}

// pendingEntry tracks a progressively-arriving file's chunk boundaries
// before it is fully assembled, so get_range can serve a range that falls
// entirely within already-committed chunks (§4.4 invariant: a range read
// that overlaps an uncommitted chunk must fail deterministically, never
// return zeros or block). chunkSize is inferred from the first non-final
// chunk received, since every chunk but the last is uniform (§3 "Chunk
// plan"); until it is known, ranges cannot be mapped to indices and
// get_range reports not-found.
type pendingEntry struct {
	total     int
	chunkSize int64
	lengths   map[int]int64 // index -> byte length of the chunk as received
}

// Open opens (creating if necessary) the content store rooted at dir.
func Open(dir string) (*Store, error) {
	blobDir := filepath.Join(dir, "blobs")
	tmpDir := filepath.Join(dir, "staging")
	if err := os.MkdirAll(blobDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create blob dir: %w", err)
	}
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create staging dir: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(dir, "index")).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open index: %w", err)
	}

	return &Store{
		db:      db,
		blobDir: blobDir,
		tmpDir:  tmpDir,
		pending: make(map[string]*pendingEntry),
	}, nil
}

// Close releases the badger index.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) blobPath(kind, id string) string {
	return filepath.Join(s.blobDir, kind, sanitize(id))
}

func (s *Store) stagingDir(kind, id string) string {
	return filepath.Join(s.tmpDir, kind, sanitize(id))
}

// sanitize keeps composite widget ids ("layoutId/regionId/mediaId", §3)
// from escaping their blob directory.
func sanitize(id string) string {
	return filepath.Clean(filepath.FromSlash(id))
}

// Put commits a file in one shot (§4.3 "runWhole").
func (s *Store) Put(ctx context.Context, kind, id string, data []byte, contentType string) error {
	path := s.blobPath(kind, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: mkdir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("store: write blob: %w", err)
	}

	sum := md5.Sum(data)
	b3 := blake3.Sum256(data)
	e := entry{
		Kind:        kind,
		ID:          id,
		Size:        int64(len(data)),
		MD5:         hex.EncodeToString(sum[:]),
		Blake3:      hex.EncodeToString(b3[:]),
		ContentType: contentType,
		Committed:   true,
	}
	if err := s.putEntry(kind, id, e); err != nil {
		return err
	}
	metrics.StoreBytesUsed.Add(float64(len(data)))
	return nil
}

// PutChunk writes one chunk of a progressively-assembled file (§4.3
// "runChunked" with Progressive set). Once every chunk in [0,total) has
// arrived, the chunks are concatenated into the final blob and the
// staging directory is removed.
func (s *Store) PutChunk(ctx context.Context, kind, id string, index int, total int, data []byte, contentType string) error {
	dir := s.stagingDir(kind, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: mkdir staging: %w", err)
	}
	chunkPath := filepath.Join(dir, fmt.Sprintf("%08d", index))
	if err := os.WriteFile(chunkPath, data, 0o644); err != nil {
		return fmt.Errorf("store: write chunk: %w", err)
	}

	key := kind + ":" + id
	s.chunkMu.Lock()
	pe, ok := s.pending[key]
	if !ok {
		pe = &pendingEntry{total: total, lengths: make(map[int]int64)}
		s.pending[key] = pe
	}
	pe.lengths[index] = int64(len(data))
	if index < total-1 && pe.chunkSize == 0 {
		pe.chunkSize = int64(len(data))
	}
	complete := len(pe.lengths) == total
	if complete {
		delete(s.pending, key)
	}
	s.chunkMu.Unlock()

	if !complete {
		return nil
	}
	return s.assembleChunks(kind, id, dir, total, contentType)
}

// GetRange returns the inclusive byte range [start, end] of a file,
// satisfying HTTP 206 Range semantics downstream (§4.4, §8 "Range
// correctness"). A fully-committed entry is read directly from its blob.
// A progressively-downloading entry is served from whichever chunks have
// already landed in the staging directory, provided the whole requested
// range is covered by chunks received so far; otherwise the read fails
// deterministically rather than blocking or returning zeros.
func (s *Store) GetRange(ctx context.Context, kind, id string, start, end int64) ([]byte, error) {
	if start < 0 || end < start {
		return nil, fmt.Errorf("store: invalid range [%d,%d]", start, end)
	}

	e, err := s.getEntry(kind, id)
	if err == nil && e.Committed {
		if end >= e.Size {
			return nil, fmt.Errorf("store: range [%d,%d] exceeds size %d", start, end, e.Size)
		}
		f, ferr := os.Open(s.blobPath(kind, id))
		if ferr != nil {
			return nil, fmt.Errorf("store: open blob: %w", ferr)
		}
		defer f.Close()
		buf := make([]byte, end-start+1)
		if _, rerr := f.ReadAt(buf, start); rerr != nil && rerr != io.EOF {
			return nil, fmt.Errorf("store: read range: %w", rerr)
		}
		return buf, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	return s.getRangeFromPendingChunks(kind, id, start, end)
}

func (s *Store) getRangeFromPendingChunks(kind, id string, start, end int64) ([]byte, error) {
	key := kind + ":" + id
	s.chunkMu.Lock()
	pe, ok := s.pending[key]
	if !ok || pe.chunkSize <= 0 {
		s.chunkMu.Unlock()
		return nil, ErrNotFound
	}
	firstIdx := int(start / pe.chunkSize)
	lastIdx := int(end / pe.chunkSize)
	for i := firstIdx; i <= lastIdx; i++ {
		if _, have := pe.lengths[i]; !have {
			s.chunkMu.Unlock()
			return nil, ErrNotFound
		}
	}
	chunkSize := pe.chunkSize
	s.chunkMu.Unlock()

	dir := s.stagingDir(kind, id)
	out := make([]byte, 0, end-start+1)
	for i := firstIdx; i <= lastIdx; i++ {
		data, rerr := os.ReadFile(filepath.Join(dir, fmt.Sprintf("%08d", i)))
		if rerr != nil {
			return nil, ErrNotFound
		}
		chunkStart := int64(i) * chunkSize
		lo := int64(0)
		if start > chunkStart {
			lo = start - chunkStart
		}
		hi := int64(len(data))
		if chunkEnd := chunkStart + int64(len(data)) - 1; end < chunkEnd {
			hi = end - chunkStart + 1
		}
		if lo > int64(len(data)) || hi > int64(len(data)) || lo > hi {
			return nil, fmt.Errorf("store: chunk %d out of bounds for range [%d,%d]", i, start, end)
		}
		out = append(out, data[lo:hi]...)
	}
	if int64(len(out)) != end-start+1 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (s *Store) assembleChunks(kind, id, dir string, total int, contentType string) error {
	names := make([]string, total)
	for i := 0; i < total; i++ {
		names[i] = filepath.Join(dir, fmt.Sprintf("%08d", i))
	}
	sort.Strings(names)

	path := s.blobPath(kind, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: mkdir: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("store: create blob: %w", err)
	}
	defer out.Close()

	md5Hasher := md5.New()
	b3Hasher := blake3.New(32, nil)
	var size int64
	for _, name := range names {
		data, err := os.ReadFile(name)
		if err != nil {
			return fmt.Errorf("store: read chunk %s: %w", name, err)
		}
		if _, err := out.Write(data); err != nil {
			return fmt.Errorf("store: write assembled blob: %w", err)
		}
		md5Hasher.Write(data)
		b3Hasher.Write(data)
		size += int64(len(data))
	}

	e := entry{
		Kind:        kind,
		ID:          id,
		Size:        size,
		MD5:         hex.EncodeToString(md5Hasher.Sum(nil)),
		Blake3:      hex.EncodeToString(b3Hasher.Sum(nil)),
		ContentType: contentType,
		Committed:   true,
		ChunksTotal: total,
	}
	if err := s.putEntry(kind, id, e); err != nil {
		return err
	}
	metrics.StoreBytesUsed.Add(float64(size))
	os.RemoveAll(dir)
	return nil
}

// Has reports whether a file is fully committed, and its size (§4.3
// public contract, §4.2 "download plan diffing").
func (s *Store) Has(ctx context.Context, kind, id string) (bool, int64, error) {
	e, err := s.getEntry(kind, id)
	if errors.Is(err, ErrNotFound) {
		metrics.RecordCacheLookup(false)
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	metrics.RecordCacheLookup(e.Committed)
	return e.Committed, e.Size, nil
}

// Get returns a committed file's bytes and metadata, for §4.1's
// getResource/mediaInventory flows and the resolver's widget rendering.
func (s *Store) Get(ctx context.Context, kind, id string) ([]byte, string, error) {
	e, err := s.getEntry(kind, id)
	if err != nil {
		return nil, "", err
	}
	if !e.Committed {
		return nil, "", ErrNotFound
	}
	data, err := os.ReadFile(s.blobPath(kind, id))
	if err != nil {
		return nil, "", fmt.Errorf("store: read blob: %w", err)
	}
	return data, e.ContentType, nil
}

// Remove deletes a committed entry, used when a required-files purge
// list (§4.1) no longer references it.
func (s *Store) Remove(ctx context.Context, kind, id string) error {
	e, err := s.getEntry(kind, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := os.Remove(s.blobPath(kind, id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: remove blob: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(kind, id))
	}); err != nil {
		return fmt.Errorf("store: delete index entry: %w", err)
	}
	metrics.StoreBytesUsed.Sub(float64(e.Size))
	return nil
}

// Item describes one committed entry, for mediaInventory() reporting
// (§4.1).
type Item struct {
	Kind   string
	ID     string
	MD5    string
	Blake3 string
	Size   int64
}

// VerifyIntegrity recomputes a committed blob's BLAKE3 digest and
// compares it against the one recorded at commit time, catching local
// disk corruption that the CMS-declared MD5 has no way to see (the CMS
// never re-reads a blob after the display fetches it).
func (s *Store) VerifyIntegrity(ctx context.Context, kind, id string) (bool, error) {
	e, err := s.getEntry(kind, id)
	if err != nil {
		return false, err
	}
	if !e.Committed {
		return false, ErrNotFound
	}
	data, err := os.ReadFile(s.blobPath(kind, id))
	if err != nil {
		return false, fmt.Errorf("store: read blob: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]) == e.Blake3, nil
}

// List enumerates every committed entry.
func (s *Store) List(ctx context.Context) ([]Item, error) {
	var items []Item
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("entry:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			if !e.Committed {
				continue
			}
			items = append(items, Item{Kind: e.Kind, ID: e.ID, MD5: e.MD5, Blake3: e.Blake3, Size: e.Size})
		}
		return nil
	})
	return items, err
}

// UsedBytes sums the size of every committed entry.
func (s *Store) UsedBytes(ctx context.Context) (int64, error) {
	items, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, it := range items {
		total += it.Size
	}
	return total, nil
}

func (s *Store) putEntry(kind, id string, e entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("store: marshal entry: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(kind, id), data)
	})
}

func (s *Store) getEntry(kind, id string) (entry, error) {
	var e entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(kind, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	return e, err
}
