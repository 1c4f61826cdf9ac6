// Package manifest turns a CMS requiredFiles() response into a concrete
// download plan and purge list (§4.2), diffing declared files against the
// content store by size and MD5 rather than trusting the CMS's own
// bookkeeping.
//
// The diff pass is grounded on cartographus's internal/sync reconciliation
// (compute desired state, diff against observed state, emit actions) —
// this module has no direct teacher analogue beyond that general shape,
// since beenet has no manifest concept of its own.
package manifest

import (
	"context"

	"github.com/skyline-signage/player-core/internal/downloader"
	"github.com/skyline-signage/player-core/internal/store"
)

// StoreChecker is the subset of the content store the resolver consults to
// decide whether a declared file is already present and correct.
type StoreChecker interface {
	Has(ctx context.Context, kind, id string) (exists bool, size int64, err error)
	List(ctx context.Context) ([]store.Item, error)
}

// RequiredFile mirrors transport.RequiredFile; duplicated here rather than
// imported so this package has no dependency on the transport wire format,
// matching the teacher's pattern of a narrow per-package input struct
// (pkg/content/provider.go's ContentDescriptor) instead of reusing a
// transport DTO directly.
type RequiredFile struct {
	Kind        string
	ID          string
	Size        int64
	MD5         string
	ContentType string
	URL         string
}

// Plan is the result of resolving one requiredFiles() response (§4.2).
type Plan struct {
	Downloads []downloader.FileInfo
	Purge     []downloader.FileKey
}

// storeEntry is a (kind,id) pair with its known size/MD5, used for the
// store-wide diff against declared files (§4.2 "stale-detection pass").
type storeEntry struct {
	size int64
	md5  string
}

// Resolve implements §4.2 steps 1 and 2: the download plan (files absent
// or mismatched) and the purge list (CMS-named removals plus store entries
// no longer referenced by any declared file).
func Resolve(ctx context.Context, s StoreChecker, files []RequiredFile, cmsPurge []string) (Plan, error) {
	var plan Plan

	declared := make(map[downloader.FileKey]bool, len(files))
	for _, f := range files {
		key := downloader.FileKey{Kind: downloader.Kind(f.Kind), ID: f.ID}
		declared[key] = true

		exists, size, err := s.Has(ctx, f.Kind, f.ID)
		if err != nil {
			return Plan{}, err
		}
		if !exists || size != f.Size {
			plan.Downloads = append(plan.Downloads, downloader.FileInfo{
				Key: key, Size: f.Size, MD5: f.MD5,
				ContentType: f.ContentType, URL: f.URL,
			})
			continue
		}
		// Size matches; an MD5 mismatch at equal size still forces a
		// re-fetch, since the CMS may have replaced the asset in place.
		if f.MD5 != "" {
			entry, ok, err := entryMD5(ctx, s, f.Kind, f.ID)
			if err != nil {
				return Plan{}, err
			}
			if ok && entry != f.MD5 {
				plan.Downloads = append(plan.Downloads, downloader.FileInfo{
					Key: key, Size: f.Size, MD5: f.MD5,
					ContentType: f.ContentType, URL: f.URL,
				})
			}
		}
	}

	for _, id := range cmsPurge {
		plan.Purge = append(plan.Purge, downloader.FileKey{ID: id})
	}

	stored, err := s.List(ctx)
	if err != nil {
		return Plan{}, err
	}
	for _, item := range stored {
		key := downloader.FileKey{Kind: downloader.Kind(item.Kind), ID: item.ID}
		if !declared[key] {
			plan.Purge = append(plan.Purge, key)
		}
	}

	return plan, nil
}

// entryMD5 looks up a stored entry's declared MD5 via a List scan; the
// store's Has() deliberately exposes only size (§4.4 contract), so an MD5
// comparison goes through the listing instead of adding a new store
// method for one caller.
func entryMD5(ctx context.Context, s StoreChecker, kind, id string) (string, bool, error) {
	items, err := s.List(ctx)
	if err != nil {
		return "", false, err
	}
	for _, it := range items {
		if it.Kind == kind && it.ID == id {
			return it.MD5, true, nil
		}
	}
	return "", false, nil
}
