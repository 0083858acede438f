// In-memory ContentStore.
//
// Serves as the reference implementation for the store contract and as the
// backend for tests. Continuation tokens are genuinely opaque: each token
// is a random id mapped to a listing offset in a registry, and every
// mutation of an asset's history invalidates the asset's outstanding
// tokens, so a stale cursor fails with ErrStaleToken instead of silently
// returning a shifted page.
//
// The On* hook fields let tests inject latency and failures at operation
// entry without wrapping the store.

package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type storedVersion struct {
	version Version
	entries []FileEntry
}

type memoryAsset struct {
	versions  []storedVersion // ascending by id
	live      []FileEntry
	nextID    int64
	currentID int64
	tokens    map[string]int // token -> offset into the newest-first ordering
}

// MemoryContentStore is an in-process ContentStore. Safe for concurrent use.
type MemoryContentStore struct {
	mu     sync.Mutex
	assets map[string]*memoryAsset

	// ReportTotal makes ListVersions report the exact total count the
	// way count-capable stores do; by default the store reports no count
	// and callers must estimate.
	ReportTotal bool

	// Test hooks, called at operation entry when non-nil. A returned error
	// aborts the operation; a hook may also sleep to simulate latency.
	OnListVersions       func(assetRef, token string) error
	OnGetVersionManifest func(assetRef string, versionID int64) error
	OnGetCurrentManifest func(assetRef string) error
}

// NewMemoryContentStore creates an empty store.
func NewMemoryContentStore() *MemoryContentStore {
	return &MemoryContentStore{assets: make(map[string]*memoryAsset)}
}

// SetLive replaces the live manifest entries for an asset, creating the
// asset if needed.
func (s *MemoryContentStore) SetLive(assetRef string, entries []FileEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.assetLocked(assetRef)
	a.live = append([]FileEntry(nil), entries...)
}

func (s *MemoryContentStore) assetLocked(assetRef string) *memoryAsset {
	a, ok := s.assets[assetRef]
	if !ok {
		a = &memoryAsset{nextID: 1, tokens: make(map[string]int)}
		s.assets[assetRef] = a
	}
	return a
}

func (s *MemoryContentStore) ListVersions(ctx context.Context, assetRef string, pageSize int, token string) (VersionPage, error) {
	if err := ctx.Err(); err != nil {
		return VersionPage{}, err
	}
	if assetRef == "" {
		return VersionPage{}, ErrMissingAssetRef
	}
	if s.OnListVersions != nil {
		if err := s.OnListVersions(assetRef, token); err != nil {
			return VersionPage{}, err
		}
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[assetRef]
	if !ok {
		return VersionPage{}, fmt.Errorf("%w: %s", ErrAssetNotFound, assetRef)
	}

	offset := 0
	if token != "" {
		off, ok := a.tokens[token]
		if !ok {
			return VersionPage{}, fmt.Errorf("%w: %s", ErrStaleToken, token)
		}
		offset = off
	}

	// Newest first.
	total := len(a.versions)
	page := VersionPage{Total: -1}
	if s.ReportTotal {
		page.Total = total
	}
	for i := 0; i < pageSize && offset+i < total; i++ {
		sv := a.versions[total-1-(offset+i)]
		v := sv.version
		v.IsCurrent = v.ID == a.currentID
		page.Versions = append(page.Versions, v)
	}

	nextOffset := offset + len(page.Versions)
	if nextOffset < total {
		next := uuid.NewString()
		a.tokens[next] = nextOffset
		page.NextToken = next
	}
	return page, nil
}

func (s *MemoryContentStore) GetVersionManifest(ctx context.Context, assetRef string, versionID int64) (VersionManifest, error) {
	if err := ctx.Err(); err != nil {
		return VersionManifest{}, err
	}
	if assetRef == "" {
		return VersionManifest{}, ErrMissingAssetRef
	}
	if s.OnGetVersionManifest != nil {
		if err := s.OnGetVersionManifest(assetRef, versionID); err != nil {
			return VersionManifest{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[assetRef]
	if !ok {
		return VersionManifest{}, fmt.Errorf("%w: %s", ErrAssetNotFound, assetRef)
	}
	sv, ok := a.findVersion(versionID)
	if !ok {
		return VersionManifest{}, fmt.Errorf("%w: %s version %d", ErrVersionNotFound, assetRef, versionID)
	}

	return VersionManifest{
		VersionID: sv.version.ID,
		Manifest:  NewManifest(sv.entries),
		Comment:   sv.version.Comment,
		CreatedBy: sv.version.CreatedBy,
		CreatedAt: sv.version.CreatedAt,
	}, nil
}

func (s *MemoryContentStore) GetCurrentManifest(ctx context.Context, assetRef string, includeArchived bool) (*Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if assetRef == "" {
		return nil, ErrMissingAssetRef
	}
	if s.OnGetCurrentManifest != nil {
		if err := s.OnGetCurrentManifest(assetRef); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[assetRef]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, assetRef)
	}

	m := NewManifest(nil)
	for _, e := range a.live {
		if e.IsArchived && !includeArchived {
			continue
		}
		m.Append(e)
	}
	return m, nil
}

func (s *MemoryContentStore) CreateVersion(ctx context.Context, assetRef string, in CreateVersionInput) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if assetRef == "" {
		return 0, ErrMissingAssetRef
	}
	if !in.UseLatestFiles && len(in.Files) == 0 {
		return 0, fmt.Errorf("create version: either useLatestFiles or an explicit file list is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.assetLocked(assetRef)

	var entries []FileEntry
	if in.UseLatestFiles {
		entries = append([]FileEntry(nil), a.live...)
	} else {
		entries = make([]FileEntry, 0, len(in.Files))
		for _, pin := range in.Files {
			if live, ok := findEntry(a.live, pin.RelativeKey); ok && live.ContentVersionID == pin.ContentVersionID {
				entries = append(entries, live)
				continue
			}
			entries = append(entries, FileEntry{
				RelativeKey:      pin.RelativeKey,
				ContentVersionID: pin.ContentVersionID,
			})
		}
	}

	return a.appendVersionLocked(entries, in.Comment, in.CreatedBy), nil
}

func (s *MemoryContentStore) RevertToVersion(ctx context.Context, assetRef string, versionID int64, comment string, revertMetadata bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if assetRef == "" {
		return 0, ErrMissingAssetRef
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[assetRef]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrAssetNotFound, assetRef)
	}
	sv, ok := a.findVersion(versionID)
	if !ok {
		return 0, fmt.Errorf("%w: %s version %d", ErrVersionNotFound, assetRef, versionID)
	}

	entries := append([]FileEntry(nil), sv.entries...)
	if revertMetadata {
		a.live = append([]FileEntry(nil), entries...)
	}
	return a.appendVersionLocked(entries, comment, sv.version.CreatedBy), nil
}

func (a *memoryAsset) findVersion(versionID int64) (storedVersion, bool) {
	for _, sv := range a.versions {
		if sv.version.ID == versionID {
			return sv, true
		}
	}
	return storedVersion{}, false
}

// appendVersionLocked creates the next version and invalidates every
// outstanding continuation token for the asset: the listing the tokens
// were walking no longer exists.
func (a *memoryAsset) appendVersionLocked(entries []FileEntry, comment, createdBy string) int64 {
	id := a.nextID
	a.nextID++
	a.versions = append(a.versions, storedVersion{
		version: Version{
			ID:        id,
			CreatedAt: time.Now().UTC(),
			CreatedBy: createdBy,
			Comment:   comment,
			FileCount: len(entries),
		},
		entries: append([]FileEntry(nil), entries...),
	})
	a.currentID = id
	a.tokens = make(map[string]int)
	return id
}

func findEntry(entries []FileEntry, key string) (FileEntry, bool) {
	for _, e := range entries {
		if e.RelativeKey == key {
			return e, true
		}
	}
	return FileEntry{}, false
}
