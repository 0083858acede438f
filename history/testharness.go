package history

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// TestHarness provides a fluent API for setting up version-history test
// fixtures over an in-memory content store.
//
// Example:
//
//	harness := NewTestHarness(t, "asset-1").WithVersionCount(12).Setup()
//	view := harness.View()
type TestHarness struct {
	t        *testing.T
	assetRef string

	store        *MemoryContentStore
	view         *AssetView
	versionCount int
	viewOptions  []ViewOption

	initialized bool
}

// harnessBaseTime keeps seeded timestamps deterministic across runs.
var harnessBaseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// NewTestHarness creates a harness for one asset with three seeded
// versions by default.
func NewTestHarness(t *testing.T, assetRef string) *TestHarness {
	return &TestHarness{
		t:            t,
		assetRef:     assetRef,
		versionCount: 3,
	}
}

// WithVersionCount seeds n versions during Setup.
func (h *TestHarness) WithVersionCount(n int) *TestHarness {
	h.versionCount = n
	return h
}

// WithStore uses an existing store instead of creating a fresh one. Useful
// when a test needs to install hooks before seeding.
func (h *TestHarness) WithStore(store *MemoryContentStore) *TestHarness {
	h.store = store
	return h
}

// WithViewOptions passes extra options to the AssetView constructor.
func (h *TestHarness) WithViewOptions(opts ...ViewOption) *TestHarness {
	h.viewOptions = append(h.viewOptions, opts...)
	return h
}

// Setup seeds the store and builds the view. Version i (1-based) carries
// the comment "checkpoint i", alternating authors, a creation time i hours
// after the harness base time, and a manifest whose model file content
// revision changes every version.
func (h *TestHarness) Setup() *TestHarness {
	if h.initialized {
		h.t.Fatal("harness already initialized")
	}
	if h.store == nil {
		h.store = NewMemoryContentStore()
	}

	ctx := context.Background()
	authors := []string{"alice", "bob"}
	for i := 1; i <= h.versionCount; i++ {
		h.store.SetLive(h.assetRef, SeedEntries(i))
		if _, err := h.store.CreateVersion(ctx, h.assetRef, CreateVersionInput{
			UseLatestFiles: true,
			Comment:        fmt.Sprintf("checkpoint %d", i),
			CreatedBy:      authors[(i-1)%len(authors)],
		}); err != nil {
			h.t.Fatalf("seed version %d: %v", i, err)
		}
		// Pin deterministic creation times for sort/filter assertions.
		h.store.mu.Lock()
		a := h.store.assets[h.assetRef]
		a.versions[len(a.versions)-1].version.CreatedAt = harnessBaseTime.Add(time.Duration(i) * time.Hour)
		h.store.mu.Unlock()
	}

	view, err := NewAssetView(h.store, h.assetRef, h.viewOptions...)
	if err != nil {
		h.t.Fatalf("build view: %v", err)
	}
	h.view = view
	h.initialized = true
	return h
}

// Store returns the backing in-memory store.
func (h *TestHarness) Store() *MemoryContentStore {
	if !h.initialized {
		h.t.Fatal("harness not initialized, call Setup() first")
	}
	return h.store
}

// View returns the AssetView.
func (h *TestHarness) View() *AssetView {
	if !h.initialized {
		h.t.Fatal("harness not initialized, call Setup() first")
	}
	return h.view
}

// AssetRef returns the asset reference.
func (h *TestHarness) AssetRef() string {
	return h.assetRef
}

// SeedEntries builds the deterministic live manifest used for seeded
// version i: a model file whose content revision changes per version plus
// two stable supporting files.
func SeedEntries(i int) []FileEntry {
	return []FileEntry{
		{
			RelativeKey:      "model.glb",
			ContentVersionID: fmt.Sprintf("cv-model-%d", i),
			Size:             int64(1000 + i),
			LastModified:     harnessBaseTime.Add(time.Duration(i) * time.Hour),
			ContentDigest:    fmt.Sprintf("digest-model-%d", i),
		},
		{
			RelativeKey:      "textures/base.png",
			ContentVersionID: "cv-texture-1",
			Size:             2048,
			LastModified:     harnessBaseTime,
			ContentDigest:    "digest-texture-1",
		},
		{
			RelativeKey:      "preview.jpg",
			ContentVersionID: "cv-preview-1",
			Size:             512,
			LastModified:     harnessBaseTime,
			ContentDigest:    "digest-preview-1",
		},
	}
}
