package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(key, cv string, size int64, digest string) FileEntry {
	return FileEntry{
		RelativeKey:      key,
		ContentVersionID: cv,
		Size:             size,
		ContentDigest:    digest,
	}
}

func TestComputeDiffClassification(t *testing.T) {
	a := NewManifest([]FileEntry{
		entry("kept.glb", "cv-1", 100, "d1"),
		entry("changed.png", "cv-2", 200, "d2"),
		entry("gone.txt", "cv-3", 50, "d3"),
	})
	b := NewManifest([]FileEntry{
		entry("kept.glb", "cv-1", 100, "d1"),
		entry("changed.png", "cv-2b", 210, "d2b"),
		entry("new.bin", "cv-4", 300, "d4"),
	})

	result := ComputeDiff(a, b)

	require.Len(t, result.Entries, 4)
	byKey := make(map[string]DiffEntry, len(result.Entries))
	for _, e := range result.Entries {
		byKey[e.RelativeKey] = e
	}

	assert.Equal(t, DiffUnchanged, byKey["kept.glb"].Status)
	assert.Equal(t, DiffModified, byKey["changed.png"].Status)
	assert.Equal(t, DiffRemoved, byKey["gone.txt"].Status)
	assert.Equal(t, DiffAdded, byKey["new.bin"].Status)

	// Side pointers follow the status.
	assert.Nil(t, byKey["new.bin"].EntryA)
	require.NotNil(t, byKey["new.bin"].EntryB)
	assert.Nil(t, byKey["gone.txt"].EntryB)
	require.NotNil(t, byKey["gone.txt"].EntryA)
	require.NotNil(t, byKey["changed.png"].EntryA)
	require.NotNil(t, byKey["changed.png"].EntryB)
	assert.Equal(t, "cv-2", byKey["changed.png"].EntryA.ContentVersionID)
	assert.Equal(t, "cv-2b", byKey["changed.png"].EntryB.ContentVersionID)

	assert.Equal(t, DiffSummary{Added: 1, Removed: 1, Modified: 1, Unchanged: 1, Total: 4}, result.Summary)
}

func TestComputeDiffEqualityTuple(t *testing.T) {
	base := entry("model.glb", "cv-1", 100, "d1")

	tests := []struct {
		name   string
		mutate func(FileEntry) FileEntry
		want   DiffStatus
	}{
		{
			name:   "identical",
			mutate: func(e FileEntry) FileEntry { return e },
			want:   DiffUnchanged,
		},
		{
			name:   "content version changed",
			mutate: func(e FileEntry) FileEntry { e.ContentVersionID = "cv-2"; return e },
			want:   DiffModified,
		},
		{
			name:   "size changed",
			mutate: func(e FileEntry) FileEntry { e.Size = 101; return e },
			want:   DiffModified,
		},
		{
			name:   "digest changed",
			mutate: func(e FileEntry) FileEntry { e.ContentDigest = "d2"; return e },
			want:   DiffModified,
		},
		{
			name:   "archived flag flipped",
			mutate: func(e FileEntry) FileEntry { e.IsArchived = true; return e },
			want:   DiffUnchanged,
		},
		{
			name:   "permanent delete flag flipped",
			mutate: func(e FileEntry) FileEntry { e.IsPermanentlyDeleted = true; return e },
			want:   DiffUnchanged,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := ComputeDiff(
				NewManifest([]FileEntry{base}),
				NewManifest([]FileEntry{tc.mutate(base)}),
			)
			require.Len(t, result.Entries, 1)
			assert.Equal(t, tc.want, result.Entries[0].Status)
		})
	}
}

func TestComputeDiffOrdering(t *testing.T) {
	a := NewManifest([]FileEntry{
		entry("z-removed.txt", "cv-1", 1, "d"),
		entry("a-removed.txt", "cv-2", 1, "d"),
		entry("m-modified.txt", "cv-3", 1, "d"),
		entry("b-unchanged.txt", "cv-4", 1, "d"),
	})
	b := NewManifest([]FileEntry{
		entry("m-modified.txt", "cv-3b", 2, "d"),
		entry("b-unchanged.txt", "cv-4", 1, "d"),
		entry("z-added.txt", "cv-5", 1, "d"),
		entry("a-added.txt", "cv-6", 1, "d"),
	})

	result := ComputeDiff(a, b)

	got := make([]string, 0, len(result.Entries))
	for _, e := range result.Entries {
		got = append(got, string(e.Status)+":"+e.RelativeKey)
	}
	// Added, removed, modified, unchanged; each group byte-ordered by key.
	assert.Equal(t, []string{
		"added:a-added.txt",
		"added:z-added.txt",
		"removed:a-removed.txt",
		"removed:z-removed.txt",
		"modified:m-modified.txt",
		"unchanged:b-unchanged.txt",
	}, got)
}

func TestComputeDiffCompleteness(t *testing.T) {
	a := NewManifest(SeedEntries(1))
	b := NewManifest(SeedEntries(2))

	result := ComputeDiff(a, b)

	seen := make(map[string]int)
	for _, e := range result.Entries {
		seen[e.RelativeKey]++
	}
	for _, key := range append(a.Keys(), b.Keys()...) {
		assert.Equal(t, 1, seen[key], "key %s must appear exactly once", key)
	}
	assert.Equal(t, result.Summary.Total, len(result.Entries))
	assert.Equal(t, result.Summary.Total,
		result.Summary.Added+result.Summary.Removed+result.Summary.Modified+result.Summary.Unchanged)
}

func TestComputeDiffSelfIsUnchanged(t *testing.T) {
	m := NewManifest(SeedEntries(4))

	result := ComputeDiff(m, m)
	require.Len(t, result.Entries, m.Len())
	for _, e := range result.Entries {
		assert.Equal(t, DiffUnchanged, e.Status, "key %s", e.RelativeKey)
	}
	assert.Equal(t, m.Len(), result.Summary.Unchanged)
}

func TestComputeDiffDeterministic(t *testing.T) {
	a := NewManifest(SeedEntries(3))
	b := NewManifest(SeedEntries(7))

	first := ComputeDiff(a, b)
	second := ComputeDiff(a, b)
	assert.Equal(t, first, second)
}

func TestComputeDiffEmptyAndNil(t *testing.T) {
	m := NewManifest([]FileEntry{entry("only.txt", "cv-1", 1, "d")})

	t.Run("both nil", func(t *testing.T) {
		result := ComputeDiff(nil, nil)
		assert.Empty(t, result.Entries)
		assert.Equal(t, DiffSummary{}, result.Summary)
	})

	t.Run("nil against populated", func(t *testing.T) {
		result := ComputeDiff(nil, m)
		require.Len(t, result.Entries, 1)
		assert.Equal(t, DiffAdded, result.Entries[0].Status)
	})

	t.Run("populated against nil", func(t *testing.T) {
		result := ComputeDiff(m, nil)
		require.Len(t, result.Entries, 1)
		assert.Equal(t, DiffRemoved, result.Entries[0].Status)
	})
}

func TestManifestDuplicateKeyLastWins(t *testing.T) {
	m := NewManifest([]FileEntry{
		entry("dup.txt", "cv-old", 1, "d1"),
		entry("other.txt", "cv-2", 2, "d2"),
		entry("dup.txt", "cv-new", 3, "d3"),
	})

	assert.Equal(t, 2, m.Len())
	got, ok := m.Get("dup.txt")
	require.True(t, ok)
	assert.Equal(t, "cv-new", got.ContentVersionID)
	// Insertion order is preserved; the duplicate keeps its original slot.
	assert.Equal(t, []string{"dup.txt", "other.txt"}, m.Keys())
}
