// Manifest diffing.
//
// ComputeDiff classifies the differences between two file manifests at the
// level of file identity and metadata equality. It does not look at file
// contents; two entries are equal when their content version id, size and
// content digest all match. Archival flags are deliberately excluded from
// the equality tuple, so archiving a file without re-uploading it does not
// show up as a modification.
//
// The entry ordering is a contract: entries are grouped added, removed,
// modified, unchanged, and each group is sorted by byte-wise comparison of
// the relative key. Consumers may rely on it.

package history

import "sort"

// DiffStatus classifies one key in a manifest comparison.
type DiffStatus string

const (
	DiffAdded     DiffStatus = "added"
	DiffRemoved   DiffStatus = "removed"
	DiffModified  DiffStatus = "modified"
	DiffUnchanged DiffStatus = "unchanged"
)

var diffStatusRank = map[DiffStatus]int{
	DiffAdded:     1,
	DiffRemoved:   2,
	DiffModified:  3,
	DiffUnchanged: 4,
}

// DiffEntry is the classification of one relative key. EntryA is nil for
// added keys, EntryB is nil for removed keys.
type DiffEntry struct {
	RelativeKey string     `json:"relative_key"`
	Status      DiffStatus `json:"status"`
	EntryA      *FileEntry `json:"entry_a,omitempty"`
	EntryB      *FileEntry `json:"entry_b,omitempty"`
}

// DiffSummary tallies the entry statuses.
type DiffSummary struct {
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Modified  int `json:"modified"`
	Unchanged int `json:"unchanged"`
	Total     int `json:"total"`
}

// DiffResult is the full classified comparison of two manifests. Every key
// from the union of both manifests appears exactly once in Entries.
type DiffResult struct {
	Entries []DiffEntry `json:"entries"`
	Summary DiffSummary `json:"summary"`
}

// sameFileRevision reports metadata equality over the tuple
// (ContentVersionID, Size, ContentDigest).
func sameFileRevision(a, b FileEntry) bool {
	return a.ContentVersionID == b.ContentVersionID &&
		a.Size == b.Size &&
		a.ContentDigest == b.ContentDigest
}

// ComputeDiff compares manifest a (older side) against manifest b (newer
// side). It is a pure function and cannot fail for well-formed manifests;
// nil manifests are treated as empty.
func ComputeDiff(a, b *Manifest) DiffResult {
	entries := make([]DiffEntry, 0, a.Len()+b.Len())

	for _, ea := range a.Entries() {
		ea := ea
		eb, inB := b.Get(ea.RelativeKey)
		switch {
		case !inB:
			entries = append(entries, DiffEntry{RelativeKey: ea.RelativeKey, Status: DiffRemoved, EntryA: &ea})
		case sameFileRevision(ea, eb):
			eb := eb
			entries = append(entries, DiffEntry{RelativeKey: ea.RelativeKey, Status: DiffUnchanged, EntryA: &ea, EntryB: &eb})
		default:
			eb := eb
			entries = append(entries, DiffEntry{RelativeKey: ea.RelativeKey, Status: DiffModified, EntryA: &ea, EntryB: &eb})
		}
	}
	for _, eb := range b.Entries() {
		if _, inA := a.Get(eb.RelativeKey); inA {
			continue
		}
		eb := eb
		entries = append(entries, DiffEntry{RelativeKey: eb.RelativeKey, Status: DiffAdded, EntryB: &eb})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		ri, rj := diffStatusRank[entries[i].Status], diffStatusRank[entries[j].Status]
		if ri != rj {
			return ri < rj
		}
		return entries[i].RelativeKey < entries[j].RelativeKey
	})

	summary := DiffSummary{Total: len(entries)}
	for _, e := range entries {
		switch e.Status {
		case DiffAdded:
			summary.Added++
		case DiffRemoved:
			summary.Removed++
		case DiffModified:
			summary.Modified++
		case DiffUnchanged:
			summary.Unchanged++
		}
	}

	return DiffResult{Entries: entries, Summary: summary}
}
