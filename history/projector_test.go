package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func projectorFixture() []Version {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return []Version{
		{ID: 1, CreatedAt: base.Add(1 * time.Hour), CreatedBy: "alice", Comment: "initial import"},
		{ID: 2, CreatedAt: base.Add(2 * time.Hour), CreatedBy: "bob", Comment: "retopo pass"},
		{ID: 3, CreatedAt: base.Add(3 * time.Hour), CreatedBy: "alice", Comment: "Texture fixes"},
		{ID: 4, CreatedAt: base.Add(4 * time.Hour), CreatedBy: "carol", Comment: "final review"},
	}
}

func versionIDs(versions []Version) []int64 {
	ids := make([]int64, 0, len(versions))
	for _, v := range versions {
		ids = append(ids, v.ID)
	}
	return ids
}

func TestProjectFilter(t *testing.T) {
	versions := projectorFixture()

	tests := []struct {
		name   string
		filter string
		want   []int64
	}{
		{name: "empty passes all", filter: "", want: []int64{4, 3, 2, 1}},
		{name: "whitespace passes all", filter: "   \t", want: []int64{4, 3, 2, 1}},
		{name: "comment case insensitive", filter: "texture", want: []int64{3}},
		{name: "author", filter: "alice", want: []int64{3, 1}},
		{name: "formatted timestamp", filter: "2024-03-01 15", want: []int64{3}},
		{name: "no match", filter: "nonexistent", want: []int64{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Project(versions, tc.filter, DefaultSortSpec())
			assert.Equal(t, tc.want, versionIDs(got))
		})
	}
}

func TestProjectFilterByVersionID(t *testing.T) {
	// Two-digit ids avoid accidental matches against the formatted
	// timestamps, which contain every single digit.
	versions := []Version{
		{ID: 41, CreatedAt: time.Date(2023, 6, 5, 9, 0, 0, 0, time.UTC)},
		{ID: 42, CreatedAt: time.Date(2023, 6, 5, 9, 30, 0, 0, time.UTC)},
	}

	got := Project(versions, "42", DefaultSortSpec())
	assert.Equal(t, []int64{42}, versionIDs(got))
}

func TestProjectSort(t *testing.T) {
	versions := projectorFixture()

	tests := []struct {
		name string
		spec SortSpec
		want []int64
	}{
		{name: "default newest first", spec: DefaultSortSpec(), want: []int64{4, 3, 2, 1}},
		{name: "modified ascending", spec: SortSpec{Field: SortByModified, Direction: SortAscending}, want: []int64{1, 2, 3, 4}},
		{name: "id ascending", spec: SortSpec{Field: SortByID, Direction: SortAscending}, want: []int64{1, 2, 3, 4}},
		{name: "id descending", spec: SortSpec{Field: SortByID, Direction: SortDescending}, want: []int64{4, 3, 2, 1}},
		{name: "author ascending", spec: SortSpec{Field: SortByAuthor, Direction: SortAscending}, want: []int64{1, 3, 2, 4}},
		{name: "comment ascending", spec: SortSpec{Field: SortByComment, Direction: SortAscending}, want: []int64{3, 4, 1, 2}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Project(versions, "", tc.spec)
			assert.Equal(t, tc.want, versionIDs(got))
		})
	}
}

func TestProjectStableOnEqualKeys(t *testing.T) {
	versions := projectorFixture()
	// alice authored 1 and 3; within equal authors the input order holds.
	got := Project(versions, "", SortSpec{Field: SortByAuthor, Direction: SortAscending})
	require.Len(t, got, 4)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, int64(3), got[1].ID)
}

func TestProjectDoesNotMutateInput(t *testing.T) {
	versions := projectorFixture()
	before := versionIDs(versions)

	_ = Project(versions, "", SortSpec{Field: SortByID, Direction: SortDescending})
	_ = Project(versions, "alice", DefaultSortSpec())

	assert.Equal(t, before, versionIDs(versions))
}
