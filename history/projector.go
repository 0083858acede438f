package history

import (
	"sort"
	"strconv"
	"strings"
)

// SortField selects the version attribute to order by.
type SortField string

const (
	SortByID       SortField = "id"
	SortByModified SortField = "modified"
	SortByAuthor   SortField = "author"
	SortByComment  SortField = "comment"
)

// SortDirection orders ascending or descending.
type SortDirection string

const (
	SortAscending  SortDirection = "asc"
	SortDescending SortDirection = "desc"
)

// SortSpec pairs a field with a direction.
type SortSpec struct {
	Field     SortField
	Direction SortDirection
}

// DefaultSortSpec orders by modification timestamp, newest first.
func DefaultSortSpec() SortSpec {
	return SortSpec{Field: SortByModified, Direction: SortDescending}
}

// filterTimestampLayout is the formatted timestamp users see in the version
// table; the filter matches against the same rendering.
const filterTimestampLayout = "2006-01-02 15:04:05"

// Project applies the text filter and then a stable sort to versions. The
// input slice is not mutated. An empty or whitespace-only filter passes
// every version through.
func Project(versions []Version, filterText string, spec SortSpec) []Version {
	needle := strings.ToLower(strings.TrimSpace(filterText))

	out := make([]Version, 0, len(versions))
	for _, v := range versions {
		if needle == "" || versionMatches(v, needle) {
			out = append(out, v)
		}
	}

	sortVersions(out, spec)
	return out
}

// versionMatches keeps a version when any of its user-visible fields
// contains the lowercased needle.
func versionMatches(v Version, needle string) bool {
	fields := []string{
		strconv.FormatInt(v.ID, 10),
		strings.ToLower(v.Comment),
		strings.ToLower(v.CreatedBy),
		v.CreatedAt.Format(filterTimestampLayout),
	}
	for _, f := range fields {
		if strings.Contains(f, needle) {
			return true
		}
	}
	return false
}

func sortVersions(versions []Version, spec SortSpec) {
	less := lessFunc(spec.Field)
	if spec.Direction == SortDescending {
		inner := less
		less = func(a, b Version) bool { return inner(b, a) }
	}
	sort.SliceStable(versions, func(i, j int) bool {
		return less(versions[i], versions[j])
	})
}

func lessFunc(field SortField) func(a, b Version) bool {
	switch field {
	case SortByID:
		return func(a, b Version) bool { return a.ID < b.ID }
	case SortByAuthor:
		return func(a, b Version) bool { return a.CreatedBy < b.CreatedBy }
	case SortByComment:
		return func(a, b Version) bool { return a.Comment < b.Comment }
	default:
		return func(a, b Version) bool { return a.CreatedAt.Before(b.CreatedAt) }
	}
}
