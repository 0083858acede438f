package history

import (
	"context"
	"time"
)

// Version is one immutable snapshot in an asset's history. Versions are
// created by the content store on create/revert and never mutated here.
type Version struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
	Comment   string    `json:"comment"`
	IsCurrent bool      `json:"is_current"`
	FileCount int       `json:"file_count"`
}

// FileEntry is one file record inside a manifest. Size, LastModified and
// ContentDigest are zero-valued when the store does not report them.
type FileEntry struct {
	RelativeKey          string    `json:"relative_key"`
	ContentVersionID     string    `json:"content_version_id"`
	IsArchived           bool      `json:"is_archived"`
	IsPermanentlyDeleted bool      `json:"is_permanently_deleted"`
	Size                 int64     `json:"size,omitempty"`
	LastModified         time.Time `json:"last_modified,omitempty"`
	ContentDigest        string    `json:"content_digest,omitempty"`
}

// VersionPage is one page of a version listing. Total is the store-reported
// count across all pages, or -1 when the store does not report one.
// NextToken is an opaque continuation cursor, empty on the last page.
type VersionPage struct {
	Versions  []Version
	NextToken string
	Total     int
}

// VersionManifest is the full detail record for one version.
type VersionManifest struct {
	VersionID int64
	Manifest  *Manifest
	Comment   string
	CreatedBy string
	CreatedAt time.Time
}

// CreateVersionInput describes a version-creation request. When
// UseLatestFiles is set the store snapshots the live manifest; otherwise
// Files lists the (relativeKey, contentVersionID) pairs to pin.
type CreateVersionInput struct {
	UseLatestFiles bool
	Files          []FilePin
	Comment        string
	CreatedBy      string
}

// FilePin pins a single file at a specific content version.
type FilePin struct {
	RelativeKey      string `json:"relative_key"`
	ContentVersionID string `json:"content_version_id"`
}

// ContentStore is the collaborator contract for asset version storage.
// Transport and auth are the implementation's concern. Continuation tokens
// returned by ListVersions are valid only for one linear forward walk.
type ContentStore interface {
	// ListVersions returns one page of versions, newest first. An empty
	// token requests the first page.
	ListVersions(ctx context.Context, assetRef string, pageSize int, token string) (VersionPage, error)

	// GetVersionManifest returns the full manifest for one version.
	// Returns ErrVersionNotFound if the version does not exist.
	GetVersionManifest(ctx context.Context, assetRef string, versionID int64) (VersionManifest, error)

	// GetCurrentManifest returns the live (unversioned) manifest. Archived
	// files are excluded unless includeArchived is set.
	GetCurrentManifest(ctx context.Context, assetRef string, includeArchived bool) (*Manifest, error)

	// CreateVersion snapshots a new version and returns its id.
	CreateVersion(ctx context.Context, assetRef string, in CreateVersionInput) (int64, error)

	// RevertToVersion creates a new version whose manifest is copied from
	// versionID and returns the new version's id.
	RevertToVersion(ctx context.Context, assetRef string, versionID int64, comment string, revertMetadata bool) (int64, error)
}
