// S3-backed ContentStore.
//
// Layout (under the optional key prefix):
//
//   assets/<assetRef>/versions/<inverted-id>.json  immutable version record
//   assets/<assetRef>/live.json                    live manifest entries
//
// Version object keys embed the id inverted against MaxInt64 and
// zero-padded, so S3's lexicographic listing order yields newest-first
// pages and ListObjectsV2 continuation tokens can be handed to callers
// unchanged. S3 reports no total count, so listings return Total = -1 and
// callers estimate.
//
// Version records are immutable: creation uses If-None-Match so a key
// collision surfaces as ErrVersionConflict instead of overwriting history.

package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// S3ContentStore implements ContentStore on an S3 bucket.
type S3ContentStore struct {
	Client *s3.Client
	Bucket string
	Prefix string
}

// NewS3ContentStore creates an S3-backed store. The prefix is optional and
// is prepended to every key.
func NewS3ContentStore(client *s3.Client, bucket, prefix string) *S3ContentStore {
	return &S3ContentStore{Client: client, Bucket: bucket, Prefix: prefix}
}

// s3VersionDoc is the JSON schema of one version object.
type s3VersionDoc struct {
	ID        int64       `json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	CreatedBy string      `json:"created_by"`
	Comment   string      `json:"comment"`
	Entries   []FileEntry `json:"entries"`
}

type s3LiveDoc struct {
	Entries []FileEntry `json:"entries"`
}

func (s *S3ContentStore) versionsPrefix(assetRef string) string {
	return s.Prefix + path.Join("assets", assetRef, "versions") + "/"
}

func (s *S3ContentStore) versionKey(assetRef string, id int64) string {
	// Inverted id: lexicographic ascending listing is newest first.
	return fmt.Sprintf("%s%019d.json", s.versionsPrefix(assetRef), math.MaxInt64-id)
}

func (s *S3ContentStore) liveKey(assetRef string) string {
	return s.Prefix + path.Join("assets", assetRef, "live.json")
}

func versionIDFromKey(key string) (int64, error) {
	base := path.Base(key)
	base = strings.TrimSuffix(base, ".json")
	inverted, err := strconv.ParseInt(base, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: version key %q", ErrMalformedResponse, key)
	}
	return math.MaxInt64 - inverted, nil
}

func (s *S3ContentStore) ListVersions(ctx context.Context, assetRef string, pageSize int, token string) (VersionPage, error) {
	if err := ctx.Err(); err != nil {
		return VersionPage{}, err
	}
	if assetRef == "" {
		return VersionPage{}, ErrMissingAssetRef
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.Bucket),
		Prefix:  aws.String(s.versionsPrefix(assetRef)),
		MaxKeys: aws.Int32(int32(pageSize)),
	}
	if token != "" {
		input.ContinuationToken = aws.String(token)
	}

	out, err := s.Client.ListObjectsV2(ctx, input)
	if err != nil {
		return VersionPage{}, fmt.Errorf("list versions for %s: %w", assetRef, err)
	}

	page := VersionPage{Total: -1}
	currentSeen := false
	for _, obj := range out.Contents {
		doc, err := s.getVersionDoc(ctx, aws.ToString(obj.Key))
		if err != nil {
			return VersionPage{}, err
		}
		v := Version{
			ID:        doc.ID,
			CreatedAt: doc.CreatedAt,
			CreatedBy: doc.CreatedBy,
			Comment:   doc.Comment,
			FileCount: len(doc.Entries),
		}
		// Newest-first listing: the first object of the first page is the
		// current version.
		if token == "" && !currentSeen {
			v.IsCurrent = true
			currentSeen = true
		}
		page.Versions = append(page.Versions, v)
	}

	if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
		page.NextToken = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}

func (s *S3ContentStore) GetVersionManifest(ctx context.Context, assetRef string, versionID int64) (VersionManifest, error) {
	if err := ctx.Err(); err != nil {
		return VersionManifest{}, err
	}
	if assetRef == "" {
		return VersionManifest{}, ErrMissingAssetRef
	}

	doc, err := s.getVersionDoc(ctx, s.versionKey(assetRef, versionID))
	if err != nil {
		if isS3NotFound(err) {
			return VersionManifest{}, fmt.Errorf("%w: %s version %d", ErrVersionNotFound, assetRef, versionID)
		}
		return VersionManifest{}, err
	}

	return VersionManifest{
		VersionID: doc.ID,
		Manifest:  NewManifest(doc.Entries),
		Comment:   doc.Comment,
		CreatedBy: doc.CreatedBy,
		CreatedAt: doc.CreatedAt,
	}, nil
}

func (s *S3ContentStore) GetCurrentManifest(ctx context.Context, assetRef string, includeArchived bool) (*Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if assetRef == "" {
		return nil, ErrMissingAssetRef
	}

	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.liveKey(assetRef)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, assetRef)
		}
		return nil, fmt.Errorf("get live manifest for %s: %w", assetRef, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read live manifest for %s: %w", assetRef, err)
	}
	var doc s3LiveDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: live manifest for %s: %v", ErrMalformedResponse, assetRef, err)
	}

	m := NewManifest(nil)
	for _, e := range doc.Entries {
		if e.IsArchived && !includeArchived {
			continue
		}
		m.Append(e)
	}
	return m, nil
}

func (s *S3ContentStore) CreateVersion(ctx context.Context, assetRef string, in CreateVersionInput) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if assetRef == "" {
		return 0, ErrMissingAssetRef
	}
	if !in.UseLatestFiles && len(in.Files) == 0 {
		return 0, fmt.Errorf("create version: either useLatestFiles or an explicit file list is required")
	}

	var entries []FileEntry
	if in.UseLatestFiles {
		live, err := s.GetCurrentManifest(ctx, assetRef, true)
		if err != nil {
			return 0, err
		}
		entries = live.Entries()
	} else {
		entries = make([]FileEntry, 0, len(in.Files))
		for _, pin := range in.Files {
			entries = append(entries, FileEntry{
				RelativeKey:      pin.RelativeKey,
				ContentVersionID: pin.ContentVersionID,
			})
		}
	}

	latest, err := s.latestVersionID(ctx, assetRef)
	if err != nil {
		return 0, err
	}

	doc := s3VersionDoc{
		ID:        latest + 1,
		CreatedAt: time.Now().UTC(),
		CreatedBy: in.CreatedBy,
		Comment:   in.Comment,
		Entries:   entries,
	}
	if err := s.putVersionDoc(ctx, assetRef, doc); err != nil {
		return 0, err
	}
	return doc.ID, nil
}

func (s *S3ContentStore) RevertToVersion(ctx context.Context, assetRef string, versionID int64, comment string, revertMetadata bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if assetRef == "" {
		return 0, ErrMissingAssetRef
	}

	source, err := s.GetVersionManifest(ctx, assetRef, versionID)
	if err != nil {
		return 0, err
	}
	entries := source.Manifest.Entries()

	latest, err := s.latestVersionID(ctx, assetRef)
	if err != nil {
		return 0, err
	}

	doc := s3VersionDoc{
		ID:        latest + 1,
		CreatedAt: time.Now().UTC(),
		CreatedBy: source.CreatedBy,
		Comment:   comment,
		Entries:   entries,
	}
	if err := s.putVersionDoc(ctx, assetRef, doc); err != nil {
		return 0, err
	}

	if revertMetadata {
		if err := s.PutLiveManifest(ctx, assetRef, entries); err != nil {
			return 0, err
		}
	}
	return doc.ID, nil
}

// PutLiveManifest replaces the live manifest document. Exposed so ingest
// tooling and tests can seed the live state.
func (s *S3ContentStore) PutLiveManifest(ctx context.Context, assetRef string, entries []FileEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if assetRef == "" {
		return ErrMissingAssetRef
	}

	data, err := json.Marshal(s3LiveDoc{Entries: entries})
	if err != nil {
		return fmt.Errorf("marshal live manifest for %s: %w", assetRef, err)
	}
	_, err = s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.liveKey(assetRef)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("put live manifest for %s: %w", assetRef, err)
	}
	return nil
}

// latestVersionID reads the newest version id, or 0 when the asset has no
// versions yet. One key is enough: the listing is newest first.
func (s *S3ContentStore) latestVersionID(ctx context.Context, assetRef string) (int64, error) {
	out, err := s.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.Bucket),
		Prefix:  aws.String(s.versionsPrefix(assetRef)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return 0, fmt.Errorf("resolve latest version for %s: %w", assetRef, err)
	}
	if len(out.Contents) == 0 {
		return 0, nil
	}
	return versionIDFromKey(aws.ToString(out.Contents[0].Key))
}

func (s *S3ContentStore) getVersionDoc(ctx context.Context, key string) (s3VersionDoc, error) {
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return s3VersionDoc{}, fmt.Errorf("get version object %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return s3VersionDoc{}, fmt.Errorf("read version object %s: %w", key, err)
	}
	var doc s3VersionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return s3VersionDoc{}, fmt.Errorf("%w: version object %s: %v", ErrMalformedResponse, key, err)
	}
	return doc, nil
}

// putVersionDoc writes an immutable version record. If-None-Match turns a
// concurrent write of the same id into ErrVersionConflict.
func (s *S3ContentStore) putVersionDoc(ctx context.Context, assetRef string, doc s3VersionDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal version %d for %s: %w", doc.ID, assetRef, err)
	}

	_, err = s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(s.versionKey(assetRef, doc.ID)),
		Body:        bytes.NewReader(data),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		var responseErr *smithyhttp.ResponseError
		if errors.As(err, &responseErr) && responseErr.HTTPStatusCode() == 412 {
			return fmt.Errorf("%w: version %d for %s already exists", ErrVersionConflict, doc.ID, assetRef)
		}
		return fmt.Errorf("put version %d for %s: %w", doc.ID, assetRef, err)
	}
	return nil
}

func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var responseErr *smithyhttp.ResponseError
	return errors.As(err, &responseErr) && responseErr.HTTPStatusCode() == 404
}
