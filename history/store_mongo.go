// MongoDB-backed ContentStore.
//
// Version records live in one collection keyed by "<assetRef>:<id>" with
// the asset reference and numeric id as separate indexed fields; the live
// manifest is a single document per asset in a second collection. The
// caller owns the mongo.Client lifecycle.
//
// Pagination is keyset-based: the continuation token encodes the last seen
// version id, and each page selects ids strictly below it, newest first.
// Unlike S3, Mongo can count cheaply, so listings report an exact total.

package history

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoContentStore implements ContentStore on two MongoDB collections.
type MongoContentStore struct {
	Versions *mongo.Collection
	Live     *mongo.Collection
}

// NewMongoContentStore creates a Mongo-backed store from the versions and
// live-manifest collections.
func NewMongoContentStore(versions, live *mongo.Collection) *MongoContentStore {
	return &MongoContentStore{Versions: versions, Live: live}
}

type mongoVersionDoc struct {
	ID        string      `bson:"_id"`
	AssetRef  string      `bson:"asset_ref"`
	VersionID int64       `bson:"version_id"`
	CreatedAt time.Time   `bson:"created_at"`
	CreatedBy string      `bson:"created_by"`
	Comment   string      `bson:"comment"`
	Entries   []FileEntry `bson:"entries"`
}

type mongoLiveDoc struct {
	ID      string      `bson:"_id"`
	Entries []FileEntry `bson:"entries"`
}

func mongoVersionDocID(assetRef string, versionID int64) string {
	return fmt.Sprintf("%s:%019d", assetRef, versionID)
}

const mongoTokenPrefix = "after:"

func encodeMongoToken(lastID int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(mongoTokenPrefix + strconv.FormatInt(lastID, 10)))
}

func decodeMongoToken(token string) (int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrStaleToken, token)
	}
	s := string(raw)
	if !strings.HasPrefix(s, mongoTokenPrefix) {
		return 0, fmt.Errorf("%w: %s", ErrStaleToken, token)
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(s, mongoTokenPrefix), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrStaleToken, token)
	}
	return id, nil
}

func (s *MongoContentStore) ListVersions(ctx context.Context, assetRef string, pageSize int, token string) (VersionPage, error) {
	if err := ctx.Err(); err != nil {
		return VersionPage{}, err
	}
	if assetRef == "" {
		return VersionPage{}, ErrMissingAssetRef
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	filter := bson.M{"asset_ref": assetRef}
	if token != "" {
		lastID, err := decodeMongoToken(token)
		if err != nil {
			return VersionPage{}, err
		}
		filter["version_id"] = bson.M{"$lt": lastID}
	}

	total, err := s.Versions.CountDocuments(ctx, bson.M{"asset_ref": assetRef})
	if err != nil {
		return VersionPage{}, fmt.Errorf("count versions for %s: %w", assetRef, err)
	}
	if total == 0 {
		return VersionPage{}, fmt.Errorf("%w: %s", ErrAssetNotFound, assetRef)
	}

	// Fetch one extra row to learn whether a next page exists.
	cursor, err := s.Versions.Find(ctx, filter,
		options.Find().
			SetSort(bson.D{{Key: "version_id", Value: -1}}).
			SetLimit(int64(pageSize)+1),
	)
	if err != nil {
		return VersionPage{}, fmt.Errorf("list versions for %s: %w", assetRef, err)
	}
	var docs []mongoVersionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return VersionPage{}, fmt.Errorf("%w: decode version listing for %s: %v", ErrMalformedResponse, assetRef, err)
	}

	page := VersionPage{Total: int(total)}
	hasMore := len(docs) > pageSize
	if hasMore {
		docs = docs[:pageSize]
	}
	for i, doc := range docs {
		v := Version{
			ID:        doc.VersionID,
			CreatedAt: doc.CreatedAt,
			CreatedBy: doc.CreatedBy,
			Comment:   doc.Comment,
			FileCount: len(doc.Entries),
		}
		if token == "" && i == 0 {
			v.IsCurrent = true
		}
		page.Versions = append(page.Versions, v)
	}
	if hasMore && len(docs) > 0 {
		page.NextToken = encodeMongoToken(docs[len(docs)-1].VersionID)
	}
	return page, nil
}

func (s *MongoContentStore) GetVersionManifest(ctx context.Context, assetRef string, versionID int64) (VersionManifest, error) {
	if err := ctx.Err(); err != nil {
		return VersionManifest{}, err
	}
	if assetRef == "" {
		return VersionManifest{}, ErrMissingAssetRef
	}

	var doc mongoVersionDoc
	err := s.Versions.FindOne(ctx, bson.M{"_id": mongoVersionDocID(assetRef, versionID)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return VersionManifest{}, fmt.Errorf("%w: %s version %d", ErrVersionNotFound, assetRef, versionID)
		}
		return VersionManifest{}, fmt.Errorf("get version %d for %s: %w", versionID, assetRef, err)
	}

	return VersionManifest{
		VersionID: doc.VersionID,
		Manifest:  NewManifest(doc.Entries),
		Comment:   doc.Comment,
		CreatedBy: doc.CreatedBy,
		CreatedAt: doc.CreatedAt,
	}, nil
}

func (s *MongoContentStore) GetCurrentManifest(ctx context.Context, assetRef string, includeArchived bool) (*Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if assetRef == "" {
		return nil, ErrMissingAssetRef
	}

	var doc mongoLiveDoc
	err := s.Live.FindOne(ctx, bson.M{"_id": assetRef}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, assetRef)
		}
		return nil, fmt.Errorf("get live manifest for %s: %w", assetRef, err)
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

func (s *MongoContentStore) CreateVersion(ctx context.Context, assetRef string, in CreateVersionInput) (int64, error) {
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

	return s.insertVersion(ctx, assetRef, entries, in.Comment, in.CreatedBy)
}

func (s *MongoContentStore) RevertToVersion(ctx context.Context, assetRef string, versionID int64, comment string, revertMetadata bool) (int64, error) {
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

	newID, err := s.insertVersion(ctx, assetRef, entries, comment, source.CreatedBy)
	if err != nil {
		return 0, err
	}

	if revertMetadata {
		if err := s.PutLiveManifest(ctx, assetRef, entries); err != nil {
			return 0, err
		}
	}
	return newID, nil
}

// PutLiveManifest replaces the live manifest document. Exposed so ingest
// tooling and tests can seed the live state.
func (s *MongoContentStore) PutLiveManifest(ctx context.Context, assetRef string, entries []FileEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if assetRef == "" {
		return ErrMissingAssetRef
	}

	_, err := s.Live.ReplaceOne(ctx,
		bson.M{"_id": assetRef},
		mongoLiveDoc{ID: assetRef, Entries: entries},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("put live manifest for %s: %w", assetRef, err)
	}
	return nil
}

// insertVersion allocates the next id and inserts the version record. The
// "<assetRef>:<id>" primary key turns a concurrent allocation of the same
// id into a duplicate-key error, surfaced as ErrVersionConflict.
func (s *MongoContentStore) insertVersion(ctx context.Context, assetRef string, entries []FileEntry, comment, createdBy string) (int64, error) {
	var latest mongoVersionDoc
	err := s.Versions.FindOne(ctx, bson.M{"asset_ref": assetRef},
		options.FindOne().SetSort(bson.D{{Key: "version_id", Value: -1}}),
	).Decode(&latest)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, fmt.Errorf("resolve latest version for %s: %w", assetRef, err)
	}

	newID := latest.VersionID + 1
	doc := mongoVersionDoc{
		ID:        mongoVersionDocID(assetRef, newID),
		AssetRef:  assetRef,
		VersionID: newID,
		CreatedAt: time.Now().UTC(),
		CreatedBy: createdBy,
		Comment:   comment,
		Entries:   entries,
	}
	if _, err := s.Versions.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return 0, fmt.Errorf("%w: version %d for %s already exists", ErrVersionConflict, newID, assetRef)
		}
		return 0, fmt.Errorf("insert version %d for %s: %w", newID, assetRef, err)
	}
	return newID, nil
}
