package history

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awslabs/visual-asset-management-system-sub003/history/testutil"
)

func newS3StoreFixture(t *testing.T) *S3ContentStore {
	t.Helper()
	ctx := context.Background()

	mock, err := testutil.StartMockS3(ctx, "vams-history-test")
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	return NewS3ContentStore(mock.Client, mock.Bucket, "")
}

func seedS3Versions(t *testing.T, store *S3ContentStore, assetRef string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		require.NoError(t, store.PutLiveManifest(ctx, assetRef, SeedEntries(i)))
		id, err := store.CreateVersion(ctx, assetRef, CreateVersionInput{
			UseLatestFiles: true,
			Comment:        fmt.Sprintf("checkpoint %d", i),
			CreatedBy:      "alice",
		})
		require.NoError(t, err)
		require.Equal(t, int64(i), id)
	}
}

func TestS3StoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := newS3StoreFixture(t)
	seedS3Versions(t, store, "asset-1", 3)

	vm, err := store.GetVersionManifest(ctx, "asset-1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), vm.VersionID)
	assert.Equal(t, "checkpoint 2", vm.Comment)
	assert.Equal(t, "alice", vm.CreatedBy)
	got, ok := vm.Manifest.Get("model.glb")
	require.True(t, ok)
	assert.Equal(t, "cv-model-2", got.ContentVersionID)
}

func TestS3StoreListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := newS3StoreFixture(t)
	seedS3Versions(t, store, "asset-1", 5)

	page, err := store.ListVersions(ctx, "asset-1", 10, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 4, 3, 2, 1}, versionIDs(page.Versions))
	assert.True(t, page.Versions[0].IsCurrent)
	assert.False(t, page.Versions[1].IsCurrent)
	assert.Equal(t, -1, page.Total, "S3 reports no count")
	assert.Empty(t, page.NextToken)
}

func TestS3StorePagination(t *testing.T) {
	ctx := context.Background()
	store := newS3StoreFixture(t)
	seedS3Versions(t, store, "asset-1", 7)

	first, err := store.ListVersions(ctx, "asset-1", 3, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 6, 5}, versionIDs(first.Versions))
	require.NotEmpty(t, first.NextToken)

	second, err := store.ListVersions(ctx, "asset-1", 3, first.NextToken)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 3, 2}, versionIDs(second.Versions))
	assert.False(t, second.Versions[0].IsCurrent)
	require.NotEmpty(t, second.NextToken)

	last, err := store.ListVersions(ctx, "asset-1", 3, second.NextToken)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, versionIDs(last.Versions))
	assert.Empty(t, last.NextToken)
}

func TestS3StoreNotFound(t *testing.T) {
	ctx := context.Background()
	store := newS3StoreFixture(t)
	seedS3Versions(t, store, "asset-1", 1)

	_, err := store.GetVersionManifest(ctx, "asset-1", 42)
	assert.ErrorIs(t, err, ErrVersionNotFound)

	_, err = store.GetCurrentManifest(ctx, "unknown-asset", false)
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestS3StoreRevert(t *testing.T) {
	ctx := context.Background()
	store := newS3StoreFixture(t)
	seedS3Versions(t, store, "asset-1", 3)

	id, err := store.RevertToVersion(ctx, "asset-1", 1, "rollback", true)
	require.NoError(t, err)
	assert.Equal(t, int64(4), id)

	vm, err := store.GetVersionManifest(ctx, "asset-1", id)
	require.NoError(t, err)
	got, ok := vm.Manifest.Get("model.glb")
	require.True(t, ok)
	assert.Equal(t, "cv-model-1", got.ContentVersionID)

	live, err := store.GetCurrentManifest(ctx, "asset-1", true)
	require.NoError(t, err)
	gotLive, ok := live.Get("model.glb")
	require.True(t, ok)
	assert.Equal(t, "cv-model-1", gotLive.ContentVersionID)
}

func TestS3StoreArchivedFilter(t *testing.T) {
	ctx := context.Background()
	store := newS3StoreFixture(t)

	entries := SeedEntries(1)
	entries[2].IsArchived = true
	require.NoError(t, store.PutLiveManifest(ctx, "asset-1", entries))

	visible, err := store.GetCurrentManifest(ctx, "asset-1", false)
	require.NoError(t, err)
	assert.Equal(t, 2, visible.Len())
	_, ok := visible.Get("preview.jpg")
	assert.False(t, ok)

	all, err := store.GetCurrentManifest(ctx, "asset-1", true)
	require.NoError(t, err)
	assert.Equal(t, 3, all.Len())
}

func TestS3StoreWithKeyPrefix(t *testing.T) {
	ctx := context.Background()
	mock, err := testutil.StartMockS3(ctx, "vams-history-test")
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	prefixed := NewS3ContentStore(mock.Client, mock.Bucket, "env/staging/")
	bare := NewS3ContentStore(mock.Client, mock.Bucket, "")

	require.NoError(t, prefixed.PutLiveManifest(ctx, "asset-1", SeedEntries(1)))
	_, err = prefixed.CreateVersion(ctx, "asset-1", CreateVersionInput{
		UseLatestFiles: true,
		Comment:        "prefixed",
		CreatedBy:      "alice",
	})
	require.NoError(t, err)

	// The bare store must not see keys written under the prefix.
	_, err = bare.GetCurrentManifest(ctx, "asset-1", true)
	assert.ErrorIs(t, err, ErrAssetNotFound)

	page, err := prefixed.ListVersions(ctx, "asset-1", 10, "")
	require.NoError(t, err)
	assert.Len(t, page.Versions, 1)
}
