package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/awslabs/visual-asset-management-system-sub003/history"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, cfg AppConfig) (string, *history.MemoryContentStore, *App) {
	t.Helper()

	store := history.NewMemoryContentStore()
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		store.SetLive("asset-1", history.SeedEntries(i))
		_, err := store.CreateVersion(ctx, "asset-1", history.CreateVersionInput{
			UseLatestFiles: true,
			Comment:        fmt.Sprintf("checkpoint %d", i),
			CreatedBy:      "alice",
		})
		require.NoError(t, err)
	}

	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:0"
	}
	app := NewApp(store, cfg)
	require.NoError(t, app.Start())
	t.Cleanup(func() {
		_ = app.Stop(context.Background())
		_ = app.Wait()
	})
	require.NotEmpty(t, app.Address())
	return "http://" + app.Address(), store, app
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body, out any) int {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestAppHTTP(t *testing.T) {
	t.Run("endpoints", testAppEndpoints)
	t.Run("list_versions", testAppListVersions)
	t.Run("manifest", testAppManifest)
	t.Run("diff", testAppDiff)
	t.Run("diff_archived_unchanged", testAppDiffArchivedUnchanged)
	t.Run("create_and_revert", testAppCreateAndRevert)
	t.Run("view_eviction", testAppViewEviction)
}

func testAppEndpoints(t *testing.T) {
	base, _, _ := newTestApp(t, AppConfig{})

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{name: "healthz", method: http.MethodGet, path: "/healthz", status: http.StatusOK},
		{name: "metrics_app", method: http.MethodGet, path: "/metrics/app", status: http.StatusOK},
		{name: "versions", method: http.MethodGet, path: "/assets/asset-1/versions", status: http.StatusOK},
		{name: "versions_unknown_asset", method: http.MethodGet, path: "/assets/nope/versions", status: http.StatusNotFound},
		{name: "manifest", method: http.MethodGet, path: "/assets/asset-1/versions/1/manifest", status: http.StatusOK},
		{name: "manifest_unknown_version", method: http.MethodGet, path: "/assets/asset-1/versions/42/manifest", status: http.StatusNotFound},
		{name: "manifest_bad_id", method: http.MethodGet, path: "/assets/asset-1/versions/abc/manifest", status: http.StatusBadRequest},
		{name: "diff_missing_params", method: http.MethodGet, path: "/assets/asset-1/diff", status: http.StatusBadRequest},
		{name: "diff_bad_side", method: http.MethodGet, path: "/assets/asset-1/diff?a=1&b=nope", status: http.StatusBadRequest},
		{name: "versions_bad_page", method: http.MethodGet, path: "/assets/asset-1/versions?page=0", status: http.StatusBadRequest},
		{name: "versions_bad_sort", method: http.MethodGet, path: "/assets/asset-1/versions?sortBy=size", status: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, base+tc.path, nil)
			require.NoError(t, err)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func testAppListVersions(t *testing.T) {
	base, _, _ := newTestApp(t, AppConfig{})

	var list struct {
		Items []struct {
			ID        int64  `json:"id"`
			Comment   string `json:"comment"`
			IsCurrent bool   `json:"is_current"`
		} `json:"items"`
		Total      int  `json:"total"`
		TotalExact bool `json:"total_exact"`
		LowerBound bool `json:"lower_bound"`
		Page       int  `json:"page"`
	}
	status := getJSON(t, base+"/assets/asset-1/versions", &list)
	require.Equal(t, http.StatusOK, status)

	require.Len(t, list.Items, 3)
	assert.Equal(t, int64(3), list.Items[0].ID)
	assert.True(t, list.Items[0].IsCurrent)
	assert.Equal(t, 3, list.Total)
	assert.True(t, list.TotalExact)
	assert.False(t, list.LowerBound)

	// Filtered listing matches on the comment.
	status = getJSON(t, base+"/assets/asset-1/versions?filter=checkpoint+2", &list)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "checkpoint 2", list.Items[0].Comment)

	// Sorted ascending by id.
	status = getJSON(t, base+"/assets/asset-1/versions?filter=&sortBy=id&sortDir=asc", &list)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, list.Items, 3)
	assert.Equal(t, int64(1), list.Items[0].ID)
}

func testAppManifest(t *testing.T) {
	base, _, _ := newTestApp(t, AppConfig{})

	var manifest manifestResponse
	status := getJSON(t, base+"/assets/asset-1/versions/2/manifest", &manifest)
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, int64(2), manifest.VersionID)
	assert.Equal(t, "checkpoint 2", manifest.Comment)
	require.Len(t, manifest.Entries, 3)
}

func testAppDiff(t *testing.T) {
	base, _, _ := newTestApp(t, AppConfig{})

	var result history.DiffResult
	status := getJSON(t, base+"/assets/asset-1/diff?a=1&b=3", &result)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, result.Summary.Modified)
	assert.Equal(t, 2, result.Summary.Unchanged)

	// Comparing the newest version with the live manifest shows no change.
	status = getJSON(t, base+"/assets/asset-1/diff?a=3&b=current", &result)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 3, result.Summary.Unchanged)
	assert.Zero(t, result.Summary.Added+result.Summary.Removed+result.Summary.Modified)
}

func testAppDiffArchivedUnchanged(t *testing.T) {
	base, store, _ := newTestApp(t, AppConfig{})

	// Archiving a file without re-uploading it is not a content change.
	live := history.SeedEntries(3)
	live[2].IsArchived = true
	store.SetLive("asset-1", live)

	var result history.DiffResult
	status := getJSON(t, base+"/assets/asset-1/diff?a=3&b=current", &result)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 3, result.Summary.Unchanged)
	assert.Zero(t, result.Summary.Added+result.Summary.Removed+result.Summary.Modified)
}

func testAppCreateAndRevert(t *testing.T) {
	base, store, _ := newTestApp(t, AppConfig{})

	store.SetLive("asset-1", history.SeedEntries(8))
	var created struct {
		ID int64 `json:"id"`
	}
	status := postJSON(t, base+"/assets/asset-1/versions", createVersionRequest{
		UseLatestFiles: true,
		Comment:        "snapshot after edit",
		CreatedBy:      "carol",
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, int64(4), created.ID)

	// The cached view was invalidated; the new version appears immediately.
	var list struct {
		Items []struct {
			ID int64 `json:"id"`
		} `json:"items"`
	}
	status = getJSON(t, base+"/assets/asset-1/versions", &list)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, list.Items, 4)
	assert.Equal(t, int64(4), list.Items[0].ID)

	var reverted struct {
		ID int64 `json:"id"`
	}
	status = postJSON(t, base+"/assets/asset-1/versions/1/revert", revertRequest{
		Comment:        "back to checkpoint 1",
		RevertMetadata: true,
	}, &reverted)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(5), reverted.ID)

	var result history.DiffResult
	status = getJSON(t, base+"/assets/asset-1/diff?a=1&b=current", &result)
	require.Equal(t, http.StatusOK, status)
	assert.Zero(t, result.Summary.Modified)

	// Rejected creations do not allocate version ids.
	status = postJSON(t, base+"/assets/asset-1/versions", createVersionRequest{
		Comment: "no source",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func testAppViewEviction(t *testing.T) {
	base, _, app := newTestApp(t, AppConfig{
		ViewIdleTTL:          50 * time.Millisecond,
		ViewEvictionInterval: 20 * time.Millisecond,
	})

	status := getJSON(t, base+"/assets/asset-1/versions", nil)
	require.Equal(t, http.StatusOK, status)

	app.viewMu.Lock()
	seeded := len(app.views)
	app.viewMu.Unlock()
	require.Equal(t, 1, seeded)

	require.Eventually(t, func() bool {
		app.viewMu.Lock()
		defer app.viewMu.Unlock()
		return len(app.views) == 0
	}, 2*time.Second, 20*time.Millisecond)
}
