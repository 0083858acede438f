// Per-asset view orchestration.
//
// AssetView is the surface the presentation layer talks to: it owns one
// VersionPageCache, the filter/sort settings, and one SelectionController,
// and exposes imperative operations (set page, set filter, select version)
// plus snapshot accessors for the projected list and the current diff.
//
// Source-of-truth reconciliation: while a text filter is active the view
// prefers the fully loaded buffer so the filter sees the whole history.
// When the full load has not completed (or failed), filtering falls back to
// the currently loaded page and the reported count is only a lower bound
// over visible data. That limitation is deliberate; the view never guesses
// counts for pages it has not seen.

package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// VersionList is a snapshot of the projected version listing.
type VersionList struct {
	Items      []Version `json:"items"`
	Total      int       `json:"total"`
	TotalExact bool      `json:"total_exact"`
	// LowerBound is set when a filter is active over partially loaded
	// data; Total then counts matches among loaded versions only.
	LowerBound bool  `json:"lower_bound"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Err        error `json:"-"`
}

// AssetView drives the version-history screen for one asset. All methods
// are safe for concurrent use.
type AssetView struct {
	store    ContentStore
	assetRef string
	logger   *slog.Logger

	mu        sync.Mutex
	cache     *VersionPageCache
	selection *SelectionController

	page     int
	pageSize int
	filter   string
	sortSpec SortSpec
	lastErr  error
}

// ViewOption configures an AssetView.
type ViewOption func(*AssetView)

// WithLogger sets the logger for the view and its components.
func WithLogger(logger *slog.Logger) ViewOption {
	return func(v *AssetView) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithPageSize sets the initial page size.
func WithPageSize(n int) ViewOption {
	return func(v *AssetView) {
		if n > 0 {
			v.pageSize = n
		}
	}
}

// WithSortSpec sets the initial sort order.
func WithSortSpec(spec SortSpec) ViewOption {
	return func(v *AssetView) {
		v.sortSpec = spec
	}
}

// NewAssetView creates a view over one asset's history. It fails fast with
// ErrMissingAssetRef before any store call when assetRef is empty.
func NewAssetView(store ContentStore, assetRef string, opts ...ViewOption) (*AssetView, error) {
	if assetRef == "" {
		return nil, ErrMissingAssetRef
	}

	v := &AssetView{
		store:    store,
		assetRef: assetRef,
		logger:   slog.Default(),
		page:     1,
		pageSize: DefaultPageSize,
		sortSpec: DefaultSortSpec(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}

	cache, err := NewVersionPageCache(store, assetRef, v.logger)
	if err != nil {
		return nil, err
	}
	selection, err := NewSelectionController(store, assetRef, false, v.logger)
	if err != nil {
		return nil, err
	}
	v.cache = cache
	v.selection = selection
	return v, nil
}

// SetPage loads the given page (1-based) from the store.
func (v *AssetView) SetPage(ctx context.Context, page int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if page < 1 {
		page = 1
	}
	v.page = page
	_, err := v.cache.LoadPage(ctx, page, v.pageSize)
	v.lastErr = err
	return err
}

// SetPageSize changes the page size. Cached continuation tokens are tied to
// the old size, so the listing reloads from the first page.
func (v *AssetView) SetPageSize(ctx context.Context, n int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if n <= 0 {
		n = DefaultPageSize
	}
	v.pageSize = n
	v.page = 1
	v.cache.Invalidate()
	_, err := v.cache.LoadPage(ctx, 1, n)
	v.lastErr = err
	return err
}

// SetFilter updates the filter text. Activating a filter triggers a
// sequential full-history load so matching is accurate across every page;
// if that load fails the view stays usable and filters over the loaded
// page only, reporting a lower-bound count.
func (v *AssetView) SetFilter(ctx context.Context, text string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.filter = text

	if !filterActive(text) {
		return nil
	}
	if _, complete := v.cache.Buffer(); complete {
		return nil
	}
	if _, err := v.cache.LoadAll(ctx, v.pageSize); err != nil {
		v.logger.WarnContext(ctx, "full history load for filtering failed, falling back to loaded page",
			"asset", v.assetRef,
			"error", err,
		)
		v.lastErr = err
		return err
	}
	return nil
}

// PageSize returns the current page size.
func (v *AssetView) PageSize() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pageSize
}

// SetSort updates the sort order. Sorting is applied client-side over
// loaded data, so no store call is needed.
func (v *AssetView) SetSort(field SortField, direction SortDirection) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sortSpec = SortSpec{Field: field, Direction: direction}
}

// Versions returns the current projected listing snapshot.
func (v *AssetView) Versions() VersionList {
	v.mu.Lock()
	defer v.mu.Unlock()

	list := VersionList{
		Page:     v.page,
		PageSize: v.pageSize,
		Err:      v.lastErr,
	}

	if filterActive(v.filter) {
		if buffer, complete := v.cache.Buffer(); complete {
			projected := Project(buffer, v.filter, v.sortSpec)
			list.Total = len(projected)
			list.TotalExact = true
			list.Items = pageWindow(projected, v.page, v.pageSize)
			return list
		}
		// Fallback: filter only what is loaded. The count is a lower
		// bound, not the true count across all remote pages.
		projected := Project(v.cache.CurrentPage(), v.filter, v.sortSpec)
		list.Items = projected
		list.Total = len(projected)
		list.LowerBound = true
		return list
	}

	list.Items = Project(v.cache.CurrentPage(), "", v.sortSpec)
	list.Total, list.TotalExact = v.cache.TotalEstimate()
	return list
}

// SelectVersion points a selection slot at a version.
func (v *AssetView) SelectVersion(ctx context.Context, slot Slot, versionID int64) {
	v.selection.Select(ctx, slot, versionID)
}

// SelectLive points a selection slot at the live manifest.
func (v *AssetView) SelectLive(ctx context.Context, slot Slot) {
	v.selection.SelectLive(ctx, slot)
}

// RefreshSlot forces a re-fetch of a slot's target.
func (v *AssetView) RefreshSlot(ctx context.Context, slot Slot) {
	v.selection.Refresh(ctx, slot)
}

// ClearSlot resets a slot to unselected.
func (v *AssetView) ClearSlot(slot Slot) {
	v.selection.Clear(slot)
}

// SlotState returns the snapshot of one selection slot.
func (v *AssetView) SlotState(slot Slot) SelectionState {
	return v.selection.State(slot)
}

// Diff returns the manifest comparison for the two slots, or nil while
// either slot is not ready.
func (v *AssetView) Diff() *DiffResult {
	return v.selection.Diff()
}

// CreateVersion snapshots a new version and invalidates the listing.
func (v *AssetView) CreateVersion(ctx context.Context, in CreateVersionInput) (int64, error) {
	id, err := v.store.CreateVersion(ctx, v.assetRef, in)
	if err != nil {
		return 0, fmt.Errorf("create version for %s: %w", v.assetRef, err)
	}
	v.mu.Lock()
	v.cache.Invalidate()
	v.mu.Unlock()
	return id, nil
}

// RevertToVersion creates a new version from an old manifest and
// invalidates the listing.
func (v *AssetView) RevertToVersion(ctx context.Context, versionID int64, comment string, revertMetadata bool) (int64, error) {
	id, err := v.store.RevertToVersion(ctx, v.assetRef, versionID, comment, revertMetadata)
	if err != nil {
		return 0, fmt.Errorf("revert %s to version %d: %w", v.assetRef, versionID, err)
	}
	v.mu.Lock()
	v.cache.Invalidate()
	v.mu.Unlock()
	return id, nil
}

func filterActive(text string) bool {
	for _, r := range text {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return true
		}
	}
	return false
}

// pageWindow slices one page out of a fully materialised list.
func pageWindow(items []Version, page, pageSize int) []Version {
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []Version{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
