// Cursor-based pagination over a content store's version listing.
//
// The store exposes only one-directional opaque continuation tokens; the
// page cache reconciles them with the page-index API the presentation layer
// wants. Tokens are recorded per page index as pages are visited, so moving
// to an adjacent page is one fetch. Jumping to a page whose token was never
// cached degrades to a sequential reload from page 1; tokens must not be
// guessed or reused across non-adjacent pages.
//
// System fit:
//
//   - LoadPage backs the paged version table.
//   - LoadAll walks the entire history into a buffer so client-side
//     filtering can be accurate when the store has no native search. The
//     walk is strictly sequential: tokens are valid for one linear
//     traversal only, so fanning out would invalidate later tokens.
//
// A VersionPageCache belongs to one AssetView and is not safe for
// concurrent use on its own; the view serialises access.

package history

import (
	"context"
	"fmt"
	"log/slog"
)

// DefaultPageSize is used when a caller passes a non-positive page size.
const DefaultPageSize = 10

// VersionPageCache maps the store's continuation-token listing onto page
// indices and accumulates the full history on demand.
type VersionPageCache struct {
	store    ContentStore
	assetRef string
	logger   *slog.Logger

	// tokens[i] is the continuation token that requests page i. Page 1
	// always uses the empty token and is never stored here. Entries are
	// append-only except for the fallback reload, which clears indices >= 2
	// before re-populating.
	tokens map[int]string

	buffer         []Version
	bufferComplete bool

	currentPage   []Version
	page          int
	totalEstimate int
	totalExact    bool
}

// NewVersionPageCache creates a page cache for one asset. It fails fast
// with ErrMissingAssetRef before any store call when assetRef is empty.
func NewVersionPageCache(store ContentStore, assetRef string, logger *slog.Logger) (*VersionPageCache, error) {
	if assetRef == "" {
		return nil, ErrMissingAssetRef
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VersionPageCache{
		store:    store,
		assetRef: assetRef,
		logger:   logger,
		tokens:   make(map[int]string),
	}, nil
}

// LoadPage fetches the requested page. When no token is cached for a page
// beyond the first, it reloads sequentially from page 1 up to the target;
// requesting a page past the end of the history yields an empty page, not
// an error. A failed fetch leaves tokens cached for prior pages intact.
func (c *VersionPageCache) LoadPage(ctx context.Context, pageIndex, pageSize int) ([]Version, error) {
	if pageIndex < 1 {
		pageIndex = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	startPage := pageIndex
	token, ok := c.tokenFor(pageIndex)
	if !ok {
		// Token reuse across non-adjacent pages is unsafe; walk forward
		// from the beginning instead of guessing.
		c.logger.DebugContext(ctx, "no cached continuation token, reloading from first page",
			"asset", c.assetRef,
			"requested_page", pageIndex,
		)
		c.clearTokensFrom(2)
		startPage = 1
		token = ""
	}

	var page VersionPage
	for i := startPage; ; i++ {
		var err error
		page, err = c.fetchPage(ctx, i, pageSize, token)
		if err != nil {
			return nil, err
		}
		if i == pageIndex || page.NextToken == "" {
			c.finishPage(i, pageSize, page)
			break
		}
		token = page.NextToken
	}

	if c.page < pageIndex {
		// The walk ran out of pages before reaching the target.
		c.currentPage = []Version{}
		c.page = pageIndex
		return []Version{}, nil
	}
	return c.currentPage, nil
}

// LoadAll sequentially follows continuation tokens from the first page
// until the store reports no further token, accumulating every version
// into the buffer. Must not be parallelised.
func (c *VersionPageCache) LoadAll(ctx context.Context, pageSize int) ([]Version, error) {
	if c.bufferComplete {
		return c.buffer, nil
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	c.clearTokensFrom(2)
	buffer := make([]Version, 0, pageSize)
	token := ""
	for i := 1; ; i++ {
		page, err := c.fetchPage(ctx, i, pageSize, token)
		if err != nil {
			return nil, err
		}
		buffer = append(buffer, page.Versions...)
		if page.NextToken == "" {
			break
		}
		c.tokens[i+1] = page.NextToken
		token = page.NextToken
	}

	c.buffer = buffer
	c.bufferComplete = true
	c.totalEstimate = len(buffer)
	c.totalExact = true
	return c.buffer, nil
}

// CurrentPage returns the items loaded by the last LoadPage call.
func (c *VersionPageCache) CurrentPage() []Version {
	return c.currentPage
}

// Buffer returns the accumulated full history and whether the accumulation
// has completed.
func (c *VersionPageCache) Buffer() ([]Version, bool) {
	return c.buffer, c.bufferComplete
}

// TotalEstimate returns the current total count and whether it is exact.
// While a continuation token is outstanding and the store reports no count,
// the value is a lower-bound placeholder, not exact pagination math.
func (c *VersionPageCache) TotalEstimate() (int, bool) {
	return c.totalEstimate, c.totalExact
}

// Invalidate drops all cached tokens and the buffer, forcing the next load
// to start from the store. Used after create/revert mutations.
func (c *VersionPageCache) Invalidate() {
	c.tokens = make(map[int]string)
	c.buffer = nil
	c.bufferComplete = false
	c.currentPage = nil
	c.page = 0
	c.totalEstimate = 0
	c.totalExact = false
}

func (c *VersionPageCache) tokenFor(pageIndex int) (string, bool) {
	if pageIndex == 1 {
		return "", true
	}
	t, ok := c.tokens[pageIndex]
	return t, ok
}

func (c *VersionPageCache) clearTokensFrom(pageIndex int) {
	for i := range c.tokens {
		if i >= pageIndex {
			delete(c.tokens, i)
		}
	}
}

// fetchPage performs one store call and records the returned token under
// the following page index.
func (c *VersionPageCache) fetchPage(ctx context.Context, pageIndex, pageSize int, token string) (VersionPage, error) {
	page, err := c.store.ListVersions(ctx, c.assetRef, pageSize, token)
	if err != nil {
		return VersionPage{}, fmt.Errorf("list versions for %s page %d: %w", c.assetRef, pageIndex, err)
	}
	if err := validateVersionPage(page); err != nil {
		c.logger.WarnContext(ctx, "malformed version listing page",
			"asset", c.assetRef,
			"page", pageIndex,
			"error", err,
		)
		return VersionPage{}, err
	}

	if page.NextToken != "" {
		c.tokens[pageIndex+1] = page.NextToken
	} else {
		delete(c.tokens, pageIndex+1)
	}
	return page, nil
}

// finishPage records the fetched page as current and applies the
// total-count policy.
func (c *VersionPageCache) finishPage(pageIndex, pageSize int, page VersionPage) {
	c.currentPage = page.Versions
	c.page = pageIndex

	switch {
	case page.Total >= 0:
		c.totalEstimate = page.Total
		c.totalExact = true
	case page.NextToken != "":
		c.totalEstimate = pageIndex*pageSize + pageSize
		c.totalExact = false
	default:
		c.totalEstimate = (pageIndex-1)*pageSize + len(page.Versions)
		c.totalExact = true
	}
}

// validateVersionPage rejects pages with duplicate version ids, which
// indicates a store bug rather than a state this cache can represent.
func validateVersionPage(page VersionPage) error {
	seen := make(map[int64]struct{}, len(page.Versions))
	for _, v := range page.Versions {
		if _, dup := seen[v.ID]; dup {
			return fmt.Errorf("%w: duplicate version id %d in listing", ErrMalformedResponse, v.ID)
		}
		seen[v.ID] = struct{}{}
	}
	return nil
}
