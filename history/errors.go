package history

import "errors"

var (
	// ErrMissingAssetRef is returned before any store call when the asset
	// reference is empty. Callers should treat it as a request-shaping
	// problem, not a transient failure.
	ErrMissingAssetRef = errors.New("asset reference is required")

	ErrAssetNotFound   = errors.New("asset not found")
	ErrVersionNotFound = errors.New("version not found")

	// ErrMalformedResponse classifies unexpected payload shapes from a
	// content store (bad JSON, duplicate version ids, non-monotonic ids).
	// For callers it behaves like any other backend failure.
	ErrMalformedResponse = errors.New("malformed store response")

	// ErrStaleToken is returned by stores when a continuation token is
	// reused outside its single linear walk.
	ErrStaleToken = errors.New("stale continuation token")

	ErrVersionConflict = errors.New("version conflict")
)
