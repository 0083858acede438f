package cmd

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/awslabs/visual-asset-management-system-sub003/history"

	"github.com/labstack/echo/v4"
)

type Dependencies struct {
	Store      history.ContentStore
	ViewFor    func(assetRef string) (*history.AssetView, error)
	Logger     *slog.Logger
	AppMetrics history.AppMetrics
}

type createVersionRequest struct {
	UseLatestFiles bool              `json:"use_latest_files"`
	Files          []history.FilePin `json:"files"`
	Comment        string            `json:"comment"`
	CreatedBy      string            `json:"created_by"`
}

type revertRequest struct {
	Comment        string `json:"comment"`
	RevertMetadata bool   `json:"revert_metadata"`
}

type manifestResponse struct {
	VersionID int64               `json:"version_id"`
	Comment   string              `json:"comment"`
	CreatedBy string              `json:"created_by"`
	CreatedAt time.Time           `json:"created_at"`
	Entries   []history.FileEntry `json:"entries"`
}

func Register(e *echo.Echo, deps Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.AppMetrics
	if metrics == nil {
		metrics = history.NoopAppMetrics{}
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"status": "ok"})
	})
	e.GET("/metrics/app", func(c echo.Context) error {
		return c.JSON(http.StatusOK, metrics.Snapshot())
	})

	e.GET("/assets/:assetRef/versions", func(c echo.Context) error {
		start := time.Now()
		assetRef := c.Param("assetRef")
		ctx := c.Request().Context()

		view, err := deps.ViewFor(assetRef)
		if err != nil {
			return WriteError(c, err)
		}

		if sortBy := c.QueryParam("sortBy"); sortBy != "" {
			field, direction, sortErr := parseSortParams(sortBy, c.QueryParam("sortDir"))
			if sortErr != nil {
				return WriteError(c, sortErr)
			}
			view.SetSort(field, direction)
		}
		if raw := c.QueryParam("pageSize"); raw != "" {
			n, convErr := strconv.Atoi(raw)
			if convErr != nil || n <= 0 {
				return c.JSON(http.StatusBadRequest, map[string]any{"error": "pageSize must be a positive integer"})
			}
			if n != view.PageSize() {
				if err := view.SetPageSize(ctx, n); err != nil {
					metrics.RecordList(assetRef, time.Since(start).Milliseconds(), 0, err)
					return WriteError(c, err)
				}
			}
		}

		// A failed full-history load behind the filter is tolerated; the
		// view degrades to filtering loaded data and flags the count.
		if filterErr := view.SetFilter(ctx, c.QueryParam("filter")); filterErr != nil {
			logger.WarnContext(ctx, "filter degraded to loaded data",
				"asset", assetRef,
				"error", filterErr,
			)
		}

		page := 1
		if raw := c.QueryParam("page"); raw != "" {
			n, convErr := strconv.Atoi(raw)
			if convErr != nil || n < 1 {
				return c.JSON(http.StatusBadRequest, map[string]any{"error": "page must be a positive integer"})
			}
			page = n
		}
		if err := view.SetPage(ctx, page); err != nil {
			metrics.RecordList(assetRef, time.Since(start).Milliseconds(), 0, err)
			logger.ErrorContext(ctx, "version listing failed",
				"asset", assetRef,
				"page", page,
				"error", err,
			)
			return WriteError(c, err)
		}

		list := view.Versions()
		metrics.RecordList(assetRef, time.Since(start).Milliseconds(), len(list.Items), nil)
		return c.JSON(http.StatusOK, list)
	})

	e.GET("/assets/:assetRef/versions/:versionID/manifest", func(c echo.Context) error {
		assetRef := c.Param("assetRef")
		versionID, err := strconv.ParseInt(c.Param("versionID"), 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]any{"error": "versionID must be an integer"})
		}

		vm, err := deps.Store.GetVersionManifest(c.Request().Context(), assetRef, versionID)
		if err != nil {
			return WriteError(c, err)
		}
		return c.JSON(http.StatusOK, manifestResponse{
			VersionID: vm.VersionID,
			Comment:   vm.Comment,
			CreatedBy: vm.CreatedBy,
			CreatedAt: vm.CreatedAt,
			Entries:   vm.Manifest.Entries(),
		})
	})

	e.GET("/assets/:assetRef/diff", func(c echo.Context) error {
		start := time.Now()
		assetRef := c.Param("assetRef")
		ctx := c.Request().Context()

		manifestA, err := resolveDiffSide(c, deps.Store, assetRef, c.QueryParam("a"))
		if err != nil {
			metrics.RecordDiff(assetRef, time.Since(start).Milliseconds(), 0, err)
			return WriteError(c, err)
		}
		manifestB, err := resolveDiffSide(c, deps.Store, assetRef, c.QueryParam("b"))
		if err != nil {
			metrics.RecordDiff(assetRef, time.Since(start).Milliseconds(), 0, err)
			return WriteError(c, err)
		}

		result := history.ComputeDiff(manifestA, manifestB)
		metrics.RecordDiff(assetRef, time.Since(start).Milliseconds(), len(result.Entries), nil)
		logger.InfoContext(ctx, "manifest diff computed",
			"asset", assetRef,
			"side_a", c.QueryParam("a"),
			"side_b", c.QueryParam("b"),
			"entries", len(result.Entries),
		)
		return c.JSON(http.StatusOK, result)
	})

	e.POST("/assets/:assetRef/versions", func(c echo.Context) error {
		start := time.Now()
		assetRef := c.Param("assetRef")
		ctx := c.Request().Context()

		var req createVersionRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		}
		if !req.UseLatestFiles && len(req.Files) == 0 {
			return c.JSON(http.StatusBadRequest, map[string]any{"error": "either use_latest_files or files is required"})
		}

		view, err := deps.ViewFor(assetRef)
		if err != nil {
			return WriteError(c, err)
		}
		id, err := view.CreateVersion(ctx, history.CreateVersionInput{
			UseLatestFiles: req.UseLatestFiles,
			Files:          req.Files,
			Comment:        req.Comment,
			CreatedBy:      req.CreatedBy,
		})
		metrics.RecordMutation(assetRef, "create", time.Since(start).Milliseconds(), err)
		if err != nil {
			logger.ErrorContext(ctx, "create version failed",
				"asset", assetRef,
				"error", err,
			)
			return WriteError(c, err)
		}

		logger.InfoContext(ctx, "version created",
			"asset", assetRef,
			"version_id", id,
			"created_by", req.CreatedBy,
		)
		return c.JSON(http.StatusCreated, map[string]any{"id": id})
	})

	e.POST("/assets/:assetRef/versions/:versionID/revert", func(c echo.Context) error {
		start := time.Now()
		assetRef := c.Param("assetRef")
		ctx := c.Request().Context()

		versionID, err := strconv.ParseInt(c.Param("versionID"), 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]any{"error": "versionID must be an integer"})
		}
		var req revertRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		}

		view, err := deps.ViewFor(assetRef)
		if err != nil {
			return WriteError(c, err)
		}
		id, err := view.RevertToVersion(ctx, versionID, req.Comment, req.RevertMetadata)
		metrics.RecordMutation(assetRef, "revert", time.Since(start).Milliseconds(), err)
		if err != nil {
			logger.ErrorContext(ctx, "revert failed",
				"asset", assetRef,
				"source_version", versionID,
				"error", err,
			)
			return WriteError(c, err)
		}

		logger.InfoContext(ctx, "version reverted",
			"asset", assetRef,
			"source_version", versionID,
			"new_version", id,
		)
		return c.JSON(http.StatusOK, map[string]any{"id": id})
	})
}

// resolveDiffSide loads one side of a comparison: a numeric version id or
// the literal "current" for the live manifest. Archived entries stay in the
// live side so an archive flag flip alone does not read as a change.
func resolveDiffSide(c echo.Context, store history.ContentStore, assetRef, raw string) (*history.Manifest, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "both a and b query params are required (version id or \"current\")")
	}
	if strings.EqualFold(raw, "current") {
		return store.GetCurrentManifest(c.Request().Context(), assetRef, true)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "diff side must be a version id or \"current\"")
	}
	vm, err := store.GetVersionManifest(c.Request().Context(), assetRef, id)
	if err != nil {
		return nil, err
	}
	return vm.Manifest, nil
}

func parseSortParams(rawField, rawDir string) (history.SortField, history.SortDirection, error) {
	var field history.SortField
	switch strings.ToLower(strings.TrimSpace(rawField)) {
	case "id":
		field = history.SortByID
	case "modified":
		field = history.SortByModified
	case "author":
		field = history.SortByAuthor
	case "comment":
		field = history.SortByComment
	default:
		return "", "", echo.NewHTTPError(http.StatusBadRequest, "invalid sortBy (allowed: id, modified, author, comment)")
	}

	switch strings.ToLower(strings.TrimSpace(rawDir)) {
	case "", "desc":
		return field, history.SortDescending, nil
	case "asc":
		return field, history.SortAscending, nil
	default:
		return "", "", echo.NewHTTPError(http.StatusBadRequest, "invalid sortDir (allowed: asc, desc)")
	}
}

func WriteError(c echo.Context, err error) error {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return c.JSON(httpErr.Code, map[string]any{"error": httpErr.Message})
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, history.ErrMissingAssetRef):
		status = http.StatusBadRequest
	case errors.Is(err, history.ErrAssetNotFound), errors.Is(err, history.ErrVersionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, history.ErrVersionConflict), errors.Is(err, history.ErrStaleToken):
		status = http.StatusConflict
	case errors.Is(err, history.ErrMalformedResponse):
		status = http.StatusBadGateway
	}
	return c.JSON(status, map[string]any{"error": err.Error()})
}
