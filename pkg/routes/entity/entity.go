package entity

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sorrel/internal/repositories/entitymap"
	appctx "github.com/Ramsey-B/sorrel/pkg/context"
	"github.com/Ramsey-B/sorrel/pkg/models"
)

// Reader is the part of the entity map the read API serves.
type Reader interface {
	Lookup(ctx context.Context, collection, recordID string) (models.CanonicalEntry, bool, error)
	Members(ctx context.Context, collection, canonicalID string) ([]models.CanonicalEntry, error)
	TopClusters(ctx context.Context, collection string, n int) ([]entitymap.ClusterSize, error)
	Links(ctx context.Context, collection, recordID string) ([]models.RecordLink, error)
}

// Handler serves canonical id lookups.
type Handler struct {
	reader Reader
}

func NewHandler(reader Reader) *Handler {
	return &Handler{reader: reader}
}

// EntityResponse answers a record lookup. Matched is false for records that
// fell back to being their own canonical entity.
type EntityResponse struct {
	models.CanonicalEntry
	Matched bool `json:"matched"`
}

// ClusterResponse lists the members of one canonical entity.
type ClusterResponse struct {
	Collection  string                  `json:"collection"`
	CanonicalID string                  `json:"canonical_id"`
	Members     []models.CanonicalEntry `json:"members"`
}

// Register registers entity routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/entities/:id", h.GetEntity)
	g.GET("/entities/:id/links", h.GetLinks)
	g.GET("/clusters", h.GetTopClusters)
	g.GET("/clusters/:canonical_id", h.GetCluster)
}

// GetEntity resolves a record id to its canonical id.
func (h *Handler) GetEntity(c echo.Context) error {
	ctx := c.Request().Context()
	collection, err := requireCollection(ctx)
	if err != nil {
		return err
	}

	entry, found, err := h.reader.Lookup(ctx, collection, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, EntityResponse{CanonicalEntry: entry, Matched: found})
}

// GetCluster lists the records resolved to a canonical id.
func (h *Handler) GetCluster(c echo.Context) error {
	ctx := c.Request().Context()
	collection, err := requireCollection(ctx)
	if err != nil {
		return err
	}

	canonicalID := c.Param("canonical_id")
	members, err := h.reader.Members(ctx, collection, canonicalID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ClusterResponse{Collection: collection, CanonicalID: canonicalID, Members: members})
}

// GetTopClusters lists the largest clusters, ?limit=N (default 10).
func (h *Handler) GetTopClusters(c echo.Context) error {
	ctx := c.Request().Context()
	collection, err := requireCollection(ctx)
	if err != nil {
		return err
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 1 {
			return httperror.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
	}
	clusters, err := h.reader.TopClusters(ctx, collection, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, clusters)
}

// GetLinks lists the cross-collection links touching a record.
func (h *Handler) GetLinks(c echo.Context) error {
	ctx := c.Request().Context()
	collection, err := requireCollection(ctx)
	if err != nil {
		return err
	}

	links, err := h.reader.Links(ctx, collection, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, links)
}

func requireCollection(ctx context.Context) (string, error) {
	collection := appctx.GetCollection(ctx)
	if collection == "" {
		return "", httperror.NewHTTPError(http.StatusBadRequest, "collection is required")
	}
	return collection, nil
}
