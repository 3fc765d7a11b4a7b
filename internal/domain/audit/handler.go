package audit

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dossier/accessd/internal/domain/access"
	"github.com/dossier/accessd/internal/platform/auth"
	"github.com/dossier/accessd/pkg/pagination"
)

type Handler struct {
	rec *Recorder
}

func NewHandler(rec *Recorder) *Handler {
	return &Handler{rec: rec}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/audit-entries", h.Record)
	api.GET("/audit-entries", h.List, auth.RequireRole(auth.RoleAdmin))
}

type RecordRequest struct {
	Action     string `json:"action"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
}

// Record is called by collaborators after a successful mutation. The entry is
// attributed to the calling identity; a body cannot name another user.
func (h *Handler) Record(c echo.Context) error {
	var req RecordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	action, ok := ParseAction(req.Action)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "action must be CREATION, MODIFICATION or SUPPRESSION")
	}

	ctx := c.Request().Context()
	e, err := h.rec.Record(ctx, action, req.EntityKind, req.EntityID, auth.UserIDFromContext(ctx), c.RealIP())
	if err != nil {
		if errors.Is(err, access.ErrValidation) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, "audit store unavailable, try again")
	}
	return c.JSON(http.StatusCreated, e)
}

// List serves compliance review: by entity, by user, or everything, in
// recorded order.
func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()

	var (
		items []*Entry
		total int
		err   error
	)
	kind, entityID := c.QueryParam("entity_kind"), c.QueryParam("entity_id")
	switch {
	case kind != "" || entityID != "":
		if kind == "" || entityID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "entity_kind and entity_id go together")
		}
		items, total, err = h.rec.ListByEntity(ctx, kind, entityID, pg.Limit, pg.Offset)
	case c.QueryParam("user_id") != "":
		uid, perr := uuid.Parse(c.QueryParam("user_id"))
		if perr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid user_id")
		}
		items, total, err = h.rec.ListByUser(ctx, uid, pg.Limit, pg.Offset)
	default:
		items, total, err = h.rec.List(ctx, pg.Limit, pg.Offset)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "audit store unavailable, try again")
	}
	return c.JSON(http.StatusOK, pagination.New(items, total, pg))
}
