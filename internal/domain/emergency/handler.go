package emergency

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
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the break-glass endpoints. limit, when non-nil,
// throttles activations per user.
func (h *Handler) RegisterRoutes(api *echo.Group, limit echo.MiddlewareFunc) {
	activate := []echo.MiddlewareFunc{auth.RequireRole(ActivatorRoles...)}
	if limit != nil {
		activate = append(activate, limit)
	}
	api.POST("/emergency-access", h.Activate, activate...)
	api.GET("/emergency-access/mine", h.Mine)
	api.GET("/emergency-access", h.List, auth.RequireRole(auth.RoleAdmin))
}

func (h *Handler) Activate(c echo.Context) error {
	var req ActivateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	id, _ := auth.IdentityFromContext(ctx)

	res, err := h.svc.Activate(ctx, id, c.RealIP(), req)
	switch {
	case err == nil:
		return c.JSON(http.StatusCreated, res)
	case errors.Is(err, access.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, access.ErrForbidden):
		return access.Denied(c)
	}
	return echo.NewHTTPError(http.StatusServiceUnavailable, "emergency activation failed, try again")
}

// Mine lists the caller's grants that are still active.
func (h *Handler) Mine(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()
	items, total, err := h.svc.ListActiveForUser(ctx, auth.UserIDFromContext(ctx), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "could not list grants, try again")
	}
	return respond(c, items, total, pg)
}

// List is the compliance view over every grant, by dossier or by user.
func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()

	var (
		items []*Grant
		total int
		err   error
	)
	switch {
	case c.QueryParam("dossier_id") != "":
		id, perr := uuid.Parse(c.QueryParam("dossier_id"))
		if perr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid dossier_id")
		}
		items, total, err = h.svc.ListByDossier(ctx, id, pg.Limit, pg.Offset)
	case c.QueryParam("user_id") != "":
		id, perr := uuid.Parse(c.QueryParam("user_id"))
		if perr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid user_id")
		}
		items, total, err = h.svc.ListByUser(ctx, id, pg.Limit, pg.Offset)
	default:
		items, total, err = h.svc.List(ctx, pg.Limit, pg.Offset)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "could not list grants, try again")
	}
	return respond(c, items, total, pg)
}

func respond(c echo.Context, items []*Grant, total int, pg pagination.Params) error {
	return c.JSON(http.StatusOK, pagination.New(items, total, pg))
}
