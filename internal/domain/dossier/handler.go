package dossier

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dossier/accessd/internal/domain/access"
	"github.com/dossier/accessd/internal/platform/auth"
)

type Handler struct {
	svc  *Service
	eval *access.Evaluator
}

func NewHandler(svc *Service, eval *access.Evaluator) *Handler {
	return &Handler{svc: svc, eval: eval}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/dossiers", h.Create, auth.RequireRole(creatorRoles...))
	api.POST("/patients/register", h.Register, auth.RequireRole(auth.RolePatient))

	api.GET("/dossiers/:dossier_id", h.Get, h.eval.RequireCapability(access.CapRead))
	api.PUT("/dossiers/:dossier_id/status", h.SetStatus, h.eval.RequireCapability(access.CapModify))

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.PUT("/dossiers/:dossier_id/attending", h.SetAttending)
	admin.DELETE("/dossiers/:dossier_id", h.Delete)
}

// failure maps service errors. Unknown dossiers behind a capability check
// answer with the uniform denial.
func failure(c echo.Context, err error) error {
	switch {
	case errors.Is(err, access.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, access.ErrForbidden):
		return access.Denied(c)
	case errors.Is(err, access.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "dossier not found")
	}
	return echo.NewHTTPError(http.StatusServiceUnavailable, "dossier store unavailable, try again")
}

func dossierID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(access.DossierParam))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid dossier_id")
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	id, _ := auth.IdentityFromContext(ctx)
	d, err := h.svc.Create(ctx, id, c.RealIP(), req)
	if err != nil {
		return failure(c, err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	id, _ := auth.IdentityFromContext(ctx)
	d, created, err := h.svc.RegisterSelf(ctx, id, c.RealIP(), req)
	if err != nil {
		return failure(c, err)
	}
	if created {
		return c.JSON(http.StatusCreated, d)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := dossierID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Get(c.Request().Context(), id)
	if errors.Is(err, access.ErrNotFound) {
		return access.Denied(c)
	}
	if err != nil {
		return failure(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) SetStatus(c echo.Context) error {
	id, err := dossierID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	status, ok := ParseStatus(req.Status)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "status must be ACTIVE or ARCHIVED")
	}
	ctx := c.Request().Context()
	if err := h.svc.SetStatus(ctx, auth.UserIDFromContext(ctx), c.RealIP(), id, status); err != nil {
		if errors.Is(err, access.ErrNotFound) {
			return access.Denied(c)
		}
		return failure(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type attendingRequest struct {
	AttendingID *uuid.UUID `json:"attending_id"`
}

func (h *Handler) SetAttending(c echo.Context) error {
	id, err := dossierID(c)
	if err != nil {
		return err
	}
	var req attendingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if err := h.svc.SetAttending(ctx, auth.UserIDFromContext(ctx), c.RealIP(), id, req.AttendingID); err != nil {
		return failure(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := dossierID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.svc.Delete(ctx, auth.UserIDFromContext(ctx), c.RealIP(), id); err != nil {
		return failure(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
