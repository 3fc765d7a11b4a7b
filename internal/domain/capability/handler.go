package capability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dossier/accessd/internal/domain/access"
	"github.com/dossier/accessd/internal/platform/auth"
	"github.com/dossier/accessd/pkg/pagination"
)

type Handler struct {
	svc  *Service
	eval *access.Evaluator
}

func NewHandler(svc *Service, eval *access.Evaluator) *Handler {
	return &Handler{svc: svc, eval: eval}
}

// RegisterRoutes mounts grant management under the dossier. Managing grants
// needs the modify capability on that dossier, held on a normal basis; see
// checkWrite for the extra rules on PUT and DELETE.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/dossiers/:dossier_id/grants", h.eval.RequireCapability(access.CapModify))
	g.GET("", h.List)
	g.GET("/:user_id", h.Get)
	g.PUT("/:user_id", h.Put)
	g.DELETE("/:user_id", h.Revoke)
}

func params(c echo.Context) (dossierID, userID uuid.UUID, err error) {
	dossierID, err = uuid.Parse(c.Param(access.DossierParam))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid dossier_id")
	}
	userID, err = uuid.Parse(c.Param("user_id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid user_id")
	}
	return dossierID, userID, nil
}

// checkWrite applies the rules a grant write must pass on top of the modify
// capability:
//   - access admitted by an emergency grant cannot create or remove grants,
//     so nothing outlives expires_at;
//   - only ADMIN may change its own row;
//   - only ADMIN may hand out delete.
func checkWrite(ctx context.Context, target uuid.UUID, grantsDelete bool) error {
	id, _ := auth.IdentityFromContext(ctx)
	switch {
	case access.UnderEmergency(ctx):
		return fmt.Errorf("%w: grants cannot be managed under emergency access", access.ErrForbidden)
	case id.Role == auth.RoleAdmin:
		return nil
	case target == id.UserID:
		return fmt.Errorf("%w: cannot change your own grant", access.ErrForbidden)
	case grantsDelete:
		return fmt.Errorf("%w: only ADMIN may grant delete", access.ErrForbidden)
	}
	return nil
}

func forbidden(err error) error {
	return echo.NewHTTPError(http.StatusForbidden, strings.TrimPrefix(err.Error(), access.ErrForbidden.Error()+": "))
}

func (h *Handler) Put(c echo.Context) error {
	dossierID, userID, err := params(c)
	if err != nil {
		return err
	}
	var caps access.Capabilities
	if err := c.Bind(&caps); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	if err := checkWrite(ctx, userID, caps.Delete); err != nil {
		return forbidden(err)
	}
	g, err := h.svc.Grant(ctx, auth.UserIDFromContext(ctx), c.RealIP(), userID, dossierID, caps)
	if err != nil {
		if errors.Is(err, access.ErrValidation) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, "could not save grant, try again")
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) Revoke(c echo.Context) error {
	dossierID, userID, err := params(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := checkWrite(ctx, userID, false); err != nil {
		return forbidden(err)
	}
	if err := h.svc.RevokeAll(ctx, auth.UserIDFromContext(ctx), c.RealIP(), userID, dossierID); err != nil {
		if errors.Is(err, access.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "grant not found")
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, "could not revoke grant, try again")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Get(c echo.Context) error {
	dossierID, userID, err := params(c)
	if err != nil {
		return err
	}
	g, err := h.svc.Get(c.Request().Context(), userID, dossierID)
	if err != nil {
		if errors.Is(err, access.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "grant not found")
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, "could not read grant, try again")
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) List(c echo.Context) error {
	dossierID, err := uuid.Parse(c.Param(access.DossierParam))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid dossier_id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByDossier(c.Request().Context(), dossierID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "could not list grants, try again")
	}
	return c.JSON(http.StatusOK, pagination.New(items, total, pg))
}
