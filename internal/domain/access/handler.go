package access

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dossier/accessd/internal/platform/auth"
)

type Handler struct {
	eval *Evaluator
}

func NewHandler(eval *Evaluator) *Handler {
	return &Handler{eval: eval}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/access/evaluate", h.Evaluate)
}

type EvaluateRequest struct {
	DossierID  string `json:"dossier_id"`
	Capability string `json:"capability"`
}

type EvaluateResponse struct {
	Allow bool  `json:"allow"`
	Basis Basis `json:"basis"`
}

// Evaluate answers for the calling identity. Collaborators forward the end
// user's credentials, so a decision is never computed for someone else.
func (h *Handler) Evaluate(c echo.Context) error {
	var req EvaluateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.DossierID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "dossier_id is required")
	}
	dossierID, err := uuid.Parse(req.DossierID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid dossier_id")
	}
	capability, ok := ParseCapability(req.Capability)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "capability must be one of read, append, modify, delete")
	}

	id, ok := auth.IdentityFromContext(c.Request().Context())
	if !ok || !id.Valid() {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	d := h.eval.Evaluate(c.Request().Context(), id, dossierID, capability)
	if d.Basis == BasisEmergency {
		c.Response().Header().Set(HeaderEmergencyAccess, "active")
	}
	return c.JSON(http.StatusOK, EvaluateResponse{Allow: d.Allow, Basis: d.Basis})
}
