package center

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/agendabi/agendabi/internal/platform/auth"
	"github.com/agendabi/agendabi/pkg/pagination"
	"github.com/agendabi/agendabi/pkg/validate"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Browsing is open to every signed-in role
	read := api.Group("", auth.RequireRole(auth.RoleCitizen, auth.RoleCenter))
	read.GET("/centers", h.List)
	read.GET("/centers/province/:province", h.ListByProvince)
	read.GET("/centers/:id", h.Get)

	manage := api.Group("", auth.RequireRole(auth.RoleCenter))
	manage.POST("/centers", h.Create)
	manage.GET("/centers/me", h.GetMine)
	manage.PUT("/centers/:id", h.Update)
	manage.GET("/centers/:id/statistics", h.Statistics)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/centers/:id/deactivate", h.Deactivate)
	admin.DELETE("/centers/:id", h.Delete)
}

func errorResponse(err error) error {
	var verr validate.Errors
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"reason":  "ValidationFailed",
			"message": verr.Error(),
			"details": verr.Fields(),
		})
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "center not found")
	case errors.Is(err, ErrInvalidHours):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrManagerHasCenter), errors.Is(err, ErrCenterHasFutureSchedules):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return err
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func currentUser(c echo.Context) (uuid.UUID, error) {
	uid, err := auth.UserUUIDFromContext(c.Request().Context())
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authenticated user required")
	}
	return uid, nil
}

func (h *Handler) Create(c echo.Context) error {
	managerID, err := currentUser(c)
	if err != nil {
		return err
	}
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	center, err := h.svc.Create(c.Request().Context(), managerID, &req)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, center)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	center, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, center)
}

func (h *Handler) GetMine(c echo.Context) error {
	managerID, err := currentUser(c)
	if err != nil {
		return err
	}
	center, err := h.svc.GetByManager(c.Request().Context(), managerID)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, center)
}

func (h *Handler) List(c echo.Context) error {
	var f Filter
	if v := c.QueryParam("province"); v != "" {
		p := Province(v)
		f.Province = &p
	}
	if v := c.QueryParam("type"); v != "" {
		t := Type(v)
		f.Type = &t
	}
	if v := c.QueryParam("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid active flag")
		}
		f.Active = &active
	}
	items, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(items, pagination.FromContext(c)))
}

func (h *Handler) ListByProvince(c echo.Context) error {
	items, err := h.svc.ListByProvince(c.Request().Context(), Province(c.Param("province")))
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, items)
}

// ownCenter loads the center and, for non-admins, checks the caller manages it.
func (h *Handler) ownCenter(c echo.Context, id uuid.UUID) error {
	ctx := c.Request().Context()
	if auth.HasRole(ctx, auth.RoleAdmin) {
		return nil
	}
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	center, err := h.svc.Get(ctx, id)
	if err != nil {
		return errorResponse(err)
	}
	if center.ManagerID != uid {
		return echo.NewHTTPError(http.StatusForbidden, "not the manager of this center")
	}
	return nil
}

func (h *Handler) Update(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.ownCenter(c, id); err != nil {
		return err
	}
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	center, err := h.svc.Update(c.Request().Context(), id, &req)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, center)
}

func (h *Handler) Statistics(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.ownCenter(c, id); err != nil {
		return err
	}
	st, err := h.svc.Statistics(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) Deactivate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	center, err := h.svc.Deactivate(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, center)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return errorResponse(err)
	}
	return c.NoContent(http.StatusNoContent)
}
