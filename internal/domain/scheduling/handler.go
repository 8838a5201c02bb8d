package scheduling

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/agendabi/agendabi/internal/domain/center"
	"github.com/agendabi/agendabi/internal/platform/auth"
	"github.com/agendabi/agendabi/internal/platform/lock"
	"github.com/agendabi/agendabi/pkg/pagination"
	"github.com/agendabi/agendabi/pkg/validate"
)

// ManagedCenters resolves the center a manager runs.
type ManagedCenters interface {
	GetByManager(ctx context.Context, managerID uuid.UUID) (*center.Center, error)
}

type Handler struct {
	svc     *Service
	centers ManagedCenters
}

func NewHandler(svc *Service, centers ManagedCenters) *Handler {
	return &Handler{svc: svc, centers: centers}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	citizen := api.Group("", auth.RequireRole(auth.RoleCitizen))
	citizen.POST("/schedules", h.Create)
	citizen.GET("/schedules/me", h.ListMine)
	citizen.GET("/protocols/me", h.ListMyProtocols)

	// Access to a single record is narrowed further by authorize
	shared := api.Group("", auth.RequireRole(auth.RoleCitizen, auth.RoleCenter))
	shared.GET("/schedules/:id", h.Get)
	shared.POST("/schedules/:id/cancel", h.Cancel)
	shared.GET("/schedules/protocol/:number", h.GetByProtocol)
	shared.GET("/protocols/:number", h.GetProtocol)
	shared.GET("/protocols/:number/history", h.ProtocolHistory)
	shared.GET("/centers/:id/availability", h.Availability)

	staff := api.Group("", auth.RequireRole(auth.RoleCenter))
	staff.GET("/schedules", h.List)
	staff.PATCH("/schedules/:id", h.Update)
	staff.POST("/schedules/:id/status", h.Transition)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.DELETE("/schedules/:id", h.Delete)
}

func errorResponse(err error) error {
	var ise *InvalidScheduleError
	var verr validate.Errors
	switch {
	case errors.As(err, &ise):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"reason":  ise.Reason,
			"message": ise.Error(),
			"details": ise,
		})
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"reason":  "ValidationFailed",
			"message": verr.Error(),
			"details": verr.Fields(),
		})
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrProtocolConflict), errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, lock.ErrNotAcquired):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "booking is busy, try again")
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

// managedCenter returns the caller's center, or uuid.Nil when the caller
// manages none.
func (h *Handler) managedCenter(c echo.Context, uid uuid.UUID) (uuid.UUID, error) {
	if !auth.HasRole(c.Request().Context(), auth.RoleCenter) {
		return uuid.Nil, nil
	}
	mc, err := h.centers.GetByManager(c.Request().Context(), uid)
	if errors.Is(err, center.ErrNotFound) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	return mc.ID, nil
}

// authorize lets admins, the requester and the manager of the booked center
// see a schedule.
func (h *Handler) authorize(c echo.Context, s *Schedule) error {
	if auth.HasRole(c.Request().Context(), auth.RoleAdmin) {
		return nil
	}
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	if s.RequesterID == uid {
		return nil
	}
	cid, err := h.managedCenter(c, uid)
	if err != nil {
		return err
	}
	if cid != uuid.Nil && cid == s.CenterID {
		return nil
	}
	return echo.NewHTTPError(http.StatusForbidden, "not allowed to access this schedule")
}

// loadAuthorized fetches the schedule named by :id and checks access.
func (h *Handler) loadAuthorized(c echo.Context) (*ScheduleWithProtocol, error) {
	id, err := parseID(c)
	if err != nil {
		return nil, err
	}
	s, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return nil, errorResponse(err)
	}
	if err := h.authorize(c, &s.Schedule); err != nil {
		return nil, err
	}
	return s, nil
}

func actor(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

func (h *Handler) Create(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	out, err := h.svc.Create(c.Request().Context(), uid, &req)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) Get(c echo.Context) error {
	s, err := h.loadAuthorized(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) GetByProtocol(c echo.Context) error {
	s, err := h.svc.GetByProtocolNumber(c.Request().Context(), c.Param("number"))
	if err != nil {
		return errorResponse(err)
	}
	if err := h.authorize(c, &s.Schedule); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) ListMine(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListByUser(c.Request().Context(), uid)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, items)
}

// List serves staff. Managers only see their own center; admins may filter by
// center_id and status or list everything.
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	var status *Status
	if v := c.QueryParam("status"); v != "" {
		st := Status(v)
		if !validStatuses[st] {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
		}
		status = &st
	}

	var centerID uuid.UUID
	if v := c.QueryParam("center_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid center_id")
		}
		centerID = id
	}

	if !auth.HasRole(ctx, auth.RoleAdmin) {
		uid, err := currentUser(c)
		if err != nil {
			return err
		}
		own, err := h.managedCenter(c, uid)
		if err != nil {
			return err
		}
		if own == uuid.Nil || (centerID != uuid.Nil && centerID != own) {
			return echo.NewHTTPError(http.StatusForbidden, "not the manager of this center")
		}
		centerID = own
	}

	var (
		items []*ScheduleWithProtocol
		err   error
	)
	switch {
	case centerID != uuid.Nil:
		items, err = h.svc.ListByCenter(ctx, centerID, status)
	case status != nil:
		items, err = h.svc.ListByStatus(ctx, *status)
	default:
		items, err = h.svc.ListAll(ctx)
	}
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(items, pagination.FromContext(c)))
}

func (h *Handler) Update(c echo.Context) error {
	s, err := h.loadAuthorized(c)
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	out, err := h.svc.Update(c.Request().Context(), s.ID, &req, actor(c))
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Transition(c echo.Context) error {
	s, err := h.loadAuthorized(c)
	if err != nil {
		return err
	}
	var body struct {
		Status Status `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	out, err := h.svc.Transition(c.Request().Context(), s.ID, body.Status, actor(c))
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Cancel(c echo.Context) error {
	s, err := h.loadAuthorized(c)
	if err != nil {
		return err
	}
	out, err := h.svc.Cancel(c.Request().Context(), s.ID, actor(c))
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, out)
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

func (h *Handler) Availability(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	date := c.QueryParam("date")
	day, err := ParseDay(date)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := h.svc.AvailableSlots(c.Request().Context(), id, day)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"center_id":       id,
		"date":            date,
		"available_slots": n,
	})
}

// protocolAccess loads the schedule behind a protocol number and checks the
// caller may see it.
func (h *Handler) protocolAccess(c echo.Context) error {
	s, err := h.svc.GetByProtocolNumber(c.Request().Context(), c.Param("number"))
	if err != nil {
		return errorResponse(err)
	}
	return h.authorize(c, &s.Schedule)
}

func (h *Handler) GetProtocol(c echo.Context) error {
	if err := h.protocolAccess(c); err != nil {
		return err
	}
	p, err := h.svc.GetProtocol(c.Request().Context(), c.Param("number"))
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ProtocolHistory(c echo.Context) error {
	if err := h.protocolAccess(c); err != nil {
		return err
	}
	p, err := h.svc.ProtocolHistory(c.Request().Context(), c.Param("number"))
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListMyProtocols(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListProtocolsByUser(c.Request().Context(), uid)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, items)
}
