package dispatch

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	exec    *Executor
	tracker *Tracker
}

func NewHandler(exec *Executor, tracker *Tracker) *Handler {
	return &Handler{exec: exec, tracker: tracker}
}

// RegisterRoutes mounts the webhook surface. The group is expected to carry
// signature verification middleware.
func (h *Handler) RegisterRoutes(hooks *echo.Group) {
	hooks.POST("/dispatch", h.Dispatch)
	hooks.POST("/provider/status", h.ProviderStatus)
	hooks.POST("/provider/report", h.ProviderReport)
}

type dispatchRequest struct {
	Channel string    `json:"channel"`
	ItemID  uuid.UUID `json:"item_id"`
}

// Dispatch is fired by the delayed queue at the scheduled instant. Duplicate
// deliveries are absorbed and answered with the item's current status.
func (h *Handler) Dispatch(c echo.Context) error {
	var req dispatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ItemID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "item_id is required")
	}
	res, err := h.exec.Execute(c.Request().Context(), req.Channel, req.ItemID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "scheduled item not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ProviderStatus(c echo.Context) error {
	var upd StatusUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if upd.ProviderID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "provider_id is required")
	}
	if err := h.tracker.HandleStatusUpdate(c.Request().Context(), upd); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ProviderReport(c echo.Context) error {
	var rep FinalReport
	if err := c.Bind(&rep); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if rep.ProviderID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "provider_id is required")
	}
	if err := h.tracker.HandleFinalReport(c.Request().Context(), rep); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
