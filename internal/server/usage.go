package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/askrepo/askrepo/internal/gate"
	"github.com/askrepo/askrepo/internal/runtime"
)

type UsageHandler struct {
	Gate *gate.Gate
}

func (h *UsageHandler) Register(g *echo.Group) {
	g.GET("", h.report)
}

// Usage report
//
//	@Summary	Current-month usage against tier limits
//	@Tags		usage
//	@Produce	json
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Success	200	{object}	gate.Report
//	@Failure	500	{object}	HTTPError
//	@Router		/api/usage [get]
func (h *UsageHandler) report(c echo.Context) error {
	rep, err := h.Gate.UsageReport(c.Request().Context(), runtime.UserID(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rep)
}
