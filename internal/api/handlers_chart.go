package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// HandleChartSnapshotMsgpack returns the chart samples msgpack-encoded for
// high-frequency chart polling without JSON overhead.
func (h *Handler) HandleChartSnapshotMsgpack(c echo.Context) error {
	samples, err := h.sessions.ChartSnapshot(c.Param("key"), c.Param("metric"))
	if err != nil {
		return NewNotFoundError("chart", c.Param("key")+"/"+c.Param("metric"))
	}

	data, err := msgpack.Marshal(samples)
	if err != nil {
		return NewInternalError("failed to encode chart data", err)
	}

	return c.Blob(http.StatusOK, "application/x-msgpack", data)
}
