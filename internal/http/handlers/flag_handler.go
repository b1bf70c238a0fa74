// Feature flag HTTP handlers (operators):
//   - GET /admin/flags
//   - PUT /admin/flags/{name}
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/keyshop-fulfillment/internal/domain"
)

// ListFlagsResponse lists stored flags and when this instance last loaded them.
type ListFlagsResponse struct {
	Flags    []domain.FeatureFlag `json:"flags"`
	LoadedAt time.Time            `json:"loaded_at"`
}

// SetFlagRequest toggles a flag.
type SetFlagRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// ListFlags godoc
// @ID          listFlags
// @Summary     List feature flags
// @Tags        Flags
// @Produce     json
// @Security    AdminToken
// @Success     200  {object}  handlers.ListFlagsResponse
// @Router      /api/v1/admin/flags [get]
func (h *Handlers) ListFlags(c *gin.Context) {
	rows, err := h.flags.List(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListFlagsResponse{Flags: rows, LoadedAt: h.flags.LoadedAt()})
}

// SetFlag godoc
// @ID          setFlag
// @Summary     Toggle a feature flag
// @Description Persists the value and broadcasts an invalidation so every instance reloads.
// @Tags        Flags
// @Accept      json
// @Security    AdminToken
// @Param       name  path  string                   true  "Flag name"  example(webhooks_enabled)
// @Param       body  body  handlers.SetFlagRequest  true  "New value"
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown flag"
// @Router      /api/v1/admin/flags/{name} [put]
func (h *Handlers) SetFlag(c *gin.Context) {
	var req SetFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "enabled (bool) required")
		return
	}
	if err := h.flags.Set(c.Request.Context(), c.Param("name"), *req.Enabled); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
