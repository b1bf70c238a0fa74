// Order HTTP handlers.
//
// Checkout collaborator:
//   - POST /orders              (create, awaiting payment)
//   - GET  /orders/{id}         (status view, weak ETag support)
//   - GET  /orders/{id}/keys    (delivered keys, email must match)
//
// Operators:
//   - GET  /admin/orders/stats
//   - GET  /admin/orders/{id}
//   - POST /admin/orders/{id}/cancel
//   - POST /admin/orders/{id}/retry
package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/keyshop-fulfillment/internal/domain"
	"github.com/tbourn/keyshop-fulfillment/internal/services"
)

//
// DTOs
//

// OrderItemView is one owed key without its material.
type OrderItemView struct {
	ID             string `json:"id"`
	ProductID      string `json:"product_id"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	Delivered      bool   `json:"delivered"`
}

// OrderView is the customer-facing order status. The email and internal
// references are not exposed.
type OrderView struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"                   example:"awaiting_payment"`
	TotalMinor    int64           `json:"total_minor"              example:"1999"`
	Currency      string          `json:"currency"                 example:"EUR"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	FulfilledAt   *time.Time      `json:"fulfilled_at,omitempty"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
	Items         []OrderItemView `json:"items"`
}

func newOrderView(o *domain.Order) OrderView {
	v := OrderView{
		ID:            o.ID,
		Status:        o.Status,
		TotalMinor:    o.TotalMinor,
		Currency:      o.Currency,
		FailureReason: o.FailureReason,
		CreatedAt:     o.CreatedAt,
		PaidAt:        o.PaidAt,
		FulfilledAt:   o.FulfilledAt,
		CancelledAt:   o.CancelledAt,
		Items:         make([]OrderItemView, 0, len(o.Items)),
	}
	for _, it := range o.Items {
		v.Items = append(v.Items, OrderItemView{
			ID:             it.ID,
			ProductID:      it.ProductID,
			UnitPriceMinor: it.UnitPriceMinor,
			Delivered:      it.Delivered(),
		})
	}
	return v
}

// OrderKeysResponse lists delivered keys.
type OrderKeysResponse struct {
	OrderID string                  `json:"order_id"`
	Keys    []services.DeliveredKey `json:"keys"`
}

// CancelOrderRequest optionally explains a cancellation.
type CancelOrderRequest struct {
	Reason string `json:"reason" example:"customer request"`
}

// OrderStatsResponse counts orders per status.
type OrderStatsResponse struct {
	Counts map[string]int64 `json:"counts"`
}

//
// Handlers
//

// CreateOrder godoc
// @ID          createOrder
// @Summary     Create an order
// @Description Validates the lines against the catalog and stores an order awaiting payment. Prices come from the products at creation time.
// @Tags        Orders
// @Accept      json
// @Produce     json
// @Param       body  body  services.CreateOrderInput  true  "Checkout"
// @Success     201  {object}  handlers.OrderView
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid order"
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /api/v1/orders [post]
func (h *Handlers) CreateOrder(c *gin.Context) {
	var in services.CreateOrderInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	o, err := h.orders.Create(c.Request.Context(), in)
	if err != nil {
		failErr(c, err)
		return
	}
	c.Header("Location", c.FullPath()+"/"+o.ID)
	ok(c, http.StatusCreated, newOrderView(o))
}

// GetOrder godoc
// @ID          getOrder
// @Summary     Get order status
// @Description Returns the customer view of an order. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Orders
// @Produce     json
// @Param       id             path    string  true   "Order id"  format(uuid)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Success     200  {object}  handlers.OrderView
// @Header      200  {string}  ETag  "Weak ETag of the order version"
// @Success     304  {string}  string  "Not Modified"
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /api/v1/orders/{id} [get]
func (h *Handlers) GetOrder(c *gin.Context) {
	o, err := h.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	etag := fmt.Sprintf(`W/"order:%s:%s:%d"`, o.ID, o.Status, o.UpdatedAt.UnixNano())
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return
	}
	ok(c, http.StatusOK, newOrderView(o))
}

// GetOrderKeys godoc
// @ID          getOrderKeys
// @Summary     Get delivered keys
// @Description Returns the decrypted keys of a fulfilled order. The email must match the order; a mismatch reads as not found.
// @Tags        Orders
// @Produce     json
// @Param       id     path   string  true  "Order id"  format(uuid)
// @Param       email  query  string  true  "Customer email"
// @Success     200  {object}  handlers.OrderKeysResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Order not fulfilled"
// @Router      /api/v1/orders/{id}/keys [get]
func (h *Handlers) GetOrderKeys(c *gin.Context) {
	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email required")
		return
	}
	id := c.Param("id")
	keys, err := h.orders.Keys(c.Request.Context(), id, email)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, OrderKeysResponse{OrderID: id, Keys: keys})
}

// AdminGetOrder godoc
// @ID          adminGetOrder
// @Summary     Get an order (operator view)
// @Tags        Admin
// @Produce     json
// @Security    AdminToken
// @Param       id  path  string  true  "Order id"
// @Success     200  {object}  domain.Order
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /api/v1/admin/orders/{id} [get]
func (h *Handlers) AdminGetOrder(c *gin.Context) {
	o, err := h.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}

// CancelOrder godoc
// @ID          cancelOrder
// @Summary     Cancel an order
// @Description Moves a non-terminal order to cancelled and releases its reservations.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    AdminToken
// @Param       id    path  string                        true   "Order id"
// @Param       body  body  handlers.CancelOrderRequest   false  "Reason"
// @Success     200  {object}  domain.Order
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Order already terminal"
// @Router      /api/v1/admin/orders/{id}/cancel [post]
func (h *Handlers) CancelOrder(c *gin.Context) {
	var req CancelOrderRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	o, err := h.orders.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}

// RetryOrder godoc
// @ID          retryOrder
// @Summary     Retry fulfillment
// @Description Moves a fulfillment_failed order back to fulfilling and queues it.
// @Tags        Admin
// @Produce     json
// @Security    AdminToken
// @Param       id  path  string  true  "Order id"
// @Success     202  {object}  domain.Order
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Order not in fulfillment_failed"
// @Router      /api/v1/admin/orders/{id}/retry [post]
func (h *Handlers) RetryOrder(c *gin.Context) {
	o, err := h.orders.RetryFulfillment(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusAccepted, o)
}

// OrderStats godoc
// @ID          orderStats
// @Summary     Order counts per status
// @Tags        Admin
// @Produce     json
// @Security    AdminToken
// @Success     200  {object}  handlers.OrderStatsResponse
// @Router      /api/v1/admin/orders/stats [get]
func (h *Handlers) OrderStats(c *gin.Context) {
	counts, err := h.orders.Counts(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, OrderStatsResponse{Counts: counts})
}
