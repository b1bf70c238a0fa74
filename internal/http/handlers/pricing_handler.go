// Pricing HTTP handlers (operators):
//   - GET    /admin/pricing/rules
//   - POST   /admin/pricing/rules
//   - GET    /admin/pricing/rules/{id}
//   - PUT    /admin/pricing/rules/{id}
//   - DELETE /admin/pricing/rules/{id}
//   - GET    /admin/pricing/quote/{productId}
//   - POST   /admin/pricing/reprice
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/keyshop-fulfillment/internal/domain"
	"github.com/tbourn/keyshop-fulfillment/internal/services"
)

// ListRulesResponse wraps every pricing rule.
type ListRulesResponse struct {
	Rules []domain.PricingRule `json:"rules"`
}

// RepriceRequest lists the products to reprice.
type RepriceRequest struct {
	ProductIDs []string `json:"product_ids"`
}

// ListPricingRules godoc
// @ID          listPricingRules
// @Summary     List pricing rules
// @Tags        Pricing
// @Produce     json
// @Security    AdminToken
// @Success     200  {object}  handlers.ListRulesResponse
// @Router      /api/v1/admin/pricing/rules [get]
func (h *Handlers) ListPricingRules(c *gin.Context) {
	rules, err := h.pricing.ListRules(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	if rules == nil {
		rules = []domain.PricingRule{}
	}
	ok(c, http.StatusOK, ListRulesResponse{Rules: rules})
}

// CreatePricingRule godoc
// @ID          createPricingRule
// @Summary     Create a pricing rule
// @Description Scope is global, category or product. At most one rule exists per scope and reference.
// @Tags        Pricing
// @Accept      json
// @Produce     json
// @Security    AdminToken
// @Param       body  body  services.RuleInput  true  "Rule"
// @Success     201  {object}  domain.PricingRule
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid rule"
// @Failure     404  {object}  handlers.ErrorResponse  "Product not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Rule exists"
// @Router      /api/v1/admin/pricing/rules [post]
func (h *Handlers) CreatePricingRule(c *gin.Context) {
	var in services.RuleInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	r, err := h.pricing.CreateRule(c.Request.Context(), in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, r)
}

// GetPricingRule godoc
// @ID          getPricingRule
// @Summary     Get a pricing rule
// @Tags        Pricing
// @Produce     json
// @Security    AdminToken
// @Param       id  path  string  true  "Rule id"
// @Success     200  {object}  domain.PricingRule
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /api/v1/admin/pricing/rules/{id} [get]
func (h *Handlers) GetPricingRule(c *gin.Context) {
	r, err := h.pricing.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, r)
}

// UpdatePricingRule godoc
// @ID          updatePricingRule
// @Summary     Update a pricing rule
// @Description Replaces margin, floor and cap. Scope and reference are fixed.
// @Tags        Pricing
// @Accept      json
// @Produce     json
// @Security    AdminToken
// @Param       id    path  string              true  "Rule id"
// @Param       body  body  services.RuleInput  true  "Rule values"
// @Success     200  {object}  domain.PricingRule
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /api/v1/admin/pricing/rules/{id} [put]
func (h *Handlers) UpdatePricingRule(c *gin.Context) {
	var in services.RuleInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	r, err := h.pricing.UpdateRule(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, r)
}

// DeletePricingRule godoc
// @ID          deletePricingRule
// @Summary     Delete a pricing rule
// @Tags        Pricing
// @Security    AdminToken
// @Param       id  path  string  true  "Rule id"
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /api/v1/admin/pricing/rules/{id} [delete]
func (h *Handlers) DeletePricingRule(c *gin.Context) {
	if err := h.pricing.DeleteRule(c.Request.Context(), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// QuotePrice godoc
// @ID          quotePrice
// @Summary     Quote a product price
// @Description Computes the price the current rules give a product without storing it.
// @Tags        Pricing
// @Produce     json
// @Security    AdminToken
// @Param       productId  path  string  true  "Product id"
// @Success     200  {object}  services.QuoteResult
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /api/v1/admin/pricing/quote/{productId} [get]
func (h *Handlers) QuotePrice(c *gin.Context) {
	q, err := h.pricing.Quote(c.Request.Context(), c.Param("productId"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, q)
}

// Reprice godoc
// @ID          reprice
// @Summary     Reprice products
// @Description Recomputes and stores the price of each listed product. Unknown ids are reported as missing; an empty list is a no-op.
// @Tags        Pricing
// @Accept      json
// @Produce     json
// @Security    AdminToken
// @Param       body  body  handlers.RepriceRequest  true  "Products"
// @Success     200  {object}  services.RepriceResult
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /api/v1/admin/pricing/reprice [post]
func (h *Handlers) Reprice(c *gin.Context) {
	var req RepriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	res, err := h.pricing.Reprice(c.Request.Context(), req.ProductIDs)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}
