// Catalog HTTP handlers (operators):
//   - GET  /admin/products
//   - PUT  /admin/products/{id}
//   - POST /admin/products/{id}/keys
//   - GET  /admin/products/{id}/stock
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/keyshop-fulfillment/internal/domain"
	"github.com/tbourn/keyshop-fulfillment/internal/services"
)

// maxUploadKeys caps one upload batch.
const maxUploadKeys = 5000

// ProductRequest is the writable catalog part of a product.
type ProductRequest struct {
	Name            string `json:"name"              binding:"required" example:"Starfall Deluxe (Steam)"`
	Category        string `json:"category"          example:"games"`
	SourceType      string `json:"source_type"       binding:"required" example:"self_hosted"`
	ProviderOfferID string `json:"provider_offer_id"`
	Currency        string `json:"currency"          binding:"required" example:"EUR"`
	CostMinor       int64  `json:"cost_minor"        example:"1500"`
	Published       bool   `json:"published"`
}

// UploadKeysRequest carries plaintext keys to encrypt and store. Keys may be
// sent as a list or as one newline-separated block.
type UploadKeysRequest struct {
	Keys         []string   `json:"keys"`
	Text         string     `json:"text"`
	KeyExpiresAt *time.Time `json:"key_expires_at,omitempty"`
}

func (r UploadKeysRequest) lines() []services.UploadKey {
	raw := append([]string{}, r.Keys...)
	if r.Text != "" {
		raw = append(raw, strings.Split(strings.ReplaceAll(r.Text, "\r\n", "\n"), "\n")...)
	}
	out := make([]services.UploadKey, 0, len(raw))
	for _, k := range raw {
		out = append(out, services.UploadKey{Key: k, KeyExpiresAt: r.KeyExpiresAt})
	}
	return out
}

// ListProductsResponse wraps a page of products.
type ListProductsResponse struct {
	Products   []domain.Product `json:"products"`
	Pagination Pagination       `json:"pagination"`
}

// ListProducts godoc
// @ID          listProducts
// @Summary     List products (paginated)
// @Tags        Catalog
// @Produce     json
// @Security    AdminToken
// @Param       page       query  int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListProductsResponse
// @Router      /api/v1/admin/products [get]
func (h *Handlers) ListProducts(c *gin.Context) {
	page := clampPagination(c)
	rows, total, err := h.catalog.ListProducts(c.Request.Context(), page.Offset(), page.PageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListProductsResponse{Products: rows, Pagination: newPagination(page, total)})
}

// UpsertProduct godoc
// @ID          upsertProduct
// @Summary     Create or update a product
// @Description Stores catalog fields. Price and stock counters are owned by the pipeline and left untouched.
// @Tags        Catalog
// @Accept      json
// @Produce     json
// @Security    AdminToken
// @Param       id    path  string                   true  "Product id"
// @Param       body  body  handlers.ProductRequest  true  "Product"
// @Success     200  {object}  domain.Product
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid product"
// @Router      /api/v1/admin/products/{id} [put]
func (h *Handlers) UpsertProduct(c *gin.Context) {
	var req ProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	p := &domain.Product{
		ID:              strings.TrimSpace(c.Param("id")),
		Name:            req.Name,
		Category:        req.Category,
		SourceType:      req.SourceType,
		ProviderOfferID: req.ProviderOfferID,
		Currency:        req.Currency,
		CostMinor:       req.CostMinor,
		Published:       req.Published,
	}
	if err := h.catalog.UpsertProduct(c.Request.Context(), p); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// UploadKeys godoc
// @ID          uploadKeys
// @Summary     Upload keys for a self-hosted product
// @Description Encrypts each key and appends it to the FIFO inventory. Blank lines and keys already uploaded for the product are skipped.
// @Tags        Catalog
// @Accept      json
// @Produce     json
// @Security    AdminToken
// @Param       id    path  string                      true  "Product id"
// @Param       body  body  handlers.UploadKeysRequest  true  "Keys"
// @Success     201  {object}  services.UploadResult
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /api/v1/admin/products/{id}/keys [post]
func (h *Handlers) UploadKeys(c *gin.Context) {
	var req UploadKeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	keys := req.lines()
	switch {
	case len(keys) == 0:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "keys required")
		return
	case len(keys) > maxUploadKeys:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "too many keys in one upload")
		return
	}
	res, err := h.catalog.Upload(c.Request.Context(), c.Param("id"), keys)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, res)
}

// ProductStock godoc
// @ID          productStock
// @Summary     Stock report
// @Description Compares the stored counters with a recount of the inventory.
// @Tags        Catalog
// @Produce     json
// @Security    AdminToken
// @Param       id  path  string  true  "Product id"
// @Success     200  {object}  services.StockReport
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /api/v1/admin/products/{id}/stock [get]
func (h *Handlers) ProductStock(c *gin.Context) {
	rep, err := h.catalog.Stock(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, rep)
}
