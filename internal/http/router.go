// Package httpapi wires the HTTP transport (Gin) to the fulfillment services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, webhook capture, admin auth and rate limiting.
//
// Route layout:
//   - /webhooks/payment-provider, /webhooks/fulfillment-provider (root, signed)
//   - {API_BASE_PATH}/orders...                                  (checkout)
//   - {API_BASE_PATH}/admin/...                                  (operators)
//   - /health, /metrics, /swagger/*any
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "github.com/tbourn/keyshop-fulfillment/docs"
	"github.com/tbourn/keyshop-fulfillment/internal/config"
	"github.com/tbourn/keyshop-fulfillment/internal/http/handlers"
	"github.com/tbourn/keyshop-fulfillment/internal/http/middleware"
)

// maxBodyBytes caps every request body.
const maxBodyBytes = 1 << 20

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII and credential scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per actor/IP)
//  8. CORS and Security headers
//
// Webhook routes additionally capture the raw body and signature before the
// handler runs; the admin group requires the static token and disables
// caching.
func RegisterRoutes(r *gin.Engine, deps handlers.Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction (configured signature headers too)
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{cfg.Webhooks.PaymentHeader, cfg.Webhooks.FulfillmentHeader},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	r.Use(limitBody(maxBodyBytes))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics(middleware.MetricsOptions{Skip: []string{"/metrics", "/health"}}))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per actor/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByActorOrIP())
	r.Use(rl.Handler())

	// 8) CORS posture and security headers
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(deps)

	// Provider callbacks
	hooks := r.Group("/webhooks")
	{
		hooks.POST("/payment-provider", middleware.WebhookCapture(middleware.WebhookOptions{
			Header:          cfg.Webhooks.PaymentHeader,
			MaxSignatureLen: cfg.Webhooks.MaxSignatureHexSize,
		}), h.PaymentWebhook)
		hooks.POST("/fulfillment-provider", middleware.WebhookCapture(middleware.WebhookOptions{
			Header:          cfg.Webhooks.FulfillmentHeader,
			MaxSignatureLen: cfg.Webhooks.MaxSignatureHexSize,
		}), h.FulfillmentWebhook)
	}

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Checkout collaborator
		api.POST("/orders", h.CreateOrder)
		api.GET("/orders/:id", h.GetOrder)
		api.GET("/orders/:id/keys", middleware.NoStore(), h.GetOrderKeys)
	}

	admin := api.Group("/admin",
		middleware.AdminToken(cfg.Security.AdminToken),
		middleware.NoStore(),
		gzip.Gzip(gzip.DefaultCompression),
	)
	{
		// Webhook log
		admin.GET("/webhooks", h.ListWebhooks)
		admin.POST("/webhooks/replay", h.BulkReplayWebhooks)
		admin.GET("/webhooks/:id", h.GetWebhook)
		admin.POST("/webhooks/:id/replay", h.ReplayWebhook)

		// Orders
		admin.GET("/orders/stats", h.OrderStats)
		admin.GET("/orders/:id", h.AdminGetOrder)
		admin.POST("/orders/:id/cancel", h.CancelOrder)
		admin.POST("/orders/:id/retry", h.RetryOrder)

		// Catalog
		admin.GET("/products", h.ListProducts)
		admin.PUT("/products/:id", h.UpsertProduct)
		admin.POST("/products/:id/keys", h.UploadKeys)
		admin.GET("/products/:id/stock", h.ProductStock)

		// Pricing
		admin.GET("/pricing/rules", h.ListPricingRules)
		admin.POST("/pricing/rules", h.CreatePricingRule)
		admin.GET("/pricing/rules/:id", h.GetPricingRule)
		admin.PUT("/pricing/rules/:id", h.UpdatePricingRule)
		admin.DELETE("/pricing/rules/:id", h.DeletePricingRule)
		admin.GET("/pricing/quote/:productId", h.QuotePrice)
		admin.POST("/pricing/reprice", h.Reprice)

		// Flags
		admin.GET("/flags", h.ListFlags)
		admin.PUT("/flags/:name", h.SetFlag)
	}
}

// corsMiddleware returns the CORS chain. With no configured origins every
// origin is allowed without credentials; otherwise allowlisted origins are
// echoed back.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderAdminToken},
		ExposeHeaders:    []string{"X-Request-ID", "X-Webhook-Log-ID", "ETag", "Location", "Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}

	if len(origins) == 0 {
		base.AllowAllOrigins = true
		return []gin.HandlerFunc{
			// Force ACAO: * even for requests without an Origin header.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(base),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	base.AllowOrigins = origins
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(base),
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
