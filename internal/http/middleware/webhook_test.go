package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestWebhookCapture_StashesBodyAndSignature(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(WebhookCapture(WebhookOptions{Header: HeaderFulfillmentSignature}))
	r.POST("/hook", func(c *gin.Context) {
		body, ok := WebhookBody(c)
		if !ok || string(body) != `{"status":"ready"}` {
			t.Fatalf("body = %q ok=%v", body, ok)
		}
		if sig := WebhookSignature(c); sig != "abc123" {
			t.Fatalf("signature = %q", sig)
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(`{"status":"ready"}`))
	req.Header.Set(HeaderFulfillmentSignature, " abc123 ")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestWebhookCapture_MissingSignaturePassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(WebhookCapture(WebhookOptions{}))
	r.POST("/hook", func(c *gin.Context) {
		if WebhookSignature(c) != "" {
			t.Fatalf("expected empty signature")
		}
		c.Status(http.StatusAccepted)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader("{}")))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
}

func TestWebhookCapture_OversizedSignature(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(WebhookCapture(WebhookOptions{MaxSignatureLen: 8}))
	r.POST("/hook", func(c *gin.Context) {
		t.Fatalf("handler must not run")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader("{}"))
	req.Header.Set(HeaderPaymentSignature, strings.Repeat("a", 9))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["code"] != "invalid_signature" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestWebhookCapture_BodyTooLarge(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 4)
		c.Next()
	})
	r.Use(WebhookCapture(WebhookOptions{}))
	r.POST("/hook", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(`{"too":"long"}`)))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}
