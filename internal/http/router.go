package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// RouterConfig groups what NewRouter needs besides the handler.
type RouterConfig struct {
	Auth      func(http.Handler) http.Handler
	RateLimit func(http.Handler) http.Handler
	Checks    map[string]HealthCheck
}

func NewRouter(h *CartHandler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(RequestLogger)

	r.Get("/health", healthHandler(cfg.Checks))

	r.Route("/api/v1/cart", func(r chi.Router) {
		if cfg.Auth != nil {
			r.Use(cfg.Auth)
		}
		if cfg.RateLimit != nil {
			r.Use(cfg.RateLimit)
		}

		r.Get("/", h.GetCart)
		r.Delete("/", h.ClearCart)
		r.Get("/count", h.GetCount)
		r.Get("/validate", h.Validate)
		r.Post("/merge", h.Merge)
		r.Post("/checkout/prepare", h.PrepareCheckout)

		r.Post("/items", h.AddItem)
		r.Put("/items/{productId}", h.UpdateQuantity)
		r.Delete("/items/{productId}", h.RemoveItem)
	})

	return otelhttp.NewHandler(r, "cart-service",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		respondJSON(w, status, resp)
	}
}
