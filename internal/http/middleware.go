package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/go_cart/cart-service/internal/config"
	"github.com/fjod/go_cart/cart-service/internal/logger"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type contextKey string

const (
	userIDKey    contextKey = "user_id"
	requestIDKey contextKey = "request_id"
)

// JWTAuthMiddleware accepts HMAC-signed bearer tokens with the configured
// issuer and audience. The user id comes from sub, or nameid for tokens
// minted by the identity service.
func JWTAuthMiddleware(cfg config.JWTConfig) func(http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
	)
	keyFunc := func(*jwt.Token) (any, error) { return []byte(cfg.SecretKey), nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logger.Component(r.Context(), "auth")

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				log.Warn().Str("path", r.URL.Path).Msg("authorization header missing")
				respondError(w, http.StatusUnauthorized, "unauthorized", "Authorization header is required")
				return
			}
			tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				respondError(w, http.StatusUnauthorized, "unauthorized", "Invalid authorization format")
				return
			}

			claims := jwt.MapClaims{}
			if _, err := parser.ParseWithClaims(tokenString, claims, keyFunc); err != nil {
				if errors.Is(err, jwt.ErrTokenExpired) {
					log.Warn().Msg("token expired")
					respondError(w, http.StatusUnauthorized, "token_expired", "Token expired")
					return
				}
				log.Warn().Err(err).Msg("invalid token")
				respondError(w, http.StatusUnauthorized, "unauthorized", "Invalid token")
				return
			}

			userID, _ := claims["sub"].(string)
			if userID == "" {
				userID, _ = claims["nameid"].(string)
			}
			if userID == "" {
				log.Warn().Msg("token has no user id")
				respondError(w, http.StatusUnauthorized, "unauthorized", "Invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLogger logs every request once it has been served.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		event := logger.Component(r.Context(), "http").Info()
		if status >= http.StatusInternalServerError {
			event = logger.Component(r.Context(), "http").Error()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", getRequestID(r.Context())).
			Msg("request served")
	})
}

// RateLimitMiddleware counts requests per user in fixed Redis windows.
// Redis failures let the request through.
func RateLimitMiddleware(client *redis.Client, cfg config.RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if cfg.Requests <= 0 || cfg.Window <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := getUserIDFromContext(r.Context())
			if subject == "" {
				subject = r.RemoteAddr
			}
			now := time.Now()
			window := now.UnixMilli() / cfg.Window.Milliseconds()
			key := fmt.Sprintf("rate_limit:%s:%d", subject, window)
			reset := time.UnixMilli((window + 1) * cfg.Window.Milliseconds()).UTC()

			count, err := incrWindow(r.Context(), client, key, cfg.Window)
			if err != nil {
				logger.Component(r.Context(), "rate_limiter").Error().Err(err).Msg("rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(max(0, int64(cfg.Requests)-count), 10))
			w.Header().Set("X-RateLimit-Reset", reset.Format(time.RFC3339))
			if count > int64(cfg.Requests) {
				logger.Component(r.Context(), "rate_limiter").Warn().
					Str("subject", subject).
					Int64("count", count).
					Msg("rate limit exceeded")
				respondError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func incrWindow(ctx context.Context, client *redis.Client, key string, window time.Duration) (int64, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := client.Expire(ctx, key, window).Err(); err != nil {
			return 0, err
		}
	}
	return count, nil
}

func getUserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

func getRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithUserID returns a context carrying an authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}
