// Package auth provides authentication middleware for the ingestion
// core's HTTP API: API-key lookup against an Owner, plus JWT validation.
// The teacher's gRPC unary/stream interceptors are replaced with
// net/http middleware over go-chi/chi, matching this service's HTTP-only
// surface (grpc-gateway is dropped here — see DESIGN.md).
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/knoguchi/ingestcore/internal/repository"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// APIKeyHeader is the HTTP header carrying the caller's API key.
	APIKeyHeader = "X-API-Key"

	ownerContextKey contextKey = "owner"
)

// OwnerInfo holds owner information extracted from authentication.
type OwnerInfo struct {
	ID       uuid.UUID
	Name     string
	APIKey   string
	Defaults repository.OwnerDefaults
}

// APIKeyMiddleware validates the X-API-Key header against the owner
// repository and, on success, attaches OwnerInfo to the request context.
type APIKeyMiddleware struct {
	owners      repository.OwnerRepository
	skipPaths   map[string]bool
	adminAPIKey string
	adminPaths  map[string]bool
}

// NewAPIKeyMiddleware constructs an APIKeyMiddleware. adminAPIKey, if
// non-empty, authorizes requests to adminPaths without an owner lookup.
func NewAPIKeyMiddleware(owners repository.OwnerRepository, adminAPIKey string) *APIKeyMiddleware {
	return &APIKeyMiddleware{
		owners:      owners,
		adminAPIKey: adminAPIKey,
		skipPaths: map[string]bool{
			"/healthz": true,
			"/readyz":  true,
		},
		adminPaths: map[string]bool{},
	}
}

// WithSkipPaths adds paths that bypass authentication entirely.
func (m *APIKeyMiddleware) WithSkipPaths(paths ...string) *APIKeyMiddleware {
	for _, p := range paths {
		m.skipPaths[p] = true
	}
	return m
}

// WithAdminPaths adds paths that require the admin API key instead of an
// owner API key.
func (m *APIKeyMiddleware) WithAdminPaths(paths ...string) *APIKeyMiddleware {
	for _, p := range paths {
		m.adminPaths[p] = true
	}
	return m
}

// Middleware returns the net/http middleware function, suitable for
// chi.Router.Use.
func (m *APIKeyMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := extractAPIKey(r)
		if apiKey == "" {
			http.Error(w, "missing API key", http.StatusUnauthorized)
			return
		}

		if m.adminPaths[r.URL.Path] {
			if m.adminAPIKey == "" {
				http.Error(w, "admin API key not configured", http.StatusForbidden)
				return
			}
			if apiKey != m.adminAPIKey {
				http.Error(w, "invalid admin API key", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		owner, err := m.owners.GetByAPIKey(r.Context(), apiKey)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				http.Error(w, "invalid API key", http.StatusUnauthorized)
				return
			}
			http.Error(w, "failed to validate API key", http.StatusInternalServerError)
			return
		}

		info := &OwnerInfo{ID: owner.ID, Name: owner.Name, APIKey: owner.APIKey, Defaults: owner.Defaults}
		ctx := context.WithValue(r.Context(), ownerContextKey, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractAPIKey reads the API key from the X-API-Key header, falling
// back to a Bearer Authorization header for clients that only speak that
// convention.
func extractAPIKey(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(APIKeyHeader)); v != "" {
		return v
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// OwnerFromContext extracts owner info from context.
func OwnerFromContext(ctx context.Context) (*OwnerInfo, bool) {
	owner, ok := ctx.Value(ownerContextKey).(*OwnerInfo)
	return owner, ok
}

// MustOwnerFromContext extracts owner info from context or panics. Only
// safe to call from a handler mounted behind APIKeyMiddleware.
func MustOwnerFromContext(ctx context.Context) *OwnerInfo {
	owner, ok := OwnerFromContext(ctx)
	if !ok {
		panic("owner not found in context")
	}
	return owner
}

// RequireOwner is a helper that returns an error if owner is not in context.
func RequireOwner(ctx context.Context) (*OwnerInfo, error) {
	owner, ok := OwnerFromContext(ctx)
	if !ok {
		return nil, errUnauthenticated
	}
	return owner, nil
}

type authError string

func (e authError) Error() string { return string(e) }

var errUnauthenticated = authError("owner context not found")

// OwnerIDFromContext extracts just the owner ID from context.
func OwnerIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	owner, ok := OwnerFromContext(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return owner.ID, true
}
