package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rolesync/rolesync/internal/http/response"
	"github.com/rolesync/rolesync/internal/identity"
	"github.com/rolesync/rolesync/internal/normalize"
	"github.com/rolesync/rolesync/internal/platform/community"
	"github.com/rolesync/rolesync/internal/repo/postgres"
	"github.com/rolesync/rolesync/internal/repo/redisrepo"
	"github.com/rolesync/rolesync/internal/service"
	"github.com/rolesync/rolesync/pkg/auth"
	"github.com/rolesync/rolesync/pkg/config"
	"github.com/rolesync/rolesync/pkg/logger"
)

type memberIDKey struct{}

type Handlers struct {
	engine     *service.Engine
	identities *identity.Store
	normalizer *normalize.Normalizer
	dedup      redisrepo.DedupRepository
	store      postgres.IdentityRepository
	community  community.Client
	config     *config.Config
}

func New(
	engine *service.Engine,
	identities *identity.Store,
	normalizer *normalize.Normalizer,
	dedup redisrepo.DedupRepository,
	store postgres.IdentityRepository,
	communityClient community.Client,
	config *config.Config,
) *Handlers {
	return &Handlers{
		engine:     engine,
		identities: identities,
		normalizer: normalizer,
		dedup:      dedup,
		store:      store,
		community:  communityClient,
		config:     config,
	}
}

// RequireCommandJWT authenticates the bot frontend's per-command token and
// puts the invoking member id on the context. requiredScope guards admin
// operations such as /backup.
func (h *Handlers) RequireCommandJWT(requiredScope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				response.Unauthorized(w, "Missing or invalid authorization header")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			claims, err := auth.Parse(token, h.config.Auth.CommandTokenSecret)
			if err != nil {
				response.Unauthorized(w, "Invalid token")
				return
			}

			if requiredScope != "" && claims.Scope != requiredScope {
				response.Forbidden(w, "Insufficient permissions")
				return
			}

			ctx := context.WithValue(r.Context(), memberIDKey{}, claims.MemberID)
			ctx = context.WithValue(ctx, logger.MemberIDKey, claims.MemberID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func memberIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(memberIDKey{}).(string); ok {
		return v
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
