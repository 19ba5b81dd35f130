package middleware

import (
	"log"
	"net/http"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"

	"github.com/greenfelt/backend/internal/models"
)

var revocationStore *redis.Client

// InitAuthMiddleware wires the token revocation store. Without it logout
// still answers 200 but tokens stay valid until expiry.
func InitAuthMiddleware(redisClient *redis.Client) {
	revocationStore = redisClient
}

// AuthMiddleware validates the bearer token and attaches the caller's
// identity (user, role, tenant scope) to the request context.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}
		token := parts[1]

		if revocationStore != nil {
			if n, err := revocationStore.Exists(r.Context(), "blacklist:"+token).Result(); err == nil && n > 0 {
				http.Error(w, "Token revoked", http.StatusUnauthorized)
				return
			}
		}

		ident, err := validateToken(token)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(models.WithIdentity(r.Context(), ident)))
	})
}

// RequireCapability gates a route on the caller's role capability table.
func RequireCapability(cap models.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, ok := models.IdentityFrom(r.Context())
			if !ok {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if !ident.Role.Can(cap) {
				log.Printf("[AUTH] user %d (%s) denied capability %s on %s", ident.UserID, ident.Role, cap, r.URL.Path)
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func validateToken(tokenString string) (models.Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(viper.GetString("jwt.secret_key")), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return models.Identity{}, jwt.ErrTokenMalformed
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.Identity{}, jwt.ErrTokenInvalidClaims
	}

	userID, ok := claims["user_id"].(float64)
	if !ok {
		return models.Identity{}, jwt.ErrTokenInvalidClaims
	}
	roleStr, _ := claims["role"].(string)
	role, err := models.ParseRole(roleStr)
	if err != nil {
		return models.Identity{}, jwt.ErrTokenInvalidClaims
	}

	scope := models.ScopeAll()
	if role != models.RoleSuperadmin {
		ownerID, ok := claims["owner_id"].(float64)
		if !ok {
			return models.Identity{}, jwt.ErrTokenInvalidClaims
		}
		scope = models.ScopeOwner(int64(ownerID))
	}

	return models.Identity{
		UserID: int64(userID),
		Role:   role,
		Scope:  scope,
	}, nil
}
