package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	id "auditoria/pkg/domain"
	dErrors "auditoria/pkg/domain-errors"
	"auditoria/pkg/platform/httputil"
	"auditoria/pkg/requestcontext"
)

// ActorClaims is the token payload the authorization system signs for us.
// Capabilities arrive as strings; the service layer only ever sees the typed
// Actor.
type ActorClaims struct {
	ActorID      string   `json:"actor_id"`
	Capabilities []string `json:"capabilities"`
	jwt.RegisteredClaims
}

// RequireActor validates the bearer token and stamps the resulting Actor on
// the request context. Authorization itself (which capabilities an actor
// holds) is decided upstream; this layer only consumes the claims.
func RequireActor(signingKey string) func(http.Handler) http.Handler {
	key := []byte(signingKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token"))
				return
			}

			var claims ActorClaims
			_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrTokenUnverifiable
				}
				return key, nil
			})
			if err != nil {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid token"))
				return
			}

			actorID, err := id.ParseActorID(claims.ActorID)
			if err != nil {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid actor id claim"))
				return
			}

			actor := id.Actor{ID: actorID}
			for _, c := range claims.Capabilities {
				actor.Capabilities = append(actor.Capabilities, id.Capability(c))
			}

			ctx := requestcontext.WithActor(r.Context(), actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}
