package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"murmur/internal/services"
)

type contextKey string

const userIDKey contextKey = "murmur.user_id"

// requestID tags every request with a correlation id, echoed back in the
// X-Request-ID header and carried on the request context for logging.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

// authenticate validates the bearer token and resolves the user identifier
// from the sub claim.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.verifyBearer(r.Header.Get("Authorization"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		ctx = services.WithUserID(ctx, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) verifyBearer(header string) (string, error) {
	if header == "" {
		return "", services.Wrap(services.ErrAuth, "", "authenticate", "missing authorization header", nil)
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", services.Wrap(services.ErrAuth, "", "authenticate", "malformed authorization header", nil)
	}

	token, err := jwt.Parse(parts[1], func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(s.cfg.Auth.JWTSecret), nil
	}, jwt.WithLeeway(time.Duration(s.cfg.Auth.LeewaySeconds)*time.Second))
	if err != nil {
		return "", services.Wrap(services.ErrAuth, "", "authenticate", "invalid token", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", services.Wrap(services.ErrAuth, "", "authenticate", "unexpected claims shape", nil)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", services.Wrap(services.ErrAuth, "", "authenticate", "token has no subject", err)
	}
	return sub, nil
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}
