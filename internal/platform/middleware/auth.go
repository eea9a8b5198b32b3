package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"landgrid/pkg/domain"
	"landgrid/pkg/requestcontext"
)

// CallerValidator resolves a bearer token to the ledger account it
// authenticates.
type CallerValidator interface {
	ValidateToken(tokenString string) (domain.Account, error)
}

// RequireCaller authenticates the request and injects the caller account into
// the context. Every mutating ledger operation sits behind this middleware;
// ownership and role checks downstream read the caller from the context.
func RequireCaller(validator CallerValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				writeUnauthorized(w, "Missing or invalid Authorization header")
				return
			}

			caller, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithCaller(ctx, caller)))
		})
	}
}

// GetCaller returns the authenticated account injected by RequireCaller.
func GetCaller(ctx context.Context) domain.Account {
	return requestcontext.Caller(ctx)
}

func writeUnauthorized(w http.ResponseWriter, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + desc + `"}`))
}

// HMACValidator validates HS256 tokens whose subject is the caller's ledger
// account address.
type HMACValidator struct {
	key []byte
}

// NewHMACValidator creates a validator for the given signing key.
func NewHMACValidator(key string) *HMACValidator {
	return &HMACValidator{key: []byte(key)}
}

// ValidateToken parses and verifies the token, returning the account in the
// subject claim.
func (v *HMACValidator) ValidateToken(tokenString string) (domain.Account, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil {
		return domain.ZeroAccount, err
	}
	subject, err := token.Claims.GetSubject()
	if err != nil {
		return domain.ZeroAccount, fmt.Errorf("token has no subject: %w", err)
	}
	return domain.ParseAccount(subject)
}

// IssueToken mints a token for an account. Used by tests and local tooling;
// production deployments issue tokens from the identity service.
func (v *HMACValidator) IssueToken(account domain.Account) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": account.String(),
	})
	return token.SignedString(v.key)
}
