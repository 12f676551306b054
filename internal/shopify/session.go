package shopify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"server/internal/domain"
)

type shopKey struct{}

// SessionClaims are the claims carried by a Shopify embedded-app session token.
type SessionClaims struct {
	Dest string `json:"dest"`
	jwt.RegisteredClaims
}

// VerifySessionToken validates an embedded-app session token signed with the
// app's API secret and returns the shop domain it was issued for.
func VerifySessionToken(secret, token string) (string, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid {
		return "", domain.ErrUnauthorized
	}

	shop, err := shopFromDest(claims.Dest)
	if err != nil {
		return "", domain.ErrUnauthorized
	}
	return shop, nil
}

func shopFromDest(dest string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(dest))
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("invalid dest claim %q", dest)
	}
	shop := strings.ToLower(parsed.Host)
	if !domain.ValidShopDomain(shop) {
		return "", fmt.Errorf("dest host %q is not a shop domain", shop)
	}
	return shop, nil
}

// SessionMiddleware authenticates requests with a Shopify session token from
// the Authorization header and stores the shop domain in the request context.
func SessionMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				// the websocket handshake cannot set headers from the browser
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				unauthorized(w)
				return
			}
			shop, err := VerifySessionToken(secret, token)
			if err != nil {
				unauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), shopKey{}, shop)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ShopFromContext returns the authenticated shop domain, or "".
func ShopFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(shopKey{}).(string); ok {
		return v
	}
	return ""
}

// ContextWithShop injects a shop domain, for tests and internal callers.
func ContextWithShop(ctx context.Context, shopDomain string) context.Context {
	if strings.TrimSpace(shopDomain) == "" {
		return ctx
	}
	return context.WithValue(ctx, shopKey{}, shopDomain)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"success":false,"error":"unauthorized"}`))
}
