package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// GetRoutePattern returns the chi route pattern of the request, used as the
// route label on HTTP metrics so ids don't explode cardinality.
func GetRoutePattern(r *http.Request) string {
	routeCtx := chi.RouteContext(r.Context())
	if routeCtx == nil || routeCtx.RoutePattern() == "" {
		return "undefined"
	}
	return routeCtx.RoutePattern()
}

const defaultRandomCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func RandomString(size int) (string, error) {
	charsetLen := big.NewInt(int64(len(defaultRandomCharset)))
	b := make([]byte, size)
	for i := range b {
		randomNumber, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return "", fmt.Errorf("generating random number in RandomString: %w", err)
		}
		b[i] = defaultRandomCharset[randomNumber.Int64()]
	}
	return string(b), nil
}
