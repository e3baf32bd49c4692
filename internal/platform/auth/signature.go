package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Sign computes the hex HMAC-SHA256 signature of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the X-Signature header of incoming webhook requests
// against the HMAC of the raw body. The body is restored for downstream
// handlers. An empty secret disables the check (development mode).
func VerifySignature(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if secret == "" {
				return next(c)
			}

			body, err := io.ReadAll(c.Request().Body)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
			}
			c.Request().Body = io.NopCloser(bytes.NewReader(body))

			given := c.Request().Header.Get("X-Signature")
			if given == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing signature")
			}
			want := Sign(secret, body)
			if !hmac.Equal([]byte(given), []byte(want)) {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
			}
			return next(c)
		}
	}
}
