package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const (
	bearerPrefix    = "Bearer "
	userIDKey       = "userID"
	authDurationKey = "authDuration"
)

func bearerTokenFromHeader(header http.Header) (string, error) {
	values := header.Values(echo.HeaderAuthorization)
	if len(values) == 0 {
		return "", errMissingAuthorization
	}
	return bearerTokenFromString(values[0])
}

// bearerTokenFromString returns the compact JWT of a "Bearer <jwt>" value.
func bearerTokenFromString(raw string) (string, error) {
	trimmed := strings.Trim(raw, " ")
	if trimmed == "" {
		return "", errMissingAuthorization
	}
	token, ok := strings.CutPrefix(trimmed, bearerPrefix)
	if !ok || token == "" {
		return "", errBadAuthorization
	}
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}

// requireUser authenticates every request of the group and stores the user
// id in the echo context. SSE clients may pass the token as ?token=.
func requireUser(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if token := c.QueryParam("token"); header == "" && token != "" {
				header = bearerPrefix + token
			}
			start := time.Now()
			userID, err := auth.UserIDFromAuthHeader(header)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, err.Error())
			}
			c.Set(userIDKey, userID)
			c.Set(authDurationKey, time.Since(start))
			return next(c)
		}
	}
}

func userIDFrom(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}
