package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/priyankagnana/Kanvo/domain"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	return http.StatusInternalServerError
}

// errorStage names the part of request handling that failed, for metrics.
func errorStage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	}
	return "storage"
}

// writeError answers with the mapped status and a JSON string body. Internal
// failures are logged and their details withheld.
func writeError(c echo.Context, err error) error {
	status := statusFor(err)
	msg := err.Error()
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		msg = fmt.Sprint(httpErr.Message)
	}
	switch status {
	case http.StatusInternalServerError:
		log.WithError(err).WithField("path", c.Path()).Error("request failed")
		msg = http.StatusText(status)
	case http.StatusNotFound:
		log.WithError(err).WithField("path", c.Path()).Info("resource not found")
	}
	return c.JSON(status, msg)
}
