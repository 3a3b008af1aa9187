package web

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jdginn/showctl/engine"
)

// APIError is the JSON body of every failed request.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// fromEngine maps engine failures onto HTTP statuses.
func fromEngine(err error) *APIError {
	switch {
	case errors.Is(err, engine.ErrNoEventLoaded):
		return &APIError{Status: http.StatusConflict, Code: "NO_EVENT", Message: err.Error()}
	case errors.Is(err, engine.ErrBackendUnavailable):
		return &APIError{Status: http.StatusBadGateway, Code: "BACKEND_UNAVAILABLE", Message: err.Error()}
	case errors.Is(err, engine.ErrEngineStopped):
		return &APIError{Status: http.StatusServiceUnavailable, Code: "STOPPED", Message: err.Error()}
	}
	return &APIError{Status: http.StatusInternalServerError, Code: "INTERNAL_ERROR", Message: err.Error()}
}

// errorHandler renders every error as an APIError.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var apiErr *APIError
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &httpErr):
		apiErr = &APIError{Status: httpErr.Code, Code: "HTTP_ERROR", Message: fmt.Sprint(httpErr.Message)}
	default:
		apiErr = fromEngine(err)
	}
	_ = c.JSON(apiErr.Status, apiErr)
}
