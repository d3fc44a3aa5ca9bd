package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/faunavision/faunavision-go/internal/errors"
	"github.com/faunavision/faunavision-go/internal/logger"
	"github.com/faunavision/faunavision-go/internal/validation"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Code      int    `json:"code"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps an error category onto an HTTP status. A validation error
// that names the subject's status is a state conflict rather than bad input.
func statusFor(err error) int {
	switch errors.CategoryOf(err) {
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryValidation:
		var ee *errors.EnhancedError
		if errors.As(err, &ee) {
			if _, ok := ee.ContextValue("status"); ok {
				return http.StatusConflict
			}
		}
		return http.StatusUnprocessableEntity
	case errors.CategoryTimeout:
		return http.StatusGatewayTimeout
	case errors.CategoryNetwork, errors.CategoryHTTP, errors.CategoryParsing:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as an ErrorResponse.
func (s *Server) fail(c echo.Context, err error) error {
	code := statusFor(err)
	resp := ErrorResponse{
		Error:     http.StatusText(code),
		Message:   err.Error(),
		Code:      code,
		Field:     validation.FieldOf(err),
		RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
	}

	if code >= http.StatusInternalServerError {
		s.log.Error("request failed",
			logger.String("path", c.Path()),
			logger.String("request_id", resp.RequestID),
			logger.Error(err))
	}
	return c.JSON(code, resp)
}

// errorHandler renders echo's own errors (404 route, 413 body limit, bind
// failures) in the same shape.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if !errors.As(err, &he) {
		if jsonErr := s.fail(c, err); jsonErr != nil {
			s.log.Warn("failed to write error response", logger.Error(jsonErr))
		}
		return
	}

	msg := http.StatusText(he.Code)
	if m, ok := he.Message.(string); ok {
		msg = m
	}
	resp := ErrorResponse{
		Error:     http.StatusText(he.Code),
		Message:   msg,
		Code:      he.Code,
		RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(he.Code)
	} else {
		writeErr = c.JSON(he.Code, resp)
	}
	if writeErr != nil {
		s.log.Warn("failed to write error response", logger.Error(writeErr))
	}
}
