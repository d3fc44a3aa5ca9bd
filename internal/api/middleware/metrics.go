package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/faunavision/faunavision-go/internal/errors"
)

// RequestRecorder receives one observation per handled request.
// *metrics.HTTPMetrics implements it.
type RequestRecorder interface {
	RecordRequest(method, route string, status int, elapsed time.Duration)
}

// NewMetrics records method, route pattern, status and latency. Requests
// that matched no route are recorded under "unmatched".
func NewMetrics(rec RequestRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else if !c.Response().Committed {
					status = http.StatusInternalServerError
				}
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			rec.RecordRequest(c.Request().Method, route, status, time.Since(start))
			return err
		}
	}
}
