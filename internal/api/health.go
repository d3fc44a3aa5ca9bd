package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"

	"github.com/faunavision/faunavision-go/internal/logger"
)

const serviceHealthKey = "analysis-service"

// ServiceHealth is the cached outcome of probing the analysis service.
type ServiceHealth struct {
	URL             string    `json:"url"`
	Reachable       bool      `json:"reachable"`
	Healthy         bool      `json:"healthy"`
	Status          string    `json:"status,omitempty"`
	VisionEngine    string    `json:"vision_engine,omitempty"`
	OpenAIAvailable bool      `json:"openai_available"`
	Error           string    `json:"error,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status        string         `json:"status"`
	Uptime        string         `json:"uptime"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	Subjects      int            `json:"subjects"`
	SSEClients    int            `json:"sse_clients"`
	Service       *ServiceHealth `json:"service,omitempty"`
}

// getHealth reports local status and the remote probe. The server itself is
// healthy even when the service is down; the response says "degraded".
func (s *Server) getHealth(c echo.Context) error {
	uptime := time.Since(s.startTime)
	resp := HealthResponse{
		Status:        "healthy",
		Uptime:        uptime.Truncate(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		Subjects:      len(s.orch.Snapshot().Subjects),
		SSEClients:    s.sse.ClientCount(),
	}

	if s.health != nil {
		resp.Service = s.serviceHealth(c)
		if !resp.Service.Healthy {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) serviceHealth(c echo.Context) *ServiceHealth {
	if cached, ok := s.healthCache.Get(serviceHealthKey); ok {
		if h, ok := cached.(*ServiceHealth); ok {
			return h
		}
	}

	h := &ServiceHealth{URL: s.health.BaseURL(), CheckedAt: time.Now()}
	status, err := s.health.Health(c.Request().Context())
	if err != nil {
		h.Error = err.Error()
		s.log.Warn("analysis service health probe failed", logger.Error(err))
	} else {
		h.Reachable = true
		h.Healthy = status.Healthy()
		h.Status = status.Status
		h.VisionEngine = status.VisionEngine
		h.OpenAIAvailable = status.OpenAIAvailable
	}

	if s.config.HealthCacheTTL > 0 {
		s.healthCache.Set(serviceHealthKey, h, cache.DefaultExpiration)
	}
	return h
}
