// Package router assembles the echo server: middleware, REST routes, the
// websocket endpoint and operational endpoints.
package router

import (
	"github.com/google/uuid"
	"github.com/kapbl/chatgate/handles"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// New builds an echo server with every route bound. gatherer may be nil, in
// which case /metrics is not served.
func New(h *handles.Handler, gatherer prometheus.Gatherer, log zerolog.Logger) *echo.Echo {
	server := echo.New()
	server.HideBanner = true
	server.HidePort = true

	server.Use(middleware.Recover())
	server.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	server.Use(requestLogger(log))

	BindRouter(server, h, gatherer)
	return server
}

func BindRouter(server *echo.Echo, h *handles.Handler, gatherer prometheus.Gatherer) {
	server.GET("/ws", h.HandleWebSocket)
	server.GET("/healthz", h.Healthz)
	if gatherer != nil {
		server.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := server.Group("/api", h.Identify)
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)

	// channel routes
	api.GET("/channels", h.ListChannels, h.RequireIdentity)
	api.POST("/channels", h.CreateChannel, h.RequireIdentity)
	api.GET("/channels/:id", h.GetChannel, h.RequireIdentity)
	api.DELETE("/channels/:id", h.DeleteChannel, h.RequireIdentity)
	api.POST("/channels/:id/moderators", h.SetModerators, h.RequireIdentity)
	api.GET("/channels/:id/blocked", h.ListBlocked, h.RequireIdentity)
	api.POST("/channels/:id/blocked/:username", h.BlockUser, h.RequireIdentity)
	api.DELETE("/channels/:id/blocked/:username", h.UnblockUser, h.RequireIdentity)
	api.GET("/channels/:id/admin", h.IsAdmin, h.RequireIdentity)
	api.GET("/channels/:id/permissions", h.Permissions, h.RequireIdentity)

	// history answers anonymous callers with empty lists
	api.GET("/messages/public", h.PublicHistory)
	api.GET("/messages/channel/:id", h.ChannelHistory)
	api.GET("/messages/user/:username", h.PrivateHistory)
	// anonymous deletion is a permission failure, not an authentication one
	api.DELETE("/messages/channel/:channelId/messages/:messageId", h.DeleteMessage)

	api.GET("/users", h.ListUsers, h.RequireIdentity)
}

func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	log = log.With().Str("component", "access").Logger()
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			event := log.Info()
			if v.Error != nil {
				event = log.Warn().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	})
}
