package http

import (
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"

	"github.com/dulus-bm/server/internal/agent/model"
)

// Router wires handlers and middleware onto a Hertz server.
type Router struct {
	handler *Handler
	cfg     model.HTTPConfig
	limiter *UserRateLimiter
}

func NewRouter(handler *Handler, cfg model.HTTPConfig) *Router {
	if cfg.UserHeader == "" {
		cfg.UserHeader = "X-User-ID"
	}
	return &Router{
		handler: handler,
		cfg:     cfg,
		limiter: NewUserRateLimiter(cfg.RatePerMinute, cfg.RateBurst),
	}
}

// Build creates the server listening on addr with every route registered.
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	opts = append([]config.Option{server.WithHostPorts(addr)}, opts...)
	if r.cfg.ShutdownTimeout > 0 {
		opts = append(opts, server.WithExitWaitTime(r.cfg.ShutdownTimeout))
	}
	h := server.New(opts...)
	h.Use(RequestLogger())

	h.GET("/health", r.handler.HealthCheck)
	h.GET("/metrics", r.handler.Metrics)

	v1 := h.Group("/v1", RequireUser(r.cfg.UserHeader))
	v1.POST("/commands", r.limiter.Middleware(), r.handler.Command)
	v1.GET("/summary", r.limiter.Middleware(), r.handler.Summary)
	v1.GET("/activity", r.handler.Activity)
	v1.POST("/stock", r.handler.CreateStockItem)
	return h
}
