package bootstrap

import (
	"log/slog"

	"github.com/eleven-am/voice-client/internal/health"
	"github.com/eleven-am/voice-client/internal/playback"
	"github.com/eleven-am/voice-client/internal/voicesession"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const version = "1.0.0"

func ProvideHealthHandler(
	db *gorm.DB,
	redis *redis.Client,
	mgr *voicesession.Manager,
	player *playback.Buffer,
) *health.Handler {
	return health.NewHandler(db, redis, mgr, player, version)
}

func requestCounter(h *health.Handler) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h.IncrementRequests()
			return next(c)
		}
	}
}

func RegisterHealthRoutes(e *echo.Echo, h *health.Handler, reg *prometheus.Registry, logger *slog.Logger) {
	e.Use(requestCounter(h))
	h.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelError),
	})))
}

var HealthModule = fx.Options(
	fx.Provide(ProvideHealthHandler),
	fx.Invoke(RegisterHealthRoutes),
)
