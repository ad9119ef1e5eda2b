package bootstrap

import (
	"context"
	"log/slog"
	"strings"

	"github.com/eleven-am/voice-client/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ProvideRedisClient returns nil when no address is configured; session
// records and event fan-out are then disabled.
func ProvideRedisClient(cfg *Config, log *slog.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		log.Info("redis not configured, session records and event publishing disabled")
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func ProvideDatabase(cfg *Config) (*gorm.DB, error) {
	return gorm.Open(dialector(cfg.DatabaseDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

func dialector(dsn string) gorm.Dialector {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

// ProvideTokenSource prefers client credentials, then a static bearer token.
// It returns nil when the server needs no authorization.
func ProvideTokenSource(cfg *Config) oauth2.TokenSource {
	if cfg.OAuthTokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			TokenURL:     cfg.OAuthTokenURL,
			Scopes:       cfg.OAuthScopes,
		}
		return cc.TokenSource(context.Background())
	}
	if cfg.AuthToken != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AuthToken, TokenType: "Bearer"})
	}
	return nil
}

func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func ProvideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func CloseInfrastructure(lc fx.Lifecycle, db *gorm.DB, redisClient *redis.Client) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if redisClient != nil {
				_ = redisClient.Close()
			}
			if sqlDB, err := db.DB(); err == nil {
				return sqlDB.Close()
			}
			return nil
		},
	})
}

var InfrastructureModule = fx.Options(
	fx.Provide(
		ProvideRedisClient,
		ProvideDatabase,
		ProvideTokenSource,
		ProvideRegistry,
		ProvideMetrics,
	),
	fx.Invoke(CloseInfrastructure),
)
