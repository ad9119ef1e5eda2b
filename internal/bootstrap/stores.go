package bootstrap

import (
	"github.com/eleven-am/voice-client/internal/session"
	"github.com/eleven-am/voice-client/internal/transcript"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideSessionStore(redisClient *redis.Client) *session.Store {
	if redisClient == nil {
		return nil
	}
	return session.NewStore(redisClient)
}

func ProvideTranscriptStore(db *gorm.DB) *transcript.Store {
	return transcript.NewStore(db)
}

func RunMigrations(transcriptStore *transcript.Store) error {
	return transcriptStore.Migrate()
}

var StoresModule = fx.Options(
	fx.Provide(
		ProvideSessionStore,
		ProvideTranscriptStore,
	),
	fx.Invoke(RunMigrations),
)
