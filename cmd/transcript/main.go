package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/eleven-am/voice-client/internal/shared"
	"github.com/eleven-am/voice-client/internal/transcript"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: transcript <session_id> [--fragments]")
		os.Exit(2)
	}
	sessionID := os.Args[1]
	fragments := len(os.Args) > 2 && os.Args[2] == "--fragments"

	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		dsn = "voice-client.db"
	}

	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatal("connect db:", err)
	}

	store := transcript.NewStore(db)
	ctx := context.Background()

	if !fragments {
		text, err := store.Text(ctx, sessionID)
		if errors.Is(err, shared.ErrNotFound) {
			log.Fatalf("no transcript for %s", sessionID)
		}
		if err != nil {
			log.Fatal("load transcript:", err)
		}
		fmt.Println(text)
		return
	}

	frags, err := store.ListBySession(ctx, sessionID)
	if err != nil {
		log.Fatal("list fragments:", err)
	}
	for _, f := range frags {
		fmt.Printf("%4d  %s  %s\n", f.Seq, f.CreatedAt.Format("15:04:05.000"), f.Text)
	}
}
