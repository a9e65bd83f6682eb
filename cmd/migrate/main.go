package main

import (
	"context"
	"flag"

	"newsdesk/db/migrations"
	"newsdesk/internal/config"
	"newsdesk/internal/database"
	"newsdesk/internal/logging"
	migrator "newsdesk/internal/migrations"

	"github.com/joho/godotenv"
)

func main() {
	down := flag.Int("down", 0, "roll back the given number of migrations instead of applying")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("newsdesk-migrate", "info")
		boot.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.ServiceName+"-migrate", cfg.LogLevel)

	ctx := context.Background()
	db, err := database.Connect(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer db.Close()

	if *down > 0 {
		n, err := migrator.Rollback(ctx, db, migrations.Files, *down, log)
		if err != nil {
			log.Fatal().Err(err).Msg("roll back migrations")
		}
		log.Info().Int("count", n).Msg("migrations rolled back")
		return
	}

	n, err := migrator.Apply(ctx, db, migrations.Files, log)
	if err != nil {
		log.Fatal().Err(err).Msg("apply migrations")
	}
	log.Info().Int("count", n).Msg("migrations applied")
}
