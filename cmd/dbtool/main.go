package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/bsos-ops/bsos/backend/internal/config"
	"github.com/bsos-ops/bsos/backend/internal/logging"
	"github.com/bsos-ops/bsos/backend/internal/migrations"
)

func main() {
	// Load environment variables
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := logging.New(cfg.Log)

	db, err := sql.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ping database")
	}

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		logger.Info().Msg("applying migrations")
		if err := migrations.Up(db, logger); err != nil {
			logger.Fatal().Err(err).Msg("failed to apply migrations")
		}

	case "fix":
		logger.Info().Msg("attempting to fix dirty database")
		if err := migrations.FixDirtyDatabase(db); err != nil {
			logger.Fatal().Err(err).Msg("failed to fix dirty database")
		}
		logger.Info().Msg("database fixed")

	case "force":
		if len(os.Args) < 3 {
			logger.Fatal().Msgf("usage: %s force <version>", os.Args[0])
		}
		v, err := parseVersion(os.Args[2])
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid version number")
		}
		if err := migrations.ForceVersion(db, v); err != nil {
			logger.Fatal().Err(err).Msg("failed to force version")
		}
		logger.Info().Uint("version", v).Msg("database version forced")

	case "status":
		version, dirty, err := migrations.Status(db)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to read migration status")
		}
		logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("migration status")

	default:
		fmt.Fprintf(os.Stderr, "usage: %s [up|fix|force <version>|status]\n", os.Args[0])
		os.Exit(1)
	}
}

func parseVersion(raw string) (uint, error) {
	v, err := strconv.ParseUint(raw, 10, 0)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", raw, err)
	}
	return uint(v), nil
}
