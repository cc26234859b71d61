package main

import (
	"context"
	"flag"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
	"node.town/minutes/config"
	"node.town/minutes/db"
)

func main() {
	yes := flag.Bool("y", false, "Apply pending migrations without asking")
	flag.Parse()

	logger := log.New(os.Stdout)
	sqlLogger := logger.WithPrefix("data")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		logger.Warn("no config file", "error", err)
	}

	// The config table may not exist yet, so only file and env settings
	// apply here.
	settings, err := config.Load(viper.GetViper())
	if err != nil {
		logger.Fatal("load settings", "error", err)
	}

	ctx := context.Background()
	pool, _, err := db.OpenDatabase(ctx, settings.DatabaseURL, sqlLogger)
	if err != nil {
		logger.Fatal("open database", "error", err)
	}
	defer pool.Close()

	logger.Info("Starting database migration process...")
	err = db.Migrate(ctx, pool, sqlLogger, db.MigrateOptions{
		Dimensions: settings.EmbeddingDimensions,
		Confirm:    !*yes,
	})
	if err != nil {
		logger.Fatal("apply migrations", "error", err)
	}

	logger.Info("Migrations applied successfully")
}
