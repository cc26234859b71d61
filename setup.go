package main

import (
	"context"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"node.town/minutes/config"
	"node.town/minutes/db"
	"node.town/minutes/embedding"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the schema and store provider settings in the database",
	Run:   runSetup,
}

func runSetup(cmd *cobra.Command, args []string) {
	logs := createLoggers()
	ctx := context.Background()

	provider := viper.GetString("embedding_provider")
	err := huh.NewSelect[string]().
		Title("Embedding provider").
		Options(
			huh.NewOption("OpenAI", "openai"),
			huh.NewOption("Gemini", "gemini"),
		).
		Value(&provider).
		Run()
	if err != nil {
		logs.main.Fatal("Error during setup", "error", err)
	}

	// Keep stored values only while the provider stays the same.
	model, defaultDims := embedding.Defaults(provider)
	dimensions := strconv.Itoa(defaultDims)
	if provider == viper.GetString("embedding_provider") {
		if viper.IsSet("embedding_model") {
			model = viper.GetString("embedding_model")
		}
		if viper.IsSet("embedding_dimensions") {
			dimensions = strconv.Itoa(viper.GetInt("embedding_dimensions"))
		}
	}
	var apiKey string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Embedding model").
				Value(&model),
			huh.NewInput().
				Title("Embedding dimensions").
				Validate(func(s string) error {
					_, err := strconv.Atoi(s)
					return err
				}).
				Value(&dimensions),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("API key for the embedding provider").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
		),
	)
	if err := form.Run(); err != nil {
		logs.main.Fatal("Error during setup", "error", err)
	}
	dims, _ := strconv.Atoi(dimensions)

	pool, queries, err := db.OpenDatabase(ctx, viper.GetString("database_url"), logs.data)
	if err != nil {
		logs.main.Fatal("Failed to connect to database", "error", err)
	}
	defer pool.Close()
	logs.main.Info("Successfully connected to the database")

	err = db.Migrate(ctx, pool, logs.data, db.MigrateOptions{
		Dimensions: dims,
		Confirm:    true,
	})
	if err != nil {
		logs.main.Fatal("Failed to migrate", "error", err)
	}

	keyName := "openai_api_key"
	if provider == "gemini" {
		keyName = "gemini_api_key"
	}

	cfg := config.NewStore(queries, viper.GetViper())
	for _, kv := range [][2]string{
		{"embedding_provider", provider},
		{"embedding_model", model},
		{"embedding_dimensions", dimensions},
		{keyName, apiKey},
	} {
		if kv[1] == "" {
			continue
		}
		if err := cfg.Set(ctx, kv[0], kv[1]); err != nil {
			logs.main.Fatal("Error saving setting", "key", kv[0], "error", err)
		}
	}

	if _, err := config.Load(viper.GetViper()); err != nil {
		logs.main.Fatal("Invalid settings", "error", err)
	}
	logs.main.Info("Setup completed successfully!")
}
