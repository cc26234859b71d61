package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"node.town/minutes/config"
	"node.town/minutes/db"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(listSessionsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(leaveCmd)
	rootCmd.AddCommand(feedCmd)
	rootCmd.AddCommand(setupCmd)

	rootCmd.PersistentFlags().String("database-url", "", "Postgres connection URL")
	rootCmd.PersistentFlags().Int("http-port", 8081, "HTTP server port")
	rootCmd.PersistentFlags().String("server", "http://localhost:8081", "URL of a running minutes server")
	rootCmd.PersistentFlags().Bool("debug", false, "Log at debug level")
	rootCmd.PersistentFlags().String("openai-api-key", "", "OpenAI API key")
	rootCmd.PersistentFlags().String("gemini-api-key", "", "Gemini API key")

	viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database-url"))
	viper.BindPFlag("http_port", rootCmd.PersistentFlags().Lookup("http-port"))
	viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag(
		"openai_api_key",
		rootCmd.PersistentFlags().Lookup("openai-api-key"),
	)
	viper.BindPFlag(
		"gemini_api_key",
		rootCmd.PersistentFlags().Lookup("gemini-api-key"),
	)
}

func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	config.SetDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Printf("Error reading config file: %s\n", err)
		}
	}

	logger = log.New(os.Stderr)
}

var rootCmd = &cobra.Command{
	Use:   "minutes",
	Short: "minutes turns live meeting transcripts into searchable turns",
	Long: `minutes receives finished transcript turns from a meeting bot, resolves
who said them, embeds and stores them, and closes sessions that go idle.`,
}

type loggers struct {
	main *log.Logger
	data *log.Logger
	meet *log.Logger
	pipe *log.Logger
	turn *log.Logger
	www  *log.Logger
}

func createLoggers() loggers {
	logLevel := log.InfoLevel
	if viper.GetBool("debug") {
		logLevel = log.DebugLevel
	}

	logger.SetLevel(logLevel)
	logger.SetReportCaller(true)
	logger.SetCallerFormatter(
		func(file string, line int, funcName string) string {
			path, err := filepath.Rel(".", file)
			if err != nil {
				path = file
			}
			return fmt.Sprintf("%s:%d", path, line)
		},
	)

	styles := log.DefaultStyles()
	styles.Prefix = styles.Prefix.
		Bold(false).Transform(func(s string) string {
		return strings.TrimSuffix(s, ":")
	})
	for _, level := range []log.Level{log.InfoLevel, log.WarnLevel, log.ErrorLevel} {
		styles.Levels[level] = styles.Levels[level].
			MaxWidth(6).
			MarginRight(1).
			Bold(false)
	}
	styles.Message = styles.Message.Bold(true).Width(28)
	styles.Key = styles.Key.MarginLeft(1).
		Bold(false).
		Foreground(lipgloss.Color("#ff8800"))

	logger.SetStyles(styles)

	return loggers{
		main: logger.With().WithPrefix("main"),
		data: logger.With().WithPrefix("data"),
		meet: logger.With().WithPrefix("meet"),
		pipe: logger.With().WithPrefix("pipe"),
		turn: logger.With().WithPrefix("turn"),
		www:  logger.With().WithPrefix("www"),
	}
}

// openDatabase connects to Postgres and layers the config table on top
// of file, env and flag configuration.
func openDatabase(ctx context.Context, sqlLogger *log.Logger) (*pgxpool.Pool, *db.Queries, error) {
	url := viper.GetString("database_url")
	if url == "" {
		return nil, nil, fmt.Errorf("database_url is not set")
	}

	pool, queries, err := db.OpenDatabase(ctx, url, sqlLogger)
	if err != nil {
		return nil, nil, err
	}

	if err := config.NewStore(queries, viper.GetViper()).Load(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, queries, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
