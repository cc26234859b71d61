package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"node.town/minutes/config"
	"node.town/minutes/embedding"
	"node.town/minutes/identity"
	"node.town/minutes/ingest"
	"node.town/minutes/meeting"
	"node.town/minutes/pipeline"
	"node.town/minutes/turns"
	"node.town/minutes/www"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the turn pipeline, session sweeper and HTTP API",
	Run:   runServe,
}

func init() {
	serveCmd.Flags().Bool("enroll-unknown", false, "Create a new speaker identity for every unmatched label")
	viper.BindPFlag("enroll_unknown_speakers", serveCmd.Flags().Lookup("enroll-unknown"))
}

func newEmbedder(ctx context.Context, s config.Settings) (embedding.Embedder, error) {
	opts := []embedding.Option{
		embedding.WithModel(s.EmbeddingModel),
		embedding.WithDimension(s.EmbeddingDimensions),
	}
	key := s.OpenAIAPIKey
	if s.EmbeddingProvider == "gemini" {
		key = s.GeminiAPIKey
	} else if s.OpenAIBaseURL != "" {
		opts = append(opts, embedding.WithBaseURL(s.OpenAIBaseURL))
	}
	return embedding.New(ctx, s.EmbeddingProvider, key, opts...)
}

func runServe(cmd *cobra.Command, args []string) {
	logs := createLoggers()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, queries, err := openDatabase(ctx, logs.data)
	if err != nil {
		logs.main.Fatal("open database", "error", err)
	}
	defer pool.Close()

	settings, err := config.Load(viper.GetViper())
	if err != nil {
		logs.main.Fatal("load settings", "error", err)
	}

	embedder, err := newEmbedder(ctx, settings)
	if err != nil {
		logs.main.Fatal("create embedder", "error", err)
	}
	if closer, ok := embedder.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	agent := turns.NewAgent(
		queries,
		embedder,
		embedding.NewRetryPolicy(settings.EmbeddingRetryAttempts, settings.EmbeddingRetryDelay),
		logs.turn,
		nil,
	)

	directory := identity.NewDirectory(queries, logs.pipe)
	directory.Register("display_name", identity.MatchDisplayName(queries))
	if viper.GetBool("enroll_unknown_speakers") {
		directory.Register("enroll", identity.Enroll(queries))
	}

	manager := meeting.NewManager(queries, logs.meet, meeting.Options{
		InactivityTimeout: settings.InactivityTimeout,
		MaxDuration:       settings.MaxSessionDuration,
		SweepInterval:     settings.SweepInterval,
		DisconnectGrace:   settings.DisconnectGrace,
		DrainTimeout:      settings.DrainTimeout,
		SummaryBuffer:     16,
	})

	coordinator := pipeline.New(agent, directory, manager, logs.pipe, pipeline.Options{
		BatchSize:   settings.BatchSize,
		QueueSize:   settings.QueueSize,
		Concurrency: settings.BatchConcurrency,
	})
	manager.SetPipeline(coordinator)

	if _, err := manager.Recover(ctx); err != nil {
		logs.main.Fatal("recover sessions", "error", err)
	}

	server := www.NewServer(www.Deps{
		Sessions: manager,
		Queries:  queries,
		Agent:    agent,
		Pipeline: coordinator,
		Database: pool,
		Ingest:   ingest.NewHandler(manager, coordinator, logs.www),
	}, logs.www)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx, settings.HTTPPort)
	})
	g.Go(func() error {
		return manager.Run(gctx)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case summary := <-manager.Summaries():
				b, _ := json.Marshal(summary)
				logs.meet.Debug("completion summary", "summary", string(b))
			}
		}
	})

	if err := g.Wait(); err != nil {
		logs.main.Error("server stopped", "error", err)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), settings.DrainTimeout)
	defer cancel()
	if err := coordinator.Close(drainCtx); err != nil {
		logs.main.Warn("pipelines did not drain", "error", err)
	}
	logs.main.Info("bye")
}
