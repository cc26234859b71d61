package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/001_initial_schema.sql
var initialSchema string

type MigrateOptions struct {
	// Dimensions of the embedding vectors, used for the similarity index.
	Dimensions int
	// Confirm asks before each pending migration.
	Confirm bool
}

type Migration struct {
	ID          string
	Description string
	Up          func(ctx context.Context, tx pgx.Tx, opts MigrateOptions) error
}

var migrations = []Migration{
	{
		ID:          "001_initial_schema",
		Description: "Create sessions, speakers, aliases, turns and config tables",
		Up: func(ctx context.Context, tx pgx.Tx, _ MigrateOptions) error {
			_, err := tx.Exec(ctx, initialSchema)
			return err
		},
	},
	{
		ID:          "002_turn_embedding_index",
		Description: "Create HNSW cosine index over turn embeddings",
		Up: func(ctx context.Context, tx pgx.Tx, opts MigrateOptions) error {
			if opts.Dimensions <= 0 {
				return fmt.Errorf("embedding dimensions must be positive, got %d", opts.Dimensions)
			}
			_, err := tx.Exec(ctx, fmt.Sprintf(`
				CREATE INDEX IF NOT EXISTS turns_embedding_idx
				ON turns USING hnsw ((embedding::vector(%d)) vector_cosine_ops)
				WHERE embedding IS NOT NULL`,
				opts.Dimensions,
			))
			return err
		},
	},
	{
		ID:          "003_turn_speaker_index",
		Description: "Index turns by resolved speaker",
		Up: func(ctx context.Context, tx pgx.Tx, _ MigrateOptions) error {
			_, err := tx.Exec(ctx, `
				CREATE INDEX IF NOT EXISTS turns_identity_idx
				ON turns (identity_id)
				WHERE identity_id IS NOT NULL`)
			return err
		},
	},
}

// Migrations returns the ordered list of known migrations.
func Migrations() []Migration {
	return migrations
}

func Migrate(
	ctx context.Context,
	pool *pgxpool.Pool,
	logger *log.Logger,
	opts MigrateOptions,
) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS migration_history (
			id TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("error creating migration_history table: %w", err)
	}

	for _, migration := range migrations {
		var applied bool
		err := pool.QueryRow(ctx,
			"SELECT true FROM migration_history WHERE id = $1",
			migration.ID,
		).Scan(&applied)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("error checking migration status: %w", err)
		}

		if applied {
			logger.Info("Skipping migration (already applied)", "id", migration.ID)
			continue
		}

		if opts.Confirm {
			var confirm bool
			err = huh.NewConfirm().
				Title(fmt.Sprintf("New migration found: %s", migration.ID)).
				Description(migration.Description).
				Value(&confirm).
				Run()
			if err != nil {
				return fmt.Errorf("error getting user confirmation: %w", err)
			}
			if !confirm {
				logger.Info("Migration skipped", "id", migration.ID)
				continue
			}
		}

		logger.Info("Applying migration", "id", migration.ID)

		err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if err := migration.Up(ctx, tx, opts); err != nil {
				return fmt.Errorf("error applying migration %s: %w", migration.ID, err)
			}
			_, err := tx.Exec(ctx,
				"INSERT INTO migration_history (id) VALUES ($1)",
				migration.ID,
			)
			if err != nil {
				return fmt.Errorf("error recording migration %s: %w", migration.ID, err)
			}
			return nil
		})
		if err != nil {
			return err
		}

		logger.Info("Successfully applied migration", "id", migration.ID)
	}

	logger.Info("Migration process completed")
	return nil
}
