package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/viper"
	"node.town/minutes/db"
)

// Queries is the part of the store the key/value table needs.
type Queries interface {
	GetAllConfig(ctx context.Context) ([]db.Config, error)
	GetConfigValue(ctx context.Context, key string) (string, error)
	SetConfigValue(ctx context.Context, arg db.SetConfigValueParams) error
}

var ErrKeyNotFound = errors.New("config key not found")

// Store keeps operator overrides in the database and mirrors them into
// a viper instance so that Load picks them up.
type Store struct {
	queries Queries
	v       *viper.Viper
}

func NewStore(queries Queries, v *viper.Viper) *Store {
	return &Store{queries: queries, v: v}
}

func (s *Store) Load(ctx context.Context) error {
	configs, err := s.queries.GetAllConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, cfg := range configs {
		s.v.Set(cfg.Key, cfg.Value)
	}

	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.queries.GetConfigValue(ctx, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		return "", fmt.Errorf("failed to get config value: %w", err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	err := s.queries.SetConfigValue(ctx, db.SetConfigValueParams{
		Key:   key,
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to set config value: %w", err)
	}
	s.v.Set(key, value)
	return nil
}
