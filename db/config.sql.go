package db

import (
	"context"
)

const getAllConfig = `SELECT key, value FROM config ORDER BY key`

func (q *Queries) GetAllConfig(ctx context.Context) ([]Config, error) {
	rows, err := q.db.Query(ctx, getAllConfig)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Config
	for rows.Next() {
		var i Config
		if err := rows.Scan(&i.Key, &i.Value); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const getConfigValue = `SELECT value FROM config WHERE key = $1`

func (q *Queries) GetConfigValue(ctx context.Context, key string) (string, error) {
	row := q.db.QueryRow(ctx, getConfigValue, key)
	var value string
	err := row.Scan(&value)
	return value, err
}

const setConfigValue = `
INSERT INTO config (key, value)
VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`

type SetConfigValueParams struct {
	Key   string
	Value string
}

func (q *Queries) SetConfigValue(ctx context.Context, arg SetConfigValueParams) error {
	_, err := q.db.Exec(ctx, setConfigValue, arg.Key, arg.Value)
	return err
}
