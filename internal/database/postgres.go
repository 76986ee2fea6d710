package database

import (
	"btc-signal-desk/internal/types"
	"context"
	"errors"
	"fmt"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	log "github.com/sirupsen/logrus"
	"strings"
	"time"
)

// PostgresStore talks to the hosted alerts table (Supabase exposes a plain Postgres DSN)
type PostgresStore struct {
	pool *pgxpool.Pool
}

const (
	pgInsert = `
INSERT INTO alerts (` + alertColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`

	pgGet = `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1;`

	pgList = `
SELECT ` + alertColumns + `
FROM alerts
WHERE asset = $1
ORDER BY created_at DESC;`

	pgListEnabled = `
SELECT ` + alertColumns + `
FROM alerts
WHERE asset = $1 AND enabled = TRUE
ORDER BY created_at DESC;`

	pgDelete = `DELETE FROM alerts WHERE id = $1;`

	pgInsertRun = `
INSERT INTO alert_runs (started_at, asset, price, evaluated, triggered, sent, delivery_failures, persist_failures, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`

	pgListRuns = `
SELECT started_at, asset, price, evaluated, triggered, sent, delivery_failures, persist_failures, duration_ms
FROM alert_runs
ORDER BY id DESC
LIMIT $1;`
)

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(hctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := migrate(ctx, db, goose.DialectPostgres, "postgres"); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info("Postgres store ready")
	return &PostgresStore{pool: pool}, nil
}

func scanAlert(row pgx.Row, a *types.Alert) error {
	var direction string
	if err := row.Scan(
		&a.ID,
		&a.Email,
		&a.Asset,
		&direction,
		&a.PriceThreshold,
		&a.CooldownMinutes,
		&a.CustomMessage,
		&a.Enabled,
		&a.LastSentAt,
		&a.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan alert: %w", err)
	}
	a.Direction = types.Direction(direction)
	*a = normalize(*a)
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, alert types.Alert) (string, error) {
	a, err := prepareInsert(alert)
	if err != nil {
		return "", err
	}

	_, err = s.pool.Exec(ctx, pgInsert,
		a.ID, a.Email, a.Asset, string(a.Direction), a.PriceThreshold, a.CooldownMinutes,
		a.CustomMessage, a.Enabled, a.LastSentAt, a.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert alert: %w", err)
	}
	return a.ID, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (types.Alert, error) {
	var a types.Alert
	if !validID(id) {
		return a, ErrNotFound
	}
	err := scanAlert(s.pool.QueryRow(ctx, pgGet, id), &a)
	return a, err
}

func (s *PostgresStore) List(ctx context.Context, asset string) ([]types.Alert, error) {
	return s.list(ctx, pgList, asset)
}

func (s *PostgresStore) ListEnabled(ctx context.Context, asset string) ([]types.Alert, error) {
	return s.list(ctx, pgListEnabled, asset)
}

func (s *PostgresStore) list(ctx context.Context, query, asset string) ([]types.Alert, error) {
	rows, err := s.pool.Query(ctx, query, strings.ToUpper(asset))
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []types.Alert
	for rows.Next() {
		var a types.Alert
		if err := scanAlert(rows, &a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, patch types.AlertPatch) error {
	if !validID(id) {
		return ErrNotFound
	}
	if err := validatePatch(patch); err != nil {
		return fmt.Errorf("invalid update: %w", err)
	}

	cols, args := patchColumns(patch)
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", c, i+1)
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE alerts SET %s WHERE id = $%d;", strings.Join(sets, ", "), len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update alert %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, pgDelete, id)
	if err != nil {
		return fmt.Errorf("failed to delete alert %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) RecordRun(ctx context.Context, r types.RunReport) error {
	delivery, persist, err := encodeFailures(r)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, pgInsertRun,
		r.StartedAt.UTC(), r.Asset, r.Price, r.Evaluated, r.Triggered, r.Sent,
		string(delivery), string(persist), r.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]types.RunReport, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, pgListRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []types.RunReport
	for rows.Next() {
		var (
			r                 types.RunReport
			delivery, persist []byte
			durationMS        int64
		)
		if err := rows.Scan(&r.StartedAt, &r.Asset, &r.Price, &r.Evaluated, &r.Triggered, &r.Sent,
			&delivery, &persist, &durationMS); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := decodeFailures(&r, delivery, persist); err != nil {
			return nil, err
		}
		r.StartedAt = r.StartedAt.UTC()
		r.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
