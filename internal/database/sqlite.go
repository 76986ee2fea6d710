package database

import (
	"btc-signal-desk/internal/types"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	log "github.com/sirupsen/logrus"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const alertColumns = `id, email, asset, direction, price_threshold, cooldown_minutes, custom_message, enabled, last_sent_at, created_at`

// SQLiteStore keeps alerts in a local SQLite file
type SQLiteStore struct {
	db *sqlx.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database dir: %w", err)
			}
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	// one writer at a time, and an in-memory database only lives as long as its connection
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA busy_timeout=5000", "PRAGMA foreign_keys=ON"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run %s: %w", p, err)
		}
	}

	if err := migrate(ctx, db.DB, goose.DialectSQLite3, "sqlite"); err != nil {
		db.Close()
		return nil, err
	}

	log.Infof("SQLite store ready at %s", path)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, alert types.Alert) (string, error) {
	a, err := prepareInsert(alert)
	if err != nil {
		return "", err
	}

	query := `
	INSERT INTO alerts (` + alertColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

	_, err = s.db.ExecContext(ctx, query,
		a.ID, a.Email, a.Asset, string(a.Direction), a.PriceThreshold, a.CooldownMinutes,
		a.CustomMessage, a.Enabled, nullTime(a.LastSentAt), a.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert alert: %w", err)
	}

	log.WithField("alert_id", a.ID).Debugf("alert inserted: %s %s %.2f", a.Asset, a.Direction, a.PriceThreshold)
	return a.ID, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (types.Alert, error) {
	var a types.Alert
	err := s.db.GetContext(ctx, &a, `SELECT `+alertColumns+` FROM alerts WHERE id = ?;`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, fmt.Errorf("failed to get alert %s: %w", id, err)
	}
	return normalize(a), nil
}

func (s *SQLiteStore) List(ctx context.Context, asset string) ([]types.Alert, error) {
	return s.list(ctx, `SELECT `+alertColumns+` FROM alerts WHERE asset = ? ORDER BY created_at DESC, rowid DESC;`, asset)
}

func (s *SQLiteStore) ListEnabled(ctx context.Context, asset string) ([]types.Alert, error) {
	return s.list(ctx, `SELECT `+alertColumns+` FROM alerts WHERE asset = ? AND enabled = 1 ORDER BY created_at DESC, rowid DESC;`, asset)
}

func (s *SQLiteStore) list(ctx context.Context, query string, asset string) ([]types.Alert, error) {
	var alerts []types.Alert
	if err := s.db.SelectContext(ctx, &alerts, query, strings.ToUpper(asset)); err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	for i := range alerts {
		alerts[i] = normalize(alerts[i])
	}
	return alerts, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, patch types.AlertPatch) error {
	if err := validatePatch(patch); err != nil {
		return fmt.Errorf("invalid update: %w", err)
	}

	cols, args := patchColumns(patch)
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = ?"
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET `+strings.Join(sets, ", ")+` WHERE id = ?;`, args...)
	if err != nil {
		return fmt.Errorf("failed to update alert %s: %w", id, err)
	}
	return affected(res, id)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("failed to delete alert %s: %w", id, err)
	}
	return affected(res, id)
}

func (s *SQLiteStore) RecordRun(ctx context.Context, r types.RunReport) error {
	delivery, persist, err := encodeFailures(r)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO alert_runs (started_at, asset, price, evaluated, triggered, sent, delivery_failures, persist_failures, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`
	_, err = s.db.ExecContext(ctx, query,
		r.StartedAt.UTC(), r.Asset, r.Price, r.Evaluated, r.Triggered, r.Sent,
		string(delivery), string(persist), r.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]types.RunReport, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
	SELECT started_at, asset, price, evaluated, triggered, sent, delivery_failures, persist_failures, duration_ms
	FROM alert_runs
	ORDER BY id DESC
	LIMIT ?;`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []types.RunReport
	for rows.Next() {
		var (
			r                 types.RunReport
			delivery, persist string
			durationMS        int64
		)
		if err := rows.Scan(&r.StartedAt, &r.Asset, &r.Price, &r.Evaluated, &r.Triggered, &r.Sent,
			&delivery, &persist, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := decodeFailures(&r, []byte(delivery), []byte(persist)); err != nil {
			return nil, err
		}
		r.StartedAt = r.StartedAt.UTC()
		r.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func affected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func normalize(a types.Alert) types.Alert {
	a.CreatedAt = a.CreatedAt.UTC()
	if a.LastSentAt != nil {
		t := a.LastSentAt.UTC()
		a.LastSentAt = &t
	}
	return a
}

func encodeFailures(r types.RunReport) ([]byte, []byte, error) {
	delivery, err := json.Marshal(nonNil(r.DeliveryFailures))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode delivery failures: %w", err)
	}
	persist, err := json.Marshal(nonNil(r.PersistFailures))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode persist failures: %w", err)
	}
	return delivery, persist, nil
}

func decodeFailures(r *types.RunReport, delivery, persist []byte) error {
	if err := json.Unmarshal(delivery, &r.DeliveryFailures); err != nil {
		return fmt.Errorf("failed to decode delivery failures: %w", err)
	}
	if err := json.Unmarshal(persist, &r.PersistFailures); err != nil {
		return fmt.Errorf("failed to decode persist failures: %w", err)
	}
	return nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
