package database

import (
	"btc-signal-desk/internal/types"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	log "github.com/sirupsen/logrus"
	"io/fs"
	"strings"
	"time"
)

//go:embed migrations
var migrationsFS embed.FS

var ErrNotFound = errors.New("alert not found")

// Store is the persistent alert table plus the run history.
// List and ListEnabled return alerts newest first.
type Store interface {
	Insert(ctx context.Context, alert types.Alert) (string, error)
	Get(ctx context.Context, id string) (types.Alert, error)
	List(ctx context.Context, asset string) ([]types.Alert, error)
	ListEnabled(ctx context.Context, asset string) ([]types.Alert, error)
	Update(ctx context.Context, id string, patch types.AlertPatch) error
	Delete(ctx context.Context, id string) error

	RecordRun(ctx context.Context, report types.RunReport) error
	ListRuns(ctx context.Context, limit int) ([]types.RunReport, error)

	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the configured backend and applies pending migrations
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite":
		return NewSQLiteStore(ctx, dsn)
	case "postgres":
		return NewPostgresStore(ctx, dsn)
	}
	return nil, fmt.Errorf("unsupported store driver %q", driver)
}

func migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect, dir string) error {
	fsys, err := fs.Sub(migrationsFS, "migrations/"+dir)
	if err != nil {
		return fmt.Errorf("migrations dir %s: %w", dir, err)
	}

	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	for _, r := range results {
		log.Debugf("migration applied: %s (%s)", r.Source.Path, r.Duration)
	}
	return nil
}

// validID reports whether id can be an alert id. Postgres stores ids as UUID and rejects anything else.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// prepareInsert fills defaults and validates a new alert
func prepareInsert(a types.Alert) (types.Alert, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Asset == "" {
		a.Asset = types.AssetBTC
	}
	a.Asset = strings.ToUpper(a.Asset)
	a.Email = strings.TrimSpace(a.Email)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.CreatedAt = a.CreatedAt.UTC()
	if a.LastSentAt != nil {
		t := a.LastSentAt.UTC()
		a.LastSentAt = &t
	}

	if err := a.Validate(); err != nil {
		return a, fmt.Errorf("invalid alert: %w", err)
	}
	return a, nil
}

func validatePatch(p types.AlertPatch) error {
	if p.Empty() {
		return errors.New("empty update")
	}
	if p.Email != nil && strings.TrimSpace(*p.Email) == "" {
		return errors.New("email is required")
	}
	if p.Direction != nil && !p.Direction.Valid() {
		return fmt.Errorf("invalid direction %q", *p.Direction)
	}
	if p.PriceThreshold != nil && *p.PriceThreshold <= 0 {
		return fmt.Errorf("price threshold must be positive, got %v", *p.PriceThreshold)
	}
	if p.CooldownMinutes != nil && *p.CooldownMinutes <= 0 {
		return fmt.Errorf("cooldown must be positive, got %d", *p.CooldownMinutes)
	}
	return nil
}

// patchColumns maps the set fields of a patch to column/value pairs in a fixed order
func patchColumns(p types.AlertPatch) ([]string, []interface{}) {
	var cols []string
	var args []interface{}

	if p.Email != nil {
		cols = append(cols, "email")
		args = append(args, strings.TrimSpace(*p.Email))
	}
	if p.Direction != nil {
		cols = append(cols, "direction")
		args = append(args, string(*p.Direction))
	}
	if p.PriceThreshold != nil {
		cols = append(cols, "price_threshold")
		args = append(args, *p.PriceThreshold)
	}
	if p.CooldownMinutes != nil {
		cols = append(cols, "cooldown_minutes")
		args = append(args, *p.CooldownMinutes)
	}
	if p.CustomMessage != nil {
		cols = append(cols, "custom_message")
		args = append(args, *p.CustomMessage)
	}
	if p.Enabled != nil {
		cols = append(cols, "enabled")
		args = append(args, *p.Enabled)
	}
	if p.LastSentAt != nil {
		cols = append(cols, "last_sent_at")
		args = append(args, p.LastSentAt.UTC())
	}
	return cols, args
}
