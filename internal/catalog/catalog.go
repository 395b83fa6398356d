package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/dreadwing5/Restore/internal/domain"
	"github.com/dreadwing5/Restore/internal/telemetry"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ProductLookup resolves the product data a new basket line is built from.
type ProductLookup interface {
	FindByID(ctx context.Context, id int64) (domain.ProductSnapshot, error)
}

type SQLiteCatalog struct {
	db *sql.DB
}

var _ ProductLookup = (*SQLiteCatalog)(nil)

func NewSQLiteCatalog(dbPath string) (*SQLiteCatalog, error) {
	db, err := telemetry.OpenSQLite(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteCatalog{db: db}, nil
}

// RunMigrations applies the embedded schema and seed data.
func (c *SQLiteCatalog) RunMigrations() error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("could not open migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(c.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func (c *SQLiteCatalog) FindByID(ctx context.Context, id int64) (domain.ProductSnapshot, error) {
	const query = `
		SELECT id, name, price_minor, picture_url
		FROM products
		WHERE id = ?
	`

	var p domain.ProductSnapshot
	err := c.db.QueryRowContext(ctx, query, id).Scan(&p.ProductID, &p.Name, &p.UnitPrice, &p.PictureURL)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ProductSnapshot{}, fmt.Errorf("product %d: %w", id, domain.ErrProductNotFound)
	}
	if err != nil {
		return domain.ProductSnapshot{}, fmt.Errorf("failed to query product: %w", err)
	}
	return p, nil
}

func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}
