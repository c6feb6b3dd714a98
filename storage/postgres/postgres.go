// Package postgres provides a PostgreSQL implementation of the coconut.Storage interface.
// Tables are created lazily on first use; writes use ON CONFLICT DO NOTHING so a
// stored asset is never replaced.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Kokos14v/Ivan-Kosovych/pkg/coconut"
)

// SchemaVersion is the schema version this package creates.
const SchemaVersion = 1

// Storage implements coconut.Storage using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config

	schemaMu    sync.Mutex
	schemaReady bool
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// TablePrefix is prepended to table names (default: "coconut_")
	TablePrefix string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		TablePrefix:     "coconut_",
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if config.TablePrefix == "" {
		config.TablePrefix = "coconut_"
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{
		pool:   pool,
		config: config,
	}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the database connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Storage) imagesTable() string  { return s.config.TablePrefix + "images" }
func (s *Storage) metaTable() string    { return s.config.TablePrefix + "metadata" }
func (s *Storage) versionTable() string { return s.config.TablePrefix + "schema_version" }

// ensureSchema creates the tables once. A failed attempt is retried on the next call.
func (s *Storage) ensureSchema(ctx context.Context) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()

	if s.schemaReady {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (version INTEGER NOT NULL)`, s.versionTable())); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}

	var version int
	err = tx.QueryRow(ctx, fmt.Sprintf(`SELECT version FROM %s LIMIT 1`, s.versionTable())).Scan(&version)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		version = 0
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if version < SchemaVersion {
		stmts := []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				recipe_id  TEXT PRIMARY KEY,
				data       TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, s.imagesTable()),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				recipe_id  TEXT PRIMARY KEY,
				kcal       DOUBLE PRECISION NOT NULL,
				protein    DOUBLE PRECISION NOT NULL,
				carbs      DOUBLE PRECISION NOT NULL,
				fat        DOUBLE PRECISION NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, s.metaTable()),
			fmt.Sprintf(`DELETE FROM %s`, s.versionTable()),
			fmt.Sprintf(`INSERT INTO %s (version) VALUES (%d)`, s.versionTable(), SchemaVersion),
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create schema: %w", err)
			}
		}
	} else if version > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, SchemaVersion)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	s.schemaReady = true
	return nil
}

// GetImage implements coconut.Storage
func (s *Storage) GetImage(ctx context.Context, id coconut.RecipeID) (coconut.ImageAsset, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return "", err
	}

	var data string
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT data FROM %s WHERE recipe_id = $1`, s.imagesTable()),
		string(id)).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", coconut.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get image: %w", err)
	}
	return coconut.ImageAsset(data), nil
}

// SaveImage implements coconut.Storage
func (s *Storage) SaveImage(ctx context.Context, id coconut.RecipeID, asset coconut.ImageAsset) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("recipe id is required")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return false, err
	}

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (recipe_id, data) VALUES ($1, $2)
			ON CONFLICT (recipe_id) DO NOTHING`, s.imagesTable()),
		string(id), string(asset))
	if err != nil {
		return false, fmt.Errorf("failed to save image: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetMeta implements coconut.Storage
func (s *Storage) GetMeta(ctx context.Context, id coconut.RecipeID) (*coconut.Meta, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}

	var n coconut.Nutrition
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT kcal, protein, carbs, fat FROM %s WHERE recipe_id = $1`, s.metaTable()),
		string(id)).Scan(&n.Kcal, &n.Protein, &n.Carbs, &n.Fat)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, coconut.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meta: %w", err)
	}
	return &coconut.Meta{Nutrition: n}, nil
}

// SaveMeta implements coconut.Storage
func (s *Storage) SaveMeta(ctx context.Context, id coconut.RecipeID, meta *coconut.Meta) (bool, error) {
	if id == "" || meta == nil {
		return false, fmt.Errorf("invalid metadata record")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return false, err
	}

	n := meta.Nutrition
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (recipe_id, kcal, protein, carbs, fat) VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (recipe_id) DO NOTHING`, s.metaTable()),
		string(id), n.Kcal, n.Protein, n.Carbs, n.Fat)
	if err != nil {
		return false, fmt.Errorf("failed to save meta: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
