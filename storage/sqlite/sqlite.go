// Package sqlite provides a SQLite implementation of the coconut.Storage interface.
// It is the default durable tier: a local file with one table per namespace.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Kokos14v/Ivan-Kosovych/pkg/coconut"
)

// Storage implements coconut.Storage on a SQLite database file.
type Storage struct {
	db   *sql.DB
	path string

	schemaMu    sync.Mutex
	schemaReady bool
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// Open connects to the database at path, creating parent directories as needed.
// The schema is created on first use, not here.
func Open(path string) (*Storage, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one connection keeps the pragmas below in effect for every query
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	return &Storage{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetImage implements coconut.Storage
func (s *Storage) GetImage(ctx context.Context, id coconut.RecipeID) (coconut.ImageAsset, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return "", err
	}

	var data string
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, "SELECT data FROM images WHERE recipe_id = ?", string(id)).Scan(&data)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", coconut.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get image: %w", err)
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
	return s.insertIgnore(ctx, "INSERT OR IGNORE INTO images (recipe_id, data) VALUES (?, ?)", string(id), string(asset))
}

// GetMeta implements coconut.Storage
func (s *Storage) GetMeta(ctx context.Context, id coconut.RecipeID) (*coconut.Meta, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}

	var raw string
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, "SELECT nutrition FROM metadata WHERE recipe_id = ?", string(id)).Scan(&raw)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, coconut.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get meta: %w", err)
	}

	var meta coconut.Meta
	if err := json.Unmarshal([]byte(raw), &meta.Nutrition); err != nil {
		return nil, fmt.Errorf("decode meta: %w", err)
	}
	return &meta, nil
}

// SaveMeta implements coconut.Storage
func (s *Storage) SaveMeta(ctx context.Context, id coconut.RecipeID, meta *coconut.Meta) (bool, error) {
	if id == "" || meta == nil {
		return false, fmt.Errorf("invalid metadata record")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return false, err
	}

	raw, err := json.Marshal(meta.Nutrition)
	if err != nil {
		return false, fmt.Errorf("encode meta: %w", err)
	}
	return s.insertIgnore(ctx, "INSERT OR IGNORE INTO metadata (recipe_id, nutrition) VALUES (?, ?)", string(id), string(raw))
}

// Count returns the number of rows in a namespace.
func (s *Storage) Count(ctx context.Context, namespace string) (int, error) {
	var table string
	switch namespace {
	case coconut.NamespaceImages:
		table = "images"
	case coconut.NamespaceMeta:
		table = "metadata"
	default:
		return 0, fmt.Errorf("unknown namespace %q", namespace)
	}
	if err := s.ensureSchema(ctx); err != nil {
		return 0, err
	}

	var n int
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM "+table).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", namespace, err)
	}
	return n, nil
}

func (s *Storage) insertIgnore(ctx context.Context, query string, args ...any) (bool, error) {
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return false, fmt.Errorf("insert: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows == 1, nil
}
