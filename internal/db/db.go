// Package db keeps an optional SQLite snapshot of the latest probe reading so
// a restarted service can come back with the last known position instead of
// the default.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/magnetprobe/internal/reading"
)

// DB wraps the snapshot database.
type DB struct {
	*sql.DB
	path string
}

// NewDB opens (or creates) the snapshot database at path and migrates it to
// the latest schema.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot db %s: %w", path, err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY between them.
	sqlDB.SetMaxOpenConns(1)

	if err := applyPragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func applyPragmas(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string { return db.path }

// SaveLatest replaces the stored snapshot with r, stamped at.
func (db *DB) SaveLatest(ctx context.Context, r reading.Reading, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO latest_reading (
			id, x_sonda, y_sonda, z_masurat,
			magnet_length, magnet_width, magnet_height,
			progress, updated_at_ns
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			x_sonda = excluded.x_sonda,
			y_sonda = excluded.y_sonda,
			z_masurat = excluded.z_masurat,
			magnet_length = excluded.magnet_length,
			magnet_width = excluded.magnet_width,
			magnet_height = excluded.magnet_height,
			progress = excluded.progress,
			updated_at_ns = excluded.updated_at_ns`,
		r.ProbeX, r.ProbeY, r.ProbeDepth,
		r.MagnetLength, r.MagnetWidth, r.MagnetHeight,
		r.Progress, at.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save latest reading: %w", err)
	}
	return nil
}

// LoadLatest returns the stored snapshot. found is false when nothing has
// been saved yet.
func (db *DB) LoadLatest(ctx context.Context) (r reading.Reading, at time.Time, found bool, err error) {
	var ns int64
	row := db.QueryRowContext(ctx, `
		SELECT x_sonda, y_sonda, z_masurat,
		       magnet_length, magnet_width, magnet_height,
		       progress, updated_at_ns
		  FROM latest_reading
		 WHERE id = 1`)
	err = row.Scan(
		&r.ProbeX, &r.ProbeY, &r.ProbeDepth,
		&r.MagnetLength, &r.MagnetWidth, &r.MagnetHeight,
		&r.Progress, &ns,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return reading.Reading{}, time.Time{}, false, nil
	}
	if err != nil {
		return reading.Reading{}, time.Time{}, false, fmt.Errorf("failed to load latest reading: %w", err)
	}
	return r, time.Unix(0, ns).UTC(), true, nil
}

// Clear removes the stored snapshot.
func (db *DB) Clear(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM latest_reading`); err != nil {
		return fmt.Errorf("failed to clear latest reading: %w", err)
	}
	return nil
}
