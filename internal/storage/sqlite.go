package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"qcflow/internal/logger"
	"qcflow/internal/metrics"
	"qcflow/internal/models"
)

// Fixed width so that text ordering is time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteRepository keeps verdict history and the monitor objects and alarm
// events of each cycle in a local SQLite database.
type SQLiteRepository struct {
	log zerolog.Logger
	db  *sql.DB
}

// NewSQLite opens (and creates if needed) the database at dbPath. ":memory:"
// opens a private in-memory database.
func NewSQLite(dbPath string) (*SQLiteRepository, error) {
	dsn := ":memory:"
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
		dsn = dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dsn == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &SQLiteRepository{
		log: logger.WithComponent("storage"),
		db:  db,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return repo, nil
}

func (r *SQLiteRepository) migrate() error {
	query := `
		CREATE TABLE IF NOT EXISTS quality_objects (
			id TEXT PRIMARY KEY,
			check_name TEXT NOT NULL,
			quality TEXT NOT NULL,
			revision INTEGER NOT NULL,
			inputs_json TEXT NOT NULL,
			metadata_json TEXT,
			timestamp TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_quality_check ON quality_objects(check_name, timestamp);

		CREATE TABLE IF NOT EXISTS monitor_objects (
			full_name TEXT NOT NULL,
			object_type TEXT NOT NULL,
			entries REAL NOT NULL,
			bins_json TEXT,
			timestamp TEXT NOT NULL,
			stored_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_monitor_name ON monitor_objects(full_name);

		CREATE TABLE IF NOT EXISTS alarm_events (
			id TEXT PRIMARY KEY,
			alarm_name TEXT NOT NULL,
			result TEXT NOT NULL,
			condition TEXT NOT NULL,
			timestamp TEXT NOT NULL
		);
	`
	_, err := r.db.Exec(query)
	return err
}

// StoreMonitorObjects appends one row per object.
func (r *SQLiteRepository) StoreMonitorObjects(ctx context.Context, objects []*models.MonitorObject) error {
	if len(objects) == 0 {
		return nil
	}
	defer observe("monitor_objects", time.Now())

	storedAt := time.Now().UTC().Format(timeLayout)
	return r.inTx(ctx, `
		INSERT INTO monitor_objects (full_name, object_type, entries, bins_json, timestamp, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, func(stmt *sql.Stmt) error {
		for _, mo := range objects {
			bins, err := json.Marshal(mo.Bins)
			if err != nil {
				return fmt.Errorf("failed to marshal bins of %s: %w", mo.FullName(), err)
			}
			if _, err := stmt.ExecContext(ctx,
				mo.FullName(),
				mo.ObjectType,
				mo.Entries,
				string(bins),
				mo.Timestamp.UTC().Format(timeLayout),
				storedAt,
			); err != nil {
				return fmt.Errorf("failed to store monitor object %s: %w", mo.FullName(), err)
			}
		}
		return nil
	})
}

// StoreQualityObjects records verdicts. A verdict already stored is ignored.
func (r *SQLiteRepository) StoreQualityObjects(ctx context.Context, verdicts []*models.QualityObject) error {
	if len(verdicts) == 0 {
		return nil
	}
	defer observe("quality_objects", time.Now())

	return r.inTx(ctx, `
		INSERT OR IGNORE INTO quality_objects (id, check_name, quality, revision, inputs_json, metadata_json, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, func(stmt *sql.Stmt) error {
		for _, qo := range verdicts {
			inputs, err := json.Marshal(qo.Inputs)
			if err != nil {
				return fmt.Errorf("failed to marshal inputs: %w", err)
			}
			meta, err := json.Marshal(qo.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal metadata: %w", err)
			}
			if _, err := stmt.ExecContext(ctx,
				qo.ID,
				qo.CheckName,
				qo.Quality.String(),
				qo.Revision,
				string(inputs),
				string(meta),
				qo.Timestamp.UTC().Format(timeLayout),
			); err != nil {
				return fmt.Errorf("failed to store verdict %s: %w", qo.ID, err)
			}
		}
		return nil
	})
}

// StoreAlarmEvents records alarm evaluations.
func (r *SQLiteRepository) StoreAlarmEvents(ctx context.Context, events []*models.AlarmEvent) error {
	if len(events) == 0 {
		return nil
	}
	defer observe("alarm_events", time.Now())

	return r.inTx(ctx, `
		INSERT OR IGNORE INTO alarm_events (id, alarm_name, result, condition, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, func(stmt *sql.Stmt) error {
		for _, ev := range events {
			if _, err := stmt.ExecContext(ctx,
				ev.ID,
				ev.AlarmName,
				ev.Result,
				ev.Condition,
				ev.Timestamp.UTC().Format(timeLayout),
			); err != nil {
				return fmt.Errorf("failed to store alarm event %s: %w", ev.ID, err)
			}
		}
		return nil
	})
}

// History returns the latest verdicts of check, newest first.
func (r *SQLiteRepository) History(ctx context.Context, check string, limit int) ([]*models.QualityObject, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, check_name, quality, revision, inputs_json, metadata_json, timestamp
		FROM quality_objects
		WHERE check_name = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?
	`, check, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []*models.QualityObject
	for rows.Next() {
		var (
			id, name, quality, inputsJSON, tsStr string
			metaJSON                             sql.NullString
			revision                             uint32
		)
		if err := rows.Scan(&id, &name, &quality, &revision, &inputsJSON, &metaJSON, &tsStr); err != nil {
			return nil, fmt.Errorf("failed to scan verdict: %w", err)
		}

		qo := &models.QualityObject{ID: id, CheckName: name, Revision: revision}
		if qo.Quality, err = models.ParseQuality(quality); err != nil {
			r.log.Error().Err(err).Str("id", id).Msg("skipping stored verdict")
			continue
		}
		if qo.Timestamp, err = time.Parse(timeLayout, tsStr); err != nil {
			r.log.Error().Err(err).Str("id", id).Msg("skipping stored verdict")
			continue
		}
		if err := json.Unmarshal([]byte(inputsJSON), &qo.Inputs); err != nil {
			r.log.Error().Err(err).Str("id", id).Msg("skipping stored verdict")
			continue
		}
		if metaJSON.Valid {
			_ = json.Unmarshal([]byte(metaJSON.String), &qo.Metadata)
		}
		out = append(out, qo)
	}

	return out, rows.Err()
}

// Count returns the number of rows in table.
func (r *SQLiteRepository) Count(ctx context.Context, table string) (int64, error) {
	switch table {
	case "quality_objects", "monitor_objects", "alarm_events":
	default:
		return 0, fmt.Errorf("unknown table %q", table)
	}

	var count int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
	return count, err
}

// Cleanup deletes everything recorded before maxAge ago.
func (r *SQLiteRepository) Cleanup(ctx context.Context, maxAge time.Duration) error {
	cutoff := time.Now().UTC().Add(-maxAge).Format(timeLayout)

	var deleted int64
	for _, q := range []string{
		"DELETE FROM quality_objects WHERE timestamp < ?",
		"DELETE FROM monitor_objects WHERE stored_at < ?",
		"DELETE FROM alarm_events WHERE timestamp < ?",
	} {
		res, err := r.db.ExecContext(ctx, q, cutoff)
		if err != nil {
			return fmt.Errorf("failed to cleanup: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}

	if deleted > 0 {
		r.log.Info().Int64("deleted", deleted).Msg("cleaned up old rows")
	}
	return nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// inTx prepares query once and runs fn inside a transaction.
func (r *SQLiteRepository) inTx(ctx context.Context, query string, fn func(*sql.Stmt) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	if err := fn(stmt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func observe(kind string, start time.Time) {
	metrics.StoreDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}
