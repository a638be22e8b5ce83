// Package store keeps the durable record of analyses and conversion
// outcomes in SQLite. Unlike the batch state file, which only covers the
// current run, this database accumulates history across runs and feeds
// the stats subcommand and already-converted checks.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/backmassage/transmux/internal/job"
)

// DBError wraps any failure talking to the conversion database. Callers
// treat it as fatal: running without a result ledger defeats resume.
type DBError struct {
	Op  string
	Err error
}

func (e *DBError) Error() string {
	return fmt.Sprintf("database %s: %v", e.Op, e.Err)
}

func (e *DBError) Unwrap() error { return e.Err }

func dbErr(op string, err error) error {
	return &DBError{Op: op, Err: err}
}

const schema = `
CREATE TABLE IF NOT EXISTS videos (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	file_path        TEXT UNIQUE NOT NULL,
	file_size        INTEGER NOT NULL,
	video_codec      TEXT NOT NULL,
	audio_codec      TEXT NOT NULL,
	container        TEXT NOT NULL,
	resolution       TEXT NOT NULL,
	width            INTEGER NOT NULL,
	height           INTEGER NOT NULL,
	fps              REAL NOT NULL,
	duration         REAL NOT NULL,
	bitrate          INTEGER NOT NULL,
	needs_conversion BOOLEAN NOT NULL,
	analysis_date    TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	probe_data       TEXT
);

CREATE TABLE IF NOT EXISTS conversions (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	video_id          INTEGER NOT NULL,
	file_path         TEXT NOT NULL,
	status            TEXT NOT NULL,
	original_size     INTEGER NOT NULL,
	converted_size    INTEGER,
	compression_ratio REAL,
	space_saved       INTEGER,
	processing_time   REAL,
	error_message     TEXT,
	started_at        TIMESTAMP,
	completed_at      TIMESTAMP,
	FOREIGN KEY (video_id) REFERENCES videos(id)
);

CREATE TABLE IF NOT EXISTS statistics (
	id                      INTEGER PRIMARY KEY AUTOINCREMENT,
	total_conversions       INTEGER DEFAULT 0,
	successful_conversions  INTEGER DEFAULT 0,
	failed_conversions      INTEGER DEFAULT 0,
	skipped_conversions     INTEGER DEFAULT 0,
	total_original_size     INTEGER DEFAULT 0,
	total_converted_size    INTEGER DEFAULT 0,
	total_space_saved       INTEGER DEFAULT 0,
	total_processing_time   REAL DEFAULT 0,
	last_updated            TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_videos_path ON videos(file_path);
CREATE INDEX IF NOT EXISTS idx_conversions_status ON conversions(status);
CREATE INDEX IF NOT EXISTS idx_conversions_video_id ON conversions(video_id);
`

// Statistics is the aggregate ledger plus values derived from it.
type Statistics struct {
	Successful          int64
	Failed              int64
	Skipped             int64
	TotalOriginalSize   int64
	TotalConvertedSize  int64
	TotalSpaceSaved     int64
	TotalProcessingTime float64
	LastUpdated         time.Time

	AvgSavingsPercent   float64
	AvgCompressionRatio float64
	AvgProcessingTime   float64
}

// Conversion is one row of conversion history.
type Conversion struct {
	ID             int64
	FilePath       string
	Status         string
	OriginalSize   int64
	ConvertedSize  int64
	SpaceSaved     int64
	ProcessingTime float64
	ErrorMessage   string
	StartedAt      time.Time
	CompletedAt    time.Time
}

// Store wraps the SQLite conversion database. database/sql serializes
// access over its pool, so a single Store is safe to share between
// workers.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path, applies the schema, and
// seeds the singleton statistics row.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, dbErr("open", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=30000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, dbErr("open", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, dbErr("init schema", err)
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM statistics").Scan(&n); err != nil {
		db.Close()
		return nil, dbErr("init statistics", err)
	}
	if n == 0 {
		if _, err := db.Exec("INSERT INTO statistics DEFAULT VALUES"); err != nil {
			db.Close()
			return nil, dbErr("init statistics", err)
		}
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// StoreAnalysis upserts the analysis row for a file. Re-analyzing a path
// replaces the previous row, so stale metadata never survives a rescan.
func (s *Store) StoreAnalysis(a *job.Analysis) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO videos (
			file_path, file_size, video_codec, audio_codec,
			container, resolution, width, height, fps,
			duration, bitrate, needs_conversion, probe_data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Path, a.FileSize, a.VideoCodec, a.AudioCodec,
		a.Container, a.Resolution(), a.Width, a.Height, a.FPS,
		a.Duration, a.Bitrate, a.NeedsConversion, string(a.ProbeData),
	)
	if err != nil {
		return dbErr("store analysis", err)
	}
	return nil
}

// GetAnalysis returns the stored analysis for a path, or nil when the
// path has never been analyzed.
func (s *Store) GetAnalysis(path string) (*job.Analysis, error) {
	row := s.db.QueryRow(`
		SELECT file_path, file_size, video_codec, audio_codec, container,
		       width, height, fps, duration, bitrate, needs_conversion, probe_data
		FROM videos WHERE file_path = ?`, path)

	var a job.Analysis
	var probe sql.NullString
	err := row.Scan(&a.Path, &a.FileSize, &a.VideoCodec, &a.AudioCodec,
		&a.Container, &a.Width, &a.Height, &a.FPS, &a.Duration,
		&a.Bitrate, &a.NeedsConversion, &probe)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("get analysis", err)
	}
	a.ProbeData = []byte(probe.String)
	return &a, nil
}

// IsConverted reports whether a path has at least one completed
// conversion on record.
func (s *Store) IsConverted(path string) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM conversions
		WHERE file_path = ? AND status = 'completed'`, path).Scan(&n)
	if err != nil {
		return false, dbErr("is converted", err)
	}
	return n > 0, nil
}

// MarkStarted opens a conversion record for a path and returns its id.
// The path must already have an analysis row.
func (s *Store) MarkStarted(path string, originalSize int64) (int64, error) {
	var videoID int64
	err := s.db.QueryRow("SELECT id FROM videos WHERE file_path = ?", path).Scan(&videoID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, dbErr("mark started", fmt.Errorf("no analysis for %s", path))
	}
	if err != nil {
		return 0, dbErr("mark started", err)
	}

	res, err := s.db.Exec(`
		INSERT INTO conversions (video_id, file_path, status, original_size, started_at)
		VALUES (?, ?, 'started', ?, ?)`,
		videoID, path, originalSize, time.Now())
	if err != nil {
		return 0, dbErr("mark started", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, dbErr("mark started", err)
	}
	return id, nil
}

// MarkCompleted closes the open conversion record for a path as
// completed and adds its sizes and timing to the statistics ledger, in
// one transaction. A second call for the same path finds no open record
// and leaves the ledger untouched.
func (s *Store) MarkCompleted(path string, originalSize, convertedSize int64, processingTime float64) error {
	spaceSaved := originalSize - convertedSize
	ratio := 1.0
	if originalSize > 0 {
		ratio = float64(convertedSize) / float64(originalSize)
	}

	return s.withTx("mark completed", func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE conversions
			SET status = 'completed', converted_size = ?, compression_ratio = ?,
			    space_saved = ?, processing_time = ?, completed_at = ?
			WHERE file_path = ? AND status = 'started'`,
			convertedSize, ratio, spaceSaved, processingTime, time.Now(), path)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		_, err = tx.Exec(`
			UPDATE statistics
			SET successful_conversions = successful_conversions + 1,
			    total_original_size = total_original_size + ?,
			    total_converted_size = total_converted_size + ?,
			    total_space_saved = total_space_saved + ?,
			    total_processing_time = total_processing_time + ?,
			    last_updated = ?`,
			originalSize, convertedSize, spaceSaved, processingTime, time.Now())
		return err
	})
}

// MarkFailed closes the open conversion record for a path as failed with
// the given message and bumps the failure count.
func (s *Store) MarkFailed(path, message string) error {
	return s.closeAs(path, "failed", message, "failed_conversions")
}

// MarkSkipped closes the open conversion record for a path as skipped
// with the given reason and bumps the skip count.
func (s *Store) MarkSkipped(path, reason string) error {
	return s.closeAs(path, "skipped", reason, "skipped_conversions")
}

func (s *Store) closeAs(path, status, message, counter string) error {
	return s.withTx("mark "+status, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE conversions
			SET status = ?, error_message = ?, completed_at = ?
			WHERE file_path = ? AND status = 'started'`,
			status, message, time.Now(), path)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		_, err = tx.Exec(fmt.Sprintf(`
			UPDATE statistics SET %s = %s + 1, last_updated = ?`, counter, counter),
			time.Now())
		return err
	})
}

// GetStatistics returns the ledger plus derived averages. With no
// successful conversions on record the averages default to neutral
// values instead of dividing by zero.
func (s *Store) GetStatistics() (*Statistics, error) {
	row := s.db.QueryRow(`
		SELECT successful_conversions, failed_conversions, skipped_conversions,
		       total_original_size, total_converted_size, total_space_saved,
		       total_processing_time, last_updated
		FROM statistics LIMIT 1`)

	var st Statistics
	err := row.Scan(&st.Successful, &st.Failed, &st.Skipped,
		&st.TotalOriginalSize, &st.TotalConvertedSize, &st.TotalSpaceSaved,
		&st.TotalProcessingTime, &st.LastUpdated)
	if err != nil {
		return nil, dbErr("get statistics", err)
	}

	st.AvgCompressionRatio = 1.0
	if st.Successful > 0 {
		if st.TotalOriginalSize > 0 {
			st.AvgSavingsPercent = float64(st.TotalSpaceSaved) / float64(st.TotalOriginalSize) * 100
			st.AvgCompressionRatio = float64(st.TotalConvertedSize) / float64(st.TotalOriginalSize)
		}
		st.AvgProcessingTime = st.TotalProcessingTime / float64(st.Successful)
	}
	return &st, nil
}

// GetRecentConversions returns up to limit conversion records, newest
// completion first.
func (s *Store) GetRecentConversions(limit int) ([]Conversion, error) {
	rows, err := s.db.Query(`
		SELECT id, file_path, status, original_size,
		       COALESCE(converted_size, 0), COALESCE(space_saved, 0),
		       COALESCE(processing_time, 0), COALESCE(error_message, ''),
		       COALESCE(started_at, ''), COALESCE(completed_at, '')
		FROM conversions
		ORDER BY completed_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, dbErr("recent conversions", err)
	}
	defer rows.Close()

	var out []Conversion
	for rows.Next() {
		var c Conversion
		var started, completed string
		if err := rows.Scan(&c.ID, &c.FilePath, &c.Status, &c.OriginalSize,
			&c.ConvertedSize, &c.SpaceSaved, &c.ProcessingTime,
			&c.ErrorMessage, &started, &completed); err != nil {
			return nil, dbErr("recent conversions", err)
		}
		c.StartedAt = parseStamp(started)
		c.CompletedAt = parseStamp(completed)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("recent conversions", err)
	}
	return out, nil
}

// ClearStatistics zeroes the aggregate ledger. Conversion history rows
// are kept.
func (s *Store) ClearStatistics() error {
	_, err := s.db.Exec(`
		UPDATE statistics
		SET successful_conversions = 0, failed_conversions = 0,
		    skipped_conversions = 0, total_original_size = 0,
		    total_converted_size = 0, total_space_saved = 0,
		    total_processing_time = 0, last_updated = ?`, time.Now())
	if err != nil {
		return dbErr("clear statistics", err)
	}
	return nil
}

func (s *Store) withTx(op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return dbErr(op, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return dbErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return dbErr(op, err)
	}
	return nil
}

// parseStamp handles the timestamp formats go-sqlite3 hands back for
// TIMESTAMP columns written from time.Time.
func parseStamp(s string) time.Time {
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
