package meetings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"murmur/internal/config"
)

// Store manages meeting persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

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

// retryOnBusy retries op with backoff while SQLite reports the database as
// locked. WAL mode allows one writer; concurrent status polls and revision
// writes must queue instead of surfacing SQLITE_BUSY to callers.
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

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) execWithoutResultRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// Open initializes or connects to the meetings database and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "meetings.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

const meetingColumns = "id, user_id, process_state, duration_seconds, file_paths_json, active_version, error_message, created_at, updated_at"

func scanMeeting(scanner interface{ Scan(dest ...any) error }) (*Meeting, error) {
	var (
		id           string
		userID       string
		stateStr     string
		duration     int
		pathsJSON    sql.NullString
		activeVer    int
		errorMessage sql.NullString
		createdMS    int64
		updatedMS    int64
	)

	if err := scanner.Scan(
		&id,
		&userID,
		&stateStr,
		&duration,
		&pathsJSON,
		&activeVer,
		&errorMessage,
		&createdMS,
		&updatedMS,
	); err != nil {
		return nil, err
	}

	meeting := &Meeting{
		ID:              id,
		UserID:          userID,
		ProcessState:    State(stateStr),
		DurationSeconds: duration,
		ActiveVersion:   activeVer,
		ErrorMessage:    errorMessage.String,
		CreatedAt:       time.UnixMilli(createdMS).UTC(),
		UpdatedAt:       time.UnixMilli(updatedMS).UTC(),
	}
	if pathsJSON.Valid && pathsJSON.String != "" {
		if err := json.Unmarshal([]byte(pathsJSON.String), &meeting.FilePaths); err != nil {
			return nil, fmt.Errorf("decode file paths: %w", err)
		}
	}
	return meeting, nil
}

func scanRevision(scanner interface{ Scan(dest ...any) error }) (*Revision, error) {
	var (
		rev       Revision
		createdMS int64
	)
	if err := scanner.Scan(&rev.ID, &rev.MeetingID, &rev.Version, &rev.Kind, &rev.ContentHash, &rev.FilePath, &createdMS); err != nil {
		return nil, err
	}
	rev.CreatedAt = time.UnixMilli(createdMS).UTC()
	return &rev, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func encodePaths(paths FilePaths) (any, error) {
	if paths == (FilePaths{}) {
		return nil, nil
	}
	raw, err := json.Marshal(paths)
	if err != nil {
		return nil, fmt.Errorf("encode file paths: %w", err)
	}
	return string(raw), nil
}

func noRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
