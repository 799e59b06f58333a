package meetings

import (
	"context"
	"fmt"
	"time"
)

// AddRevision appends a revision row and returns its identifier. Callers
// assign versions; the unique index rejects duplicates per (meeting, kind).
func (s *Store) AddRevision(ctx context.Context, rev *Revision) (int64, error) {
	if rev.CreatedAt.IsZero() {
		rev.CreatedAt = time.Now().UTC()
	}
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO revisions (meeting_id, version, kind, content_hash, file_path, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		rev.MeetingID,
		rev.Version,
		rev.Kind,
		rev.ContentHash,
		rev.FilePath,
		rev.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert revision: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	rev.ID = id
	return id, nil
}

const revisionColumns = "id, meeting_id, version, kind, content_hash, file_path, created_at"

// GetRevision fetches one revision by identifier. Missing rows return nil, nil.
func (s *Store) GetRevision(ctx context.Context, id int64) (*Revision, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+revisionColumns+` FROM revisions WHERE id = ?`, id)
	rev, err := scanRevision(row)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get revision: %w", err)
	}
	return rev, nil
}

// ListRevisions returns a meeting's full history, newest version first.
func (s *Store) ListRevisions(ctx context.Context, meetingID string) ([]*Revision, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+revisionColumns+` FROM revisions WHERE meeting_id = ? ORDER BY version DESC, kind`,
		meetingID,
	)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	var revisions []*Revision
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		revisions = append(revisions, rev)
	}
	return revisions, rows.Err()
}

// LatestVersion returns the highest stored version for a meeting and kind,
// or zero when no revisions exist.
func (s *Store) LatestVersion(ctx context.Context, meetingID, kind string) (int, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COALESCE(MAX(version), 0) FROM revisions WHERE meeting_id = ? AND kind = ?`,
		meetingID,
		kind,
	)
	var version int
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("latest version: %w", err)
	}
	return version, nil
}

// FindRevisionByHash locates the newest revision of a kind with the given
// content hash. Missing matches return nil, nil.
func (s *Store) FindRevisionByHash(ctx context.Context, meetingID, kind, hash string) (*Revision, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+revisionColumns+` FROM revisions
         WHERE meeting_id = ? AND kind = ? AND content_hash = ?
         ORDER BY version DESC LIMIT 1`,
		meetingID,
		kind,
		hash,
	)
	rev, err := scanRevision(row)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find revision by hash: %w", err)
	}
	return rev, nil
}

// FindRevisionByHashForUser searches every meeting the user owns for a
// revision with the given content hash. Missing matches return nil, nil.
func (s *Store) FindRevisionByHashForUser(ctx context.Context, userID, hash string) (*Revision, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT r.id, r.meeting_id, r.version, r.kind, r.content_hash, r.file_path, r.created_at
         FROM revisions r
         JOIN meetings m ON m.id = r.meeting_id
         WHERE m.user_id = ? AND r.content_hash = ?
         ORDER BY r.version DESC LIMIT 1`,
		userID,
		hash,
	)
	rev, err := scanRevision(row)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find revision by hash for user: %w", err)
	}
	return rev, nil
}

// GetVersion fetches the revision of a kind at an exact version.
// Missing rows return nil, nil.
func (s *Store) GetVersion(ctx context.Context, meetingID, kind string, version int) (*Revision, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+revisionColumns+` FROM revisions WHERE meeting_id = ? AND kind = ? AND version = ?`,
		meetingID,
		kind,
		version,
	)
	rev, err := scanRevision(row)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	return rev, nil
}
