package meetings

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Create inserts a meeting in the initializing state. The ID comes from the
// bot provider and must be unique.
func (s *Store) Create(ctx context.Context, id, userID string) (*Meeting, error) {
	if id == "" || userID == "" {
		return nil, errors.New("meeting id and user id are required")
	}
	now := time.Now().UTC().UnixMilli()
	err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO meetings (id, user_id, process_state, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)`,
		id,
		userID,
		StateInitializing,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert meeting: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a meeting by identifier. Missing meetings return nil, nil.
func (s *Store) GetByID(ctx context.Context, id string) (*Meeting, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = ?`, id)
	meeting, err := scanMeeting(row)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get meeting: %w", err)
	}
	return meeting, nil
}

// ListByUser returns a user's meetings, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]*Meeting, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	defer rows.Close()

	var meetings []*Meeting
	for rows.Next() {
		meeting, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, meeting)
	}
	return meetings, rows.Err()
}

// ListByStates returns meetings in any of the given states, oldest first.
// Used at startup to resume interrupted processing.
func (s *Store) ListByStates(ctx context.Context, states ...State) ([]*Meeting, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := makePlaceholders(len(states))
	args := make([]any, len(states))
	for i, state := range states {
		args[i] = state
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE process_state IN (`+placeholders+`) ORDER BY created_at`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list by state: %w", err)
	}
	defer rows.Close()

	var meetings []*Meeting
	for rows.Next() {
		meeting, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, meeting)
	}
	return meetings, rows.Err()
}

// Update persists changes to an existing meeting.
func (s *Store) Update(ctx context.Context, meeting *Meeting) error {
	if meeting == nil {
		return errors.New("meeting is nil")
	}
	meeting.UpdatedAt = time.Now().UTC()
	pathsJSON, err := encodePaths(meeting.FilePaths)
	if err != nil {
		return err
	}
	err = s.execWithoutResultRetry(
		ctx,
		`UPDATE meetings
         SET process_state = ?, duration_seconds = ?,
             file_paths_json = ?, active_version = ?, error_message = ?, updated_at = ?
         WHERE id = ?`,
		meeting.ProcessState,
		meeting.DurationSeconds,
		pathsJSON,
		meeting.ActiveVersion,
		nullableString(meeting.ErrorMessage),
		meeting.UpdatedAt.UnixMilli(),
		meeting.ID,
	)
	if err != nil {
		return fmt.Errorf("update meeting: %w", err)
	}
	return nil
}

// TransitionState moves a meeting from one state to another atomically.
// It reports false when the meeting was not in the expected state, which is
// how concurrent pollers lose the race to start ingestion.
func (s *Store) TransitionState(ctx context.Context, id string, from, to State) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE meetings SET process_state = ?, updated_at = ? WHERE id = ? AND process_state = ?`,
		to,
		time.Now().UTC().UnixMilli(),
		id,
		from,
	)
	if err != nil {
		return false, fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// SetState forces a meeting into a state without a precondition.
func (s *Store) SetState(ctx context.Context, id string, state State) error {
	err := s.execWithoutResultRetry(
		ctx,
		`UPDATE meetings SET process_state = ?, updated_at = ? WHERE id = ?`,
		state,
		time.Now().UTC().UnixMilli(),
		id,
	)
	if err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	return nil
}

// SetFailure marks a meeting failed and records the reason.
func (s *Store) SetFailure(ctx context.Context, id, message string) error {
	err := s.execWithoutResultRetry(
		ctx,
		`UPDATE meetings SET process_state = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		StateFailed,
		nullableString(message),
		time.Now().UTC().UnixMilli(),
		id,
	)
	if err != nil {
		return fmt.Errorf("set failure: %w", err)
	}
	return nil
}

// Delete removes a meeting and everything derived from it in one transaction.
// The key record goes first so the data key is unrecoverable even if the
// transaction is interrupted after that point.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin delete tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM meeting_keys WHERE meeting_id = ?`, id); err != nil {
			return fmt.Errorf("delete key record: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM revisions WHERE meeting_id = ?`, id); err != nil {
			return fmt.Errorf("delete revisions: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM meetings WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete meeting: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("meeting %s not found", id)
		}
		return tx.Commit()
	})
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
