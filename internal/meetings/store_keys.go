package meetings

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"murmur/internal/crypto"
	"murmur/internal/services"
)

// StoreKey wraps a meeting's data key under the master key and persists it
// alongside the file IV. The plaintext key never reaches the database.
func (s *Store) StoreKey(ctx context.Context, wrapper *crypto.KeyWrapper, meetingID string, dataKey, fileIV []byte) error {
	wrapped, err := wrapper.Wrap(dataKey)
	if err != nil {
		return fmt.Errorf("wrap data key: %w", err)
	}
	err = s.execWithoutResultRetry(
		ctx,
		`INSERT INTO meeting_keys (meeting_id, file_iv, wrapped_key, auth_tag, created_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(meeting_id) DO UPDATE SET file_iv = excluded.file_iv,
             wrapped_key = excluded.wrapped_key, auth_tag = excluded.auth_tag`,
		meetingID,
		hex.EncodeToString(fileIV),
		wrapped.Blob,
		wrapped.Tag,
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store key record: %w", err)
	}
	return nil
}

// LoadKey unwraps a meeting's data key and decodes its file IV. A missing
// record surfaces as services.ErrNotFound; tampering as services.ErrKeyUnwrap.
func (s *Store) LoadKey(ctx context.Context, wrapper *crypto.KeyWrapper, meetingID string) (key, iv []byte, err error) {
	record, err := s.GetKeyRecord(ctx, meetingID)
	if err != nil {
		return nil, nil, err
	}
	if record == nil {
		return nil, nil, services.Wrap(services.ErrNotFound, "", "load key", "no key record for meeting "+meetingID, nil)
	}
	key, err = wrapper.Unwrap(crypto.WrappedKey{Blob: record.Blob, Tag: record.Tag})
	if err != nil {
		return nil, nil, err
	}
	iv, err = hex.DecodeString(record.FileIV)
	if err != nil || len(iv) != crypto.FileIVSize {
		return nil, nil, services.Wrap(services.ErrKeyUnwrap, "", "load key", "malformed file iv", err)
	}
	return key, iv, nil
}

// GetKeyRecord fetches the stored key material without unwrapping it.
// Missing records return nil, nil.
func (s *Store) GetKeyRecord(ctx context.Context, meetingID string) (*KeyRecord, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT meeting_id, file_iv, wrapped_key, auth_tag FROM meeting_keys WHERE meeting_id = ?`,
		meetingID,
	)
	var record KeyRecord
	err := row.Scan(&record.MeetingID, &record.FileIV, &record.Blob, &record.Tag)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get key record: %w", err)
	}
	return &record, nil
}
