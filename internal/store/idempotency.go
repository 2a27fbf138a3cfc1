package store

import (
	"database/sql"
	"fmt"
	"time"
)

type IdempotencyKey struct {
	Owner              string    `json:"owner"`
	Key                string    `json:"key"`
	RequestFingerprint string    `json:"request_fingerprint"`
	ResponseSnapshot   string    `json:"response_snapshot"`
	StatusCode         int       `json:"status_code"`
	CreatedAt          time.Time `json:"created_at"`
	ExpiresAt          time.Time `json:"expires_at"`
}

// IsExpired reports whether the record's TTL has passed at the given time.
func (k *IdempotencyKey) IsExpired(now time.Time) bool {
	return !k.ExpiresAt.After(now)
}

// InsertIdempotencyKey inserts the record; returns ErrDuplicateKey when the
// (owner, key) pair already exists. First writer wins.
func (s *Store) InsertIdempotencyKey(rec *IdempotencyKey) error {
	err := retryOnBusy(func() error {
		_, e := s.db.Exec(
			`INSERT INTO idempotency_keys (owner, key, request_fingerprint, response_snapshot,
			 status_code, created_at, expires_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.Owner, rec.Key, rec.RequestFingerprint, rec.ResponseSnapshot,
			rec.StatusCode, rec.CreatedAt.UTC(), rec.ExpiresAt.UTC(),
		)
		return e
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("inserting idempotency key: %w", err)
	}
	return nil
}

// GetIdempotencyKey returns the record or (nil, nil) when absent.
func (s *Store) GetIdempotencyKey(owner, key string) (*IdempotencyKey, error) {
	row := s.db.QueryRow(
		`SELECT owner, key, request_fingerprint, response_snapshot, status_code, created_at, expires_at
		 FROM idempotency_keys WHERE owner = ? AND key = ?`, owner, key,
	)
	var rec IdempotencyKey
	err := row.Scan(
		&rec.Owner, &rec.Key, &rec.RequestFingerprint, &rec.ResponseSnapshot,
		&rec.StatusCode, &rec.CreatedAt, &rec.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning idempotency key: %w", err)
	}
	return &rec, nil
}

func (s *Store) DeleteIdempotencyKey(owner, key string) error {
	err := retryOnBusy(func() error {
		_, e := s.db.Exec(`DELETE FROM idempotency_keys WHERE owner = ? AND key = ?`, owner, key)
		return e
	})
	if err != nil {
		return fmt.Errorf("deleting idempotency key: %w", err)
	}
	return nil
}

// DeleteExpiredIdempotencyKeys bulk-deletes records past their TTL.
func (s *Store) DeleteExpiredIdempotencyKeys(now time.Time) (int64, error) {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(`DELETE FROM idempotency_keys WHERE expires_at < ?`, now.UTC())
		return e
	})
	if err != nil {
		return 0, fmt.Errorf("deleting expired idempotency keys: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
