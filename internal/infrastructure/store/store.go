// Package store is the shared scan state store. Records written by one
// orchestrator instance must be resolvable by any other, so all backends use
// the same key derivation and Get runs a two-step fallback chain (direct key,
// then the per-user recency index) before ever reporting not found.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantrun/oppscan/internal/domain/scan"
)

const keyPrefix = "oppscan"

// RecordKey derives the primary key for a scan record.
func RecordKey(scanID string) string {
	return fmt.Sprintf("%s:scan:%s", keyPrefix, scanID)
}

// LatestKey derives the per-user recency index key.
func LatestKey(userID string) string {
	return fmt.Sprintf("%s:user:%s:latest", keyPrefix, userID)
}

// SnapshotKey derives the key for a daily metrics snapshot.
func SnapshotKey(date string) string {
	return fmt.Sprintf("%s:metrics:%s", keyPrefix, date)
}

// Backend is the raw keyed byte store underneath the fallback chain. Redis in
// production, memory for tests and single-node development.
type Backend interface {
	Write(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Read(ctx context.Context, key string) ([]byte, bool, error)
}

// Store resolves scan records over a backend. Safe for concurrent use.
type Store struct {
	backend Backend

	// OnNearMiss is invoked when the direct lookup misses but the fallback
	// path resolves the record. Optional; used for operational visibility.
	OnNearMiss func(scanID string)
}

// New creates a store over the given backend.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// Put writes a scan record and refreshes the user's recency index under the
// same TTL. Both the coordinator's progress writes and finalization go
// through here so every instance derives identical keys.
func (s *Store) Put(ctx context.Context, rec *scan.Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal scan record %s: %w", rec.ScanID, err)
	}

	if err := s.backend.Write(ctx, RecordKey(rec.ScanID), data, ttl); err != nil {
		return fmt.Errorf("write scan record %s: %w", rec.ScanID, err)
	}
	if err := s.backend.Write(ctx, LatestKey(rec.UserID), []byte(rec.ScanID), ttl); err != nil {
		return fmt.Errorf("write recency index for user %s: %w", rec.UserID, err)
	}
	return nil
}

// Get resolves a scan record. Direct key lookup first; on a miss the per-user
// recency index is consulted before reporting not found, so a write/read race
// between instances is indistinguishable from a direct hit to the caller.
func (s *Store) Get(ctx context.Context, scanID string) (*scan.Record, bool, error) {
	data, found, err := s.backend.Read(ctx, RecordKey(scanID))
	if err != nil {
		return nil, false, fmt.Errorf("read scan record %s: %w", scanID, err)
	}
	if found {
		return decodeRecord(scanID, data)
	}

	// Fallback: the scan id embeds the owning user, so the recency index can
	// be consulted without any extra caller state.
	userID, err := scan.UserFromScanID(scanID)
	if err != nil {
		return nil, false, nil
	}

	latestID, found, err := s.ResolveByUserAndRecency(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if !found || latestID != scanID {
		return nil, false, nil
	}

	data, found, err = s.backend.Read(ctx, RecordKey(latestID))
	if err != nil {
		return nil, false, fmt.Errorf("read scan record %s via recency index: %w", scanID, err)
	}
	if !found {
		return nil, false, nil
	}

	// Not an error: log the near miss and return success.
	log.Warn().Str("scan_id", scanID).Str("user_id", userID).
		Msg("Direct lookup missed, resolved via recency index")
	if s.OnNearMiss != nil {
		s.OnNearMiss(scanID)
	}

	return decodeRecord(scanID, data)
}

// ResolveByUserAndRecency returns the most recent scan id written for a user.
func (s *Store) ResolveByUserAndRecency(ctx context.Context, userID string) (string, bool, error) {
	data, found, err := s.backend.Read(ctx, LatestKey(userID))
	if err != nil {
		return "", false, fmt.Errorf("read recency index for user %s: %w", userID, err)
	}
	if !found {
		return "", false, nil
	}
	return string(data), true, nil
}

// PutSnapshot persists a daily metrics snapshot.
func (s *Store) PutSnapshot(ctx context.Context, snap *scan.MetricsSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal metrics snapshot %s: %w", snap.Date, err)
	}
	if err := s.backend.Write(ctx, SnapshotKey(snap.Date), data, ttl); err != nil {
		return fmt.Errorf("write metrics snapshot %s: %w", snap.Date, err)
	}
	return nil
}

// GetSnapshot loads the metrics snapshot for a date (yyyy-mm-dd).
func (s *Store) GetSnapshot(ctx context.Context, date string) (*scan.MetricsSnapshot, bool, error) {
	data, found, err := s.backend.Read(ctx, SnapshotKey(date))
	if err != nil {
		return nil, false, fmt.Errorf("read metrics snapshot %s: %w", date, err)
	}
	if !found {
		return nil, false, nil
	}

	var snap scan.MetricsSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("decode metrics snapshot %s: %w", date, err)
	}
	return &snap, true, nil
}

func decodeRecord(scanID string, data []byte) (*scan.Record, bool, error) {
	var rec scan.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("decode scan record %s: %w", scanID, err)
	}
	return &rec, true, nil
}
