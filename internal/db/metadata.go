//-------------------------------------------------------------------------
//
// pgEdge Star Schema Loader
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package db

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pgEdge/pgedge-starload/internal/logging"
	"github.com/pgEdge/pgedge-starload/pkg/version"
)

// MetadataTable records the outcome of the last successful pipeline run in
// the warehouse. It is not one of the star-schema relations and survives
// the rebuild.
const MetadataTable = "starload_metadata"

// Well-known metadata keys.
const (
	KeyRunID       = "run_id"
	KeyVersion     = "version"
	KeyCompletedAt = "completed_at"
)

// createMetadataTableSQL creates the metadata table if it doesn't exist.
const createMetadataTableSQL = `
CREATE TABLE IF NOT EXISTS starload_metadata (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
)`

// SaveMetadata replaces the stored run metadata with the given values plus
// the tool version and completion time.
func SaveMetadata(ctx context.Context, q Querier, values map[string]string) error {
	if _, err := q.Exec(ctx, createMetadataTableSQL); err != nil {
		return fmt.Errorf("failed to create metadata table: %w", err)
	}

	// Keys from an older run must not linger next to the new ones.
	if _, err := q.Exec(ctx, "DELETE FROM starload_metadata"); err != nil {
		return fmt.Errorf("failed to clear metadata: %w", err)
	}

	metadata := map[string]string{
		KeyVersion:     version.Short(),
		KeyCompletedAt: time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range values {
		metadata[k] = v
	}

	for key, value := range metadata {
		_, err := q.Exec(ctx, `
            INSERT INTO starload_metadata (key, value) VALUES ($1, $2)
            ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
        `, key, value)
		if err != nil {
			return fmt.Errorf("failed to save metadata %s: %w", key, err)
		}
	}

	logging.Debug().
		Str("run_id", metadata[KeyRunID]).
		Int("keys", len(metadata)).
		Msg("Saved metadata")

	return nil
}

// GetMetadataValue retrieves a single metadata value by key.
func GetMetadataValue(ctx context.Context, q Querier, key string) (string, error) {
	var value string
	err := q.QueryRow(ctx, `
        SELECT value FROM starload_metadata WHERE key = $1
    `, key).Scan(&value)
	if err != nil {
		return "", err
	}
	return value, nil
}

// GetAllMetadata retrieves all metadata as a map.
func GetAllMetadata(ctx context.Context, q Querier) (map[string]string, error) {
	rows, err := q.Query(ctx, `SELECT key, value FROM starload_metadata`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	metadata := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		metadata[key] = value
	}

	return metadata, rows.Err()
}

// SortedKeys returns the metadata keys in lexical order for display.
func SortedKeys(metadata map[string]string) []string {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MetadataExists checks if the metadata table exists.
func MetadataExists(ctx context.Context, q Querier) (bool, error) {
	return TableExists(ctx, q, MetadataTable)
}
