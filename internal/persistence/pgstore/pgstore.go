// Package pgstore implements persistence.Store over PostgreSQL, adapted from
// the teacher's store/postgres/postgres.go checkpoint store: same mockable
// DBPool interface over jackc/pgx/v5, same ON CONFLICT upsert shape, but
// projecting the GraphNodes/GraphEdges tables instead of a checkpoints table.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duskfield/hippograph/internal/persistence"
)

// DBPool is the subset of a pgx pool this store needs; a mock can satisfy it
// in tests (grounded on the teacher's own DBPool interface).
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store implements persistence.Store over PostgreSQL.
type Store struct {
	pool DBPool
}

var _ persistence.Store = (*Store)(nil)

// Options configures a Postgres connection.
type Options struct {
	ConnString string
}

// Open creates a connection pool and ensures the schema exists.
func Open(ctx context.Context, opts Options) (*Store, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool wraps an existing pool (or pgxmock in tests) without touching
// the schema, mirroring the teacher's NewPostgresCheckpointStoreWithPool.
func NewWithPool(pool DBPool) *Store {
	return &Store{pool: pool}
}

func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS graph_nodes (
			concept TEXT PRIMARY KEY,
			memory_items JSONB NOT NULL,
			hash BIGINT NOT NULL,
			created_time DOUBLE PRECISION NOT NULL,
			last_modified DOUBLE PRECISION NOT NULL
		);
		CREATE TABLE IF NOT EXISTS graph_edges (
			source TEXT NOT NULL,
			target TEXT NOT NULL,
			strength INTEGER NOT NULL,
			hash BIGINT NOT NULL,
			created_time DOUBLE PRECISION NOT NULL,
			last_modified DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (source, target)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// LoadAll reads both tables in full.
func (s *Store) LoadAll(ctx context.Context) ([]persistence.NodeRecord, []persistence.EdgeRecord, error) {
	nodeRows, err := s.pool.Query(ctx, `SELECT concept, memory_items, hash, created_time, last_modified FROM graph_nodes`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer nodeRows.Close()

	var nodes []persistence.NodeRecord
	for nodeRows.Next() {
		var n persistence.NodeRecord
		var itemsJSON []byte
		var hash int64
		if err := nodeRows.Scan(&n.Concept, &itemsJSON, &hash, &n.CreatedTime, &n.LastModified); err != nil {
			return nil, nil, fmt.Errorf("failed to scan node row: %w", err)
		}
		n.Hash = uint64(hash)
		if err := json.Unmarshal(itemsJSON, &n.Items); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal memory_items for %q: %w", n.Concept, err)
		}
		nodes = append(nodes, n)
	}
	if err := nodeRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating node rows: %w", err)
	}

	edgeRows, err := s.pool.Query(ctx, `SELECT source, target, strength, hash, created_time, last_modified FROM graph_edges`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer edgeRows.Close()

	var edges []persistence.EdgeRecord
	for edgeRows.Next() {
		var e persistence.EdgeRecord
		var hash int64
		if err := edgeRows.Scan(&e.Source, &e.Target, &e.Strength, &hash, &e.CreatedTime, &e.LastModified); err != nil {
			return nil, nil, fmt.Errorf("failed to scan edge row: %w", err)
		}
		e.Hash = uint64(hash)
		edges = append(edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating edge rows: %w", err)
	}

	return nodes, edges, nil
}

// UpsertNodes writes a batch of nodes inside a single transaction.
func (s *Store) UpsertNodes(ctx context.Context, nodes []persistence.NodeRecord) error {
	if len(nodes) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, n := range nodes {
		itemsJSON, err := json.Marshal(n.Items)
		if err != nil {
			return fmt.Errorf("failed to marshal memory_items for %q: %w", n.Concept, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO graph_nodes (concept, memory_items, hash, created_time, last_modified)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (concept) DO UPDATE SET
				memory_items = EXCLUDED.memory_items,
				hash = EXCLUDED.hash,
				created_time = EXCLUDED.created_time,
				last_modified = EXCLUDED.last_modified
		`, n.Concept, itemsJSON, int64(n.Hash), n.CreatedTime, n.LastModified)
		if err != nil {
			return fmt.Errorf("failed to upsert node %q: %w", n.Concept, err)
		}
	}
	return tx.Commit(ctx)
}

// DeleteNodes removes a batch of nodes by concept, inside one transaction.
func (s *Store) DeleteNodes(ctx context.Context, concepts []string) error {
	if len(concepts) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range concepts {
		if _, err := tx.Exec(ctx, `DELETE FROM graph_nodes WHERE concept = $1`, c); err != nil {
			return fmt.Errorf("failed to delete node %q: %w", c, err)
		}
	}
	return tx.Commit(ctx)
}

// UpsertEdges writes a batch of edges inside a single transaction.
func (s *Store) UpsertEdges(ctx context.Context, edges []persistence.EdgeRecord) error {
	if len(edges) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range edges {
		_, err := tx.Exec(ctx, `
			INSERT INTO graph_edges (source, target, strength, hash, created_time, last_modified)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (source, target) DO UPDATE SET
				strength = EXCLUDED.strength,
				hash = EXCLUDED.hash,
				created_time = EXCLUDED.created_time,
				last_modified = EXCLUDED.last_modified
		`, e.Source, e.Target, e.Strength, int64(e.Hash), e.CreatedTime, e.LastModified)
		if err != nil {
			return fmt.Errorf("failed to upsert edge %q-%q: %w", e.Source, e.Target, err)
		}
	}
	return tx.Commit(ctx)
}

// DeleteEdges removes a batch of edges by endpoint pair, inside one transaction.
func (s *Store) DeleteEdges(ctx context.Context, pairs [][2]string) error {
	if len(pairs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, p := range pairs {
		if _, err := tx.Exec(ctx, `DELETE FROM graph_edges WHERE source = $1 AND target = $2`, p[0], p[1]); err != nil {
			return fmt.Errorf("failed to delete edge %q-%q: %w", p[0], p[1], err)
		}
	}
	return tx.Commit(ctx)
}

// ReplaceAll truncates both tables and bulk-inserts nodes then edges, inside
// one transaction.
func (s *Store) ReplaceAll(ctx context.Context, nodes []persistence.NodeRecord, edges []persistence.EdgeRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `TRUNCATE graph_edges`); err != nil {
		return fmt.Errorf("failed to truncate graph_edges: %w", err)
	}
	if _, err := tx.Exec(ctx, `TRUNCATE graph_nodes`); err != nil {
		return fmt.Errorf("failed to truncate graph_nodes: %w", err)
	}

	for _, n := range nodes {
		itemsJSON, err := json.Marshal(n.Items)
		if err != nil {
			return fmt.Errorf("failed to marshal memory_items for %q: %w", n.Concept, err)
		}
		_, err = tx.Exec(ctx, `INSERT INTO graph_nodes (concept, memory_items, hash, created_time, last_modified) VALUES ($1, $2, $3, $4, $5)`,
			n.Concept, itemsJSON, int64(n.Hash), n.CreatedTime, n.LastModified)
		if err != nil {
			return fmt.Errorf("failed to insert node %q: %w", n.Concept, err)
		}
	}

	for _, e := range edges {
		_, err := tx.Exec(ctx, `INSERT INTO graph_edges (source, target, strength, hash, created_time, last_modified) VALUES ($1, $2, $3, $4, $5, $6)`,
			e.Source, e.Target, e.Strength, int64(e.Hash), e.CreatedTime, e.LastModified)
		if err != nil {
			return fmt.Errorf("failed to insert edge %q-%q: %w", e.Source, e.Target, err)
		}
	}

	return tx.Commit(ctx)
}
