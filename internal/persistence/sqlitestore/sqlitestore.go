// Package sqlitestore implements persistence.Store over SQLite, adapted from
// the teacher's store/sqlite/sqlite.go checkpoint store (same database/sql +
// mattn/go-sqlite3 driver, CREATE TABLE IF NOT EXISTS schema, ON CONFLICT DO
// UPDATE upsert shape) but projecting the two GraphNodes/GraphEdges tables
// spec.md §6 describes instead of a single checkpoints table.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/duskfield/hippograph/internal/persistence"
)

// Store implements persistence.Store over a SQLite database.
type Store struct {
	db *sql.DB
}

var _ persistence.Store = (*Store)(nil)

// Options configures a SQLite-backed Store.
type Options struct {
	// Path is the sqlite3 DSN, e.g. "file:memory.db" or ":memory:".
	Path string
}

// Open opens the database and ensures the schema exists.
func Open(opts Options) (*Store, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS graph_nodes (
			concept TEXT PRIMARY KEY,
			memory_items TEXT NOT NULL,
			hash INTEGER NOT NULL,
			created_time REAL NOT NULL,
			last_modified REAL NOT NULL
		);
		CREATE TABLE IF NOT EXISTS graph_edges (
			source TEXT NOT NULL,
			target TEXT NOT NULL,
			strength INTEGER NOT NULL,
			hash INTEGER NOT NULL,
			created_time REAL NOT NULL,
			last_modified REAL NOT NULL,
			PRIMARY KEY (source, target)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// LoadAll reads both tables in full.
func (s *Store) LoadAll(ctx context.Context) ([]persistence.NodeRecord, []persistence.EdgeRecord, error) {
	nodeRows, err := s.db.QueryContext(ctx, `SELECT concept, memory_items, hash, created_time, last_modified FROM graph_nodes`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer nodeRows.Close()

	var nodes []persistence.NodeRecord
	for nodeRows.Next() {
		var n persistence.NodeRecord
		var itemsJSON string
		var hash int64
		if err := nodeRows.Scan(&n.Concept, &itemsJSON, &hash, &n.CreatedTime, &n.LastModified); err != nil {
			return nil, nil, fmt.Errorf("failed to scan node row: %w", err)
		}
		n.Hash = uint64(hash)
		if err := json.Unmarshal([]byte(itemsJSON), &n.Items); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal memory_items for %q: %w", n.Concept, err)
		}
		nodes = append(nodes, n)
	}
	if err := nodeRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating node rows: %w", err)
	}

	edgeRows, err := s.db.QueryContext(ctx, `SELECT source, target, strength, hash, created_time, last_modified FROM graph_edges`)
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO graph_nodes (concept, memory_items, hash, created_time, last_modified)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(concept) DO UPDATE SET
			memory_items = excluded.memory_items,
			hash = excluded.hash,
			created_time = excluded.created_time,
			last_modified = excluded.last_modified
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare node upsert: %w", err)
	}
	defer stmt.Close()

	for _, n := range nodes {
		itemsJSON, err := json.Marshal(n.Items)
		if err != nil {
			return fmt.Errorf("failed to marshal memory_items for %q: %w", n.Concept, err)
		}
		if _, err := stmt.ExecContext(ctx, n.Concept, string(itemsJSON), int64(n.Hash), n.CreatedTime, n.LastModified); err != nil {
			return fmt.Errorf("failed to upsert node %q: %w", n.Concept, err)
		}
	}
	return tx.Commit()
}

// DeleteNodes removes a batch of nodes by concept, inside one transaction.
func (s *Store) DeleteNodes(ctx context.Context, concepts []string) error {
	if len(concepts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM graph_nodes WHERE concept = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare node delete: %w", err)
	}
	defer stmt.Close()

	for _, c := range concepts {
		if _, err := stmt.ExecContext(ctx, c); err != nil {
			return fmt.Errorf("failed to delete node %q: %w", c, err)
		}
	}
	return tx.Commit()
}

// UpsertEdges writes a batch of edges inside a single transaction.
func (s *Store) UpsertEdges(ctx context.Context, edges []persistence.EdgeRecord) error {
	if len(edges) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO graph_edges (source, target, strength, hash, created_time, last_modified)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, target) DO UPDATE SET
			strength = excluded.strength,
			hash = excluded.hash,
			created_time = excluded.created_time,
			last_modified = excluded.last_modified
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare edge upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range edges {
		if _, err := stmt.ExecContext(ctx, e.Source, e.Target, e.Strength, int64(e.Hash), e.CreatedTime, e.LastModified); err != nil {
			return fmt.Errorf("failed to upsert edge %q-%q: %w", e.Source, e.Target, err)
		}
	}
	return tx.Commit()
}

// DeleteEdges removes a batch of edges by endpoint pair, inside one transaction.
func (s *Store) DeleteEdges(ctx context.Context, pairs [][2]string) error {
	if len(pairs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM graph_edges WHERE source = ? AND target = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare edge delete: %w", err)
	}
	defer stmt.Close()

	for _, p := range pairs {
		if _, err := stmt.ExecContext(ctx, p[0], p[1]); err != nil {
			return fmt.Errorf("failed to delete edge %q-%q: %w", p[0], p[1], err)
		}
	}
	return tx.Commit()
}

// ReplaceAll truncates both tables and bulk-inserts nodes then edges, inside
// one transaction (spec.md §4.3 resync_full).
func (s *Store) ReplaceAll(ctx context.Context, nodes []persistence.NodeRecord, edges []persistence.EdgeRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM graph_edges`); err != nil {
		return fmt.Errorf("failed to truncate graph_edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM graph_nodes`); err != nil {
		return fmt.Errorf("failed to truncate graph_nodes: %w", err)
	}

	nodeStmt, err := tx.PrepareContext(ctx, `INSERT INTO graph_nodes (concept, memory_items, hash, created_time, last_modified) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare node insert: %w", err)
	}
	defer nodeStmt.Close()
	for _, n := range nodes {
		itemsJSON, err := json.Marshal(n.Items)
		if err != nil {
			return fmt.Errorf("failed to marshal memory_items for %q: %w", n.Concept, err)
		}
		if _, err := nodeStmt.ExecContext(ctx, n.Concept, string(itemsJSON), int64(n.Hash), n.CreatedTime, n.LastModified); err != nil {
			return fmt.Errorf("failed to insert node %q: %w", n.Concept, err)
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx, `INSERT INTO graph_edges (source, target, strength, hash, created_time, last_modified) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare edge insert: %w", err)
	}
	defer edgeStmt.Close()
	for _, e := range edges {
		if _, err := edgeStmt.ExecContext(ctx, e.Source, e.Target, e.Strength, int64(e.Hash), e.CreatedTime, e.LastModified); err != nil {
			return fmt.Errorf("failed to insert edge %q-%q: %w", e.Source, e.Target, err)
		}
	}

	return tx.Commit()
}
