package pgstore

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/duskfield/hippograph/internal/persistence"
)

func TestUpsertNodesWrapsInTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithPool(mock)
	itemsJSON, _ := json.Marshal([]string{"likes bones"})

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO graph_nodes")).
		WithArgs("dog", itemsJSON, int64(1), float64(10), float64(10)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err = store.UpsertNodes(context.Background(), []persistence.NodeRecord{
		{Concept: "dog", Items: []string{"likes bones"}, Hash: 1, CreatedTime: 10, LastModified: 10},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadAllReadsBothTables(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithPool(mock)
	itemsJSON, _ := json.Marshal([]string{"likes bones"})

	nodeRows := pgxmock.NewRows([]string{"concept", "memory_items", "hash", "created_time", "last_modified"}).
		AddRow("dog", itemsJSON, uint64(1), float64(10), float64(10))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT concept, memory_items, hash, created_time, last_modified FROM graph_nodes")).
		WillReturnRows(nodeRows)

	edgeRows := pgxmock.NewRows([]string{"source", "target", "strength", "hash", "created_time", "last_modified"})
	mock.ExpectQuery(regexp.QuoteMeta("SELECT source, target, strength, hash, created_time, last_modified FROM graph_edges")).
		WillReturnRows(edgeRows)

	nodes, edges, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.Empty(t, edges)
	require.Equal(t, []string{"likes bones"}, nodes[0].Items)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteNodesWrapsInTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithPool(mock)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM graph_nodes WHERE concept = $1")).
		WithArgs("dog").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	err = store.DeleteNodes(context.Background(), []string{"dog"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
