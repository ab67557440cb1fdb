package eventlog_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/pubnet/internal/event"
	"github.com/gyaneshwarpardhi/pubnet/internal/eventlog"
	"github.com/gyaneshwarpardhi/pubnet/internal/storage"
)

func newStore(t *testing.T) *eventlog.Store {
	t.Helper()
	db, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := eventlog.NewFromSQLX(db)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func appendN(t *testing.T, s *eventlog.Store, n int, nodeID int64, action string) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		data := fmt.Sprintf(`{"email":"user%d@x.com","n":%d}`, i, i)
		id, err := s.Append(context.Background(), event.Logged{
			NodeID:    nodeID,
			Action:    action,
			Data:      json.RawMessage(data),
			Timestamp: 1000,
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func Test_Append_AssignsIncreasingIDsAndDenormalizesEmail(t *testing.T) {
	s := newStore(t)
	ids := appendN(t, s, 3, 4, "reader_registered")
	assert.Equal(t, []int64{1, 2, 3}, ids)

	got, err := s.Query(context.Background(), eventlog.Filter{Email: "user1@x.com"}, eventlog.Page{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].ID)
	assert.Equal(t, int64(4), got[0].NodeID)
	assert.Equal(t, "reader_registered", got[0].Action)
	assert.JSONEq(t, `{"email":"user1@x.com","n":1}`, string(got[0].Data))
	assert.Equal(t, int64(1000), got[0].Timestamp)
}

func Test_Append_RejectsInvalidEvents(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, event.Logged{Action: "", Data: json.RawMessage(`{"a":1}`)})
	assert.ErrorIs(t, err, eventlog.ErrInvalidEvent)
	_, err = s.Append(ctx, event.Logged{Action: "x", Data: json.RawMessage(`{`)})
	assert.ErrorIs(t, err, eventlog.ErrInvalidEvent)

	n, err := s.Count(ctx, eventlog.Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func Test_Query_DescendingOrderIsStrictlyDecreasing(t *testing.T) {
	s := newStore(t)
	appendN(t, s, 10, 1, "reader_registered")

	got, err := s.Query(context.Background(), eventlog.Filter{}, eventlog.Page{Size: 10, Order: eventlog.Desc})
	require.NoError(t, err)
	require.Len(t, got, 10)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i-1].ID, got[i].ID)
	}
}

func Test_Query_IDGreaterThanExcludesLowerIDs(t *testing.T) {
	s := newStore(t)
	appendN(t, s, 10, 1, "reader_registered")

	got, err := s.Query(context.Background(), eventlog.Filter{IDGreaterThan: 6}, eventlog.Page{})
	require.NoError(t, err)
	require.Len(t, got, 4)
	for _, ev := range got {
		assert.Greater(t, ev.ID, int64(6))
	}
}

func Test_Query_FiltersCompose(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	appendN(t, s, 3, 1, "reader_registered")    // ids 1..3
	appendN(t, s, 3, 2, "reader_registered")    // ids 4..6
	appendN(t, s, 2, 2, "network_user_updated") // ids 7..8
	appendN(t, s, 2, 0, "network_nodes_synced") // ids 9..10

	tests := []struct {
		name   string
		filter eventlog.Filter
		want   []int64
	}{
		{name: "node_id", filter: eventlog.Filter{NodeID: eventlog.ID(2)}, want: []int64{4, 5, 6, 7, 8}},
		{name: "excluded_node_id", filter: eventlog.Filter{ExcludedNodeID: eventlog.ID(2)}, want: []int64{1, 2, 3, 9, 10}},
		{name: "hub_events", filter: eventlog.Filter{NodeID: eventlog.ID(0)}, want: []int64{9, 10}},
		{name: "action", filter: eventlog.Filter{Action: "network_user_updated"}, want: []int64{7, 8}},
		{name: "actions_set", filter: eventlog.Filter{Actions: []string{"network_user_updated", "network_nodes_synced"}}, want: []int64{7, 8, 9, 10}},
		{name: "empty_actions_set", filter: eventlog.Filter{Actions: []string{}}, want: []int64{}},
		{name: "pull_shape", filter: eventlog.Filter{
			Actions:        []string{"reader_registered", "network_nodes_synced"},
			IDGreaterThan:  2,
			ExcludedNodeID: eventlog.ID(1),
		}, want: []int64{4, 5, 6, 9, 10}},
		{name: "email_and_node", filter: eventlog.Filter{Email: "user0@x.com", NodeID: eventlog.ID(2)}, want: []int64{4, 7}},
		{name: "search_email", filter: eventlog.Filter{Search: "user2@"}, want: []int64{3, 6}},
		{name: "search_action", filter: eventlog.Filter{Search: "nodes_synced"}, want: []int64{9, 10}},
		{name: "search_data", filter: eventlog.Filter{Search: `"n":1`}, want: []int64{2, 5, 8, 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Query(ctx, tt.filter, eventlog.Page{})
			require.NoError(t, err)
			ids := make([]int64, 0, len(got))
			for _, ev := range got {
				ids = append(ids, ev.ID)
			}
			assert.Equal(t, tt.want, ids)

			n, err := s.Count(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, int64(len(tt.want)), n)
		})
	}
}

func Test_Query_Pagination(t *testing.T) {
	s := newStore(t)
	appendN(t, s, 25, 1, "reader_registered")

	page1, err := s.Query(context.Background(), eventlog.Filter{}, eventlog.Page{Size: 20, Number: 1})
	require.NoError(t, err)
	require.Len(t, page1, 20)
	assert.Equal(t, int64(1), page1[0].ID)
	assert.Equal(t, int64(20), page1[19].ID)

	page2, err := s.Query(context.Background(), eventlog.Filter{}, eventlog.Page{Size: 20, Number: 2})
	require.NoError(t, err)
	require.Len(t, page2, 5)
	assert.Equal(t, int64(21), page2[0].ID)
}

func Test_Append_ConcurrentInsertsGetDistinctIDs(t *testing.T) {
	s := newStore(t)
	const n = 20
	var wg sync.WaitGroup
	ids := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.Append(context.Background(), event.Logged{
				NodeID: int64(i), Action: "reader_registered", Data: json.RawMessage(`{"email":"a@x.com"}`),
			})
			assert.NoError(t, err)
			ids <- id
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func Test_Emitter(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	e := eventlog.NewEmitter(s)

	id, err := e.Emit(ctx, "network_nodes_synced", map[string]any{"nodes_data": []string{"https://a.example.com"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	id, err = e.Emit(event.WithoutEmission(ctx), "network_nodes_synced", map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Zero(t, id)

	got, err := s.Query(ctx, eventlog.Filter{NodeID: eventlog.ID(event.HubNodeID)}, eventlog.Page{})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func Test_PostgresAppendUsesReturning(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s, err := eventlog.NewFromSQLDB(db, storage.DialectPostgres)
	require.NoError(t, err)

	mock.ExpectQuery(`INSERT INTO "network_events" .* RETURNING "id"`).
		WithArgs("reader_registered", `{"email":"a@x.com"}`, "a@x.com", int64(3), int64(1000)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	id, err := s.Append(context.Background(), event.Logged{
		NodeID: 3, Action: "reader_registered", Data: json.RawMessage(`{"email":"a@x.com"}`), Timestamp: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_PostgresPullQueryShape(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s, err := eventlog.NewFromSQLDB(db, storage.DialectPostgres)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT .* FROM "network_events" WHERE .*"node_id" != \$1.*"id" > \$2.*"action_name" IN \(\$3, \$4\).*ORDER BY "id" ASC LIMIT \$5`).
		WithArgs(int64(7), int64(20), "a", "b", int64(20)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "node_id", "action_name", "email", "data", "timestamp"}).
			AddRow(21, 0, "a", "", []byte(`{"x":1}`), 5))

	got, err := s.Query(context.Background(), eventlog.Filter{
		ExcludedNodeID: eventlog.ID(7), IDGreaterThan: 20, Actions: []string{"a", "b"},
	}, eventlog.Page{Size: 20})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(21), got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_NewStore_Options(t *testing.T) {
	_, err := eventlog.NewFromSQLDB(nil, storage.DialectSQLite)
	assert.ErrorIs(t, err, eventlog.ErrNilDatabase)

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = eventlog.NewFromSQLDB(db, "oracle")
	assert.ErrorIs(t, err, eventlog.ErrUnsupportedDialect)
	_, err = eventlog.NewFromSQLDB(db, storage.DialectPostgres, eventlog.WithTableName(""))
	assert.ErrorIs(t, err, eventlog.ErrEmptyTableName)
}
