package nodes_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/pubnet/internal/nodes"
	"github.com/gyaneshwarpardhi/pubnet/internal/storage"
)

func newDirectory(t *testing.T) *nodes.Directory {
	t.Helper()
	db, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	d := nodes.NewDirectory(db, nodes.WithClock(func() time.Time { return time.Unix(1000, 0) }))
	require.NoError(t, d.Migrate(context.Background()))
	return d
}

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "https://Node.Example.com/", want: "https://node.example.com"},
		{in: "  HTTPS://node.example.com/site/ ", want: "https://node.example.com/site"},
		{in: "http://node.example.com:8080", want: "http://node.example.com:8080"},
		{in: "https://node.example.com/?q=1#x", want: "https://node.example.com"},
		{in: "ftp://node.example.com", wantErr: true},
		{in: "node.example.com", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := nodes.NormalizeURL(tc.in)
		if tc.wantErr {
			assert.ErrorIs(t, err, nodes.ErrInvalidURL, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestDirectory_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t)

	n, err := d.Create(ctx, "https://a.example.com/")
	require.NoError(t, err)
	assert.NotZero(t, n.ID)
	assert.Equal(t, "https://a.example.com", n.URL)
	assert.Len(t, n.Secret, 64)
	assert.Equal(t, int64(1000), n.CreatedAt)

	byURL, err := d.ByURL(ctx, "HTTPS://A.example.com")
	require.NoError(t, err)
	assert.Equal(t, n, byURL)

	byID, err := d.ByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.Secret, byID.Secret)
}

func TestDirectory_SecretIsNeverRegenerated(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t)

	n, err := d.Create(ctx, "https://a.example.com")
	require.NoError(t, err)

	_, err = d.Create(ctx, "https://a.example.com/")
	assert.ErrorIs(t, err, nodes.ErrDuplicateURL)

	again, err := d.ByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.Secret, again.Secret)
}

func TestDirectory_NotFound(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t)

	_, err := d.ByURL(ctx, "https://missing.example.com")
	assert.ErrorIs(t, err, nodes.ErrNotFound)
	_, err = d.ByURL(ctx, "not a url")
	assert.ErrorIs(t, err, nodes.ErrNotFound)
	_, err = d.ByID(ctx, 99)
	assert.ErrorIs(t, err, nodes.ErrNotFound)
	assert.ErrorIs(t, d.Delete(ctx, 99), nodes.ErrNotFound)
}

func TestDirectory_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t)

	a, err := d.Create(ctx, "https://a.example.com")
	require.NoError(t, err)
	b, err := d.Create(ctx, "https://b.example.com")
	require.NoError(t, err)

	list, err := d.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)

	require.NoError(t, d.Delete(ctx, a.ID))
	list, err = d.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b.URL, list[0].URL)

	payload := nodes.SyncPayload(list)
	data := payload["nodes_data"].([]map[string]any)
	require.Len(t, data, 1)
	assert.Equal(t, b.URL, data[0]["url"])
}

func TestDirectory_PostgresQueryShape(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = mockDB.Close() }()

	d := nodes.NewDirectory(sqlx.NewDb(mockDB, storage.DialectPostgres))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, url, secret, created_at FROM network_nodes WHERE url = $1`)).
		WithArgs("https://a.example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "url", "secret", "created_at"}).
			AddRow(7, "https://a.example.com", "s3cr3t", 1000))

	n, err := d.ByURL(context.Background(), "https://a.example.com/")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n.ID)
	assert.Equal(t, "s3cr3t", n.Secret)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectory_CreateRaceMapsUniqueViolation(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = mockDB.Close() }()

	d := nodes.NewDirectory(sqlx.NewDb(mockDB, storage.DialectPostgres))

	// The lookup sees no row; a concurrent create wins the insert.
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, url, secret, created_at FROM network_nodes WHERE url = $1`)).
		WithArgs("https://a.example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "url", "secret", "created_at"}))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO network_nodes (url, secret, created_at) VALUES ($1, $2, $3) RETURNING id`)).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	_, err = d.Create(context.Background(), "https://a.example.com")
	assert.ErrorIs(t, err, nodes.ErrDuplicateURL)
	assert.NoError(t, mock.ExpectationsWereMet())
}
