package nodestate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/pubnet/internal/nodestate"
	"github.com/gyaneshwarpardhi/pubnet/internal/storage"
)

func newState(t *testing.T) *nodestate.Store {
	t.Helper()
	db, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := nodestate.New(db)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func Test_HubLink(t *testing.T) {
	ctx := context.Background()
	s := newState(t)

	_, err := s.HubLink(ctx)
	assert.ErrorIs(t, err, nodestate.ErrNotLinked)

	require.NoError(t, s.SaveHubLink(ctx, "https://hub.example", "abc"))
	link, err := s.HubLink(ctx)
	require.NoError(t, err)
	assert.Equal(t, nodestate.HubLink{HubURL: "https://hub.example", Secret: "abc"}, link)

	role, err := s.Role(ctx)
	require.NoError(t, err)
	assert.Equal(t, nodestate.RoleNode, role)

	require.NoError(t, s.SaveHubLink(ctx, "https://hub2.example", "def"))
	link, err = s.HubLink(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://hub2.example", link.HubURL)
}

func Test_RelinkResetsCursor(t *testing.T) {
	ctx := context.Background()
	s := newState(t)

	require.NoError(t, s.SaveHubLink(ctx, "https://hub.example", "abc"))
	require.NoError(t, s.AdvanceCursor(ctx, 40))

	// Same Hub, new secret: the cursor stays.
	require.NoError(t, s.SaveHubLink(ctx, "https://hub.example", "def"))
	c, err := s.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(40), c)

	require.NoError(t, s.SaveHubLink(ctx, "https://hub2.example", "ghi"))
	c, err = s.Cursor(ctx)
	require.NoError(t, err)
	assert.Zero(t, c)

	require.NoError(t, s.AdvanceCursor(ctx, 3))
	c, err = s.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), c)
}

func Test_CursorNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	s := newState(t)

	c, err := s.Cursor(ctx)
	require.NoError(t, err)
	assert.Zero(t, c)

	steps := []struct {
		advance int64
		want    int64
	}{
		{5, 5},
		{3, 5},
		{5, 5},
		{12, 12},
		{0, 12},
		{100, 100},
	}
	for _, st := range steps {
		require.NoError(t, s.AdvanceCursor(ctx, st.advance))
		c, err := s.Cursor(ctx)
		require.NoError(t, err)
		assert.Equal(t, st.want, c, "after advancing to %d", st.advance)
	}
}

func Test_NetworkNodes(t *testing.T) {
	ctx := context.Background()
	s := newState(t)

	peers, err := s.NetworkNodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, peers)

	want := []nodestate.PeerNode{{ID: 1, URL: "https://a.example"}, {ID: 2, URL: "https://b.example"}}
	require.NoError(t, s.SaveNetworkNodes(ctx, want))
	peers, err = s.NetworkNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, peers)

	require.NoError(t, s.SaveNetworkNodes(ctx, nil))
	peers, err = s.NetworkNodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, peers)
}

func Test_SetRole(t *testing.T) {
	ctx := context.Background()
	s := newState(t)
	require.NoError(t, s.SetRole(ctx, nodestate.RoleHub))
	role, err := s.Role(ctx)
	require.NoError(t, err)
	assert.Equal(t, nodestate.RoleHub, role)
}
