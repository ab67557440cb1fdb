package catalog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/pubnet/internal/catalog"
	"github.com/gyaneshwarpardhi/pubnet/internal/event"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := catalog.NewRegistry()
	r.Register(catalog.Action{Name: "a", Pullable: true})
	r.Register(catalog.Action{Name: "b"})

	a, ok := r.Lookup("a")
	require.True(t, ok)
	assert.True(t, a.Pullable)
	assert.NotNil(t, a.Handler, "missing handler defaults to NoOp")

	_, err := r.Get("missing")
	assert.Error(t, err)
	assert.False(t, r.Known("missing"))
	assert.Equal(t, []string{"a", "b"}, r.Names())
	assert.Equal(t, []string{"a"}, r.Pullable())
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	r := catalog.NewRegistry()
	r.Register(catalog.Action{Name: "a"})
	assert.Panics(t, func() { r.Register(catalog.Action{Name: "a"}) })
	assert.Panics(t, func() { r.Register(catalog.Action{}) })
}

func TestRegistry_FilterPullable(t *testing.T) {
	r := catalog.Build(nil)
	got := r.FilterPullable([]string{
		catalog.UserUpdated,
		catalog.NodeOrderChanged, // known but not pullable
		"bogus",
		catalog.ReaderRegistered,
		catalog.UserUpdated,
	})
	assert.Equal(t, []string{catalog.UserUpdated, catalog.ReaderRegistered}, got)
}

func TestBuild_DefaultPullableSet(t *testing.T) {
	r := catalog.Build(nil)
	assert.Len(t, r.Names(), len(catalog.Definitions))
	assert.ElementsMatch(t, []string{
		catalog.ReaderRegistered,
		catalog.WooMembershipUpdated,
		catalog.UserUpdated,
		catalog.UserDeleted,
		catalog.UserManuallySynced,
		catalog.NodesSynced,
	}, r.Pullable())
}

func TestFuncs_Capabilities(t *testing.T) {
	var hubCalls int
	h := catalog.Funcs{Hub: func(context.Context, event.Incoming) error { hubCalls++; return nil }}

	require.NoError(t, h.ApplyAsHub(context.Background(), event.Incoming{}))
	require.NoError(t, h.ApplyAsNode(context.Background(), event.Incoming{}))
	assert.Equal(t, 1, hubCalls)
}
