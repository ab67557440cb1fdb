package processor_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/pubnet/internal/catalog"
	"github.com/gyaneshwarpardhi/pubnet/internal/event"
	"github.com/gyaneshwarpardhi/pubnet/internal/nodestate"
	"github.com/gyaneshwarpardhi/pubnet/internal/processor"
	"github.com/gyaneshwarpardhi/pubnet/internal/storage"
)

type recorder struct {
	mu      sync.Mutex
	emitted []string
}

func (r *recorder) Emit(ctx context.Context, action string, _ any) error {
	if event.EmissionSuppressed(ctx) {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitted = append(r.emitted, action)
	return nil
}

type fixture struct {
	mirror *processor.Mirror
	state  *nodestate.Store
	notify *recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	f := fixture{mirror: processor.NewMirror(db), state: nodestate.New(db), notify: &recorder{}}
	require.NoError(t, f.mirror.Migrate(ctx))
	require.NoError(t, f.state.Migrate(ctx))
	return f
}

func (f fixture) processor(role processor.Role) *processor.Processor {
	reg := processor.NewRegistry(processor.Deps{Mirror: f.mirror, Peers: f.state})
	return processor.New(role, reg)
}

func incoming(action, site, data string) event.Incoming {
	return event.Incoming{Action: action, Site: site, Data: json.RawMessage(data), Timestamp: 1}
}

func Test_Process_RoleSelectsCapability(t *testing.T) {
	ctx := context.Background()
	var hubCalls, nodeCalls int
	reg := catalog.NewRegistry()
	reg.Register(catalog.Action{Name: "x", Handler: catalog.Funcs{
		Hub:  func(context.Context, event.Incoming) error { hubCalls++; return nil },
		Node: func(context.Context, event.Incoming) error { nodeCalls++; return nil },
	}})

	require.NoError(t, processor.New(processor.RoleHub, reg).Process(ctx, incoming("x", "s", `{}`)))
	assert.Equal(t, 1, hubCalls)
	assert.Equal(t, 0, nodeCalls)

	p := processor.New(processor.RoleNode, reg)
	assert.Equal(t, processor.RoleNode, p.Role())
	require.NoError(t, p.Process(ctx, incoming("x", "s", `{}`)))
	assert.Equal(t, 1, hubCalls)
	assert.Equal(t, 1, nodeCalls)
}

func Test_Process_UnknownActionIsNoOp(t *testing.T) {
	p := processor.New(processor.RoleNode, catalog.NewRegistry())
	assert.NoError(t, p.Process(context.Background(), incoming("not_in_catalog", "s", `{"a":1}`)))
}

func Test_Process_HandlerSeesSuppressedContext(t *testing.T) {
	var suppressed bool
	reg := catalog.NewRegistry()
	reg.Register(catalog.Action{Name: "x", Handler: catalog.Funcs{
		Node: func(ctx context.Context, _ event.Incoming) error {
			suppressed = event.EmissionSuppressed(ctx)
			return nil
		},
	}})
	require.NoError(t, processor.New(processor.RoleNode, reg).Process(context.Background(), incoming("x", "s", `{}`)))
	assert.True(t, suppressed)
}

func Test_Process_HandlerErrorIsWrapped(t *testing.T) {
	boom := errors.New("boom")
	reg := catalog.NewRegistry()
	reg.Register(catalog.Action{Name: "x", Handler: catalog.Funcs{
		Hub: func(context.Context, event.Incoming) error { return boom },
	}})
	err := processor.New(processor.RoleHub, reg).Process(context.Background(), incoming("x", "https://a", `{}`))
	assert.ErrorIs(t, err, boom)
}

func Test_UserUpdated_NotReemitted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.processor(processor.RoleNode)

	require.NoError(t, p.Process(ctx, incoming(catalog.UserUpdated, "https://hub", `{"email":"Ann@Example.com","name":"Ann"}`)))
	rec, err := f.mirror.Get(ctx, processor.KindUser, "", "ann@example.com")
	require.NoError(t, err)
	assert.JSONEq(t, `{"email":"Ann@Example.com","name":"Ann"}`, string(rec.Data))
	assert.Empty(t, f.notify.emitted)

	// A local change outside the processor does emit.
	h := processor.MirrorHandler{Store: f.mirror, Kind: processor.KindUser, KeyFields: []string{"email"}, Replace: true, Notify: f.notify, NotifyAs: catalog.UserUpdated}
	require.NoError(t, h.Apply(ctx, incoming(catalog.UserUpdated, "", `{"email":"ann@example.com","name":"Annie"}`)))
	assert.Equal(t, []string{catalog.UserUpdated}, f.notify.emitted)
}

func Test_ReaderRegistered_FindOrCreate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.processor(processor.RoleNode)

	require.NoError(t, p.Process(ctx, incoming(catalog.ReaderRegistered, "https://a", `{"email":"r@x.io","name":"first"}`)))
	require.NoError(t, p.Process(ctx, incoming(catalog.ReaderRegistered, "https://b", `{"email":"r@x.io","name":"second"}`)))

	rec, err := f.mirror.Get(ctx, processor.KindUser, "", "r@x.io")
	require.NoError(t, err)
	assert.JSONEq(t, `{"email":"r@x.io","name":"first"}`, string(rec.Data))
}

func Test_UserDeleted_RemovesOnNodeOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	node := f.processor(processor.RoleNode)
	hub := f.processor(processor.RoleHub)

	require.NoError(t, node.Process(ctx, incoming(catalog.UserUpdated, "https://hub", `{"email":"d@x.io"}`)))
	require.NoError(t, hub.Process(ctx, incoming(catalog.UserDeleted, "https://a", `{"email":"d@x.io"}`)))
	_, err := f.mirror.Get(ctx, processor.KindUser, "", "d@x.io")
	require.NoError(t, err)

	require.NoError(t, node.Process(ctx, incoming(catalog.UserDeleted, "https://a", `{"email":"d@x.io"}`)))
	_, err = f.mirror.Get(ctx, processor.KindUser, "", "d@x.io")
	assert.ErrorIs(t, err, processor.ErrNotFound)
}

func Test_MembershipRemovedWhenInactive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.processor(processor.RoleNode)

	require.NoError(t, p.Process(ctx, incoming(catalog.WooMembershipUpdated, "https://hub",
		`{"email":"m@x.io","membership_id":7,"new_status":"active"}`)))
	_, err := f.mirror.Get(ctx, processor.KindMembership, "", "m@x.io:7")
	require.NoError(t, err)

	require.NoError(t, p.Process(ctx, incoming(catalog.WooMembershipUpdated, "https://hub",
		`{"email":"m@x.io","membership_id":7,"new_status":"cancelled"}`)))
	_, err = f.mirror.Get(ctx, processor.KindMembership, "", "m@x.io:7")
	assert.ErrorIs(t, err, processor.ErrNotFound)
}

func Test_OrdersArePerSite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.processor(processor.RoleHub)

	require.NoError(t, p.Process(ctx, incoming(catalog.NodeOrderChanged, "https://a", `{"id":10,"status":"completed"}`)))
	require.NoError(t, p.Process(ctx, incoming(catalog.NodeOrderChanged, "https://b", `{"id":10,"status":"pending"}`)))
	require.NoError(t, p.Process(ctx, incoming(catalog.NodeOrderChanged, "https://a", `{"id":10,"status":"refunded"}`)))

	list, err := f.mirror.List(ctx, processor.KindOrder)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "https://a", list[0].Origin)
	assert.JSONEq(t, `{"id":10,"status":"refunded"}`, string(list[0].Data))
	assert.Equal(t, "https://b", list[1].Origin)
}

func Test_Donors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.processor(processor.RoleHub)

	require.NoError(t, p.Process(ctx, incoming(catalog.DonationNew, "https://a", `{"email":"g@x.io","amount":10}`)))
	_, err := f.mirror.Get(ctx, processor.KindDonor, "https://a", "g@x.io")
	require.NoError(t, err)

	require.NoError(t, p.Process(ctx, incoming(catalog.DonationSubscriptionCancelled, "https://a", `{"email":"g@x.io"}`)))
	_, err = f.mirror.Get(ctx, processor.KindDonor, "https://a", "g@x.io")
	assert.ErrorIs(t, err, processor.ErrNotFound)
}

func Test_NodesSynced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.processor(processor.RoleNode)

	require.NoError(t, p.Process(ctx, incoming(catalog.NodesSynced, "https://hub",
		`{"nodes_data":[{"id":1,"url":"https://a"},{"id":2,"url":"https://b"}]}`)))
	peers, err := f.state.NetworkNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []nodestate.PeerNode{{ID: 1, URL: "https://a"}, {ID: 2, URL: "https://b"}}, peers)

	assert.Error(t, p.Process(ctx, incoming(catalog.NodesSynced, "https://hub", `{"other":1}`)))
}

func Test_MissingKeyFails(t *testing.T) {
	f := newFixture(t)
	err := f.processor(processor.RoleNode).Process(context.Background(), incoming(catalog.UserUpdated, "https://hub", `{"name":"no email"}`))
	assert.ErrorIs(t, err, processor.ErrMissingKey)
}

func Test_Recorder_MirrorsOrdersAndEmits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := processor.NewRecorder(f.mirror, f.notify)

	require.NoError(t, r.Record(ctx, catalog.NodeOrderChanged, json.RawMessage(`{"id":42,"status":"processing","email":"o@x.io"}`)))
	order, err := f.mirror.Order(ctx, "42")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":42,"status":"processing","email":"o@x.io"}`, string(order))

	require.NoError(t, r.Record(ctx, catalog.ReaderRegistered, json.RawMessage(`{"email":"new@x.io"}`)))
	assert.Equal(t, []string{catalog.NodeOrderChanged, catalog.ReaderRegistered}, f.notify.emitted)

	_, err = f.mirror.Order(ctx, "43")
	assert.ErrorIs(t, err, processor.ErrNotFound)
}

func Test_Recorder_SuppressedContextDoesNotEmit(t *testing.T) {
	f := newFixture(t)
	r := processor.NewRecorder(f.mirror, f.notify)

	ctx := event.WithoutEmission(context.Background())
	require.NoError(t, r.Record(ctx, catalog.UserUpdated, json.RawMessage(`{"email":"q@x.io"}`)))
	assert.Empty(t, f.notify.emitted)
}

func Test_Recorder_MissingKey(t *testing.T) {
	f := newFixture(t)
	err := processor.NewRecorder(f.mirror, f.notify).Record(context.Background(), catalog.NodeOrderChanged, json.RawMessage(`{"status":"x"}`))
	assert.ErrorIs(t, err, processor.ErrMissingKey)
}
