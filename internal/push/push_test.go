package push_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/pubnet/internal/catalog"
	"github.com/gyaneshwarpardhi/pubnet/internal/crypto"
	"github.com/gyaneshwarpardhi/pubnet/internal/event"
	"github.com/gyaneshwarpardhi/pubnet/internal/eventlog"
	"github.com/gyaneshwarpardhi/pubnet/internal/nodes"
	"github.com/gyaneshwarpardhi/pubnet/internal/nodestate"
	"github.com/gyaneshwarpardhi/pubnet/internal/push"
	"github.com/gyaneshwarpardhi/pubnet/internal/storage"
)

type applied struct {
	mu     sync.Mutex
	events []event.Incoming
	err    error
}

func (a *applied) Process(_ context.Context, ev event.Incoming) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return a.err
}

type hubFixture struct {
	dir   *nodes.Directory
	log   *eventlog.Store
	apply *applied
	recv  *push.Receiver
	node  nodes.Node
}

func newHub(t *testing.T) hubFixture {
	t.Helper()
	ctx := context.Background()
	db, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dir := nodes.NewDirectory(db)
	require.NoError(t, dir.Migrate(ctx))
	log, err := eventlog.NewFromSQLX(db)
	require.NoError(t, err)
	require.NoError(t, log.Migrate(ctx))
	n, err := dir.Create(ctx, "https://node-a.example")
	require.NoError(t, err)

	a := &applied{}
	return hubFixture{
		dir:   dir,
		log:   log,
		apply: a,
		recv:  push.NewReceiver(dir, catalog.Build(nil), log, a),
		node:  n,
	}
}

func sealed(t *testing.T, site, action, secret, payload string) event.PushRequest {
	t.Helper()
	nonce, err := crypto.GenerateNonce()
	require.NoError(t, err)
	ct, err := crypto.Encrypt([]byte(payload), secret, nonce)
	require.NoError(t, err)
	return event.PushRequest{Site: site, Action: action, Data: ct, Timestamp: 1700000000, Nonce: nonce}
}

func (h hubFixture) logged(t *testing.T) []event.Logged {
	t.Helper()
	got, err := h.log.Query(context.Background(), eventlog.Filter{}, eventlog.Page{})
	require.NoError(t, err)
	return got
}

func Test_Receive_Success(t *testing.T) {
	h := newHub(t)
	req := sealed(t, "https://node-a.example", catalog.ReaderRegistered, h.node.Secret, `{"email":"a@x.io"}`)

	id, err := h.recv.Receive(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	logs := h.logged(t)
	require.Len(t, logs, 1)
	assert.Equal(t, h.node.ID, logs[0].NodeID)
	assert.Equal(t, "a@x.io", logs[0].Email)
	assert.Equal(t, int64(1700000000), logs[0].Timestamp)

	require.Len(t, h.apply.events, 1)
	assert.Equal(t, id, h.apply.events[0].ID)
	assert.Equal(t, "https://node-a.example", h.apply.events[0].Site)
}

func Test_Receive_Rejections(t *testing.T) {
	h := newHub(t)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	tampered := sealed(t, "https://node-a.example", catalog.ReaderRegistered, h.node.Secret, `{"email":"a@x.io"}`)
	raw := []byte(tampered.Data)
	raw[3] ^= 1
	tampered.Data = string(raw)

	missingTS := sealed(t, "https://node-a.example", catalog.ReaderRegistered, h.node.Secret, `{"a":1}`)
	missingTS.Timestamp = 0

	tests := []struct {
		name string
		req  event.PushRequest
		want error
	}{
		{"missing nonce", event.PushRequest{Site: "https://node-a.example", Action: catalog.ReaderRegistered, Data: "x", Timestamp: 1}, event.ErrMalformed},
		{"missing timestamp", missingTS, event.ErrMalformed},
		{"unknown action", sealed(t, "https://node-a.example", "made_up", h.node.Secret, `{"a":1}`), event.ErrUnknownAction},
		{"unknown site", sealed(t, "https://stranger.example", catalog.ReaderRegistered, h.node.Secret, `{"a":1}`), event.ErrUnknownSite},
		{"wrong key", sealed(t, "https://node-a.example", catalog.ReaderRegistered, other, `{"a":1}`), event.ErrInvalidSignature},
		{"tampered", tampered, event.ErrInvalidSignature},
		{"empty object", sealed(t, "https://node-a.example", catalog.ReaderRegistered, h.node.Secret, `{}`), event.ErrInvalidData},
		{"not json", sealed(t, "https://node-a.example", catalog.ReaderRegistered, h.node.Secret, `hello`), event.ErrInvalidData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := h.recv.Receive(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, id)
		})
	}
	assert.Empty(t, h.logged(t), "no rejected event may be persisted")
	assert.Empty(t, h.apply.events)
}

func Test_Receive_ApplyFailureKeepsLoggedEvent(t *testing.T) {
	h := newHub(t)
	h.apply.err = errors.New("mirror down")
	req := sealed(t, "https://node-a.example", catalog.DonationNew, h.node.Secret, `{"email":"d@x.io"}`)

	id, err := h.recv.Receive(context.Background(), req)
	assert.ErrorIs(t, err, push.ErrApplyFailed)
	assert.Equal(t, int64(1), id)
	assert.Len(t, h.logged(t), 1)
}

type staticLink nodestate.HubLink

func (s staticLink) HubLink(context.Context) (nodestate.HubLink, error) {
	return nodestate.HubLink(s), nil
}

func Test_Sender_RoundTripThroughReceiver(t *testing.T) {
	h := newHub(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/webhook", r.URL.Path)
		var req event.PushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if _, err := h.recv.Receive(r.Context(), req); err != nil {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(err.Error()))
			return
		}
		_, _ = w.Write([]byte(`"success"`))
	}))
	defer srv.Close()

	good := push.NewSender(srv.Client(), "https://node-a.example", staticLink{HubURL: srv.URL, Secret: h.node.Secret})
	require.NoError(t, good.Send(context.Background(), catalog.UserUpdated, json.RawMessage(`{"email":"u@x.io"}`)))
	assert.Len(t, h.logged(t), 1)

	other, _ := crypto.GenerateKey()
	bad := push.NewSender(srv.Client(), "https://node-a.example", staticLink{HubURL: srv.URL, Secret: other})
	err := bad.Send(context.Background(), catalog.UserUpdated, json.RawMessage(`{"email":"u@x.io"}`))
	var se *push.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Status)
	assert.False(t, se.Retryable())
	assert.ErrorIs(t, err, push.ErrRejected)
	assert.Len(t, h.logged(t), 1)
}

type flakyTransport struct {
	calls    atomic.Int32
	failures int32
	err      error
	done     chan struct{}
}

func (f *flakyTransport) Send(context.Context, string, json.RawMessage) error {
	n := f.calls.Add(1)
	if n <= f.failures {
		return f.err
	}
	close(f.done)
	return nil
}

func Test_Dispatcher_RetriesTransientFailures(t *testing.T) {
	ft := &flakyTransport{failures: 2, err: &push.StatusError{Status: 503}, done: make(chan struct{})}
	d := push.NewDispatcher(context.Background(), ft, push.Options{Workers: 1, QueueDepth: 4, MaxAttempts: 5, RetryDelay: time.Millisecond})
	defer d.Shutdown()

	require.NoError(t, d.Emit(context.Background(), catalog.UserUpdated, map[string]string{"email": "a@x.io"}))
	select {
	case <-ft.done:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
	assert.Equal(t, int32(3), ft.calls.Load())
}

func Test_Dispatcher_StopsOnPermanentRejection(t *testing.T) {
	ft := &flakyTransport{failures: 100, err: &push.StatusError{Status: 403}, done: make(chan struct{})}
	d := push.NewDispatcher(context.Background(), ft, push.Options{Workers: 1, QueueDepth: 4, MaxAttempts: 5, RetryDelay: time.Millisecond})

	require.NoError(t, d.Emit(context.Background(), catalog.UserUpdated, map[string]string{"email": "a@x.io"}))
	d.Shutdown()
	assert.Equal(t, int32(1), ft.calls.Load())
	assert.ErrorIs(t, d.Emit(context.Background(), catalog.UserUpdated, map[string]string{}), push.ErrClosed)
}

func Test_Dispatcher_SuppressedContextDoesNotEmit(t *testing.T) {
	ft := &flakyTransport{done: make(chan struct{})}
	d := push.NewDispatcher(context.Background(), ft, push.Options{Workers: 1, QueueDepth: 1, MaxAttempts: 1})
	require.NoError(t, d.Emit(event.WithoutEmission(context.Background()), catalog.UserUpdated, map[string]string{}))
	d.Shutdown()
	assert.Zero(t, ft.calls.Load())
}

type blockingTransport struct{ release chan struct{} }

func (b *blockingTransport) Send(context.Context, string, json.RawMessage) error {
	<-b.release
	return nil
}

func Test_Dispatcher_QueueFull(t *testing.T) {
	bt := &blockingTransport{release: make(chan struct{})}
	d := push.NewDispatcher(context.Background(), bt, push.Options{Workers: 1, QueueDepth: 1, MaxAttempts: 1})

	var full bool
	for i := 0; i < 10 && !full; i++ {
		if err := d.Emit(context.Background(), catalog.UserUpdated, map[string]int{"i": i}); errors.Is(err, push.ErrQueueFull) {
			full = true
		}
	}
	assert.True(t, full)
	close(bt.release)
	d.Shutdown()
}
