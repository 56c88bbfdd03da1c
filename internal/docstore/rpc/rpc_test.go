package rpc_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"schedulr/internal/docstore"
	"schedulr/internal/docstore/rpc"
	"schedulr/internal/identity"
	"schedulr/internal/middleware"
	"schedulr/internal/model"
)

const secret = "rpc-test-secret"

func setup(t *testing.T) (*rpc.Client, *docstore.Memory) {
	t.Helper()
	mem := docstore.NewMemory(nil)
	t.Cleanup(mem.Close)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(middleware.Auth(secret)),
		grpc.ChainStreamInterceptor(middleware.StreamAuth(secret)),
	)
	rpc.Register(srv, rpc.NewServer(mem))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := rpc.Dial("passthrough:///bufnet", rpc.SignedTokens(secret, time.Minute),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mem
}

func as(uid string) context.Context {
	return identity.ContextWithIdentity(context.Background(), model.Identity{UID: uid})
}

func TestCreateGetQueryAreOwnerScoped(t *testing.T) {
	c, mem := setup(t)

	id, err := c.Create(as("u1"), model.CollectionServices, map[string]any{
		"name":      "Massage",
		"price":     70,
		"tags":      []any{"a", "b"},
		"createdAt": docstore.ServerTimestamp,
	})
	require.NoError(t, err)

	doc, err := c.Get(as("u1"), model.CollectionServices, id)
	require.NoError(t, err)
	assert.Equal(t, id, doc.ID)
	assert.Equal(t, "u1", doc.Fields["ownerId"])
	assert.Equal(t, float64(70), doc.Fields["price"])
	assert.IsType(t, "", doc.Fields["createdAt"])
	assert.False(t, doc.CreatedAt.IsZero())

	stored, err := mem.Get(context.Background(), model.CollectionServices, id)
	require.NoError(t, err)
	assert.Equal(t, doc.Fields, stored.Fields)

	_, err = c.Get(as("u2"), model.CollectionServices, id)
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	docs, err := c.Query(as("u2"), model.CollectionServices, docstore.Filter{})
	require.NoError(t, err)
	assert.Empty(t, docs)

	docs, err = c.Query(as("u1"), model.CollectionServices, docstore.Where("name", "Massage"))
	require.NoError(t, err)
	require.Len(t, docs, 1)

	_, err = c.Query(as("u1"), model.CollectionServices, docstore.Where("ownerId", "u2"))
	assert.ErrorIs(t, err, rpc.ErrPermissionDenied)
}

func TestCreateCannotWriteForAnotherOwner(t *testing.T) {
	c, _ := setup(t)
	_, err := c.Create(as("u1"), model.CollectionServices, map[string]any{"ownerId": "u2", "name": "x"})
	assert.ErrorIs(t, err, rpc.ErrPermissionDenied)
}

func TestUpdate(t *testing.T) {
	c, _ := setup(t)
	id, err := c.Create(as("u1"), model.CollectionAppointments, map[string]any{"customerName": "Ann"})
	require.NoError(t, err)

	require.NoError(t, c.Update(as("u1"), model.CollectionAppointments, id, map[string]any{"notes": "late", "updatedAt": docstore.ServerTimestamp}))
	doc, err := c.Get(as("u1"), model.CollectionAppointments, id)
	require.NoError(t, err)
	assert.Equal(t, "Ann", doc.Fields["customerName"])
	assert.Equal(t, "late", doc.Fields["notes"])

	err = c.Update(as("u2"), model.CollectionAppointments, id, map[string]any{"notes": "mine"})
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	err = c.Update(as("u1"), model.CollectionAppointments, "missing", map[string]any{"notes": "x"})
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	err = c.Update(as("u1"), model.CollectionAppointments, id, map[string]any{"ownerId": "u2"})
	assert.ErrorIs(t, err, rpc.ErrPermissionDenied)
}

func TestCallsNeedAnIdentity(t *testing.T) {
	c, _ := setup(t)
	_, err := c.Create(context.Background(), model.CollectionServices, map[string]any{"name": "x"})
	assert.ErrorIs(t, err, identity.ErrUnauthenticated)
}

func TestBadTokenIsUnauthenticated(t *testing.T) {
	mem := docstore.NewMemory(nil)
	defer mem.Close()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(middleware.Auth(secret)))
	rpc.Register(srv, rpc.NewServer(mem))
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	c, err := rpc.Dial("passthrough:///bufnet",
		func(context.Context) (string, error) { return "garbage", nil },
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
	)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Get(context.Background(), model.CollectionServices, "x")
	assert.ErrorIs(t, err, identity.ErrUnauthenticated)
}

type snapshots struct {
	mu   sync.Mutex
	sets [][]docstore.Document
}

func (s *snapshots) add(snap docstore.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets = append(s.sets, snap.Documents)
}

func (s *snapshots) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sets)
}

func (s *snapshots) last() []docstore.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets[len(s.sets)-1]
}

func TestSubscribeStreamsSnapshots(t *testing.T) {
	c, _ := setup(t)
	got := &snapshots{}

	unsub, err := c.Subscribe(as("u1"), model.CollectionAppointments, docstore.Where("ownerId", "u1"), got.add, func(err error) {
		t.Errorf("unexpected stream error: %v", err)
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return got.len() >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, got.last())

	_, err = c.Create(as("u2"), model.CollectionAppointments, map[string]any{"customerName": "Other"})
	require.NoError(t, err)
	_, err = c.Create(as("u1"), model.CollectionAppointments, map[string]any{"customerName": "Ann"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		docs := got.last()
		return len(docs) == 1 && docs[0].Fields["customerName"] == "Ann"
	}, 2*time.Second, 10*time.Millisecond)

	unsub()
	n := got.len()
	_, err = c.Create(as("u1"), model.CollectionAppointments, map[string]any{"customerName": "Bo"})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, n, got.len())
}

func TestSubscribeRejectsForeignOwnerFilter(t *testing.T) {
	c, _ := setup(t)
	errs := make(chan error, 4)
	unsub, err := c.Subscribe(as("u1"), model.CollectionAppointments, docstore.Where("ownerId", "u2"),
		func(docstore.Snapshot) { t.Error("snapshot for a foreign owner") },
		func(err error) { errs <- err },
	)
	require.NoError(t, err)
	defer unsub()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, rpc.ErrPermissionDenied)
	case <-time.After(2 * time.Second):
		t.Fatal("no error reported")
	}
}
