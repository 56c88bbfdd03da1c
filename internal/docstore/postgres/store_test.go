package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedulr/internal/docstore"
)

func setup(t *testing.T) *Store {
	t.Helper()
	_ = godotenv.Load("../../../.env")
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(pool.Close)

	migration, err := os.ReadFile("../../../db/migrations/001_init.sql")
	require.NoError(t, err)
	_, err = pool.Exec(context.Background(), string(migration))
	require.NoError(t, err)

	st := New(pool, nil)
	t.Cleanup(st.Close)
	return st
}

func TestCreateQueryUpdate(t *testing.T) {
	st := setup(t)
	ctx := context.Background()
	owner := uuid.NewString()

	id, err := st.Create(ctx, "services", map[string]any{
		"ownerId":      owner,
		"name":         "Physiotherapy",
		"durationMins": 30,
		"createdAt":    docstore.ServerTimestamp,
	})
	require.NoError(t, err)

	docs, err := st.Query(ctx, "services", docstore.Where("ownerId", owner))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, id, docs[0].ID)
	assert.Equal(t, float64(30), docs[0].Fields["durationMins"])

	require.NoError(t, st.Update(ctx, "services", id, map[string]any{"name": "Physio"}))
	doc, err := st.Get(ctx, "services", id)
	require.NoError(t, err)
	assert.Equal(t, "Physio", doc.Fields["name"])
	assert.Equal(t, owner, doc.Fields["ownerId"])

	assert.ErrorIs(t, st.Update(ctx, "services", uuid.NewString(), map[string]any{"x": 1}), docstore.ErrNotFound)
}

func TestListenWakesSubscriptions(t *testing.T) {
	st := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go st.Listen(ctx)

	owner := uuid.NewString()
	got := make(chan int, 16)
	unsub, err := st.Subscribe(ctx, "appointments", docstore.Where("ownerId", owner), func(s docstore.Snapshot) {
		got <- len(s.Documents)
	}, nil)
	require.NoError(t, err)
	defer unsub()

	require.Equal(t, 0, <-got)

	// give LISTEN a moment to register
	time.Sleep(200 * time.Millisecond)
	_, err = st.Create(ctx, "appointments", map[string]any{"ownerId": owner, "start": "2025-03-26T08:00:00Z"})
	require.NoError(t, err)

	select {
	case n := <-got:
		assert.Equal(t, 1, n)
	case <-time.After(3 * time.Second):
		t.Fatal("no snapshot after insert")
	}
}
