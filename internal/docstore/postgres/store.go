// Package postgres stores documents as jsonb rows and turns NOTIFY events into
// subscription snapshots.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"schedulr/internal/docstore"
	"schedulr/internal/logging"
	"schedulr/internal/metrics"
)

// Channel is the NOTIFY channel carrying the name of the changed collection.
const Channel = "documents"

type Store struct {
	pool *pgxpool.Pool
	hub  *docstore.Hub
	log  zerolog.Logger
	now  func() time.Time
}

func New(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	s := &Store{pool: pool, log: logging.For("docstore/postgres"), now: time.Now}
	s.hub = docstore.NewHub(s.Query, m)
	return s
}

func (s *Store) Subscribe(ctx context.Context, collection string, filter docstore.Filter, onSnapshot docstore.SnapshotFunc, onError docstore.ErrorFunc) (docstore.Unsubscribe, error) {
	return s.hub.Subscribe(ctx, collection, filter, onSnapshot, onError)
}

func (s *Store) Create(ctx context.Context, collection string, body map[string]any) (string, error) {
	if err := docstore.ValidCollection(collection); err != nil {
		return "", err
	}
	fields, err := docstore.Normalize(body, s.now())
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	id := uuid.NewString()
	_, err = tx.Exec(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1,$2,$3)`,
		collection, id, data,
	)
	if err != nil {
		return "", err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, Channel, collection); err != nil {
		return "", err
	}
	return id, tx.Commit(ctx)
}

func (s *Store) Update(ctx context.Context, collection, id string, partial map[string]any) error {
	if err := docstore.ValidCollection(collection); err != nil {
		return err
	}
	fields, err := docstore.Normalize(partial, s.now())
	if err != nil {
		return err
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// shallow merge, last write wins
	tag, err := tx.Exec(ctx,
		`UPDATE documents SET data = data || $3::jsonb, updated_at = NOW()
		 WHERE collection = $1 AND id = $2`,
		collection, id, data,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return docstore.ErrNotFound
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, Channel, collection); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	var (
		doc  docstore.Document
		data []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, data, created_at, updated_at FROM documents
		 WHERE collection = $1 AND id = $2`, collection, id,
	).Scan(&doc.ID, &data, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, err
	}
	if err := json.Unmarshal(data, &doc.Fields); err != nil {
		return docstore.Document{}, fmt.Errorf("%w: %v", docstore.ErrInvalidDocument, err)
	}
	return doc, nil
}

func (s *Store) Query(ctx context.Context, collection string, filter docstore.Filter) ([]docstore.Document, error) {
	if err := docstore.ValidCollection(collection); err != nil {
		return nil, err
	}
	q := `SELECT id, data, created_at, updated_at FROM documents WHERE collection = $1`
	args := []any{collection}
	if !filter.IsZero() {
		q += ` AND data->>$2 = $3`
		args = append(args, filter.Field, fmt.Sprint(filter.Value))
	}
	q += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []docstore.Document
	for rows.Next() {
		var (
			doc  docstore.Document
			data []byte
		)
		if err := rows.Scan(&doc.ID, &data, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &doc.Fields); err != nil {
			s.log.Warn().Str(logging.COLLECTION, collection).Str(logging.ID, doc.ID).Err(err).Msg("skip undecodable document")
			continue
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// Listen holds a dedicated connection on the NOTIFY channel and wakes the
// matching subscriptions. It reconnects after failures until ctx is done.
func (s *Store) Listen(ctx context.Context) error {
	backoff := 500 * time.Millisecond
	for {
		err := s.listenOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn().Err(err).Dur("retry_in", backoff).Msg("listen connection lost")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 10*time.Second {
			backoff *= 2
		}
	}
}

func (s *Store) listenOnce(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return err
	}
	s.log.Info().Str("channel", Channel).Msg("listening")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		s.hub.Notify(n.Payload)
	}
}

// Close stops all subscriptions. The pool is owned by the caller.
func (s *Store) Close() { s.hub.Close() }
