package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"schedulr/internal/auth"
	"schedulr/internal/docstore"
	"schedulr/internal/identity"
	"schedulr/internal/logging"
)

var ErrPermissionDenied = errors.New("permission denied")

// TokenFunc returns the bearer token for a call made with ctx.
type TokenFunc func(ctx context.Context) (string, error)

// SignedTokens mints a short-lived access token for the identity on ctx.
func SignedTokens(secret string, ttl time.Duration) TokenFunc {
	return func(ctx context.Context) (string, error) {
		id, ok := identity.FromContext(ctx)
		if !ok {
			return "", identity.ErrUnauthenticated
		}
		return auth.MakeToken(id, secret, ttl)
	}
}

// Client is a docstore.Store backed by a remote Server.
type Client struct {
	conn  grpc.ClientConnInterface
	cc    *grpc.ClientConn
	token TokenFunc
	log   zerolog.Logger
}

var _ docstore.Store = (*Client)(nil)

func NewClient(conn grpc.ClientConnInterface, token TokenFunc) *Client {
	return &Client{conn: conn, token: token, log: logging.For("docstore.rpc")}
}

// Dial connects to addr without transport security unless opts say otherwise.
func Dial(addr string, token TokenFunc, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	cc, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("docstore dial: %w", err)
	}
	c := NewClient(cc, token)
	c.cc = cc
	return c, nil
}

func (c *Client) Close() error {
	if c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) outgoing(ctx context.Context) (context.Context, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok), nil
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return docstore.ErrNotFound
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", docstore.ErrInvalidDocument, st.Message())
	case codes.Unauthenticated:
		return fmt.Errorf("%w: %s", identity.ErrUnauthenticated, st.Message())
	case codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrPermissionDenied, st.Message())
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}
	return err
}

// encodeBody replaces ServerTimestamp sentinels and coerces values to JSON types.
func encodeBody(body map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(body))
	for k, v := range body {
		if v == any(docstore.ServerTimestamp) {
			out[k] = map[string]any{serverTimestampKey: true}
			continue
		}
		out[k] = v
	}
	return docstore.Normalize(out, time.Time{})
}

func (c *Client) invoke(ctx context.Context, method string, req map[string]any, resp any) error {
	ctx, err := c.outgoing(ctx)
	if err != nil {
		return err
	}
	in, err := newStruct(req)
	if err != nil {
		return err
	}
	if err := c.conn.Invoke(ctx, method, in, resp); err != nil {
		return fromStatus(err)
	}
	return nil
}

func (c *Client) Create(ctx context.Context, collection string, body map[string]any) (string, error) {
	if err := docstore.ValidCollection(collection); err != nil {
		return "", err
	}
	b, err := encodeBody(body)
	if err != nil {
		return "", err
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, CreateMethod, map[string]any{fCollection: collection, fBody: b}, out); err != nil {
		return "", err
	}
	return str(out, fID), nil
}

func (c *Client) Update(ctx context.Context, collection, id string, partial map[string]any) error {
	if err := docstore.ValidCollection(collection); err != nil {
		return err
	}
	p, err := encodeBody(partial)
	if err != nil {
		return err
	}
	req := map[string]any{fCollection: collection, fID: id, fFields: p}
	return c.invoke(ctx, UpdateMethod, req, new(emptypb.Empty))
}

func (c *Client) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, GetMethod, map[string]any{fCollection: collection, fID: id}, out); err != nil {
		return docstore.Document{}, err
	}
	return decodeDocument(out.AsMap()), nil
}

func (c *Client) Query(ctx context.Context, collection string, filter docstore.Filter) ([]docstore.Document, error) {
	if err := docstore.ValidCollection(collection); err != nil {
		return nil, err
	}
	req := map[string]any{fCollection: collection}
	if f := encodeFilter(filter); f != nil {
		req[fFilter] = f
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, QueryMethod, req, out); err != nil {
		return nil, err
	}
	return decodeDocuments(out), nil
}

// Subscribe opens a Watch stream and reopens it with backoff when it breaks.
// Stream errors are reported through onError; delivery stops at unsubscribe.
func (c *Client) Subscribe(ctx context.Context, collection string, filter docstore.Filter, onSnapshot docstore.SnapshotFunc, onError docstore.ErrorFunc) (docstore.Unsubscribe, error) {
	if err := docstore.ValidCollection(collection); err != nil {
		return nil, err
	}
	if onSnapshot == nil {
		return nil, errors.New("docstore: onSnapshot is required")
	}
	if onError == nil {
		onError = func(error) {}
	}
	req := map[string]any{fCollection: collection}
	if f := encodeFilter(filter); f != nil {
		req[fFilter] = f
	}
	in, err := newStruct(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	stream, err := c.open(ctx, in)
	if err != nil {
		cancel()
		return nil, err
	}

	var stopped atomic.Bool
	go func() {
		backoff := 500 * time.Millisecond
		for {
			delivered, err := c.receive(stream, &stopped, collection, onSnapshot, onError)
			if stopped.Load() || ctx.Err() != nil {
				return
			}
			onError(err)
			c.log.Warn().Err(err).Str(logging.COLLECTION, collection).Dur("retry", backoff).Msg("watch broken")
			if delivered {
				backoff = 500 * time.Millisecond
			}
			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				backoff = min(backoff*2, 10*time.Second)
				if stream, err = c.open(ctx, in); err == nil {
					break
				}
				if ctx.Err() != nil {
					return
				}
				onError(err)
			}
		}
	}()

	return func() {
		stopped.Store(true)
		cancel()
	}, nil
}

type watchStream = grpc.ServerStreamingClient[structpb.Struct]

func (c *Client) open(ctx context.Context, in *structpb.Struct) (watchStream, error) {
	octx, err := c.outgoing(ctx)
	if err != nil {
		return nil, err
	}
	cs, err := c.conn.NewStream(octx, &ServiceDesc.Streams[0], WatchMethod)
	if err != nil {
		return nil, fromStatus(err)
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: cs}
	if err := x.SendMsg(in); err != nil {
		return nil, fromStatus(err)
	}
	if err := x.CloseSend(); err != nil {
		return nil, fromStatus(err)
	}
	return x, nil
}

// receive delivers messages until the stream ends and reports whether any
// snapshot got through.
func (c *Client) receive(stream watchStream, stopped *atomic.Bool, collection string, onSnapshot docstore.SnapshotFunc, onError docstore.ErrorFunc) (bool, error) {
	delivered := false
	for {
		m, err := stream.Recv()
		if err != nil {
			return delivered, fromStatus(err)
		}
		if stopped.Load() {
			return delivered, nil
		}
		if msg := str(m, fError); msg != "" {
			onError(errors.New(msg))
			continue
		}
		delivered = true
		onSnapshot(docstore.Snapshot{
			Collection: collection,
			Documents:  decodeDocuments(m),
			ReadAt:     parseTime(m.GetFields()[fReadAt].GetStringValue()),
		})
	}
}
