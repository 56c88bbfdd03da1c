package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"schedulr/internal/docstore"
	"schedulr/internal/identity"
	"schedulr/internal/logging"
	"schedulr/internal/model"
)

// serverTimestampKey marks a field the server fills with its write time.
const serverTimestampKey = "$serverTimestamp"

// Server serves a Store to authenticated callers. Every caller only ever sees
// and writes documents whose ownerId is its own uid.
type Server struct {
	store docstore.Store
	log   zerolog.Logger
}

func NewServer(st docstore.Store) *Server {
	return &Server{store: st, log: logging.For("docstore.rpc")}
}

func owner(ctx context.Context) (string, error) {
	id, ok := identity.FromContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "no identity")
	}
	return id.UID, nil
}

func owned(d docstore.Document, uid string) bool {
	return fmt.Sprint(d.Fields[model.FieldOwnerID]) == uid
}

// scope narrows f to uid. A filter on another field is kept and results are
// checked for ownership afterwards.
func scope(f docstore.Filter, uid string) (docstore.Filter, error) {
	switch {
	case f.IsZero():
		return docstore.Where(model.FieldOwnerID, uid), nil
	case f.Field == model.FieldOwnerID && fmt.Sprint(f.Value) != uid:
		return f, status.Error(codes.PermissionDenied, "filter on another owner")
	}
	return f, nil
}

func ownedOnly(docs []docstore.Document, uid string) []docstore.Document {
	out := make([]docstore.Document, 0, len(docs))
	for _, d := range docs {
		if owned(d, uid) {
			out = append(out, d)
		}
	}
	return out
}

// decodeBody turns wire sentinels back into docstore.ServerTimestamp.
func decodeBody(m map[string]any) map[string]any {
	for k, v := range m {
		if obj, ok := v.(map[string]any); ok && len(obj) == 1 && obj[serverTimestampKey] == true {
			m[k] = docstore.ServerTimestamp
		}
	}
	return m
}

func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, docstore.ErrInvalidCollection), errors.Is(err, docstore.ErrInvalidDocument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, identity.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func (s *Server) Create(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid, err := owner(ctx)
	if err != nil {
		return nil, err
	}
	body := decodeBody(object(in, fBody))
	if body == nil {
		body = map[string]any{}
	}
	if v, ok := body[model.FieldOwnerID]; ok && fmt.Sprint(v) != uid {
		return nil, status.Error(codes.PermissionDenied, "ownerId must be the caller")
	}
	body[model.FieldOwnerID] = uid

	col := str(in, fCollection)
	id, err := s.store.Create(ctx, col, body)
	if err != nil {
		s.log.Warn().Err(err).Str(logging.COLLECTION, col).Str(logging.UID, uid).Msg("create")
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{fID: id})
}

func (s *Server) Update(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	uid, err := owner(ctx)
	if err != nil {
		return nil, err
	}
	col, id := str(in, fCollection), str(in, fID)
	partial := decodeBody(object(in, fFields))
	if v, ok := partial[model.FieldOwnerID]; ok && fmt.Sprint(v) != uid {
		return nil, status.Error(codes.PermissionDenied, "ownerId cannot change")
	}

	cur, err := s.store.Get(ctx, col, id)
	if err != nil {
		return nil, toStatus(err)
	}
	if !owned(cur, uid) {
		return nil, toStatus(docstore.ErrNotFound)
	}
	if err := s.store.Update(ctx, col, id, partial); err != nil {
		s.log.Warn().Err(err).Str(logging.COLLECTION, col).Str(logging.ID, id).Msg("update")
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Get(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid, err := owner(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := s.store.Get(ctx, str(in, fCollection), str(in, fID))
	if err != nil {
		return nil, toStatus(err)
	}
	if !owned(doc, uid) {
		return nil, toStatus(docstore.ErrNotFound)
	}
	return newStruct(encodeDocument(doc))
}

func (s *Server) Query(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid, err := owner(ctx)
	if err != nil {
		return nil, err
	}
	filter, err := scope(decodeFilter(in), uid)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.Query(ctx, str(in, fCollection), filter)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{fDocuments: encodeDocuments(ownedOnly(docs, uid))})
}

// Watch streams full snapshots. A slow client only ever gets the latest one.
func (s *Server) Watch(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()
	uid, err := owner(ctx)
	if err != nil {
		return err
	}
	filter, err := scope(decodeFilter(in), uid)
	if err != nil {
		return err
	}
	col := str(in, fCollection)

	latest := make(chan *structpb.Struct, 1)
	push := func(m *structpb.Struct) {
		for {
			select {
			case latest <- m:
				return
			default:
			}
			select {
			case <-latest:
			default:
			}
		}
	}

	unsub, err := s.store.Subscribe(ctx, col, filter,
		func(snap docstore.Snapshot) {
			m, err := newStruct(map[string]any{
				fCollection: snap.Collection,
				fDocuments:  encodeDocuments(ownedOnly(snap.Documents, uid)),
				fReadAt:     snap.ReadAt.UTC().Format(time.RFC3339Nano),
			})
			if err != nil {
				s.log.Error().Err(err).Str(logging.COLLECTION, col).Msg("encode snapshot")
				return
			}
			push(m)
		},
		func(err error) {
			m, _ := newStruct(map[string]any{fCollection: col, fError: err.Error()})
			push(m)
		},
	)
	if err != nil {
		return toStatus(err)
	}
	defer unsub()
	s.log.Debug().Str(logging.COLLECTION, col).Str(logging.UID, uid).Msg("watch opened")

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-latest:
			if err := stream.Send(m); err != nil {
				return err
			}
		}
	}
}
