// Package rpc exposes a docstore.Store over gRPC. Messages are carried as
// google.protobuf.Struct so documents keep their schema-less shape on the wire.
package rpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"schedulr/internal/docstore"
)

const ServiceName = "schedulr.docstore.v1.DocumentStore"

// full method names
const (
	CreateMethod = "/" + ServiceName + "/Create"
	UpdateMethod = "/" + ServiceName + "/Update"
	GetMethod    = "/" + ServiceName + "/Get"
	QueryMethod  = "/" + ServiceName + "/Query"
	WatchMethod  = "/" + ServiceName + "/Watch"
)

// DocumentStoreServer is implemented by Server.
type DocumentStoreServer interface {
	Create(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Update(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Query(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DocumentStoreServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Create", Handler: unary(CreateMethod, DocumentStoreServer.Create)},
		{MethodName: "Update", Handler: unary(UpdateMethod, DocumentStoreServer.Update)},
		{MethodName: "Get", Handler: unary(GetMethod, DocumentStoreServer.Get)},
		{MethodName: "Query", Handler: unary(QueryMethod, DocumentStoreServer.Query)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "schedulr/docstore/v1/docstore.proto",
}

func Register(s grpc.ServiceRegistrar, srv DocumentStoreServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unary[Res any](method string, call func(DocumentStoreServer, context.Context, *structpb.Struct) (Res, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DocumentStoreServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DocumentStoreServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(DocumentStoreServer).Watch(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// wire field names
const (
	fCollection = "collection"
	fID         = "id"
	fBody       = "body"
	fFilter     = "filter"
	fField      = "field"
	fValue      = "value"
	fFields     = "fields"
	fCreatedAt  = "createdAt"
	fUpdatedAt  = "updatedAt"
	fDocuments  = "documents"
	fReadAt     = "readAt"
	fError      = "error"
)

func str(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func object(s *structpb.Struct, key string) map[string]any {
	return s.GetFields()[key].GetStructValue().AsMap()
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", docstore.ErrInvalidDocument, err)
	}
	return s, nil
}

func encodeFilter(f docstore.Filter) map[string]any {
	if f.IsZero() {
		return nil
	}
	return map[string]any{fField: f.Field, fValue: f.Value}
}

func decodeFilter(s *structpb.Struct) docstore.Filter {
	f := s.GetFields()[fFilter].GetStructValue()
	if f == nil {
		return docstore.Filter{}
	}
	return docstore.Where(str(f, fField), f.GetFields()[fValue].AsInterface())
}

func encodeDocument(d docstore.Document) map[string]any {
	return map[string]any{
		fID:        d.ID,
		fFields:    d.Fields,
		fCreatedAt: d.CreatedAt.UTC().Format(time.RFC3339Nano),
		fUpdatedAt: d.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func decodeDocument(m map[string]any) docstore.Document {
	d := docstore.Document{Fields: map[string]any{}}
	d.ID, _ = m[fID].(string)
	if f, ok := m[fFields].(map[string]any); ok {
		d.Fields = f
	}
	d.CreatedAt = parseTime(m[fCreatedAt])
	d.UpdatedAt = parseTime(m[fUpdatedAt])
	return d
}

func encodeDocuments(docs []docstore.Document) []any {
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = encodeDocument(d)
	}
	return out
}

func decodeDocuments(s *structpb.Struct) []docstore.Document {
	list := s.GetFields()[fDocuments].GetListValue().AsSlice()
	out := make([]docstore.Document, 0, len(list))
	for _, v := range list {
		if m, ok := v.(map[string]any); ok {
			out = append(out, decodeDocument(m))
		}
	}
	return out
}

func parseTime(v any) time.Time {
	s, _ := v.(string)
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
