package grpcx

import (
	"context"

	"github.com/md-rashed-zaman/missionwindow/libs/httpx"
	"google.golang.org/grpc/metadata"
)

// RequestIDMetadataKey is httpx.RequestIDHeader in the lowercase form gRPC
// metadata uses, so an id crosses HTTP and gRPC hops unchanged.
const RequestIDMetadataKey = "x-request-id"

// RequestIDFromContext returns the request id of a gRPC call. HTTP handlers
// and gRPC interceptors share one context slot.
func RequestIDFromContext(ctx context.Context) string {
	return httpx.RequestIDFromContext(ctx)
}

// incomingRequestID adopts the caller's id from metadata when it is usable
// and mints one otherwise.
func incomingRequestID(ctx context.Context) (context.Context, string) {
	var id string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(RequestIDMetadataKey); len(vals) > 0 {
			id = vals[0]
		}
	}
	id = httpx.AcceptRequestID(id)
	return httpx.ContextWithRequestID(ctx, id), id
}
