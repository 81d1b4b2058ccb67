package rpc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dskow/api-gateway/internal/circuitbreaker"
	"github.com/dskow/api-gateway/internal/metrics"
	"github.com/dskow/api-gateway/internal/middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// detachInterceptor runs the call on a context that the caller going away
// does not cancel. A deadline on the parent still applies.
func detachInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		detached := context.WithoutCancel(ctx)
		if dl, ok := ctx.Deadline(); ok {
			var cancel context.CancelFunc
			detached, cancel = context.WithDeadline(detached, dl)
			defer cancel()
		}
		return invoker(detached, method, req, reply, cc, opts...)
	}
}

// metadataInterceptor forwards the inbound request ID to the backend.
func metadataInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if id := middleware.GetRequestID(ctx); id != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, "x-request-id", id)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// timeoutInterceptor bounds calls that carry no deadline of their own.
func timeoutInterceptor(d time.Duration) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if _, ok := ctx.Deadline(); !ok && d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// breakerInterceptor rejects calls with Unavailable while b is open and
// feeds call outcomes back into it.
func breakerInterceptor(b *circuitbreaker.Breaker) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if !b.Allow() {
			return status.Errorf(codes.Unavailable, "%s is unavailable: %v", b.Target(), circuitbreaker.ErrOpen)
		}
		err := invoker(ctx, method, req, reply, cc, opts...)
		switch {
		case cancelled(err):
			b.Release()
		case countsAsFailure(err):
			b.RecordFailure()
		default:
			b.RecordSuccess()
		}
		return err
	}
}

// countsAsFailure reports whether err says the backend itself is unhealthy.
// Business errors such as NotFound or InvalidArgument do not count, and
// neither does a caller that gave up.
func countsAsFailure(err error) bool {
	if cancelled(err) {
		return false
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.Unknown, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// cancelled reports whether the call ended because its context was
// cancelled, as a gRPC status or a bare context error.
func cancelled(err error) bool {
	return status.Code(err) == codes.Canceled || errors.Is(err, context.Canceled)
}

// loggingInterceptor logs each call. Failures are logged at Warn.
func loggingInterceptor(target string, logger *slog.Logger) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		attrs := []any{
			"method", metrics.ShortMethod(method),
			"target", target,
			"code", status.Code(err).String(),
			"dur", time.Since(start),
			"request_id", middleware.GetRequestID(ctx),
		}
		if err != nil {
			logger.WarnContext(ctx, "grpc", append(attrs, "error", status.Convert(err).Message())...)
		} else {
			logger.DebugContext(ctx, "grpc", attrs...)
		}
		return err
	}
}
