package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc"
)

var errPanicked = errors.New("call panicked")

// Call runs fn and records its latency and outcome against (target, method).
// The value and error returned by fn are passed back unchanged. A panicking
// fn is recorded as an error before the panic continues.
func Call[T any](m *Metrics, target, method string, fn func() (T, error)) (v T, err error) {
	start := time.Now()
	returned := false
	defer func() {
		outcome := err
		if !returned {
			outcome = errPanicked
		}
		m.observeCall(target, method, time.Since(start), outcome)
	}()
	v, err = fn()
	returned = true
	return v, err
}

// UnaryClientInterceptor records every unary call made over a connection to
// target. The method label is the short RPC name, e.g. "SignIn" for
// "/auth.AuthService/SignIn".
func (m *Metrics) UnaryClientInterceptor(target string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		m.observeCall(target, ShortMethod(method), time.Since(start), err)
		return err
	}
}

func (m *Metrics) observeCall(target, method string, d time.Duration, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.GRPCClientDuration.WithLabelValues(target, method, status).Observe(d.Seconds())
	m.GRPCClientRequests.WithLabelValues(target, method, status).Inc()
}

// ShortMethod strips the package and service from a full gRPC method name.
func ShortMethod(fullMethod string) string {
	if i := strings.LastIndexByte(fullMethod, '/'); i >= 0 {
		return fullMethod[i+1:]
	}
	return fullMethod
}
