// Package rpctest runs in-memory gRPC backends for tests. Handlers receive
// the JSON request and return any JSON-encodable reply or a status error.
package rpctest

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"

	"github.com/dskow/api-gateway/internal/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// Handler answers one unary method.
type Handler func(ctx context.Context, req json.RawMessage) (any, error)

// Call is one request the server received.
type Call struct {
	Method   string
	Request  json.RawMessage
	Metadata metadata.MD
}

// Server is a fake backend listening on an in-memory connection.
type Server struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []Call

	lis *bufconn.Listener
	srv *grpc.Server
}

// NewServer starts a server that is stopped when t finishes.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		handlers: make(map[string]Handler),
		lis:      bufconn.Listen(1 << 20),
	}
	s.srv = grpc.NewServer(grpc.UnknownServiceHandler(s.serve))
	go s.srv.Serve(s.lis) //nolint:errcheck
	t.Cleanup(s.srv.Stop)
	return s
}

// Handle registers h for the full method name, e.g.
// "/auth.v1.AuthService/SignIn".
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Reply registers a handler that always returns v.
func (s *Server) Reply(method string, v any) {
	s.Handle(method, func(context.Context, json.RawMessage) (any, error) { return v, nil })
}

// Fail registers a handler that always fails with code and msg.
func (s *Server) Fail(method string, code codes.Code, msg string) {
	s.Handle(method, func(context.Context, json.RawMessage) (any, error) { return nil, status.Error(code, msg) })
}

// Calls returns the received calls in arrival order.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Methods returns the full method names of the received calls in order.
func (s *Server) Methods() []string {
	calls := s.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Method
	}
	return out
}

// Dial connects to the server. Without options it uses plaintext and the
// JSON codec; pass rpc.DialOptions to exercise the production chain.
func (s *Server) Dial(t testing.TB, opts ...grpc.DialOption) *grpc.ClientConn {
	t.Helper()
	if len(opts) == 0 {
		opts = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpc.CodecName)),
		}
	}
	opts = append(opts, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return s.lis.DialContext(ctx)
	}))
	conn, err := grpc.NewClient("passthrough:///bufnet", opts...)
	if err != nil {
		t.Fatalf("dial fake backend: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (s *Server) serve(_ any, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)

	var req json.RawMessage
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}
	md, _ := metadata.FromIncomingContext(stream.Context())

	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: method, Request: req, Metadata: md})
	h, ok := s.handlers[method]
	s.mu.Unlock()

	if !ok {
		return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
	}
	resp, err := h(stream.Context(), req)
	if err != nil {
		return err
	}
	return stream.SendMsg(resp)
}
