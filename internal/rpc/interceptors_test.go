package rpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestCountsAsFailure(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{status.Error(codes.Canceled, "context canceled"), false},
		{fmt.Errorf("wrapped: %w", context.Canceled), false},
		{status.Error(codes.NotFound, "x"), false},
		{status.Error(codes.InvalidArgument, "x"), false},
		{status.Error(codes.PermissionDenied, "x"), false},
		{status.Error(codes.Unavailable, "x"), true},
		{status.Error(codes.DeadlineExceeded, "x"), true},
		{status.Error(codes.Internal, "x"), true},
		{status.Error(codes.ResourceExhausted, "x"), true},
		{errors.New("plain"), true},
		{fmt.Errorf("wrapped: %w", status.Error(codes.Unavailable, "x")), true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, countsAsFailure(tt.err), "%v", tt.err)
	}
}

func TestJSONCodec(t *testing.T) {
	c := jsonCodec{}
	assert.Equal(t, "json", c.Name())

	b, err := c.Marshal(StatusResponse{Success: true, Message: "ok"})
	assert.NoError(t, err)

	var out StatusResponse
	assert.NoError(t, c.Unmarshal(b, &out))
	assert.True(t, out.Success)

	assert.NoError(t, c.Unmarshal(nil, &out), "empty reply leaves the message untouched")
	assert.Error(t, c.Unmarshal([]byte("{"), &out))
}
