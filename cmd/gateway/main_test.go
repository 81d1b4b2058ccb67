package main

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/dskow/api-gateway/internal/cache"
	"github.com/dskow/api-gateway/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestOpenCache_NoAddressUsesMemory(t *testing.T) {
	c := openCache(config.CacheConfig{}, slog.Default())
	defer c.Close()

	assert.IsType(t, &cache.Memory{}, c)
}

func TestOpenCache_UnreachableRedisFallsBack(t *testing.T) {
	var logs bytes.Buffer
	c := openCache(config.CacheConfig{RedisAddr: "127.0.0.1:1"}, slog.New(slog.NewJSONHandler(&logs, nil)))
	defer c.Close()

	assert.IsType(t, &cache.Memory{}, c)
	assert.Contains(t, logs.String(), "response cache unreachable")
}
