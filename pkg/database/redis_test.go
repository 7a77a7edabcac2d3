package database

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	client, err := NewRedisClient(context.Background(), RedisConfig{Host: mr.Host(), Port: port}, newDiscardLogger())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	mr.CheckGet(t, "k", "v")
}

func TestNewRedisClient_WrongPassword(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("secret")
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	_, err = NewRedisClient(context.Background(), RedisConfig{Host: mr.Host(), Port: port, Password: "nope"}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis at")
}

func TestRedisConfig_Addr(t *testing.T) {
	assert.Equal(t, "cache:6380", RedisConfig{Host: "cache", Port: 6380}.Addr())
	assert.Equal(t, "[::1]:6379", RedisConfig{Host: "::1", Port: 6379}.Addr())
}
